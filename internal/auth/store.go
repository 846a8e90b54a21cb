package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"

	"github.com/sessionforge/agentcore/internal/netctx"
)

const (
	accountsFileName = "accounts.json"
	activeFileName   = "active_account.txt"
	usageDirName     = "account_usage"
	lockFileName     = ".accounts.lock"
)

// accountsFile is the on-disk shape of accounts.json.
type accountsFile struct {
	Accounts []StoredAccount `json:"accounts"`
}

// Store manages accounts.json, active_account.txt, and per-account usage
// snapshots rooted at a CODE_HOME directory. All mutating operations take an
// inter-process file lock so a concurrent `code login` style tool editing
// the same directory can't race a running session.
type Store struct {
	home string
}

// NewStore returns a Store rooted at home. home is created if absent.
func NewStore(home string) (*Store, error) {
	if err := os.MkdirAll(home, 0o700); err != nil {
		return nil, fmt.Errorf("auth: create code home: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(home, usageDirName), 0o700); err != nil {
		return nil, fmt.Errorf("auth: create usage dir: %w", err)
	}
	return &Store{home: home}, nil
}

func (s *Store) accountsPath() string { return filepath.Join(s.home, accountsFileName) }
func (s *Store) activePath() string   { return filepath.Join(s.home, activeFileName) }
func (s *Store) lockPath() string     { return filepath.Join(s.home, lockFileName) }

func (s *Store) withLock(fn func() error) error {
	fl := flock.New(s.lockPath())
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("auth: acquire lock: %w", err)
	}
	defer fl.Unlock()
	return fn()
}

// ListAccounts returns all accounts sorted deterministically by id, matching
// the ordering the rate-limit arbiter relies on for tie-breaking.
func (s *Store) ListAccounts() ([]StoredAccount, error) {
	data, err := os.ReadFile(s.accountsPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("auth: read accounts: %w", err)
	}
	var af accountsFile
	if len(data) > 0 {
		if err := json.Unmarshal(data, &af); err != nil {
			return nil, fmt.Errorf("auth: parse accounts: %w", err)
		}
	}
	sort.Slice(af.Accounts, func(i, j int) bool { return af.Accounts[i].ID < af.Accounts[j].ID })
	return af.Accounts, nil
}

// GetActiveAccountID returns the currently active account id, or "" if none
// is set.
func (s *Store) GetActiveAccountID() (string, error) {
	data, err := os.ReadFile(s.activePath())
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("auth: read active account: %w", err)
	}
	return trimTrailingNewline(data), nil
}

func trimTrailingNewline(b []byte) string {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return string(b)
}

// ActivateAccount marks accountID as the active account. It does not verify
// the account exists; callers that need that guarantee should consult
// ListAccounts first.
func (s *Store) ActivateAccount(accountID string) error {
	return s.withLock(func() error {
		return atomicWriteFile(s.activePath(), []byte(accountID+"\n"), 0o600)
	})
}

// UpsertAccount inserts or replaces the account with the same id.
func (s *Store) UpsertAccount(acct StoredAccount) error {
	return s.withLock(func() error {
		accounts, err := s.ListAccounts()
		if err != nil {
			return err
		}
		replaced := false
		for i := range accounts {
			if accounts[i].ID == acct.ID {
				accounts[i] = acct
				replaced = true
				break
			}
		}
		if !replaced {
			accounts = append(accounts, acct)
		}
		return s.writeAccountsLocked(accounts)
	})
}

// RemoveAccount deletes the account with the given id, if present.
func (s *Store) RemoveAccount(accountID string) error {
	return s.withLock(func() error {
		accounts, err := s.ListAccounts()
		if err != nil {
			return err
		}
		kept := accounts[:0]
		for _, a := range accounts {
			if a.ID != accountID {
				kept = append(kept, a)
			}
		}
		return s.writeAccountsLocked(kept)
	})
}

func (s *Store) writeAccountsLocked(accounts []StoredAccount) error {
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	data, err := json.MarshalIndent(accountsFile{Accounts: accounts}, "", "  ")
	if err != nil {
		return fmt.Errorf("auth: marshal accounts: %w", err)
	}
	return atomicWriteFile(s.accountsPath(), data, 0o600)
}

// atomicWriteFile writes to a temp file in the same directory and renames it
// into place, so a reader never observes a partially written file.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// usagePath returns the per-account rate-limit snapshot file path.
func (s *Store) usagePath(accountID string) string {
	return filepath.Join(s.home, usageDirName, netctx.SafePathComponent(accountID, "account")+".json")
}

// SaveUsageSnapshot persists the latest rate-limit reading for an account.
// A window's reset time never moves backwards: when the stored snapshot has
// a later reset for a window the new reading also carries, the later one is kept.
func (s *Store) SaveUsageSnapshot(snap StoredRateLimitSnapshot) error {
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = time.Now().UTC()
	}
	return s.withLock(func() error {
		var prev StoredRateLimitSnapshot
		if old, err := os.ReadFile(s.usagePath(snap.AccountID)); err == nil && json.Unmarshal(old, &prev) == nil {
			for _, w := range [][2]**RateLimitWindow{{&snap.Primary, &prev.Primary}, {&snap.Secondary, &prev.Secondary}} {
				cur, stored := *w[0], *w[1]
				if cur != nil && stored != nil && stored.ResetAt != nil && (cur.ResetAt == nil || stored.ResetAt.After(*cur.ResetAt)) {
					merged := *cur
					merged.ResetAt = stored.ResetAt
					*w[0] = &merged
				}
			}
		}
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return fmt.Errorf("auth: marshal usage snapshot: %w", err)
		}
		return atomicWriteFile(s.usagePath(snap.AccountID), data, 0o600)
	})
}

// ListUsageSnapshots reads every persisted snapshot under account_usage/.
// Missing or unparsable files are skipped rather than failing the whole
// read, mirroring the arbiter's "best effort" use of this data.
func (s *Store) ListUsageSnapshots() ([]StoredRateLimitSnapshot, error) {
	dir := filepath.Join(s.home, usageDirName)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("auth: list usage snapshots: %w", err)
	}
	var out []StoredRateLimitSnapshot
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var snap StoredRateLimitSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}
