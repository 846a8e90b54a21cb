// Package ratelimit implements the rate-limit arbiter: when the account
// currently in use hits a provider rate limit, it decides which account (if
// any) to switch to next.
//
// The selection rule is deterministic: among ChatGPT accounts not yet tried
// this round and not currently blocked by a known reset time, pick the one
// with the lowest recorded usage percentage, breaking ties by account id.
// Falling back to an API-key account requires every ChatGPT account to be
// either blocked or already tried-and-exhausted, and is further gated by an
// explicit allow flag so a session can opt out of silently spending
// API-key budget.
package ratelimit

import (
	"sort"
	"time"

	"github.com/sessionforge/agentcore/internal/auth"
)

// SwitchState accumulates what this process has learned about account
// availability across the lifetime of a session: which accounts it has
// already tried, which ChatGPT accounts reported themselves exhausted, and
// the latest known blocked-until time per account.
type SwitchState struct {
	triedAccounts          map[string]struct{}
	limitedChatGPTAccounts map[string]struct{}
	blockedUntil           map[string]time.Time
}

// NewSwitchState returns an empty SwitchState.
func NewSwitchState() *SwitchState {
	return &SwitchState{
		triedAccounts:          make(map[string]struct{}),
		limitedChatGPTAccounts: make(map[string]struct{}),
		blockedUntil:           make(map[string]time.Time),
	}
}

// MarkLimited records that accountID was just rejected with a rate limit.
// If blockedUntil is non-zero, it is merged into any previously recorded
// value for this account by keeping the later of the two.
func (s *SwitchState) MarkLimited(accountID string, mode auth.Mode, blockedUntil time.Time) {
	s.triedAccounts[accountID] = struct{}{}
	if mode == auth.ModeChatGPT {
		s.limitedChatGPTAccounts[accountID] = struct{}{}
	}
	if !blockedUntil.IsZero() {
		if existing, ok := s.blockedUntil[accountID]; !ok || blockedUntil.After(existing) {
			s.blockedUntil[accountID] = blockedUntil
		}
	}
}

// SwitchStateData is the serializable form of SwitchState, used to carry the
// session's arbitration state across process boundaries.
type SwitchStateData struct {
	TriedAccounts          []string         `json:"tried_accounts,omitempty"`
	LimitedChatGPTAccounts []string         `json:"limited_chatgpt_accounts,omitempty"`
	BlockedUntilUnix       map[string]int64 `json:"blocked_until_unix,omitempty"`
}

// Export snapshots the state in serializable form. Slices are sorted so the
// output is deterministic for identical state.
func (s *SwitchState) Export() SwitchStateData {
	data := SwitchStateData{}
	for id := range s.triedAccounts {
		data.TriedAccounts = append(data.TriedAccounts, id)
	}
	for id := range s.limitedChatGPTAccounts {
		data.LimitedChatGPTAccounts = append(data.LimitedChatGPTAccounts, id)
	}
	sort.Strings(data.TriedAccounts)
	sort.Strings(data.LimitedChatGPTAccounts)
	if len(s.blockedUntil) > 0 {
		data.BlockedUntilUnix = make(map[string]int64, len(s.blockedUntil))
		for id, t := range s.blockedUntil {
			data.BlockedUntilUnix[id] = t.Unix()
		}
	}
	return data
}

// ImportSwitchState rebuilds a SwitchState from its serialized form.
func ImportSwitchState(data SwitchStateData) *SwitchState {
	s := NewSwitchState()
	for _, id := range data.TriedAccounts {
		s.triedAccounts[id] = struct{}{}
	}
	for _, id := range data.LimitedChatGPTAccounts {
		s.limitedChatGPTAccounts[id] = struct{}{}
	}
	for id, unix := range data.BlockedUntilUnix {
		s.blockedUntil[id] = time.Unix(unix, 0)
	}
	return s
}

func (s *SwitchState) hasTried(accountID string) bool {
	_, ok := s.triedAccounts[accountID]
	return ok
}

func (s *SwitchState) blockedUntilFor(accountID string) (time.Time, bool) {
	t, ok := s.blockedUntil[accountID]
	return t, ok
}

func isBlocked(now, blockedUntil time.Time, has bool) bool {
	return has && blockedUntil.After(now)
}

func later(a, b time.Time, bOK bool) (time.Time, bool) {
	if !bOK {
		return a, !a.IsZero()
	}
	if a.IsZero() || b.After(a) {
		return b, true
	}
	return a, true
}

type candidateScore struct {
	usedPercent float64
}

// SelectNextAccountID picks the next account to switch to, or ("", nil) if
// no account is currently usable. home roots the account/usage snapshot
// files; currentAccountID, if non-empty, overrides whatever the store
// reports as currently active (the caller already knows which account just
// failed, even if activation hasn't been persisted yet).
func SelectNextAccountID(
	store *auth.Store,
	state *SwitchState,
	allowAPIKeyFallback bool,
	now time.Time,
	currentAccountID string,
) (string, error) {
	current := currentAccountID
	if current == "" {
		active, err := store.GetActiveAccountID()
		if err != nil {
			return "", err
		}
		current = active
	}

	accounts, err := store.ListAccounts()
	if err != nil {
		return "", err
	}
	snapshots, err := store.ListUsageSnapshots()
	if err != nil {
		return "", err
	}
	snapshotByID := make(map[string]auth.StoredRateLimitSnapshot, len(snapshots))
	for _, snap := range snapshots {
		snapshotByID[snap.AccountID] = snap
	}

	var chatgptAccounts, apiKeyAccounts []auth.StoredAccount
	for _, a := range accounts {
		if !a.HasCredentials() {
			continue
		}
		switch a.Mode {
		case auth.ModeChatGPT:
			chatgptAccounts = append(chatgptAccounts, a)
		case auth.ModeAPIKey:
			apiKeyAccounts = append(apiKeyAccounts, a)
		}
	}
	sort.Slice(chatgptAccounts, func(i, j int) bool { return chatgptAccounts[i].ID < chatgptAccounts[j].ID })
	sort.Slice(apiKeyAccounts, func(i, j int) bool { return apiKeyAccounts[i].ID < apiKeyAccounts[j].ID })

	effectiveBlockedUntil := func(id string) (time.Time, bool) {
		t, ok := state.blockedUntilFor(id)
		if snap, found := snapshotByID[id]; found {
			if reset := snap.ResetBlockedUntil(); reset != nil {
				t, ok = later(t, *reset, ok)
			}
		}
		return t, ok
	}

	var best *auth.StoredAccount
	var bestScore candidateScore
	for i := range chatgptAccounts {
		acct := chatgptAccounts[i]
		if current != "" && acct.ID == current {
			continue
		}
		if state.hasTried(acct.ID) {
			continue
		}
		blockedUntil, hasBlock := effectiveBlockedUntil(acct.ID)
		if isBlocked(now, blockedUntil, hasBlock) {
			continue
		}
		usedPercent := 0.0
		if snap, ok := snapshotByID[acct.ID]; ok {
			if up, ok := snap.UsedPercent(); ok {
				usedPercent = up
			}
		}
		score := candidateScore{usedPercent: usedPercent}
		if best == nil || score.usedPercent < bestScore.usedPercent {
			a := acct
			best = &a
			bestScore = score
		}
	}
	if best != nil {
		return best.ID, nil
	}

	if !allowAPIKeyFallback {
		return "", nil
	}

	allChatGPTUnavailable := true
	for _, acct := range chatgptAccounts {
		blockedUntil, hasBlock := effectiveBlockedUntil(acct.ID)
		blocked := isBlocked(now, blockedUntil, hasBlock)
		_, exhausted := state.limitedChatGPTAccounts[acct.ID]
		tried := state.hasTried(acct.ID)
		if !(blocked || (tried && exhausted)) {
			allChatGPTUnavailable = false
			break
		}
	}

	if len(chatgptAccounts) > 0 && !allChatGPTUnavailable {
		return "", nil
	}

	for _, acct := range apiKeyAccounts {
		if current != "" && acct.ID == current {
			continue
		}
		if state.hasTried(acct.ID) {
			continue
		}
		return acct.ID, nil
	}

	return "", nil
}

// SwitchActiveAccountOnRateLimit marks currentAccountID as limited, selects
// the next candidate, and — if one is found — activates it in store. It
// returns the newly active account id, or "" if no switch was made.
func SwitchActiveAccountOnRateLimit(
	store *auth.Store,
	state *SwitchState,
	allowAPIKeyFallback bool,
	now time.Time,
	currentAccountID string,
	currentMode auth.Mode,
	blockedUntil time.Time,
) (string, error) {
	state.MarkLimited(currentAccountID, currentMode, blockedUntil)

	next, err := SelectNextAccountID(store, state, allowAPIKeyFallback, now, currentAccountID)
	if err != nil {
		return "", err
	}
	if next == "" {
		return "", nil
	}
	if err := store.ActivateAccount(next); err != nil {
		return "", err
	}
	return next, nil
}
