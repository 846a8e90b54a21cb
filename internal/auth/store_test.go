package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpsertAndListAccountsSortedByID(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.UpsertAccount(StoredAccount{ID: "zeta", Mode: ModeAPIKey, HasAPIKey: true}))
	require.NoError(t, store.UpsertAccount(StoredAccount{ID: "alpha", Mode: ModeAPIKey, HasAPIKey: true}))

	accounts, err := store.ListAccounts()
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	require.Equal(t, "alpha", accounts[0].ID)
	require.Equal(t, "zeta", accounts[1].ID)
}

func TestActivateAccountPersists(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.ActivateAccount("acct-1"))

	reopened, err := NewStore(dir)
	require.NoError(t, err)
	active, err := reopened.GetActiveAccountID()
	require.NoError(t, err)
	require.Equal(t, "acct-1", active)
}

func TestRemoveAccount(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.UpsertAccount(StoredAccount{ID: "a", Mode: ModeAPIKey, HasAPIKey: true}))
	require.NoError(t, store.UpsertAccount(StoredAccount{ID: "b", Mode: ModeAPIKey, HasAPIKey: true}))
	require.NoError(t, store.RemoveAccount("a"))

	accounts, err := store.ListAccounts()
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, "b", accounts[0].ID)
}

func TestUsageSnapshotsRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.SaveUsageSnapshot(StoredRateLimitSnapshot{
		AccountID: "acct-1",
		Primary:   &RateLimitWindow{UsedPercent: 50},
	}))

	snapshots, err := store.ListUsageSnapshots()
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	require.Equal(t, "acct-1", snapshots[0].AccountID)
	used, ok := snapshots[0].UsedPercent()
	require.True(t, ok)
	require.Equal(t, 50.0, used)
}

func TestSecretStoreFileFallbackRoundTrip(t *testing.T) {
	dir := t.TempDir()
	secrets, err := NewSecretStore(dir)
	require.NoError(t, err)
	// Force the file-backed path regardless of whether a real keyring is
	// available in the test environment.
	secrets.keyringOK = false

	require.NoError(t, secrets.Put("acct-1", "sk-test-secret"))
	got, err := secrets.Get("acct-1")
	require.NoError(t, err)
	require.Equal(t, "sk-test-secret", got)

	require.NoError(t, secrets.Delete("acct-1"))
	got, err = secrets.Get("acct-1")
	require.NoError(t, err)
	require.Empty(t, got)
}
