package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sessionforge/agentcore/internal/auth"
)

func newTestStore(t *testing.T) *auth.Store {
	t.Helper()
	store, err := auth.NewStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func chatgptAccount(id string) auth.StoredAccount {
	return auth.StoredAccount{ID: id, Mode: auth.ModeChatGPT, Tokens: &auth.TokenData{}}
}

func apiKeyAccount(id string) auth.StoredAccount {
	return auth.StoredAccount{ID: id, Mode: auth.ModeAPIKey, HasAPIKey: true}
}

func TestSwitchesToSecondChatGPTAccount(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.UpsertAccount(chatgptAccount("acct-a")))
	require.NoError(t, store.UpsertAccount(chatgptAccount("acct-b")))
	require.NoError(t, store.ActivateAccount("acct-a"))

	state := NewSwitchState()
	next, err := SwitchActiveAccountOnRateLimit(store, state, false, time.Now(), "acct-a", auth.ModeChatGPT, time.Time{})
	require.NoError(t, err)
	require.Equal(t, "acct-b", next)

	active, err := store.GetActiveAccountID()
	require.NoError(t, err)
	require.Equal(t, "acct-b", active)
}

func TestBlockedAccountSkippedUntilResetTimePasses(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.UpsertAccount(chatgptAccount("acct-a")))
	require.NoError(t, store.UpsertAccount(chatgptAccount("acct-b")))
	require.NoError(t, store.ActivateAccount("acct-a"))

	now := time.Now()
	resetAt := now.Add(time.Hour)
	require.NoError(t, store.SaveUsageSnapshot(auth.StoredRateLimitSnapshot{
		AccountID: "acct-b",
		Primary:   &auth.RateLimitWindow{UsedPercent: 100, ResetAt: &resetAt},
	}))
	state := NewSwitchState()

	next, err := SelectNextAccountID(store, state, false, now, "acct-a")
	require.NoError(t, err)
	require.Empty(t, next, "acct-b is still blocked, acct-a is current: nothing to switch to")

	next, err = SelectNextAccountID(store, state, false, resetAt.Add(time.Second), "acct-a")
	require.NoError(t, err)
	require.Equal(t, "acct-b", next, "acct-b should be selectable once its reset time has passed")
}

func TestAPIKeyFallbackRequiresAllChatGPTAccountsUnavailable(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.UpsertAccount(chatgptAccount("acct-a")))
	require.NoError(t, store.UpsertAccount(chatgptAccount("acct-b")))
	require.NoError(t, store.UpsertAccount(apiKeyAccount("acct-key")))
	require.NoError(t, store.ActivateAccount("acct-a"))

	now := time.Now()
	state := NewSwitchState()
	state.MarkLimited("acct-a", auth.ModeChatGPT, time.Time{})
	// acct-b has not been tried and is not blocked, so the fallback must not trigger.
	next, err := SelectNextAccountID(store, state, true, now, "acct-a")
	require.NoError(t, err)
	require.Equal(t, "acct-b", next)

	// Once acct-b is also tried and exhausted, the API key becomes eligible.
	state.MarkLimited("acct-b", auth.ModeChatGPT, time.Time{})
	next, err = SelectNextAccountID(store, state, true, now, "acct-a")
	require.NoError(t, err)
	require.Equal(t, "acct-key", next)

	// Without the fallback flag, no account is returned even though all ChatGPT
	// accounts are exhausted.
	next, err = SelectNextAccountID(store, state, false, now, "acct-a")
	require.NoError(t, err)
	require.Empty(t, next)
}

func TestCurrentAccountOverrideExcludesItFromSelection(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.UpsertAccount(chatgptAccount("acct-a")))
	require.NoError(t, store.ActivateAccount("acct-a"))

	state := NewSwitchState()
	// Only one account exists and it's the current one: nothing to switch to.
	next, err := SelectNextAccountID(store, state, false, time.Now(), "acct-a")
	require.NoError(t, err)
	require.Empty(t, next)
}

func TestEndToEndActivationPersistsAcrossLoads(t *testing.T) {
	dir := t.TempDir()
	store, err := auth.NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.UpsertAccount(chatgptAccount("acct-a")))
	require.NoError(t, store.UpsertAccount(chatgptAccount("acct-b")))
	require.NoError(t, store.ActivateAccount("acct-a"))

	state := NewSwitchState()
	next, err := SwitchActiveAccountOnRateLimit(store, state, false, time.Now(), "acct-a", auth.ModeChatGPT, time.Time{})
	require.NoError(t, err)
	require.Equal(t, "acct-b", next)

	reopened, err := auth.NewStore(dir)
	require.NoError(t, err)
	active, err := reopened.GetActiveAccountID()
	require.NoError(t, err)
	require.Equal(t, "acct-b", active)
}

func TestUsedPercentPrefersLowerUsageAccount(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.UpsertAccount(chatgptAccount("acct-hot")))
	require.NoError(t, store.UpsertAccount(chatgptAccount("acct-cold")))
	require.NoError(t, store.ActivateAccount("acct-current"))

	require.NoError(t, store.SaveUsageSnapshot(auth.StoredRateLimitSnapshot{
		AccountID: "acct-hot",
		Primary:   &auth.RateLimitWindow{UsedPercent: 92},
	}))
	require.NoError(t, store.SaveUsageSnapshot(auth.StoredRateLimitSnapshot{
		AccountID: "acct-cold",
		Primary:   &auth.RateLimitWindow{UsedPercent: 12},
	}))

	state := NewSwitchState()
	next, err := SelectNextAccountID(store, state, false, time.Now(), "acct-current")
	require.NoError(t, err)
	require.Equal(t, "acct-cold", next)
}

func TestSelectionDeterministicForIdenticalInputs(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.UpsertAccount(chatgptAccount("acct-a")))
	require.NoError(t, store.UpsertAccount(chatgptAccount("acct-b")))
	require.NoError(t, store.UpsertAccount(chatgptAccount("acct-c")))
	require.NoError(t, store.ActivateAccount("acct-a"))

	now := time.Now()
	state := NewSwitchState()
	state.MarkLimited("acct-a", auth.ModeChatGPT, time.Time{})

	first, err := SelectNextAccountID(store, state, false, now, "acct-a")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := SelectNextAccountID(store, state, false, now, "acct-a")
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
	// Tie on usage (no snapshots): the earlier id wins.
	require.Equal(t, "acct-b", first)
}

func TestSwitchStateExportImportRoundTrip(t *testing.T) {
	state := NewSwitchState()
	blockedUntil := time.Unix(1_900_000_000, 0)
	state.MarkLimited("acct-b", auth.ModeChatGPT, blockedUntil)
	state.MarkLimited("acct-k", auth.ModeAPIKey, time.Time{})

	data := state.Export()
	require.Equal(t, []string{"acct-b", "acct-k"}, data.TriedAccounts)
	require.Equal(t, []string{"acct-b"}, data.LimitedChatGPTAccounts)
	require.Equal(t, blockedUntil.Unix(), data.BlockedUntilUnix["acct-b"])

	restored := ImportSwitchState(data)
	require.Equal(t, data, restored.Export())
}
