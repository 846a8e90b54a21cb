// Package activities contains Temporal activity implementations.
//
// account.go bridges the workflow to the on-disk account store and the
// rate-limit arbiter. The workflow carries the session's switch state in its
// own serializable form; each call reconstructs the arbiter state, runs the
// selection, and hands the updated state back.
package activities

import (
	"context"
	"time"

	"github.com/sessionforge/agentcore/internal/auth"
	"github.com/sessionforge/agentcore/internal/ratelimit"
)

// AccountActivities contains account-store and rate-limit-arbiter activities.
type AccountActivities struct{}

// NewAccountActivities creates a new AccountActivities instance.
func NewAccountActivities() *AccountActivities {
	return &AccountActivities{}
}

// SwitchAccountInput carries the session's arbitration state to the arbiter.
type SwitchAccountInput struct {
	CodeHome            string `json:"code_home"`
	CurrentAccountID    string `json:"current_account_id"`
	BlockedUntilUnix    int64  `json:"blocked_until_unix,omitempty"`
	AllowAPIKeyFallback bool   `json:"allow_api_key_fallback"`

	TriedAccounts          []string         `json:"tried_accounts,omitempty"`
	LimitedChatGPTAccounts []string         `json:"limited_chatgpt_accounts,omitempty"`
	BlockedUntilByAccount  map[string]int64 `json:"blocked_until_by_account,omitempty"`
}

// SwitchAccountOutput reports the arbiter's decision and its updated state.
type SwitchAccountOutput struct {
	// NewAccountID is the activated account, or "" when no switch was made.
	NewAccountID string `json:"new_account_id,omitempty"`

	TriedAccounts          []string         `json:"tried_accounts,omitempty"`
	LimitedChatGPTAccounts []string         `json:"limited_chatgpt_accounts,omitempty"`
	BlockedUntilByAccount  map[string]int64 `json:"blocked_until_by_account,omitempty"`
}

// SwitchAccountOnRateLimit marks the current account limited, selects the
// next usable account, and activates it in the store when one exists.
func (a *AccountActivities) SwitchAccountOnRateLimit(_ context.Context, input SwitchAccountInput) (SwitchAccountOutput, error) {
	store, err := auth.NewStore(input.CodeHome)
	if err != nil {
		return SwitchAccountOutput{}, err
	}

	state := ratelimit.ImportSwitchState(ratelimit.SwitchStateData{
		TriedAccounts:          input.TriedAccounts,
		LimitedChatGPTAccounts: input.LimitedChatGPTAccounts,
		BlockedUntilUnix:       input.BlockedUntilByAccount,
	})

	mode := auth.ModeChatGPT
	if accounts, listErr := store.ListAccounts(); listErr == nil {
		for _, acct := range accounts {
			if acct.ID == input.CurrentAccountID {
				mode = acct.Mode
				break
			}
		}
	}

	var blockedUntil time.Time
	if input.BlockedUntilUnix > 0 {
		blockedUntil = time.Unix(input.BlockedUntilUnix, 0)
	}

	next, err := ratelimit.SwitchActiveAccountOnRateLimit(
		store, state, input.AllowAPIKeyFallback, time.Now(), input.CurrentAccountID, mode, blockedUntil)
	if err != nil {
		return SwitchAccountOutput{}, err
	}

	data := state.Export()
	return SwitchAccountOutput{
		NewAccountID:           next,
		TriedAccounts:          data.TriedAccounts,
		LimitedChatGPTAccounts: data.LimitedChatGPTAccounts,
		BlockedUntilByAccount:  data.BlockedUntilUnix,
	}, nil
}

// RecordRateLimitSnapshotInput carries a provider usage snapshot to persist.
type RecordRateLimitSnapshotInput struct {
	CodeHome string                       `json:"code_home"`
	Snapshot auth.StoredRateLimitSnapshot `json:"snapshot"`
}

// RecordRateLimitSnapshot persists a usage snapshot for the snapshot's
// account. Reset timestamps only ever move forward on disk.
func (a *AccountActivities) RecordRateLimitSnapshot(_ context.Context, input RecordRateLimitSnapshotInput) error {
	store, err := auth.NewStore(input.CodeHome)
	if err != nil {
		return err
	}
	return store.SaveUsageSnapshot(input.Snapshot)
}

// GetActiveAccountInput names the state root to read.
type GetActiveAccountInput struct {
	CodeHome string `json:"code_home"`
}

// GetActiveAccountOutput reports the store's active account id ("" if none).
type GetActiveAccountOutput struct {
	AccountID string `json:"account_id,omitempty"`
}

// GetActiveAccount reads the currently active account id from the store.
func (a *AccountActivities) GetActiveAccount(_ context.Context, input GetActiveAccountInput) (GetActiveAccountOutput, error) {
	store, err := auth.NewStore(input.CodeHome)
	if err != nil {
		return GetActiveAccountOutput{}, err
	}
	id, err := store.GetActiveAccountID()
	if err != nil {
		return GetActiveAccountOutput{}, err
	}
	return GetActiveAccountOutput{AccountID: id}, nil
}
