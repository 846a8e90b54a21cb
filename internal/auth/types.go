// Package auth implements the on-disk account store: the set of credentials
// a session can authenticate with, which one is active, and the per-account
// usage snapshots the rate-limit arbiter consults when deciding whether to
// switch accounts.
package auth

import "time"

// Mode distinguishes a ChatGPT-session account (OAuth token pair, subject to
// plan-based usage limits) from a raw API key account (no built-in usage
// tracking beyond what the provider reports per request).
type Mode int

const (
	ModeChatGPT Mode = iota
	ModeAPIKey
)

func (m Mode) String() string {
	switch m {
	case ModeChatGPT:
		return "chatgpt"
	case ModeAPIKey:
		return "api_key"
	default:
		return "unknown"
	}
}

// TokenData holds the OAuth material for a ChatGPT-mode account. AccessToken,
// RefreshToken and IDToken are tagged json:"-", so they are never written to
// accounts.json; Store does not persist them anywhere (SecretStore is the
// separate backend for secret values).
type TokenData struct {
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	IDToken      string    `json:"-"`
	Email        string    `json:"email,omitempty"`
	PlanType     string    `json:"plan_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// StoredAccount is one entry in accounts.json. HasAPIKey only records that an
// API key exists; the key itself is not part of the entry.
type StoredAccount struct {
	ID        string     `json:"id"`
	Mode      Mode       `json:"mode"`
	Tokens    *TokenData `json:"tokens,omitempty"`
	HasAPIKey bool       `json:"has_api_key,omitempty"`
	Label     string     `json:"label,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// HasCredentials reports whether the account carries the material its mode
// requires to authenticate a request.
func (a StoredAccount) HasCredentials() bool {
	switch a.Mode {
	case ModeChatGPT:
		return a.Tokens != nil
	case ModeAPIKey:
		return a.HasAPIKey
	default:
		return false
	}
}

// RateLimitWindow mirrors a single primary/secondary usage-window reading as
// reported by the provider's rate-limit headers.
type RateLimitWindow struct {
	UsedPercent float64    `json:"used_percent"`
	ResetAt     *time.Time `json:"reset_at,omitempty"`
}

// StoredRateLimitSnapshot is the last-seen usage reading for one account,
// persisted so the arbiter can reason about accounts it hasn't talked to in
// the current process.
type StoredRateLimitSnapshot struct {
	AccountID string           `json:"account_id"`
	FetchedAt time.Time        `json:"fetched_at"`
	Primary   *RateLimitWindow `json:"primary,omitempty"`
	Secondary *RateLimitWindow `json:"secondary,omitempty"`
}

// UsedPercent returns the higher of the two window readings,
// matching how the arbiter scores candidates: the binding constraint is
// whichever window is closer to exhausted.
func (s StoredRateLimitSnapshot) UsedPercent() (float64, bool) {
	var best float64
	found := false
	if s.Primary != nil {
		best = s.Primary.UsedPercent
		found = true
	}
	if s.Secondary != nil && (!found || s.Secondary.UsedPercent > best) {
		best = s.Secondary.UsedPercent
		found = true
	}
	if !found {
		return 0, false
	}
	return best, true
}

// ResetBlockedUntil returns the later of the two windows' reset
// times, or nil if neither window carries one. The account is usable again
// once this time has passed.
func (s StoredRateLimitSnapshot) ResetBlockedUntil() *time.Time {
	var latest *time.Time
	for _, w := range []*RateLimitWindow{s.Primary, s.Secondary} {
		if w == nil || w.ResetAt == nil {
			continue
		}
		if latest == nil || w.ResetAt.After(*latest) {
			latest = w.ResetAt
		}
	}
	return latest
}
