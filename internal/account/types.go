package account

import "time"

// Account represents a credentialed identity that presets run on behalf of.
// Accounts carry a credit balance used by loop selection strategies and an
// optional per-account secret injected into executions.
type Account struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`

	// Provider this account belongs to
	ProviderID string `json:"provider_id"`

	// Credit balance (selection strategies order on this)
	Credits float64 `json:"credits"`

	// Account-level credential (optional; provider default applies when nil)
	Secret *string `json:"secret,omitempty"`

	// Configuration
	Enabled bool `json:"enabled"`

	// Last time an execution ran for this account
	LastExecutionAt *time.Time `json:"last_execution_at,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Provider groups accounts under a shared service and carries the
// fallback credential used when an account has no secret of its own.
type Provider struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	DefaultSecret *string   `json:"default_secret,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RanToday reports whether the account's last execution happened on the
// given day (in that day's location). Used by loop eligibility filters.
func (a *Account) RanToday(now time.Time) bool {
	if a.LastExecutionAt == nil {
		return false
	}
	y1, m1, d1 := a.LastExecutionAt.In(now.Location()).Date()
	y2, m2, d2 := now.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// EffectiveSecret resolves the credential for this account: the account's
// own secret when set, otherwise the provider's default. Returns the empty
// string when neither is set.
func (a *Account) EffectiveSecret(provider *Provider) string {
	if a.Secret != nil && *a.Secret != "" {
		return *a.Secret
	}
	if provider != nil && provider.DefaultSecret != nil {
		return *provider.DefaultSecret
	}
	return ""
}

// DeepCopy creates a complete independent copy of the Account.
func (a *Account) DeepCopy() *Account {
	if a == nil {
		return nil
	}

	cpy := *a
	cpy.Secret = cloneStringPtr(a.Secret)
	cpy.LastExecutionAt = cloneTimePtr(a.LastExecutionAt)
	return &cpy
}

func cloneStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
