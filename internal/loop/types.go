package loop

import (
	"time"

	"github.com/google/uuid"
)

// Strategy selects which account runs next.
type Strategy string

const (
	StrategyMostCredits      Strategy = "most_credits"
	StrategyLeastCredits     Strategy = "least_credits"
	StrategyRoundRobin       Strategy = "round_robin"
	StrategySpecificAccounts Strategy = "specific_accounts"
)

// Mode determines how the next preset is derived for the selected account.
type Mode string

const (
	// ModeSingle always runs the configured preset.
	ModeSingle Mode = "single"

	// ModeSharedList walks one preset list shared by every account; the
	// list index advances per execution and wraps back to zero.
	ModeSharedList Mode = "shared_list"

	// ModePerAccount gives each account its own position in its own
	// preset list, falling back to the default list when an account has
	// no explicit one.
	ModePerAccount Mode = "per_account"
)

// Status is the loop's health state. A loop only produces work while
// active; error is the auto-pause state entered after too many
// consecutive failures and cleared by a manual reset.
type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
	StatusError  Status = "error"
)

// AccountState tracks one account's independent progress through its
// preset list in per-account mode.
type AccountState struct {
	CurrentIndex    int `json:"current_index"`
	CompletedCycles int `json:"completed_cycles"`
}

// dateLayout is the day-boundary format for the daily execution counter.
const dateLayout = "2006-01-02"

// Loop is a recurring rotation job: which accounts to cycle through,
// which presets to run for them, and when it is allowed to produce work.
type Loop struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	Strategy Strategy `json:"strategy"`
	Mode     Mode     `json:"mode"`

	// Preset sources per mode.
	PresetID         *string             `json:"preset_id,omitempty"`
	SharedPresetIDs  []string            `json:"shared_preset_ids"`
	DefaultPresetIDs []string            `json:"default_preset_ids"`
	AccountPresetIDs map[string][]string `json:"account_preset_ids"`

	// SpecificAccountIDs restricts candidates when the strategy is
	// specific_accounts.
	SpecificAccountIDs []string `json:"specific_account_ids"`

	// Eligibility predicates.
	MinCredits          *float64 `json:"min_credits,omitempty"`
	MaxCredits          *float64 `json:"max_credits,omitempty"`
	RequireOnlineDevice bool     `json:"require_online_device"`
	SkipAlreadyRanToday bool     `json:"skip_already_ran_today"`

	// Throttling.
	DelayBetweenExecutions int    `json:"delay_between_executions"` // seconds
	MaxExecutionsPerDay    int    `json:"max_executions_per_day"`   // 0 = unlimited
	ExecutionsToday        int    `json:"executions_today"`
	LastResetDate          string `json:"last_reset_date,omitempty"`

	// Rotation state.
	CurrentPresetIndex int                     `json:"current_preset_index"`
	CurrentAccountID   *string                 `json:"current_account_id,omitempty"`
	LastAccountID      *string                 `json:"last_account_id,omitempty"`
	AccountStates      map[string]AccountState `json:"account_states"`

	// Health.
	ConsecutiveFailures    int    `json:"consecutive_failures"`
	MaxConsecutiveFailures int    `json:"max_consecutive_failures"`
	Status                 Status `json:"status"`

	IsEnabled bool `json:"is_enabled"`

	// Stats.
	TotalExecutions int        `json:"total_executions"`
	LastExecutionAt *time.Time `json:"last_execution_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Runnable reports whether the loop may produce work this tick.
func (l *Loop) Runnable() bool {
	return l.IsEnabled && l.Status == StatusActive
}

// PresetListFor returns the preset list the given account walks in
// per-account mode: its explicit list, or the loop default.
func (l *Loop) PresetListFor(accountID string) []string {
	if ids, ok := l.AccountPresetIDs[accountID]; ok && len(ids) > 0 {
		return ids
	}
	return l.DefaultPresetIDs
}

// NextPresetID derives the preset the given account should run next,
// without advancing any state. Returns false when the loop's mode has
// no preset configured for the account.
func (l *Loop) NextPresetID(accountID string) (string, bool) {
	switch l.Mode {
	case ModeSingle:
		if l.PresetID == nil || *l.PresetID == "" {
			return "", false
		}
		return *l.PresetID, true

	case ModeSharedList:
		if len(l.SharedPresetIDs) == 0 {
			return "", false
		}
		idx := l.CurrentPresetIndex
		if idx < 0 || idx >= len(l.SharedPresetIDs) {
			idx = 0
		}
		return l.SharedPresetIDs[idx], true

	case ModePerAccount:
		list := l.PresetListFor(accountID)
		if len(list) == 0 {
			return "", false
		}
		state := l.AccountStates[accountID]
		idx := state.CurrentIndex
		if idx < 0 || idx >= len(list) {
			idx = 0
		}
		return list[idx], true
	}
	return "", false
}

// AdvanceRotation moves the rotation state forward after a unit of work
// has been created for the given account. It must never be called
// speculatively. Wrapping a list clears CurrentAccountID, signalling
// that the next tick should rotate to a different account.
func (l *Loop) AdvanceRotation(accountID string) {
	l.CurrentAccountID = &accountID
	l.LastAccountID = &accountID

	switch l.Mode {
	case ModeSingle:
		// One preset per visit; rotate accounts every execution.
		l.CurrentAccountID = nil

	case ModeSharedList:
		l.CurrentPresetIndex++
		if l.CurrentPresetIndex >= len(l.SharedPresetIDs) {
			l.CurrentPresetIndex = 0
			l.CurrentAccountID = nil
		}

	case ModePerAccount:
		list := l.PresetListFor(accountID)
		if l.AccountStates == nil {
			l.AccountStates = make(map[string]AccountState)
		}
		state := l.AccountStates[accountID]
		state.CurrentIndex++
		if state.CurrentIndex >= len(list) {
			state.CurrentIndex = 0
			state.CompletedCycles++
			l.CurrentAccountID = nil
		}
		l.AccountStates[accountID] = state
	}
}

// ResetDailyCounter zeroes the daily execution counter when now has
// crossed the day boundary since the last reset. Returns true when a
// reset happened.
func (l *Loop) ResetDailyCounter(now time.Time) bool {
	today := now.Format(dateLayout)
	if l.LastResetDate == today {
		return false
	}
	l.ExecutionsToday = 0
	l.LastResetDate = today
	return true
}

// Throttled reports whether creating work now would violate the delay
// or daily-cap constraints. ResetDailyCounter must run first.
func (l *Loop) Throttled(now time.Time) bool {
	if l.MaxExecutionsPerDay > 0 && l.ExecutionsToday >= l.MaxExecutionsPerDay {
		return true
	}
	if l.DelayBetweenExecutions > 0 && l.LastExecutionAt != nil {
		elapsed := now.Sub(*l.LastExecutionAt)
		if elapsed < time.Duration(l.DelayBetweenExecutions)*time.Second {
			return true
		}
	}
	return false
}

// RecordFailure bumps the consecutive-failure counter and auto-pauses
// the loop to status error once it exceeds the configured maximum.
// Returns true when the loop was paused by this call.
func (l *Loop) RecordFailure() bool {
	l.ConsecutiveFailures++
	if l.ConsecutiveFailures > l.MaxConsecutiveFailures {
		l.Status = StatusError
		return true
	}
	return false
}

// RecordSuccess clears the consecutive-failure counter.
func (l *Loop) RecordSuccess() {
	l.ConsecutiveFailures = 0
}

// DeepCopy creates a completely independent copy of the loop.
func (l *Loop) DeepCopy() *Loop {
	if l == nil {
		return nil
	}

	clone := *l
	clone.PresetID = cloneStringPtr(l.PresetID)
	clone.CurrentAccountID = cloneStringPtr(l.CurrentAccountID)
	clone.LastAccountID = cloneStringPtr(l.LastAccountID)
	clone.MinCredits = cloneFloatPtr(l.MinCredits)
	clone.MaxCredits = cloneFloatPtr(l.MaxCredits)
	clone.LastExecutionAt = cloneTimePtr(l.LastExecutionAt)

	clone.SharedPresetIDs = append([]string(nil), l.SharedPresetIDs...)
	clone.DefaultPresetIDs = append([]string(nil), l.DefaultPresetIDs...)
	clone.SpecificAccountIDs = append([]string(nil), l.SpecificAccountIDs...)

	if l.AccountPresetIDs != nil {
		clone.AccountPresetIDs = make(map[string][]string, len(l.AccountPresetIDs))
		for k, v := range l.AccountPresetIDs {
			clone.AccountPresetIDs[k] = append([]string(nil), v...)
		}
	}
	if l.AccountStates != nil {
		clone.AccountStates = make(map[string]AccountState, len(l.AccountStates))
		for k, v := range l.AccountStates {
			clone.AccountStates[k] = v
		}
	}

	return &clone
}

// HistoryEntry is one append-only audit record per loop attempt.
type HistoryEntry struct {
	ID            string    `json:"id"`
	LoopID        string    `json:"loop_id"`
	AccountID     string    `json:"account_id,omitempty"`
	PresetID      string    `json:"preset_id,omitempty"`
	ExecutionID   string    `json:"execution_id,omitempty"`
	Outcome       string    `json:"outcome"`
	SelectionMode string    `json:"selection_mode"`
	CreditsBefore *float64  `json:"credits_before,omitempty"`
	CreditsAfter  *float64  `json:"credits_after,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func cloneStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneFloatPtr(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// GenerateID creates a new UUID for a loop or history entry.
func GenerateID() string {
	return uuid.New().String()
}
