package loop

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tapforge/tapforge-core/internal/account"
	"github.com/tapforge/tapforge-core/internal/device"
	"github.com/tapforge/tapforge-core/internal/execution"
	"github.com/tapforge/tapforge-core/internal/preset"
)

// Logger defines the logging interface used by the Scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// AccountStore is the slice of the account repository the scheduler needs.
type AccountStore interface {
	GetByID(ctx context.Context, id string) (*account.Account, error)
	ListEnabled(ctx context.Context) ([]account.Account, error)
	Update(ctx context.Context, acc *account.Account) error
}

// DeviceStore answers the require-online-device eligibility predicate.
type DeviceStore interface {
	ListAvailable(ctx context.Context) ([]device.Device, error)
}

// ExecutionStore creates the units of work the scheduler produces.
type ExecutionStore interface {
	Create(ctx context.Context, e *execution.Execution) error
}

// PresetStore resolves preset metadata at scheduling time.
type PresetStore interface {
	GetPreset(ctx context.Context, id string) (*preset.Preset, error)
}

// Queue hands created executions to the worker pool.
type Queue interface {
	Enqueue(ctx context.Context, executionID string) error
}

// MetricsWriter receives scheduling telemetry. The influxdb client
// satisfies it; nil disables metrics.
type MetricsWriter interface {
	WriteLoopIteration(loopID, deviceID string, enqueued bool)
}

// Scheduler drives execution loops: each tick it evaluates every
// runnable loop, picks an eligible account, derives the next preset for
// it, creates a pending execution and enqueues it. Rotation state is
// advanced only after the unit of work has been created and enqueued,
// never speculatively.
type Scheduler struct {
	loops      Repository
	accounts   AccountStore
	devices    DeviceStore
	executions ExecutionStore
	presets    PresetStore
	queue      Queue

	// mu serialises rotation advancement relative to work creation so
	// concurrent ticks can never double-schedule a preset or account.
	mu sync.Mutex

	interval time.Duration
	logger   Logger
	metrics  MetricsWriter
	now      func() time.Time

	// retention bounds loop_history age; 0 disables pruning.
	retention time.Duration
	lastPrune time.Time
}

// NewScheduler creates a scheduler ticking at the given interval.
func NewScheduler(loops Repository, accounts AccountStore, devices DeviceStore,
	executions ExecutionStore, presets PresetStore, queue Queue, interval time.Duration) *Scheduler {

	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		loops:      loops,
		accounts:   accounts,
		devices:    devices,
		executions: executions,
		presets:    presets,
		queue:      queue,
		interval:   interval,
		logger:     noopLogger{},
		now:        time.Now,
	}
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	s.logger = logger
}

// SetMetricsWriter enables per-iteration scheduling telemetry.
func (s *Scheduler) SetMetricsWriter(m MetricsWriter) {
	s.metrics = m
}

// writeIteration records one evaluated loop and whether it produced
// work. The device is unknown at scheduling time; the worker tags
// execution metrics with it once leased.
func (s *Scheduler) writeIteration(l *Loop, deviceID string, enqueued bool) {
	if s.metrics == nil {
		return
	}
	s.metrics.WriteLoopIteration(l.ID, deviceID, enqueued)
}

// Run ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "interval", s.interval.String())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick processes every runnable loop once. Per-loop failures are logged
// and do not stop the remaining loops.
func (s *Scheduler) Tick(ctx context.Context) {
	s.pruneHistory(ctx)

	loops, err := s.loops.ListRunnable(ctx)
	if err != nil {
		s.logger.Error("listing runnable loops", "error", err)
		return
	}

	for i := range loops {
		l := loops[i]
		created, err := s.ProcessLoop(ctx, &l)
		if err != nil {
			s.logger.Error("processing loop", "loop_id", l.ID, "error", err)
			continue
		}
		for _, e := range created {
			s.logger.Info("execution scheduled",
				"loop_id", l.ID, "execution_id", e.ID, "preset_id", e.PresetID)
		}
	}
}

// SetHistoryRetention enables pruning of loop_history records older
// than d. Zero disables pruning.
func (s *Scheduler) SetHistoryRetention(d time.Duration) {
	s.retention = d
}

// pruneHistory removes expired audit records at most once per day.
func (s *Scheduler) pruneHistory(ctx context.Context) {
	if s.retention <= 0 {
		return
	}
	now := s.now()
	if now.Sub(s.lastPrune) < 24*time.Hour {
		return
	}
	s.lastPrune = now

	removed, err := s.loops.PruneHistory(ctx, now.Add(-s.retention))
	if err != nil {
		s.logger.Error("pruning loop history", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("pruned loop history", "removed", removed)
	}
}

// ProcessLoop evaluates one loop for one tick and returns the executions
// it created. A tick that finds no eligible account or is throttled is a
// no-op, not an error.
func (s *Scheduler) ProcessLoop(ctx context.Context, l *Loop) ([]*execution.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !l.Runnable() {
		return nil, nil
	}

	now := s.now()
	counterReset := l.ResetDailyCounter(now)

	if l.Throttled(now) {
		if counterReset {
			if err := s.loops.Update(ctx, l); err != nil {
				return nil, fmt.Errorf("persisting daily counter reset: %w", err)
			}
		}
		s.logger.Debug("loop throttled", "loop_id", l.ID,
			"executions_today", l.ExecutionsToday)
		s.writeIteration(l, "", false)
		return nil, nil
	}

	if l.RequireOnlineDevice {
		available, err := s.devices.ListAvailable(ctx)
		if err != nil {
			return nil, fmt.Errorf("checking device availability: %w", err)
		}
		if len(available) == 0 {
			s.logger.Debug("no available device", "loop_id", l.ID)
			s.writeIteration(l, "", false)
			return nil, nil
		}
	}

	acct, err := s.selectAccount(ctx, l, now)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		s.logger.Debug("no eligible account", "loop_id", l.ID)
		s.writeIteration(l, "", false)
		return nil, nil
	}

	presetID, ok := l.NextPresetID(acct.ID)
	if !ok {
		return nil, fmt.Errorf("%w: loop %s mode %s", ErrNoPreset, l.ID, l.Mode)
	}

	p, err := s.presets.GetPreset(ctx, presetID)
	if err != nil {
		return nil, fmt.Errorf("resolving preset %s: %w", presetID, err)
	}

	exec := &execution.Execution{
		ID:           execution.GenerateID(),
		PresetID:     p.ID,
		AccountID:    &acct.ID,
		LoopID:       &l.ID,
		Status:       execution.StatusPending,
		TotalActions: p.TotalActions(),
	}
	if err := s.executions.Create(ctx, exec); err != nil {
		return nil, fmt.Errorf("creating execution: %w", err)
	}
	if err := s.queue.Enqueue(ctx, exec.ID); err != nil {
		return nil, fmt.Errorf("enqueueing execution: %w", err)
	}
	s.writeIteration(l, "", true)

	// Work is created and enqueued; only now may state advance.
	l.AdvanceRotation(acct.ID)
	l.ExecutionsToday++
	l.TotalExecutions++
	l.LastExecutionAt = &now
	if err := s.loops.Update(ctx, l); err != nil {
		return nil, fmt.Errorf("persisting rotation state: %w", err)
	}

	acct.LastExecutionAt = &now
	if err := s.accounts.Update(ctx, acct); err != nil {
		s.logger.Warn("recording account execution time",
			"account_id", acct.ID, "error", err)
	}

	return []*execution.Execution{exec}, nil
}

// RecordResult feeds an execution outcome back into loop health and the
// audit trail. Executions not created by a loop are ignored.
func (s *Scheduler) RecordResult(ctx context.Context, exec *execution.Execution, success bool) error {
	if exec.LoopID == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.loops.GetByID(ctx, *exec.LoopID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("loading loop %s: %w", *exec.LoopID, err)
	}

	outcome := "completed"
	if success {
		l.RecordSuccess()
	} else {
		outcome = "failed"
		if l.RecordFailure() {
			s.logger.Warn("loop auto-paused after consecutive failures",
				"loop_id", l.ID, "consecutive_failures", l.ConsecutiveFailures)
		}
	}
	if err := s.loops.Update(ctx, l); err != nil {
		return fmt.Errorf("persisting loop health: %w", err)
	}

	entry := &HistoryEntry{
		LoopID:        l.ID,
		ExecutionID:   exec.ID,
		PresetID:      exec.PresetID,
		Outcome:       outcome,
		SelectionMode: string(l.Strategy),
	}
	if exec.AccountID != nil {
		entry.AccountID = *exec.AccountID
		if acct, acctErr := s.accounts.GetByID(ctx, *exec.AccountID); acctErr == nil {
			credits := acct.Credits
			entry.CreditsBefore = &credits
			entry.CreditsAfter = &credits
		}
	}
	if err := s.loops.CreateHistory(ctx, entry); err != nil {
		s.logger.Warn("recording loop history", "loop_id", l.ID, "error", err)
	}

	return nil
}

// ─── Account Selection ──────────────────────────────────────────────────────

// selectAccount builds the eligible candidate set and applies the loop's
// selection strategy. Returns nil when no account qualifies.
func (s *Scheduler) selectAccount(ctx context.Context, l *Loop, now time.Time) (*account.Account, error) {
	accounts, err := s.accounts.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}

	var candidates []account.Account
	for i := range accounts {
		if s.eligible(l, &accounts[i], now) {
			candidates = append(candidates, accounts[i])
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	// A loop mid-way through an account's preset list sticks with that
	// account until rotation clears it.
	if l.CurrentAccountID != nil {
		for i := range candidates {
			if candidates[i].ID == *l.CurrentAccountID {
				return &candidates[i], nil
			}
		}
	}

	// Stable id ordering underpins round robin and tie-breaking.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ID < candidates[j].ID
	})

	switch l.Strategy {
	case StrategyMostCredits:
		best := &candidates[0]
		for i := range candidates {
			if candidates[i].Credits > best.Credits {
				best = &candidates[i]
			}
		}
		return best, nil

	case StrategyLeastCredits:
		best := &candidates[0]
		for i := range candidates {
			if candidates[i].Credits < best.Credits {
				best = &candidates[i]
			}
		}
		return best, nil

	case StrategyRoundRobin, StrategySpecificAccounts:
		if l.LastAccountID != nil {
			for i := range candidates {
				if candidates[i].ID > *l.LastAccountID {
					return &candidates[i], nil
				}
			}
		}
		return &candidates[0], nil
	}

	return &candidates[0], nil
}

// eligible applies the loop's per-account predicates. Device presence is
// checked once per tick, not per account.
func (s *Scheduler) eligible(l *Loop, acct *account.Account, now time.Time) bool {
	if l.Strategy == StrategySpecificAccounts && len(l.SpecificAccountIDs) > 0 {
		found := false
		for _, id := range l.SpecificAccountIDs {
			if id == acct.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if l.MinCredits != nil && acct.Credits < *l.MinCredits {
		return false
	}
	if l.MaxCredits != nil && acct.Credits > *l.MaxCredits {
		return false
	}
	if l.SkipAlreadyRanToday && acct.RanToday(now) {
		return false
	}
	return true
}
