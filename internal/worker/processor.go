package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tapforge/tapforge-core/internal/account"
	"github.com/tapforge/tapforge-core/internal/device"
	"github.com/tapforge/tapforge-core/internal/execution"
	"github.com/tapforge/tapforge-core/internal/interpreter"
	"github.com/tapforge/tapforge-core/internal/preset"
)

// Logger defines the logging interface used by the worker package.
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

// ─── Consumer interfaces ─────────────────────────────────────────────

// PresetStore resolves presets. The preset registry satisfies it.
type PresetStore interface {
	GetPreset(ctx context.Context, id string) (*preset.Preset, error)
}

// AccountStore resolves accounts and their providers for credential
// injection.
type AccountStore interface {
	GetByID(ctx context.Context, id string) (*account.Account, error)
	GetProvider(ctx context.Context, id string) (*account.Provider, error)
}

// DeviceAllocator leases and releases devices. The device pool
// satisfies it.
type DeviceAllocator interface {
	Assign(ctx context.Context, preferredID string) (*device.Assignment, error)
	Release(ctx context.Context, deviceID string) error
}

// ScriptRunner runs a preset's action tree. The interpreter satisfies
// it.
type ScriptRunner interface {
	Execute(ctx context.Context, p *preset.Preset, ectx *interpreter.Context) error
}

// SessionFactory opens a driver session for a device serial. Production
// wires adb.NewSession over an ExecRunner; tests substitute a fake.
type SessionFactory func(serial string) interpreter.Device

// ResultRecorder receives terminal outcomes for loop health tracking.
// The loop scheduler satisfies it.
type ResultRecorder interface {
	RecordResult(ctx context.Context, exec *execution.Execution, success bool) error
}

// MetricsWriter receives execution telemetry. The influxdb client
// satisfies it; nil disables metrics.
type MetricsWriter interface {
	WriteExecutionMetric(deviceID, presetID, status string, durationMs int64, actionsCompleted int)
	WriteActionMetric(deviceID, actionType string, durationMs int64, success bool)
}

// ─── Processor ───────────────────────────────────────────────────────

// Processor runs one execution end to end: resolve, lease a device,
// mark running, interpret, mark terminal, release, record.
//
// ProcessAutomation is idempotent under at-least-once queue delivery:
// anything not pending is left alone, and the pending -> running
// transition is the claim that prevents two workers from running the
// same execution.
type Processor struct {
	executions execution.Repository
	presets    PresetStore
	accounts   AccountStore
	devices    DeviceAllocator
	runner     ScriptRunner
	sessions   SessionFactory

	results ResultRecorder
	metrics MetricsWriter
	logger  Logger

	// timeout is the hard per-execution limit; 0 disables it.
	timeout time.Duration

	// now is injectable for tests.
	now func() time.Time
}

// NewProcessor creates a processor over the given collaborators.
func NewProcessor(
	executions execution.Repository,
	presets PresetStore,
	accounts AccountStore,
	devices DeviceAllocator,
	runner ScriptRunner,
	sessions SessionFactory,
) *Processor {
	return &Processor{
		executions: executions,
		presets:    presets,
		accounts:   accounts,
		devices:    devices,
		runner:     runner,
		sessions:   sessions,
		logger:     noopLogger{},
		now:        time.Now,
	}
}

// SetLogger sets the logger for the processor.
func (p *Processor) SetLogger(logger Logger) {
	p.logger = logger
}

// SetResultRecorder wires in the loop scheduler's outcome tracking.
func (p *Processor) SetResultRecorder(r ResultRecorder) {
	p.results = r
}

// SetMetricsWriter enables execution telemetry.
func (p *Processor) SetMetricsWriter(m MetricsWriter) {
	p.metrics = m
}

// SetExecutionTimeout caps how long one execution may run. A timed-out
// execution is marked failed; 0 disables the cap.
func (p *Processor) SetExecutionTimeout(d time.Duration) {
	p.timeout = d
}

// ProcessAutomation runs the execution with the given ID.
//
// Re-deliveries of terminal or already-claimed executions are no-ops.
// Returns device.ErrNoDevices when no device could be leased; the
// execution stays pending and the pool re-enqueues it after a backoff.
func (p *Processor) ProcessAutomation(ctx context.Context, executionID string) error {
	exec, err := p.executions.GetByID(ctx, executionID)
	if err != nil {
		if errors.Is(err, execution.ErrNotFound) {
			p.logger.Warn("queued execution does not exist", "execution_id", executionID)
			return nil
		}
		return fmt.Errorf("worker: load execution %s: %w", executionID, err)
	}

	if exec.Status != execution.StatusPending {
		p.logger.Debug("skipping non-pending execution",
			"execution_id", exec.ID, "status", exec.Status)
		return nil
	}

	prst, err := p.presets.GetPreset(ctx, exec.PresetID)
	if err != nil {
		p.failSetup(ctx, exec, fmt.Errorf("resolve preset %s: %w", exec.PresetID, err))
		return nil
	}

	vars, err := p.credentialVariables(ctx, exec)
	if err != nil {
		p.failSetup(ctx, exec, err)
		return nil
	}

	// Lease a device. A pre-assigned device (manual trigger) is treated
	// as a preference, not a hard requirement.
	preferred := ""
	if exec.DeviceID != nil {
		preferred = *exec.DeviceID
	}
	assignment, err := p.devices.Assign(ctx, preferred)
	if err != nil {
		if errors.Is(err, device.ErrNoDevices) {
			p.logger.Info("no device available, execution stays pending",
				"execution_id", exec.ID)
			return err
		}
		return fmt.Errorf("worker: assign device for %s: %w", exec.ID, err)
	}
	dev := assignment.Device
	defer func() {
		// Release on a fresh context so shutdown does not strand the
		// device in busy.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.devices.Release(releaseCtx, dev.ID); err != nil {
			p.logger.Error("device release failed",
				"device_id", dev.ID, "execution_id", exec.ID, "error", err)
		}
	}()

	if err := p.executions.SetDevice(ctx, exec.ID, dev.ID); err != nil {
		p.logger.Warn("recording device assignment failed",
			"execution_id", exec.ID, "error", err)
	}
	exec.DeviceID = &dev.ID

	// Claim. Losing the claim means another worker got the duplicate
	// delivery first.
	startedAt := p.now()
	if err := p.executions.MarkRunning(ctx, exec.ID, startedAt); err != nil {
		if errors.Is(err, execution.ErrInvalidTransition) {
			p.logger.Debug("execution already claimed", "execution_id", exec.ID)
			return nil
		}
		return fmt.Errorf("worker: mark running %s: %w", exec.ID, err)
	}
	exec.Status = execution.StatusRunning

	p.logger.Info("execution started",
		"execution_id", exec.ID, "preset_id", prst.ID,
		"device_id", dev.ID, "serial", dev.Serial)

	ectx := interpreter.NewContext(p.sessions(dev.Serial))
	for name, value := range vars {
		ectx.Variables[name] = value
	}
	ectx.OnProgress = func(completed int) {
		if err := p.executions.UpdateProgress(ctx, exec.ID, completed); err != nil {
			p.logger.Warn("progress update failed",
				"execution_id", exec.ID, "error", err)
		}
	}
	if p.metrics != nil {
		ectx.OnAction = func(actionType string, duration time.Duration, success bool) {
			p.metrics.WriteActionMetric(dev.ID, actionType, duration.Milliseconds(), success)
		}
	}

	runCtx := ctx
	if p.timeout > 0 {
		var cancelRun context.CancelFunc
		runCtx, cancelRun = context.WithTimeout(ctx, p.timeout)
		defer cancelRun()
	}
	runErr := p.runner.Execute(runCtx, prst, ectx)
	finishedAt := p.now()
	durationMs := finishedAt.Sub(startedAt).Milliseconds()

	// A per-execution timeout is a failure, not a shutdown: the run
	// context hitting its deadline while the parent is still live lands
	// in the failed branch below.
	cancelled := errors.Is(runErr, context.Canceled) ||
		(errors.Is(runErr, context.DeadlineExceeded) && ctx.Err() != nil)

	switch {
	case runErr == nil:
		if err := p.executions.MarkCompleted(ctx, exec.ID, finishedAt, ectx.Completed()); err != nil {
			p.logger.Error("mark completed failed", "execution_id", exec.ID, "error", err)
		}
		exec.Status = execution.StatusCompleted
		p.logger.Info("execution completed",
			"execution_id", exec.ID, "duration_ms", durationMs,
			"actions_completed", ectx.Completed())
		p.writeMetric(exec, prst, "completed", durationMs, ectx.Completed())
		p.recordResult(ctx, exec, true)

	case cancelled:
		// Cancellation is not a script failure: the record goes to
		// cancelled and loop health is untouched.
		cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.executions.MarkCancelled(cancelCtx, exec.ID, finishedAt); err != nil {
			p.logger.Error("mark cancelled failed", "execution_id", exec.ID, "error", err)
		}
		exec.Status = execution.StatusCancelled
		p.logger.Info("execution cancelled",
			"execution_id", exec.ID, "duration_ms", durationMs)
		p.writeMetric(exec, prst, "cancelled", durationMs, ectx.Completed())

	default:
		details, errIndex := errorLocus(runErr)
		if err := p.executions.MarkFailed(ctx, exec.ID, finishedAt, errIndex, details); err != nil {
			p.logger.Error("mark failed failed", "execution_id", exec.ID, "error", err)
		}
		exec.Status = execution.StatusFailed
		p.logger.Warn("execution failed",
			"execution_id", exec.ID, "duration_ms", durationMs,
			"action_index", errIndex, "error", runErr)
		p.writeMetric(exec, prst, "failed", durationMs, ectx.Completed())
		p.recordResult(ctx, exec, false)
	}

	return nil
}

// RecoverInterrupted fails every execution still marked running. A
// running row with no live worker means a previous process died mid
// execution, so this must only be called at startup, before the pool
// begins consuming. Returns how many executions were recovered.
func (p *Processor) RecoverInterrupted(ctx context.Context) (int, error) {
	stale, err := p.executions.ListByStatus(ctx, execution.StatusRunning, 0)
	if err != nil {
		return 0, fmt.Errorf("worker: list running executions: %w", err)
	}

	recovered := 0
	details := &execution.ErrorDetails{
		ActionIndex: -1,
		Message:     "interrupted by worker restart",
	}
	for i := range stale {
		exec := &stale[i]
		if err := p.executions.MarkFailed(ctx, exec.ID, p.now(), -1, details); err != nil {
			p.logger.Error("recovering interrupted execution failed",
				"execution_id", exec.ID, "error", err)
			continue
		}
		exec.Status = execution.StatusFailed
		p.logger.Warn("interrupted execution marked failed",
			"execution_id", exec.ID)
		p.recordResult(ctx, exec, false)
		recovered++
	}
	return recovered, nil
}

// credentialVariables builds the injected variable map for the
// execution's account: account_name always, account_secret from the
// account with the provider default as fallback.
func (p *Processor) credentialVariables(ctx context.Context, exec *execution.Execution) (map[string]any, error) {
	if exec.AccountID == nil {
		return nil, nil
	}

	acct, err := p.accounts.GetByID(ctx, *exec.AccountID)
	if err != nil {
		return nil, fmt.Errorf("resolve account %s: %w", *exec.AccountID, err)
	}

	var provider *account.Provider
	if acct.ProviderID != "" {
		provider, err = p.accounts.GetProvider(ctx, acct.ProviderID)
		if err != nil && !errors.Is(err, account.ErrProviderNotFound) {
			return nil, fmt.Errorf("resolve provider %s: %w", acct.ProviderID, err)
		}
	}

	return map[string]any{
		"account_name":   acct.Name,
		"account_secret": acct.EffectiveSecret(provider),
	}, nil
}

// failSetup marks an execution failed before it ever ran: missing
// preset, missing account. No device is held at this point.
func (p *Processor) failSetup(ctx context.Context, exec *execution.Execution, cause error) {
	p.logger.Warn("execution setup failed",
		"execution_id", exec.ID, "error", cause)

	details := &execution.ErrorDetails{
		ActionIndex: -1,
		Message:     cause.Error(),
	}
	if err := p.executions.MarkFailed(ctx, exec.ID, p.now(), -1, details); err != nil {
		p.logger.Error("mark failed failed", "execution_id", exec.ID, "error", err)
	}
	exec.Status = execution.StatusFailed
	p.recordResult(ctx, exec, false)
}

func (p *Processor) writeMetric(exec *execution.Execution, prst *preset.Preset,
	status string, durationMs int64, actionsCompleted int) {

	if p.metrics == nil {
		return
	}
	deviceID := ""
	if exec.DeviceID != nil {
		deviceID = *exec.DeviceID
	}
	p.metrics.WriteExecutionMetric(deviceID, prst.ID, status, durationMs, actionsCompleted)
}

func (p *Processor) recordResult(ctx context.Context, exec *execution.Execution, success bool) {
	if p.results == nil {
		return
	}
	if err := p.results.RecordResult(ctx, exec, success); err != nil {
		p.logger.Warn("recording loop result failed",
			"execution_id", exec.ID, "error", err)
	}
}

// errorLocus extracts the failure location from an interpreter error.
// Non-script failures (driver setup, unexpected) get index -1 and a
// bare message.
func errorLocus(err error) (*execution.ErrorDetails, int) {
	var actionErr *interpreter.ActionError
	if errors.As(err, &actionErr) {
		return &execution.ErrorDetails{
			ActionType:   actionErr.Type,
			ActionParams: actionErr.Params,
			ActionIndex:  actionErr.Index,
			ActionPath:   actionErr.Path,
			Message:      actionErr.Err.Error(),
		}, actionErr.Index
	}
	return &execution.ErrorDetails{
		ActionIndex: -1,
		Message:     err.Error(),
	}, -1
}
