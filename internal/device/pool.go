package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the device package.
// This allows different logging implementations to be used.
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

// Assignment is the result of a successful lease.
type Assignment struct {
	// Device is a snapshot of the leased device at lease time.
	Device *Device
}

// Pool hands out exclusive device leases to executions.
//
// A lease moves a device online -> busy; Release moves it back. Selection
// is least-recently-used: never-used devices first, then oldest
// last_used_at. A preferred device, when given and available, bypasses
// the LRU order.
//
// The process-wide mutex serialises the select-then-lease window so two
// concurrent assignments cannot pick the same device; the repository's
// conditional UPDATE backs that up at the storage layer in case status
// changed underneath (an agent heartbeat marking the device offline, for
// example).
//
// Thread Safety: all methods are safe for concurrent use.
type Pool struct {
	repo   Repository
	mu     sync.Mutex
	logger Logger

	// now is injectable for tests.
	now func() time.Time
}

// NewPool creates a device pool backed by the given repository.
func NewPool(repo Repository) *Pool {
	return &Pool{
		repo:   repo,
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the pool.
func (p *Pool) SetLogger(logger Logger) {
	p.logger = logger
}

// Assign leases a device for an execution.
//
// When preferredID is non-empty and that device is available it is leased
// directly; otherwise the least recently used available device is chosen.
// Devices whose lease fails mid-flight (status changed between selection
// and commit) are skipped and the next candidate is tried.
//
// Returns ErrNoDevices when nothing could be leased. Callers that can
// wait should retry on a later tick; the pool itself never queues.
func (p *Pool) Assign(ctx context.Context, preferredID string) (*Assignment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if preferredID != "" {
		if a, err := p.tryLease(ctx, preferredID); err == nil {
			return a, nil
		} else if !errors.Is(err, ErrNotLeasable) && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		// Preferred device gone or busy; fall through to LRU selection.
	}

	candidates, err := p.repo.ListAvailable(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing available devices: %w", err)
	}

	for i := range candidates {
		a, leaseErr := p.tryLease(ctx, candidates[i].ID)
		if leaseErr == nil {
			return a, nil
		}
		if errors.Is(leaseErr, ErrNotLeasable) || errors.Is(leaseErr, ErrNotFound) {
			continue
		}
		return nil, leaseErr
	}

	return nil, ErrNoDevices
}

// tryLease commits a lease on a single device and returns its snapshot.
func (p *Pool) tryLease(ctx context.Context, id string) (*Assignment, error) {
	now := p.now()
	if err := p.repo.Lease(ctx, id, now); err != nil {
		return nil, err
	}

	d, err := p.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading leased device: %w", err)
	}

	p.logger.Debug("device leased", "device_id", d.ID, "serial", d.Serial)
	return &Assignment{Device: d}, nil
}

// Release returns a device to the pool after an execution finishes.
// Safe to call regardless of outcome: busy and error devices go back to
// online, anything else is left alone. Never fails on an unknown state.
func (p *Pool) Release(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return nil
	}

	if err := p.repo.Release(ctx, deviceID); err != nil {
		return fmt.Errorf("releasing device %s: %w", deviceID, err)
	}

	p.logger.Debug("device released", "device_id", deviceID)
	return nil
}
