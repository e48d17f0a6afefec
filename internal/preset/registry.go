package preset

import (
	"context"
	"fmt"
	"sync"
)

// Logger defines the logging interface used by the Registry.
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

// Registry provides preset management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups;
// the interpreter resolves call_preset nodes through it on a hot path.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Preset // Cached presets by ID
	cacheMu sync.RWMutex       // Protects cache
	logger  Logger
}

// NewRegistry creates a new preset registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Preset),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all presets from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	presets, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading presets: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	// Clear and rebuild cache with deep copies
	r.cache = make(map[string]*Preset, len(presets))
	for i := range presets {
		p := presets[i]
		r.cache[p.ID] = p.DeepCopy()
	}

	r.logger.Info("preset cache refreshed", "count", len(presets))
	return nil
}

// GetPreset retrieves a preset by ID.
// Returns ErrNotFound if the preset does not exist.
// The returned preset is a deep copy; callers can safely modify it.
func (r *Registry) GetPreset(ctx context.Context, id string) (*Preset, error) {
	// Try cache first
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		// Return a deep copy to prevent external mutation of cache
		return cached.DeepCopy(), nil
	}

	// Fall back to repository (might be a new preset not yet cached)
	p, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// Cache for future lookups (store a deep copy)
	r.cacheMu.Lock()
	r.cache[id] = p.DeepCopy()
	r.cacheMu.Unlock()

	return p, nil
}

// ListPresets retrieves all presets.
// The returned presets are deep copies; callers can safely modify them.
func (r *Registry) ListPresets(ctx context.Context) ([]Preset, error) {
	r.cacheMu.RLock()
	if len(r.cache) > 0 {
		presets := make([]Preset, 0, len(r.cache))
		for _, p := range r.cache {
			presets = append(presets, *p.DeepCopy())
		}
		r.cacheMu.RUnlock()
		return presets, nil
	}
	r.cacheMu.RUnlock()

	presets, err := r.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	for i := range presets {
		p := presets[i]
		r.cache[p.ID] = p.DeepCopy()
	}
	r.cacheMu.Unlock()

	return presets, nil
}

// CreatePreset validates and persists a new preset.
// An ID is generated when absent.
func (r *Registry) CreatePreset(ctx context.Context, p *Preset) error {
	if p.ID == "" {
		p.ID = GenerateID()
	}

	if err := Validate(p); err != nil {
		return err
	}

	if err := r.repo.Create(ctx, p); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[p.ID] = p.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("preset created", "preset_id", p.ID, "name", p.Name)
	return nil
}

// UpdatePreset validates and persists changes to an existing preset.
func (r *Registry) UpdatePreset(ctx context.Context, p *Preset) error {
	if err := Validate(p); err != nil {
		return err
	}

	if err := r.repo.Update(ctx, p); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[p.ID] = p.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("preset updated", "preset_id", p.ID)
	return nil
}

// DeletePreset removes a preset.
func (r *Registry) DeletePreset(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("preset deleted", "preset_id", id)
	return nil
}
