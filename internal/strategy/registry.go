package strategy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"hammer-trader/pkg/cache"
)

// Repository persists strategy specs.
type Repository interface {
	FindAllService(ctx context.Context) ([]Spec, error)
	FindByKey(ctx context.Context, key string) (Spec, error)
	Save(ctx context.Context, spec Spec) error
	UpdateStatus(ctx context.Context, key string, status Status) error
}

// Registry mirrors the SERVICE specs in memory. It changes only through
// Start, Stop and Update.
type Registry struct {
	specs *cache.ShardedMap[Spec]
	repo  Repository
	log   *zap.Logger
}

// NewRegistry creates a registry. repo may be nil for in-memory use.
func NewRegistry(repo Repository, log *zap.Logger) *Registry {
	return &Registry{
		specs: cache.NewShardedMap[Spec](),
		repo:  repo,
		log:   log,
	}
}

// Load seeds the registry with every SERVICE spec in the repository.
func (r *Registry) Load(ctx context.Context) error {
	if r.repo == nil {
		return nil
	}
	specs, err := r.repo.FindAllService(ctx)
	if err != nil {
		return fmt.Errorf("load strategy specs: %w", err)
	}
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			r.log.Warn("skipping invalid stored strategy", zap.String("key", s.Key), zap.Error(err))
			continue
		}
		r.specs.Set(s.Key, s.Clone())
	}
	r.log.Info("strategy specs loaded", zap.Int("count", r.specs.Len()))
	return nil
}

// Start registers spec in SERVICE state.
func (r *Registry) Start(ctx context.Context, spec Spec) (Spec, error) {
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	spec = spec.Clone()
	spec.Status = StatusService
	spec.UpdatedAt = time.Now()
	if !r.specs.SetIfAbsent(spec.Key, spec) {
		return Spec{}, fmt.Errorf("%w: %s", ErrAlreadyExist, spec.Key)
	}
	if r.repo != nil {
		if err := r.repo.Save(ctx, spec); err != nil {
			r.specs.Delete(spec.Key)
			return Spec{}, fmt.Errorf("save strategy %s: %w", spec.Key, err)
		}
	}
	r.log.Info("strategy started",
		zap.String("key", spec.Key),
		zap.String("type", spec.Type),
		zap.Strings("symbols", spec.Symbols))
	return spec, nil
}

// Stop removes the spec from service.
func (r *Registry) Stop(ctx context.Context, key string) (Spec, error) {
	spec, ok := r.specs.LoadAndDelete(key)
	if !ok {
		return Spec{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	spec.Status = StatusStopped
	if r.repo != nil {
		if err := r.repo.UpdateStatus(ctx, key, StatusStopped); err != nil {
			return spec, fmt.Errorf("stop strategy %s: %w", key, err)
		}
	}
	r.log.Info("strategy stopped", zap.String("key", key))
	return spec, nil
}

// Update replaces a running spec.
func (r *Registry) Update(ctx context.Context, spec Spec) (Spec, error) {
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	spec = spec.Clone()
	spec.Status = StatusService
	spec.UpdatedAt = time.Now()

	var prev Spec
	if _, ok := r.specs.Update(spec.Key, func(cur Spec, exists bool) (Spec, bool) {
		prev = cur
		return spec, exists
	}); !ok {
		return Spec{}, fmt.Errorf("%w: %s", ErrNotFound, spec.Key)
	}
	if r.repo != nil {
		if err := r.repo.Save(ctx, spec); err != nil {
			r.specs.Set(spec.Key, prev)
			return Spec{}, fmt.Errorf("update strategy %s: %w", spec.Key, err)
		}
	}
	r.log.Info("strategy updated", zap.String("key", spec.Key))
	return spec, nil
}

// Get returns the spec for key.
func (r *Registry) Get(key string) (Spec, bool) {
	return r.specs.Get(key)
}

// ByType returns every spec of strategy type typ, ordered by key.
func (r *Registry) ByType(typ string) []Spec {
	var out []Spec
	r.specs.Range(func(_ string, s Spec) bool {
		if s.Type == typ {
			out = append(out, s)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// All returns every registered spec, ordered by key.
func (r *Registry) All() []Spec {
	var out []Spec
	r.specs.Range(func(_ string, s Spec) bool {
		out = append(out, s)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
