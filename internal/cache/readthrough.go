package cache

import (
	"context"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"fintrack/internal/metrics"
)

// ReadThrough serves values from a Cache and falls back to a loader on a
// miss. Concurrent misses for the same key share one load. Cache failures
// are logged and treated as misses.
type ReadThrough[T any] struct {
	name    string
	cache   Cache[T]
	group   singleflight.Group
	metrics *metrics.Metrics
}

func NewReadThrough[T any](name string, c Cache[T], m *metrics.Metrics) *ReadThrough[T] {
	return &ReadThrough[T]{name: name, cache: c, metrics: m}
}

// Get returns the cached value for key or loads, stores and returns it.
func (r *ReadThrough[T]) Get(ctx context.Context, key string, load func(context.Context) (T, error)) (T, error) {
	if r == nil || r.cache == nil {
		return load(ctx)
	}

	data, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "Cache read failed", "cache", r.name, "key", key, "error", err)
	}
	if ok {
		r.metrics.IncrCacheHit(r.name)
		return data, nil
	}
	r.metrics.IncrCacheMiss(r.name)

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		loaded, err := load(ctx)
		if err != nil {
			return loaded, err
		}
		if err := r.cache.Set(ctx, key, loaded); err != nil {
			slog.WarnContext(ctx, "Cache write failed", "cache", r.name, "key", key, "error", err)
		}
		return loaded, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Invalidate drops key so the next Get reloads it.
func (r *ReadThrough[T]) Invalidate(ctx context.Context, key string) {
	if r == nil || r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, key); err != nil {
		slog.WarnContext(ctx, "Cache invalidation failed", "cache", r.name, "key", key, "error", err)
	}
}
