// Package cache provides a content-addressed read-through cache. A loader
// consults a durable store first and collapses concurrent misses for the
// same digest into a single computation.
package cache

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"horse.fit/svergie/internal/contenthash"
)

// Store is a durable map from content digests to computed values. Put must
// be idempotent for a given key; the loader may race replays against rows
// written by earlier runs.
type Store[V any] interface {
	Get(ctx context.Context, key contenthash.Digest) (V, bool, error)
	Put(ctx context.Context, key contenthash.Digest, value V) error
}

// ComputeFunc produces the value for one cache miss.
type ComputeFunc[V any] func(ctx context.Context) (V, error)

// Loader is a read-through cache over a Store. Concurrent Load calls for
// the same digest share one compute call; a failed compute is never
// persisted, and nothing is written once ctx is cancelled.
type Loader[V any] struct {
	store Store[V]
	group singleflight.Group
}

func NewLoader[V any](store Store[V]) *Loader[V] {
	return &Loader[V]{store: store}
}

// Load returns the cached value for key, computing and persisting it on a
// miss. The boolean reports whether the value came from the store.
func (l *Loader[V]) Load(ctx context.Context, key contenthash.Digest, compute ComputeFunc[V]) (V, bool, error) {
	var zero V

	value, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return zero, false, err
	}
	if ok {
		return value, true, nil
	}

	result, err, _ := l.group.Do(key.Hex(), func() (any, error) {
		// A concurrent caller may have finished between our miss and
		// acquiring the flight; check the store again before computing.
		value, ok, err := l.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			return value, nil
		}

		computed, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := l.store.Put(ctx, key, computed); err != nil {
			return nil, err
		}
		return computed, nil
	})
	if err != nil {
		return zero, false, err
	}

	typed, ok := result.(V)
	if !ok {
		return zero, false, fmt.Errorf("cache: unexpected value type %T for key %s", result, key)
	}
	return typed, false, nil
}
