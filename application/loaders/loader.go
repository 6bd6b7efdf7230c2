package loaders

import (
	"context"
	"sync"
)

// Loader memoizes batch results on top of a Batcher. It is scoped to one
// request context: repeated lookups of an already-resolved key return the
// cached result without another store call, and nothing is shared across
// requests.
type Loader[K comparable, V any] struct {
	batcher *Batcher[K, V]

	mu    sync.Mutex
	cache map[K]Result[V]
}

// NewLoader wraps a batcher with a per-request memo cache.
func NewLoader[K comparable, V any](batcher *Batcher[K, V]) *Loader[K, V] {
	return &Loader[K, V]{
		batcher: batcher,
		cache:   make(map[K]Result[V]),
	}
}

// Load returns the memoized result for key, or batches a retrieval on a
// miss. Concurrent first loads of the same key are deduplicated by the
// batcher's pending set, so the underlying retrieval still happens once.
func (l *Loader[K, V]) Load(ctx context.Context, key K) (V, error) {
	l.mu.Lock()
	if cached, ok := l.cache[key]; ok {
		l.mu.Unlock()
		return cached.Value, cached.Error
	}
	l.mu.Unlock()

	value, err := l.batcher.Load(ctx, key)

	l.mu.Lock()
	l.cache[key] = Result[V]{Value: value, Error: err}
	l.mu.Unlock()

	return value, err
}

// LoadMany resolves many keys, memoized individually.
func (l *Loader[K, V]) LoadMany(ctx context.Context, keys []K) (map[K]V, error) {
	results := make(map[K]V, len(keys))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, key := range keys {
		wg.Add(1)
		go func(k K) {
			defer wg.Done()

			value, err := l.Load(ctx, k)
			mu.Lock()
			defer mu.Unlock()

			if err != nil && firstErr == nil {
				firstErr = err
			} else if err == nil {
				results[k] = value
			}
		}(key)
	}

	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// Prime seeds the cache for a key, typically from a result that arrived as
// a side effect of another relation's batch.
func (l *Loader[K, V]) Prime(key K, value V) {
	l.mu.Lock()
	if _, ok := l.cache[key]; !ok {
		l.cache[key] = Result[V]{Value: value}
	}
	l.mu.Unlock()
}

// Metrics exposes the underlying batcher counters.
func (l *Loader[K, V]) Metrics() BatcherMetrics {
	return l.batcher.Metrics()
}
