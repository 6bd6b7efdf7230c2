package loaders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BatchFunction is the function that performs the actual batch retrieval.
// Keys absent from the returned map resolve to the zero value for V, not an
// error: a missing node is an expected outcome on the read path.
type BatchFunction[K comparable, V any] func(context.Context, []K) (map[K]V, error)

// Result holds the result of a batch load operation
type Result[V any] struct {
	Value V
	Error error
}

// pendingRequest represents a pending load request
type pendingRequest[V any] struct {
	ctx    context.Context
	result chan Result[V]
}

// Batcher coalesces point lookups of one relation kind into batched
// retrievals. Lookups issued during a resolution pass collect in a pending
// key set; the flush point is the batch window expiring (or the batch size
// cap), at which all pending keys are dispatched as one call with repeated
// keys deduplicated.
type Batcher[K comparable, V any] struct {
	// Configuration
	batchFn      BatchFunction[K, V]
	batchWindow  time.Duration
	maxBatchSize int

	// State management
	pending map[K][]*pendingRequest[V]
	mu      sync.Mutex
	timer   *time.Timer

	// Metrics
	mtx           sync.RWMutex
	totalBatches  int64
	totalRequests int64
	batchSizeSum  int64

	logger *zap.Logger
}

// NewBatcher creates a new batcher
func NewBatcher[K comparable, V any](
	batchFn BatchFunction[K, V],
	batchWindow time.Duration,
	maxBatchSize int,
	logger *zap.Logger,
) *Batcher[K, V] {
	if batchWindow <= 0 {
		batchWindow = 10 * time.Millisecond
	}
	if maxBatchSize <= 0 {
		maxBatchSize = 25
	}

	return &Batcher[K, V]{
		batchFn:      batchFn,
		batchWindow:  batchWindow,
		maxBatchSize: maxBatchSize,
		pending:      make(map[K][]*pendingRequest[V]),
		logger:       logger,
	}
}

// Load loads a single value, batching with other concurrent requests.
// Repeated keys share one slot in the pending set, so every caller for a
// key receives the same retrieval outcome.
func (b *Batcher[K, V]) Load(ctx context.Context, key K) (V, error) {
	b.mu.Lock()

	resultChan := make(chan Result[V], 1)
	req := &pendingRequest[V]{
		ctx:    ctx,
		result: resultChan,
	}
	b.pending[key] = append(b.pending[key], req)

	b.mtx.Lock()
	b.totalRequests++
	b.mtx.Unlock()

	// Dispatch immediately when the distinct key set hits the cap.
	shouldDispatch := len(b.pending) >= b.maxBatchSize

	if b.timer == nil && !shouldDispatch {
		b.timer = time.AfterFunc(b.batchWindow, func() {
			b.dispatch()
		})
	} else if shouldDispatch {
		if b.timer != nil {
			b.timer.Stop()
			b.timer = nil
		}
		go b.dispatch()
	}

	b.mu.Unlock()

	select {
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	case result := <-resultChan:
		return result.Value, result.Error
	}
}

// LoadMany loads multiple values concurrently so they coalesce into the
// same batch window.
func (b *Batcher[K, V]) LoadMany(ctx context.Context, keys []K) (map[K]V, error) {
	results := make(map[K]V)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, key := range keys {
		wg.Add(1)
		go func(k K) {
			defer wg.Done()

			value, err := b.Load(ctx, k)
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

// dispatch executes the batch function for all pending requests
func (b *Batcher[K, V]) dispatch() {
	b.mu.Lock()

	if len(b.pending) == 0 {
		b.timer = nil
		b.mu.Unlock()
		return
	}

	keys := make([]K, 0, len(b.pending))
	requests := b.pending
	b.pending = make(map[K][]*pendingRequest[V])
	b.timer = nil

	for key := range requests {
		keys = append(keys, key)
	}

	b.mtx.Lock()
	b.totalBatches++
	b.batchSizeSum += int64(len(keys))
	b.mtx.Unlock()

	b.mu.Unlock()

	// Use the first still-live caller context for the retrieval.
	ctx := context.Background()
	for _, reqs := range requests {
		for _, req := range reqs {
			if req.ctx.Err() == nil {
				ctx = req.ctx
				break
			}
		}
	}

	startTime := time.Now()
	results, err := b.batchFn(ctx, keys)
	duration := time.Since(startTime)

	b.logger.Debug("Batch executed",
		zap.Int("requested", len(keys)),
		zap.Int("returned", len(results)),
		zap.Duration("duration", duration),
		zap.Error(err),
	)

	// Deliver results to waiting requests. A batch failure is shared by
	// every caller awaiting this batch; a key with no result resolves to
	// an explicit absent (zero value), not an error.
	for key, reqs := range requests {
		var result Result[V]

		if err != nil {
			result.Error = fmt.Errorf("batch load failed: %w", err)
		} else {
			result.Value = results[key]
		}

		for _, req := range reqs {
			select {
			case req.result <- result:
			case <-req.ctx.Done():
				// Request was cancelled, skip
			}
		}
	}
}

// Metrics returns batching counters. Tests use TotalBatches to assert that
// k lookups of one relation kind trigger exactly one batched retrieval.
func (b *Batcher[K, V]) Metrics() BatcherMetrics {
	b.mtx.RLock()
	defer b.mtx.RUnlock()

	avgBatchSize := float64(0)
	if b.totalBatches > 0 {
		avgBatchSize = float64(b.batchSizeSum) / float64(b.totalBatches)
	}

	return BatcherMetrics{
		TotalBatches:  b.totalBatches,
		TotalRequests: b.totalRequests,
		AvgBatchSize:  avgBatchSize,
	}
}

// BatcherMetrics holds metrics for the batcher
type BatcherMetrics struct {
	TotalBatches  int64
	TotalRequests int64
	AvgBatchSize  float64
}
