package biz

import (
	"context"
	"fmt"
	"sync"

	"shortly/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

const (
	defaultCounterKey  = "short_link_ids"
	defaultIDBatchSize = 1000
)

// CounterStore is the durable backing for ID allocation: a named counter
// supporting an atomic add-and-return update. The update must be serialized
// by the store itself so that concurrent callers across processes never
// observe overlapping ranges.
type CounterStore interface {
	AddAndReturn(ctx context.Context, key string, delta int64) (int64, error)
}

// IDAllocator hands out globally unique integer IDs for one named counter.
//
// It holds a lease of a contiguous range obtained from the CounterStore in a
// single atomic refill, then issues IDs from the lease without touching
// storage. IDs are strictly increasing within one allocator instance; ranges
// issued by different instances sharing the counter never overlap. IDs left
// unissued in the lease are forfeited when the process exits.
type IDAllocator struct {
	store     CounterStore
	key       string
	batchSize int64
	log       *log.Helper

	mu   sync.Mutex
	next int64 // next unissued ID
	max  int64 // last ID of the lease, inclusive
}

// NewIDAllocator creates an allocator for the configured counter key.
// Construct one per process and share it; the mutex only coordinates
// goroutines within this instance.
func NewIDAllocator(store CounterStore, c *conf.Shortener, logger log.Logger) *IDAllocator {
	key := c.CounterKey
	if key == "" {
		key = defaultCounterKey
	}
	batch := c.IDBatchSize
	if batch <= 0 {
		batch = defaultIDBatchSize
	}
	return &IDAllocator{
		store:     store,
		key:       key,
		batchSize: batch,
		log:       log.NewHelper(logger),
		next:      0,
		max:       -1, // empty lease until the first refill
	}
}

// NextID returns the next unique ID, refilling the lease from the counter
// store when exhausted. A refill failure leaves the lease untouched and
// surfaces as a retryable error.
func (a *IDAllocator) NextID(ctx context.Context) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.next > a.max {
		if err := a.refill(ctx); err != nil {
			return 0, err
		}
	}

	id := a.next
	a.next++
	return id, nil
}

func (a *IDAllocator) refill(ctx context.Context) error {
	newMax, err := a.store.AddAndReturn(ctx, a.key, a.batchSize)
	if err != nil {
		return fmt.Errorf("refill id lease for counter %q: %w", a.key, err)
	}

	a.next = newMax - a.batchSize
	a.max = newMax - 1
	a.log.WithContext(ctx).Debugf("refilled id lease for %q: [%d, %d]", a.key, a.next, a.max)
	return nil
}
