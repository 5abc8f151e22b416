package biz

import (
	"context"
	"time"

	"shortly/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	defaultIdleSleep  = 10 * time.Second
	defaultRetrySleep = 5 * time.Second
)

// ClickMessage is one click event read from the log, carrying the opaque log
// offset needed to acknowledge it.
type ClickMessage struct {
	ID        string
	ShortCode string
	ClientIP  string
}

// ClickEventSource reads click events through a durable consumer group.
type ClickEventSource interface {
	// EnsureGroup creates the consumer group if absent. An already-existing
	// group is success, not an error.
	EnsureGroup(ctx context.Context) error
	// ReadBatch blocks for a bounded wait and returns up to the configured
	// batch count of entries for the named consumer. An empty slice means
	// the wait elapsed without new entries.
	ReadBatch(ctx context.Context, consumer string) ([]*ClickMessage, error)
	// Ack acknowledges processed entries for the group.
	Ack(ctx context.Context, ids ...string) error
}

// ClickAggregate is a per (short code, country) click count delta or row.
type ClickAggregate struct {
	ShortCode   string
	CountryCode string
	Count       int64
}

// ClickAggregateRepo persists aggregates. AddCounts must apply all deltas of
// a batch in one transaction.
type ClickAggregateRepo interface {
	AddCounts(ctx context.Context, deltas []*ClickAggregate) error
	TotalClicks(ctx context.Context, shortCode string) (int64, error)
}

// CountryResolver derives a country code from a client IP.
type CountryResolver func(ip string) string

// NewCountryResolver returns the default resolver. Real geolocation is
// deployment-specific; the placeholder keeps the aggregation keyspace stable
// until a lookup database is wired in.
func NewCountryResolver() CountryResolver {
	return func(string) string { return "XX" }
}

// ClickAggregator is the long-running click aggregation worker.
//
// Each loop reads a batch from the event log, sums it into per
// (short code, country) deltas, persists all deltas in one transaction and
// only then acknowledges the entries. A crash after commit but before the
// acknowledgment redelivers the batch and over-counts it; that at-least-once
// trade-off is accepted for analytics.
type ClickAggregator struct {
	source   ClickEventSource
	repo     ClickAggregateRepo
	resolve  CountryResolver
	consumer string

	idleSleep  time.Duration
	retrySleep time.Duration

	log *log.Helper
}

// NewClickAggregator creates the worker. The consumer name is the group name
// plus a random suffix so that concurrently running processes in the same
// group read disjoint entries.
func NewClickAggregator(
	source ClickEventSource,
	repo ClickAggregateRepo,
	resolve CountryResolver,
	c *conf.Consumer,
	logger log.Logger,
) *ClickAggregator {
	return &ClickAggregator{
		source:     source,
		repo:       repo,
		resolve:    resolve,
		consumer:   c.Group + "-" + uuid.NewString(),
		idleSleep:  c.IdleSleep.AsDuration(defaultIdleSleep),
		retrySleep: c.RetrySleep.AsDuration(defaultRetrySleep),
		log:        log.NewHelper(logger),
	}
}

// Run executes the consume loop until ctx is cancelled. Group setup failure
// is fatal; everything after that is retried indefinitely.
func (a *ClickAggregator) Run(ctx context.Context) error {
	if err := a.source.EnsureGroup(ctx); err != nil {
		return err
	}
	a.log.Infof("click aggregator started, consumer %s", a.consumer)

	// A batch that failed to persist is retained and retried before any new
	// read, so its entries are never acknowledged out of order.
	var pending []*ClickMessage

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if len(pending) == 0 {
			batch, err := a.source.ReadBatch(ctx, a.consumer)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				a.log.Warnf("reading click batch: %v", err)
				if !sleep(ctx, a.retrySleep) {
					return ctx.Err()
				}
				continue
			}
			if len(batch) == 0 {
				if !sleep(ctx, a.idleSleep) {
					return ctx.Err()
				}
				continue
			}
			pending = batch
		}

		deltas := a.aggregate(pending)
		if err := a.repo.AddCounts(ctx, deltas); err != nil {
			a.log.Errorf("persisting %d click aggregates: %v", len(deltas), err)
			if !sleep(ctx, a.retrySleep) {
				return ctx.Err()
			}
			continue
		}

		ids := lo.Map(pending, func(m *ClickMessage, _ int) string { return m.ID })
		if err := a.source.Ack(ctx, ids...); err != nil {
			// Aggregates are committed; a failed ack means redelivery and
			// over-counting, not data loss.
			a.log.Warnf("acknowledging %d click entries: %v", len(ids), err)
		}

		a.log.Infof("ingested %d click events into %d aggregates", len(pending), len(deltas))
		pending = nil
	}
}

type aggregateKey struct {
	shortCode string
	country   string
}

// aggregate sums a batch by (short code, derived country). Entry order
// within the batch is irrelevant to the sums.
func (a *ClickAggregator) aggregate(batch []*ClickMessage) []*ClickAggregate {
	counts := make(map[aggregateKey]int64, len(batch))
	for _, m := range batch {
		counts[aggregateKey{shortCode: m.ShortCode, country: a.resolve(m.ClientIP)}]++
	}

	return lo.MapToSlice(counts, func(k aggregateKey, n int64) *ClickAggregate {
		return &ClickAggregate{ShortCode: k.shortCode, CountryCode: k.country, Count: n}
	})
}

// sleep waits for d or until ctx is cancelled, reporting whether the full
// wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
