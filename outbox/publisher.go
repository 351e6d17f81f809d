// Package outbox implements the transactional outbox publisher (C10): the
// integrity spine that guarantees at-least-once, in-order-per-aggregate
// publication of domain events written in the same database transaction as
// business state. It polls outbox_events, claims rows with a conditional
// status update, publishes through an eventbus.Sink, and retries with
// exponential backoff before dead-lettering.
package outbox

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/corewave-ai/voicegateway/eventbus"
	"github.com/corewave-ai/voicegateway/internal/syncutil"
	"github.com/corewave-ai/voicegateway/o11y"
	"github.com/corewave-ai/voicegateway/schema"
)

// Defaults mirror spec §6's outbox.* configuration knobs.
const (
	DefaultBatchSize    = 100
	DefaultBackoffBase  = 1000 * time.Millisecond
	DefaultBackoffCap   = 30 * time.Second
	DefaultMaxAttempts  = schema.DefaultMaxAttempts
	DefaultStaleAfter   = 24 * time.Hour
	DefaultClaimLeaseAge = 60 * time.Second
)

// Publisher polls Store for pending rows and publishes them through Sink,
// serializing events that share an aggregateId while parallelizing across
// aggregates up to a worker-pool cap (spec §4.10).
type Publisher struct {
	store   Store
	sink    eventbus.Sink
	workers *syncutil.WorkerPool

	batchSize    int
	backoffBase  time.Duration
	backoffCap   time.Duration
	maxAttempts  int
	claimLeaseAge time.Duration
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) Option { return func(p *Publisher) { p.batchSize = n } }

// WithBackoff overrides the base/cap backoff delays.
func WithBackoff(base, capDelay time.Duration) Option {
	return func(p *Publisher) { p.backoffBase = base; p.backoffCap = capDelay }
}

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option { return func(p *Publisher) { p.maxAttempts = n } }

// WithClaimLeaseAge overrides DefaultClaimLeaseAge, the window after which a
// 'publishing' row is assumed abandoned by a crashed claimant.
func WithClaimLeaseAge(d time.Duration) Option { return func(p *Publisher) { p.claimLeaseAge = d } }

// NewPublisher creates a Publisher backed by store and sink, with a worker
// pool capped at maxWorkers concurrent aggregates.
func NewPublisher(store Store, sink eventbus.Sink, maxWorkers int, opts ...Option) *Publisher {
	p := &Publisher{
		store:         store,
		sink:          sink,
		workers:       syncutil.NewWorkerPool(maxWorkers),
		batchSize:     DefaultBatchSize,
		backoffBase:   DefaultBackoffBase,
		backoffCap:    DefaultBackoffCap,
		maxAttempts:   DefaultMaxAttempts,
		claimLeaseAge: DefaultClaimLeaseAge,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PollOnce claims one batch of eligible rows, groups them by aggregateId so
// that events sharing an aggregate publish strictly in createdAt order, and
// publishes each aggregate's group on its own worker — aggregates run
// concurrently up to the pool's cap, satisfying the single-writer-per-
// aggregate ordering guarantee (spec §4.10, §8 invariant).
func (p *Publisher) PollOnce(ctx context.Context) (int, error) {
	records, err := p.store.ClaimBatch(ctx, p.batchSize)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	groups := make(map[string][]*schema.OutboxRecord)
	var order []string
	for _, r := range records {
		if _, seen := groups[r.AggregateID]; !seen {
			order = append(order, r.AggregateID)
		}
		groups[r.AggregateID] = append(groups[r.AggregateID], r)
	}

	var wg sync.WaitGroup
	for _, aggID := range order {
		group := groups[aggID]
		wg.Add(1)
		err := p.workers.SubmitCtx(ctx, func() {
			defer wg.Done()
			p.publishGroup(ctx, group)
		})
		if err != nil {
			wg.Done()
			o11y.FromContext(ctx).Warn(ctx, "outbox: submit aggregate group", "aggregate_id", aggID, "error", err)
		}
	}
	wg.Wait()

	return len(records), nil
}

// publishGroup publishes every record in aggregateId order, strictly
// sequentially: a later event for the same aggregate must never be
// published before an earlier one (spec §8 invariant).
func (p *Publisher) publishGroup(ctx context.Context, group []*schema.OutboxRecord) {
	for _, r := range group {
		p.publishOne(ctx, r)
	}
}

func (p *Publisher) publishOne(ctx context.Context, r *schema.OutboxRecord) {
	log := o11y.FromContext(ctx)

	payload, err := json.Marshal(r.Payload)
	if err != nil {
		p.settleFailure(ctx, r, err)
		return
	}

	headers := map[string]string{
		"tenant_id": r.TenantID,
		"aggregate": r.Aggregate,
	}
	if r.CorrelationID != "" {
		headers["correlation_id"] = r.CorrelationID
	}

	topic := r.Aggregate + "." + r.Type
	pubErr := p.sink.Publish(ctx, topic, r.ID, payload, headers)
	if pubErr == nil {
		if err := p.store.MarkPublished(ctx, r.ID, time.Now()); err != nil {
			log.Error(ctx, "outbox: mark published", "id", r.ID, "error", err)
		}
		return
	}
	p.settleFailure(ctx, r, pubErr)
}

// settleFailure decides between another retry and dead-lettering, per
// spec §4.10: attempts increments every failure; once attempts reaches
// maxAttempts (or the sink classifies the failure as PERMANENT), the row is
// dead-lettered instead of returned to pending.
func (p *Publisher) settleFailure(ctx context.Context, r *schema.OutboxRecord, cause error) {
	log := o11y.FromContext(ctx)
	attempts := r.Attempts + 1
	maxAttempts := r.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = p.maxAttempts
	}

	if eventbus.IsPermanent(cause) || attempts >= maxAttempts {
		if err := p.store.MarkDeadLetter(ctx, r.ID, attempts, cause.Error()); err != nil {
			log.Error(ctx, "outbox: mark dead letter", "id", r.ID, "error", err)
		}
		return
	}
	if err := p.store.MarkRetry(ctx, r.ID, attempts, cause.Error()); err != nil {
		log.Error(ctx, "outbox: mark retry", "id", r.ID, "error", err)
	}
}

// Reap reclaims 'publishing' rows whose claim lease has expired, returning
// them to 'pending' so a surviving publisher replica can pick them back up
// (spec §8 scenario 5: crash recovery).
func (p *Publisher) Reap(ctx context.Context) (int64, error) {
	return p.store.ReclaimStalePublishing(ctx, p.claimLeaseAge)
}

// Run polls on interval until ctx is cancelled. Each tick also reaps stale
// claims before polling for new work.
func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	log := o11y.FromContext(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.workers.Close()
			return
		case <-ticker.C:
			if n, err := p.Reap(ctx); err != nil {
				log.Error(ctx, "outbox: reap", "error", err)
			} else if n > 0 {
				log.Warn(ctx, "outbox: reclaimed stale publishing rows", "count", n)
			}
			if _, err := p.PollOnce(ctx); err != nil {
				log.Error(ctx, "outbox: poll", "error", err)
			}
		}
	}
}
