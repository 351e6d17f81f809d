package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corewave-ai/voicegateway/eventbus"
	"github.com/corewave-ai/voicegateway/schema"
)

func newRecord(id, aggregateID string, createdAt time.Time) *schema.OutboxRecord {
	return &schema.OutboxRecord{
		ID:          id,
		TenantID:    "tenant-1",
		Aggregate:   "cart",
		AggregateID: aggregateID,
		Type:        "item_added",
		Payload:     map[string]any{"sku": "abc"},
		CreatedAt:   createdAt,
		MaxAttempts: DefaultMaxAttempts,
		Status:      schema.OutboxPending,
	}
}

func TestPublisherPollOnceClaimsAndPublishes(t *testing.T) {
	store := newFakeStore()
	sink := eventbus.NewLocalSink()
	now := time.Now()
	store.put(newRecord("evt-1", "agg-1", now))
	store.put(newRecord("evt-2", "agg-2", now.Add(time.Millisecond)))

	p := NewPublisher(store, sink, 4)
	n, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Len(t, sink.Published(), 2)
	assert.Equal(t, schema.OutboxPublished, store.get("evt-1").Status)
	assert.Equal(t, schema.OutboxPublished, store.get("evt-2").Status)
	assert.NotNil(t, store.get("evt-1").PublishedAt)
}

func TestPublisherRetriesTransientFailureUnderMaxAttempts(t *testing.T) {
	store := newFakeStore()
	failing := &failingSink{err: errors.New("broker unavailable")}
	r := newRecord("evt-1", "agg-1", time.Now())
	r.MaxAttempts = 3
	store.put(r)

	p := NewPublisher(store, failing, 2)
	_, err := p.PollOnce(context.Background())
	require.NoError(t, err)

	got := store.get("evt-1")
	assert.Equal(t, schema.OutboxPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Contains(t, got.Error, "broker unavailable")
}

func TestPublisherDeadLettersOnAttemptsExhausted(t *testing.T) {
	store := newFakeStore()
	failing := &failingSink{err: errors.New("broker unavailable")}
	r := newRecord("evt-1", "agg-1", time.Now())
	r.MaxAttempts = 1
	store.put(r)

	p := NewPublisher(store, failing, 2)
	_, err := p.PollOnce(context.Background())
	require.NoError(t, err)

	got := store.get("evt-1")
	assert.Equal(t, schema.OutboxDeadLetter, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestPublisherDeadLettersOnPermanentError(t *testing.T) {
	store := newFakeStore()
	failing := &failingSink{err: &eventbus.PublishError{Err: errors.New("bad subject"), Permanent: true}}
	r := newRecord("evt-1", "agg-1", time.Now())
	r.MaxAttempts = 5
	store.put(r)

	p := NewPublisher(store, failing, 2)
	_, err := p.PollOnce(context.Background())
	require.NoError(t, err)

	got := store.get("evt-1")
	assert.Equal(t, schema.OutboxDeadLetter, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestPublisherPublishesSameAggregateInCreatedOrder(t *testing.T) {
	store := newFakeStore()
	var order orderingSink
	base := time.Now()
	store.put(newRecord("evt-2", "agg-1", base.Add(2*time.Millisecond)))
	store.put(newRecord("evt-1", "agg-1", base))
	store.put(newRecord("evt-3", "agg-1", base.Add(4*time.Millisecond)))

	p := NewPublisher(store, &order, 4)
	_, err := p.PollOnce(context.Background())
	require.NoError(t, err)

	order.mu.Lock()
	defer order.mu.Unlock()
	require.Equal(t, []string{"evt-1", "evt-2", "evt-3"}, order.keys)
}

func TestPublisherReapReclaimsStalePublishing(t *testing.T) {
	store := newFakeStore()
	stale := time.Now().Add(-2 * time.Minute)
	r := newRecord("evt-1", "agg-1", stale)
	r.Status = schema.OutboxPublishing
	r.LastAttemptAt = &stale
	store.put(r)

	p := NewPublisher(store, eventbus.NewLocalSink(), 2, WithClaimLeaseAge(time.Minute))
	n, err := p.Reap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, schema.OutboxPending, store.get("evt-1").Status)
}

type failingSink struct {
	err error
}

func (f *failingSink) Publish(_ context.Context, _, _ string, _ []byte, _ map[string]string) error {
	return f.err
}
func (f *failingSink) Close() error { return nil }

var _ eventbus.Sink = (*failingSink)(nil)

type orderingSink struct {
	mu   sync.Mutex
	keys []string
}

func (s *orderingSink) Publish(_ context.Context, _, key string, _ []byte, _ map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	return nil
}
func (s *orderingSink) Close() error { return nil }

var _ eventbus.Sink = (*orderingSink)(nil)
