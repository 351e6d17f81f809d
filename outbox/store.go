package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/corewave-ai/voicegateway/schema"
)

// Store is the durability boundary the Publisher depends on: it owns
// outbox_events and asserts every claim via a conditional UPDATE, never an
// in-memory lock (spec §3 Ownership: "a claimant lease is asserted via a
// conditional status update"). The Mark* settle methods update a row by id
// and do not re-check its current status.
type Store interface {
	// ClaimBatch atomically flips up to limit eligible pending rows to
	// 'publishing' and returns them ordered by createdAt, oldest first.
	// Eligible means status='pending' and, for rows that have already been
	// attempted, the exponential backoff window has elapsed.
	ClaimBatch(ctx context.Context, limit int) ([]*schema.OutboxRecord, error)
	// MarkPublished settles a claimed row as published.
	MarkPublished(ctx context.Context, id string, publishedAt time.Time) error
	// MarkRetry returns a claimed row to 'pending' with an incremented
	// attempts count and the failure recorded, eligible for reclaim once its
	// backoff window elapses.
	MarkRetry(ctx context.Context, id string, attempts int, errMsg string) error
	// MarkDeadLetter settles a claimed row as dead_letter.
	MarkDeadLetter(ctx context.Context, id string, attempts int, errMsg string) error
	// ReclaimStalePublishing returns 'publishing' rows whose claim lease has
	// expired (the claimant likely crashed mid-batch) back to 'pending', and
	// reports how many rows were reclaimed (spec §8 scenario 5).
	ReclaimStalePublishing(ctx context.Context, leaseAge time.Duration) (int64, error)
	// CountStalePending reports how many pending rows have waited longer
	// than staleAfter without being claimed (spec §4.10 stale detection);
	// it is a read-only observability signal, not a mutation.
	CountStalePending(ctx context.Context, staleAfter time.Duration) (int64, error)
}

// PgStore is the jackc/pgx/v5-backed Store implementation, grounded on the
// same pgxpool usage as retrieval/pgbackend.go.
type PgStore struct {
	pool          *pgxpool.Pool
	backoffBaseMs int64
	backoffCapMs  int64
}

// NewPgStore creates a PgStore. backoffBaseMs/backoffCapMs parameterize the
// exponential backoff window ClaimBatch uses to decide whether a previously
// failed row is eligible for retry yet (spec §4.10:
// min(1000*2^attempts, 30000) ms).
func NewPgStore(pool *pgxpool.Pool, backoffBaseMs, backoffCapMs int64) *PgStore {
	return &PgStore{pool: pool, backoffBaseMs: backoffBaseMs, backoffCapMs: backoffCapMs}
}

// claimBatchSQL selects eligible pending rows, skipping any concurrently
// locked by another claimant, and flips them to 'publishing' in the same
// statement so the claim is atomic even across multiple publisher replicas.
const claimBatchSQL = `
WITH eligible AS (
	SELECT id FROM outbox_events
	WHERE status = 'pending'
	  AND (attempts = 0 OR last_attempt_at <= now() - (LEAST($2, $3 * POWER(2, attempts)) * INTERVAL '1 millisecond'))
	ORDER BY created_at
	LIMIT $1
	FOR UPDATE SKIP LOCKED
)
UPDATE outbox_events o
SET status = 'publishing', last_attempt_at = now()
FROM eligible
WHERE o.id = eligible.id
RETURNING o.id, o.tenant_id, o.aggregate, o.aggregate_id, o.type, o.payload,
          o.correlation_id, o.created_at, o.published_at, o.attempts,
          o.max_attempts, o.last_attempt_at, o.error, o.status`

func (s *PgStore) ClaimBatch(ctx context.Context, limit int) ([]*schema.OutboxRecord, error) {
	rows, err := s.pool.Query(ctx, claimBatchSQL, limit, s.backoffCapMs, s.backoffBaseMs)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*schema.OutboxRecord, error) {
		r := &schema.OutboxRecord{}
		var payload []byte
		var status string
		if err := row.Scan(&r.ID, &r.TenantID, &r.Aggregate, &r.AggregateID, &r.Type, &payload,
			&r.CorrelationID, &r.CreatedAt, &r.PublishedAt, &r.Attempts, &r.MaxAttempts,
			&r.LastAttemptAt, &r.Error, &status); err != nil {
			return nil, err
		}
		r.Status = schema.OutboxStatus(status)
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &r.Payload)
		}
		return r, nil
	})
}

func (s *PgStore) MarkPublished(ctx context.Context, id string, publishedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE outbox_events SET status = 'published', published_at = $2 WHERE id = $1`,
		id, publishedAt)
	return err
}

func (s *PgStore) MarkRetry(ctx context.Context, id string, attempts int, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE outbox_events SET status = 'pending', attempts = $2, error = $3 WHERE id = $1`,
		id, attempts, errMsg)
	return err
}

func (s *PgStore) MarkDeadLetter(ctx context.Context, id string, attempts int, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE outbox_events SET status = 'dead_letter', attempts = $2, error = $3 WHERE id = $1`,
		id, attempts, errMsg)
	return err
}

func (s *PgStore) ReclaimStalePublishing(ctx context.Context, leaseAge time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outbox_events SET status = 'pending'
		 WHERE status = 'publishing' AND last_attempt_at <= now() - $1::interval`,
		leaseAge.String())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PgStore) CountStalePending(ctx context.Context, staleAfter time.Duration) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM outbox_events WHERE status = 'pending' AND created_at <= now() - $1::interval`,
		staleAfter.String()).Scan(&n)
	return n, err
}

var _ Store = (*PgStore)(nil)
