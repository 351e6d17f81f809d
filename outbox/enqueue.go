package outbox

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/corewave-ai/voicegateway/schema"
)

// NewRecord builds an OutboxRecord ready for Enqueue: a fresh id, status
// pending, zero attempts (spec §3 invariants).
func NewRecord(tenantID, aggregate, aggregateID, eventType string, payload map[string]any, correlationID string, maxAttempts int) *schema.OutboxRecord {
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &schema.OutboxRecord{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		Aggregate:     aggregate,
		AggregateID:   aggregateID,
		Type:          eventType,
		Payload:       payload,
		CorrelationID: correlationID,
		MaxAttempts:   maxAttempts,
		Status:        schema.OutboxPending,
	}
}

// Enqueuer is the write-side of the outbox: appending a row in the same
// database transaction as the business state change it describes (spec §3
// Ownership, §4.10: "the integrity spine"). It is deliberately separate from
// Store, whose ClaimBatch/Mark* methods belong to the publisher side only.
type Enqueuer interface {
	Enqueue(ctx context.Context, rec *schema.OutboxRecord) error
}

// pgxQuerier is the minimal pgx capability Enqueue needs. Both
// *pgxpool.Pool and pgx.Tx implement Exec with this signature, so a
// PgEnqueuer can be bound to either — a caller inside a larger business
// transaction passes its pgx.Tx to get same-transaction durability.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PgEnqueuer inserts outbox rows through whatever pgxQuerier it is bound to.
type PgEnqueuer struct {
	exec pgxQuerier
}

// NewPgEnqueuer binds an Enqueuer to pool.
func NewPgEnqueuer(pool *pgxpool.Pool) *PgEnqueuer {
	return &PgEnqueuer{exec: pool}
}

// NewPgEnqueuerTx binds an Enqueuer to an in-flight transaction, so the
// outbox row commits atomically with the business state it describes.
func NewPgEnqueuerTx(tx pgxQuerier) *PgEnqueuer {
	return &PgEnqueuer{exec: tx}
}

const insertSQL = `
INSERT INTO outbox_events
	(id, tenant_id, aggregate, aggregate_id, type, payload, correlation_id,
	 created_at, attempts, max_attempts, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, now(), 0, $8, 'pending')`

func (e *PgEnqueuer) Enqueue(ctx context.Context, rec *schema.OutboxRecord) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return err
	}
	_, err = e.exec.Exec(ctx, insertSQL,
		rec.ID, rec.TenantID, rec.Aggregate, rec.AggregateID, rec.Type, payload,
		rec.CorrelationID, rec.MaxAttempts)
	return err
}

var _ Enqueuer = (*PgEnqueuer)(nil)
