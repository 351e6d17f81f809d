package schema

import "time"

// OutboxStatus is the lifecycle state of an OutboxRecord (spec §3).
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxPublishing OutboxStatus = "publishing"
	OutboxPublished  OutboxStatus = "published"
	OutboxFailed     OutboxStatus = "failed"
	OutboxDeadLetter OutboxStatus = "dead_letter"
)

// DefaultMaxAttempts is the default retry budget before dead-lettering
// (spec §3, §6 configuration knobs).
const DefaultMaxAttempts = 5

// OutboxRecord is a row in outbox_events (spec §3, §6). It is owned by the
// database; a claimant lease is asserted via a conditional status update,
// never held in memory as the source of truth.
type OutboxRecord struct {
	ID            string
	TenantID      string
	Aggregate     string
	AggregateID   string
	Type          string
	Payload       map[string]any
	CorrelationID string
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Attempts      int
	MaxAttempts   int
	LastAttemptAt *time.Time
	Error         string
	Status        OutboxStatus
}

// Valid checks the OutboxRecord invariants from spec §3.
func (r *OutboxRecord) Valid() bool {
	if r.Attempts > r.MaxAttempts {
		return false
	}
	if r.Status == OutboxPublished && r.PublishedAt == nil {
		return false
	}
	if r.Status == OutboxDeadLetter && r.Attempts < r.MaxAttempts {
		return false
	}
	return true
}

// NextBackoff computes the delay before a pending row may be retried again,
// per spec §4.10: min(1000 * 2^attempts, 30000) ms.
func NextBackoff(attempts int, baseMs, capMs int64) time.Duration {
	delay := baseMs
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= capMs {
			delay = capMs
			break
		}
	}
	if delay > capMs {
		delay = capMs
	}
	return time.Duration(delay) * time.Millisecond
}
