package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corewave-ai/voicegateway/schema"
)

type fakeEnqueuer struct {
	records []*schema.OutboxRecord
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, rec *schema.OutboxRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func TestEmitterTurnCompletedWritesExpectedShape(t *testing.T) {
	q := &fakeEnqueuer{}
	e := NewEmitter(q, 3)

	intent := schema.IntentFindProducts
	turn := &schema.TurnState{
		SessionID: "sess-1",
		Intent:    &intent,
		SlotFrame: &schema.SlotFrame{
			ResolvedSlots: []string{"category"},
			MissingSlots:  []string{"price"},
		},
		ToolResults:   []schema.ToolResult{{ToolName: "search"}},
		SearchResults: []schema.SearchResult{{ID: "r1"}},
	}

	require.NoError(t, e.TurnCompleted(context.Background(), "tenant-1", turn, time.Now().Add(-50*time.Millisecond)))

	require.Len(t, q.records, 1)
	rec := q.records[0]
	assert.Equal(t, "tenant-1", rec.TenantID)
	assert.Equal(t, aggregateTurn, rec.Aggregate)
	assert.Equal(t, "sess-1", rec.AggregateID)
	assert.Equal(t, eventTurnCompleted, rec.Type)
	assert.Equal(t, "find_products", rec.Payload["intent"])
	assert.Equal(t, 1, rec.Payload["tool_count"])
	assert.Equal(t, 1, rec.Payload["search_count"])
	assert.Equal(t, 3, rec.MaxAttempts)
}

func TestEmitterToolExecutedRecordsFailure(t *testing.T) {
	q := &fakeEnqueuer{}
	e := NewEmitter(q, 0)

	result := schema.ToolResult{ToolName: "book_appointment", Success: false, Error: "timeout", DurationMs: 1200}
	require.NoError(t, e.ToolExecuted(context.Background(), "tenant-1", "sess-1", result))

	require.Len(t, q.records, 1)
	assert.Equal(t, "timeout", q.records[0].Payload["error"])
	assert.Equal(t, false, q.records[0].Payload["success"])
}

func TestEmitterSearchExecuted(t *testing.T) {
	q := &fakeEnqueuer{}
	e := NewEmitter(q, 0)

	require.NoError(t, e.SearchExecuted(context.Background(), "tenant-1", "sess-1", "red shoes", 8, 120))

	require.Len(t, q.records, 1)
	assert.Equal(t, eventSearchExecuted, q.records[0].Type)
	assert.Equal(t, 8, q.records[0].Payload["result_count"])
}
