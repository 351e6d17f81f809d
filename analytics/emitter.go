// Package analytics implements the analytics emitter (C12): emission of
// per-turn, per-tool, per-search events, always written through the outbox
// path rather than directly to a sink (spec §4.12). Each call writes one
// outbox row immediately; events are not batched. It is a thin
// wrapper grounded on the teacher's pkg/orchestration/messagebus
// MessageBus.Publish shape, re-pointed at outbox.Enqueuer instead of an
// in-process subscriber fan-out.
package analytics

import (
	"context"
	"time"

	"github.com/corewave-ai/voicegateway/outbox"
	"github.com/corewave-ai/voicegateway/schema"
)

const (
	aggregateTurn   = "turn"
	aggregateTool   = "tool"
	aggregateSearch = "search"

	eventTurnCompleted  = "universal_agent_completed"
	eventToolExecuted   = "ai.tool_executed"
	eventSearchExecuted = "search.hybrid_executed"
)

// Emitter writes analytics events as outbox rows. It never talks to
// eventbus.Sink directly — every event rides the same claim/publish/retry
// path as domain events, so an analytics write failure degrades to "delayed"
// rather than "lost" (spec §4.12).
type Emitter struct {
	enqueuer    outbox.Enqueuer
	maxAttempts int
}

// NewEmitter creates an Emitter writing through enqueuer. maxAttempts of 0
// uses outbox.DefaultMaxAttempts.
func NewEmitter(enqueuer outbox.Enqueuer, maxAttempts int) *Emitter {
	return &Emitter{enqueuer: enqueuer, maxAttempts: maxAttempts}
}

// TurnCompleted emits universal_agent_completed for one finished turn,
// summarizing intent, slot/clarification/confirmation state, tool and search
// counts, and elapsed wall time (spec §4.12).
func (e *Emitter) TurnCompleted(ctx context.Context, tenantID string, turn *schema.TurnState, startedAt time.Time) error {
	payload := map[string]any{
		"session_id":            turn.SessionID,
		"needs_clarification":   turn.NeedsClarification,
		"needs_confirmation":    turn.NeedsConfirmation,
		"confirmation_received": turn.ConfirmationReceived,
		"tool_count":            len(turn.ToolResults),
		"search_count":          len(turn.SearchResults),
		"tool_loops":            turn.ToolLoops,
		"duration_ms":           time.Since(startedAt).Milliseconds(),
		"tokens_reserved":       turn.ResourceUsage.TokensReserved,
		"tokens_committed":      turn.ResourceUsage.TokensCommitted,
		"actions_committed":     turn.ResourceUsage.ActionsCommitted,
		"had_error":             turn.Error != nil,
	}
	if turn.Intent != nil {
		payload["intent"] = string(*turn.Intent)
	}
	if turn.SlotFrame != nil {
		payload["resolved_slot_count"] = len(turn.SlotFrame.ResolvedSlots)
		payload["missing_slot_count"] = len(turn.SlotFrame.MissingSlots)
	}

	rec := outbox.NewRecord(tenantID, aggregateTurn, turn.SessionID, eventTurnCompleted, payload, turn.SessionID, e.maxAttempts)
	return e.enqueuer.Enqueue(ctx, rec)
}

// ToolExecuted emits ai.tool_executed for one dispatcher call (spec §4.12).
func (e *Emitter) ToolExecuted(ctx context.Context, tenantID, sessionID string, result schema.ToolResult) error {
	payload := map[string]any{
		"session_id":   sessionID,
		"tool_name":    result.ToolName,
		"success":      result.Success,
		"duration_ms":  result.DurationMs,
		"side_effects": result.SideEffects,
	}
	if !result.Success {
		payload["error"] = result.Error
	}

	rec := outbox.NewRecord(tenantID, aggregateTool, sessionID, eventToolExecuted, payload, sessionID, e.maxAttempts)
	return e.enqueuer.Enqueue(ctx, rec)
}

// SearchExecuted emits search.hybrid_executed for one retrieval call (spec
// §4.12).
func (e *Emitter) SearchExecuted(ctx context.Context, tenantID, sessionID string, query string, resultCount int, durationMs int64) error {
	payload := map[string]any{
		"session_id":   sessionID,
		"query":        query,
		"result_count": resultCount,
		"duration_ms":  durationMs,
	}

	rec := outbox.NewRecord(tenantID, aggregateSearch, sessionID, eventSearchExecuted, payload, sessionID, e.maxAttempts)
	return e.enqueuer.Enqueue(ctx, rec)
}
