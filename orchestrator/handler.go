package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/corewave-ai/voicegateway/dispatcher"
	"github.com/corewave-ai/voicegateway/gateway"
	"github.com/corewave-ai/voicegateway/o11y"
	"github.com/corewave-ai/voicegateway/orchestration"
	"github.com/corewave-ai/voicegateway/realtime"
	"github.com/corewave-ai/voicegateway/schema"
)

// session is the orchestrator's per-connection bookkeeping, distinct from
// gateway.Session (which owns the websocket and fan-out channel): here we
// only keep what a turn needs between invocations — the auth claims, the
// fan-out channel, and a pending execState when a turn is parked waiting on
// a confirmation reply (spec §4.7 confirmActions).
type session struct {
	mu      sync.Mutex
	auth    schema.Auth
	out     chan<- any
	pending *execState
}

// Handler implements gateway.TurnHandler (C4's orchestrator-facing
// interface), turning realtime.Provider events and gateway control messages
// into orchestration.Graph turns (spec §4.3/§4.7).
type Handler struct {
	Deps
	Provider realtime.Provider

	full   *orchestration.Graph
	resume *orchestration.Graph

	mu       sync.Mutex
	sessions map[string]*session
}

// NewHandler builds a Handler and its two graph instances.
func NewHandler(deps Deps, provider realtime.Provider) (*Handler, error) {
	full, resume, err := deps.BuildGraphs()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: building graphs: %w", err)
	}
	return &Handler{
		Deps:     deps,
		Provider: provider,
		full:     full,
		resume:   resume,
		sessions: make(map[string]*session),
	}, nil
}

var _ gateway.TurnHandler = (*Handler)(nil)

func (h *Handler) StartSession(ctx context.Context, sessionID string, auth schema.Auth, out chan<- any) error {
	events, err := h.Provider.Connect(ctx, sessionID, auth)
	if err != nil {
		return err
	}

	sess := &session{auth: auth, out: out}
	h.mu.Lock()
	h.sessions[sessionID] = sess
	h.mu.Unlock()

	go h.pumpProviderEvents(ctx, sessionID, events)
	return nil
}

func (h *Handler) EndSession(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	delete(h.sessions, sessionID)
	h.mu.Unlock()
	_ = h.Checkpoints.Delete(ctx, sessionID)
	return h.Provider.Close(ctx, sessionID)
}

func (h *Handler) HandleAudioFrame(ctx context.Context, sessionID string, f *schema.AudioFrame) error {
	return h.Provider.SendAudio(ctx, sessionID, f)
}

func (h *Handler) HandleControl(ctx context.Context, sessionID string, msg any) error {
	switch m := msg.(type) {
	case gateway.ClientTextInput:
		return h.runTurn(ctx, sessionID, m.Text)
	case gateway.ClientVoiceCommand:
		return h.runTurn(ctx, sessionID, m.Command)
	case gateway.ClientControlMsg:
		if m.Action == gateway.ActionInterruptTTS {
			return h.Provider.Cancel(ctx, sessionID)
		}
		return nil
	case gateway.ClientVoiceStart, gateway.ClientVoiceEnd:
		return nil
	default:
		return nil
	}
}

func (h *Handler) sessionFor(sessionID string) (*session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess, ok := h.sessions[sessionID]
	return sess, ok
}

// pumpProviderEvents forwards realtime.Provider events to the gateway's
// outbound channel, translating ASR transcriptions into orchestrator turns
// (spec §4.3 Provider -> §4.4 gateway event mapping).
func (h *Handler) pumpProviderEvents(ctx context.Context, sessionID string, events <-chan realtime.Event) {
	log := o11y.FromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.dispatchProviderEvent(ctx, sessionID, ev, log)
		}
	}
}

func (h *Handler) dispatchProviderEvent(ctx context.Context, sessionID string, ev realtime.Event, log *o11y.Logger) {
	sess, ok := h.sessionFor(sessionID)
	if !ok {
		return
	}

	switch ev.Type {
	case realtime.EventSpeechStarted:
		sess.out <- gateway.VADEvent{Type: gateway.TypeVAD, Active: true}
	case realtime.EventSpeechStopped:
		sess.out <- gateway.VADEvent{Type: gateway.TypeVAD, Active: false}
	case realtime.EventTranscription:
		if ev.TranscriptKind == realtime.TranscriptionFinal {
			sess.out <- gateway.FinalASREvent{Type: gateway.TypeFinalASR, Text: ev.Text, Lang: ev.Lang}
			if err := h.runTurn(ctx, sessionID, ev.Text); err != nil {
				log.Error(ctx, "orchestrator: turn failed", "session_id", sessionID, "error", err)
			}
		} else {
			conf := 0.0
			if ev.Confidence != nil {
				conf = *ev.Confidence
			}
			sess.out <- gateway.PartialASREvent{Type: gateway.TypePartialASR, Text: ev.Text, Confidence: &conf}
		}
	case realtime.EventAgentDelta:
		sess.out <- gateway.AgentDeltaEvent{Type: gateway.TypeAgentDelta, Text: ev.Chunk.Text}
	case realtime.EventFunctionCall:
		h.executeUpstreamCall(ctx, sessionID, sess, ev)
	case realtime.EventConversationInterrupted:
		sess.out <- gateway.SimpleEvent{Type: gateway.TypeBargeIn}
	case realtime.EventError:
		sess.out <- gateway.ErrorEvent{Type: gateway.TypeErrorEvent, Code: ev.ErrorCode, Message: ev.ErrorMessage}
	}
}

// executeUpstreamCall runs a function call proposed directly by the
// realtime provider through the same dispatcher the orchestrator graph
// uses, so C8's validation/authorization/security/history guarantees apply
// uniformly regardless of which side of the system proposed the call. A
// write/destructive action is gated through the same HITL auto-approval
// check confirmActions applies to client-originated turns before it
// executes (spec §8: no write/destructive action runs before
// confirmationReceived=true).
func (h *Handler) executeUpstreamCall(ctx context.Context, sessionID string, sess *session, ev realtime.Event) {
	sess.mu.Lock()
	auth := sess.auth
	sess.mu.Unlock()

	if err := h.confirmUpstreamCall(ctx, auth, ev); err != nil {
		sess.out <- gateway.AgentToolEvent{Type: gateway.TypeAgentTool, ActionName: ev.Name, Status: "confirmation_required"}
		sess.out <- gateway.ErrorEvent{Type: gateway.TypeErrorEvent, Code: string(schema.Code(err)), Message: err.Error()}
		return
	}

	sess.out <- gateway.AgentToolEvent{Type: gateway.TypeAgentTool, ActionName: ev.Name, Status: "started"}
	result, err := h.Dispatcher.Execute(ctx, dispatcher.ExecuteRequest{
		SiteID: auth.SiteID, TenantID: auth.TenantID, Subject: auth.UserID,
		ActionName: ev.Name, Parameters: ev.Args,
	})
	status := "succeeded"
	if err != nil || !result.Success {
		status = "failed"
	}
	sess.out <- gateway.AgentToolEvent{Type: gateway.TypeAgentTool, ActionName: ev.Name, Status: status}

	if h.Analytics != nil {
		_ = h.Analytics.ToolExecuted(ctx, auth.TenantID, sessionID, result)
	}
}

// confirmUpstreamCall looks up ev.Name's registered side-effect class and,
// for write/destructive actions, requires the same auto-approval HITL would
// grant a client-originated plan item; an unregistered or read/safe action
// needs no confirmation (dispatcher.Execute still rejects the former with
// ACTION_NOT_FOUND).
func (h *Handler) confirmUpstreamCall(ctx context.Context, auth schema.Auth, ev realtime.Event) error {
	action, ok := h.Dispatcher.Lookup(auth.SiteID, ev.Name)
	if !ok || !action.SideEffect.RequiresConfirmation() {
		return nil
	}
	op := "orchestrator.confirm_upstream_call"
	if h.HITL == nil {
		return schema.NewError(op, schema.ErrConfirmationRequired,
			fmt.Sprintf("action %q requires confirmation", ev.Name), nil)
	}
	// The provider proposed this call directly with no slot-extraction
	// confidence to carry over; treat it as the highest-confidence case so
	// approval rests entirely on the action's own risk policy.
	approved, err := h.HITL.ShouldApprove(ctx, ev.Name, 1.0, toHITLRisk(action.RiskLevel))
	if err != nil || !approved {
		return schema.NewError(op, schema.ErrConfirmationRequired,
			fmt.Sprintf("action %q requires confirmation", ev.Name), err)
	}
	return nil
}

// runTurn drives one utterance (from text_input, voice_command, or a final
// ASR transcript) through the orchestrator graph, resuming a parked
// confirmation if one is pending, otherwise starting fresh (spec §4.7).
func (h *Handler) runTurn(ctx context.Context, sessionID, input string) error {
	sess, ok := h.sessionFor(sessionID)
	if !ok {
		return fmt.Errorf("orchestrator: no session %q", sessionID)
	}

	sess.mu.Lock()
	auth := sess.auth
	sess.mu.Unlock()

	// Rate limiting runs before any graph invocation or checkpoint load: a
	// rejected scope must start no turn and write no outbox row (spec §8
	// scenario 4).
	if err := h.Security.CheckRateLimits(ctx, auth, sessionID); err != nil {
		h.emitRateLimitError(sess, err)
		return nil
	}

	sess.mu.Lock()
	st := sess.pending
	sess.pending = nil
	sess.mu.Unlock()

	g := h.full
	if st != nil {
		st.Turn.ConfirmationReceived = true
		g = h.resume
	} else {
		turn, err := h.Checkpoints.Load(ctx, sessionID)
		if err != nil {
			turn = &schema.TurnState{SessionID: sessionID}
		}
		turn.UserInput = input
		turn.Error = nil
		turn.ErrorRecoveryAttempted = false
		turn.NeedsClarification = false
		turn.NeedsConfirmation = false
		turn.ConfirmationReceived = false
		turn.ToolLoops = 0
		st = &execState{
			Turn: turn, TenantID: sess.auth.TenantID, SiteID: sess.auth.SiteID,
			Subject: sess.auth.UserID, startedAt: time.Now(),
		}
	}

	turnCtx, cancel := context.WithTimeout(ctx, DefaultTurnDeadline)
	defer cancel()

	out, err := g.Invoke(turnCtx, st)
	if err != nil {
		return err
	}
	result, ok := out.(*execState)
	if !ok {
		return fmt.Errorf("orchestrator: graph returned %T, want *execState", out)
	}

	if err := h.Checkpoints.Save(ctx, sessionID, result.Turn); err != nil {
		return err
	}

	if result.Turn.NeedsConfirmation && !result.Turn.ConfirmationReceived {
		sess.mu.Lock()
		sess.pending = result
		sess.mu.Unlock()
	}

	h.emitTurnResult(sess, result.Turn)
	return nil
}

// emitRateLimitError sends the wire error for a rejected CheckRateLimits
// call; no turn is started and nothing is checkpointed (spec §8 scenario 4).
func (h *Handler) emitRateLimitError(sess *session, err error) {
	var resetAt *time.Time
	var serr *schema.Error
	if errors.As(err, &serr) && !serr.ResetAt.IsZero() {
		resetAt = &serr.ResetAt
	}
	sess.out <- gateway.ErrorEvent{
		Type:    gateway.TypeErrorEvent,
		Code:    string(schema.Code(err)),
		Message: err.Error(),
		ResetAt: resetAt,
	}
}

func (h *Handler) emitTurnResult(sess *session, turn *schema.TurnState) {
	if len(turn.Messages) == 0 {
		return
	}
	last := turn.Messages[len(turn.Messages)-1]

	citations := make([]gateway.Citation, 0, 3)
	for i, r := range turn.SearchResults {
		if i >= 3 {
			break
		}
		citations = append(citations, gateway.Citation{ID: r.ID, Title: r.Title, URL: r.URL, Score: r.Score})
	}

	sess.out <- gateway.AgentFinalEvent{
		Type:      gateway.TypeAgentFinal,
		Text:      last.Content(),
		Citations: citations,
		UIHints:   gateway.UIHints{SpeculativeNav: len(turn.SpeculativeResults) > 0},
		Metadata: map[string]any{
			"needsConfirmation":   turn.NeedsConfirmation,
			"needsClarification":  turn.NeedsClarification,
			"toolLoops":           turn.ToolLoops,
		},
	}
}
