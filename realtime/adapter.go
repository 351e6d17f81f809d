// Package realtime abstracts the external bidirectional speech+LLM channel:
// sending audio/text, receiving deltas/transcripts/function calls, and a
// bounded reconnect policy on transport failure (spec §4.3).
package realtime

import (
	"context"

	"github.com/corewave-ai/voicegateway/schema"
)

// EventType discriminates the typed events a Provider emits.
type EventType string

const (
	EventSessionReady           EventType = "session_ready"
	EventSpeechStarted          EventType = "speech_started"
	EventSpeechStopped          EventType = "speech_stopped"
	EventTranscription          EventType = "transcription"
	EventAgentDelta             EventType = "agent_delta"
	EventFunctionCall           EventType = "function_call"
	EventFunctionCallComplete   EventType = "function_call_complete"
	EventConversationInterrupted EventType = "conversation_interrupted"
	EventError                  EventType = "error"
)

// TranscriptionKind distinguishes partial from final ASR results.
type TranscriptionKind string

const (
	TranscriptionPartial TranscriptionKind = "partial"
	TranscriptionFinal   TranscriptionKind = "final"
)

// Event is the typed union of everything a Provider can emit (spec §4.3).
// Exactly the fields relevant to Type are populated.
type Event struct {
	Type EventType

	// speech_started / speech_stopped
	AudioStartMs int64
	AudioEndMs   int64

	// transcription
	TranscriptKind TranscriptionKind
	Text           string
	Lang           string
	Confidence     *float64

	// agent_delta
	Chunk schema.StreamChunk

	// function_call / function_call_complete
	CallID string
	Name   string
	Args   map[string]any

	// error
	ErrorCode    string
	ErrorMessage string
}

// Provider is the capability set an external realtime speech model exposes
// to the orchestrator via the gateway (spec §4.3).
type Provider interface {
	// Connect establishes the upstream channel for a session.
	Connect(ctx context.Context, sessionID string, auth schema.Auth) (<-chan Event, error)
	// SendAudio streams one audio frame upstream.
	SendAudio(ctx context.Context, sessionID string, f *schema.AudioFrame) error
	// SendText sends a text turn upstream (spec §6 text_input).
	SendText(ctx context.Context, sessionID string, text string) error
	// Cancel aborts in-flight generation/streaming, used for barge-in.
	Cancel(ctx context.Context, sessionID string) error
	// Close tears down the upstream channel for a session.
	Close(ctx context.Context, sessionID string) error
}
