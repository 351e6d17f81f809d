// Package gateway implements the browser-facing voice websocket (C4): a chi
// router, gorilla/websocket upgrade, per-session heartbeat, and the JSON
// control-message protocol layered alongside binary audio frames.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType discriminates the JSON control envelopes exchanged over the
// voice websocket (spec §6).
type MessageType string

const (
	// client -> server
	TypeVoiceStart   MessageType = "voice_start"
	TypeVoiceData    MessageType = "voice_data"
	TypeVoiceEnd     MessageType = "voice_end"
	TypeTextInput    MessageType = "text_input"
	TypeControl      MessageType = "control"
	TypeVoiceCommand MessageType = "voice_command"

	// server -> client
	TypeReady      MessageType = "ready"
	TypeMicOpened  MessageType = "mic_opened"
	TypeMicClosed  MessageType = "mic_closed"
	TypeTTSPlay    MessageType = "tts_play"
	TypeVAD        MessageType = "vad"
	TypePartialASR MessageType = "partial_asr"
	TypeFinalASR   MessageType = "final_asr"
	TypeBargeIn    MessageType = "barge_in"
	TypeAgentDelta MessageType = "agent_delta"
	TypeAgentTool  MessageType = "agent_tool"
	TypeAgentFinal MessageType = "agent_final"
	TypeAudioChunk MessageType = "audio_chunk"
	TypeErrorEvent MessageType = "error"
)

var ErrUnsupportedType = errors.New("gateway: unsupported client message type")

// ControlAction enumerates the control{action} values a client may send.
type ControlAction string

const (
	ActionStartRecording ControlAction = "start_recording"
	ActionStopRecording  ControlAction = "stop_recording"
	ActionInterruptTTS   ControlAction = "interrupt_tts"
)

// VoiceDataMetadata accompanies a voice_data control message's framing info
// (the binary payload itself travels as a separate websocket frame).
type VoiceDataMetadata struct {
	Sequence  uint64 `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

// --- client -> server envelopes ---

type ClientVoiceStart struct {
	Type MessageType `json:"type"`
}

type ClientVoiceData struct {
	Type     MessageType       `json:"type"`
	Metadata VoiceDataMetadata `json:"metadata"`
}

type ClientVoiceEnd struct {
	Type MessageType `json:"type"`
}

type ClientTextInput struct {
	Type     MessageType `json:"type"`
	Text     string      `json:"text"`
	Language string      `json:"language,omitempty"`
}

type ClientControlMsg struct {
	Type   MessageType    `json:"type"`
	Action ControlAction  `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

type ClientVoiceCommand struct {
	Type    MessageType    `json:"type"`
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// --- server -> client envelopes ---

type ReadyEvent struct {
	Type             MessageType `json:"type"`
	SessionID        string      `json:"sessionId"`
	SupportedFormats []string    `json:"supportedFormats"`
	MaxFrameSize     int         `json:"maxFrameSize"`
	SampleRates      []int       `json:"sampleRates"`
}

type SimpleEvent struct {
	Type MessageType `json:"type"`
}

type VADEvent struct {
	Type   MessageType `json:"type"`
	Active bool        `json:"active"`
	Level  float64     `json:"level"`
}

type PartialASREvent struct {
	Type       MessageType `json:"type"`
	Text       string      `json:"text"`
	Confidence *float64    `json:"confidence,omitempty"`
}

type FinalASREvent struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
	Lang string      `json:"lang"`
}

type AgentDeltaEvent struct {
	Type MessageType `json:"type"`
	Text string      `json:"text,omitempty"`
}

type AgentToolEvent struct {
	Type       MessageType `json:"type"`
	ActionName string      `json:"actionName"`
	Status     string      `json:"status"`
}

type UIHints struct {
	Highlight     []string `json:"highlight,omitempty"`
	Scroll        string   `json:"scroll,omitempty"`
	Modal         string   `json:"modal,omitempty"`
	SpeculativeNav bool    `json:"speculativeNav,omitempty"`
}

type Citation struct {
	ID    string  `json:"id"`
	Title string  `json:"title,omitempty"`
	URL   string  `json:"url,omitempty"`
	Score float64 `json:"score"`
}

type AgentFinalEvent struct {
	Type      MessageType    `json:"type"`
	Text      string         `json:"text"`
	Citations []Citation     `json:"citations"`
	UIHints   UIHints        `json:"uiHints"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type AudioChunkEvent struct {
	Type      MessageType `json:"type"`
	Data      string      `json:"data"`
	Format    string      `json:"format"`
	Timestamp int64       `json:"timestamp"`
}

type ErrorEvent struct {
	Type    MessageType `json:"type"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
	ResetAt *time.Time  `json:"resetAt,omitempty"`
}

type envelope struct {
	Type MessageType `json:"type"`
}

type clientInbound struct {
	Type     MessageType       `json:"type"`
	Text     string            `json:"text"`
	Language string            `json:"language"`
	Action   ControlAction     `json:"action"`
	Params   map[string]any    `json:"params"`
	Metadata VoiceDataMetadata `json:"metadata"`
	Command  string            `json:"command"`
}

// ParseClientMessage decodes one JSON control message received over the
// websocket into its concrete type. Binary audio frames never reach this
// function; see frame.IsAudioFrame for the dispatch that routes raw binary
// websocket frames away from JSON decoding entirely.
func ParseClientMessage(raw []byte) (any, error) {
	var in clientInbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("gateway: invalid envelope: %w", err)
	}

	switch in.Type {
	case TypeVoiceStart:
		return ClientVoiceStart{Type: TypeVoiceStart}, nil
	case TypeVoiceData:
		return ClientVoiceData{Type: TypeVoiceData, Metadata: in.Metadata}, nil
	case TypeVoiceEnd:
		return ClientVoiceEnd{Type: TypeVoiceEnd}, nil
	case TypeTextInput:
		if in.Text == "" {
			return nil, errors.New("gateway: text_input requires non-empty text")
		}
		return ClientTextInput{Type: TypeTextInput, Text: in.Text, Language: in.Language}, nil
	case TypeControl:
		if in.Action == "" {
			return nil, errors.New("gateway: control requires an action")
		}
		return ClientControlMsg{Type: TypeControl, Action: in.Action, Params: in.Params}, nil
	case TypeVoiceCommand:
		if in.Command == "" {
			return nil, errors.New("gateway: voice_command requires a command")
		}
		return ClientVoiceCommand{Type: TypeVoiceCommand, Command: in.Command, Params: in.Params}, nil
	default:
		return nil, ErrUnsupportedType
	}
}
