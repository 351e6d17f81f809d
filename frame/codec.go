// Package frame implements 20ms Opus/PCM framing: classification of inbound
// binary WS frames, encode/decode via Opus, a jitter-absorbing ring buffer,
// and short-term-energy VAD hints (spec §4.2).
package frame

import (
	"layeh.com/gopus"

	"github.com/corewave-ai/voicegateway/schema"
)

// SampleRates lists the sample rates the gateway advertises on upgrade
// (spec §4.4 ready event).
var SampleRates = []int{48000, 44100, 16000}

// Codec encodes/decodes Opus frames for one session. It is not safe for
// concurrent use by multiple goroutines on the same session; each session
// has exactly one reader goroutine driving it (spec §5).
type Codec struct {
	encoder    *gopus.Encoder
	decoder    *gopus.Decoder
	sampleRate int
	channels   int
}

// NewCodec creates a Codec for the given sample rate and channel count.
// channels must be 1 (spec §3: AudioFrame.channels=1).
func NewCodec(sampleRate, channels int) (*Codec, error) {
	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Voip)
	if err != nil {
		return nil, schema.NewError("frame.codec", schema.ErrValidation, "create opus encoder", err)
	}
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, schema.NewError("frame.codec", schema.ErrValidation, "create opus decoder", err)
	}
	return &Codec{encoder: enc, decoder: dec, sampleRate: sampleRate, channels: channels}, nil
}

// frameSizeSamples returns the number of PCM samples per channel for a
// frame of the given duration at the codec's sample rate.
func (c *Codec) frameSizeSamples(frameMs int) int {
	return c.sampleRate * frameMs / 1000
}

// Encode converts PCM int16 samples into an Opus-encoded AudioFrame.
func (c *Codec) Encode(pcm []int16, frameMs int, seq uint64, monotonicTs int64) (*schema.AudioFrame, error) {
	opus, err := c.encoder.Encode(pcm, c.frameSizeSamples(frameMs), schema.MaxFrameBytes)
	if err != nil {
		return nil, schema.NewError("frame.encode", schema.ErrValidation, "opus encode failed", err)
	}
	return &schema.AudioFrame{
		Payload:     opus,
		Format:      schema.FormatOpus,
		SampleRate:  c.sampleRate,
		Channels:    c.channels,
		FrameMs:     frameMs,
		Seq:         seq,
		MonotonicTs: monotonicTs,
	}, nil
}

// Decode converts an Opus-encoded AudioFrame back into PCM int16 samples.
func (c *Codec) Decode(f *schema.AudioFrame) ([]int16, error) {
	if f.Format != schema.FormatOpus {
		return nil, schema.NewError("frame.decode", schema.ErrValidation, "frame is not opus-encoded", nil)
	}
	pcm, err := c.decoder.Decode(f.Payload, c.frameSizeSamples(f.FrameMs), false)
	if err != nil {
		return nil, schema.NewError("frame.decode", schema.ErrValidation, "opus decode failed", err)
	}
	return pcm, nil
}

// IsAudioFrame reports whether a raw inbound WS message is binary audio
// rather than a JSON control message: anything not JSON-object-prefixed is
// classified as Opus audio (spec §4.2).
func IsAudioFrame(raw []byte) bool {
	return len(raw) == 0 || raw[0] != '{'
}
