package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corewave-ai/voicegateway/schema"
)

func TestCodec_EncodeDecodeRoundTrip(t *testing.T) {
	c, err := NewCodec(48000, 1)
	require.NoError(t, err)

	pcm := make([]int16, c.frameSizeSamples(20))
	for i := range pcm {
		pcm[i] = int16(i % 100)
	}

	f, err := c.Encode(pcm, 20, 1, 1000)
	require.NoError(t, err)
	assert.Equal(t, schema.FormatOpus, f.Format)
	assert.LessOrEqual(t, len(f.Payload), schema.MaxFrameBytes)

	decoded, err := c.Decode(f)
	require.NoError(t, err)
	assert.Len(t, decoded, len(pcm))
}

func TestIsAudioFrame(t *testing.T) {
	assert.True(t, IsAudioFrame([]byte{0x01, 0x02}))
	assert.False(t, IsAudioFrame([]byte(`{"type":"voice_start"}`)))
}

func TestRing_FIFOOrderAndDrop(t *testing.T) {
	r := NewRing(2)
	assert.True(t, r.Push(&schema.AudioFrame{Seq: 1}))
	assert.True(t, r.Push(&schema.AudioFrame{Seq: 2}))
	assert.False(t, r.Push(&schema.AudioFrame{Seq: 3})) // ring full, drop oldest

	assert.Equal(t, uint64(1), r.DropCount())
	assert.True(t, r.Backpressured())

	first := r.Pop()
	require.NotNil(t, first)
	assert.Equal(t, uint64(2), first.Seq)

	second := r.Pop()
	require.NotNil(t, second)
	assert.Equal(t, uint64(3), second.Seq)

	assert.Nil(t, r.Pop())
}

func TestDetector_SilenceVsSpeech(t *testing.T) {
	d := NewDetector(VADThreshold)
	silence := make([]int16, 100)
	hint := d.Detect(silence)
	assert.False(t, hint.Active)

	loud := make([]int16, 100)
	for i := range loud {
		loud[i] = 20000
	}
	hint = d.Detect(loud)
	assert.True(t, hint.Active)
	assert.Greater(t, hint.Level, 0.5)
}
