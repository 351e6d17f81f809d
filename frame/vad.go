package frame

import "math"

// VADThreshold is the default short-term-energy threshold above which a PCM
// frame is classified as speech (spec §4.2: "Emits VAD hints by short-term
// energy thresholding").
const VADThreshold = 0.02

// VADHint is the energy-based speech activity classification for one frame.
type VADHint struct {
	Active bool
	Level  float64
}

// Detector computes short-term-energy VAD hints over a stream of PCM
// frames. It is stateless across calls aside from the configured threshold,
// so a single Detector can be shared across sessions.
type Detector struct {
	threshold float64
}

// NewDetector creates a Detector with the given energy threshold. A
// threshold <= 0 defaults to VADThreshold.
func NewDetector(threshold float64) *Detector {
	if threshold <= 0 {
		threshold = VADThreshold
	}
	return &Detector{threshold: threshold}
}

// Detect computes the RMS energy of pcm (int16 samples normalized to
// [-1, 1]) and classifies the frame as active speech if it exceeds the
// detector's threshold.
func (d *Detector) Detect(pcm []int16) VADHint {
	if len(pcm) == 0 {
		return VADHint{}
	}
	var sumSquares float64
	for _, s := range pcm {
		norm := float64(s) / 32768.0
		sumSquares += norm * norm
	}
	rms := math.Sqrt(sumSquares / float64(len(pcm)))
	return VADHint{Active: rms >= d.threshold, Level: rms}
}
