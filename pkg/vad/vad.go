// Package vad implements the energy-threshold voice-activity detector used
// to trigger barge-in (spec.md §4.2).
//
// Grounded on two sources: the teacher's RMSVAD (struct shape, the
// Process/Reset/Name method set, threshold-as-a-field so it can be tuned at
// runtime) and original_source/utils/audio.py's VoiceActivityDetector (the
// windowing algorithm itself — up to 50 samples per packet, a 20-packet
// reset window, "continuous voice" at more than 30% of the window). Per
// spec.md §9's open question ("two slightly different energy-computation
// paths — 20-sample vs 50-sample. Pick one, 50-sample recommended"), this
// implements the 50-sample path exclusively.
package vad

import (
	"sync"

	"github.com/lokutor-ai/voicebridge/pkg/voicesession"
)

const (
	maxSamplesPerPacket = 50
	windowSize          = 20
	continuousFraction  = 0.3
	pcmFullScale        = 32768.0
)

// EnergyVAD is a per-session, stateful energy detector; each session owns
// exactly one. Its methods lock an internal mutex.
type EnergyVAD struct {
	mu sync.Mutex

	threshold float64

	frameCount  int
	voiceFrames int
}

// New creates a detector with the given normalized-energy threshold
// (spec.md §4.2 default ≈0.05).
func New(threshold float64) *EnergyVAD {
	return &EnergyVAD{threshold: threshold}
}

func (v *EnergyVAD) Name() string { return "energy_vad" }

// SetThreshold updates the detector's sensitivity.
func (v *EnergyVAD) SetThreshold(threshold float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.threshold = threshold
}

// Reset clears the rolling window, used after a barge-in fires so the next
// window starts clean (spec.md §4.2).
func (v *EnergyVAD) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.frameCount = 0
	v.voiceFrames = 0
}

// Process classifies one inbound PCM packet. It never itself decides
// whether to raise a barge-in — that is the caller's job, gated on
// Session.Replying() — it only reports whether continuous voice was just
// confirmed over the current window (spec.md §4.2: "Barge-in is triggered
// only while the session is actively replying... and continuous voice is
// asserted").
func (v *EnergyVAD) Process(chunk []byte) (*voicesession.VADEvent, error) {
	voiced := isVoiced(chunk, v.energyThreshold())

	v.mu.Lock()
	defer v.mu.Unlock()

	v.frameCount++
	if voiced {
		v.voiceFrames++
	}

	var event *voicesession.VADEvent
	if v.continuousLocked() {
		event = &voicesession.VADEvent{Type: voicesession.VADBargeIn}
	} else if voiced {
		event = &voicesession.VADEvent{Type: voicesession.VADSpeechStart}
	} else {
		event = &voicesession.VADEvent{Type: voicesession.VADSilence}
	}

	if v.frameCount >= windowSize {
		v.frameCount = 0
		v.voiceFrames = 0
	}

	return event, nil
}

func (v *EnergyVAD) energyThreshold() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.threshold
}

// continuousLocked reports whether, under the current window, voiced
// packets exceed 30% of the window size. Caller must hold v.mu.
func (v *EnergyVAD) continuousLocked() bool {
	return float64(v.voiceFrames) > float64(windowSize)*continuousFraction
}

// isVoiced computes mean absolute amplitude over the first up to 50
// samples of chunk, normalized by 2^15 (spec.md §4.2).
func isVoiced(chunk []byte, threshold float64) bool {
	if len(chunk) < 10 {
		return false
	}

	maxSamples := len(chunk) / 2
	if maxSamples > maxSamplesPerPacket {
		maxSamples = maxSamplesPerPacket
	}
	if maxSamples == 0 {
		return false
	}

	var sum float64
	for i := 0; i < maxSamples; i++ {
		lo := chunk[i*2]
		hi := chunk[i*2+1]
		sample := int16(uint16(lo) | uint16(hi)<<8)
		if sample < 0 {
			sum += float64(-sample)
		} else {
			sum += float64(sample)
		}
	}

	energy := sum / float64(maxSamples)
	normalized := energy / pcmFullScale
	return normalized > threshold
}
