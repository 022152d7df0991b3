// Package echo adapts team-hashing-lokutor-orchestrator's
// pkg/orchestrator/echo_suppression.go — correlation-based acoustic echo
// suppression — to voicebridge's 16kHz mono pipeline (SPEC_FULL.md §D,
// gated by voicesession.Config.EchoSuppression). The handler records every
// PCM chunk the session sends to TTS output, then checks each incoming mic
// packet against that rolling buffer before handing it to VAD, so a client
// that plays the bot's own voice back through an open mic doesn't trigger a
// false barge-in.
package echo

import (
	"bytes"
	"math"
	"sync"
	"time"
)

const (
	sampleRate = 16000 // voicebridge pipeline rate; teacher used 44100

	// maxBufSize bounds the rolling played-audio buffer to ~2 seconds at
	// 16kHz 16-bit mono.
	maxBufSize = sampleRate * 2 * 2

	defaultThreshold = 0.55
	defaultSilenceMS = 1200
)

// Suppressor detects microphone input that is actually echo of the bot's
// own recently-played TTS audio.
type Suppressor struct {
	mu             sync.Mutex
	playedAudioBuf *bytes.Buffer
	echoThreshold  float64
	echoSilenceMS  int
	lastTTSTime    time.Time
	enabled        bool
}

func NewSuppressor(enabled bool) *Suppressor {
	return &Suppressor{
		playedAudioBuf: new(bytes.Buffer),
		echoThreshold:  defaultThreshold,
		echoSilenceMS:  defaultSilenceMS,
		enabled:        enabled,
	}
}

// RecordPlayedAudio records a chunk of PCM the session just sent to the
// client as synthesized speech. Call this from the TTS write path.
func (es *Suppressor) RecordPlayedAudio(chunk []byte) {
	if !es.enabled || len(chunk) == 0 {
		return
	}

	es.mu.Lock()
	defer es.mu.Unlock()

	es.playedAudioBuf.Write(chunk)
	es.lastTTSTime = time.Now()

	if es.playedAudioBuf.Len() > maxBufSize {
		data := es.playedAudioBuf.Bytes()
		trim := data[len(data)-maxBufSize:]
		es.playedAudioBuf.Reset()
		es.playedAudioBuf.Write(trim)
	}
}

// IsEcho reports whether inputChunk correlates strongly enough with
// recently-played audio to be treated as echo rather than real speech.
func (es *Suppressor) IsEcho(inputChunk []byte) bool {
	if !es.enabled || len(inputChunk) == 0 {
		return false
	}

	es.mu.Lock()
	defer es.mu.Unlock()

	if time.Since(es.lastTTSTime) > time.Duration(es.echoSilenceMS)*time.Millisecond {
		return false
	}

	playedData := es.playedAudioBuf.Bytes()
	if len(playedData) == 0 {
		return false
	}

	correlation := es.calculateCorrelation(inputChunk, playedData)
	if correlation > es.echoThreshold {
		return true
	}

	envCorr := maxEnvelopeCorrelation(bytesToSamples(inputChunk), bytesToSamples(playedData), 8)
	return envCorr > es.echoThreshold+0.05
}

func (es *Suppressor) calculateCorrelation(input, reference []byte) float64 {
	if len(input) == 0 || len(reference) == 0 {
		return 0
	}

	inputSamples := bytesToSamples(input)
	refSamples := bytesToSamples(reference)
	if len(inputSamples) == 0 || len(refSamples) == 0 {
		return 0
	}

	compareLen := len(inputSamples)
	if compareLen > len(refSamples) {
		compareLen = len(refSamples)
	}
	refStart := len(refSamples) - compareLen
	refCompare := refSamples[refStart:]

	inputEnergy := calculateEnergy(inputSamples)
	refCompareEnergy := calculateEnergy(refCompare)
	if inputEnergy == 0 || refCompareEnergy == 0 {
		return 0
	}

	correlation := 0.0
	for i := 0; i < len(inputSamples) && i < len(refCompare); i++ {
		correlation += inputSamples[i] * refCompare[i]
	}

	normFactor := math.Sqrt(inputEnergy * refCompareEnergy)
	if normFactor == 0 {
		return 0
	}
	normalizedCorr := correlation / normFactor

	if normalizedCorr < 0 {
		normalizedCorr = 0
	} else if normalizedCorr > 1 {
		normalizedCorr = 1
	}
	return normalizedCorr
}

func bytesToSamples(data []byte) []float64 {
	samples := make([]float64, 0, len(data)/2)
	for i := 0; i < len(data)-1; i += 2 {
		sample := int16(data[i]) | (int16(data[i+1]) << 8)
		samples = append(samples, float64(sample)/32768.0)
	}
	return samples
}

func calculateEnergy(samples []float64) float64 {
	energy := 0.0
	for _, s := range samples {
		energy += s * s
	}
	return energy
}

// ClearBuffer discards the played-audio history. Call on interrupt/barge-in
// so a cancelled TTS utterance can't suppress the speech that interrupted it.
func (es *Suppressor) ClearBuffer() {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.playedAudioBuf.Reset()
}

// maxEnvelopeCorrelation compares downsampled absolute-value envelopes
// rather than raw samples, which catches sibilant ('S') sounds that raw
// cross-correlation misses under small room phase shifts.
func maxEnvelopeCorrelation(inSamples, refSamples []float64, decimation int) float64 {
	if len(inSamples) == 0 || len(refSamples) == 0 {
		return 0
	}

	inEnv := make([]float64, len(inSamples)/decimation)
	for i := 0; i < len(inEnv); i++ {
		sum := 0.0
		for j := 0; j < decimation; j++ {
			sum += math.Abs(inSamples[i*decimation+j])
		}
		inEnv[i] = sum
	}

	refEnv := make([]float64, len(refSamples)/decimation)
	for i := 0; i < len(refEnv); i++ {
		sum := 0.0
		for j := 0; j < decimation; j++ {
			sum += math.Abs(refSamples[i*decimation+j])
		}
		refEnv[i] = sum
	}

	compareLen := len(inEnv)
	if compareLen > len(refEnv) {
		compareLen = len(refEnv)
	}
	if compareLen == 0 {
		return 0
	}

	inMean := 0.0
	for i := 0; i < compareLen; i++ {
		inMean += inEnv[i]
	}
	inMean /= float64(compareLen)

	inVar := 0.0
	for i := 0; i < compareLen; i++ {
		inEnv[i] -= inMean
		inVar += inEnv[i] * inEnv[i]
	}
	if inVar <= 0 {
		return 0
	}

	maxCorr := 0.0
	stride := compareLen / 4
	if stride < 2 {
		stride = 2
	}

	searchRange := len(refEnv) - compareLen + 1
	for pos := 0; pos < searchRange; pos += stride {
		refMean := 0.0
		for i := 0; i < compareLen; i++ {
			refMean += refEnv[pos+i]
		}
		refMean /= float64(compareLen)

		dot := 0.0
		refVar := 0.0
		for i := 0; i < compareLen; i++ {
			r := refEnv[pos+i] - refMean
			dot += inEnv[i] * r
			refVar += r * r
		}
		if refVar > 0 {
			corr := dot / math.Sqrt(inVar*refVar)
			if corr > maxCorr {
				maxCorr = corr
			}
		}
	}
	return maxCorr
}

// SetThreshold adjusts echo detection sensitivity (0-1, higher = less
// sensitive: input must correlate more strongly to count as echo).
func (es *Suppressor) SetThreshold(threshold float64) {
	es.mu.Lock()
	defer es.mu.Unlock()
	if threshold >= 0 && threshold <= 1 {
		es.echoThreshold = threshold
	}
}

func (es *Suppressor) SetEnabled(enabled bool) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.enabled = enabled
}
