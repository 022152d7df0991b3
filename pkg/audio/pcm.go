package audio

import (
	"encoding/binary"
	"math"
)

// EnsureEvenLength truncates a trailing odd byte so pcm divides evenly into
// 16-bit little-endian samples. Vendor SSE streams occasionally split a
// sample across chunk boundaries; the original implementation drops the
// dangling byte rather than buffering across chunks.
func EnsureEvenLength(pcm []byte) []byte {
	if len(pcm)%2 != 0 {
		return pcm[:len(pcm)-1]
	}
	return pcm
}

// maxSamplesChecked mirrors the original's "first 20 bytes" window: 10
// 16-bit samples.
const maxSamplesChecked = 20

// maxInvalidSamples is the number of out-of-range samples tolerated in the
// checked window before ValidPCM rejects the chunk (ported verbatim from
// the original's invalid_samples > 2 threshold).
const maxInvalidSamples = 2

// ValidPCM performs the cheap sanity check the original vendor adapter runs
// on every decoded audio chunk before queuing it for playback: decode up to
// the first 10 samples as little-endian int16 and reject the chunk if more
// than two fall outside the 16-bit signed range. Since every two bytes
// always decode to a valid int16, the only sample that can ever trip this is
// math.MinInt16, whose absolute value overflows that range by one — the
// same quirk the original carries.
func ValidPCM(pcm []byte) bool {
	n := len(pcm)
	if n > maxSamplesChecked {
		n = maxSamplesChecked
	}
	invalid := 0
	for i := 0; i+1 < n; i += 2 {
		sample := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		if abs32(int32(sample)) > math.MaxInt16 {
			invalid++
			if invalid > maxInvalidSamples {
				return false
			}
		}
	}
	return true
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// Diagnostics summarizes one PCM chunk for logging, ported from
// original_source/utils/audio.py's AudioDiagnostics: min/max/average sample
// value and a coarse silence classification.
type Diagnostics struct {
	Samples int
	Min     int16
	Max     int16
	Mean    float64
	Silence bool
}

// silenceRange mirrors the original's range_val < 100 silence heuristic.
const silenceRange = 100

// Analyze computes Diagnostics over pcm, treated as little-endian int16
// samples. Callers typically sample this periodically (e.g. every 10th
// chunk) rather than on every chunk, matching the original's logging cadence.
func Analyze(pcm []byte) Diagnostics {
	pcm = EnsureEvenLength(pcm)
	n := len(pcm) / 2
	if n == 0 {
		return Diagnostics{Silence: true}
	}

	min := int16(math.MaxInt16)
	max := int16(math.MinInt16)
	var sum int64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		if sample < min {
			min = sample
		}
		if sample > max {
			max = sample
		}
		sum += int64(sample)
	}

	rangeVal := int32(max) - int32(min)
	return Diagnostics{
		Samples: n,
		Min:     min,
		Max:     max,
		Mean:    float64(sum) / float64(n),
		Silence: rangeVal < silenceRange,
	}
}
