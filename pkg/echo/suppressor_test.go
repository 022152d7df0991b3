package echo

import (
	"math"
	"testing"
	"time"
)

func generateSine(freq float64, durationMs int, sampleRate int, amp float64) []byte {
	n := sampleRate * durationMs / 1000
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(sampleRate)
		v := amp * math.Sin(2*math.Pi*freq*t)
		s := int16(v * 32767)
		buf[2*i] = byte(s)
		buf[2*i+1] = byte(s >> 8)
	}
	return buf
}

func TestSuppressorIsEchoCorrelation(t *testing.T) {
	es := NewSuppressor(true)
	played := generateSine(440, 200, sampleRate, 0.8)
	es.RecordPlayedAudio(played)
	es.lastTTSTime = time.Now()

	frame := played[len(played)-640:]
	if !es.IsEcho(frame) {
		t.Fatal("expected identical-frequency tail frame to be detected as echo")
	}

	different := generateSine(1800, 200, sampleRate, 0.8)
	frame2 := different[:640]
	if es.IsEcho(frame2) {
		t.Fatal("unexpected echo detection for a different-frequency signal")
	}
}

func TestSuppressorDisabledNeverMatches(t *testing.T) {
	es := NewSuppressor(false)
	played := generateSine(440, 200, sampleRate, 0.8)
	es.RecordPlayedAudio(played)
	es.lastTTSTime = time.Now()

	if es.IsEcho(played) {
		t.Fatal("disabled suppressor must never report echo")
	}
}

func TestSuppressorExpiresAfterSilence(t *testing.T) {
	es := NewSuppressor(true)
	played := generateSine(440, 200, sampleRate, 0.8)
	es.RecordPlayedAudio(played)
	es.lastTTSTime = time.Now().Add(-2 * time.Second)

	if es.IsEcho(played) {
		t.Fatal("expected echo window to have expired")
	}
}

func TestSuppressorClearBuffer(t *testing.T) {
	es := NewSuppressor(true)
	played := generateSine(440, 200, sampleRate, 0.8)
	es.RecordPlayedAudio(played)
	es.lastTTSTime = time.Now()
	es.ClearBuffer()

	if es.IsEcho(played) {
		t.Fatal("expected cleared buffer to produce no echo match")
	}
}
