package stt

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/lokutor-ai/voicebridge/pkg/voicesession"
)

type fakeSTT struct {
	transcript string
	calls      int
}

func (f *fakeSTT) Name() string { return "fake-stt" }

func (f *fakeSTT) Transcribe(ctx context.Context, pcm []byte, lang voicesession.Language) (string, error) {
	f.calls++
	return f.transcript, nil
}

func loudPacket(n int) []byte {
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(20000)))
	}
	return buf
}

func silentPacket(n int) []byte {
	return make([]byte, n*2)
}

func TestBufferedStreamingSTTFlushesOnSilence(t *testing.T) {
	inner := &fakeSTT{transcript: "hello world"}
	b := NewBufferedStreamingSTT(inner)
	b.silenceDuration = 50 * time.Millisecond
	b.minSegmentBytes = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := make(chan string, 1)
	feed, err := b.StreamTranscribe(ctx, voicesession.LanguageEn, func(transcript string, isFinal bool) error {
		if isFinal {
			results <- transcript
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	feed <- loudPacket(1600)
	time.Sleep(10 * time.Millisecond)
	for i := 0; i < 10; i++ {
		feed <- silentPacket(1600)
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case got := <-results:
		if got != "hello world" {
			t.Errorf("expected 'hello world', got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transcript")
	}
}

func TestBufferedStreamingSTTCloseStopsFlushingAfterNewSession(t *testing.T) {
	inner := &fakeSTT{transcript: "hello world"}
	b := NewBufferedStreamingSTT(inner)
	b.silenceDuration = 50 * time.Millisecond
	b.minSegmentBytes = 1

	ctx := context.Background()
	firstResults := make(chan string, 1)
	firstFeed, err := b.StreamTranscribe(ctx, voicesession.LanguageEn, func(transcript string, isFinal bool) error {
		if isFinal {
			firstResults <- transcript
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("unexpected error from Close: %v", err)
	}

	// The closed session's run goroutine must not still be listening: a
	// feed write after Close should not produce a transcript.
	select {
	case firstFeed <- loudPacket(1600):
	default:
	}
	select {
	case got := <-firstResults:
		t.Errorf("expected no transcript from the closed session, got %q", got)
	case <-time.After(100 * time.Millisecond):
	}

	if err := b.Close(); err != nil {
		t.Fatalf("expected Close to be idempotent, got error: %v", err)
	}
}

func TestBufferedStreamingSTTName(t *testing.T) {
	b := NewBufferedStreamingSTT(&fakeSTT{})
	if b.Name() != "buffered-fake-stt" {
		t.Errorf("expected 'buffered-fake-stt', got %q", b.Name())
	}
}

func TestMeanAbsAmplitude(t *testing.T) {
	if got := meanAbsAmplitude(silentPacket(100)); got != 0 {
		t.Errorf("expected 0 amplitude for silence, got %v", got)
	}
	if got := meanAbsAmplitude(loudPacket(100)); got < 1000 {
		t.Errorf("expected high amplitude for loud packet, got %v", got)
	}
}
