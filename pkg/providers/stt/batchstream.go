package stt

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/lokutor-ai/voicebridge/pkg/voicesession"
)

// BufferedStreamingSTT adapts any batch voicesession.STTProvider (Groq,
// OpenAI Whisper, AssemblyAI's batch endpoint) into a
// voicesession.StreamingSTTProvider by buffering fed PCM until it observes
// a silence gap, then transcribing the accumulated segment in one batch
// call. Grounded on hubenschmidt-asr-llm-tts's gateway pipeline, which
// buffers audio behind its own VAD and only calls the recognizer once a
// speech segment ends (services/gateway/internal/ws/handler.go).
type BufferedStreamingSTT struct {
	inner voicesession.STTProvider

	silenceAmplitude float64       // mean abs amplitude below this counts as silence
	silenceDuration  time.Duration // continuous silence before flushing the buffer
	minSegmentBytes  int           // don't bother transcribing scraps

	mu     sync.Mutex
	cancel context.CancelFunc // stops the current run goroutine; nil between sessions
}

func NewBufferedStreamingSTT(inner voicesession.STTProvider) *BufferedStreamingSTT {
	return &BufferedStreamingSTT{
		inner:            inner,
		silenceAmplitude: 500, // ~1.5% of int16 full scale
		silenceDuration:  600 * time.Millisecond,
		minSegmentBytes:  3200, // 100ms @ 16kHz mono PCM16
	}
}

func (b *BufferedStreamingSTT) Name() string { return "buffered-" + b.inner.Name() }

func (b *BufferedStreamingSTT) Transcribe(ctx context.Context, pcm []byte, lang voicesession.Language) (string, error) {
	return b.inner.Transcribe(ctx, pcm, lang)
}

// StreamTranscribe starts a goroutine that accumulates fed PCM packets and
// flushes the buffer to the wrapped batch provider after silenceDuration of
// continuous near-silence, or when the returned feed channel is closed.
// The run goroutine is scoped to its own cancellable context, not the
// caller's ctx directly, so Close can stop it without requiring the caller
// to cancel a wider-lived context (spec.md §4.1 `stop`/`reset`).
func (b *BufferedStreamingSTT) StreamTranscribe(ctx context.Context, lang voicesession.Language, cb voicesession.TranscriptCallback) (chan<- []byte, error) {
	sessionCtx, cancel := context.WithCancel(ctx)

	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
	}
	b.cancel = cancel
	b.mu.Unlock()

	feed := make(chan []byte, 32)
	go b.run(sessionCtx, lang, feed, cb)
	return feed, nil
}

// Close stops the current recognition session's run goroutine. Idempotent;
// safe to call even if no session is active.
func (b *BufferedStreamingSTT) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	return nil
}

func (b *BufferedStreamingSTT) run(ctx context.Context, lang voicesession.Language, feed <-chan []byte, cb voicesession.TranscriptCallback) {
	var buf bytes.Buffer
	var silenceFor time.Duration
	var lastPacket time.Time

	flush := func() {
		if buf.Len() < b.minSegmentBytes {
			buf.Reset()
			return
		}
		segment := make([]byte, buf.Len())
		copy(segment, buf.Bytes())
		buf.Reset()
		silenceFor = 0

		go func() {
			text, err := b.inner.Transcribe(ctx, segment, lang)
			if err != nil || text == "" {
				return
			}
			_ = cb(text, true)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case pcm, ok := <-feed:
			if !ok {
				flush()
				return
			}
			now := time.Now()
			if !lastPacket.IsZero() {
				silenceFor += now.Sub(lastPacket)
			}
			lastPacket = now

			buf.Write(pcm)

			if meanAbsAmplitude(pcm) < b.silenceAmplitude {
				if silenceFor >= b.silenceDuration {
					flush()
				}
			} else {
				silenceFor = 0
			}
		}
	}
}

func meanAbsAmplitude(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum int64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
		if sample < 0 {
			sum -= int64(sample)
		} else {
			sum += int64(sample)
		}
	}
	return float64(sum) / float64(n)
}

var _ voicesession.StreamingSTTProvider = (*BufferedStreamingSTT)(nil)
var _ voicesession.Closer = (*BufferedStreamingSTT)(nil)
