package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/lokutor-ai/voicebridge/pkg/voicesession"
)

type fakeTransport struct {
	mu   sync.Mutex
	text [][]byte
	bin  [][]byte
}

func (f *fakeTransport) WriteText(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.text = append(f.text, cp)
	return nil
}

func (f *fakeTransport) WriteBinary(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.bin = append(f.bin, cp)
	return nil
}

func (f *fakeTransport) binCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bin)
}

func (f *fakeTransport) textCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.text)
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func sendAudioChunk(w *Writer, ordinal uint64, chunkNumber int, b byte) {
	w.SendAudio(ordinal, [4]byte{byte(ordinal)}, voicesession.AudioChunk{ChunkNumber: chunkNumber, PCM: []byte{b}})
}

func audioPayload(t *testing.T, frame []byte) byte {
	t.Helper()
	if len(frame) <= audioFrameHeaderLen {
		t.Fatalf("expected a framed audio payload, got %d bytes", len(frame))
	}
	return frame[audioFrameHeaderLen]
}

func TestWriterSendsAudioInChunkOrderWithinASentence(t *testing.T) {
	ft := &fakeTransport{}
	w := NewWriter(ft, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Enqueue out of order; the heap must deliver by ascending chunk number
	// within the sentence's ordinal.
	sendAudioChunk(w, 1, 3, 3)
	sendAudioChunk(w, 1, 1, 1)
	sendAudioChunk(w, 1, 2, 2)

	waitUntil(t, func() bool { return ft.binCount() == 3 })

	ft.mu.Lock()
	defer ft.mu.Unlock()
	for i, want := range []byte{1, 2, 3} {
		if got := audioPayload(t, ft.bin[i]); got != want {
			t.Errorf("chunk %d: expected payload %d, got %d", i, want, got)
		}
	}
}

func TestWriterNeverInterleavesTwoSentencesOrdinals(t *testing.T) {
	ft := &fakeTransport{}
	w := NewWriter(ft, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Sentence 2's tts_start/early chunks are enqueued before sentence 1's
	// tts_end/late chunks have drained — the exact race the writer's
	// ordinal must prevent (spec.md §8 property 2).
	w.SendSentenceMessage(Message{Type: MsgTTSStart}, 2, 0)
	sendAudioChunk(w, 2, 1, 0xA1)
	w.SendSentenceMessage(Message{Type: MsgTTSEnd}, 1, errorPriority)
	sendAudioChunk(w, 1, 0, 0xB0)
	w.SendSentenceMessage(Message{Type: MsgTTSStart}, 1, 0)

	go w.Run(ctx)

	waitUntil(t, func() bool { return ft.binCount() == 2 && ft.textCount() == 3 })

	ft.mu.Lock()
	defer ft.mu.Unlock()
	if got := audioPayload(t, ft.bin[0]); got != 0xB0 {
		t.Fatalf("expected sentence 1's audio to drain before sentence 2's, got %#x first", got)
	}
	var last Message
	if err := json.Unmarshal(ft.text[len(ft.text)-1], &last); err != nil {
		t.Fatalf("failed to unmarshal message: %v", err)
	}
	if last.Type != MsgTTSStart {
		t.Fatalf("expected sentence 2's tts_start to arrive last, got %v", last.Type)
	}
}

func TestWriterUnscopedErrorKeepsBufferedAudioOrder(t *testing.T) {
	ft := &fakeTransport{}
	w := NewWriter(ft, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Enqueue before starting Run so everything is buffered at once.
	sendAudioChunk(w, 1, 1, 1)
	sendAudioChunk(w, 1, 2, 2)
	w.SendError("sess-1", "boom")

	go w.Run(ctx)

	waitUntil(t, func() bool { return ft.binCount() == 2 && ft.textCount() == 1 })

	ft.mu.Lock()
	defer ft.mu.Unlock()
	if got := audioPayload(t, ft.bin[0]); got != 1 {
		t.Fatalf("expected error to not affect audio order relative to itself, got first chunk %d", got)
	}

	var msg Message
	if err := json.Unmarshal(ft.text[0], &msg); err != nil {
		t.Fatalf("failed to unmarshal error message: %v", err)
	}
	if msg.Type != MsgError || msg.Message != "boom" {
		t.Errorf("expected error message with text 'boom', got %+v", msg)
	}
}

func TestWriterCloseStopsRun(t *testing.T) {
	ft := &fakeTransport{}
	w := NewWriter(ft, nil)

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	w.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to return after Close")
	}
}

func TestWriterEnqueueAfterCloseIsNoOp(t *testing.T) {
	ft := &fakeTransport{}
	w := NewWriter(ft, nil)
	w.Close()

	sendAudioChunk(w, 1, 1, 1)
	w.SendMessage(Message{Type: MsgStatus}, 0)

	if ft.binCount() != 0 || ft.textCount() != 0 {
		t.Error("expected no sends after Close")
	}
}
