package pipeline

import (
	"container/heap"
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/lokutor-ai/voicebridge/pkg/voicesession"
)

// errorPriority is the chunk value given to a sentence's error and
// cancel-time tts_stop messages. The heap pops the smallest (ordinal, chunk)
// first, so this sentinel sorts after every audio chunk and tts_end of the
// same sentence that is still queued; it does not pre-empt them. It is a
// `chunk` value, not an `ordinal` — see outItem below — so it only orders
// the item within its own sentence, never relative to a different one.
const errorPriority = math.MaxInt32

// unscopedOrdinal is the ordinal used by control messages that aren't tied
// to one synthesized sentence (status updates, transcripts, llm_response
// deltas). Real sentences are assigned ordinals starting at 1 (see
// Pipeline.dispatchSentence), so 0 never collides with one.
const unscopedOrdinal = 0

// unscopedErrorOrdinal is used by SendError, for failures that aren't
// scoped to any one sentence (e.g. "no LLM provider configured"). Such
// errors are rare, terminal to the utterance that triggered them, and have
// no sentence ordinal of their own to attach to, so they sort after every
// sentence already dispatched rather than risk jumping ahead of one still
// draining.
const unscopedErrorOrdinal = math.MaxUint64

// audioFrameHeaderLen is the optional binary frame prefix spec.md §6
// describes: 4-byte request id, 4-byte chunk number, 4-byte ms timestamp.
const audioFrameHeaderLen = 12

// outItem is one unit of work for the writer: either a JSON control message
// or a binary audio chunk. Items are ordered first by ordinal — the
// sentence they belong to, assigned once per sentence and never reused
// (spec.md §8 property 2: a sentence's tts_start must never be delivered
// before the previous sentence's tts_end/tts_stop) — then by chunk within
// that sentence (spec.md §4.7: "0 = sentence start, N+1 = sentence end").
type outItem struct {
	ordinal uint64
	chunk   int
	seq     uint64 // tiebreaker so same-(ordinal,chunk) items preserve send order
	message *Message
	audio   []byte
}

// outHeap is a min-heap ordered by (ordinal, chunk, seq).
type outHeap []outItem

func (h outHeap) Len() int { return len(h) }
func (h outHeap) Less(i, j int) bool {
	if h[i].ordinal != h[j].ordinal {
		return h[i].ordinal < h[j].ordinal
	}
	if h[i].chunk != h[j].chunk {
		return h[i].chunk < h[j].chunk
	}
	return h[i].seq < h[j].seq
}
func (h outHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *outHeap) Push(x interface{}) { *h = append(*h, x.(outItem)) }
func (h *outHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Transport is the minimal send surface the writer needs. pkg/transport/ws
// implements this over coder/websocket; tests use a fake.
type Transport interface {
	WriteText(ctx context.Context, data []byte) error
	WriteBinary(ctx context.Context, data []byte) error
}

// Writer is the single goroutine that owns a session's transport write
// side. Only the writer ever calls Transport methods, guaranteeing frames
// are never interleaved (spec.md §4.7, §5).
type Writer struct {
	transport Transport
	logger    voicesession.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	heap    outHeap
	nextSeq uint64
	closed  bool
}

func NewWriter(transport Transport, logger voicesession.Logger) *Writer {
	if logger == nil {
		logger = voicesession.NoOpLogger{}
	}
	w := &Writer{transport: transport, logger: logger}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// SendMessage enqueues a session-level control message not scoped to any
// one sentence (status, transcripts, llm_response deltas, acks). priority
// plays the same role as chunk did for SendSentenceMessage, just against
// the shared unscopedOrdinal rather than a sentence's own.
func (w *Writer) SendMessage(msg Message, priority int) {
	w.enqueue(outItem{ordinal: unscopedOrdinal, chunk: priority, message: &msg})
}

// SendError enqueues an error that isn't scoped to any sentence (spec.md
// §4.7). Use SendSentenceError instead for a failure that happens while
// synthesizing a particular sentence.
func (w *Writer) SendError(sessionID, text string) {
	w.enqueue(outItem{ordinal: unscopedErrorOrdinal, message: &Message{Type: MsgError, SessionID: sessionID, Message: text}})
}

// SendSentenceMessage enqueues a JSON control message that brackets or
// accompanies one synthesized sentence (tts_start, tts_end, a cancel-time
// tts_stop). ordinal ties it to that sentence so it can never be
// delivered out of order relative to a different sentence's messages or
// audio, regardless of dispatch/drain timing (spec.md §8 property 2).
func (w *Writer) SendSentenceMessage(msg Message, ordinal uint64, chunk int) {
	w.enqueue(outItem{ordinal: ordinal, chunk: chunk, message: &msg})
}

// SendSentenceError enqueues an error (e.g. a TTS vendor failure) scoped to
// one sentence, at that sentence's error sentinel chunk, which places it
// after any of that sentence's own audio still queued without disturbing
// another sentence's order.
func (w *Writer) SendSentenceError(sessionID string, ordinal uint64, text string) {
	w.enqueue(outItem{ordinal: ordinal, chunk: errorPriority, message: &Message{Type: MsgError, SessionID: sessionID, Message: text}})
}

// SendAudio enqueues one synthesized audio chunk, framed with the optional
// 12-byte header spec.md §6 describes (4-byte request id, 4-byte chunk
// number, 4-byte ms timestamp) ahead of the raw PCM payload. ordinal is the
// sentence this chunk belongs to (see Pipeline.dispatchSentence);
// requestID correlates the frame with chunk.SentenceID for a client that
// wants to match audio to the sentence that produced it without parsing
// JSON for every frame.
func (w *Writer) SendAudio(ordinal uint64, requestID [4]byte, chunk voicesession.AudioChunk) {
	frame := make([]byte, audioFrameHeaderLen+len(chunk.PCM))
	copy(frame[0:4], requestID[:])
	binary.LittleEndian.PutUint32(frame[4:8], uint32(chunk.ChunkNumber))
	binary.LittleEndian.PutUint32(frame[8:12], uint32(time.Now().UnixMilli()))
	copy(frame[audioFrameHeaderLen:], chunk.PCM)
	w.enqueue(outItem{ordinal: ordinal, chunk: chunk.ChunkNumber, audio: frame})
}

func (w *Writer) enqueue(item outItem) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.nextSeq++
	item.seq = w.nextSeq
	heap.Push(&w.heap, item)
	w.cond.Signal()
}

// Run drains the mailbox until ctx is cancelled or Close is called. Run one
// per session, in its own goroutine.
func (w *Writer) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		w.Close()
	}()

	for {
		item, ok := w.next()
		if !ok {
			return
		}
		w.send(ctx, item)
	}
}

func (w *Writer) next() (outItem, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.heap.Len() == 0 && !w.closed {
		w.cond.Wait()
	}
	if w.closed && w.heap.Len() == 0 {
		return outItem{}, false
	}
	item := heap.Pop(&w.heap).(outItem)
	return item, true
}

func (w *Writer) send(ctx context.Context, item outItem) {
	if item.audio != nil {
		if err := w.transport.WriteBinary(ctx, item.audio); err != nil {
			// The writer is the trust boundary: post-close write errors are
			// swallowed to avoid cascading failures (spec.md §7).
			w.logger.Debug("write audio failed, dropping", "error", err)
		}
		return
	}

	data, err := json.Marshal(item.message)
	if err != nil {
		w.logger.Warn("marshal outbound message failed", "error", err)
		return
	}
	if err := w.transport.WriteText(ctx, data); err != nil {
		w.logger.Debug("write message failed, dropping", "error", err)
	}
}

// Close stops Run and wakes any blocked waiter. Idempotent.
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.cond.Broadcast()
}
