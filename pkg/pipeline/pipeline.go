package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lokutor-ai/voicebridge/pkg/echo"
	"github.com/lokutor-ai/voicebridge/pkg/metrics"
	"github.com/lokutor-ai/voicebridge/pkg/segmenter"
	"github.com/lokutor-ai/voicebridge/pkg/voicesession"
)

const (
	asrQueueSize = 8
	llmQueueSize = 8
	ttsQueueSize = 8
)

type ttsJob struct {
	utteranceSeq uint64
	sentence     voicesession.Sentence
	// ordinal identifies this sentence in the writer's out-queue. It is
	// assigned once, monotonically, in dispatchSentence and never reused —
	// unlike the sentence's own chunkNumber, which restarts at 0 for every
	// sentence and so cannot by itself keep two sentences' audio/messages
	// from interleaving in the writer's heap (spec.md §8 property 2).
	ordinal uint64
}

// Pipeline runs the three per-session stages over bounded channels and
// drives the shared writer mailbox (spec.md §4.4, §5).
type Pipeline struct {
	session *voicesession.Session
	writer  *Writer
	logger  voicesession.Logger

	asrOut chan string
	llmIn  chan string
	ttsIn  chan ttsJob

	// ttsSignal carries exactly one token when no TTS task is in flight —
	// the Go translation of original_source's asyncio.Event
	// "tts_completion_event" (spec.md §4.4, §4.6).
	ttsSignal chan struct{}

	echoSuppressor *echo.Suppressor

	// nextOrdinal hands out each sentence's writer ordinal (see ttsJob).
	// Starts at 0 so the first real sentence gets 1 — unscopedOrdinal (0)
	// is reserved for the writer's session-level control messages.
	nextOrdinal uint64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(session *voicesession.Session, writer *Writer, logger voicesession.Logger) *Pipeline {
	if logger == nil {
		logger = voicesession.NoOpLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		session:        session,
		writer:         writer,
		logger:         logger,
		asrOut:         make(chan string, asrQueueSize),
		llmIn:          make(chan string, llmQueueSize),
		ttsIn:          make(chan ttsJob, ttsQueueSize),
		ttsSignal:      make(chan struct{}, 1),
		echoSuppressor: echo.NewSuppressor(session.Config.EchoSuppression),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	p.ttsSignal <- struct{}{} // armed: first sentence may synthesize immediately
	return p
}

// EchoSuppressor exposes the pipeline's echo suppressor so the transport
// layer can screen inbound mic packets against recently-played TTS audio
// before handing them to VAD (SPEC_FULL.md §D).
func (p *Pipeline) EchoSuppressor() *echo.Suppressor {
	return p.echoSuppressor
}

// Start launches the three stage goroutines and the writer.
func (p *Pipeline) Start() {
	go p.writer.Run(p.ctx)
	go p.stageA()
	go p.stageB()
	go p.stageC()
}

// PushFinalTranscript is the ASR adapter's entry point into the pipeline
// (spec.md §4.3: "Final transcripts are enqueued on the session's ASR-out
// queue."). Non-blocking: if the queue is full (a backed-up session), the
// oldest entry is dropped in favor of the newest, since a superseding final
// always wins anyway (spec.md §8 property 4).
func (p *Pipeline) PushFinalTranscript(text string) {
	select {
	case p.asrOut <- text:
	default:
		select {
		case <-p.asrOut:
		default:
		}
		select {
		case p.asrOut <- text:
		default:
		}
	}
}

// Interrupt cancels the current utterance's in-flight LLM/TTS work without
// touching ASR (spec.md §4.1 `interrupt` command semantics, §4.2 VAD
// barge-in, §5 cancellation model).
func (p *Pipeline) Interrupt(source string) {
	p.session.RequestInterrupt()
	p.session.CancelActive()
	metrics.Interrupts.WithLabelValues(source).Inc()
	p.drainTTSQueue()
	p.echoSuppressor.ClearBuffer()
}

func (p *Pipeline) drainTTSQueue() {
	for {
		select {
		case <-p.ttsIn:
		default:
			return
		}
	}
}

// Close cancels every stage and the writer. Idempotent.
func (p *Pipeline) Close() {
	select {
	case <-p.done:
		return
	default:
		close(p.done)
	}
	p.cancel()
}

// --- Stage A: ASR-out -> LLM-in -------------------------------------------

func (p *Pipeline) stageA() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case transcript, ok := <-p.asrOut:
			if !ok {
				return
			}
			p.handleFinalTranscript(transcript)
		}
	}
}

func (p *Pipeline) handleFinalTranscript(transcript string) {
	// A newer utterance always supersedes residual synthesis of an older
	// one (spec.md §4.4 Stage A, §8 property 4).
	p.writer.SendMessage(Message{Type: MsgTTSStop, SessionID: p.session.ID}, 0)
	p.session.CancelActive()
	p.drainTTSQueue()

	select {
	case p.llmIn <- transcript:
	case <-p.ctx.Done():
	}
}

// --- Stage B: LLM-in -> TTS-in ---------------------------------------------

func (p *Pipeline) stageB() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case transcript, ok := <-p.llmIn:
			if !ok {
				return
			}
			p.session.CancelActive()
			go p.runLLM(transcript)
		}
	}
}

func (p *Pipeline) runLLM(transcript string) {
	if p.session.LLM == nil {
		p.writer.SendError(p.session.ID, "no LLM provider configured")
		return
	}

	// A brand-new utterance clears any stale interrupt flag left over from
	// the one it is superseding (original_source's clear_interrupt is
	// defined but never called on this path — a latent bug this rewrite
	// fixes; see DESIGN.md).
	p.session.ClearInterrupt()

	utt := p.session.NextUtterance(transcript)
	p.session.AddMessage("user", transcript)
	p.session.SetState(voicesession.StateReplying)
	p.session.SetProcessingLLM(true)
	defer p.session.SetProcessingLLM(false)

	timeout := time.Duration(p.session.Config.LLMTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(p.ctx, timeout)
	p.session.SetCancelLLM(cancel)
	defer func() {
		p.session.SetCancelLLM(nil)
		cancel()
	}()

	p.writer.SendMessage(Message{Type: MsgLLMStatus, SessionID: p.session.ID, Status: "processing"}, 0)

	start := time.Now()
	reply, wasInterrupted, err := p.streamLLM(ctx, utt)
	metrics.StageDuration.WithLabelValues("llm").Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() == nil {
			metrics.Errors.WithLabelValues("llm", "transient").Inc()
			p.writer.SendError(p.session.ID, fmt.Sprintf("LLM error: %v", err))
		}
		return
	}

	if wasInterrupted {
		msg := Message{
			Type:           MsgLLMResponse,
			SessionID:      p.session.ID,
			Content:        interruptedReplyText,
			IsComplete:     boolPtr(true),
			WasInterrupted: true,
		}
		p.writer.SendMessage(msg, 0)
		return
	}

	p.session.AddMessage("assistant", reply)
	p.writer.SendMessage(Message{
		Type:       MsgLLMResponse,
		SessionID:  p.session.ID,
		Content:    reply,
		IsComplete: boolPtr(true),
	}, 0)
}

// streamLLM drives the streaming/batch LLM call, segments its output into
// sentences, and dispatches each — except the most recent one, held back
// one step so it can be tagged Final once the stream truly ends (spec.md
// §4.5: "last sentence of an utterance may be emitted without a
// terminator when the LLM stream ends").
func (p *Pipeline) streamLLM(ctx context.Context, utt *voicesession.Utterance) (string, bool, error) {
	seg := segmenter.New()
	var collected string
	var pending *voicesession.Sentence
	index := 0

	dispatchPending := func(final bool) {
		if pending == nil {
			return
		}
		pending.Final = final
		p.dispatchSentence(*pending)
		pending = nil
	}

	onChunk := func(chunk string) error {
		if p.session.InterruptRequested() {
			return context.Canceled
		}
		collected += chunk
		p.writer.SendMessage(Message{
			Type:       MsgLLMResponse,
			SessionID:  p.session.ID,
			Content:    collected,
			IsComplete: boolPtr(false),
		}, 0)

		for _, text := range seg.Add(chunk) {
			dispatchPending(false)
			s := voicesession.Sentence{UtteranceSeq: utt.Seq, Index: index, Text: text}
			index++
			pending = &s
			p.writer.SendMessage(Message{Type: MsgSubtitle, SessionID: p.session.ID, Content: text, IsComplete: boolPtr(true)}, 0)
		}
		return nil
	}

	streaming, ok := p.session.LLM.(voicesession.StreamingLLMProvider)
	var err error
	if ok {
		err = streaming.Stream(ctx, p.session.ContextCopy(), onChunk)
	} else {
		var reply string
		reply, err = p.session.LLM.Complete(ctx, p.session.ContextCopy())
		if err == nil {
			err = onChunk(reply)
		}
	}

	if err == context.Canceled || p.session.InterruptRequested() {
		dispatchPending(true)
		return collected, true, nil
	}
	if err != nil {
		return "", false, err
	}

	for _, text := range seg.Flush() {
		dispatchPending(false)
		s := voicesession.Sentence{UtteranceSeq: utt.Seq, Index: index, Text: text}
		index++
		pending = &s
		p.writer.SendMessage(Message{Type: MsgSubtitle, SessionID: p.session.ID, Content: text, IsComplete: boolPtr(true)}, 0)
	}
	dispatchPending(true)

	return collected, false, nil
}

func (p *Pipeline) dispatchSentence(s voicesession.Sentence) {
	ordinal := atomic.AddUint64(&p.nextOrdinal, 1)
	job := ttsJob{utteranceSeq: s.UtteranceSeq, sentence: s, ordinal: ordinal}
	select {
	case p.ttsIn <- job:
	case <-p.ctx.Done():
	}
}

// --- Stage C: TTS-in -> writer ----------------------------------------------

func (p *Pipeline) stageC() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.ttsSignal:
		}

		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.ttsIn:
			if !ok {
				return
			}
			go p.runTTS(job)
		}
	}
}

func (p *Pipeline) runTTS(job ttsJob) {
	defer func() { p.ttsSignal <- struct{}{} }() // re-armed on every exit path

	if !p.session.IsCurrent(job.utteranceSeq) || p.session.InterruptRequested() {
		return
	}
	if p.session.TTS == nil {
		p.writer.SendSentenceError(p.session.ID, job.ordinal, "no TTS provider configured")
		return
	}

	// sentenceID tags this sentence's AudioChunks and the wire frame's
	// request-id field (spec.md §3, §6) so a client can correlate audio
	// back to the sentence that produced it without parsing every frame's
	// accompanying JSON.
	sentenceUUID := uuid.New()
	sentenceID := sentenceUUID.String()
	var requestID [4]byte
	copy(requestID[:], sentenceUUID[:4])

	timeout := time.Duration(p.session.Config.TTSTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(p.ctx, timeout)
	p.session.SetCancelTTS(cancel)
	defer func() {
		p.session.SetCancelTTS(nil)
		cancel()
	}()

	p.session.SetTTSActive(true)
	defer p.session.SetTTSActive(false)

	p.writer.SendSentenceMessage(Message{
		Type:      MsgTTSStart,
		SessionID: p.session.ID,
		Format:    "pcm",
		Text:      job.sentence.Text,
		IsFirst:   job.sentence.Index == 0,
	}, job.ordinal, 0)

	chunkNumber := 0
	start := time.Now()
	err := p.session.TTS.StreamSynthesize(ctx, job.sentence.Text, p.session.CurrentVoice(), p.session.CurrentLanguage(), func(pcm []byte) error {
		if p.session.InterruptRequested() || ctx.Err() != nil {
			return context.Canceled
		}
		chunkNumber++
		p.writer.SendAudio(job.ordinal, requestID, voicesession.AudioChunk{
			SentenceID:  sentenceID,
			ChunkNumber: chunkNumber,
			PCM:         pcm,
		})
		p.echoSuppressor.RecordPlayedAudio(pcm)
		metrics.AudioChunksOut.Inc()
		return nil
	})
	metrics.StageDuration.WithLabelValues("tts").Observe(time.Since(start).Seconds())

	switch {
	case err == context.Canceled || (err != nil && ctx.Err() != nil) || p.session.InterruptRequested():
		p.writer.SendSentenceMessage(Message{Type: MsgTTSStop, SessionID: p.session.ID}, job.ordinal, errorPriority)
		return
	case err != nil:
		metrics.Errors.WithLabelValues("tts", "transient").Inc()
		p.writer.SendSentenceError(p.session.ID, job.ordinal, fmt.Sprintf("TTS error: %v", err))
		return
	}

	p.writer.SendSentenceMessage(Message{Type: MsgTTSEnd, SessionID: p.session.ID}, job.ordinal, chunkNumber+1)

	if job.sentence.Final {
		p.session.SetState(voicesession.StateListening)
	}
}
