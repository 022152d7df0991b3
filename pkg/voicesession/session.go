package voicesession

import (
	"sync"
	"time"
)

// State is one of the per-session lifecycle states (spec.md §4.9).
type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StateCapturing State = "capturing"
	StateReplying  State = "replying"
	StateClosed    State = "closed"
)

// Utterance is the implicit unit of work flowing through the pipeline: a
// user's final transcript plus its derived sentences and audio (spec.md §3).
type Utterance struct {
	Seq        uint64
	Transcript string
	CreatedAt  time.Time
}

// Sentence is a punctuation-bounded fragment of an utterance's LLM reply,
// the unit of TTS synthesis (spec.md §3).
type Sentence struct {
	UtteranceSeq uint64
	Index        int
	Text         string
	Final        bool // true if this is the last sentence of its utterance
}

// AudioChunk is one piece of synthesized PCM for a given sentence (spec.md §3).
type AudioChunk struct {
	SentenceID  string
	ChunkNumber int // monotonic, starts at 1
	PCM         []byte
}

// Session is one client connection's worth of pipeline state. Sessions are
// isolated from one another — no field here is ever shared across sessions;
// the registry that owns a set of Sessions provides the only shared
// synchronization point (spec.md §3, §5, §9).
type Session struct {
	mu sync.RWMutex

	ID string

	STT STTProvider
	LLM LLMProvider
	TTS TTSProvider
	VAD VADProvider

	Config Config
	Logger Logger

	context         []Message
	currentVoice    Voice
	currentLanguage Language

	state State

	nextUtteranceSeq uint64
	currentUtterance *Utterance

	processingLLM      bool
	ttsActive          bool
	interruptRequested bool

	lastActivity time.Time

	// Cancellation handles for in-flight work, set by the pipeline stages
	// that own the corresponding goroutine and cleared when it exits.
	cancelLLM func()
	cancelTTS func()
}

// New creates a session bound to the given providers and config. Any
// provider may be nil; the pipeline stage that needs it then sends the
// client an error message instead of running.
func New(id string, stt STTProvider, llm LLMProvider, tts TTSProvider, vad VADProvider, cfg Config, logger Logger) *Session {
	if logger == nil {
		logger = NoOpLogger{}
	}
	return &Session{
		ID:              id,
		STT:             stt,
		LLM:             llm,
		TTS:             tts,
		VAD:             vad,
		Config:          cfg,
		Logger:          logger,
		context:         make([]Message, 0, cfg.MaxContextMessages),
		currentVoice:    cfg.DefaultVoice,
		currentLanguage: cfg.DefaultLanguage,
		state:           StateIdle,
		lastActivity:    time.Now(),
	}
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) SetState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// NextUtterance allocates a new utterance with the next sequence number and
// makes it the session's current (active) utterance, superseding any prior
// one (spec.md §3: "a new utterance supersedes the previous one").
func (s *Session) NextUtterance(transcript string) *Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextUtteranceSeq++
	u := &Utterance{Seq: s.nextUtteranceSeq, Transcript: transcript, CreatedAt: time.Now()}
	s.currentUtterance = u
	return u
}

func (s *Session) CurrentUtterance() *Utterance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentUtterance
}

// IsCurrent reports whether seq is still the session's active utterance.
// Stages use this to drop stale work belonging to a superseded utterance.
func (s *Session) IsCurrent(seq uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentUtterance != nil && s.currentUtterance.Seq == seq
}

func (s *Session) SetProcessingLLM(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processingLLM = v
}

func (s *Session) ProcessingLLM() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processingLLM
}

func (s *Session) SetTTSActive(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttsActive = v
}

func (s *Session) TTSActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ttsActive
}

// Replying reports whether the session is currently generating or
// synthesizing a reply — the condition under which VAD barge-in is armed
// (spec.md §4.2).
func (s *Session) Replying() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processingLLM || s.ttsActive
}

// RequestInterrupt sets interruptRequested atomically. Idempotent: calling
// it repeatedly with no intervening utterance is a no-op past the first
// call (spec.md §8 property 5).
func (s *Session) RequestInterrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interruptRequested = true
}

func (s *Session) ClearInterrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interruptRequested = false
}

func (s *Session) InterruptRequested() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interruptRequested
}

// SetCancelLLM and SetCancelTTS record the cancel functions for the
// in-flight LLM/TTS tasks so a later interrupt can reach them without the
// caller needing to track them separately. Pass nil to clear after a task
// exits.
func (s *Session) SetCancelLLM(cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLLM = cancel
}

func (s *Session) SetCancelTTS(cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelTTS = cancel
}

// CancelActive invokes and clears any in-flight LLM/TTS cancel funcs. Safe
// to call when neither is set.
func (s *Session) CancelActive() {
	s.mu.Lock()
	cancelLLM := s.cancelLLM
	cancelTTS := s.cancelTTS
	s.cancelLLM = nil
	s.cancelTTS = nil
	s.mu.Unlock()

	if cancelLLM != nil {
		cancelLLM()
	}
	if cancelTTS != nil {
		cancelTTS()
	}
}

func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

func (s *Session) IdleFor() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.lastActivity)
}

// AddMessage appends a turn to the conversation context, trimming to
// MaxContextMessages from the front (spec.md Non-goals excludes persistent
// history across sessions, but within a session's lifetime the LLM needs
// its own recent turns as context).
func (s *Session) AddMessage(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.context = append(s.context, Message{Role: role, Content: content})
	if max := s.Config.MaxContextMessages; max > 0 && len(s.context) > max {
		s.context = s.context[len(s.context)-max:]
	}
}

func (s *Session) ContextCopy() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.context))
	copy(out, s.context)
	return out
}

func (s *Session) ClearContext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.context = s.context[:0]
}

func (s *Session) CurrentVoice() Voice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentVoice
}

func (s *Session) SetVoice(v Voice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentVoice = v
}

func (s *Session) CurrentLanguage() Language {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentLanguage
}

func (s *Session) SetLanguage(l Language) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentLanguage = l
}
