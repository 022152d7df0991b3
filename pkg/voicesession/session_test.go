package voicesession

import "testing"

func TestNextUtteranceSupersedesPrior(t *testing.T) {
	s := New("sess-1", nil, nil, nil, nil, DefaultConfig(), nil)

	u1 := s.NextUtterance("hello")
	if u1.Seq != 1 {
		t.Fatalf("expected first utterance seq 1, got %d", u1.Seq)
	}
	if !s.IsCurrent(u1.Seq) {
		t.Error("expected u1 to be current")
	}

	u2 := s.NextUtterance("world")
	if u2.Seq != 2 {
		t.Fatalf("expected second utterance seq 2, got %d", u2.Seq)
	}
	if s.IsCurrent(u1.Seq) {
		t.Error("expected u1 to no longer be current after u2")
	}
	if !s.IsCurrent(u2.Seq) {
		t.Error("expected u2 to be current")
	}
}

func TestRequestInterruptIdempotent(t *testing.T) {
	s := New("sess-1", nil, nil, nil, nil, DefaultConfig(), nil)

	if s.InterruptRequested() {
		t.Fatal("expected no interrupt requested initially")
	}

	s.RequestInterrupt()
	s.RequestInterrupt() // idempotent, must not panic or toggle off

	if !s.InterruptRequested() {
		t.Error("expected interrupt to be requested")
	}

	s.ClearInterrupt()
	if s.InterruptRequested() {
		t.Error("expected interrupt to be cleared")
	}
}

func TestReplyingReflectsLLMOrTTSActive(t *testing.T) {
	s := New("sess-1", nil, nil, nil, nil, DefaultConfig(), nil)

	if s.Replying() {
		t.Fatal("expected not replying initially")
	}

	s.SetProcessingLLM(true)
	if !s.Replying() {
		t.Error("expected replying while LLM is processing")
	}
	s.SetProcessingLLM(false)

	s.SetTTSActive(true)
	if !s.Replying() {
		t.Error("expected replying while TTS is active")
	}
	s.SetTTSActive(false)

	if s.Replying() {
		t.Error("expected not replying once both are cleared")
	}
}

func TestCancelActiveInvokesAndClearsCancelFuncs(t *testing.T) {
	s := New("sess-1", nil, nil, nil, nil, DefaultConfig(), nil)

	var llmCancelled, ttsCancelled bool
	s.SetCancelLLM(func() { llmCancelled = true })
	s.SetCancelTTS(func() { ttsCancelled = true })

	s.CancelActive()

	if !llmCancelled || !ttsCancelled {
		t.Fatalf("expected both cancel funcs invoked, got llm=%v tts=%v", llmCancelled, ttsCancelled)
	}

	// Second call must be a no-op, not a double-invoke.
	llmCancelled, ttsCancelled = false, false
	s.CancelActive()
	if llmCancelled || ttsCancelled {
		t.Error("expected cancel funcs to be cleared after first CancelActive call")
	}
}

func TestAddMessageTrimsToMaxContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxContextMessages = 2
	s := New("sess-1", nil, nil, nil, nil, cfg, nil)

	s.AddMessage("user", "one")
	s.AddMessage("assistant", "two")
	s.AddMessage("user", "three")

	ctx := s.ContextCopy()
	if len(ctx) != 2 {
		t.Fatalf("expected context trimmed to 2 messages, got %d", len(ctx))
	}
	if ctx[0].Content != "two" || ctx[1].Content != "three" {
		t.Errorf("expected trim to keep the most recent messages, got %+v", ctx)
	}
}

func TestClearContext(t *testing.T) {
	s := New("sess-1", nil, nil, nil, nil, DefaultConfig(), nil)
	s.AddMessage("user", "hi")
	s.ClearContext()
	if len(s.ContextCopy()) != 0 {
		t.Error("expected context empty after ClearContext")
	}
}

func TestVoiceAndLanguageDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultVoice = "alice"
	cfg.DefaultLanguage = LanguageJa
	s := New("sess-1", nil, nil, nil, nil, cfg, nil)

	if s.CurrentVoice() != "alice" {
		t.Errorf("expected default voice alice, got %s", s.CurrentVoice())
	}
	if s.CurrentLanguage() != LanguageJa {
		t.Errorf("expected default language ja, got %s", s.CurrentLanguage())
	}

	s.SetVoice("bob")
	s.SetLanguage(LanguageEs)
	if s.CurrentVoice() != "bob" || s.CurrentLanguage() != LanguageEs {
		t.Error("expected voice/language overrides to stick")
	}
}
