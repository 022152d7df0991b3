// Package config loads process configuration from the environment (SPEC_FULL.md
// §A.3), grounded on the teacher's cmd/agent/main.go (provider-selection
// switch with a fallback default, fatal-if-selected-and-missing key) and on
// hubenschmidt-asr-llm-tts's internal/env/env.go (small typed env helpers).
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/language"

	"github.com/lokutor-ai/voicebridge/pkg/voicesession"
)

// Config is the fully-resolved process configuration.
type Config struct {
	Addr string

	STTProvider string
	LLMProvider string
	TTSProvider string

	GroqKey        string
	OpenAIKey      string
	AnthropicKey   string
	GoogleKey      string
	DeepgramKey    string
	AssemblyAIKey  string
	LokutorKey     string
	MiniMaxKey     string
	MiniMaxGroupID string

	LLMModel        string
	StreamingLLM    bool
	SystemPrompt    string
	DefaultVoice    voicesession.Voice
	Language        voicesession.Language
	EchoSuppression bool

	VADEnergyThreshold float64
	SessionTimeout     time.Duration
	ReapInterval       time.Duration

	Debug bool
}

// Load reads .env (if present) then the process environment, applying the
// same provider defaults the teacher's cmd/agent/main.go uses.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("note: no .env file found, using process environment")
	}

	cfg := Config{
		Addr:        Str("LISTEN_ADDR", ":8080"),
		STTProvider: Str("STT_PROVIDER", "groq"),
		LLMProvider: Str("LLM_PROVIDER", "openai"),
		TTSProvider: Str("TTS_PROVIDER", "lokutor"),

		GroqKey:        os.Getenv("GROQ_API_KEY"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		AnthropicKey:   os.Getenv("ANTHROPIC_API_KEY"),
		GoogleKey:      os.Getenv("GOOGLE_API_KEY"),
		DeepgramKey:    os.Getenv("DEEPGRAM_API_KEY"),
		AssemblyAIKey:  os.Getenv("ASSEMBLYAI_API_KEY"),
		LokutorKey:     os.Getenv("LOKUTOR_API_KEY"),
		MiniMaxKey:     os.Getenv("MINIMAX_API_KEY"),
		MiniMaxGroupID: os.Getenv("MINIMAX_GROUP_ID"),

		LLMModel:        Str("LLM_MODEL", ""),
		StreamingLLM:    Bool("LLM_STREAMING", true),
		SystemPrompt:    Str("SYSTEM_PROMPT", "You are a helpful, concise voice assistant."),
		DefaultVoice:    voicesession.Voice(Str("DEFAULT_VOICE", string(voicesession.DefaultVoice))),
		Language:        normalizeLanguage(Str("LANGUAGE", string(voicesession.LanguageEn))),
		EchoSuppression: Bool("ECHO_SUPPRESSION_ENABLED", false),

		VADEnergyThreshold: Float("VAD_ENERGY_THRESHOLD", 0.05),
		SessionTimeout:     time.Duration(Int("SESSION_TIMEOUT_SECONDS", 600)) * time.Second,
		ReapInterval:       time.Duration(Int("REAP_INTERVAL_SECONDS", 60)) * time.Second,

		Debug: Bool("DEBUG", false),
	}

	cfg.checkRequiredKeys()
	return cfg
}

// checkRequiredKeys exits the process if the selected provider's key is
// missing. Unselected providers only warn at call sites that construct
// them (see cmd/server), matching spec.md §6: "Unset required keys for a
// selected provider are fatal at startup only if that provider is
// selected; otherwise warn."
func (c Config) checkRequiredKeys() {
	switch c.STTProvider {
	case "groq":
		requireKey("GROQ_API_KEY", c.GroqKey)
	case "openai":
		requireKey("OPENAI_API_KEY", c.OpenAIKey)
	case "deepgram":
		requireKey("DEEPGRAM_API_KEY", c.DeepgramKey)
	case "assemblyai":
		requireKey("ASSEMBLYAI_API_KEY", c.AssemblyAIKey)
	}

	switch c.LLMProvider {
	case "groq":
		requireKey("GROQ_API_KEY", c.GroqKey)
	case "openai":
		requireKey("OPENAI_API_KEY", c.OpenAIKey)
	case "anthropic":
		requireKey("ANTHROPIC_API_KEY", c.AnthropicKey)
	case "google":
		requireKey("GOOGLE_API_KEY", c.GoogleKey)
	}

	switch c.TTSProvider {
	case "lokutor":
		requireKey("LOKUTOR_API_KEY", c.LokutorKey)
	case "minimax":
		requireKey("MINIMAX_API_KEY", c.MiniMaxKey)
	}
}

// normalizeLanguage canonicalizes an operator-supplied LANGUAGE value (which
// may be a full BCP-47 tag like "en-US" or "zh-Hans-CN") down to the base
// language subtag the provider adapters key on. Unparseable input falls back
// unchanged so a typo doesn't crash startup; provider adapters already treat
// unrecognized language codes as "use vendor default".
func normalizeLanguage(raw string) voicesession.Language {
	tag, err := language.Parse(raw)
	if err != nil {
		return voicesession.Language(raw)
	}
	base, _ := tag.Base()
	return voicesession.Language(base.String())
}

func requireKey(name, value string) {
	if value == "" {
		log.Fatalf("error: %s must be set for the selected provider", name)
	}
}

func Str(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func Int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func Float(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func Bool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
