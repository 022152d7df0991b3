// Command server runs the voicebridge WebSocket gateway (spec.md §6,
// SPEC_FULL.md §C.10). It wires provider adapters chosen by environment
// configuration into a shared ws.Handler, starts the idle-session reaper,
// and serves /, /health, /metrics, /static/*, and /ws on net/http's
// ServeMux — the same dependency-light HTTP approach the teacher's
// cmd/agent/main.go uses, extended with the metrics endpoint from §A.5.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lokutor-ai/voicebridge/internal/config"
	"github.com/lokutor-ai/voicebridge/internal/logging"
	llmProvider "github.com/lokutor-ai/voicebridge/pkg/providers/llm"
	sttProvider "github.com/lokutor-ai/voicebridge/pkg/providers/stt"
	ttsProvider "github.com/lokutor-ai/voicebridge/pkg/providers/tts"
	"github.com/lokutor-ai/voicebridge/pkg/registry"
	"github.com/lokutor-ai/voicebridge/pkg/transport/ws"
	"github.com/lokutor-ai/voicebridge/pkg/vad"
	"github.com/lokutor-ai/voicebridge/pkg/voicesession"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.Debug)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	newSTT := buildSTTFactory(cfg, logger)
	llm := buildLLM(cfg, logger)
	tts := buildTTS(cfg, logger)

	sessionCfg := voicesession.DefaultConfig()
	sessionCfg.DefaultVoice = cfg.DefaultVoice
	sessionCfg.DefaultLanguage = cfg.Language
	sessionCfg.VADEnergyThreshold = cfg.VADEnergyThreshold
	sessionCfg.SessionIdleTimeout = int(cfg.SessionTimeout.Seconds())
	sessionCfg.ReapInterval = int(cfg.ReapInterval.Seconds())
	sessionCfg.EchoSuppression = cfg.EchoSuppression

	reg := registry.New(logger)
	newVAD := func() voicesession.VADProvider { return vad.New(cfg.VADEnergyThreshold) }

	handler := ws.NewHandler(reg, newSTT, llm, tts, newVAD, sessionCfg, logger)

	reaper := registry.NewReaper(reg, cfg.ReapInterval, logger)
	stopReaper := make(chan struct{})
	go reaper.Run(stopReaper)
	defer close(stopReaper)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("voicebridge\n"))
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","sessions_active":` + strconv.Itoa(reg.Len()) + `}`))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir("static"))))
	mux.Handle("/ws", handler)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}

	go func() {
		logger.Info("server listening", "addr", cfg.Addr, "stt", cfg.STTProvider, "llm", cfg.LLMProvider, "tts", cfg.TTSProvider)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func buildSTTFactory(cfg config.Config, logger voicesession.Logger) ws.ProviderFactory {
	return func() (voicesession.StreamingSTTProvider, error) {
		switch cfg.STTProvider {
		case "deepgram":
			if cfg.DeepgramKey == "" {
				logger.Warn("DEEPGRAM_API_KEY not set; deepgram STT will fail at call time")
			}
			return sttProvider.NewDeepgramStreamingSTT(cfg.DeepgramKey), nil
		case "openai":
			if cfg.OpenAIKey == "" {
				logger.Warn("OPENAI_API_KEY not set; openai STT will fail at call time")
			}
			return sttProvider.NewBufferedStreamingSTT(sttProvider.NewOpenAISTT(cfg.OpenAIKey, "whisper-1")), nil
		case "assemblyai":
			if cfg.AssemblyAIKey == "" {
				logger.Warn("ASSEMBLYAI_API_KEY not set; assemblyai STT will fail at call time")
			}
			return sttProvider.NewBufferedStreamingSTT(sttProvider.NewAssemblyAISTT(cfg.AssemblyAIKey)), nil
		case "groq":
			fallthrough
		default:
			if cfg.GroqKey == "" {
				logger.Warn("GROQ_API_KEY not set; groq STT will fail at call time")
			}
			return sttProvider.NewBufferedStreamingSTT(sttProvider.NewGroqSTT(cfg.GroqKey, "whisper-large-v3-turbo")), nil
		}
	}
}

func buildLLM(cfg config.Config, logger voicesession.Logger) voicesession.LLMProvider {
	switch cfg.LLMProvider {
	case "openai":
		if cfg.OpenAIKey == "" {
			logger.Warn("OPENAI_API_KEY not set; openai LLM will fail at call time")
		}
		if cfg.StreamingLLM {
			return llmProvider.NewStreamingOpenAILLM(cfg.OpenAIKey, cfg.LLMModel)
		}
		return llmProvider.NewOpenAILLM(cfg.OpenAIKey, cfg.LLMModel)
	case "anthropic":
		if cfg.AnthropicKey == "" {
			logger.Warn("ANTHROPIC_API_KEY not set; anthropic LLM will fail at call time")
		}
		return llmProvider.NewAnthropicLLM(cfg.AnthropicKey, cfg.LLMModel)
	case "google":
		if cfg.GoogleKey == "" {
			logger.Warn("GOOGLE_API_KEY not set; google LLM will fail at call time")
		}
		return llmProvider.NewGoogleLLM(cfg.GoogleKey, cfg.LLMModel)
	case "groq":
		fallthrough
	default:
		if cfg.GroqKey == "" {
			logger.Warn("GROQ_API_KEY not set; groq LLM will fail at call time")
		}
		return llmProvider.NewGroqLLM(cfg.GroqKey, cfg.LLMModel)
	}
}

func buildTTS(cfg config.Config, logger voicesession.Logger) voicesession.TTSProvider {
	switch cfg.TTSProvider {
	case "minimax":
		if cfg.MiniMaxKey == "" {
			logger.Warn("MINIMAX_API_KEY not set; minimax TTS will fail at call time")
		}
		return ttsProvider.NewMiniMaxTTS(cfg.MiniMaxKey, cfg.MiniMaxGroupID)
	case "lokutor":
		fallthrough
	default:
		if cfg.LokutorKey == "" {
			logger.Warn("LOKUTOR_API_KEY not set; lokutor TTS will fail at call time")
		}
		return ttsProvider.NewLokutorTTS(cfg.LokutorKey)
	}
}
