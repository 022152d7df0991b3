// Package metrics exposes the process-wide Prometheus collectors for the
// voice pipeline (spec.md §6 /health surface, extended here with /metrics;
// SPEC_FULL.md §A.5). Grounded on hubenschmidt-asr-llm-tts's
// internal/metrics/metrics.go (gauge/histogram naming and bucket choices)
// and SoulMyStage-SoulNexus's use of prometheus/client_golang as the
// project's metrics library.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicebridge_sessions_active",
		Help: "Currently active voice sessions",
	})

	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicebridge_sessions_total",
		Help: "Total voice sessions accepted",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voicebridge_stage_duration_seconds",
		Help:    "Per-stage latency (asr, llm, tts)",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	}, []string{"stage"})

	BargeIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicebridge_barge_ins_total",
		Help: "Total barge-in interruptions triggered by VAD",
	})

	Interrupts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_interrupts_total",
		Help: "Interrupts by source (vad, command, supersede)",
	}, []string{"source"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_errors_total",
		Help: "Error counts by stage and kind",
	}, []string{"stage", "kind"})

	AudioPacketsIn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicebridge_audio_packets_in_total",
		Help: "Total inbound audio packets received",
	})

	AudioChunksOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicebridge_audio_chunks_out_total",
		Help: "Total synthesized audio chunks written to clients",
	})
)
