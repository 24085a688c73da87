// Package metrics defines the Prometheus metrics for the go-docent service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the guide service
type Metrics struct {
	// Session metrics
	ActiveSessions    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsDestroyed prometheus.Counter
	SessionDuration   prometheus.Histogram

	// Utterance metrics
	ChunksReceived  prometheus.Counter
	ChunkBytes      prometheus.Histogram
	UtteranceBytes  prometheus.Histogram
	DecodeErrors    prometheus.Counter
	EmptyUtterances prometheus.Counter

	// Pipeline metrics
	TurnsStarted      prometheus.Counter
	TurnsCompleted    prometheus.Counter
	TurnDuration      prometheus.Histogram
	PhrasesEmitted    prometheus.Counter
	PhrasesSkipped    prometheus.Counter
	SynthesisDuration prometheus.Histogram
	SynthesisFailures prometheus.Counter

	// STT metrics
	STTRequests   prometheus.Counter
	STTFailures   prometheus.Counter
	STTSkipped    prometheus.Counter
	STTDuration   prometheus.Histogram

	// Streaming metrics
	FramesSent     prometheus.Counter
	BytesStreamed  prometheus.Counter
	StreamFailures prometheus.Counter

	// Vision context metrics
	DetectionsIngested prometheus.Counter
	ContextHits        prometheus.Counter
	ContextMisses      prometheus.Counter
}

// New creates all metrics and registers them with the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith creates all metrics against a specific registerer.
// Tests use this with a fresh registry to avoid duplicate registration.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "docent_active_sessions",
			Help: "Current number of connected guide sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "docent_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsDestroyed: factory.NewCounter(prometheus.CounterOpts{
			Name: "docent_sessions_destroyed_total",
			Help: "Total number of sessions destroyed",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "docent_session_duration_seconds",
			Help:    "Lifetime of guide sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),

		ChunksReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "docent_audio_chunks_received_total",
			Help: "Total number of inbound audio chunks",
		}),
		ChunkBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "docent_audio_chunk_bytes",
			Help:    "Size of inbound audio chunks in bytes",
			Buckets: prometheus.ExponentialBuckets(256, 2, 10), // 256B to ~128KB
		}),
		UtteranceBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "docent_utterance_bytes",
			Help:    "Size of reassembled utterances in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "docent_chunk_decode_errors_total",
			Help: "Total number of inbound chunks dropped due to decode errors",
		}),
		EmptyUtterances: factory.NewCounter(prometheus.CounterOpts{
			Name: "docent_empty_utterances_total",
			Help: "Total number of utterance-complete signals with no buffered audio",
		}),

		TurnsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "docent_turns_started_total",
			Help: "Total number of conversational turns started",
		}),
		TurnsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "docent_turns_completed_total",
			Help: "Total number of conversational turns completed",
		}),
		TurnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "docent_turn_duration_seconds",
			Help:    "End-to-end duration of conversational turns",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2 minutes
		}),
		PhrasesEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "docent_phrases_emitted_total",
			Help: "Total number of phrases emitted by the segmenter",
		}),
		PhrasesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "docent_phrases_skipped_total",
			Help: "Total number of phrases skipped after failed or empty synthesis",
		}),
		SynthesisDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "docent_synthesis_duration_seconds",
			Help:    "Per-phrase speech synthesis latency",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1 minute
		}),
		SynthesisFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "docent_synthesis_failures_total",
			Help: "Total number of failed phrase synthesis attempts",
		}),

		STTRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "docent_stt_requests_total",
			Help: "Total number of transcription requests",
		}),
		STTFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "docent_stt_failures_total",
			Help: "Total number of failed or timed-out transcription requests",
		}),
		STTSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "docent_stt_skipped_total",
			Help: "Total number of utterances skipped as too short for transcription",
		}),
		STTDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "docent_stt_duration_seconds",
			Help:    "Transcription request latency",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),

		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "docent_frames_sent_total",
			Help: "Total number of outbound binary audio frames",
		}),
		BytesStreamed: factory.NewCounter(prometheus.CounterOpts{
			Name: "docent_bytes_streamed_total",
			Help: "Total outbound audio bytes streamed to clients",
		}),
		StreamFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "docent_stream_failures_total",
			Help: "Total number of phrase streams aborted by write failures",
		}),

		DetectionsIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "docent_detections_ingested_total",
			Help: "Total number of vision detections received",
		}),
		ContextHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "docent_cv_context_hits_total",
			Help: "Total number of turns that used a fresh vision context",
		}),
		ContextMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "docent_cv_context_misses_total",
			Help: "Total number of turns with no usable vision context",
		}),
	}
}
