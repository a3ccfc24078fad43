package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stt_gateway_active_sessions",
		Help: "Number of live streaming sessions",
	})
	TranscriptionsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stt_gateway_transcriptions_in_flight",
		Help: "Transcription requests currently holding a global slot",
	})
)

// Counters
var (
	SessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_gateway_sessions_created_total",
		Help: "Total sessions created",
	})
	SessionsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_gateway_sessions_rejected_total",
		Help: "Sessions rejected due to capacity limit",
	})
	FramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_gateway_audio_frames_total",
		Help: "Total audio frames processed across all sessions",
	})
	FrameErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stt_gateway_frame_errors_total",
		Help: "Frames that failed processing by stage",
	}, []string{"stage"})
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stt_gateway_events_total",
		Help: "Events sent to clients by type",
	}, []string{"event"})
	UtterancesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stt_gateway_utterances_total",
		Help: "Finalized speech episodes by outcome",
	}, []string{"outcome"})
	DroppedSegmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_gateway_dropped_segments_total",
		Help: "Utterances dropped because the session transcription queue was full",
	})
	TranscriptionErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stt_gateway_transcription_errors_total",
		Help: "Transcription requests that failed",
	})
)

// Histograms
var (
	TranscriptionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stt_gateway_transcription_duration_seconds",
		Help:    "Transcription request duration in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})
	UtteranceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stt_gateway_utterance_duration_seconds",
		Help:    "Duration of accepted utterances in seconds",
		Buckets: []float64{1.5, 2, 3, 5, 8, 13, 21, 34},
	})
)

// Utterance outcomes.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDiscarded = "discarded"
)
