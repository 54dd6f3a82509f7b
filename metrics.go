package mmt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("mmt")

var (
	// requestsTotal counts translate requests by mode and result
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mmt_translate_requests_total",
		Help: "Translate requests by mode and result",
	}, []string{"mode", "result"})

	// segmentsTotal counts translated segments by pair
	segmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mmt_translate_segments_total",
		Help: "Translated segments by language pair",
	}, []string{"pair"})

	// stageDuration tracks the duration of each request stage
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mmt_translate_stage_duration_seconds",
		Help:    "Translate stage duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	}, []string{"stage"})

	// tuningSteps counts gradient steps by outcome
	tuningSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mmt_tuning_steps_total",
		Help: "Tuning gradient steps by outcome",
	}, []string{"outcome"})
)
