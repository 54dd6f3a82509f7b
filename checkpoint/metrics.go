package checkpoint

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("mmt.checkpoint")

var (
	// checkpointLoads counts checkpoints read from the source by pair and result
	checkpointLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mmt_checkpoint_loads_total",
		Help: "Checkpoints read from the source by pair and result",
	}, []string{"pair", "result"})

	// weightLoads counts weight overwrites of the shared model
	weightLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mmt_checkpoint_weight_loads_total",
		Help: "Weight overwrites of the shared model by pair",
	}, []string{"pair"})

	// weightLoadDuration tracks weight overwrite latency
	weightLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mmt_checkpoint_weight_load_duration_seconds",
		Help:    "Weight overwrite duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	})
)
