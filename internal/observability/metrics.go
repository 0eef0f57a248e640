package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	transitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kennelboard",
		Subsystem: "engine",
		Name:      "transitions_total",
		Help:      "Number of transition requests grouped by outcome.",
	}, []string{"result"})

	lastTransitionGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kennelboard",
		Subsystem: "engine",
		Name:      "last_transition_committed_timestamp_seconds",
		Help:      "Unix timestamp of the most recent transition committed to Postgres.",
	})

	boardBuildHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kennelboard",
		Subsystem: "board",
		Name:      "build_duration_seconds",
		Help:      "Time spent resolving the registry and projecting the board.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})
)

func init() {
	prometheus.MustRegister(transitionCounter, lastTransitionGauge, boardBuildHistogram)
}

// Transition outcome labels.
const (
	TransitionApplied  = "applied"
	TransitionNoop     = "noop"
	TransitionRejected = "rejected"
	TransitionConflict = "conflict"
	TransitionError    = "error"
)

// RecordTransition counts a transition request outcome.
func RecordTransition(result string) {
	transitionCounter.WithLabelValues(result).Inc()
}

// RecordTransitionCommitted updates the commit watermark gauge.
func RecordTransitionCommitted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastTransitionGauge.Set(float64(ts.Unix()))
}

// ObserveBoardBuild records how long one board projection took.
func ObserveBoardBuild(d time.Duration) {
	boardBuildHistogram.Observe(d.Seconds())
}
