package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	childStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lysine",
			Subsystem: "child",
			Name:      "starts_total",
			Help:      "Number of supervised children started.",
		}, []string{"source"},
	)
	childKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lysine",
			Subsystem: "child",
			Name:      "kills_total",
			Help:      "Number of contingencies executed, by reason.",
		}, []string{"source", "reason"},
	)
	watchPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lysine",
			Subsystem: "watch",
			Name:      "polls_total",
			Help:      "Number of staleness checks performed.",
		}, []string{"source"},
	)
	watchStaleness = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lysine",
			Subsystem: "watch",
			Name:      "staleness_seconds",
			Help:      "Age of the most recent liveness evidence.",
		}, []string{"source"},
	)
	watchMaxAge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lysine",
			Subsystem: "watch",
			Name:      "max_age_seconds",
			Help:      "Configured staleness threshold.",
		}, []string{"source"},
	)
	watchState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lysine",
			Subsystem: "watch",
			Name:      "state",
			Help:      "Current supervisor state (1 = active state, 0 = inactive).",
		}, []string{"source", "state"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{childStarts, childKills, watchPolls, watchStaleness, watchMaxAge, watchState}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(source string) {
	if regOK.Load() {
		childStarts.WithLabelValues(source).Inc()
	}
}

func IncKill(source, reason string) {
	if regOK.Load() {
		childKills.WithLabelValues(source, reason).Inc()
	}
}

func IncPoll(source string) {
	if regOK.Load() {
		watchPolls.WithLabelValues(source).Inc()
	}
}

func SetStaleness(source string, seconds float64) {
	if regOK.Load() {
		watchStaleness.WithLabelValues(source).Set(seconds)
	}
}

func SetMaxAge(source string, seconds float64) {
	if regOK.Load() {
		watchMaxAge.WithLabelValues(source).Set(seconds)
	}
}

// SetState marks state as the active one for source and clears the others.
func SetState(source, state string, all []string) {
	if !regOK.Load() {
		return
	}
	for _, s := range all {
		var v float64
		if s == state {
			v = 1
		}
		watchState.WithLabelValues(source, s).Set(v)
	}
}
