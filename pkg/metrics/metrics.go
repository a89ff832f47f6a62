// Package metrics exports session lifecycle metrics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/txn2/devops-bootcamp/pkg/session"
)

const (
	promNamespace = "bootcamp"
	promSubsystem = "sessions"
)

// Recorder implements session.Metrics with Prometheus collectors.
type Recorder struct {
	launches     *prom.CounterVec
	terminations *prom.CounterVec
	orchSeconds  *prom.HistogramVec
	orchErrors   *prom.CounterVec
	gatherer     prom.Gatherer
}

// NewRecorder registers the session collectors on reg. A nil reg uses a
// fresh registry, which keeps tests independent.
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{
		launches: prom.NewCounterVec(prom.CounterOpts{
			Namespace: promNamespace,
			Subsystem: promSubsystem,
			Name:      "launches_total",
			Help:      "sandbox launch attempts by outcome",
		}, []string{"outcome"}),
		terminations: prom.NewCounterVec(prom.CounterOpts{
			Namespace: promNamespace,
			Subsystem: promSubsystem,
			Name:      "terminations_total",
			Help:      "sandbox terminate attempts by outcome",
		}, []string{"outcome"}),
		orchSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: promNamespace,
			Subsystem: "orchestrator",
			Name:      "seconds",
			Help:      "duration of orchestrator API calls",
			Buckets:   prom.DefBuckets,
		}, []string{"op"}),
		orchErrors: prom.NewCounterVec(prom.CounterOpts{
			Namespace: promNamespace,
			Subsystem: "orchestrator",
			Name:      "errors_total",
			Help:      "errors from orchestrator API calls",
		}, []string{"op"}),
		gatherer: reg,
	}
	reg.MustRegister(r.launches, r.terminations, r.orchSeconds, r.orchErrors)
	return r
}

// LaunchOutcome counts a launch attempt.
func (r *Recorder) LaunchOutcome(outcome string) {
	r.launches.WithLabelValues(outcome).Inc()
}

// TerminateOutcome counts a terminate attempt.
func (r *Recorder) TerminateOutcome(outcome string) {
	r.terminations.WithLabelValues(outcome).Inc()
}

// OrchestratorCall observes one orchestrator round trip.
func (r *Recorder) OrchestratorCall(op string, d time.Duration, err error) {
	r.orchSeconds.WithLabelValues(op).Observe(d.Seconds())
	if err != nil {
		r.orchErrors.WithLabelValues(op).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// Verify interface compliance.
var _ session.Metrics = (*Recorder)(nil)
