// Package metrics exports workflow activity to Prometheus.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/petrijr/shellguard/pkg/api"
)

const namespace = "shellguard"

// PrometheusListener records bus events as Prometheus metrics.
type PrometheusListener struct {
	events           *prometheus.CounterVec
	riskScores       *prometheus.HistogramVec
	durations        *prometheus.HistogramVec
	approvals        *prometheus.CounterVec
	listenerFailures *prometheus.CounterVec
	pending          prometheus.Gauge
}

// NewPrometheusListener registers the collectors on reg. Use a fresh
// registry per listener; registering twice on the same registry panics.
func NewPrometheusListener(reg prometheus.Registerer) *PrometheusListener {
	f := promauto.With(reg)
	return &PrometheusListener{
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_events_total",
			Help:      "Lifecycle events published, by phase.",
		}, []string{"phase"}),
		riskScores: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "risk_score",
			Help:      "Risk scores assigned at assessment.",
			Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}, []string{"level"}),
		durations: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Time from submission to the terminal event.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"status"}),
		approvals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approvals_total",
			Help:      "Approvals by kind (auto, manual, out_of_order).",
		}, []string{"kind"}),
		listenerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_failures_total",
			Help:      "Listener errors and panics, by phase.",
		}, []string{"phase"}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_approvals",
			Help:      "Actions waiting for a reviewer.",
		}),
	}
}

// Listen is an api.Listener; subscribe it with SubscribeAll.
func (p *PrometheusListener) Listen(_ context.Context, ev api.BusEvent) error {
	p.events.WithLabelValues(string(ev.Phase)).Inc()

	switch ev.Phase {
	case api.PhaseRiskAssessed:
		if ev.Risk != nil {
			p.riskScores.WithLabelValues(string(ev.Risk.Level)).Observe(float64(ev.Risk.Score))
		}
	case api.PhasePendingApproval:
		p.pending.Inc()
	case api.PhaseApproved:
		if ev.ApprovedBy == api.SystemAutoApprover {
			p.approvals.WithLabelValues("auto").Inc()
		} else {
			p.pending.Dec()
			p.approvals.WithLabelValues("manual").Inc()
		}
	case api.PhaseImmediateExecuteApproval:
		p.pending.Dec()
		p.approvals.WithLabelValues("out_of_order").Inc()
	case api.PhaseRejected:
		p.pending.Dec()
		p.observeDuration(ev)
	case api.PhaseCompleted, api.PhaseFailed:
		p.observeDuration(ev)
	}
	return nil
}

// ListenerFailed counts a failed delivery. It matches the bus failure hook.
func (p *PrometheusListener) ListenerFailed(ev api.BusEvent, _ error) {
	p.listenerFailures.WithLabelValues(string(ev.Phase)).Inc()
}

func (p *PrometheusListener) observeDuration(ev api.BusEvent) {
	if ev.Command.Timestamp.IsZero() {
		return
	}
	end := ev.Timestamp
	if end.IsZero() {
		end = time.Now()
	}
	p.durations.WithLabelValues(string(ev.Phase)).Observe(end.Sub(ev.Command.Timestamp).Seconds())
}
