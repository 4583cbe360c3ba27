package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rl1809/game-shelf/internal/core/domain"
	"github.com/rl1809/game-shelf/internal/port"
)

const namespace = "shelf"

var _ port.Recorder = (*Recorder)(nil)

// Recorder exports engine and reconciler counters to Prometheus.
type Recorder struct {
	registry *prometheus.Registry

	started    *prometheus.CounterVec
	queued     *prometheus.CounterVec
	settled    *prometheus.CounterVec
	retries    *prometheus.CounterVec
	reconciled *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		started: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_started_total",
			Help:      "Operations whose remote call was started.",
		}, []string{"kind"}),
		queued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_queued_total",
			Help:      "Operations queued behind another operation on the same game.",
		}, []string{"kind"}),
		settled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_settled_total",
			Help:      "Operations settled, by outcome.",
		}, []string{"kind", "outcome"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_retries_total",
			Help:      "Retried remote calls.",
		}, []string{"kind"}),
		reconciled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Reconciliation outcomes per game.",
		}, []string{"outcome"}),
	}
}

func (r *Recorder) OperationStarted(kind domain.OperationKind) {
	r.started.WithLabelValues(string(kind)).Inc()
}

func (r *Recorder) OperationQueued(kind domain.OperationKind) {
	r.queued.WithLabelValues(string(kind)).Inc()
}

func (r *Recorder) OperationSettled(kind domain.OperationKind, outcome string) {
	r.settled.WithLabelValues(string(kind), outcome).Inc()
}

func (r *Recorder) RetryAttempted(kind domain.OperationKind) {
	r.retries.WithLabelValues(string(kind)).Inc()
}

func (r *Recorder) Reconciled(outcome string) {
	r.reconciled.WithLabelValues(outcome).Inc()
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
