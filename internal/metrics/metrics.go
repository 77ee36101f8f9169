package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "videohub"

// Recorder publishes Prometheus metrics for the consistency layer. All methods
// are safe on a nil Recorder so components can run without metrics.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	jobs        *prometheus.CounterVec
	jobLatency  *prometheus.HistogramVec
	outbox      *prometheus.CounterVec
	gateChecks  *prometheus.CounterVec
	ledger      *prometheus.CounterVec
	likes       *prometheus.CounterVec
	populations *prometheus.CounterVec
}

// NewRecorder registers collectors on reg, or on a fresh registry when reg is nil.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	jobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "executions_total",
		Help:      "Job lifecycle events by kind and outcome.",
	}, []string{"kind", "outcome"})

	jobLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "duration_seconds",
		Help:      "Job execution time by kind and outcome.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"kind", "outcome"})

	outbox := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "relay_events_total",
		Help:      "Outbox events handled by the relay by topic and result.",
	}, []string{"topic", "result"})

	gateChecks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "membership",
		Name:      "checks_total",
		Help:      "Membership checks by instance, answering path and answer.",
	}, []string{"instance", "path", "answer"})

	ledger := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "consumer",
		Name:      "messages_total",
		Help:      "Inbound deliveries by consumer group and ledger result.",
	}, []string{"group", "result"})

	likes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "likes",
		Name:      "operations_total",
		Help:      "Like operations by action and whether they changed state.",
	}, []string{"action", "result"})

	populations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "membership",
		Name:      "population_batches_total",
		Help:      "Batches added to membership filters during population.",
	}, []string{"instance"})

	reg.MustRegister(jobs, jobLatency, outbox, gateChecks, ledger, likes, populations)

	return &Recorder{
		gatherer:    reg,
		handler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		jobs:        jobs,
		jobLatency:  jobLatency,
		outbox:      outbox,
		gateChecks:  gateChecks,
		ledger:      ledger,
		likes:       likes,
		populations: populations,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying gatherer for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

func (r *Recorder) JobStarted(kind string) {
	if r == nil {
		return
	}
	r.jobs.WithLabelValues(kind, "started").Inc()
}

func (r *Recorder) JobFinished(kind string, err error, took time.Duration) {
	if r == nil {
		return
	}
	outcome := "succeeded"
	if err != nil {
		outcome = "failed"
	}
	r.jobs.WithLabelValues(kind, outcome).Inc()
	r.jobLatency.WithLabelValues(kind, outcome).Observe(took.Seconds())
}

func (r *Recorder) OutboxEvent(topic, result string) {
	if r == nil {
		return
	}
	r.outbox.WithLabelValues(topic, result).Inc()
}

func (r *Recorder) GateCheck(instance, path, answer string) {
	if r == nil {
		return
	}
	r.gateChecks.WithLabelValues(instance, path, answer).Inc()
}

func (r *Recorder) LedgerResult(group, result string) {
	if r == nil {
		return
	}
	r.ledger.WithLabelValues(group, result).Inc()
}

func (r *Recorder) LikeOperation(action string, changed bool) {
	if r == nil {
		return
	}
	result := "converged"
	if changed {
		result = "changed"
	}
	r.likes.WithLabelValues(action, result).Inc()
}

func (r *Recorder) PopulationBatch(instance string) {
	if r == nil {
		return
	}
	r.populations.WithLabelValues(instance).Inc()
}
