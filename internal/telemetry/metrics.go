package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics — метрики движка.
//
// Все методы безопасно вызывать на nil *Metrics: компоненты,
// созданные без метрик (например, в тестах), просто ничего не пишут.
type Metrics struct {
	claimed          prometheus.Counter
	outcomes         *prometheus.CounterVec
	executorDuration *prometheus.HistogramVec
	runsStarted      prometheus.Counter
	runsDuplicate    prometheus.Counter
	runsFinished     *prometheus.CounterVec
	ticks            *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
}

// NewMetrics регистрирует метрики в reg.
// reg == nil — регистрация в prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		claimed: f.NewCounter(prometheus.CounterOpts{
			Name: "fanflow_run_nodes_claimed_total",
			Help: "Run nodes claimed by scheduler ticks.",
		}),
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fanflow_run_node_outcomes_total",
			Help: "Processed run nodes by outcome.",
		}, []string{"outcome"}),
		executorDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fanflow_executor_duration_seconds",
			Help:    "Action executor latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"action_type"}),
		runsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "fanflow_runs_started_total",
			Help: "Runs created.",
		}),
		runsDuplicate: f.NewCounter(prometheus.CounterOpts{
			Name: "fanflow_runs_duplicate_total",
			Help: "Run starts rejected by the dedupe key.",
		}),
		runsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fanflow_runs_finished_total",
			Help: "Runs finished by terminal status.",
		}, []string{"status"}),
		ticks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fanflow_ticks_total",
			Help: "Scheduler ticks by result.",
		}, []string{"result"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fanflow_http_requests_total",
			Help: "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
	}
}

func (m *Metrics) Claimed(n int) {
	if m == nil {
		return
	}
	m.claimed.Add(float64(n))
}

func (m *Metrics) Outcome(outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveExecutor(actionType string, d time.Duration) {
	if m == nil {
		return
	}
	m.executorDuration.WithLabelValues(actionType).Observe(d.Seconds())
}

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsStarted.Inc()
}

func (m *Metrics) RunDuplicate() {
	if m == nil {
		return
	}
	m.runsDuplicate.Inc()
}

func (m *Metrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.runsFinished.WithLabelValues(status).Inc()
}

func (m *Metrics) Tick(result string) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(result).Inc()
}

func (m *Metrics) HTTPRequest(method, code string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, code).Inc()
}
