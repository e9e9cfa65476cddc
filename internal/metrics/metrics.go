// Package metrics 引擎的 Prometheus 指标
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cycle_oracle"

// Metrics 所有指标
type Metrics struct {
	// 调度
	JobRuns     *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec

	// 外部调用
	ChainCalls     *prometheus.CounterVec
	SportsRequests *prometheus.CounterVec

	// 索引
	IndexerLastBlock prometheus.Gauge
	IndexerLag       prometheus.Gauge
	EventsIndexed    *prometheus.CounterVec

	// 周期
	GateBlocked    *prometheus.CounterVec
	CyclesOpened   prometheus.Counter
	CyclesResolved *prometheus.CounterVec
	SlipsEvaluated prometheus.Counter

	registry *prometheus.Registry
}

// New 在 reg 上注册全部指标
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		JobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Job runs by outcome (ok, error, fatal, skipped_locked, skipped_running)",
		}, []string{"job", "outcome"}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Job run duration",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"job"}),
		ChainCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "calls_total",
			Help:      "Contract calls by method and outcome",
		}, []string{"method", "outcome"}),
		SportsRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sportmonks",
			Name:      "requests_total",
			Help:      "Sports API requests by endpoint and status",
		}, []string{"endpoint", "status"}),
		IndexerLastBlock: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "last_block",
			Help:      "Last block processed by the event indexer",
		}),
		IndexerLag: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "head_lag_blocks",
			Help:      "Blocks between chain head and watermark",
		}),
		EventsIndexed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "events_total",
			Help:      "Indexed contract events by name",
		}, []string{"event"}),
		GateBlocked: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "gate_blocked_total",
			Help:      "Resolution gate evaluations that failed, by condition",
		}, []string{"condition"}),
		CyclesOpened: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "opened_total",
			Help:      "Cycles opened on chain by this process",
		}),
		CyclesResolved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "resolved_total",
			Help:      "Cycles marked resolved, by path (submitted, reconciled)",
		}, []string{"path"}),
		SlipsEvaluated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluator",
			Name:      "slips_evaluated_total",
			Help:      "Slips evaluated by this process",
		}),
		registry: reg,
	}
}

// NewDefault 带 Go 运行时与进程指标的注册表
func NewDefault() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return New(reg)
}

// NewNop 独立注册表，测试用
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
