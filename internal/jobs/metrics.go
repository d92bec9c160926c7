// Package jobmetrics instruments the asynq handlers run by the worker.
package jobmetrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeOK    = "ok"
	outcomeError = "error"
)

// Metrics holds the worker collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs        *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	drifts      *prometheus.GaugeVec
	rolledOver  prometheus.Counter
}

var (
	sharedOnce sync.Once
	shared     *Metrics
)

// NewMetrics registers the collectors on reg. A nil reg shares a single
// instance registered on the default registry, which the worker serves.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg != nil {
		return register(reg)
	}
	sharedOnce.Do(func() { shared = register(prometheus.DefaultRegisterer) })
	return shared
}

func register(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bizledger",
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Task executions by task type and outcome.",
		}, []string{"task", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bizledger",
			Subsystem: "jobs",
			Name:      "run_duration_seconds",
			Help:      "Task execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"task"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bizledger",
			Subsystem: "jobs",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run per task type.",
		}, []string{"task"}),
		drifts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bizledger",
			Subsystem: "ledger",
			Name:      "balance_drifts",
			Help:      "Accounts whose stored balance disagrees with their postings.",
		}, []string{"company"}),
		rolledOver: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bizledger",
			Subsystem: "payroll",
			Name:      "rollover_employees_total",
			Help:      "Employees whose monthly counters were rolled over.",
		}),
	}
	reg.MustRegister(m.runs, m.latency, m.lastSuccess, m.drifts, m.rolledOver)
	return m
}

// Tracker times one task execution.
type Tracker struct {
	m     *Metrics
	task  string
	began time.Time
}

// Track starts timing task.
func (m *Metrics) Track(task string) *Tracker {
	return &Tracker{m: m, task: task, began: time.Now()}
}

// End records the outcome and hands err back so it can be returned in place.
func (t *Tracker) End(err error) error {
	if t == nil || t.m == nil {
		return err
	}
	t.m.latency.WithLabelValues(t.task).Observe(time.Since(t.began).Seconds())
	if err != nil {
		t.m.runs.WithLabelValues(t.task, outcomeError).Inc()
		return err
	}
	t.m.runs.WithLabelValues(t.task, outcomeOK).Inc()
	t.m.lastSuccess.WithLabelValues(t.task).SetToCurrentTime()
	return nil
}

// SetDrifts publishes the drift count of the latest reconciliation.
func (m *Metrics) SetDrifts(companyID int64, count int) {
	if m != nil {
		m.drifts.WithLabelValues(strconv.FormatInt(companyID, 10)).Set(float64(count))
	}
}

// AddRolledOver counts employees touched by a rollover.
func (m *Metrics) AddRolledOver(n int64) {
	if m != nil && n > 0 {
		m.rolledOver.Add(float64(n))
	}
}
