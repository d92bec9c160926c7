package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/bizledger/internal/ledger"
)

// LedgerMetrics counts committed postings and reversals by transaction type.
type LedgerMetrics struct {
	postings  *prometheus.CounterVec
	reversals *prometheus.CounterVec
}

// NewLedgerMetrics registers the ledger counters.
func NewLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bizledger_ledger_postings_total",
		Help: "Committed ledger postings by transaction type.",
	}, []string{"type"})
	reversals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bizledger_ledger_reversals_total",
		Help: "Committed ledger reversals by transaction type.",
	}, []string{"type"})
	registerer.MustRegister(postings, reversals)
	return &LedgerMetrics{postings: postings, reversals: reversals}
}

// ObservePosting implements ledger.Observer.
func (m *LedgerMetrics) ObservePosting(t ledger.TransactionType) {
	m.postings.WithLabelValues(string(t)).Inc()
}

// ObserveReversal implements ledger.Observer.
func (m *LedgerMetrics) ObserveReversal(t ledger.TransactionType) {
	m.reversals.WithLabelValues(string(t)).Inc()
}

var _ ledger.Observer = (*LedgerMetrics)(nil)
