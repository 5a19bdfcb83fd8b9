package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CreditMetrics counts ledger operations and settled credit volume.
type CreditMetrics struct {
	holds     *prometheus.CounterVec
	finalizes *prometheus.CounterVec
	charged   prometheus.Counter
	refunded  prometheus.Counter
	granted   *prometheus.CounterVec
}

// NewCreditMetrics registers the credit ledger metrics on the provided registerer.
func NewCreditMetrics(reg prometheus.Registerer) *CreditMetrics {
	if reg == nil {
		return &CreditMetrics{}
	}
	holds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "credit_holds_total",
		Help: "Hold attempts by outcome.",
	}, []string{"result"})
	finalizes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "credit_finalizes_total",
		Help: "Finalize calls by outcome.",
	}, []string{"result"})
	charged := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "credits_charged_total",
		Help: "Credits consumed by settled work.",
	})
	refunded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "credits_refunded_total",
		Help: "Held credits returned to balance on settlement.",
	})
	granted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "credits_granted_total",
		Help: "Credits added to wallets by kind.",
	}, []string{"kind"})
	reg.MustRegister(holds, finalizes, charged, refunded, granted)
	return &CreditMetrics{
		holds:     holds,
		finalizes: finalizes,
		charged:   charged,
		refunded:  refunded,
		granted:   granted,
	}
}

// ObserveHold records a hold attempt; ok=false means insufficient funds.
func (m *CreditMetrics) ObserveHold(ok bool) {
	if m == nil || m.holds == nil {
		return
	}
	result := "held"
	if !ok {
		result = "insufficient"
	}
	m.holds.WithLabelValues(result).Inc()
}

// ObserveFinalize records a settlement. Duplicates only bump the outcome counter.
func (m *CreditMetrics) ObserveFinalize(duplicate bool, charged, refunded int64) {
	if m == nil || m.finalizes == nil {
		return
	}
	if duplicate {
		m.finalizes.WithLabelValues("duplicate").Inc()
		return
	}
	m.finalizes.WithLabelValues("settled").Inc()
	if charged > 0 {
		m.charged.Add(float64(charged))
	}
	if refunded > 0 {
		m.refunded.Add(float64(refunded))
	}
}

// ObserveGrant records a top-up.
func (m *CreditMetrics) ObserveGrant(kind string, amount int64) {
	if m == nil || m.granted == nil || amount <= 0 {
		return
	}
	m.granted.WithLabelValues(normalizeLabel(kind)).Add(float64(amount))
}
