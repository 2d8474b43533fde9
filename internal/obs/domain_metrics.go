package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// QuoteRecalculations counts quote total recomputations by trigger.
	QuoteRecalculations *prometheus.CounterVec
	// QuoteNegativeTotals counts recomputations that produced a negative total.
	QuoteNegativeTotals prometheus.Counter
	// MilestoneRejections counts schedules refused at save time.
	MilestoneRejections *prometheus.CounterVec
	// QuoteTransitions counts status transitions.
	QuoteTransitions *prometheus.CounterVec
	// DocumentsRendered counts PDF render outcomes.
	DocumentsRendered *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers quote-specific Prometheus collectors.
// Calling it more than once is a no-op.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		QuoteRecalculations = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_recalculations_total",
			Help:      "Count of quote total recomputations by trigger.",
		}, []string{"trigger"}))
		QuoteNegativeTotals = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_negative_total_total",
			Help:      "Number of recomputations where discounts drove the total below zero.",
		}))
		MilestoneRejections = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_milestone_rejections_total",
			Help:      "Count of payment schedules rejected at save time.",
		}, []string{"reason"}))
		QuoteTransitions = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_status_transitions_total",
			Help:      "Count of quote status transitions.",
		}, []string{"from", "to"}))
		DocumentsRendered = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_documents_rendered_total",
			Help:      "Count of quote PDF render outcomes.",
		}, []string{"result"}))
	})
}

// IncRecalculation records a quote recomputation. Safe before registration.
func IncRecalculation(trigger string) {
	if QuoteRecalculations != nil {
		QuoteRecalculations.WithLabelValues(trigger).Inc()
	}
}

// IncNegativeTotal records a negative quote total.
func IncNegativeTotal() {
	if QuoteNegativeTotals != nil {
		QuoteNegativeTotals.Inc()
	}
}

// IncMilestoneRejection records a refused payment schedule.
func IncMilestoneRejection(reason string) {
	if MilestoneRejections != nil {
		MilestoneRejections.WithLabelValues(reason).Inc()
	}
}

// IncTransition records a status change.
func IncTransition(from, to string) {
	if QuoteTransitions != nil {
		QuoteTransitions.WithLabelValues(from, to).Inc()
	}
}

// IncDocumentRendered records a PDF render outcome.
func IncDocumentRendered(result string) {
	if DocumentsRendered != nil {
		DocumentsRendered.WithLabelValues(result).Inc()
	}
}
