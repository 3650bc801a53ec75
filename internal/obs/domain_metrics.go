package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// SalesTotal counts checkout outcomes.
	SalesTotal *prometheus.CounterVec
	// SaleAmount records completed ticket totals in pesos.
	SaleAmount prometheus.Histogram
	// SettlementRejections counts rejected payment proposals by reason.
	SettlementRejections *prometheus.CounterVec
	// WalletMovements counts ledger appends by direction and motive.
	WalletMovements *prometheus.CounterVec
	// FolioRetries counts folio collisions that forced a redraw.
	FolioRetries prometheus.Counter
	// ReversalsTotal counts returns and cancellations by kind.
	ReversalsTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		SalesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_total",
			Help:      "Count of checkout outcomes.",
		}, []string{"result"})
		SaleAmount = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sale_amount_pesos",
			Help:      "Completed ticket totals in pesos.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000},
		})
		SettlementRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_rejections_total",
			Help:      "Count of rejected payment proposals by reason.",
		}, []string{"reason"})
		WalletMovements = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_movements_total",
			Help:      "Count of wallet ledger appends by direction and motive.",
		}, []string{"direction", "motive"})
		FolioRetries = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "folio_retries_total",
			Help:      "Number of folio collisions that forced a redraw.",
		})
		ReversalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reversals_total",
			Help:      "Count of returns and cancellations by kind.",
		}, []string{"kind"})

		mustRegisterCollector(reg, SalesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SalesTotal = v
			}
		})
		mustRegisterCollector(reg, SaleAmount, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				SaleAmount = v
			}
		})
		mustRegisterCollector(reg, SettlementRejections, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SettlementRejections = v
			}
		})
		mustRegisterCollector(reg, WalletMovements, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				WalletMovements = v
			}
		})
		mustRegisterCollector(reg, FolioRetries, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				FolioRetries = v
			}
		})
		mustRegisterCollector(reg, ReversalsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ReversalsTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
