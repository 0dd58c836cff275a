package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

var (
	// Registry holds the compensation collectors.
	Registry = prometheus.NewRegistry()

	ledgerEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "realty_network",
			Subsystem: "commission",
			Name:      "ledger_entries_total",
			Help:      "Ledger entries written, by kind.",
		},
		[]string{"kind"},
	)

	payoutNet = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "realty_network",
			Subsystem: "commission",
			Name:      "payout_net_amount_total",
			Help:      "Net amount credited to wallets, by kind.",
		},
		[]string{"kind"},
	)

	commissionSkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "realty_network",
			Subsystem: "commission",
			Name:      "skips_total",
			Help:      "Payout decisions that wrote nothing, by reason.",
		},
		[]string{"reason"},
	)

	transactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "realty_network",
			Subsystem: "commission",
			Name:      "transactions_total",
			Help:      "Triggering transactions settled, by outcome.",
		},
		[]string{"outcome"},
	)

	promotions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "realty_network",
			Subsystem: "rank",
			Name:      "promotions_total",
			Help:      "Rank promotions, by rank reached.",
		},
		[]string{"rank"},
	)

	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "realty_network",
			Subsystem: "rank",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of rank sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	volumeTruncations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "realty_network",
			Subsystem: "volume",
			Name:      "truncations_total",
			Help:      "Subtree volume sums cut short by the node ceiling.",
		},
	)

	dispatchQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "realty_network",
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Settlement jobs waiting for a worker.",
		},
	)
)

func init() {
	Registry.MustRegister(
		ledgerEntries,
		payoutNet,
		commissionSkips,
		transactions,
		promotions,
		sweepDuration,
		volumeTruncations,
		dispatchQueueDepth,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordLedgerEntry(kind string, net decimal.Decimal) {
	ledgerEntries.WithLabelValues(kind).Inc()
	payoutNet.WithLabelValues(kind).Add(net.InexactFloat64())
}

func RecordSkip(reason string) {
	commissionSkips.WithLabelValues(reason).Inc()
}

func RecordTransaction(outcome string) {
	transactions.WithLabelValues(outcome).Inc()
}

func RecordPromotion(rank string) {
	promotions.WithLabelValues(rank).Inc()
}

func ObserveSweep(d time.Duration) {
	sweepDuration.Observe(d.Seconds())
}

func RecordVolumeTruncation() {
	volumeTruncations.Inc()
}

func SetDispatchQueueDepth(n int) {
	dispatchQueueDepth.Set(float64(n))
}
