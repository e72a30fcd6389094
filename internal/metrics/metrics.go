// Package metrics exposes Prometheus collectors for the swap engine.
package metrics

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "swapdesk"

type Metrics struct {
	SwapsCreated    *prometheus.CounterVec
	SwapsCanceled   prometheus.Counter
	Settlements     *prometheus.CounterVec
	BidsPlaced      *prometheus.CounterVec
	BidsCanceled    prometheus.Counter
	OperationErrors *prometheus.CounterVec
	OpenSwaps       prometheus.Gauge
	VolumeTraded    prometheus.Gauge
	FeesCharged     *prometheus.CounterVec
}

// New registers the engine collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SwapsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "swaps_created_total",
			Help:      "Swaps created, split by whether an open swap was reissued",
		}, []string{"reissued"}),
		SwapsCanceled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "swaps_canceled_total",
			Help:      "Swaps canceled by their seller",
		}),
		Settlements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "settlements_total",
			Help:      "Settled swaps by origin (accept_swap, accept_bid, bid_match)",
		}, []string{"origin"}),
		BidsPlaced: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "bids_placed_total",
			Help:      "Bids placed, split by whether they matched the ask",
		}, []string{"matched"}),
		BidsCanceled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "bids_canceled_total",
			Help:      "Bids removed by their bidder",
		}),
		OperationErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operation_errors_total",
			Help:      "Rejected engine operations",
		}, []string{"operation"}),
		OpenSwaps: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "open_swaps",
			Help:      "Swaps currently in created state",
		}),
		VolumeTraded: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "volume_traded",
			Help:      "Cumulative traded volume in base units (float approximation)",
		}),
		FeesCharged: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "fees_charged",
			Help:      "Fees charged in base units per currency (float approximation)",
		}, []string{"currency"}),
	}
}

// Float converts a base-unit amount for gauges and counters.
func Float(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
