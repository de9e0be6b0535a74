package metrics

import (
	"math"
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type ComptrollerMetrics struct {
	totalMinted    prometheus.Gauge
	interestRepaid prometheus.Gauge
	mintIndex      prometheus.Gauge
	liquidations   *prometheus.CounterVec
	rejections     *prometheus.CounterVec
	commits        prometheus.Counter
	blockHeight    prometheus.Gauge
}

var (
	comptrollerOnce     sync.Once
	comptrollerRegistry *ComptrollerMetrics
)

func Comptroller() *ComptrollerMetrics {
	comptrollerOnce.Do(func() {
		comptrollerRegistry = &ComptrollerMetrics{
			totalMinted: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "comptroller_stablecoin_total_minted",
				Help: "Outstanding stablecoin principal in whole units.",
			}),
			interestRepaid: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "comptroller_stablecoin_interest_repaid",
				Help: "Cumulative stability fee repaid in whole units.",
			}),
			mintIndex: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "comptroller_stablecoin_mint_index",
				Help: "Current stablecoin mint index as a decimal.",
			}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "comptroller_liquidations_total",
				Help: "Count of executed liquidations by debt kind.",
			}, []string{"kind"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "comptroller_rejections_total",
				Help: "Count of rejected operations by operation and reason.",
			}, []string{"operation", "reason"}),
			commits: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "comptroller_ledger_commits_total",
				Help: "Number of ledger batches committed to storage.",
			}),
			blockHeight: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "comptroller_block_height",
				Help: "Block height the engine currently accrues against.",
			}),
		}
		prometheus.MustRegister(
			comptrollerRegistry.totalMinted,
			comptrollerRegistry.interestRepaid,
			comptrollerRegistry.mintIndex,
			comptrollerRegistry.liquidations,
			comptrollerRegistry.rejections,
			comptrollerRegistry.commits,
			comptrollerRegistry.blockHeight,
		)
	})
	return comptrollerRegistry
}

// SetStablecoin publishes the stablecoin ledger totals. Values are 1e18 scaled.
func (m *ComptrollerMetrics) SetStablecoin(totalMinted, interestRepaid, mintIndex *big.Int) {
	if m == nil {
		return
	}
	m.totalMinted.Set(scaledFloat(totalMinted))
	m.interestRepaid.Set(scaledFloat(interestRepaid))
	m.mintIndex.Set(scaledFloat(mintIndex))
}

func (m *ComptrollerMetrics) ObserveLiquidation(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.liquidations.WithLabelValues(kind).Inc()
}

func (m *ComptrollerMetrics) ObserveRejection(operation, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.rejections.WithLabelValues(operation, reason).Inc()
}

func (m *ComptrollerMetrics) ObserveCommit() {
	if m == nil {
		return
	}
	m.commits.Inc()
}

func (m *ComptrollerMetrics) SetBlockHeight(height uint64) {
	if m == nil {
		return
	}
	m.blockHeight.Set(float64(height))
}

var scale = new(big.Float).SetFloat64(1e18)

func scaledFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), scale).Float64()
	if math.IsInf(f, 0) {
		return math.MaxFloat64
	}
	return f
}
