// Package telemetry exposes the prometheus gauges and counters required by
// spec §6.4: receipt throughput per market, block-assembly byte volume,
// treasury balance and backlog, executor error reasons, and circuit
// breaker posture.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"rubin.dev/treasurycore/receipt"
)

// ReceiptCollector implements blockassembly.TelemetryRecorder, recording
// per-market receipt counts, per-market settlement amounts, and aggregate
// bytes for every block assembled.
type ReceiptCollector struct {
	receiptsTotal    *prometheus.CounterVec
	receiptsPerBlock *prometheus.GaugeVec
	settlement       *prometheus.GaugeVec
	bytesPerBlock    prometheus.Gauge

	registry *prometheus.Registry
}

// NewReceiptCollector builds and registers the receipt-side metrics on reg.
// If reg is nil, a fresh private registry is created.
func NewReceiptCollector(reg *prometheus.Registry) *ReceiptCollector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &ReceiptCollector{
		registry: reg,
		receiptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "receipts_total",
			Help: "Total receipts appended, by market.",
		}, []string{"market"}),
		receiptsPerBlock: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "receipts_per_block",
			Help: "Receipts of each market included in the most recently assembled block.",
		}, []string{"market"}),
		settlement: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "receipt_settlement",
			Help: "Aggregate settlement amount of each market in the current block.",
		}, []string{"market"}),
		bytesPerBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "receipt_bytes_per_block",
			Help: "Total bytes of the receipts region in the most recently assembled block.",
		}),
	}
	reg.MustRegister(c.receiptsTotal, c.receiptsPerBlock, c.settlement, c.bytesPerBlock)
	return c
}

// Registry returns the prometheus registry backing this collector.
func (c *ReceiptCollector) Registry() *prometheus.Registry { return c.registry }

// RecordReceipts implements blockassembly.TelemetryRecorder.
func (c *ReceiptCollector) RecordReceipts(receipts []receipt.Receipt, totalBytes int) {
	perBlock := make(map[string]float64)
	settlement := make(map[string]float64)
	for _, r := range receipts {
		market := r.MarketName()
		perBlock[market]++
		settlement[market] += float64(r.Amount())
		c.receiptsTotal.WithLabelValues(market).Inc()
	}
	for _, market := range receipt.MarketOrder {
		name := market.String()
		c.receiptsPerBlock.WithLabelValues(name).Set(perBlock[name])
		c.settlement.WithLabelValues(name).Set(settlement[name])
	}
	c.bytesPerBlock.Set(float64(totalBytes))
}
