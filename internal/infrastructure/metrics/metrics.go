// Package metrics exposes Prometheus counters for the take-profit and
// re-entry loops:
//
//   - reentry_tp_scans_total{result}          TP evaluations (reached|not_reached|error)
//   - reentry_positions_closed_total{exchange} positions closed on target
//   - reentry_close_failures_total{exchange,kind}
//   - reentry_executions_total{exchange,result} re-entries (reentered|terminated|error)
//   - reentry_gate_denials_total{check}       safety gate denials by failing check
//   - reentry_protection_failures_total{order} SL/TP placement failures after open
//   - reentry_exchange_errors_total{kind}
//   - reentry_scheduler_skipped_total{job}    ticks dropped while a run was in flight
//   - reentry_pending_records                 records seen by the last re-entry scan
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	tpScans            *prometheus.CounterVec
	positionsClosed    *prometheus.CounterVec
	closeFailures      *prometheus.CounterVec
	reentries          *prometheus.CounterVec
	gateDenials        *prometheus.CounterVec
	protectionFailures *prometheus.CounterVec
	exchangeErrors     *prometheus.CounterVec
	schedulerSkipped   *prometheus.CounterVec
	pendingRecords     prometheus.Gauge
}

// New registers every collector on a private registry so tests can build as
// many instances as they like.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tpScans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reentry_tp_scans_total",
			Help: "Take-profit evaluations by result",
		}, []string{"result"}),
		positionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reentry_positions_closed_total",
			Help: "Positions closed because the account target was reached",
		}, []string{"exchange"}),
		closeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reentry_close_failures_total",
			Help: "Failed position closes",
		}, []string{"exchange", "kind"}),
		reentries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reentry_executions_total",
			Help: "Re-entry executions by result",
		}, []string{"exchange", "result"}),
		gateDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reentry_gate_denials_total",
			Help: "Safety gate denials by failing check",
		}, []string{"check"}),
		protectionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reentry_protection_failures_total",
			Help: "Stop-loss or take-profit placement failures after a successful open",
		}, []string{"order"}),
		exchangeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reentry_exchange_errors_total",
			Help: "Exchange errors by kind",
		}, []string{"kind"}),
		schedulerSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reentry_scheduler_skipped_total",
			Help: "Scheduler ticks skipped because the previous run was still in flight",
		}, []string{"job"}),
		pendingRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reentry_pending_records",
			Help: "Pending re-entry records seen by the last scan",
		}),
	}

	m.registry.MustRegister(
		m.tpScans, m.positionsClosed, m.closeFailures, m.reentries,
		m.gateDenials, m.protectionFailures, m.exchangeErrors,
		m.schedulerSkipped, m.pendingRecords,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) IncTPScan(result string)           { m.tpScans.WithLabelValues(result).Inc() }
func (m *Metrics) IncPositionClosed(exchange string) { m.positionsClosed.WithLabelValues(exchange).Inc() }
func (m *Metrics) IncGateDenial(check string)        { m.gateDenials.WithLabelValues(check).Inc() }
func (m *Metrics) IncProtectionFailure(order string) { m.protectionFailures.WithLabelValues(order).Inc() }
func (m *Metrics) IncExchangeError(kind string)      { m.exchangeErrors.WithLabelValues(kind).Inc() }
func (m *Metrics) IncSchedulerSkipped(job string)    { m.schedulerSkipped.WithLabelValues(job).Inc() }
func (m *Metrics) SetPendingRecords(n int)           { m.pendingRecords.Set(float64(n)) }

func (m *Metrics) IncCloseFailure(exchange, kind string) {
	m.closeFailures.WithLabelValues(exchange, kind).Inc()
}

func (m *Metrics) IncReentry(exchange, result string) {
	m.reentries.WithLabelValues(exchange, result).Inc()
}
