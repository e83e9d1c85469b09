package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trv2relay"

// Metrics collects the coordinator and entity counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	recomputes      prometheus.Counter
	publishes       *prometheus.CounterVec
	cancelledOffs   prometheus.Counter
	aggregateDemand prometheus.Gauge
	pendingOffs     prometheus.Gauge
	trvDemand       *prometheus.GaugeVec
	relayState      *prometheus.GaugeVec
}

// NewMetrics конструктор. Each instance owns its registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		recomputes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recomputes_total",
			Help:      "Total demand recomputes executed.",
		}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_publishes_total",
			Help:      "Relay command publishes by command and result.",
		}, []string{"command", "result"}),
		cancelledOffs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pending_offs_cancelled_total",
			Help:      "Delayed relay offs cancelled by new demand.",
		}),
		aggregateDemand: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "aggregate_demand",
			Help:      "1 when any TRV demands heat.",
		}),
		pendingOffs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_offs",
			Help:      "Relays waiting for their off delay to elapse.",
		}),
		trvDemand: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trv_demand",
			Help:      "Last heat demand reported per TRV.",
		}, []string{"trv"}),
		relayState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_state",
			Help:      "Relay state reported on its state topic.",
		}, []string{"relay"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.recomputes,
		m.publishes,
		m.cancelledOffs,
		m.aggregateDemand,
		m.pendingOffs,
		m.trvDemand,
		m.relayState,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Recompute(anyOn bool) {
	if m == nil {
		return
	}
	m.recomputes.Inc()
	m.aggregateDemand.Set(boolToFloat(anyOn))
}

func (m *Metrics) Publish(command string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.publishes.WithLabelValues(command, result).Inc()
}

func (m *Metrics) OffCancelled(n int) {
	if m == nil {
		return
	}
	m.cancelledOffs.Add(float64(n))
}

func (m *Metrics) PendingOffs(n int) {
	if m == nil {
		return
	}
	m.pendingOffs.Set(float64(n))
}

func (m *Metrics) TRVDemand(id string, heating bool) {
	if m == nil {
		return
	}
	m.trvDemand.WithLabelValues(id).Set(boolToFloat(heating))
}

func (m *Metrics) RelayState(name string, on bool) {
	if m == nil {
		return
	}
	m.relayState.WithLabelValues(name).Set(boolToFloat(on))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
