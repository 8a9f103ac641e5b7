package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the signaling core's collectors. One instance per server,
// registered on the registry the /metrics endpoint serves.
type Metrics struct {
	Connections prometheus.Gauge
	Devices     prometheus.Gauge
	Calls       prometheus.Gauge
	Events      *prometheus.CounterVec
	Rejected    *prometheus.CounterVec
	Panics      prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "parley", Name: "connections_active",
			Help: "Live WebSocket connections across both namespaces.",
		}),
		Devices: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "parley", Name: "devices_active",
			Help: "Distinct (user, device) pairs with at least one connection.",
		}),
		Calls: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "parley", Name: "calls_active",
			Help: "Call sessions currently ringing or answered.",
		}),
		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley", Name: "events_total",
			Help: "Inbound client events dispatched, by event name.",
		}, []string{"event"}),
		Rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley", Name: "handshakes_rejected_total",
			Help: "WebSocket handshakes rejected before upgrade, by reason.",
		}, []string{"reason"}),
		Panics: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "parley", Name: "handler_panics_total",
			Help: "Recovered panics in event handlers.",
		}),
	}
}
