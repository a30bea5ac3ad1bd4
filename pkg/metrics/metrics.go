package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatsync"

// Result label values
const (
	ResultOK       = "ok"
	ResultFailed   = "failed"
	ResultDegraded = "degraded"
	ResultRejected = "rejected"
)

var (
	// EntersTotal counts conversation enters by result
	EntersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enters_total",
		Help:      "Conversation enter attempts by result.",
	}, []string{"result"})

	// SendsTotal counts message sends by result
	SendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sends_total",
		Help:      "Message sends by result.",
	}, []string{"result"})

	MirrorFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mirror_failures_total",
		Help:      "Realtime mirror writes that failed.",
	})

	MirrorDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mirror_dropped_total",
		Help:      "Realtime mirror writes dropped because the queue was full.",
	})

	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_subscriptions",
		Help:      "Realtime subscriptions currently attached.",
	})

	OnlineConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "online_connections",
		Help:      "Websocket connections currently registered.",
	})
)

// Handler serves the default registry in the Prometheus text format
func Handler() http.Handler {
	return promhttp.Handler()
}
