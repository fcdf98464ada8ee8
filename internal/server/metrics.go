package server

import (
	"math/big"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry           *prometheus.Registry
	relaysTotal        *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	relayerBalanceWei  prometheus.Gauge
	confirmSeconds     prometheus.Histogram
}

func newMetricsRegistry() *metricsRegistry {
	relays := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gasrails_relays_total",
		Help: "Relay requests by terminal status",
	}, []string{"status"})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gasrails_notifications_total",
		Help: "Webhook notification deliveries by result",
	}, []string{"result"})

	balanceGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gasrails_relayer_balance_wei",
		Help: "Last observed relayer account balance in wei",
	})

	confirm := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gasrails_confirmation_seconds",
		Help:    "Time from submission acceptance to confirmed outcome",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	r := prometheus.NewRegistry()
	r.MustRegister(relays, notifications, balanceGauge, confirm)

	return &metricsRegistry{
		registry:           r,
		relaysTotal:        relays,
		notificationsTotal: notifications,
		relayerBalanceWei:  balanceGauge,
		confirmSeconds:     confirm,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incRelay(status string) {
	m.relaysTotal.WithLabelValues(status).Inc()
}

func (m *metricsRegistry) incNotification(result string) {
	m.notificationsTotal.WithLabelValues(result).Inc()
}

func (m *metricsRegistry) setBalance(wei *big.Int) {
	f, _ := new(big.Float).SetInt(wei).Float64()
	m.relayerBalanceWei.Set(f)
}

func (m *metricsRegistry) observeConfirmation(seconds float64) {
	m.confirmSeconds.Observe(seconds)
}
