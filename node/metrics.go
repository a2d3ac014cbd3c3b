package node

import (
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/vorpalengineering/usdc-market/chain"
	"github.com/vorpalengineering/usdc-market/fees"
	"github.com/vorpalengineering/usdc-market/types"
)

// Metrics holds the node's Prometheus collectors on a private registry so
// several nodes can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	activeConnections   prometheus.Gauge

	eventsTotal    *prometheus.CounterVec
	paymentVolume  prometheus.Counter
	protocolFees   prometheus.Counter
	purchaseVolume prometheus.Counter
	chainHeight    prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		activeConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_active_connections",
				Help: "Number of active HTTP connections",
			},
		),
		eventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "usdcmarket_events_total",
				Help: "Committed ledger events by name",
			},
			[]string{"event"},
		),
		paymentVolume: factory.NewCounter(prometheus.CounterOpts{
			Name: "usdcmarket_payment_volume_usdc",
			Help: "USDC forwarded to payment recipients",
		}),
		protocolFees: factory.NewCounter(prometheus.CounterOpts{
			Name: "usdcmarket_protocol_fees_usdc",
			Help: "USDC collected as protocol fees",
		}),
		purchaseVolume: factory.NewCounter(prometheus.CounterOpts{
			Name: "usdcmarket_purchase_volume_usdc",
			Help: "USDC paid to sellers for marketplace purchases",
		}),
		chainHeight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "usdcmarket_chain_height",
			Help: "Height of the last committed ledger transaction",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request count and latency per route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		method := c.Request.Method

		m.activeConnections.Inc()
		c.Next()
		m.activeConnections.Dec()

		status := fmt.Sprintf("%d", c.Writer.Status())
		duration := time.Since(start).Seconds()

		m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
	}
}

// ObserveLog is a ledger subscriber feeding the domain collectors.
func (m *Metrics) ObserveLog(l chain.Log) {
	m.eventsTotal.WithLabelValues(l.Event.EventName()).Inc()
	m.chainHeight.Set(float64(l.Block))

	switch ev := l.Event.(type) {
	case types.PaymentProcessed:
		m.paymentVolume.Add(usdcFloat(ev.Amount))
		m.protocolFees.Add(usdcFloat(ev.ProtocolFee))
	case types.PurchaseCompleted:
		m.purchaseVolume.Add(usdcFloat(ev.TotalPrice))
	}
}

func usdcFloat(amount *big.Int) float64 {
	if amount == nil {
		return 0
	}
	return decimal.NewFromBigInt(amount, -fees.USDCDecimals).InexactFloat64()
}
