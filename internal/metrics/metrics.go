// Package metrics exposes prometheus instrumentation for the market
// pipeline and the HTTP surface.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Auction event modes (bounded label set).
const (
	ModeInitial = "initial"
	ModeTrading = "trading"
)

var (
	// AuctionsTotal counts completed auction events by mode.
	AuctionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goalmarket_auctions_total",
		Help: "Total number of completed auction events",
	}, []string{"mode"})

	// TradesTotal counts settled trades.
	TradesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goalmarket_trades_total",
		Help: "Total number of settled trades",
	})

	// TradePriceDollars tracks settled trade prices.
	TradePriceDollars = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "goalmarket_trade_price_dollars",
		Help:    "Settled trade prices in dollars",
		Buckets: prometheus.LinearBuckets(0, 10, 11), // 0..100
	})

	// OracleFailuresTotal counts oracle calls that yielded no usable
	// spread (network error, bad status, parse failure).
	OracleFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goalmarket_oracle_failures_total",
		Help: "Total number of oracle calls that produced no spread",
	})

	// AuctionDurationSeconds tracks end-to-end auction latency,
	// dominated by the oracle fan-out.
	AuctionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "goalmarket_auction_duration_seconds",
		Help:    "Duration of a full auction event",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// ResolutionsTotal counts goal resolutions by outcome.
	ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goalmarket_resolutions_total",
		Help: "Total number of goal resolutions",
	}, []string{"outcome"})
)

// Handler returns a gin handler serving the prometheus scrape
// endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
