package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/m1guelpf/dollar-auction/core"
)

var (
	// Registry holds the auction daemon's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	bidsAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dollar_auction",
			Subsystem: "bids",
			Name:      "accepted_total",
			Help:      "Total number of accepted bids.",
		},
	)

	bidVolume = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dollar_auction",
			Subsystem: "bids",
			Name:      "volume_total",
			Help:      "Sum of all accepted bid amounts.",
		},
	)

	highestBid = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dollar_auction",
			Subsystem: "bids",
			Name:      "highest_amount",
			Help:      "Amount of the current highest bid.",
		},
	)

	deadline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dollar_auction",
			Subsystem: "auction",
			Name:      "deadline_timestamp_seconds",
			Help:      "Unix time after which bids are refused.",
		},
	)

	extensions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dollar_auction",
			Subsystem: "auction",
			Name:      "deadline_extensions_total",
			Help:      "Total number of anti-snipe deadline extensions.",
		},
	)

	refunds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dollar_auction",
			Subsystem: "refunds",
			Name:      "total",
			Help:      "Refunds to displaced bidders, by delivery.",
		},
		[]string{"delivery"},
	)

	withdrawals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dollar_auction",
			Subsystem: "refunds",
			Name:      "withdrawals_total",
			Help:      "Total number of credit withdrawals.",
		},
	)

	settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dollar_auction",
			Subsystem: "auction",
			Name:      "settlements_total",
			Help:      "Completed settlements, by whether a winner existed.",
		},
		[]string{"winner"},
	)

	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dollar_auction",
			Subsystem: "daemon",
			Name:      "requests_total",
			Help:      "Daemon requests, by type and result code.",
		},
		[]string{"type", "code"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dollar_auction",
			Subsystem: "daemon",
			Name:      "request_duration_seconds",
			Help:      "Duration of daemon requests.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
		[]string{"type"},
	)

	rateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dollar_auction",
			Subsystem: "daemon",
			Name:      "rate_limited_total",
			Help:      "Bid requests refused by the per-bidder rate limit.",
		},
	)
)

func init() {
	Registry.MustRegister(
		bidsAccepted,
		bidVolume,
		highestBid,
		deadline,
		extensions,
		refunds,
		withdrawals,
		settlements,
		requests,
		requestDuration,
		rateLimited,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Observer updates the auction collectors from committed events.
type Observer struct{}

var _ core.Observer = Observer{}

func (Observer) Observe(e core.Event) {
	switch e.Kind {
	case core.EventAuctionStarted:
		deadline.Set(float64(e.Deadline.Unix()))
		highestBid.Set(0)
	case core.EventBidSubmitted:
		bidsAccepted.Inc()
		bidVolume.Add(e.Amount.InexactFloat64())
		highestBid.Set(e.Amount.InexactFloat64())
		deadline.Set(float64(e.Deadline.Unix()))
	case core.EventDeadlineExtended:
		extensions.Inc()
		deadline.Set(float64(e.Deadline.Unix()))
	case core.EventRefundIssued:
		refunds.WithLabelValues("push").Inc()
	case core.EventRefundCredited:
		refunds.WithLabelValues("credit").Inc()
	case core.EventWithdrawal:
		withdrawals.Inc()
	case core.EventAuctionSettled:
		winner := "true"
		if e.Account.IsEmpty() {
			winner = "false"
		}
		settlements.WithLabelValues(winner).Inc()
	}
}

// RecordRequest counts one daemon request. code is the error code, empty on success.
func RecordRequest(requestType, code string, elapsed time.Duration) {
	if code == "" {
		code = "ok"
	}
	requests.WithLabelValues(requestType, code).Inc()
	requestDuration.WithLabelValues(requestType).Observe(elapsed.Seconds())
}

// RecordRateLimited counts a bid refused by the rate limiter.
func RecordRateLimited() {
	rateLimited.Inc()
}
