// Package metrics registers the server's Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loyalty_http_requests_total",
		Help: "HTTP requests by route, method and status code",
	}, []string{"route", "method", "status"})
	httpDurationMetric = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loyalty_http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	redemptionsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loyalty_redemptions_total",
		Help: "Redemption attempts by outcome (success, not_found, already_used, invalid, error)",
	}, []string{"outcome"})
	pointsCreditedMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_points_credited_total",
		Help: "Points credited through redemptions",
	})
	codesIssuedMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_codes_issued_total",
		Help: "Redeem codes created by administrators",
	})

	chatRequestsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loyalty_chat_requests_total",
		Help: "Chat completions by provider and outcome",
	}, []string{"provider", "outcome"})
	chatFirstTokenMetric = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loyalty_chat_first_token_seconds",
		Help:    "Time until the provider streamed the first delta",
		Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 30},
	}, []string{"provider"})
	chatTokensMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loyalty_chat_tokens_total",
		Help: "Tokens reported by providers, by kind (prompt, completion)",
	}, []string{"provider", "kind"})
)

// ObserveHTTP records one finished request
func ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	httpRequestsMetric.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	httpDurationMetric.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveRedemption records a redemption attempt and the points it credited
func ObserveRedemption(outcome string, points int) {
	redemptionsMetric.WithLabelValues(outcome).Inc()
	if points > 0 {
		pointsCreditedMetric.Add(float64(points))
	}
}

func ObserveCodesIssued(n int) {
	codesIssuedMetric.Add(float64(n))
}

// ObserveChat records a finished chat completion
func ObserveChat(provider, outcome string) {
	chatRequestsMetric.WithLabelValues(provider, outcome).Inc()
}

func ObserveFirstToken(provider string, elapsed time.Duration) {
	chatFirstTokenMetric.WithLabelValues(provider).Observe(elapsed.Seconds())
}

func ObserveTokens(provider string, prompt, completion int) {
	chatTokensMetric.WithLabelValues(provider, "prompt").Add(float64(prompt))
	chatTokensMetric.WithLabelValues(provider, "completion").Add(float64(completion))
}
