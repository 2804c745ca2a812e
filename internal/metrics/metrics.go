// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mercado_http_requests_total",
		Help: "HTTP requests by method, route pattern and status code.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mercado_http_request_duration_seconds",
		Help:    "HTTP request latency by method and route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// UpstreamRequestsTotal counts outbound calls; outcome is "ok" or "error".
	UpstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mercado_upstream_requests_total",
		Help: "Outbound requests to external services by service and outcome.",
	}, []string{"service", "outcome"})

	UpstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mercado_upstream_request_duration_seconds",
		Help:    "Outbound request latency by service.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15},
	}, []string{"service"})

	TokenRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mercado_token_refresh_total",
		Help: "Marketplace access token refreshes by outcome.",
	}, []string{"outcome"})

	WebhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mercado_webhooks_total",
		Help: "Inbound webhooks by source and outcome.",
	}, []string{"source", "outcome"})

	QuestionsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mercado_questions_processed_total",
		Help: "Question pipeline jobs by outcome.",
	}, []string{"outcome"})

	DraftsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mercado_drafts_total",
		Help: "Answer drafts by outcome (llm or fallback).",
	}, []string{"outcome"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mercado_notifications_total",
		Help: "Seller notifications by channel and outcome.",
	}, []string{"channel", "outcome"})

	AnswersPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mercado_answers_published_total",
		Help: "Answer publications by outcome.",
	}, []string{"outcome"})
)

// Outcome maps an error to the "ok"/"error" label value.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
