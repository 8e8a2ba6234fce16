package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "esphub_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
	WebhookRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "esphub_webhook_requests_total", Help: "Webhook requests by outcome"},
		[]string{"provider", "family", "outcome"},
	)
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "esphub_webhook_events_total", Help: "Normalized webhook events by result"},
		[]string{"provider", "result"},
	)
	ProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "esphub_provider_calls_total", Help: "Outbound provider API calls"},
		[]string{"provider", "result", "http_status"},
	)
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "esphub_provider_call_latency_seconds", Help: "Outbound provider API latency"},
		[]string{"provider"},
	)
	FanoutTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "esphub_fanout_tasks_total", Help: "Fan-out per-account task results"},
		[]string{"operation", "result"},
	)
	BackfillJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "esphub_backfill_jobs_total", Help: "Backfill job enqueue and run results"},
		[]string{"stage", "result"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, WebhookRequests, WebhookEvents, ProviderCalls, ProviderLatency, FanoutTasks, BackfillJobs)
}
