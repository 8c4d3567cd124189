package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/ayush/recipe-assistant/backend"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Auth metrics
	LoginAttemptsTotal  metric.Int64Counter
	SessionsCreated     metric.Int64Counter
	SessionsSwept       metric.Int64Counter
	CSRFRejectionsTotal metric.Int64Counter
	RateLimitedTotal    metric.Int64Counter

	// Webhook metrics
	WebhookCallsTotal metric.Int64Counter
	WebhookDuration   metric.Float64Histogram
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary.
// Instruments are bound to whatever meter provider is global at first call.
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.LoginAttemptsTotal, _ = meter.Int64Counter(
		"recipes.auth.login.attempts.total",
		metric.WithDescription("Total number of login attempts by result"),
		metric.WithUnit("{attempt}"),
	)

	m.SessionsCreated, _ = meter.Int64Counter(
		"recipes.auth.sessions.created.total",
		metric.WithDescription("Total number of sessions created"),
		metric.WithUnit("{session}"),
	)

	m.SessionsSwept, _ = meter.Int64Counter(
		"recipes.auth.sessions.swept.total",
		metric.WithDescription("Total number of expired sessions deleted by the sweep"),
		metric.WithUnit("{session}"),
	)

	m.CSRFRejectionsTotal, _ = meter.Int64Counter(
		"recipes.auth.csrf.rejections.total",
		metric.WithDescription("Total number of requests rejected by the CSRF gate"),
		metric.WithUnit("{request}"),
	)

	m.RateLimitedTotal, _ = meter.Int64Counter(
		"recipes.auth.rate_limited.total",
		metric.WithDescription("Total number of requests rejected by the login rate limiter"),
		metric.WithUnit("{request}"),
	)

	m.WebhookCallsTotal, _ = meter.Int64Counter(
		"recipes.webhook.calls.total",
		metric.WithDescription("Total number of recipe webhook calls by result"),
		metric.WithUnit("{call}"),
	)

	m.WebhookDuration, _ = meter.Float64Histogram(
		"recipes.webhook.duration",
		metric.WithDescription("Duration of recipe webhook calls"),
		metric.WithUnit("ms"),
	)

	return m
}
