package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	RequestCounter      metric.Int64Counter
	RequestDuration     metric.Float64Histogram
	IngestionJobs       metric.Int64Counter
	IngestionDuration   metric.Float64Histogram
	QueryOutcomes       metric.Int64Counter
	QueryDuration       metric.Float64Histogram
	ProviderCalls       metric.Int64Counter
	EmbeddingFallbacks  metric.Int64Counter
	CircuitBreakerState metric.Int64Counter
	AuditEventsLogged   metric.Int64Counter
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("rag-knowledge-platform")
	m := &Metrics{}
	var err error

	if m.RequestCounter, err = meter.Int64Counter(
		"http.requests.total",
		metric.WithDescription("Total HTTP requests"),
	); err != nil {
		return nil, err
	}

	if m.RequestDuration, err = meter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.IngestionJobs, err = meter.Int64Counter(
		"ingestion.jobs.total",
		metric.WithDescription("Ingestion jobs by final status"),
	); err != nil {
		return nil, err
	}

	if m.IngestionDuration, err = meter.Float64Histogram(
		"ingestion.job.duration",
		metric.WithDescription("Ingestion job duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.QueryOutcomes, err = meter.Int64Counter(
		"query.outcomes.total",
		metric.WithDescription("Answered, refused and blocked questions"),
	); err != nil {
		return nil, err
	}

	if m.QueryDuration, err = meter.Float64Histogram(
		"query.duration",
		metric.WithDescription("Question answering duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.ProviderCalls, err = meter.Int64Counter(
		"provider.calls.total",
		metric.WithDescription("Inference provider calls"),
	); err != nil {
		return nil, err
	}

	if m.EmbeddingFallbacks, err = meter.Int64Counter(
		"provider.embedding.fallbacks",
		metric.WithDescription("Remote embedding requests served by the local provider"),
	); err != nil {
		return nil, err
	}

	if m.CircuitBreakerState, err = meter.Int64Counter(
		"circuit_breaker.state_changes",
		metric.WithDescription("Circuit breaker state changes"),
	); err != nil {
		return nil, err
	}

	if m.AuditEventsLogged, err = meter.Int64Counter(
		"audit.events.logged",
		metric.WithDescription("Total audit events logged"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordRequest records HTTP request metrics
func (m *Metrics) RecordRequest(method, path, status string, duration float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("http.status", status),
	)
	m.RequestCounter.Add(context.Background(), 1, attrs)
	m.RequestDuration.Record(context.Background(), duration, attrs)
}

func (m *Metrics) RecordIngestion(status string, duration float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("job.status", status))
	m.IngestionJobs.Add(context.Background(), 1, attrs)
	m.IngestionDuration.Record(context.Background(), duration, attrs)
}

func (m *Metrics) RecordQuery(outcome string, duration float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("query.outcome", outcome))
	m.QueryOutcomes.Add(context.Background(), 1, attrs)
	m.QueryDuration.Record(context.Background(), duration, attrs)
}

func (m *Metrics) RecordProviderCall(provider, op string, success bool) {
	if m == nil {
		return
	}
	m.ProviderCalls.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("op", op),
		attribute.Bool("success", success),
	))
}

func (m *Metrics) RecordEmbeddingFallback(reason string) {
	if m == nil {
		return
	}
	m.EmbeddingFallbacks.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordCircuitBreakerState records circuit breaker state changes
func (m *Metrics) RecordCircuitBreakerState(service, state string) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("state", state),
	))
}

// RecordAuditEvent records audit event logging
func (m *Metrics) RecordAuditEvent(action string) {
	if m == nil {
		return
	}
	m.AuditEventsLogged.Add(context.Background(), 1, metric.WithAttributes(attribute.String("audit.action", action)))
}
