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
	IngestionDuration   metric.Float64Histogram
	IngestionChunks     metric.Int64Histogram
	AnswersTotal        metric.Int64Counter
	ProviderErrors      metric.Int64Counter
	CircuitBreakerState metric.Int64Counter
	StaleLeasesExpired  metric.Int64Counter
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("ai-tutor-platform")

	requestCounter, err := meter.Int64Counter(
		"http.requests.total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	ingestionDuration, err := meter.Float64Histogram(
		"ingestion.duration",
		metric.WithDescription("PDF ingestion duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	ingestionChunks, err := meter.Int64Histogram(
		"ingestion.chunks",
		metric.WithDescription("Chunks produced per successful ingestion"),
	)
	if err != nil {
		return nil, err
	}

	answersTotal, err := meter.Int64Counter(
		"answers.total",
		metric.WithDescription("Answers produced by the retrieval pipeline"),
	)
	if err != nil {
		return nil, err
	}

	providerErrors, err := meter.Int64Counter(
		"provider.errors",
		metric.WithDescription("Failed calls to embedding, generation and vector providers"),
	)
	if err != nil {
		return nil, err
	}

	circuitBreakerState, err := meter.Int64Counter(
		"circuit_breaker.state_changes",
		metric.WithDescription("Circuit breaker state changes"),
	)
	if err != nil {
		return nil, err
	}

	staleLeases, err := meter.Int64Counter(
		"ingestion.stale_leases_expired",
		metric.WithDescription("Ingestion attempts failed by the lease sweeper"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCounter:      requestCounter,
		RequestDuration:     requestDuration,
		IngestionDuration:   ingestionDuration,
		IngestionChunks:     ingestionChunks,
		AnswersTotal:        answersTotal,
		ProviderErrors:      providerErrors,
		CircuitBreakerState: circuitBreakerState,
		StaleLeasesExpired:  staleLeases,
	}, nil
}

// RecordRequest records HTTP request metrics
func (m *Metrics) RecordRequest(method, path, status string, duration float64) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("http.status", status),
	}

	m.RequestCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.RequestDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordIngestion records one finished ingestion attempt
func (m *Metrics) RecordIngestion(ctx context.Context, duration float64, status string, chunks int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("ingestion.status", status))
	m.IngestionDuration.Record(ctx, duration, attrs)
	if chunks > 0 {
		m.IngestionChunks.Record(ctx, int64(chunks), attrs)
	}
}

func (m *Metrics) RecordAnswer(ctx context.Context, grounded bool) {
	if m == nil {
		return
	}
	m.AnswersTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("answer.grounded", grounded)))
}

// RecordProviderError counts a failed external call by stage
func (m *Metrics) RecordProviderError(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordCircuitBreakerState records circuit breaker state changes
func (m *Metrics) RecordCircuitBreakerState(service, state string) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("service", service),
		attribute.String("state", state),
	}

	m.CircuitBreakerState.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordStaleLeases(ctx context.Context, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.StaleLeasesExpired.Add(ctx, n)
}
