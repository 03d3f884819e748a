package telemetry

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/catalog/pkg/facts"
)

// Telemetry provides a unified telemetry interface combining logging, tracing, metrics, and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Initialize logger
	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	// Initialize tracer
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	// Initialize metrics
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	// Initialize event publisher
	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}
	if cfg.Events.Enabled {
		if len(cfg.Events.Types) > 0 {
			events.AddFilter(FilterByType(cfg.Events.Types...))
		}
		events.Subscribe(LogSubscriber(logger.NewComponentLogger("events")), FilterByLevel(cfg.Events.MinLevel))
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	// Shutdown in reverse order of initialization
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}

	if err := t.Tracer.Shutdown(ctx); err != nil {
		return err
	}

	// Metrics server is not explicitly shut down here as it may need to continue
	// serving metrics until the very end of the application lifecycle

	return nil
}

// Flush forces all pending telemetry data to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// StartMetricsServer serves metrics until ctx is done, if metrics are enabled.
func (t *Telemetry) StartMetricsServer(ctx context.Context) error {
	return t.Metrics.StartMetricsServer(ctx)
}

// Context Helpers for common instrumentation patterns

// InstrumentedContext creates a context with telemetry, logger fields, and a trace span.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation begins an instrumented operation with logging, tracing, and timing.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Logger: FromContext(ctx),
			Timer:  NewTimer(),
		}
	}

	// Start trace span
	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)

	// Create logger with operation field
	logger := tel.Logger.WithField("operation", operation)

	// Add trace context to logger if available
	if span.SpanContext().IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": span.SpanContext().TraceID().String(),
			"span_id":  span.SpanContext().SpanID().String(),
		})
	}

	return &InstrumentedContext{
		Ctx:    spanCtx,
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// End finishes the instrumented operation, recording success or failure.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span != nil {
		if err != nil {
			RecordError(ic.Span, err)
		} else {
			RecordSuccess(ic.Span)
		}
		ic.Span.End()
	}
}

// BagOptions returns the fact bag options that report to this telemetry instance.
func (t *Telemetry) BagOptions() []facts.Option {
	opts := []facts.Option{facts.WithObserver(t.Metrics)}
	if t.Config.Events.Enabled {
		opts = append(opts, facts.WithEvents(t.Events))
	}
	return opts
}

// queryTimerKey is the context key for query timers.
type queryTimerKey struct{}

// querySpanKey is the context key for query spans.
type querySpanKey struct{}

// WithQueryContext creates a context enriched with a search span and a
// query-scoped logger. The returned query ID identifies the search in logs.
func WithQueryContext(ctx context.Context, typeName, strategy string) (context.Context, string) {
	queryID := uuid.NewString()
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx, queryID
	}

	spanCtx, span := tel.Tracer.StartSearchSpan(ctx, typeName, strategy)
	span.SetAttributes(AttrQueryID.String(queryID))

	logger := tel.Logger.WithQueryID(queryID).WithSearch(typeName, strategy)
	spanCtx = logger.WithContext(spanCtx)
	spanCtx = context.WithValue(spanCtx, querySpanKey{}, span)
	spanCtx = context.WithValue(spanCtx, queryTimerKey{}, NewTimer())
	return spanCtx, queryID
}

// EndQueryContext completes the query context, ending its span and logging the outcome.
func EndQueryContext(ctx context.Context, found bool, err error) {
	var duration time.Duration
	if timer, ok := ctx.Value(queryTimerKey{}).(*Timer); ok {
		duration = timer.Duration()
	}

	outcome := "not_found"
	if found {
		outcome = "found"
	}
	if span, ok := ctx.Value(querySpanKey{}).(trace.Span); ok {
		AddSearchOutcome(span, outcome, found)
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	FromContext(ctx).WithFields(map[string]interface{}{
		"found":    found,
		"duration": duration.String(),
	}).Debug("Search finished")
}

// RecordLoad runs fn as a traced load of a schema, policy or dataset file.
func RecordLoad(ctx context.Context, kind, path string, fn func(ctx context.Context) error) error {
	tel := FromTelemetryContext(ctx)

	var span trace.Span
	if tel != nil {
		ctx, span = tel.Tracer.StartLoadSpan(ctx, kind, path)
		defer span.End()
	}

	err := fn(ctx)

	if tel != nil {
		if kind == "schema" {
			tel.Metrics.RecordSchemaLoad(formatOf(path), err)
		}
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
	}
	return err
}

func formatOf(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch ext {
	case "yml":
		return "yaml"
	case "":
		return "unknown"
	default:
		return ext
	}
}
