package telemetry

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/catalog/pkg/facts"
)

var (
	_ facts.Observer  = (*Metrics)(nil)
	_ facts.EventSink = (*EventPublisher)(nil)
)

// value reads the current value of a single counter or gauge.
func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	switch {
	case out.Counter != nil:
		return out.Counter.GetValue()
	case out.Gauge != nil:
		return out.Gauge.GetValue()
	default:
		t.Fatalf("metric %s is neither a counter nor a gauge", m.Desc())
		return 0
	}
}

func enabledMetrics(t *testing.T) *Metrics {
	t.Helper()
	cfg := DefaultConfig().Metrics
	cfg.Enabled = true
	m, err := NewMetrics(cfg)
	require.NoError(t, err)
	return m
}

func TestMetrics_ObserveSearch(t *testing.T) {
	m := enabledMetrics(t)

	m.ObserveSearch("ANY_DEPTH_EXPECT_ONE", "found", false, time.Millisecond)
	m.ObserveSearch("ANY_DEPTH_EXPECT_ONE", "found", true, time.Microsecond)
	m.ObserveSearch("TOP_LEVEL_ONLY", "not_found", false, time.Microsecond)

	assert.Equal(t, 2.0, value(t, m.searches.WithLabelValues("ANY_DEPTH_EXPECT_ONE", "found")))
	assert.Equal(t, 1.0, value(t, m.searches.WithLabelValues("TOP_LEVEL_ONLY", "not_found")))
	assert.Equal(t, 1.0, value(t, m.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 2.0, value(t, m.cacheLookups.WithLabelValues("miss")))
}

func TestMetrics_BagCounters(t *testing.T) {
	m := enabledMetrics(t)

	m.ObserveFactsAdded(3)
	m.ObserveCacheInvalidation("search", 2)
	m.ObserveCacheInvalidation("traversal", 1)
	m.ObserveUnsupportedOperation("AddFact")
	m.RecordSchemaLoad("cue", nil)
	m.RecordSchemaLoad("yaml", errors.New("boom"))
	m.RecordPolicyEvaluation("non_null_values", false)

	assert.Equal(t, 3.0, value(t, m.factsAdded))
	assert.Equal(t, 2.0, value(t, m.cacheInvalidations.WithLabelValues("search")))
	assert.Equal(t, 1.0, value(t, m.unsupportedRequests.WithLabelValues("AddFact")))
	assert.Equal(t, 1.0, value(t, m.errorsByCode.WithLabelValues("IMMUTABLE_BAG")))
	assert.Equal(t, 1.0, value(t, m.schemaLoads.WithLabelValues("yaml", "failure")))
	assert.Equal(t, 1.0, value(t, m.policyEvaluations.WithLabelValues("non_null_values", "deny")))
}

func TestMetrics_DisabledIsNoop(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		m.ObserveSearch("TOP_LEVEL_ONLY", "found", false, time.Second)
		m.ObserveTraversal("TOP_LEVEL_ONLY", 10, time.Second)
		m.ObserveFactsAdded(1)
		m.ObserveCacheInvalidation("search", 1)
		m.ObserveUnsupportedOperation("AddFact")
		m.RecordSchemaLoad("cue", nil)
		m.RecordPolicyEvaluation("p", true)
	})
	assert.Nil(t, m.Registry())

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.ObserveFactsAdded(1) })
}

func TestMetrics_Handler(t *testing.T) {
	m := enabledMetrics(t)
	m.ObserveTraversal("ANY_DEPTH_ALLOW_MANY", 12, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "catalog_traversals_total"))
}

func TestEventPublisher_Sync(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 10})
	require.NoError(t, err)

	var got []Event
	ep.Subscribe(func(e Event) { got = append(got, e) }, FilterByTypeName("City"))

	require.NoError(t, ep.PublishFactAdded("City", "Provided"))
	require.NoError(t, ep.PublishFactAdded("FirstName", "Provided"))

	require.Len(t, got, 1)
	assert.Equal(t, EventTypeFactAdded, got[0].Type)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestEventPublisher_AsyncDeliversBeforeShutdownReturns(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 100, MaxBatchSize: 10, EnableAsync: true})
	require.NoError(t, err)

	var mu sync.Mutex
	count := 0
	ep.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	}, nil)

	for i := 0; i < 25; i++ {
		require.NoError(t, ep.PublishSearchResolved("s", "TOP_LEVEL_ONLY", "found", 1))
	}
	require.NoError(t, ep.Shutdown(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 25, count)
}

func TestEventPublisher_GlobalFilterAndDisabled(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 1})
	require.NoError(t, err)
	ep.AddFilter(FilterByType(EventTypePolicyReloaded))

	var got []string
	ep.Subscribe(func(e Event) { got = append(got, e.Level) }, nil)
	require.NoError(t, ep.PublishSchemaLoaded("catalog.cue", 4))
	require.NoError(t, ep.PublishPolicyReloaded("p.rego", errors.New("parse error")))
	assert.Equal(t, []string{EventLevelError}, got)

	disabled, err := NewEventPublisher(EventsConfig{})
	require.NoError(t, err)
	assert.NoError(t, disabled.PublishFactAdded("City", "Provided"))
	assert.NoError(t, disabled.Shutdown(context.Background()))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "development", mutate: func(c *Config) { *c = *DevelopmentConfig() }},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "invalid log level"},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "invalid log format"},
		{name: "bad exporter", mutate: func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger" }, wantErr: "invalid trace exporter"},
		{name: "bad sampling", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: "sampling rate"},
		{name: "no metrics address", mutate: func(c *Config) { c.Metrics.Enabled = true; c.Metrics.ListenAddress = "" }, wantErr: "listen address"},
		{name: "no service", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: "service name"},
		{name: "bad event level", mutate: func(c *Config) { c.Events.MinLevel = "debug" }, wantErr: "invalid event level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRecordLoad(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true
	tel, err := NewTelemetry(cfg)
	require.NoError(t, err)
	ctx := tel.WithContext(context.Background())

	require.NoError(t, RecordLoad(ctx, "schema", "catalog.yml", func(context.Context) error { return nil }))
	err = RecordLoad(ctx, "schema", "broken.cue", func(context.Context) error { return errors.New("syntax") })
	assert.EqualError(t, err, "syntax")

	assert.Equal(t, 1.0, value(t, tel.Metrics.schemaLoads.WithLabelValues("yaml", "success")))
	assert.Equal(t, 1.0, value(t, tel.Metrics.schemaLoads.WithLabelValues("cue", "failure")))
}

func TestQueryContext(t *testing.T) {
	ctx, queryID := WithQueryContext(context.Background(), "City", "TOP_LEVEL_ONLY")
	assert.NotEmpty(t, queryID)
	assert.NotPanics(t, func() { EndQueryContext(ctx, true, nil) })

	tel, err := NewTelemetry(DefaultConfig())
	require.NoError(t, err)
	ctx, otherID := WithQueryContext(tel.WithContext(context.Background()), "City", "TOP_LEVEL_ONLY")
	assert.NotEqual(t, queryID, otherID)
	assert.NotPanics(t, func() { EndQueryContext(ctx, false, errors.New("failed")) })
}

func TestLogSubscriber(t *testing.T) {
	var buf bytes.Buffer
	logger := (&Logger{zlog: zerolog.New(&buf)}).NewComponentLogger("events")

	ep, err := NewEventPublisher(EventsConfig{Enabled: true})
	require.NoError(t, err)
	ep.Subscribe(LogSubscriber(logger), nil)

	require.NoError(t, ep.PublishPolicyReloaded("titles.rego", errors.New("parse error")))
	require.NoError(t, ep.PublishFactAdded("City", "Provided"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"level":"error"`)
	assert.Contains(t, lines[0], `"component":"events"`)
	assert.Contains(t, lines[0], `"event_type":"policy.reloaded"`)
	assert.Contains(t, lines[0], `"error":"parse error"`)
	assert.Contains(t, lines[1], `"level":"debug"`)
	assert.Contains(t, lines[1], `"type_name":"City"`)
}

func TestNewTelemetry_LogsEvents(t *testing.T) {
	out := filepath.Join(t.TempDir(), "catalog.log")
	cfg := DefaultConfig()
	cfg.Logging.Format = "json"
	cfg.Logging.Output = out
	cfg.Logging.Level = "debug"
	cfg.Events.Enabled = true
	cfg.Events.EnableAsync = false
	cfg.Events.MinLevel = EventLevelWarning
	cfg.Events.Types = []string{EventTypeSearchAmbiguous, EventTypePolicyReloaded}

	tel, err := NewTelemetry(cfg)
	require.NoError(t, err)

	require.NoError(t, tel.Events.PublishSearchResolved("title", "ANY_DEPTH_EXPECT_ONE", "found", 1))
	require.NoError(t, tel.Events.PublishSearchResolved("title", "ANY_DEPTH_EXPECT_ONE", "ambiguous", 2))
	require.NoError(t, tel.Events.PublishPolicyReloaded("titles.rego", nil))
	require.NoError(t, tel.Events.PublishSchemaLoaded("films.yaml", 3))
	require.NoError(t, tel.Shutdown(context.Background()))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	logged := string(data)
	assert.Contains(t, logged, `"event_type":"search.ambiguous"`)
	assert.NotContains(t, logged, `"event_type":"search.resolved"`, "below min level")
	assert.NotContains(t, logged, `"event_type":"policy.reloaded"`, "info reloads are below min level")
	assert.NotContains(t, logged, `"event_type":"schema.loaded"`, "filtered by type")
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{zlog: zerolog.New(&buf)}

	logger.NewComponentLogger("schema-loader").WithSchema("films", "abc123").Info("Schema imported")
	logger.WithError(errors.New("disk full")).Warn("Telemetry shutdown failed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"component":"schema-loader"`)
	assert.Contains(t, lines[0], `"schema_name":"films"`)
	assert.Contains(t, lines[0], `"schema_hash":"abc123"`)
	assert.Contains(t, lines[1], `"level":"warn"`)
	assert.Contains(t, lines[1], `"error":"disk full"`)
}
