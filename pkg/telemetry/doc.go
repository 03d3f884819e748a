// Package telemetry provides observability instrumentation for the catalog.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and event publishing.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Metrics.Enabled = true
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Fact Bags
//
// Metrics implements facts.Observer and EventPublisher implements
// facts.EventSink. BagOptions wires both into a bag:
//
//	bag := facts.NewCopyOnWriteFactBag(initial, schema, tel.BagOptions()...)
//
// # Searches
//
// WithQueryContext opens a search span and a query-scoped logger:
//
//	ctx, queryID := telemetry.WithQueryContext(ctx, "City", "ANY_DEPTH_EXPECT_ONE")
//	result := bag.GetFactOrNil(city, facts.AnyDepthExpectOne, nil)
//	telemetry.EndQueryContext(ctx, result != nil, nil)
//
// # Metrics
//
// Exposed metrics, under the configured namespace:
//
//   - searches_total{strategy, outcome}
//   - search_duration_seconds{strategy, cached}
//   - search_cache_lookups_total{result}
//   - traversals_total{strategy} and traversal_nodes{strategy}
//   - facts_added_total
//   - cache_invalidations_total{cache}
//   - unsupported_operations_total{operation}
//   - schema_loads_total{format, status}
//   - policy_evaluations_total{policy, decision}
//   - errors_by_class_total{class} and errors_by_code_total{code}
//
// Every Metrics method is a no-op when metrics are disabled.
package telemetry
