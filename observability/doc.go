// Package observability provides a metrics extension that records
// coordination lifecycle events as OpenTelemetry counters.
//
// Register it on the coordinator to track election wins, step-downs, term
// advances, failure detector transitions, evictions, and circuit breaker
// opens:
//
//	metrics, err := observability.NewMetricsExtension(
//	    observability.WithMeterProvider(provider),
//	)
//	coord, err := accord.New(
//	    accord.WithSelf(self),
//	    accord.WithExtensions(metrics),
//	)
//
// Without an explicit MeterProvider the global otel provider is used,
// which is a no-op unless the application configured one.
package observability
