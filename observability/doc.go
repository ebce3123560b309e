// Package observability provides an OpenTelemetry-based metrics
// extension for jobd. The MetricsExtension implements lifecycle hooks to
// record scheduler-wide counters for job enqueue, completion, failure,
// retry, and cancellation events, partitioned by job type.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
