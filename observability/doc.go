// Package observability exports the engine's running counters and the queue
// depth as OpenTelemetry observable instruments. Callbacks read a
// stats.Snapshot at collection time, so nothing on the hot path touches OTel
// beyond the per-intent middleware (see middleware.Metrics and
// middleware.Tracing).
package observability
