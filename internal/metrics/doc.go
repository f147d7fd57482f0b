// Package metrics provides observability hooks for webhook ingestion and
// build dispatch.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so metrics can be enabled by swapping in a real
// implementation without code changes. PrometheusRecorder is the production
// implementation and is served on /metrics by the HTTP server.
package metrics
