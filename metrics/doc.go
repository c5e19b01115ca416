// Package metrics instruments the publish and dead-letter paths with
// OpenTelemetry counters and histograms. The exporter pipeline is wired by
// the host process; the collector only records against the global meter
// provider.
package metrics
