// Package messaging implements the schema-governed publish path: every
// outbound event is validated against its registered schema, pushed through
// circuit-breaker-gated retries, and on failure converted into a
// dead-letter record instead of being dropped. The package also hosts the
// reprocessing service that drains dead-letter records back through the
// publish path under operator control.
package messaging
