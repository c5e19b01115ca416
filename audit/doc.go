// Package audit records every DLQ and reprocessing operation as an
// append-only trail. Entries are emitted as structured log lines and kept
// queryable by event id and module for compliance reporting; durable
// storage is an external sink's concern.
package audit
