// Package reliability implements the failure-protection patterns around
// transport publication:
//
//   - Circuit Breaker: a per-key state machine that short-circuits calls to
//     a failing transport until it appears to have recovered
//   - Retry Executor: bounded exponential-backoff retry that records every
//     attempt outcome
//   - Holding Store: local capture of events whose dead-letter publication
//     failed, so no event is ever discarded
//
// All types are safe for concurrent use.
package reliability
