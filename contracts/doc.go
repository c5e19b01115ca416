// Package contracts defines the wire-level types shared by every component
// of eventgate: the event envelope, the dead-letter record, audit entries,
// and the failure taxonomy.
//
// All types here are plain data. Envelopes are immutable once built; the
// payload is kept as raw bytes so a dead-letter capture is byte-identical
// to the payload that was submitted for publication.
package contracts
