// Package schema governs the structural contracts of published events.
//
// It provides:
//   - Descriptor: an immutable, versioned structural schema fetched from the
//     external registry
//   - Registry: the narrow interface to that registry, plus an HTTP client
//   - Cache: a bounded, time-expiring descriptor cache that coalesces
//     concurrent fetches for the same subject
//   - Validator: structural payload validation against a descriptor
//
// Validation failures are permanent: an invalid payload never consumes
// retry budget and dead-letters on the first failure.
package schema
