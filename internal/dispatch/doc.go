// Package dispatch turns decided trading signals into at-most-once user
// notifications.
//
// Work arrives as jobs on a persistent queue, either from the primary path
// (the ingest handler observing a signal reach a decidable state) or from
// the periodic reconciliation sweep. Both paths enqueue under the same
// deterministic id, so a pair is represented by at most one queue entry.
//
// # Processing
//
// A worker claims a job under a lease, takes the pair's lock, re-checks the
// outcome ledger, classifies the signal, renders the message, and delivers
// it through a Gateway. The ledger row is appended after the send: a crash
// between send and append loses the record, never duplicates the message.
//
// # Failure handling
//
// Delivery errors are split by the gateway into transient (retried with
// exponential backoff, honoring channel flood hints) and permanent (a failed
// ledger row is written and the job completes). Retry exhaustion parks the
// job in a terminal failed state that the next sweep revives, so eventual
// delivery survives long channel outages without unbounded hot-looping.
package dispatch
