// Package store is the sqlite persistence layer.
//
// It holds four concerns behind one handle: the append-only notification
// ledger, the persistent dispatch queue, lease locks, and read access to the
// platform-owned rows (signals, positions, deployments, bindings).
package store
