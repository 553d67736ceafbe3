// Package store defines the persistence boundary of the pipeline: a small
// key-value/append-log interface plus the typed stores layered on top of it.
// File-backed or database-backed implementations are both conformant.
package store

import "context"

// KV is the key-value persistence boundary. Append-log keys and plain keys
// live in separate namespaces.
type KV interface {
	// Get returns the value for key, with ok=false when absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Put writes or replaces the value for key.
	Put(ctx context.Context, key string, value []byte) error
	// Append adds an entry to the log named logKey. Entries are immutable
	// and returned by ReadLog in append order.
	Append(ctx context.Context, logKey string, value []byte) error
	// ReadLog returns a snapshot of all entries of logKey in append order.
	ReadLog(ctx context.Context, logKey string) ([][]byte, error)
	// Close releases the underlying resources.
	Close() error
}
