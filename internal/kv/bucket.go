// Package kv provides named key-value buckets with SQLite persistence and
// an in-memory option. Values are opaque byte slices; callers bring their
// own encoding (JSON throughout this codebase).
package kv

// Bucket is the interface for key-value storage operations.
type Bucket interface {
	// Name returns the bucket name.
	Name() string

	// IsPersistent returns true if the bucket is backed by SQLite.
	IsPersistent() bool

	// Put saves a value under the given key, replacing any previous one.
	Put(key string, value []byte) error

	// Get retrieves a value by key. Returns nil when the key is absent.
	Get(key string) ([]byte, error)

	// Delete removes a key. Returns true if the key existed.
	Delete(key string) (bool, error)

	// Keys returns all keys in the bucket.
	Keys() ([]string, error)

	// Clear removes all keys from the bucket.
	Clear() error
}
