package kv

import "sync"

// MemoryBucket is an in-memory bucket (not persisted). Used for tests and
// for state that should not outlive the process.
type MemoryBucket struct {
	name    string
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryBucket creates a new in-memory bucket.
func NewMemoryBucket(name string) *MemoryBucket {
	return &MemoryBucket{
		name:    name,
		entries: make(map[string][]byte),
	}
}

// Name returns the bucket name.
func (b *MemoryBucket) Name() string {
	return b.name
}

// IsPersistent returns false (memory buckets are not persistent).
func (b *MemoryBucket) IsPersistent() bool {
	return false
}

// Put saves a value under the given key, replacing any previous one.
func (b *MemoryBucket) Put(key string, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)

	b.mu.Lock()
	b.entries[key] = cp
	b.mu.Unlock()
	return nil
}

// Get retrieves a value by key. Returns nil when the key is absent.
func (b *MemoryBucket) Get(key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	value, ok := b.entries[key]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	return cp, nil
}

// Delete removes a key from the bucket.
func (b *MemoryBucket) Delete(key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.entries[key]
	delete(b.entries, key)
	return ok, nil
}

// Keys returns all keys in the bucket.
func (b *MemoryBucket) Keys() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.entries))
	for key := range b.entries {
		keys = append(keys, key)
	}
	return keys, nil
}

// Clear removes all keys from the bucket.
func (b *MemoryBucket) Clear() error {
	b.mu.Lock()
	b.entries = make(map[string][]byte)
	b.mu.Unlock()
	return nil
}
