package kv

import (
	"database/sql"
	"sync"

	"github.com/rs/zerolog/log"
)

// Manager hands out buckets by name, creating them on first use.
type Manager struct {
	db      *sql.DB
	mu      sync.Mutex
	buckets map[string]Bucket
}

// NewManager creates a KV manager. A nil db is allowed; such a manager can
// only create in-memory buckets.
func NewManager(db *sql.DB) *Manager {
	return &Manager{
		db:      db,
		buckets: make(map[string]Bucket),
	}
}

// Bucket returns the bucket with the given name, creating it if needed.
// Persistent buckets are backed by SQLite; without a database every bucket
// degrades to in-memory.
func (m *Manager) Bucket(name string, persistent bool) Bucket {
	m.mu.Lock()
	defer m.mu.Unlock()

	if bucket, ok := m.buckets[name]; ok {
		return bucket
	}

	var bucket Bucket
	if persistent && m.db != nil {
		bucket = NewSQLiteBucket(m.db, name)
	} else {
		bucket = NewMemoryBucket(name)
	}

	m.buckets[name] = bucket
	log.Debug().Str("bucket", name).Bool("persistent", bucket.IsPersistent()).Msg("Created KV bucket")
	return bucket
}
