// Package history provides an append-only log of notable operations:
// scans, selections, finished and cancelled transitions. It backs the
// audit endpoint and a retention sweep keeps it bounded.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"wizd/internal/eventbus"
	"wizd/internal/wiz"
)

// Entry represents a single recorded operation.
type Entry struct {
	ID        int64          `json:"id"`
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Store provides append-only operation logging.
type Store struct {
	db *sql.DB
}

// New creates a Store using the provided database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append adds a new entry.
func (s *Store) Append(eventType string, payload map[string]any) error {
	var payloadJSON []byte
	var err error
	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	_, err = s.db.Exec(
		`INSERT INTO event_history (event_type, timestamp, payload) VALUES (?, ?, ?)`,
		eventType, time.Now().UTC().Unix(), string(payloadJSON),
	)
	return err
}

// Recent returns the newest entries, most recent first.
func (s *Store) Recent(limit int) ([]*Entry, error) {
	rows, err := s.db.Query(`
		SELECT id, event_type, timestamp, payload
		FROM event_history
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// ByType returns entries filtered by event type, most recent first.
func (s *Store) ByType(eventType string, limit int) ([]*Entry, error) {
	rows, err := s.db.Query(`
		SELECT id, event_type, timestamp, payload
		FROM event_history
		WHERE event_type = ?
		ORDER BY id DESC
		LIMIT ?
	`, eventType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// DeleteOlderThan removes entries older than the retention window.
func (s *Store) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	result, err := s.db.Exec(`DELETE FROM event_history WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr sql.NullString
		var timestamp int64

		if err := rows.Scan(&entry.ID, &entry.EventType, &timestamp, &payloadStr); err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// recordedEvents are the bus events worth keeping an audit trail of.
// Step events are deliberately excluded, they would dwarf everything else.
var recordedEvents = []eventbus.EventType{
	eventbus.EventTypeDevices,
	eventbus.EventTypeDeviceSelect,
	eventbus.EventTypeFadeCompleted,
	eventbus.EventTypeFadeCancelled,
}

// Record subscribes the store to the event bus. Append failures are
// swallowed; history must never interfere with control flow.
func (s *Store) Record(bus *eventbus.Bus) {
	for _, et := range recordedEvents {
		et := et
		bus.Subscribe(et, func(ev eventbus.Event) {
			payload := map[string]any{}
			for k, v := range ev.Data {
				// Full device dumps bloat rows, keep the count
				if devs, ok := v.([]wiz.Device); ok {
					payload["count"] = len(devs)
					continue
				}
				payload[k] = v
			}
			_ = s.Append(string(et), payload)
		})
	}
}
