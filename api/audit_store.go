package api

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var auditBucket = []byte("audit")

// AuditEntry is one persisted audit event.
type AuditEntry struct {
	ID         string     `json:"id"`
	Event      AuditEvent `json:"event"`
	Identity   string     `json:"identity,omitempty"`
	RemoteAddr string     `json:"remote_addr"`
	CreatedAt  string     `json:"created_at"`
}

// AuditStore persists audit entries in a BBolt database. Keys are
// ordered by creation time so recent entries read back in one cursor
// walk from the end.
type AuditStore struct {
	db *bbolt.DB
}

// NewAuditStore opens (or creates) the audit database at path.
func NewAuditStore(path string) (*AuditStore, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening audit db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(auditBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing audit db: %w", err)
	}
	return &AuditStore{db: db}, nil
}

// Close closes the underlying database.
func (s *AuditStore) Close() error {
	return s.db.Close()
}

// Append persists one entry. An ID is assigned if the entry has none.
func (s *AuditStore) Append(entry AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := entry.CreatedAt + ":" + entry.ID
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(auditBucket).Put([]byte(key), data)
	})
}

// Recent returns up to limit entries, newest first.
func (s *AuditStore) Recent(limit int) ([]AuditEntry, error) {
	entries := make([]AuditEntry, 0, limit)
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(auditBucket).Cursor()
		for k, v := c.Last(); k != nil && len(entries) < limit; k, v = c.Prev() {
			var entry AuditEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}
