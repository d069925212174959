package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// The kv table mirrors the coordinator's per-tab flags (enabled_<tab>,
// session_<tab>) so a restarted process can rehydrate without asking the
// page-embedded agent first.

// KVPut upserts a key.
func (s *Store) KVPut(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("store: kv put %s: %w", key, err)
	}
	return nil
}

// KVGet returns the value and whether the key exists.
func (s *Store) KVGet(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: kv get %s: %w", key, err)
	}
	return value, true, nil
}

// KVDelete removes a key; deleting an absent key is not an error.
func (s *Store) KVDelete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("store: kv delete %s: %w", key, err)
	}
	return nil
}
