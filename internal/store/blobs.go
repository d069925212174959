package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Blob is a stored binary image payload referenced by capture records.
// Identity is a generated id, not a content hash; identical screenshots get
// distinct entries.
type Blob struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	MimeType  string    `json:"mime_type"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Bytes     []byte    `json:"bytes,omitempty"`
}

// PutBlob persists a blob.
func (s *Store) PutBlob(b Blob) error {
	_, err := s.db.Exec(`INSERT INTO blobs (id, created_at, mime_type, width, height, bytes)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.CreatedAt.UnixMilli(), b.MimeType, b.Width, b.Height, b.Bytes)
	if err != nil {
		return fmt.Errorf("store: put blob %s: %w", b.ID, err)
	}
	return nil
}

// GetBlob fetches a blob with its bytes; ErrNotFound when absent.
func (s *Store) GetBlob(id string) (Blob, error) {
	var (
		b         Blob
		createdAt int64
	)
	err := s.db.QueryRow(`SELECT id, created_at, mime_type, width, height, bytes
		FROM blobs WHERE id = ?`, id).
		Scan(&b.ID, &createdAt, &b.MimeType, &b.Width, &b.Height, &b.Bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return Blob{}, ErrNotFound
	}
	if err != nil {
		return Blob{}, fmt.Errorf("store: get blob %s: %w", id, err)
	}
	b.CreatedAt = time.UnixMilli(createdAt).UTC()
	return b, nil
}

// DeleteBlob removes a blob; deleting an absent blob is not an error.
func (s *Store) DeleteBlob(id string) error {
	if _, err := s.db.Exec(`DELETE FROM blobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete blob %s: %w", id, err)
	}
	return nil
}
