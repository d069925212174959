package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/pagelens/audit_agent/internal/record"
)

// PutCapture persists a canonical capture record. The record JSON is the
// source of truth; url/host/session columns exist for index lookups.
func (s *Store) PutCapture(rec record.CaptureRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal capture: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO captures (id, session_id, url, host, created_at, record)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.URL, hostOf(rec.URL), rec.CreatedAt.UnixMilli(), string(data))
	if err != nil {
		return fmt.Errorf("store: put capture %s: %w", rec.ID, err)
	}
	return nil
}

// GetCapture fetches a capture by id; ErrNotFound when absent.
func (s *Store) GetCapture(id string) (record.CaptureRecord, error) {
	var data string
	err := s.db.QueryRow(`SELECT record FROM captures WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return record.CaptureRecord{}, ErrNotFound
	}
	if err != nil {
		return record.CaptureRecord{}, fmt.Errorf("store: get capture %s: %w", id, err)
	}
	var rec record.CaptureRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return record.CaptureRecord{}, fmt.Errorf("store: decode capture %s: %w", id, err)
	}
	return rec, nil
}

// DeleteCapture removes a capture; ErrNotFound when absent.
func (s *Store) DeleteCapture(id string) error {
	res, err := s.db.Exec(`DELETE FROM captures WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete capture %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCaptures returns captures newest first, optionally filtered to a host.
func (s *Store) ListCaptures(limit int, host string) ([]record.CaptureRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT record FROM captures ORDER BY created_at DESC LIMIT ?`
	args := []any{limit}
	if host != "" {
		query = `SELECT record FROM captures WHERE host = ? ORDER BY created_at DESC LIMIT ?`
		args = []any{host, limit}
	}
	return s.queryCaptures(query, args...)
}

// ListCapturesBySession returns a session's captures, newest first.
func (s *Store) ListCapturesBySession(sessionID string, limit int) ([]record.CaptureRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryCaptures(`SELECT record FROM captures WHERE session_id = ?
		ORDER BY created_at DESC LIMIT ?`, sessionID, limit)
}

// ListCapturesByProject returns captures across every session linked to the
// project, newest first.
func (s *Store) ListCapturesByProject(projectID string, limit int) ([]record.CaptureRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryCaptures(`SELECT c.record FROM captures c
		JOIN project_sessions ps ON ps.session_id = c.session_id
		WHERE ps.project_id = ?
		ORDER BY c.created_at DESC LIMIT ?`, projectID, limit)
}

// ClearCaptures deletes captures, optionally limited to a host, and returns
// the number removed.
func (s *Store) ClearCaptures(host string) (int, error) {
	var (
		res sql.Result
		err error
	)
	if host == "" {
		res, err = s.db.Exec(`DELETE FROM captures`)
	} else {
		res, err = s.db.Exec(`DELETE FROM captures WHERE host = ?`, host)
	}
	if err != nil {
		return 0, fmt.Errorf("store: clear captures: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CountCapturesByProject returns projectID -> capture count across linked
// sessions. Projects with no captures are present with count zero.
func (s *Store) CountCapturesByProject() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT p.id, COUNT(c.id)
		FROM projects p
		LEFT JOIN project_sessions ps ON ps.project_id = p.id
		LEFT JOIN captures c ON c.session_id = ps.session_id
		GROUP BY p.id`)
	if err != nil {
		return nil, fmt.Errorf("store: count captures by project: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("store: scan count: %w", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

func (s *Store) queryCaptures(query string, args ...any) ([]record.CaptureRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list captures: %w", err)
	}
	defer rows.Close()

	records := make([]record.CaptureRecord, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("store: scan capture: %w", err)
		}
		var rec record.CaptureRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("store: decode capture: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
