package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Session is one bounded run of audit activity on a tab.
type Session struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	StartURL      string    `json:"start_url,omitempty"`
	UserAgentHint string    `json:"user_agent_hint,omitempty"`
	PagesVisited  []string  `json:"pages_visited"`
}

// PutSession inserts or replaces a session record.
func (s *Store) PutSession(sess Session) error {
	pages, err := json.Marshal(sess.PagesVisited)
	if err != nil {
		return fmt.Errorf("store: marshal pages: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO sessions (id, created_at, start_url, user_agent_hint, pages_visited)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET pages_visited = excluded.pages_visited`,
		sess.ID, sess.CreatedAt.UnixMilli(), sess.StartURL, sess.UserAgentHint, string(pages))
	if err != nil {
		return fmt.Errorf("store: put session %s: %w", sess.ID, err)
	}
	return nil
}

// GetSession fetches a session by id; ErrNotFound when absent.
func (s *Store) GetSession(id string) (Session, error) {
	row := s.db.QueryRow(`SELECT id, created_at, start_url, user_agent_hint, pages_visited
		FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("store: get session %s: %w", id, err)
	}
	return sess, nil
}

// ListSessions returns sessions newest first, up to limit (0 = default 50).
func (s *Store) ListSessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT id, created_at, start_url, user_agent_hint, pages_visited
		FROM sessions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]Session, 0, limit)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// ListSessionsByProject returns the sessions linked to a project, newest first.
func (s *Store) ListSessionsByProject(projectID string) ([]Session, error) {
	rows, err := s.db.Query(`SELECT s.id, s.created_at, s.start_url, s.user_agent_hint, s.pages_visited
		FROM sessions s
		JOIN project_sessions ps ON ps.session_id = s.id
		WHERE ps.project_id = ?
		ORDER BY s.created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions by project: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		sess      Session
		createdAt int64
		pages     string
	)
	if err := row.Scan(&sess.ID, &createdAt, &sess.StartURL, &sess.UserAgentHint, &pages); err != nil {
		return Session{}, err
	}
	sess.CreatedAt = time.UnixMilli(createdAt).UTC()
	if err := json.Unmarshal([]byte(pages), &sess.PagesVisited); err != nil {
		return Session{}, err
	}
	if sess.PagesVisited == nil {
		sess.PagesVisited = []string{}
	}
	return sess, nil
}
