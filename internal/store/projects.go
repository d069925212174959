package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Project is a user-named grouping of sessions and their captures.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// PutProject inserts a project.
func (s *Store) PutProject(p Project) error {
	_, err := s.db.Exec(`INSERT INTO projects (id, name, created_at) VALUES (?, ?, ?)`,
		p.ID, p.Name, p.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("store: put project %s: %w", p.ID, err)
	}
	return nil
}

// GetProject fetches a project by id; ErrNotFound when absent.
func (s *Store) GetProject(id string) (Project, error) {
	var (
		p         Project
		createdAt int64
	)
	err := s.db.QueryRow(`SELECT id, name, created_at FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, fmt.Errorf("store: get project %s: %w", id, err)
	}
	p.CreatedAt = time.UnixMilli(createdAt).UTC()
	return p, nil
}

// ListProjects returns all projects, newest first.
func (s *Store) ListProjects() ([]Project, error) {
	rows, err := s.db.Query(`SELECT id, name, created_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list projects: %w", err)
	}
	defer rows.Close()

	projects := make([]Project, 0)
	for rows.Next() {
		var (
			p         Project
			createdAt int64
		)
		if err := rows.Scan(&p.ID, &p.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan project: %w", err)
		}
		p.CreatedAt = time.UnixMilli(createdAt).UTC()
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// LinkProjectSession records the many-to-many association. Linking an
// already-linked pair is a no-op.
func (s *Store) LinkProjectSession(projectID, sessionID string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO project_sessions (project_id, session_id)
		VALUES (?, ?)`, projectID, sessionID)
	if err != nil {
		return fmt.Errorf("store: link project %s session %s: %w", projectID, sessionID, err)
	}
	return nil
}
