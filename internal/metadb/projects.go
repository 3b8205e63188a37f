package metadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProjectStatus is the lifecycle state of a project's index.
type ProjectStatus string

const (
	StatusCreated  ProjectStatus = "CREATED"
	StatusIndexing ProjectStatus = "INDEXING"
	StatusReady    ProjectStatus = "READY"
	StatusError    ProjectStatus = "ERROR"
)

// Project is an imported repository and the state of its semantic index.
// Status is mutated only through lifecycle transitions.
type Project struct {
	ID            string
	OwnerID       string
	Name          string
	RemoteURL     string
	Status        ProjectStatus
	LastIndexedAt *time.Time
	CreatedAt     time.Time
}

// CreateProject inserts a new project in INDEXING state, ready for the
// asynchronous first ingestion run.
func (d *DB) CreateProject(ctx context.Context, ownerID, name, remoteURL string) (*Project, error) {
	p := &Project{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Name:      name,
		RemoteURL: remoteURL,
		Status:    StatusIndexing,
		CreatedAt: time.Now().UTC(),
	}

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO projects (id, owner_id, name, remote_url, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.OwnerID, p.Name, p.RemoteURL, string(p.Status), p.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}
	return p, nil
}

// GetProject fetches a project by ID.
func (d *DB) GetProject(ctx context.Context, id string) (*Project, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, remote_url, status, last_indexed_at, created_at
		 FROM projects WHERE id = ?`, id)
	return scanProject(row)
}

// ListProjects returns all projects of an owner, newest first.
func (d *DB) ListProjects(ctx context.Context, ownerID string) ([]*Project, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, owner_id, name, remote_url, status, last_indexed_at, created_at
		 FROM projects WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// SetStatus records a lifecycle transition. Reaching READY also stamps
// last_indexed_at.
func (d *DB) SetStatus(ctx context.Context, id string, status ProjectStatus) error {
	var res sql.Result
	var err error
	if status == StatusReady {
		res, err = d.db.ExecContext(ctx,
			`UPDATE projects SET status = ?, last_indexed_at = ? WHERE id = ?`,
			string(status), time.Now().UTC(), id)
	} else {
		res, err = d.db.ExecContext(ctx,
			`UPDATE projects SET status = ? WHERE id = ?`, string(status), id)
	}
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrProjectNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*Project, error) {
	var p Project
	var status string
	var lastIndexed sql.NullTime
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.RemoteURL, &status, &lastIndexed, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}
	p.Status = ProjectStatus(status)
	if lastIndexed.Valid {
		t := lastIndexed.Time
		p.LastIndexedAt = &t
	}
	return &p, nil
}
