// Package store persists workflows. Postgres is the durable system of record
// (last-writer-wins at workflow granularity); Redis carries the active-set
// index and a snapshot cache for read paths.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mindhaven/crisisflow/internal/crisis"
)

// ErrNotFound is returned when no workflow exists for the id.
var ErrNotFound = errors.New("workflow not found")

// Postgres is the durable workflow store.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open connection.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the workflow tables if they do not exist.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS workflows (
			id         UUID PRIMARY KEY,
			subject_id TEXT NOT NULL,
			status     TEXT NOT NULL,
			severity   TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			doc        JSONB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS workflow_archive (
			id          UUID PRIMARY KEY,
			subject_id  TEXT NOT NULL,
			status      TEXT NOT NULL,
			severity    TEXT NOT NULL,
			archived_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			doc         JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_workflows_subject ON workflows (subject_id);
	`)
	if err != nil {
		return fmt.Errorf("ensuring workflow schema: %w", err)
	}
	return nil
}

// Get loads a workflow by id.
func (s *Postgres) Get(ctx context.Context, id uuid.UUID) (*crisis.Workflow, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT doc FROM workflows WHERE id = $1", id,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading workflow %s: %w", id, err)
	}

	var wf crisis.Workflow
	if err := json.Unmarshal(doc, &wf); err != nil {
		return nil, fmt.Errorf("decoding workflow %s: %w", id, err)
	}
	return &wf, nil
}

// Put upserts a workflow document. Last writer wins.
func (s *Postgres) Put(ctx context.Context, wf *crisis.Workflow) error {
	doc, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("encoding workflow %s: %w", wf.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, subject_id, status, severity, updated_at, doc)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			severity = EXCLUDED.severity,
			updated_at = EXCLUDED.updated_at,
			doc = EXCLUDED.doc`,
		wf.ID, wf.SubjectID, wf.Status, wf.Severity, wf.UpdatedAt, doc,
	)
	if err != nil {
		return fmt.Errorf("persisting workflow %s: %w", wf.ID, err)
	}
	return nil
}

// Archive moves a finished workflow's snapshot into the archive table and
// removes the active row in one transaction.
func (s *Postgres) Archive(ctx context.Context, wf *crisis.Workflow) error {
	doc, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("encoding workflow %s: %w", wf.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archiving workflow %s: %w", wf.ID, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_archive (id, subject_id, status, severity, doc)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, doc = EXCLUDED.doc`,
		wf.ID, wf.SubjectID, wf.Status, wf.Severity, doc,
	)
	if err != nil {
		return fmt.Errorf("archiving workflow %s: %w", wf.ID, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM workflows WHERE id = $1", wf.ID); err != nil {
		return fmt.Errorf("removing archived workflow %s: %w", wf.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archiving workflow %s: %w", wf.ID, err)
	}
	return nil
}

// CloseArchived marks an archived workflow closed at the end of its
// monitoring window. The JSONB document is updated in place so later reads of
// the archive see the final status.
func (s *Postgres) CloseArchived(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_archive
		SET status = $2,
		    doc = jsonb_set(jsonb_set(doc, '{status}', to_jsonb($2::text)), '{updated_at}', to_jsonb($3::timestamptz))
		WHERE id = $1`,
		id, crisis.StatusClosed, at,
	)
	if err != nil {
		return fmt.Errorf("closing archived workflow %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a workflow row outright.
func (s *Postgres) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deleting workflow %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActive returns every non-terminal workflow, used to rebuild the active
// set after a restart.
func (s *Postgres) ListActive(ctx context.Context) ([]*crisis.Workflow, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT doc FROM workflows WHERE status NOT IN ($1, $2, $3)",
		crisis.StatusResolved, crisis.StatusMonitoring, crisis.StatusClosed,
	)
	if err != nil {
		return nil, fmt.Errorf("listing active workflows: %w", err)
	}
	defer rows.Close()

	var out []*crisis.Workflow
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning workflow row: %w", err)
		}
		var wf crisis.Workflow
		if err := json.Unmarshal(doc, &wf); err != nil {
			return nil, fmt.Errorf("decoding workflow row: %w", err)
		}
		out = append(out, &wf)
	}
	return out, rows.Err()
}
