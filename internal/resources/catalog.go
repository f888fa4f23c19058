package resources

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/mindhaven/crisisflow/internal/crisis"
)

// PostgresCatalog reads the resource catalog from the shared resources table.
// The catalog is maintained by the care-network team; this side only reads.
type PostgresCatalog struct {
	db *sql.DB
}

// NewPostgresCatalog wraps an open connection.
func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

// EnsureSchema creates the resources table if it does not exist.
func (c *PostgresCatalog) EnsureSchema(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS resources (
			id        TEXT PRIMARY KEY,
			name      TEXT NOT NULL,
			kind      TEXT NOT NULL,
			tags      TEXT[] NOT NULL DEFAULT '{}',
			available BOOLEAN NOT NULL DEFAULT true
		)`)
	if err != nil {
		return fmt.Errorf("ensuring resources schema: %w", err)
	}
	return nil
}

// List returns the full catalog.
func (c *PostgresCatalog) List(ctx context.Context) ([]crisis.Resource, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT id, name, kind, tags, available FROM resources")
	if err != nil {
		return nil, fmt.Errorf("listing resources: %w", err)
	}
	defer rows.Close()

	var out []crisis.Resource
	for rows.Next() {
		var r crisis.Resource
		if err := rows.Scan(&r.ID, &r.Name, &r.Kind, pq.Array(&r.Tags), &r.Available); err != nil {
			return nil, fmt.Errorf("scanning resource row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Seed inserts catalog entries that are not already present. Used by local
// runs so a fresh database has a workable catalog.
func (c *PostgresCatalog) Seed(ctx context.Context, rs []crisis.Resource) error {
	for _, r := range rs {
		_, err := c.db.ExecContext(ctx, `
			INSERT INTO resources (id, name, kind, tags, available)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING`,
			r.ID, r.Name, r.Kind, pq.Array(r.Tags), r.Available)
		if err != nil {
			return fmt.Errorf("seeding resource %s: %w", r.ID, err)
		}
	}
	return nil
}

// DefaultCatalog is the baseline resource set for local runs and tests.
func DefaultCatalog() []crisis.Resource {
	return []crisis.Resource{
		{ID: "hotline-988", Name: "988 Suicide & Crisis Lifeline", Kind: "hotline", Tags: []string{"all"}, Available: true},
		{ID: "crisis-text", Name: "Crisis Text Line", Kind: "text-line", Tags: []string{"all"}, Available: true},
		{ID: "er-locator", Name: "Emergency Room Locator", Kind: "emergency", Tags: []string{"suicidal", "self-harm", "psychotic", "substance"}, Available: true},
		{ID: "dv-shelter", Name: "Domestic Violence Shelter Network", Kind: "shelter", Tags: []string{"domestic-violence", "trauma"}, Available: true},
		{ID: "detox-intake", Name: "Detox Intake Line", Kind: "clinic", Tags: []string{"substance"}, Available: true},
		{ID: "grounding-app", Name: "Guided Grounding Exercises", Kind: "self-help", Tags: []string{"panic", "trauma", "mixed"}, Available: true},
	}
}
