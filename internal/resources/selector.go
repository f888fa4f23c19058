// Package resources filters the externally maintained resource catalog for a
// given crisis type and severity tier.
package resources

import (
	"context"
	"fmt"

	"github.com/mindhaven/crisisflow/internal/crisis"
)

// Catalog is the external resource catalog boundary.
type Catalog interface {
	List(ctx context.Context) ([]crisis.Resource, error)
}

// Selector picks resources for a workflow.
type Selector struct {
	catalog Catalog
}

// NewSelector creates a selector over the given catalog.
func NewSelector(catalog Catalog) *Selector {
	return &Selector{catalog: catalog}
}

// Select returns every available catalog resource tagged for the crisis type
// (or "all"). At emergency severity, filtering is bypassed entirely and the
// full catalog is returned: a life-threatening situation must never be
// resource-starved by a tagging mismatch.
func (s *Selector) Select(ctx context.Context, severity crisis.SeverityTier, crisisType crisis.CrisisType) ([]crisis.Resource, error) {
	all, err := s.catalog.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing resource catalog: %w", err)
	}

	if severity == crisis.SeverityEmergency {
		return all, nil
	}

	out := make([]crisis.Resource, 0, len(all))
	for _, r := range all {
		if r.Available && r.MatchesType(crisisType) {
			out = append(out, r)
		}
	}
	return out, nil
}

// StaticCatalog is an in-memory Catalog, used for defaults and tests.
type StaticCatalog struct {
	Resources []crisis.Resource
}

func (c *StaticCatalog) List(ctx context.Context) ([]crisis.Resource, error) {
	out := make([]crisis.Resource, len(c.Resources))
	copy(out, c.Resources)
	return out, nil
}
