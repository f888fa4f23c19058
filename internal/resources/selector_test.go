package resources

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindhaven/crisisflow/internal/crisis"
)

func testCatalog() *StaticCatalog {
	return &StaticCatalog{Resources: []crisis.Resource{
		{ID: "hotline-988", Tags: []string{"all"}, Available: true},
		{ID: "panic-clinic", Tags: []string{"panic"}, Available: true},
		{ID: "detox-intake", Tags: []string{"substance"}, Available: true},
		{ID: "closed-line", Tags: []string{"all"}, Available: false},
	}}
}

func idsOf(rs []crisis.Resource) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

func TestSelectFiltersByTypeAndAvailability(t *testing.T) {
	s := NewSelector(testCatalog())

	got, err := s.Select(context.Background(), crisis.SeverityModerate, crisis.TypePanic)

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"hotline-988", "panic-clinic"}, idsOf(got))
}

func TestSelectWildcardOnly(t *testing.T) {
	s := NewSelector(testCatalog())

	got, err := s.Select(context.Background(), crisis.SeveritySevere, crisis.TypeTrauma)

	require.NoError(t, err)
	assert.Equal(t, []string{"hotline-988"}, idsOf(got), "only the wildcard entry matches an untagged type")
}

func TestSelectEmergencyBypassesFiltering(t *testing.T) {
	s := NewSelector(testCatalog())

	got, err := s.Select(context.Background(), crisis.SeverityEmergency, crisis.TypePanic)

	require.NoError(t, err)
	assert.Len(t, got, 4, "emergency returns the whole catalog, unavailable entries included")
}

type failingCatalog struct{}

func (failingCatalog) List(ctx context.Context) ([]crisis.Resource, error) {
	return nil, errors.New("catalog store unreachable")
}

func TestSelectCatalogFailure(t *testing.T) {
	s := NewSelector(failingCatalog{})
	_, err := s.Select(context.Background(), crisis.SeverityModerate, crisis.TypePanic)
	assert.Error(t, err)
}
