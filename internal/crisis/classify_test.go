package crisis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyByScore(t *testing.T) {
	cases := []struct {
		score float64
		want  SeverityTier
	}{
		{0.0, SeverityMinimal},
		{0.05, SeverityMinimal},
		{0.1, SeverityMild},
		{0.3, SeverityModerate},
		{0.45, SeverityModerate},
		{0.5, SeveritySevere},
		{0.7, SeverityCritical},
		{0.85, SeverityCritical},
		{0.9, SeverityEmergency},
		{1.0, SeverityEmergency},
	}
	for _, tc := range cases {
		got := Classify(RiskAssessment{Score: tc.score, SubRisk: SubRiskNone, Type: TypeMixed})
		assert.Equal(t, tc.want, got, "score %.2f", tc.score)
	}
}

func TestClassifySubRiskDominates(t *testing.T) {
	// A low score with imminent sub-risk still classifies as emergency.
	got := Classify(RiskAssessment{Score: 0.2, SubRisk: SubRiskImminent, Type: TypeSuicidal})
	assert.Equal(t, SeverityEmergency, got)

	// High sub-risk floors the tier at severe.
	got = Classify(RiskAssessment{Score: 0.35, SubRisk: SubRiskHigh, Type: TypeSelfHarm})
	assert.Equal(t, SeveritySevere, got)
}

func TestClassifyScoreDominates(t *testing.T) {
	got := Classify(RiskAssessment{Score: 0.95, SubRisk: SubRiskLow, Type: TypePanic})
	assert.Equal(t, SeverityEmergency, got)
}

func TestClassifyDeterministic(t *testing.T) {
	a := RiskAssessment{Score: 0.62, SubRisk: SubRiskModerate, Type: TypeTrauma}
	first := Classify(a)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Classify(a))
	}
}

func TestSeverityLadder(t *testing.T) {
	assert.Equal(t, SeverityMild, SeverityMinimal.Next())
	assert.Equal(t, SeverityEmergency, SeverityCritical.Next())
	// Emergency is the ceiling.
	assert.Equal(t, SeverityEmergency, SeverityEmergency.Next())

	assert.True(t, SeverityCritical.AtLeast(SeveritySevere))
	assert.False(t, SeverityMild.AtLeast(SeverityModerate))
	assert.Equal(t, -1, SeverityTier("bogus").Rank())
}

func TestValidate(t *testing.T) {
	valid := RiskAssessment{Score: 0.5, Confidence: 0.9, SubRisk: SubRiskLow, Type: TypePanic}
	assert.NoError(t, valid.Validate())

	bad := valid
	bad.Score = 1.2
	var vErr *ValidationError
	assert.ErrorAs(t, bad.Validate(), &vErr)
	assert.Equal(t, "score", vErr.Field)

	bad = valid
	bad.Type = "existential"
	assert.Error(t, bad.Validate())

	bad = valid
	bad.SubRisk = "catastrophic"
	assert.Error(t, bad.Validate())
}
