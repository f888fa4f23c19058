package crisis

// Score thresholds for the overall risk score. Each threshold maps to the
// least severe tier it implies.
var scoreThresholds = []struct {
	min  float64
	tier SeverityTier
}{
	{0.9, SeverityEmergency},
	{0.7, SeverityCritical},
	{0.5, SeveritySevere},
	{0.3, SeverityModerate},
	{0.1, SeverityMild},
}

// subRiskTiers maps the model's sub-risk level straight onto the severity
// ladder.
var subRiskTiers = map[SubRiskLevel]SeverityTier{
	SubRiskImminent: SeverityEmergency,
	SubRiskSevere:   SeverityCritical,
	SubRiskHigh:     SeveritySevere,
	SubRiskModerate: SeverityModerate,
	SubRiskLow:      SeverityMild,
	SubRiskNone:     SeverityMinimal,
}

// Classify maps a risk assessment onto the severity ladder. The result is the
// more severe of the score-threshold tier and the sub-risk tier. Pure
// function: safe to call at creation and again at every reassessment.
func Classify(a RiskAssessment) SeverityTier {
	byScore := SeverityMinimal
	for _, t := range scoreThresholds {
		if a.Score >= t.min {
			byScore = t.tier
			break
		}
	}

	bySubRisk, ok := subRiskTiers[a.SubRisk]
	if !ok {
		bySubRisk = SeverityMinimal
	}

	return MaxSeverity(byScore, bySubRisk)
}
