// Package crisis holds the data model for crisis intervention workflows: the
// severity scale, risk assessments, intervention steps, timelines and the
// workflow aggregate itself. Everything in here is plain state; engines that
// mutate it live in their own packages.
package crisis

import (
	"fmt"
	"time"
)

// SeverityTier is the ordinal classification of crisis urgency.
type SeverityTier string

const (
	SeverityMinimal   SeverityTier = "minimal"
	SeverityMild      SeverityTier = "mild"
	SeverityModerate  SeverityTier = "moderate"
	SeveritySevere    SeverityTier = "severe"
	SeverityCritical  SeverityTier = "critical"
	SeverityEmergency SeverityTier = "emergency"
)

// severityLadder orders tiers from least to most urgent. Escalation walks up
// this ladder one rung at a time.
var severityLadder = []SeverityTier{
	SeverityMinimal,
	SeverityMild,
	SeverityModerate,
	SeveritySevere,
	SeverityCritical,
	SeverityEmergency,
}

// Rank returns the tier's position on the ladder, or -1 for an unknown tier.
func (t SeverityTier) Rank() int {
	for i, s := range severityLadder {
		if s == t {
			return i
		}
	}
	return -1
}

// Next returns the next tier up the ladder. Emergency is the ceiling and
// returns itself.
func (t SeverityTier) Next() SeverityTier {
	r := t.Rank()
	if r < 0 || r == len(severityLadder)-1 {
		return SeverityEmergency
	}
	return severityLadder[r+1]
}

// AtLeast reports whether t is as urgent as o or more.
func (t SeverityTier) AtLeast(o SeverityTier) bool {
	return t.Rank() >= o.Rank()
}

// MaxSeverity returns the more urgent of two tiers.
func MaxSeverity(a, b SeverityTier) SeverityTier {
	if a.Rank() >= b.Rank() {
		return a
	}
	return b
}

// Ladder returns a copy of the ordered severity scale.
func Ladder() []SeverityTier {
	out := make([]SeverityTier, len(severityLadder))
	copy(out, severityLadder)
	return out
}

// SubRiskLevel is the ordinal sub-risk reported by the external risk model.
type SubRiskLevel string

const (
	SubRiskNone     SubRiskLevel = "none"
	SubRiskLow      SubRiskLevel = "low"
	SubRiskModerate SubRiskLevel = "moderate"
	SubRiskHigh     SubRiskLevel = "high"
	SubRiskSevere   SubRiskLevel = "severe"
	SubRiskImminent SubRiskLevel = "imminent"
)

// CrisisType is the closed category describing the nature of the crisis.
type CrisisType string

const (
	TypeSuicidal         CrisisType = "suicidal"
	TypeSelfHarm         CrisisType = "self-harm"
	TypePsychotic        CrisisType = "psychotic"
	TypeSubstance        CrisisType = "substance"
	TypeTrauma           CrisisType = "trauma"
	TypeDomesticViolence CrisisType = "domestic-violence"
	TypePanic            CrisisType = "panic"
	TypeMixed            CrisisType = "mixed"
)

var knownCrisisTypes = map[CrisisType]bool{
	TypeSuicidal: true, TypeSelfHarm: true, TypePsychotic: true,
	TypeSubstance: true, TypeTrauma: true, TypeDomesticViolence: true,
	TypePanic: true, TypeMixed: true,
}

// KnownCrisisType reports whether ct is a member of the closed crisis-type set.
func KnownCrisisType(ct CrisisType) bool { return knownCrisisTypes[ct] }

// RiskAssessment is the immutable input produced by the external risk-scoring
// component. It is never mutated after intake.
type RiskAssessment struct {
	Score      float64      `json:"score"`
	SubRisk    SubRiskLevel `json:"sub_risk"`
	Type       CrisisType   `json:"type"`
	Indicators []string     `json:"indicators,omitempty"`
	Confidence float64      `json:"confidence"`
	AssessedAt time.Time    `json:"assessed_at"`
}

// ValidationError reports a malformed assessment or request. It is returned
// before any workflow state is created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// Validate checks the assessment fields that the orchestrator depends on.
func (a RiskAssessment) Validate() error {
	if a.Score < 0 || a.Score > 1 {
		return &ValidationError{Field: "score", Reason: "must be within [0,1]"}
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return &ValidationError{Field: "confidence", Reason: "must be within [0,1]"}
	}
	if !KnownCrisisType(a.Type) {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown crisis type %q", a.Type)}
	}
	switch a.SubRisk {
	case SubRiskNone, SubRiskLow, SubRiskModerate, SubRiskHigh, SubRiskSevere, SubRiskImminent:
	default:
		return &ValidationError{Field: "sub_risk", Reason: fmt.Sprintf("unknown sub-risk level %q", a.SubRisk)}
	}
	return nil
}

// Resource is an entry from the externally maintained resource catalog.
type Resource struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Kind      string   `json:"kind"`
	Tags      []string `json:"tags"`
	Available bool     `json:"available"`
}

// MatchesType reports whether the resource is tagged for the given crisis
// type, either directly or through the "all" wildcard.
func (r Resource) MatchesType(ct CrisisType) bool {
	for _, tag := range r.Tags {
		if tag == "all" || tag == string(ct) {
			return true
		}
	}
	return false
}

// EmergencyContact is one entry from the subject's contact list.
type EmergencyContact struct {
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
	Phone        string `json:"phone"`
	Priority     int    `json:"priority"`
}

// SafetyPlan is the structured record of warning signs, coping strategies and
// contacts for a subject.
type SafetyPlan struct {
	WarningSigns     []string           `json:"warning_signs"`
	CopingStrategies []string           `json:"coping_strategies"`
	Contacts         []EmergencyContact `json:"contacts"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// AdaptationProfile carries the cultural and accessibility adjustments for a
// subject. Defaults are resolved once at workflow construction; the rest of
// the system treats the profile as a plain value.
type AdaptationProfile struct {
	Language      string   `json:"language"`
	Communication string   `json:"communication"`
	Accessibility []string `json:"accessibility,omitempty"`
}

// SubjectContext bundles everything fetched from the external profile
// service at workflow creation.
type SubjectContext struct {
	Profile        AdaptationProfile  `json:"profile"`
	Contacts       []EmergencyContact `json:"contacts"`
	SafetyPlanSeed SafetyPlan         `json:"safety_plan_seed"`
}

// DefaultSubjectContext returns the context used when the profile service has
// no record for a subject.
func DefaultSubjectContext() SubjectContext {
	return SubjectContext{
		Profile: AdaptationProfile{
			Language:      "en",
			Communication: "text",
		},
	}
}

// Normalized fills any zero-valued profile fields with defaults so downstream
// code never branches on missing configuration.
func (c SubjectContext) Normalized() SubjectContext {
	def := DefaultSubjectContext()
	if c.Profile.Language == "" {
		c.Profile.Language = def.Profile.Language
	}
	if c.Profile.Communication == "" {
		c.Profile.Communication = def.Profile.Communication
	}
	return c
}

// Outcome records how a workflow ended.
type Outcome struct {
	Kind             string        `json:"kind"`
	Description      string        `json:"description"`
	FollowUpRequired bool          `json:"follow_up_required"`
	FollowUpAfter    time.Duration `json:"follow_up_after,omitempty"`
	RecordedBy       string        `json:"recorded_by"`
	RecordedAt       time.Time     `json:"recorded_at"`
}

// QualityMetrics summarizes how well the protocol was executed. Computed by
// the outcome tracker at completion.
type QualityMetrics struct {
	TimeToFirstIntervention time.Duration `json:"time_to_first_intervention"`
	TotalDuration           time.Duration `json:"total_duration"`
	ProtocolAdherence       float64       `json:"protocol_adherence"`
	StepsCompleted          int           `json:"steps_completed"`
	StepsFailed             int           `json:"steps_failed"`
	Escalations             int           `json:"escalations"`
	CheckpointsFired        int           `json:"checkpoints_fired"`
}
