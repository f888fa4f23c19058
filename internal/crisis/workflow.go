package crisis

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StepType names one unit of response work.
type StepType string

const (
	StepImmediateSafety    StepType = "immediate-safety"
	StepRiskAssessment     StepType = "risk-assessment"
	StepStabilization      StepType = "stabilization"
	StepResourceConnection StepType = "resource-connection"
	StepSafetyPlanning     StepType = "safety-planning"
	StepFollowUp           StepType = "follow-up"
	StepClosure            StepType = "closure"
)

// StepStatus is the lifecycle state of an intervention step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in-progress"
	StepCompleted  StepStatus = "completed"
	StepSkipped    StepStatus = "skipped"
	StepFailed     StepStatus = "failed"
)

// StepPriority orders runnable steps. Escalation-injected steps carry
// PriorityLifeline so they run ahead of all previously planned work.
type StepPriority int

const (
	PriorityRoutine StepPriority = iota
	PriorityElevated
	PriorityUrgent
	PriorityLifeline
)

func (p StepPriority) String() string {
	switch p {
	case PriorityRoutine:
		return "routine"
	case PriorityElevated:
		return "elevated"
	case PriorityUrgent:
		return "urgent"
	case PriorityLifeline:
		return "lifeline"
	default:
		return "unknown"
	}
}

// Roles assigned to intervention steps.
const (
	RoleCounselor        = "response-counselor"
	RoleSupervisor       = "response-supervisor"
	RolePsychiatrist     = "crisis-psychiatrist"
	RoleEmergencyLiaison = "emergency-liaison"
)

// InterventionStep is one unit of response work with dependencies and a
// lifecycle. Prerequisites reference real predecessor step ids; a step may
// enter in-progress only when every prerequisite is completed.
type InterventionStep struct {
	ID                uuid.UUID    `json:"id"`
	Ordinal           int          `json:"ordinal"`
	Type              StepType     `json:"type"`
	Status            StepStatus   `json:"status"`
	Priority          StepPriority `json:"priority"`
	Prerequisites     []uuid.UUID  `json:"prerequisites,omitempty"`
	Role              string       `json:"role"`
	Assignee          string       `json:"assignee,omitempty"`
	StartedAt         *time.Time   `json:"started_at,omitempty"`
	CompletedAt       *time.Time   `json:"completed_at,omitempty"`
	Actions           []string     `json:"actions,omitempty"`
	Outcomes          []string     `json:"outcomes,omitempty"`
	Note              string       `json:"note,omitempty"`
	SupervisoryReview bool         `json:"supervisory_review"`
	InjectedAt        *time.Time   `json:"injected_at,omitempty"`
	// TimeoutEscalated records that a timeout escalation already fired for
	// this step, so repeated deadline scans don't escalate it again.
	TimeoutEscalated bool `json:"timeout_escalated,omitempty"`
}

// Terminal reports whether the step can no longer change state.
func (s *InterventionStep) Terminal() bool {
	return s.Status == StepCompleted || s.Status == StepSkipped || s.Status == StepFailed
}

// CheckpointType names a scheduled structured review.
type CheckpointType string

const (
	CheckpointSafetyCheck       CheckpointType = "safety-check"
	CheckpointProgressReview    CheckpointType = "progress-review"
	CheckpointRiskReassessment  CheckpointType = "risk-reassessment"
	CheckpointOutcomeEvaluation CheckpointType = "outcome-evaluation"
)

// RiskTrend is the direction of risk reported by a checkpoint.
type RiskTrend string

const (
	TrendDecreased     RiskTrend = "decreased"
	TrendStable        RiskTrend = "stable"
	TrendIncreased     RiskTrend = "increased"
	TrendSignificantly RiskTrend = "significantly-increased"
)

// SafetyStatus is the subject's safety as judged at a checkpoint.
type SafetyStatus string

const (
	SafetySafe     SafetyStatus = "safe"
	SafetyAtRisk   SafetyStatus = "at-risk"
	SafetyHighRisk SafetyStatus = "high-risk"
	SafetyImminent SafetyStatus = "imminent-danger"
)

// Findings is what the assigned role records when a checkpoint fires.
type Findings struct {
	Trend      RiskTrend    `json:"trend"`
	Safety     SafetyStatus `json:"safety"`
	Notes      string       `json:"notes,omitempty"`
	RecordedBy string       `json:"recorded_by"`
}

// RequiresEscalation applies the escalation trigger rule for checkpoint
// findings: a worsening trend together with a dangerous safety status.
func (f Findings) RequiresEscalation() bool {
	worsening := f.Trend == TrendIncreased || f.Trend == TrendSignificantly
	dangerous := f.Safety == SafetyHighRisk || f.Safety == SafetyImminent
	return worsening && dangerous
}

// Checkpoint is a scheduled safety or progress review during an active
// workflow. Recurring checkpoints reschedule themselves on completion.
type Checkpoint struct {
	ID          uuid.UUID      `json:"id"`
	Type        CheckpointType `json:"type"`
	ScheduledAt time.Time      `json:"scheduled_at"`
	// RequestedAt is set when the scheduler has asked the assigned role to
	// record findings, so a due checkpoint is requested exactly once.
	RequestedAt *time.Time    `json:"requested_at,omitempty"`
	FiredAt     *time.Time    `json:"fired_at,omitempty"`
	Findings    *Findings     `json:"findings,omitempty"`
	Escalated   bool          `json:"escalated"`
	Recurring   bool          `json:"recurring"`
	Interval    time.Duration `json:"interval,omitempty"`
}

// EscalationPathway is the rule set governing the transition from one
// severity tier to a more urgent one.
type EscalationPathway struct {
	From          SeverityTier               `json:"from"`
	To            SeverityTier               `json:"to"`
	StepTimeouts  map[StepType]time.Duration `json:"step_timeouts,omitempty"`
	Indicators    []string                   `json:"indicators,omitempty"`
	FailurePoints []StepType                 `json:"failure_points,omitempty"`
	InjectSteps   []StepType                 `json:"inject_steps,omitempty"`
	NotifyTargets []string                   `json:"notify_targets,omitempty"`
}

// WorkflowStatus is the workflow's position in its finite state machine.
type WorkflowStatus string

const (
	StatusInitiated  WorkflowStatus = "initiated"
	StatusActive     WorkflowStatus = "active"
	StatusEscalated  WorkflowStatus = "escalated"
	StatusStabilized WorkflowStatus = "stabilized"
	StatusResolved   WorkflowStatus = "resolved"
	StatusMonitoring WorkflowStatus = "monitoring"
	StatusClosed     WorkflowStatus = "closed"
)

// workflowTransitions is the only set of legal status moves.
var workflowTransitions = map[WorkflowStatus][]WorkflowStatus{
	StatusInitiated:  {StatusActive, StatusEscalated},
	StatusActive:     {StatusEscalated, StatusStabilized, StatusResolved},
	StatusEscalated:  {StatusActive, StatusStabilized, StatusResolved},
	StatusStabilized: {StatusResolved, StatusEscalated, StatusActive},
	StatusResolved:   {StatusMonitoring},
	StatusMonitoring: {StatusClosed},
	StatusClosed:     {},
}

// CanTransition reports whether moving from -> to is legal.
func CanTransition(from, to WorkflowStatus) bool {
	for _, s := range workflowTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TerminalStatus reports whether a workflow in this status is finished.
func TerminalStatus(s WorkflowStatus) bool {
	return s == StatusResolved || s == StatusMonitoring || s == StatusClosed
}

// Workflow is the aggregate root for one crisis intervention. It is owned by
// exactly one orchestrator actor; no other component mutates it directly.
type Workflow struct {
	ID          uuid.UUID           `json:"id"`
	SubjectID   string              `json:"subject_id"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	Status      WorkflowStatus      `json:"status"`
	Severity    SeverityTier        `json:"severity"`
	Assessment  RiskAssessment      `json:"assessment"`
	Steps       []*InterventionStep `json:"steps"`
	Resources   []Resource          `json:"resources"`
	Pathways    []EscalationPathway `json:"pathways"`
	Timeline    Timeline            `json:"timeline"`
	Checkpoints []*Checkpoint       `json:"checkpoints"`
	Team        map[string]string   `json:"team"`
	Context     SubjectContext      `json:"context"`
	SafetyPlan  SafetyPlan          `json:"safety_plan"`
	Outcomes    []Outcome           `json:"outcomes,omitempty"`
	Metrics     *QualityMetrics     `json:"metrics,omitempty"`
	Escalations int                 `json:"escalations"`
}

// TransitionTo moves the workflow status through the state machine, failing
// on any move the machine does not allow.
func (w *Workflow) TransitionTo(s WorkflowStatus, now time.Time) error {
	if w.Status == s {
		return nil
	}
	if !CanTransition(w.Status, s) {
		return fmt.Errorf("illegal workflow transition %s -> %s", w.Status, s)
	}
	w.Status = s
	w.UpdatedAt = now
	return nil
}

// Step looks up a step by id.
func (w *Workflow) Step(id uuid.UUID) (*InterventionStep, bool) {
	for _, s := range w.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// ActiveStep returns the single in-progress step, if any.
func (w *Workflow) ActiveStep() *InterventionStep {
	for _, s := range w.Steps {
		if s.Status == StepInProgress {
			return s
		}
	}
	return nil
}

// PrerequisitesMet reports whether every prerequisite of the step is
// completed.
func (w *Workflow) PrerequisitesMet(step *InterventionStep) bool {
	for _, pre := range step.Prerequisites {
		dep, ok := w.Step(pre)
		if !ok || dep.Status != StepCompleted {
			return false
		}
	}
	return true
}

// OpenWork reports whether any step still has work pending or running.
func (w *Workflow) OpenWork() bool {
	for _, s := range w.Steps {
		if !s.Terminal() {
			return true
		}
	}
	return false
}

// HasResource reports whether the resource id is already attached.
func (w *Workflow) HasResource(id string) bool {
	for _, r := range w.Resources {
		if r.ID == id {
			return true
		}
	}
	return false
}

// AddResources unions new resources into the workflow. The resource set only
// grows; escalation never removes entries.
func (w *Workflow) AddResources(rs []Resource) int {
	added := 0
	for _, r := range rs {
		if !w.HasResource(r.ID) {
			w.Resources = append(w.Resources, r)
			added++
		}
	}
	return added
}

// Checkpoint looks up a checkpoint by id.
func (w *Workflow) Checkpoint(id uuid.UUID) (*Checkpoint, bool) {
	for _, c := range w.Checkpoints {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// Clone returns a deep copy. Actors mutate a clone and commit it only after
// the durable store accepted the write, so a persistence failure leaves the
// in-memory workflow untouched.
func (w *Workflow) Clone() *Workflow {
	c := *w
	c.Steps = make([]*InterventionStep, len(w.Steps))
	for i, s := range w.Steps {
		sc := *s
		sc.Prerequisites = append([]uuid.UUID(nil), s.Prerequisites...)
		sc.Actions = append([]string(nil), s.Actions...)
		sc.Outcomes = append([]string(nil), s.Outcomes...)
		if s.StartedAt != nil {
			t := *s.StartedAt
			sc.StartedAt = &t
		}
		if s.CompletedAt != nil {
			t := *s.CompletedAt
			sc.CompletedAt = &t
		}
		if s.InjectedAt != nil {
			t := *s.InjectedAt
			sc.InjectedAt = &t
		}
		c.Steps[i] = &sc
	}
	c.Resources = append([]Resource(nil), w.Resources...)
	c.Pathways = append([]EscalationPathway(nil), w.Pathways...)
	c.Timeline = w.Timeline.clone()
	c.Checkpoints = make([]*Checkpoint, len(w.Checkpoints))
	for i, cp := range w.Checkpoints {
		cc := *cp
		if cp.RequestedAt != nil {
			t := *cp.RequestedAt
			cc.RequestedAt = &t
		}
		if cp.FiredAt != nil {
			t := *cp.FiredAt
			cc.FiredAt = &t
		}
		if cp.Findings != nil {
			f := *cp.Findings
			cc.Findings = &f
		}
		c.Checkpoints[i] = &cc
	}
	c.Team = make(map[string]string, len(w.Team))
	for k, v := range w.Team {
		c.Team[k] = v
	}
	c.Outcomes = append([]Outcome(nil), w.Outcomes...)
	if w.Metrics != nil {
		m := *w.Metrics
		c.Metrics = &m
	}
	c.Context.Contacts = append([]EmergencyContact(nil), w.Context.Contacts...)
	c.SafetyPlan.WarningSigns = append([]string(nil), w.SafetyPlan.WarningSigns...)
	c.SafetyPlan.CopingStrategies = append([]string(nil), w.SafetyPlan.CopingStrategies...)
	c.SafetyPlan.Contacts = append([]EmergencyContact(nil), w.SafetyPlan.Contacts...)
	return &c
}
