// Package steps builds and orders the intervention steps for a workflow: the
// severity-tiered generation plan, the per-type action handlers and the
// priority queue that decides which pending step runs next.
package steps

import (
	"time"

	"github.com/google/uuid"

	"github.com/mindhaven/crisisflow/internal/crisis"
)

// Generate builds the ordered, dependency-linked step plan for a severity
// tier and crisis type. Each step's prerequisite references the real id of
// its predecessor, so the ordering invariant holds against the actual plan.
func Generate(severity crisis.SeverityTier, crisisType crisis.CrisisType, now time.Time) []*crisis.InterventionStep {
	supervised := severity.AtLeast(crisis.SeverityCritical)

	role := crisis.RoleCounselor
	if supervised {
		role = crisis.RoleSupervisor
	}

	basePriority := crisis.PriorityRoutine
	switch {
	case severity == crisis.SeverityEmergency:
		basePriority = crisis.PriorityUrgent
	case supervised:
		basePriority = crisis.PriorityElevated
	}

	plan := []crisis.StepType{crisis.StepImmediateSafety, crisis.StepRiskAssessment}
	if supervised {
		plan = append(plan, crisis.StepStabilization)
	}
	plan = append(plan, crisis.StepResourceConnection, crisis.StepSafetyPlanning, crisis.StepFollowUp)

	out := make([]*crisis.InterventionStep, 0, len(plan))
	var prev *crisis.InterventionStep
	for i, st := range plan {
		step := &crisis.InterventionStep{
			ID:                uuid.New(),
			Ordinal:           i,
			Type:              st,
			Status:            crisis.StepPending,
			Priority:          basePriority,
			Role:              role,
			SupervisoryReview: supervised,
		}
		// Immediate safety always leads at the highest planned priority.
		if st == crisis.StepImmediateSafety {
			step.Priority = maxPriority(basePriority, crisis.PriorityUrgent)
		}
		if prev != nil {
			step.Prerequisites = []uuid.UUID{prev.ID}
		}
		out = append(out, step)
		prev = step
	}
	return out
}

// Inject builds escalation steps of the given types at lifeline priority and
// splices them ahead of the remaining pending work. The first injected step
// has no prerequisites so it is immediately runnable; subsequent injected
// steps chain onto each other.
func Inject(wf *crisis.Workflow, types []crisis.StepType, role string, now time.Time) []*crisis.InterventionStep {
	injected := make([]*crisis.InterventionStep, 0, len(types))
	var prev *crisis.InterventionStep
	nextOrdinal := len(wf.Steps)
	ts := now
	for _, st := range types {
		step := &crisis.InterventionStep{
			ID:                uuid.New(),
			Ordinal:           nextOrdinal,
			Type:              st,
			Status:            crisis.StepPending,
			Priority:          crisis.PriorityLifeline,
			Role:              role,
			SupervisoryReview: true,
			InjectedAt:        &ts,
		}
		if prev != nil {
			step.Prerequisites = []uuid.UUID{prev.ID}
		}
		injected = append(injected, step)
		prev = step
		nextOrdinal++
	}
	wf.Steps = append(wf.Steps, injected...)
	return injected
}

func maxPriority(a, b crisis.StepPriority) crisis.StepPriority {
	if a > b {
		return a
	}
	return b
}
