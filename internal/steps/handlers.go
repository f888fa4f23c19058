package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/mindhaven/crisisflow/internal/crisis"
)

// Notifier delivers fire-and-forget notifications to the external sink.
type Notifier interface {
	Notify(ctx context.Context, target, urgency, template string, payload map[string]string) error
}

// Env is what a handler gets to work with. The workflow is a snapshot clone;
// handlers run outside the per-workflow actor and must not assume their view
// stays current while they perform slow I/O.
type Env struct {
	Workflow *crisis.Workflow
	Step     *crisis.InterventionStep
	Notifier Notifier
	Now      time.Time
}

// Result is what a handler reports back for the actor to record.
type Result struct {
	Actions    []string
	Outcomes   []string
	PlanUpdate *crisis.SafetyPlan
}

// Handler performs the side-effecting action for one step type.
type Handler interface {
	Type() crisis.StepType
	Run(ctx context.Context, env Env) (Result, error)
}

// ForType returns the handler for a step type. The switch is exhaustive over
// the closed step-type set; an unknown type is a programming error surfaced
// loudly.
func ForType(t crisis.StepType) (Handler, error) {
	switch t {
	case crisis.StepImmediateSafety:
		return immediateSafetyHandler{}, nil
	case crisis.StepRiskAssessment:
		return riskAssessmentHandler{}, nil
	case crisis.StepStabilization:
		return stabilizationHandler{}, nil
	case crisis.StepResourceConnection:
		return resourceConnectionHandler{}, nil
	case crisis.StepSafetyPlanning:
		return safetyPlanningHandler{}, nil
	case crisis.StepFollowUp:
		return followUpHandler{}, nil
	case crisis.StepClosure:
		return closureHandler{}, nil
	default:
		return nil, fmt.Errorf("no handler for step type %q", t)
	}
}

type immediateSafetyHandler struct{}

func (immediateSafetyHandler) Type() crisis.StepType { return crisis.StepImmediateSafety }

func (immediateSafetyHandler) Run(ctx context.Context, env Env) (Result, error) {
	res := Result{Actions: []string{"confirmed subject location and immediate surroundings"}}

	// Highest-priority emergency contact is alerted first.
	var best *crisis.EmergencyContact
	for i := range env.Workflow.Context.Contacts {
		c := &env.Workflow.Context.Contacts[i]
		if best == nil || c.Priority < best.Priority {
			best = c
		}
	}
	if best != nil {
		err := env.Notifier.Notify(ctx, best.Phone, urgencyFor(env.Workflow.Severity), "emergency-contact-alert", map[string]string{
			"subject_id": env.Workflow.SubjectID,
			"contact":    best.Name,
			"severity":   string(env.Workflow.Severity),
		})
		if err != nil {
			return res, fmt.Errorf("alerting emergency contact: %w", err)
		}
		res.Actions = append(res.Actions, "alerted emergency contact "+best.Name)
	}

	res.Outcomes = append(res.Outcomes, "immediate environment assessed")
	return res, nil
}

type riskAssessmentHandler struct{}

func (riskAssessmentHandler) Type() crisis.StepType { return crisis.StepRiskAssessment }

func (riskAssessmentHandler) Run(ctx context.Context, env Env) (Result, error) {
	tier := crisis.Classify(env.Workflow.Assessment)
	return Result{
		Actions:  []string{"re-ran severity classification against intake assessment"},
		Outcomes: []string{fmt.Sprintf("classification confirms tier %s", tier)},
	}, nil
}

type stabilizationHandler struct{}

func (stabilizationHandler) Type() crisis.StepType { return crisis.StepStabilization }

func (stabilizationHandler) Run(ctx context.Context, env Env) (Result, error) {
	err := env.Notifier.Notify(ctx, env.Workflow.Team[crisis.RoleSupervisor], "critical", "stabilization-protocol", map[string]string{
		"workflow_id": env.Workflow.ID.String(),
		"crisis_type": string(env.Workflow.Assessment.Type),
	})
	if err != nil {
		return Result{}, fmt.Errorf("engaging stabilization protocol: %w", err)
	}
	return Result{
		Actions:  []string{"engaged stabilization protocol with supervising clinician"},
		Outcomes: []string{"subject engaged in grounding exercise"},
	}, nil
}

type resourceConnectionHandler struct{}

func (resourceConnectionHandler) Type() crisis.StepType { return crisis.StepResourceConnection }

func (resourceConnectionHandler) Run(ctx context.Context, env Env) (Result, error) {
	var res Result
	connected := 0
	for _, r := range env.Workflow.Resources {
		if !r.Available {
			continue
		}
		err := env.Notifier.Notify(ctx, r.ID, urgencyFor(env.Workflow.Severity), "resource-referral", map[string]string{
			"workflow_id": env.Workflow.ID.String(),
			"resource":    r.Name,
		})
		if err != nil {
			return res, fmt.Errorf("referring to resource %s: %w", r.ID, err)
		}
		connected++
	}
	res.Actions = append(res.Actions, fmt.Sprintf("sent referrals to %d resources", connected))
	if connected == 0 {
		res.Outcomes = append(res.Outcomes, "no available resources at referral time")
	} else {
		res.Outcomes = append(res.Outcomes, "subject connected with support resources")
	}
	return res, nil
}

type safetyPlanningHandler struct{}

func (safetyPlanningHandler) Type() crisis.StepType { return crisis.StepSafetyPlanning }

func (safetyPlanningHandler) Run(ctx context.Context, env Env) (Result, error) {
	plan := env.Workflow.Context.SafetyPlanSeed
	if len(plan.WarningSigns) == 0 {
		plan.WarningSigns = []string{"escalating distress", "withdrawal from contacts"}
	}
	if len(plan.CopingStrategies) == 0 {
		plan.CopingStrategies = []string{"grounding exercise", "call primary contact"}
	}
	plan.Contacts = env.Workflow.Context.Contacts
	plan.UpdatedAt = env.Now

	return Result{
		Actions:    []string{"reviewed and refreshed safety plan with subject"},
		Outcomes:   []string{"safety plan on record"},
		PlanUpdate: &plan,
	}, nil
}

type followUpHandler struct{}

func (followUpHandler) Type() crisis.StepType { return crisis.StepFollowUp }

func (followUpHandler) Run(ctx context.Context, env Env) (Result, error) {
	err := env.Notifier.Notify(ctx, env.Workflow.SubjectID, "routine", "follow-up-checkin", map[string]string{
		"workflow_id": env.Workflow.ID.String(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("scheduling follow-up check-in: %w", err)
	}
	return Result{
		Actions:  []string{"arranged follow-up check-in with subject"},
		Outcomes: []string{"follow-up contact confirmed"},
	}, nil
}

type closureHandler struct{}

func (closureHandler) Type() crisis.StepType { return crisis.StepClosure }

func (closureHandler) Run(ctx context.Context, env Env) (Result, error) {
	return Result{
		Actions:  []string{"documented closing summary"},
		Outcomes: []string{"intervention record complete"},
	}, nil
}

func urgencyFor(t crisis.SeverityTier) string {
	switch {
	case t == crisis.SeverityEmergency:
		return "emergency"
	case t.AtLeast(crisis.SeverityCritical):
		return "critical"
	case t.AtLeast(crisis.SeverityModerate):
		return "elevated"
	default:
		return "routine"
	}
}
