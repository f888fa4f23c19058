// Package escalation decides if and when a workflow's severity must increase,
// and applies the full set of escalation effects: step injection, resource
// union, team reassignment, timeline recording and notification fan-out.
package escalation

import (
	"context"
	"time"

	"github.com/mindhaven/crisisflow/internal/crisis"
	"github.com/mindhaven/crisisflow/internal/logging"
	"github.com/mindhaven/crisisflow/internal/steps"
)

// Reason names why escalation was considered.
type Reason string

const (
	ReasonStepFailure        Reason = "step-failure"
	ReasonStepTimeout        Reason = "step-timeout"
	ReasonCheckpointFindings Reason = "checkpoint-findings"
	ReasonDeadlineMissed     Reason = "deadline-missed"
	ReasonManual             Reason = "manual"
)

// Notifier delivers fire-and-forget notifications to the external sink.
type Notifier interface {
	Notify(ctx context.Context, target, urgency, template string, payload map[string]string) error
}

// ResourcePicker supplies the resource set for a severity tier.
type ResourcePicker interface {
	Select(ctx context.Context, severity crisis.SeverityTier, crisisType crisis.CrisisType) ([]crisis.Resource, error)
}

// Recorder receives one observation per applied escalation. Implementations
// must not block; the measurement sink is optional.
type Recorder interface {
	RecordEscalation(from, to, reason string, at time.Time)
}

// Policy is the static escalation policy loaded at startup.
type Policy struct {
	// StepTimeouts caps how long an in-progress step of each type may run
	// before a timeout escalation fires.
	StepTimeouts map[crisis.StepType]time.Duration
	// Roster maps role -> on-call assignee.
	Roster map[string]string
}

// Result reports what an escalation attempt did.
type Result struct {
	From      crisis.SeverityTier
	To        crisis.SeverityTier
	Applied   bool
	AtCeiling bool
	Injected  []*crisis.InterventionStep
}

// Engine applies the escalation protocol. All mutating entry points must be
// called from inside the owning workflow actor; only the notification fan-out
// leaves the serialized section.
type Engine struct {
	policy   Policy
	picker   ResourcePicker
	notifier Notifier
	recorder Recorder
	log      *logging.Logger
}

// NewEngine wires an escalation engine. recorder may be nil when no
// measurement sink is configured.
func NewEngine(policy Policy, picker ResourcePicker, notifier Notifier, recorder Recorder, log *logging.Logger) *Engine {
	return &Engine{policy: policy, picker: picker, notifier: notifier, recorder: recorder, log: log.Component("escalation")}
}

// StepTimeout returns the configured in-progress ceiling for a step type,
// or zero when none is configured.
func (e *Engine) StepTimeout(t crisis.StepType) time.Duration {
	return e.policy.StepTimeouts[t]
}

// Pathways builds the pathway definitions a new workflow carries: one rung
// per adjacent tier pair from the starting severity up to emergency.
func (e *Engine) Pathways(from crisis.SeverityTier) []crisis.EscalationPathway {
	ladder := crisis.Ladder()
	out := make([]crisis.EscalationPathway, 0)
	for i := from.Rank(); i >= 0 && i < len(ladder)-1; i++ {
		out = append(out, e.pathway(ladder[i], ladder[i+1]))
	}
	return out
}

func (e *Engine) pathway(from, to crisis.SeverityTier) crisis.EscalationPathway {
	p := crisis.EscalationPathway{
		From:          from,
		To:            to,
		StepTimeouts:  e.policy.StepTimeouts,
		FailurePoints: []crisis.StepType{crisis.StepImmediateSafety, crisis.StepStabilization},
		NotifyTargets: []string{crisis.RoleSupervisor},
	}
	switch {
	case to == crisis.SeverityEmergency:
		p.InjectSteps = []crisis.StepType{crisis.StepImmediateSafety, crisis.StepStabilization}
		p.NotifyTargets = append(p.NotifyTargets, crisis.RoleEmergencyLiaison)
	case to.AtLeast(crisis.SeveritySevere):
		p.InjectSteps = []crisis.StepType{crisis.StepStabilization}
	default:
		p.InjectSteps = []crisis.StepType{crisis.StepRiskAssessment}
	}
	return p
}

// AssignTeam recomputes the team assignment map for a severity tier from the
// on-call roster. More urgent tiers add roles; nothing is removed below.
func (e *Engine) AssignTeam(severity crisis.SeverityTier) map[string]string {
	team := map[string]string{crisis.RoleCounselor: e.assignee(crisis.RoleCounselor)}
	if severity.AtLeast(crisis.SeverityCritical) {
		team[crisis.RoleSupervisor] = e.assignee(crisis.RoleSupervisor)
	}
	if severity == crisis.SeverityEmergency {
		team[crisis.RolePsychiatrist] = e.assignee(crisis.RolePsychiatrist)
		team[crisis.RoleEmergencyLiaison] = e.assignee(crisis.RoleEmergencyLiaison)
	}
	return team
}

func (e *Engine) assignee(role string) string {
	if who, ok := e.policy.Roster[role]; ok {
		return who
	}
	return role
}

// Consider evaluates an escalation trigger against the workflow and applies
// the transition when one is due. Severity moves exactly one tier up the
// ladder unless an explicit target is supplied by an authorized caller.
// Attempting to escalate from emergency is a logged no-op, never an error.
func (e *Engine) Consider(ctx context.Context, wf *crisis.Workflow, reason Reason, explicitTarget *crisis.SeverityTier, now time.Time) (Result, error) {
	res := Result{From: wf.Severity}

	if wf.Severity == crisis.SeverityEmergency {
		res.To = crisis.SeverityEmergency
		res.AtCeiling = true
		wf.Timeline.Append(now, crisis.EventEscalationCeiling, "escalation-engine", map[string]string{
			"reason": string(reason),
		})
		e.log.Info("escalation at ceiling, no-op",
			"workflow_id", wf.ID.String(), "reason", string(reason))
		return res, nil
	}

	target := wf.Severity.Next()
	if explicitTarget != nil {
		target = *explicitTarget
	}
	if target.Rank() > crisis.SeverityEmergency.Rank() || target.Rank() < 0 {
		target = crisis.SeverityEmergency
	}
	if !target.AtLeast(wf.Severity.Next()) {
		// Severity only increases; a sideways or downward target is ignored.
		res.To = wf.Severity
		return res, nil
	}
	res.To = target

	pathway := e.pathway(wf.Severity, target)

	injected := steps.Inject(wf, pathway.InjectSteps, e.assignee(crisis.RoleSupervisor), now)
	for _, s := range injected {
		wf.Timeline.Append(now, crisis.EventStepInjected, "escalation-engine", map[string]string{
			"step_id":  s.ID.String(),
			"type":     string(s.Type),
			"priority": s.Priority.String(),
		})
	}
	res.Injected = injected

	// Resources only grow on escalation.
	picked, err := e.picker.Select(ctx, target, wf.Assessment.Type)
	if err != nil {
		return res, err
	}
	wf.AddResources(picked)

	wf.Team = e.AssignTeam(target)

	from := wf.Severity
	wf.Severity = target
	wf.Escalations++
	wf.UpdatedAt = now
	if crisis.CanTransition(wf.Status, crisis.StatusEscalated) {
		wf.Status = crisis.StatusEscalated
	}

	wf.Timeline.Append(now, crisis.EventWorkflowEscalated, "escalation-engine", map[string]string{
		"from":   string(from),
		"to":     string(target),
		"reason": string(reason),
	})

	e.log.Warn("workflow escalated",
		"workflow_id", wf.ID.String(),
		"from", string(from), "to", string(target), "reason", string(reason))

	e.notifyTargets(wf, pathway, from, target, reason)

	if e.recorder != nil {
		e.recorder.RecordEscalation(string(from), string(target), string(reason), now)
	}

	res.Applied = true
	return res, nil
}

// notifyTargets fans out escalation notifications without holding up the
// state transition. Delivery failures are the sink's problem.
func (e *Engine) notifyTargets(wf *crisis.Workflow, pathway crisis.EscalationPathway, from, to crisis.SeverityTier, reason Reason) {
	targets := make([]string, 0, len(pathway.NotifyTargets))
	for _, role := range pathway.NotifyTargets {
		if who, ok := wf.Team[role]; ok {
			targets = append(targets, who)
		} else {
			targets = append(targets, e.assignee(role))
		}
	}
	payload := map[string]string{
		"workflow_id": wf.ID.String(),
		"subject_id":  wf.SubjectID,
		"from":        string(from),
		"to":          string(to),
		"reason":      string(reason),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, target := range targets {
			if err := e.notifier.Notify(ctx, target, "critical", "escalation-alert", payload); err != nil {
				e.log.Error("escalation notification failed", "target", target, "error", err)
			}
		}
	}()
}
