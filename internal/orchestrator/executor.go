package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mindhaven/crisisflow/internal/crisis"
	"github.com/mindhaven/crisisflow/internal/escalation"
	"github.com/mindhaven/crisisflow/internal/steps"
)

// ExecuteStep runs one intervention step in three phases. Phase one marks the
// step in-progress inside the actor; phase two runs the step handler's I/O
// outside the actor so slow external calls never hold the workflow's
// serialization; phase three records the result. A handler failure is captured
// on the step and routed through the escalation protocol rather than raised to
// the caller.
func (o *Orchestrator) ExecuteStep(ctx context.Context, workflowID, stepID uuid.UUID) error {
	a, ok := o.actor(workflowID)
	if !ok {
		return ErrNotFound
	}

	var env steps.Env
	err := a.send(ctx, "step.start", false, func(wf *crisis.Workflow) error {
		step, ok := wf.Step(stepID)
		if !ok {
			return ErrStepNotFound
		}
		if step.Status != crisis.StepPending {
			return fmt.Errorf("%w: step %s is %s", ErrStepNotRunnable, stepID, step.Status)
		}
		if missing := missingPrereqs(wf, step); len(missing) > 0 {
			return &PrerequisiteNotMetError{StepID: stepID, Missing: missing}
		}
		if active := wf.ActiveStep(); active != nil {
			return fmt.Errorf("%w: step %s is already in progress", ErrStepNotRunnable, active.ID)
		}

		now := o.clk.Now()
		switch wf.Status {
		case crisis.StatusInitiated, crisis.StatusEscalated, crisis.StatusStabilized:
			if err := wf.TransitionTo(crisis.StatusActive, now); err != nil {
				return err
			}
		case crisis.StatusActive:
		default:
			return fmt.Errorf("%w: workflow is %s", ErrStepNotRunnable, wf.Status)
		}

		step.Status = crisis.StepInProgress
		step.StartedAt = &now
		if who, ok := wf.Team[step.Role]; ok {
			step.Assignee = who
		} else {
			step.Assignee = step.Role
		}
		wf.Timeline.Append(now, crisis.EventStepStarted, step.Role, map[string]string{
			"step_id": step.ID.String(),
			"type":    string(step.Type),
		})

		snap := wf.Clone()
		snapStep, _ := snap.Step(stepID)
		env = steps.Env{Workflow: snap, Step: snapStep, Notifier: o.notifier, Now: now}
		return nil
	})
	if err != nil {
		return err
	}

	handler, err := steps.ForType(env.Step.Type)
	if err != nil {
		// Unknown type slipped past generation; fail the step below.
		handler = nil
	}
	var res steps.Result
	var runErr error
	if handler != nil {
		res, runErr = handler.Run(ctx, env)
	} else {
		runErr = err
	}

	return a.send(ctx, "step.finish", false, func(wf *crisis.Workflow) error {
		step, ok := wf.Step(stepID)
		if !ok {
			return ErrStepNotFound
		}
		if step.Status != crisis.StepInProgress {
			// A timeout escalation or manual intervention beat us here.
			return nil
		}

		now := o.clk.Now()
		step.Actions = append(step.Actions, res.Actions...)
		step.Outcomes = append(step.Outcomes, res.Outcomes...)

		if runErr != nil {
			step.Status = crisis.StepFailed
			step.Note = runErr.Error()
			wf.Timeline.Append(now, crisis.EventStepFailed, step.Assignee, map[string]string{
				"step_id": step.ID.String(),
				"type":    string(step.Type),
				"error":   runErr.Error(),
			})
			_, err := o.engine.Consider(ctx, wf, escalation.ReasonStepFailure, nil, now)
			return err
		}

		step.Status = crisis.StepCompleted
		step.CompletedAt = &now
		if res.PlanUpdate != nil {
			wf.SafetyPlan = *res.PlanUpdate
		}
		wf.Timeline.Append(now, crisis.EventStepCompleted, step.Assignee, map[string]string{
			"step_id": step.ID.String(),
			"type":    string(step.Type),
		})
		if step.Type == crisis.StepImmediateSafety {
			if wf.Timeline.AchieveMilestone("first-contact", now) {
				wf.Timeline.Append(now, crisis.EventMilestoneAchieved, step.Assignee, map[string]string{
					"milestone": "first-contact",
				})
				markDeadlineMet(wf, "first-contact")
			}
		}

		if next := steps.NextRunnable(wf); next != nil {
			wf.Timeline.Append(now, crisis.EventStepReady, "orchestrator", map[string]string{
				"step_id": next.ID.String(),
				"type":    string(next.Type),
			})
			return nil
		}
		if !wf.OpenWork() {
			if err := wf.TransitionTo(crisis.StatusStabilized, now); err != nil {
				return err
			}
			wf.Timeline.AchieveMilestone("stabilized", now)
			wf.Timeline.Append(now, crisis.EventWorkflowStabilized, "orchestrator", nil)
		}
		return nil
	})
}

// SkipStep marks a pending step skipped with a recorded justification. Skipped
// steps satisfy nothing: a dependent step still needs its prerequisites
// completed, so skipping mid-chain is rejected.
func (o *Orchestrator) SkipStep(ctx context.Context, workflowID, stepID uuid.UUID, by, reason string) error {
	a, ok := o.actor(workflowID)
	if !ok {
		return ErrNotFound
	}
	return a.send(ctx, "step.skip", false, func(wf *crisis.Workflow) error {
		step, ok := wf.Step(stepID)
		if !ok {
			return ErrStepNotFound
		}
		if step.Status != crisis.StepPending {
			return fmt.Errorf("%w: step %s is %s", ErrStepNotRunnable, stepID, step.Status)
		}
		for _, other := range wf.Steps {
			if other.Terminal() || other.ID == stepID {
				continue
			}
			for _, pre := range other.Prerequisites {
				if pre == stepID {
					return fmt.Errorf("%w: step %s is a prerequisite of %s", ErrStepNotRunnable, stepID, other.ID)
				}
			}
		}

		now := o.clk.Now()
		step.Status = crisis.StepSkipped
		step.Note = reason
		step.CompletedAt = &now
		wf.Timeline.Append(now, crisis.EventStepSkipped, by, map[string]string{
			"step_id": step.ID.String(),
			"type":    string(step.Type),
			"reason":  reason,
		})
		return nil
	})
}

func missingPrereqs(wf *crisis.Workflow, step *crisis.InterventionStep) []uuid.UUID {
	var missing []uuid.UUID
	for _, pre := range step.Prerequisites {
		dep, ok := wf.Step(pre)
		if !ok || dep.Status != crisis.StepCompleted {
			missing = append(missing, pre)
		}
	}
	return missing
}

func markDeadlineMet(wf *crisis.Workflow, name string) {
	for _, d := range wf.Timeline.Deadlines {
		if d.Name == name && d.Status == crisis.MilestoneUpcoming {
			d.Status = crisis.MilestoneAchieved
		}
	}
}
