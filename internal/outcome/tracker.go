// Package outcome finalizes workflows: it records the outcome, computes
// quality metrics, schedules follow-up and hands the snapshot to archival.
package outcome

import (
	"context"
	"fmt"
	"time"

	"github.com/mindhaven/crisisflow/internal/crisis"
	"github.com/mindhaven/crisisflow/internal/logging"
)

// Archiver receives the final workflow snapshot.
type Archiver interface {
	Archive(ctx context.Context, wf *crisis.Workflow) error
}

// FollowUpScheduler schedules the post-resolution follow-up protocol.
type FollowUpScheduler interface {
	Schedule(ctx context.Context, wf *crisis.Workflow, after time.Duration) error
}

// QualityRecorder sinks quality measurements (Influx in production).
type QualityRecorder interface {
	RecordQuality(severity, crisisType string, timeToFirst, total time.Duration, adherence float64, escalations int, at time.Time)
}

// Tracker finalizes workflows. Complete must run inside the owning actor.
type Tracker struct {
	archiver  Archiver
	followUps FollowUpScheduler
	quality   QualityRecorder
	log       *logging.Logger
}

// NewTracker wires an outcome tracker.
func NewTracker(archiver Archiver, followUps FollowUpScheduler, quality QualityRecorder, log *logging.Logger) *Tracker {
	return &Tracker{archiver: archiver, followUps: followUps, quality: quality, log: log.Component("outcome")}
}

// Complete finalizes the workflow: outcome appended, status resolved (then
// monitoring when follow-up is required), metrics computed, snapshot
// archived. The caller removes the workflow from the active set afterwards.
func (t *Tracker) Complete(ctx context.Context, wf *crisis.Workflow, out crisis.Outcome, now time.Time) error {
	out.RecordedAt = now
	wf.Outcomes = append(wf.Outcomes, out)

	if err := wf.TransitionTo(crisis.StatusResolved, now); err != nil {
		return err
	}
	wf.Timeline.Append(now, crisis.EventWorkflowCompleted, out.RecordedBy, map[string]string{
		"outcome":            out.Kind,
		"follow_up_required": fmt.Sprintf("%t", out.FollowUpRequired),
	})

	m := ComputeMetrics(wf, now)
	wf.Metrics = &m
	if t.quality != nil {
		t.quality.RecordQuality(
			string(wf.Severity), string(wf.Assessment.Type),
			m.TimeToFirstIntervention, m.TotalDuration, m.ProtocolAdherence,
			m.Escalations, now,
		)
	}

	if out.FollowUpRequired {
		after := out.FollowUpAfter
		if after <= 0 {
			after = 48 * time.Hour
		}
		if err := t.followUps.Schedule(ctx, wf, after); err != nil {
			return fmt.Errorf("scheduling follow-up for %s: %w", wf.ID, err)
		}
		if err := wf.TransitionTo(crisis.StatusMonitoring, now); err != nil {
			return err
		}
		wf.Timeline.Append(now, crisis.EventFollowUpScheduled, "outcome-tracker", map[string]string{
			"after": after.String(),
		})
	}

	if err := t.archiver.Archive(ctx, wf); err != nil {
		return fmt.Errorf("archiving workflow %s: %w", wf.ID, err)
	}

	t.log.Info("workflow completed",
		"workflow_id", wf.ID.String(),
		"status", string(wf.Status),
		"adherence", m.ProtocolAdherence,
		"total_duration", m.TotalDuration.String())
	return nil
}

// ComputeMetrics derives quality metrics from the timeline and step records.
func ComputeMetrics(wf *crisis.Workflow, now time.Time) crisis.QualityMetrics {
	m := crisis.QualityMetrics{
		TotalDuration: now.Sub(wf.CreatedAt),
		Escalations:   wf.Escalations,
	}

	var firstDone *time.Time
	for _, s := range wf.Steps {
		switch s.Status {
		case crisis.StepCompleted:
			m.StepsCompleted++
			if s.CompletedAt != nil && (firstDone == nil || s.CompletedAt.Before(*firstDone)) {
				firstDone = s.CompletedAt
			}
		case crisis.StepFailed:
			m.StepsFailed++
		}
	}
	if firstDone != nil {
		m.TimeToFirstIntervention = firstDone.Sub(wf.CreatedAt)
	}

	executed := m.StepsCompleted + m.StepsFailed
	if executed > 0 {
		m.ProtocolAdherence = float64(m.StepsCompleted) / float64(executed)
	} else {
		m.ProtocolAdherence = 1
	}

	for _, c := range wf.Checkpoints {
		if c.FiredAt != nil {
			m.CheckpointsFired++
		}
	}
	return m
}
