package outcome

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindhaven/crisisflow/internal/crisis"
	"github.com/mindhaven/crisisflow/internal/logging"
)

type fakeArchiver struct {
	mu       sync.Mutex
	archived []*crisis.Workflow
	err      error
}

func (a *fakeArchiver) Archive(ctx context.Context, wf *crisis.Workflow) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.archived = append(a.archived, wf.Clone())
	return nil
}

type fakeScheduler struct {
	mu    sync.Mutex
	after []time.Duration
	err   error
}

func (s *fakeScheduler) Schedule(ctx context.Context, wf *crisis.Workflow, after time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.after = append(s.after, after)
	return nil
}

type fakeQuality struct {
	mu        sync.Mutex
	adherence []float64
}

func (q *fakeQuality) RecordQuality(severity, crisisType string, timeToFirst, total time.Duration, adherence float64, escalations int, at time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.adherence = append(q.adherence, adherence)
}

func activeWorkflow(created time.Time) *crisis.Workflow {
	wf := &crisis.Workflow{
		ID:         uuid.New(),
		SubjectID:  "subject-3",
		CreatedAt:  created,
		Status:     crisis.StatusActive,
		Severity:   crisis.SeverityModerate,
		Assessment: crisis.RiskAssessment{Score: 0.4, Type: crisis.TypePanic},
	}
	firstDone := created.Add(8 * time.Minute)
	laterDone := created.Add(40 * time.Minute)
	wf.Steps = []*crisis.InterventionStep{
		{ID: uuid.New(), Type: crisis.StepImmediateSafety, Status: crisis.StepCompleted, CompletedAt: &laterDone},
		{ID: uuid.New(), Type: crisis.StepRiskAssessment, Status: crisis.StepCompleted, CompletedAt: &firstDone},
		{ID: uuid.New(), Type: crisis.StepResourceConnection, Status: crisis.StepFailed},
		{ID: uuid.New(), Type: crisis.StepFollowUp, Status: crisis.StepSkipped},
	}
	fired := created.Add(15 * time.Minute)
	wf.Checkpoints = []*crisis.Checkpoint{
		{ID: uuid.New(), Type: crisis.CheckpointSafetyCheck, FiredAt: &fired},
		{ID: uuid.New(), Type: crisis.CheckpointProgressReview},
	}
	wf.Escalations = 2
	return wf
}

func TestComputeMetrics(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	wf := activeWorkflow(created)
	now := created.Add(time.Hour)

	m := ComputeMetrics(wf, now)

	assert.Equal(t, 2, m.StepsCompleted)
	assert.Equal(t, 1, m.StepsFailed)
	assert.InDelta(t, 2.0/3.0, m.ProtocolAdherence, 1e-9, "skipped steps do not count against adherence")
	assert.Equal(t, 8*time.Minute, m.TimeToFirstIntervention, "earliest completion wins regardless of plan order")
	assert.Equal(t, time.Hour, m.TotalDuration)
	assert.Equal(t, 2, m.Escalations)
	assert.Equal(t, 1, m.CheckpointsFired)
}

func TestComputeMetricsNoExecutedSteps(t *testing.T) {
	wf := &crisis.Workflow{CreatedAt: time.Now()}
	m := ComputeMetrics(wf, time.Now())
	assert.Equal(t, 1.0, m.ProtocolAdherence)
	assert.Zero(t, m.TimeToFirstIntervention)
}

func TestCompleteWithFollowUp(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	wf := activeWorkflow(created)
	archiver := &fakeArchiver{}
	followUps := &fakeScheduler{}
	quality := &fakeQuality{}
	tr := NewTracker(archiver, followUps, quality, logging.Discard())

	now := created.Add(time.Hour)
	err := tr.Complete(context.Background(), wf, crisis.Outcome{
		Kind: "stabilized", FollowUpRequired: true, FollowUpAfter: 72 * time.Hour, RecordedBy: "counselor-1",
	}, now)

	require.NoError(t, err)
	assert.Equal(t, crisis.StatusMonitoring, wf.Status)
	require.Len(t, wf.Outcomes, 1)
	assert.Equal(t, now, wf.Outcomes[0].RecordedAt)
	require.NotNil(t, wf.Metrics)
	assert.Equal(t, 2, wf.Metrics.StepsCompleted)

	require.Len(t, followUps.after, 1)
	assert.Equal(t, 72*time.Hour, followUps.after[0])
	require.Len(t, archiver.archived, 1)
	assert.Equal(t, crisis.StatusMonitoring, archiver.archived[0].Status)
	assert.Len(t, quality.adherence, 1)

	kinds := make([]crisis.EventKind, 0, len(wf.Timeline.Events))
	for _, ev := range wf.Timeline.Events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Contains(t, kinds, crisis.EventWorkflowCompleted)
	assert.Contains(t, kinds, crisis.EventFollowUpScheduled)
}

func TestCompleteDefaultsFollowUpWindow(t *testing.T) {
	wf := activeWorkflow(time.Now().Add(-time.Hour))
	followUps := &fakeScheduler{}
	tr := NewTracker(&fakeArchiver{}, followUps, nil, logging.Discard())

	err := tr.Complete(context.Background(), wf, crisis.Outcome{
		Kind: "stabilized", FollowUpRequired: true,
	}, time.Now())

	require.NoError(t, err)
	require.Len(t, followUps.after, 1)
	assert.Equal(t, 48*time.Hour, followUps.after[0])
}

func TestCompleteWithoutFollowUp(t *testing.T) {
	wf := activeWorkflow(time.Now().Add(-time.Hour))
	archiver := &fakeArchiver{}
	followUps := &fakeScheduler{}
	tr := NewTracker(archiver, followUps, nil, logging.Discard())

	err := tr.Complete(context.Background(), wf, crisis.Outcome{Kind: "resolved"}, time.Now())

	require.NoError(t, err)
	assert.Equal(t, crisis.StatusResolved, wf.Status)
	assert.Empty(t, followUps.after)
	assert.Len(t, archiver.archived, 1)
}

func TestCompleteArchiveFailure(t *testing.T) {
	wf := activeWorkflow(time.Now().Add(-time.Hour))
	tr := NewTracker(&fakeArchiver{err: errors.New("archive unavailable")}, &fakeScheduler{}, nil, logging.Discard())

	err := tr.Complete(context.Background(), wf, crisis.Outcome{Kind: "resolved"}, time.Now())
	assert.Error(t, err)
}

func TestCompleteSchedulerFailure(t *testing.T) {
	wf := activeWorkflow(time.Now().Add(-time.Hour))
	archiver := &fakeArchiver{}
	tr := NewTracker(archiver, &fakeScheduler{err: errors.New("timer pool gone")}, nil, logging.Discard())

	err := tr.Complete(context.Background(), wf, crisis.Outcome{
		Kind: "stabilized", FollowUpRequired: true,
	}, time.Now())

	assert.Error(t, err)
	assert.Empty(t, archiver.archived, "nothing is archived when follow-up scheduling fails")
}

func TestCompleteFromInitiatedRejected(t *testing.T) {
	wf := activeWorkflow(time.Now())
	wf.Status = crisis.StatusInitiated
	tr := NewTracker(&fakeArchiver{}, &fakeScheduler{}, nil, logging.Discard())

	err := tr.Complete(context.Background(), wf, crisis.Outcome{Kind: "resolved"}, time.Now())
	assert.Error(t, err, "a workflow with no work done cannot resolve")
}
