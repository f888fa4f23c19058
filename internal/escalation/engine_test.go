package escalation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindhaven/crisisflow/internal/crisis"
	"github.com/mindhaven/crisisflow/internal/logging"
	"github.com/mindhaven/crisisflow/internal/resources"
	"github.com/mindhaven/crisisflow/internal/steps"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls int
}

func (n *recordingNotifier) Notify(ctx context.Context, target, urgency, template string, payload map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	return nil
}

func testEngine(catalog []crisis.Resource) (*Engine, *recordingNotifier) {
	n := &recordingNotifier{}
	picker := resources.NewSelector(&resources.StaticCatalog{Resources: catalog})
	e := NewEngine(Policy{
		StepTimeouts: map[crisis.StepType]time.Duration{crisis.StepImmediateSafety: 15 * time.Minute},
		Roster: map[string]string{
			crisis.RoleCounselor:  "counselor-1",
			crisis.RoleSupervisor: "supervisor-1",
		},
	}, picker, n, nil, logging.Discard())
	return e, n
}

func testWorkflow(severity crisis.SeverityTier) *crisis.Workflow {
	now := time.Now()
	return &crisis.Workflow{
		ID:         uuid.New(),
		SubjectID:  "subject-1",
		CreatedAt:  now,
		Status:     crisis.StatusActive,
		Severity:   severity,
		Assessment: crisis.RiskAssessment{Score: 0.4, SubRisk: crisis.SubRiskModerate, Type: crisis.TypePanic},
		Steps:      steps.Generate(severity, crisis.TypePanic, now),
		Team:       map[string]string{crisis.RoleCounselor: "counselor-1"},
	}
}

func TestConsiderMovesOneTier(t *testing.T) {
	e, _ := testEngine(nil)
	wf := testWorkflow(crisis.SeverityModerate)

	res, err := e.Consider(context.Background(), wf, ReasonStepFailure, nil, time.Now())

	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, crisis.SeverityModerate, res.From)
	assert.Equal(t, crisis.SeveritySevere, res.To)
	assert.Equal(t, crisis.SeveritySevere, wf.Severity)
	assert.Equal(t, crisis.StatusEscalated, wf.Status)
	assert.Equal(t, 1, wf.Escalations)
}

func TestConsiderWalksWholeLadder(t *testing.T) {
	e, _ := testEngine(nil)
	wf := testWorkflow(crisis.SeverityMinimal)
	ladder := crisis.Ladder()

	for i := 1; i < len(ladder); i++ {
		res, err := e.Consider(context.Background(), wf, ReasonManual, nil, time.Now())
		require.NoError(t, err)
		assert.True(t, res.Applied)
		assert.Equal(t, ladder[i], wf.Severity)
	}
	assert.Equal(t, crisis.SeverityEmergency, wf.Severity)
}

func TestConsiderCeilingIsNoOp(t *testing.T) {
	e, _ := testEngine(nil)
	wf := testWorkflow(crisis.SeverityEmergency)
	stepsBefore := len(wf.Steps)
	eventsBefore := len(wf.Timeline.Events)

	res, err := e.Consider(context.Background(), wf, ReasonStepTimeout, nil, time.Now())

	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.True(t, res.AtCeiling)
	assert.Equal(t, crisis.SeverityEmergency, wf.Severity)
	assert.Equal(t, 0, wf.Escalations)
	assert.Len(t, wf.Steps, stepsBefore, "ceiling attempt injects nothing")

	// The attempt itself is still recorded.
	require.Len(t, wf.Timeline.Events, eventsBefore+1)
	assert.Equal(t, crisis.EventEscalationCeiling, wf.Timeline.Events[eventsBefore].Kind)
}

func TestConsiderIgnoresNonIncreasingTarget(t *testing.T) {
	e, _ := testEngine(nil)
	wf := testWorkflow(crisis.SeveritySevere)

	down := crisis.SeverityMild
	res, err := e.Consider(context.Background(), wf, ReasonManual, &down, time.Now())

	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, crisis.SeveritySevere, wf.Severity)
}

func TestConsiderExplicitTargetJumpsTiers(t *testing.T) {
	e, _ := testEngine(nil)
	wf := testWorkflow(crisis.SeverityMild)

	target := crisis.SeverityCritical
	res, err := e.Consider(context.Background(), wf, ReasonManual, &target, time.Now())

	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, crisis.SeverityCritical, wf.Severity)
	assert.Equal(t, "supervisor-1", wf.Team[crisis.RoleSupervisor])
}

func TestConsiderResourcesOnlyGrow(t *testing.T) {
	catalog := []crisis.Resource{
		{ID: "hotline", Tags: []string{"all"}, Available: true},
		{ID: "panic-clinic", Tags: []string{"panic"}, Available: true},
		{ID: "detox", Tags: []string{"substance"}, Available: true},
	}
	e, _ := testEngine(catalog)
	wf := testWorkflow(crisis.SeverityModerate)
	wf.Resources = []crisis.Resource{{ID: "legacy-line"}}

	_, err := e.Consider(context.Background(), wf, ReasonCheckpointFindings, nil, time.Now())
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, r := range wf.Resources {
		ids[r.ID] = true
	}
	assert.True(t, ids["legacy-line"], "existing resources survive escalation")
	assert.True(t, ids["hotline"])
	assert.True(t, ids["panic-clinic"])
	assert.False(t, ids["detox"], "untagged resource stays out below emergency")
}

func TestConsiderInjectsLifelineSteps(t *testing.T) {
	e, _ := testEngine(nil)

	t.Run("to emergency", func(t *testing.T) {
		wf := testWorkflow(crisis.SeverityCritical)
		res, err := e.Consider(context.Background(), wf, ReasonDeadlineMissed, nil, time.Now())
		require.NoError(t, err)
		require.Len(t, res.Injected, 2)
		assert.Equal(t, crisis.StepImmediateSafety, res.Injected[0].Type)
		assert.Equal(t, crisis.StepStabilization, res.Injected[1].Type)
		for _, s := range res.Injected {
			assert.Equal(t, crisis.PriorityLifeline, s.Priority)
		}
	})

	t.Run("to severe", func(t *testing.T) {
		wf := testWorkflow(crisis.SeverityModerate)
		res, err := e.Consider(context.Background(), wf, ReasonDeadlineMissed, nil, time.Now())
		require.NoError(t, err)
		require.Len(t, res.Injected, 1)
		assert.Equal(t, crisis.StepStabilization, res.Injected[0].Type)
	})

	t.Run("low rung", func(t *testing.T) {
		wf := testWorkflow(crisis.SeverityMinimal)
		res, err := e.Consider(context.Background(), wf, ReasonDeadlineMissed, nil, time.Now())
		require.NoError(t, err)
		require.Len(t, res.Injected, 1)
		assert.Equal(t, crisis.StepRiskAssessment, res.Injected[0].Type)
	})
}

type recordingSink struct {
	mu           sync.Mutex
	observations []string
}

func (r *recordingSink) RecordEscalation(from, to, reason string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observations = append(r.observations, from+"->"+to+":"+reason)
}

func TestConsiderRecordsAppliedEscalations(t *testing.T) {
	sink := &recordingSink{}
	picker := resources.NewSelector(&resources.StaticCatalog{})
	e := NewEngine(Policy{
		Roster: map[string]string{crisis.RoleSupervisor: "supervisor-1"},
	}, picker, &recordingNotifier{}, sink, logging.Discard())

	wf := testWorkflow(crisis.SeverityModerate)
	_, err := e.Consider(context.Background(), wf, ReasonStepTimeout, nil, time.Now())
	require.NoError(t, err)

	require.Len(t, sink.observations, 1)
	assert.Equal(t, "moderate->severe:step-timeout", sink.observations[0])

	// A ceiling no-op produces no observation.
	ceiling := testWorkflow(crisis.SeverityEmergency)
	_, err = e.Consider(context.Background(), ceiling, ReasonStepTimeout, nil, time.Now())
	require.NoError(t, err)
	assert.Len(t, sink.observations, 1)
}

func TestPathwaysCoverLadderToEmergency(t *testing.T) {
	e, _ := testEngine(nil)

	p := e.Pathways(crisis.SeverityModerate)
	require.Len(t, p, 3)
	assert.Equal(t, crisis.SeverityModerate, p[0].From)
	assert.Equal(t, crisis.SeveritySevere, p[0].To)
	assert.Equal(t, crisis.SeverityEmergency, p[2].To)

	assert.Empty(t, e.Pathways(crisis.SeverityEmergency))
}

func TestAssignTeamGrowsWithSeverity(t *testing.T) {
	e, _ := testEngine(nil)

	team := e.AssignTeam(crisis.SeverityModerate)
	assert.Len(t, team, 1)

	team = e.AssignTeam(crisis.SeverityCritical)
	assert.Equal(t, "supervisor-1", team[crisis.RoleSupervisor])

	team = e.AssignTeam(crisis.SeverityEmergency)
	assert.Contains(t, team, crisis.RolePsychiatrist)
	assert.Contains(t, team, crisis.RoleEmergencyLiaison)
}
