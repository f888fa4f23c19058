package crisis

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowTransitions(t *testing.T) {
	now := time.Now()

	t.Run("happy path", func(t *testing.T) {
		wf := &Workflow{Status: StatusInitiated}
		require.NoError(t, wf.TransitionTo(StatusActive, now))
		require.NoError(t, wf.TransitionTo(StatusEscalated, now))
		require.NoError(t, wf.TransitionTo(StatusActive, now))
		require.NoError(t, wf.TransitionTo(StatusStabilized, now))
		require.NoError(t, wf.TransitionTo(StatusResolved, now))
		require.NoError(t, wf.TransitionTo(StatusMonitoring, now))
		require.NoError(t, wf.TransitionTo(StatusClosed, now))
	})

	t.Run("illegal moves rejected", func(t *testing.T) {
		wf := &Workflow{Status: StatusInitiated}
		assert.Error(t, wf.TransitionTo(StatusResolved, now))
		assert.Equal(t, StatusInitiated, wf.Status)

		wf.Status = StatusClosed
		assert.Error(t, wf.TransitionTo(StatusActive, now))

		wf.Status = StatusMonitoring
		assert.Error(t, wf.TransitionTo(StatusEscalated, now))
	})

	t.Run("self transition is a no-op", func(t *testing.T) {
		wf := &Workflow{Status: StatusActive}
		assert.NoError(t, wf.TransitionTo(StatusActive, now))
	})
}

func TestTimelineAppendOnly(t *testing.T) {
	var tl Timeline
	now := time.Now()

	for i := 0; i < 5; i++ {
		tl.Append(now, EventStepCompleted, "counselor", nil)
	}

	require.Len(t, tl.Events, 5)
	for i, ev := range tl.Events {
		assert.Equal(t, int64(i+1), ev.Seq, "sequence numbers strictly increase")
	}
	assert.Equal(t, int64(5), tl.LastSeq)
}

func TestMilestonesAndDeadlines(t *testing.T) {
	var tl Timeline
	now := time.Now()

	tl.AddMilestone("first-contact", now.Add(5*time.Minute))
	tl.AddDeadline("first-contact", now.Add(5*time.Minute), "not reached", ActionNotifySupervisor, ActionEscalate)

	assert.True(t, tl.AchieveMilestone("first-contact", now.Add(time.Minute)))
	assert.Equal(t, MilestoneAchieved, tl.Milestones[0].Status)
	// A second achievement attempt finds nothing open.
	assert.False(t, tl.AchieveMilestone("first-contact", now))
	assert.False(t, tl.AchieveMilestone("no-such", now))
}

func TestAddResourcesOnlyGrows(t *testing.T) {
	wf := &Workflow{}
	added := wf.AddResources([]Resource{{ID: "a"}, {ID: "b"}})
	assert.Equal(t, 2, added)

	added = wf.AddResources([]Resource{{ID: "b"}, {ID: "c"}})
	assert.Equal(t, 1, added)
	assert.Len(t, wf.Resources, 3)
}

func TestPrerequisitesMet(t *testing.T) {
	dep := &InterventionStep{ID: uuid.New(), Status: StepCompleted}
	step := &InterventionStep{ID: uuid.New(), Prerequisites: []uuid.UUID{dep.ID}}
	wf := &Workflow{Steps: []*InterventionStep{dep, step}}

	assert.True(t, wf.PrerequisitesMet(step))

	dep.Status = StepSkipped
	// Skipped does not satisfy a dependency.
	assert.False(t, wf.PrerequisitesMet(step))

	orphan := &InterventionStep{ID: uuid.New(), Prerequisites: []uuid.UUID{uuid.New()}}
	assert.False(t, wf.PrerequisitesMet(orphan))
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now()
	step := &InterventionStep{ID: uuid.New(), Status: StepPending, Actions: []string{"a"}}
	wf := &Workflow{
		ID:     uuid.New(),
		Status: StatusActive,
		Steps:  []*InterventionStep{step},
		Team:   map[string]string{RoleCounselor: "alex"},
		Checkpoints: []*Checkpoint{
			{ID: uuid.New(), Type: CheckpointSafetyCheck, ScheduledAt: now},
		},
	}
	wf.Timeline.Append(now, EventWorkflowCreated, "orchestrator", nil)

	c := wf.Clone()
	c.Steps[0].Status = StepCompleted
	c.Steps[0].Actions = append(c.Steps[0].Actions, "b")
	c.Team[RoleCounselor] = "sam"
	c.Timeline.Append(now, EventStepCompleted, "counselor", nil)
	firedAt := now
	c.Checkpoints[0].FiredAt = &firedAt

	assert.Equal(t, StepPending, wf.Steps[0].Status)
	assert.Len(t, wf.Steps[0].Actions, 1)
	assert.Equal(t, "alex", wf.Team[RoleCounselor])
	assert.Len(t, wf.Timeline.Events, 1)
	assert.Nil(t, wf.Checkpoints[0].FiredAt)
}

func TestFindingsRequireEscalation(t *testing.T) {
	cases := []struct {
		trend  RiskTrend
		safety SafetyStatus
		want   bool
	}{
		{TrendIncreased, SafetyHighRisk, true},
		{TrendSignificantly, SafetyImminent, true},
		{TrendIncreased, SafetyAtRisk, false},
		{TrendStable, SafetyHighRisk, false},
		{TrendDecreased, SafetySafe, false},
	}
	for _, tc := range cases {
		f := Findings{Trend: tc.trend, Safety: tc.safety}
		assert.Equal(t, tc.want, f.RequiresEscalation(), "%s/%s", tc.trend, tc.safety)
	}
}
