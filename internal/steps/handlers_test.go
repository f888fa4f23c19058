package steps

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
)

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
	err   error
}

type notifyCall struct {
	target, urgency, template string
	payload                   map[string]string
}

func (n *fakeNotifier) Notify(ctx context.Context, target, urgency, template string, payload map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.calls = append(n.calls, notifyCall{target, urgency, template, payload})
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func testEnv(n *fakeNotifier) Env {
	now := time.Now()
	wf := &crisis.Workflow{
		ID:        uuid.New(),
		SubjectID: "subject-7",
		Severity:  crisis.SeverityCritical,
		Assessment: crisis.RiskAssessment{
			Score: 0.75, SubRisk: subRiskFor(crisis.SeverityCritical), Type: crisis.TypeSuicidal,
		},
		Team: map[string]string{crisis.RoleSupervisor: "sup-1"},
		Context: crisis.SubjectContext{
			Contacts: []crisis.EmergencyContact{
				{Name: "Backup", Phone: "555-2", Priority: 2},
				{Name: "Primary", Phone: "555-1", Priority: 1},
			},
		},
		Resources: []crisis.Resource{
			{ID: "hotline", Name: "Hotline", Available: true},
			{ID: "closed-clinic", Name: "Clinic", Available: false},
		},
	}
	return Env{Workflow: wf, Step: &crisis.InterventionStep{ID: uuid.New()}, Notifier: n, Now: now}
}

// subRiskFor keeps the test assessment consistent with the tier under test.
func subRiskFor(t crisis.SeverityTier) crisis.SubRiskLevel {
	if t == crisis.SeverityCritical {
		return crisis.SubRiskSevere
	}
	return crisis.SubRiskNone
}

func TestForTypeCoversAllStepTypes(t *testing.T) {
	for _, st := range []crisis.StepType{
		crisis.StepImmediateSafety, crisis.StepRiskAssessment, crisis.StepStabilization,
		crisis.StepResourceConnection, crisis.StepSafetyPlanning, crisis.StepFollowUp,
		crisis.StepClosure,
	} {
		h, err := ForType(st)
		require.NoError(t, err, string(st))
		assert.Equal(t, st, h.Type())
	}

	_, err := ForType("meditation")
	assert.Error(t, err)
}

func TestImmediateSafetyAlertsPrimaryContact(t *testing.T) {
	n := &fakeNotifier{}
	env := testEnv(n)

	h, _ := ForType(crisis.StepImmediateSafety)
	res, err := h.Run(context.Background(), env)

	require.NoError(t, err)
	require.Equal(t, 1, n.count())
	assert.Equal(t, "555-1", n.calls[0].target, "lowest priority number is the primary contact")
	assert.NotEmpty(t, res.Actions)
}

func TestImmediateSafetyNotifyFailure(t *testing.T) {
	n := &fakeNotifier{err: errors.New("sink down")}
	env := testEnv(n)

	h, _ := ForType(crisis.StepImmediateSafety)
	_, err := h.Run(context.Background(), env)
	assert.Error(t, err)
}

func TestResourceConnectionSkipsUnavailable(t *testing.T) {
	n := &fakeNotifier{}
	env := testEnv(n)

	h, _ := ForType(crisis.StepResourceConnection)
	res, err := h.Run(context.Background(), env)

	require.NoError(t, err)
	assert.Equal(t, 1, n.count(), "only the available resource gets a referral")
	assert.Contains(t, res.Actions[0], "1 resources")
}

func TestSafetyPlanningSeedsDefaults(t *testing.T) {
	n := &fakeNotifier{}
	env := testEnv(n)

	h, _ := ForType(crisis.StepSafetyPlanning)
	res, err := h.Run(context.Background(), env)

	require.NoError(t, err)
	require.NotNil(t, res.PlanUpdate)
	assert.NotEmpty(t, res.PlanUpdate.WarningSigns)
	assert.NotEmpty(t, res.PlanUpdate.CopingStrategies)
	assert.Len(t, res.PlanUpdate.Contacts, 2)
	assert.Equal(t, env.Now, res.PlanUpdate.UpdatedAt)
}

func TestUrgencyFor(t *testing.T) {
	assert.Equal(t, "emergency", urgencyFor(crisis.SeverityEmergency))
	assert.Equal(t, "critical", urgencyFor(crisis.SeverityCritical))
	assert.Equal(t, "elevated", urgencyFor(crisis.SeverityModerate))
	assert.Equal(t, "routine", urgencyFor(crisis.SeverityMild))
}
