package outcome

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
	"github.com/mindhaven/crisisflow/pkg/clock"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) Notify(ctx context.Context, target, urgency, template string, payload map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, template+"->"+target)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type recordingCloser struct {
	mu     sync.Mutex
	closed []uuid.UUID
}

func (c *recordingCloser) CloseArchived(ctx context.Context, id uuid.UUID, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = append(c.closed, id)
	return nil
}

func (c *recordingCloser) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.closed)
}

func monitoringWorkflow() *crisis.Workflow {
	return &crisis.Workflow{
		ID:        uuid.New(),
		SubjectID: "subject-5",
		Status:    crisis.StatusMonitoring,
		Team:      map[string]string{crisis.RoleCounselor: "counselor-1"},
	}
}

func TestFollowUpFiresAfterWindow(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	n := &recordingNotifier{}
	c := &recordingCloser{}
	timer := NewFollowUpTimer(clk, n, c, logging.Discard())
	wf := monitoringWorkflow()

	require.NoError(t, timer.Schedule(context.Background(), wf, 48*time.Hour))

	clk.Advance(47 * time.Hour)
	assert.Equal(t, 0, c.count(), "window not yet elapsed")

	// Keep nudging virtual time in case the timer goroutine registered late.
	require.Eventually(t, func() bool {
		clk.Advance(2 * time.Hour)
		return c.count() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, wf.ID, c.closed[0])
	require.Equal(t, 1, n.count())
	assert.Equal(t, "monitoring-checkin->subject-5", n.calls[0])
}

func TestFollowUpStopCancelsPendingWindows(t *testing.T) {
	clk := clock.NewMock(time.Now())
	n := &recordingNotifier{}
	c := &recordingCloser{}
	timer := NewFollowUpTimer(clk, n, c, logging.Discard())

	require.NoError(t, timer.Schedule(context.Background(), monitoringWorkflow(), 24*time.Hour))
	timer.Stop()

	clk.Advance(48 * time.Hour)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, n.count())
	assert.Equal(t, 0, c.count())
}

func TestFollowUpScheduleAfterStopIsNoOp(t *testing.T) {
	clk := clock.NewMock(time.Now())
	c := &recordingCloser{}
	timer := NewFollowUpTimer(clk, &recordingNotifier{}, c, logging.Discard())
	timer.Stop()

	require.NoError(t, timer.Schedule(context.Background(), monitoringWorkflow(), time.Hour))
	clk.Advance(2 * time.Hour)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, c.count())
}
