package outcome

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mindhaven/crisisflow/internal/crisis"
	"github.com/mindhaven/crisisflow/internal/logging"
	"github.com/mindhaven/crisisflow/pkg/clock"
)

// Notifier delivers fire-and-forget notifications.
type Notifier interface {
	Notify(ctx context.Context, target, urgency, template string, payload map[string]string) error
}

// ArchiveCloser marks an archived workflow closed once its monitoring window
// ends.
type ArchiveCloser interface {
	CloseArchived(ctx context.Context, id uuid.UUID, at time.Time) error
}

// FollowUpTimer runs the post-resolution monitoring window. When it elapses
// the subject gets a check-in notification and the archived workflow moves
// from monitoring to closed.
type FollowUpTimer struct {
	clk      clock.Clock
	notifier Notifier
	closer   ArchiveCloser
	log      *logging.Logger

	mu      sync.Mutex
	stopped bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewFollowUpTimer wires a follow-up timer.
func NewFollowUpTimer(clk clock.Clock, notifier Notifier, closer ArchiveCloser, log *logging.Logger) *FollowUpTimer {
	return &FollowUpTimer{
		clk:      clk,
		notifier: notifier,
		closer:   closer,
		log:      log.Component("followup"),
		stop:     make(chan struct{}),
	}
}

// Schedule arms the monitoring window for a completing workflow. It satisfies
// FollowUpScheduler and must not block the caller beyond registration.
func (t *FollowUpTimer) Schedule(ctx context.Context, wf *crisis.Workflow, after time.Duration) error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.wg.Add(1)
	t.mu.Unlock()

	id := wf.ID
	subject := wf.SubjectID
	counselor := wf.Team[crisis.RoleCounselor]

	go func() {
		defer t.wg.Done()
		select {
		case <-t.stop:
			return
		case <-t.clk.After(after):
		}

		cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := t.notifier.Notify(cctx, subject, "routine", "monitoring-checkin", map[string]string{
			"workflow_id": id.String(),
			"counselor":   counselor,
		})
		if err != nil {
			t.log.Error("monitoring check-in failed", "workflow_id", id.String(), "error", err)
		}
		if err := t.closer.CloseArchived(cctx, id, t.clk.Now()); err != nil {
			t.log.Error("closing archived workflow failed", "workflow_id", id.String(), "error", err)
			return
		}
		t.log.Info("monitoring window closed", "workflow_id", id.String())
	}()
	return nil
}

// Stop cancels pending windows and waits for in-flight handlers.
func (t *FollowUpTimer) Stop() {
	t.mu.Lock()
	if !t.stopped {
		t.stopped = true
		close(t.stop)
	}
	t.mu.Unlock()
	t.wg.Wait()
}
