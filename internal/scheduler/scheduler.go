// Package scheduler drives everything time-based: missed milestones, critical
// deadlines with automatic consequences, in-progress step timeouts and due
// safety checkpoints. It scans snapshots outside the workflow actors and
// applies effects through non-blocking offers, so one busy workflow never
// stalls the rest of the scan.
package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mindhaven/crisisflow/internal/crisis"
	"github.com/mindhaven/crisisflow/internal/escalation"
	"github.com/mindhaven/crisisflow/internal/logging"
	"github.com/mindhaven/crisisflow/pkg/clock"
)

// Registry is the orchestrator surface the scheduler needs.
type Registry interface {
	ActiveWorkflowIDs() []uuid.UUID
	TrySnapshot(ctx context.Context, id uuid.UUID) (*crisis.Workflow, bool)
	Offer(id uuid.UUID, name string, fn func(wf *crisis.Workflow) error) bool
}

// Assessor produces checkpoint findings synchronously, outside the workflow
// actor. When none is wired the scheduler instead asks the assigned role once
// and waits for findings to arrive through the checkpoint-recording API.
type Assessor interface {
	Assess(ctx context.Context, wf *crisis.Workflow, cp *crisis.Checkpoint) (crisis.Findings, error)
}

// Notifier delivers fire-and-forget notifications.
type Notifier interface {
	Notify(ctx context.Context, target, urgency, template string, payload map[string]string) error
}

// Config tunes the scan loop.
type Config struct {
	TickInterval   time.Duration
	MaxConcurrency int
}

// Scheduler runs the periodic deadline and checkpoint scan.
type Scheduler struct {
	reg      Registry
	engine   *escalation.Engine
	assessor Assessor
	notifier Notifier
	clk      clock.Clock
	log      *logging.Logger
	cfg      Config

	stop chan struct{}
	done chan struct{}
}

// New wires a scheduler. assessor may be nil.
func New(reg Registry, engine *escalation.Engine, assessor Assessor, notifier Notifier, clk clock.Clock, cfg Config, log *logging.Logger) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 16
	}
	return &Scheduler{
		reg:      reg,
		engine:   engine,
		assessor: assessor,
		notifier: notifier,
		clk:      clk,
		log:      log.Component("scheduler"),
		cfg:      cfg,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the scan loop.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		for {
			select {
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			case <-s.clk.After(s.cfg.TickInterval):
				s.Tick(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for the in-flight tick.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

// Tick scans every active workflow once. Exported so tests can drive the
// scheduler without the loop.
func (s *Scheduler) Tick(ctx context.Context) {
	ids := s.reg.ActiveWorkflowIDs()
	if len(ids) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			s.scan(gctx, id)
			return nil
		})
	}
	g.Wait()
}

// findingsFor carries pre-computed assessor output into the actor mutation.
type findingsFor struct {
	checkpointID uuid.UUID
	findings     crisis.Findings
}

func (s *Scheduler) scan(ctx context.Context, id uuid.UUID) {
	wf, ok := s.reg.TrySnapshot(ctx, id)
	if !ok {
		return
	}
	if crisis.TerminalStatus(wf.Status) {
		return
	}
	now := s.clk.Now()

	overdueMilestones := overdueMilestoneNames(wf, now)
	overdueDeadlines := overdueDeadlineNames(wf, now)
	timedOut := s.timedOutStep(wf, now)
	due := dueCheckpoints(wf, now)

	if len(overdueMilestones) == 0 && len(overdueDeadlines) == 0 && timedOut == uuid.Nil && len(due) == 0 {
		return
	}

	// Assessor I/O happens here, outside the actor's serialized section.
	var assessed []findingsFor
	var request []uuid.UUID
	for _, cp := range due {
		if s.assessor == nil {
			if cp.RequestedAt == nil {
				request = append(request, cp.ID)
			}
			continue
		}
		f, err := s.assessor.Assess(ctx, wf, cp)
		if err != nil {
			s.log.Warn("checkpoint assessment failed",
				"workflow_id", id.String(), "checkpoint_id", cp.ID.String(), "error", err)
			continue
		}
		assessed = append(assessed, findingsFor{checkpointID: cp.ID, findings: f})
	}

	offered := s.reg.Offer(id, "scheduler.tick", func(w *crisis.Workflow) error {
		return s.apply(ctx, w, now, overdueMilestones, overdueDeadlines, timedOut, assessed, request)
	})
	if !offered {
		// Busy actor; the next tick picks this workflow up again.
		s.log.Debug("scan deferred, actor busy", "workflow_id", id.String())
	}
}

// apply re-checks every precomputed observation against current state inside
// the actor and records the consequences. The snapshot may be stale; anything
// that no longer holds is silently dropped.
func (s *Scheduler) apply(ctx context.Context, wf *crisis.Workflow, now time.Time,
	milestones, deadlines []string, timedOut uuid.UUID, assessed []findingsFor, request []uuid.UUID) error {

	for _, name := range milestones {
		for _, m := range wf.Timeline.Milestones {
			if m.Name != name || m.Status != crisis.MilestoneUpcoming || m.Target.After(now) {
				continue
			}
			m.Status = crisis.MilestoneMissed
			wf.Timeline.Append(now, crisis.EventMilestoneMissed, "scheduler", map[string]string{
				"milestone": m.Name,
			})
		}
	}

	for _, name := range deadlines {
		for _, d := range wf.Timeline.Deadlines {
			if d.Name != name || d.Status != crisis.MilestoneUpcoming || d.Due.After(now) {
				continue
			}
			d.Status = crisis.MilestoneMissed
			wf.Timeline.Append(now, crisis.EventDeadlineMissed, "scheduler", map[string]string{
				"deadline":    d.Name,
				"consequence": d.Consequence,
			})
			for _, action := range d.Actions {
				switch action {
				case crisis.ActionNotifySupervisor:
					s.notifySupervisor(wf, d)
				case crisis.ActionEscalate:
					if _, err := s.engine.Consider(ctx, wf, escalation.ReasonDeadlineMissed, nil, now); err != nil {
						return err
					}
				}
			}
		}
	}

	if timedOut != uuid.Nil {
		if step, ok := wf.Step(timedOut); ok && step.Status == crisis.StepInProgress && !step.TimeoutEscalated {
			step.TimeoutEscalated = true
			wf.Timeline.Append(now, crisis.EventDeadlineMissed, "scheduler", map[string]string{
				"step_id": step.ID.String(),
				"type":    string(step.Type),
				"cause":   "step-timeout",
			})
			if _, err := s.engine.Consider(ctx, wf, escalation.ReasonStepTimeout, nil, now); err != nil {
				return err
			}
		}
	}

	for _, a := range assessed {
		cp, ok := wf.Checkpoint(a.checkpointID)
		if !ok || cp.FiredAt != nil {
			continue
		}
		fireCheckpoint(wf, cp, a.findings, now)
		if a.findings.RequiresEscalation() {
			cp.Escalated = true
			if _, err := s.engine.Consider(ctx, wf, escalation.ReasonCheckpointFindings, nil, now); err != nil {
				return err
			}
		}
	}

	for _, cpID := range request {
		cp, ok := wf.Checkpoint(cpID)
		if !ok || cp.FiredAt != nil || cp.RequestedAt != nil {
			continue
		}
		ts := now
		cp.RequestedAt = &ts
		s.requestFindings(wf, cp)
	}

	return nil
}

// fireCheckpoint records findings and reschedules recurring checkpoints.
func fireCheckpoint(wf *crisis.Workflow, cp *crisis.Checkpoint, f crisis.Findings, now time.Time) {
	ts := now
	cp.FiredAt = &ts
	cp.Findings = &f
	wf.Timeline.Append(now, crisis.EventCheckpointRecorded, f.RecordedBy, map[string]string{
		"checkpoint_id": cp.ID.String(),
		"type":          string(cp.Type),
		"trend":         string(f.Trend),
		"safety":        string(f.Safety),
	})
	if cp.Recurring && cp.Interval > 0 {
		wf.Checkpoints = append(wf.Checkpoints, &crisis.Checkpoint{
			ID:          uuid.New(),
			Type:        cp.Type,
			ScheduledAt: now.Add(cp.Interval),
			Recurring:   true,
			Interval:    cp.Interval,
		})
	}
}

func (s *Scheduler) notifySupervisor(wf *crisis.Workflow, d *crisis.Deadline) {
	target := wf.Team[crisis.RoleSupervisor]
	if target == "" {
		target = crisis.RoleSupervisor
	}
	payload := map[string]string{
		"workflow_id": wf.ID.String(),
		"subject_id":  wf.SubjectID,
		"deadline":    d.Name,
		"consequence": d.Consequence,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.notifier.Notify(ctx, target, "critical", "deadline-missed", payload); err != nil {
			s.log.Error("deadline notification failed", "target", target, "error", err)
		}
	}()
}

func (s *Scheduler) requestFindings(wf *crisis.Workflow, cp *crisis.Checkpoint) {
	role := crisis.RoleCounselor
	if wf.Severity.AtLeast(crisis.SeverityCritical) {
		role = crisis.RoleSupervisor
	}
	target := wf.Team[role]
	if target == "" {
		target = role
	}
	payload := map[string]string{
		"workflow_id":   wf.ID.String(),
		"subject_id":    wf.SubjectID,
		"checkpoint_id": cp.ID.String(),
		"type":          string(cp.Type),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.notifier.Notify(ctx, target, "elevated", "checkpoint-due", payload); err != nil {
			s.log.Error("checkpoint request failed", "target", target, "error", err)
		}
	}()
}

func overdueMilestoneNames(wf *crisis.Workflow, now time.Time) []string {
	var out []string
	for _, m := range wf.Timeline.Milestones {
		if m.Status == crisis.MilestoneUpcoming && !m.Target.After(now) {
			out = append(out, m.Name)
		}
	}
	return out
}

func overdueDeadlineNames(wf *crisis.Workflow, now time.Time) []string {
	var out []string
	for _, d := range wf.Timeline.Deadlines {
		if d.Status == crisis.MilestoneUpcoming && !d.Due.After(now) {
			out = append(out, d.Name)
		}
	}
	return out
}

func (s *Scheduler) timedOutStep(wf *crisis.Workflow, now time.Time) uuid.UUID {
	step := wf.ActiveStep()
	if step == nil || step.StartedAt == nil || step.TimeoutEscalated {
		return uuid.Nil
	}
	limit := s.engine.StepTimeout(step.Type)
	if limit <= 0 {
		return uuid.Nil
	}
	if !step.StartedAt.Add(limit).After(now) {
		return step.ID
	}
	return uuid.Nil
}

func dueCheckpoints(wf *crisis.Workflow, now time.Time) []*crisis.Checkpoint {
	var out []*crisis.Checkpoint
	for _, cp := range wf.Checkpoints {
		if cp.FiredAt == nil && !cp.ScheduledAt.After(now) {
			out = append(out, cp)
		}
	}
	return out
}
