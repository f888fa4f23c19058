// Package orchestrator owns workflow lifecycles. Every workflow is served by
// a dedicated actor goroutine with a bounded mailbox, so concurrent operations
// on the same workflow are serialized while independent workflows proceed in
// parallel. Mutations run clone-first and commit only after the durable store
// accepted the write.
package orchestrator

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mindhaven/crisisflow/internal/crisis"
	"github.com/mindhaven/crisisflow/internal/escalation"
	"github.com/mindhaven/crisisflow/internal/logging"
	"github.com/mindhaven/crisisflow/internal/outcome"
	"github.com/mindhaven/crisisflow/internal/steps"
	"github.com/mindhaven/crisisflow/internal/store"
	"github.com/mindhaven/crisisflow/pkg/clock"
	"github.com/mindhaven/crisisflow/pkg/messaging"
)

// Store is the durable workflow store.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*crisis.Workflow, error)
	Put(ctx context.Context, wf *crisis.Workflow) error
	ListActive(ctx context.Context) ([]*crisis.Workflow, error)
}

// ActiveIndex maintains the active-set index and snapshot cache (Redis in
// production). All calls are best-effort.
type ActiveIndex interface {
	MarkActive(ctx context.Context, id uuid.UUID) error
	MarkInactive(ctx context.Context, id uuid.UUID) error
	PutSnapshot(ctx context.Context, wf *crisis.Workflow) error
	GetSnapshot(ctx context.Context, id uuid.UUID) (*crisis.Workflow, error)
}

// SubjectDirectory resolves subject context at intake.
type SubjectDirectory interface {
	SubjectContext(ctx context.Context, subjectID string) (crisis.SubjectContext, error)
}

// ResourcePicker supplies the resource set for a severity tier.
type ResourcePicker interface {
	Select(ctx context.Context, severity crisis.SeverityTier, crisisType crisis.CrisisType) ([]crisis.Resource, error)
}

// EventPublisher mirrors workflow events onto the bus. Publishing is
// fire-and-forget and never fails a mutation.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
}

// Timing holds the time-driven policy applied when a workflow is created.
type Timing struct {
	FirstSafetyCheck    time.Duration
	SafetyCheckInterval time.Duration
	ProgressReviewAfter time.Duration
	ReassessmentAfter   time.Duration
	FirstContactWindow  time.Duration
	StabilizeWindow     time.Duration
}

// DefaultTiming is the fallback policy used by tests and local runs.
func DefaultTiming() Timing {
	return Timing{
		FirstSafetyCheck:    15 * time.Minute,
		SafetyCheckInterval: time.Hour,
		ProgressReviewAfter: 2 * time.Hour,
		ReassessmentAfter:   4 * time.Hour,
		FirstContactWindow:  5 * time.Minute,
		StabilizeWindow:     24 * time.Hour,
	}
}

// Deps bundles what the orchestrator needs.
type Deps struct {
	Store     Store
	Cache     ActiveIndex // optional
	Directory SubjectDirectory
	Picker    ResourcePicker
	Engine    *escalation.Engine
	Tracker   *outcome.Tracker
	Notifier  steps.Notifier
	Events    EventPublisher // optional
	Clock     clock.Clock
	Log       *logging.Logger
	Timing    Timing

	// MailboxSize bounds each actor's queue. Zero means the default.
	MailboxSize int
}

// Orchestrator is the public entry point for all workflow operations.
type Orchestrator struct {
	mu     sync.RWMutex
	actors map[uuid.UUID]*actor

	store       Store
	cache       ActiveIndex
	directory   SubjectDirectory
	picker      ResourcePicker
	engine      *escalation.Engine
	tracker     *outcome.Tracker
	notifier    steps.Notifier
	events      EventPublisher
	clk         clock.Clock
	log         *logging.Logger
	timing      Timing
	mailboxSize int
}

// New builds an orchestrator.
func New(d Deps) *Orchestrator {
	if d.MailboxSize <= 0 {
		d.MailboxSize = 64
	}
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	return &Orchestrator{
		actors:      make(map[uuid.UUID]*actor),
		store:       d.Store,
		cache:       d.Cache,
		directory:   d.Directory,
		picker:      d.Picker,
		engine:      d.Engine,
		tracker:     d.Tracker,
		notifier:    d.Notifier,
		events:      d.Events,
		clk:         d.Clock,
		log:         d.Log.Component("orchestrator"),
		timing:      d.Timing,
		mailboxSize: d.MailboxSize,
	}
}

// Resume reloads every non-terminal workflow from the durable store and
// restarts its actor. Called once at process start.
func (o *Orchestrator) Resume(ctx context.Context) (int, error) {
	active, err := o.store.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	for _, wf := range active {
		o.spawn(wf)
		if o.cache != nil {
			if err := o.cache.MarkActive(ctx, wf.ID); err != nil {
				o.log.Warn("active-set mark failed on resume", "workflow_id", wf.ID.String(), "error", err)
			}
		}
	}
	o.log.Info("resumed active workflows", "count", len(active))
	return len(active), nil
}

// Initiate validates the assessment, classifies severity, builds the full
// workflow (steps, resources, pathways, team, milestones, checkpoints),
// persists it and starts its actor. Nothing is created on validation or
// persistence failure.
func (o *Orchestrator) Initiate(ctx context.Context, subjectID string, assessment crisis.RiskAssessment) (*crisis.Workflow, error) {
	if subjectID == "" {
		return nil, &crisis.ValidationError{Field: "subject_id", Reason: "must not be empty"}
	}
	if err := assessment.Validate(); err != nil {
		return nil, err
	}

	now := o.clk.Now()
	severity := crisis.Classify(assessment)

	subjectCtx, err := o.directory.SubjectContext(ctx, subjectID)
	if err != nil {
		// Intake proceeds on defaults; the profile service must not gate it.
		o.log.Warn("subject context unavailable, using defaults",
			"subject_id", subjectID, "error", err)
		subjectCtx = crisis.DefaultSubjectContext()
	}

	resources, err := o.picker.Select(ctx, severity, assessment.Type)
	if err != nil {
		return nil, err
	}

	wf := &crisis.Workflow{
		ID:         uuid.New(),
		SubjectID:  subjectID,
		CreatedAt:  now,
		UpdatedAt:  now,
		Status:     crisis.StatusInitiated,
		Severity:   severity,
		Assessment: assessment,
		Steps:      steps.Generate(severity, assessment.Type, now),
		Resources:  resources,
		Pathways:   o.engine.Pathways(severity),
		Team:       o.engine.AssignTeam(severity),
		Context:    subjectCtx,
		SafetyPlan: subjectCtx.SafetyPlanSeed,
	}

	wf.Timeline.Append(now, crisis.EventWorkflowCreated, "orchestrator", map[string]string{
		"severity":    string(severity),
		"crisis_type": string(assessment.Type),
		"steps":       strconv.Itoa(len(wf.Steps)),
	})
	wf.Timeline.AddMilestone("first-contact", now.Add(o.timing.FirstContactWindow))
	wf.Timeline.AddMilestone("stabilized", now.Add(o.timing.StabilizeWindow))
	if severity.AtLeast(crisis.SeveritySevere) {
		wf.Timeline.AddDeadline("first-contact", now.Add(o.timing.FirstContactWindow),
			"subject not reached within the first-contact window",
			crisis.ActionNotifySupervisor, crisis.ActionEscalate)
	}

	wf.Checkpoints = []*crisis.Checkpoint{
		{
			ID: uuid.New(), Type: crisis.CheckpointSafetyCheck,
			ScheduledAt: now.Add(o.timing.FirstSafetyCheck),
			Recurring:   true, Interval: o.timing.SafetyCheckInterval,
		},
		{
			ID: uuid.New(), Type: crisis.CheckpointProgressReview,
			ScheduledAt: now.Add(o.timing.ProgressReviewAfter),
		},
		{
			ID: uuid.New(), Type: crisis.CheckpointRiskReassessment,
			ScheduledAt: now.Add(o.timing.ReassessmentAfter),
			Recurring:   true, Interval: o.timing.ReassessmentAfter,
		},
	}

	if err := o.store.Put(ctx, wf); err != nil {
		return nil, &PersistenceError{Op: "initiate", Err: err}
	}

	if o.cache != nil {
		if err := o.cache.MarkActive(ctx, wf.ID); err != nil {
			o.log.Warn("active-set mark failed", "workflow_id", wf.ID.String(), "error", err)
		}
	}

	o.spawn(wf)
	o.publish(messaging.SubjectWorkflowCreated, messaging.WorkflowEventMessage{
		WorkflowID: wf.ID, SubjectID: wf.SubjectID,
		Status: string(wf.Status), Severity: string(wf.Severity), At: now,
	})
	o.afterCommit(wf, 0)

	o.log.Info("workflow initiated",
		"workflow_id", wf.ID.String(),
		"subject_id", subjectID,
		"severity", string(severity),
		"steps", len(wf.Steps))
	return wf.Clone(), nil
}

// Get returns a snapshot of the workflow. Live actors answer from memory;
// otherwise the snapshot cache and the durable store are consulted.
func (o *Orchestrator) Get(ctx context.Context, id uuid.UUID) (*crisis.Workflow, error) {
	if a, ok := o.actor(id); ok {
		if wf, err := a.snapshot(ctx); err == nil {
			return wf, nil
		}
	}
	if o.cache != nil {
		if wf, err := o.cache.GetSnapshot(ctx, id); err == nil {
			return wf, nil
		}
	}
	wf, err := o.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return wf, err
}

// Escalate applies a manual escalation. With no explicit target the severity
// moves one tier up the ladder; an explicit target is the supervisor override
// path and is validated by the gateway before it gets here.
func (o *Orchestrator) Escalate(ctx context.Context, id uuid.UUID, reason string, target *crisis.SeverityTier) (escalation.Result, error) {
	a, ok := o.actor(id)
	if !ok {
		return escalation.Result{}, ErrNotFound
	}

	why := escalation.ReasonManual
	if reason != "" {
		why = escalation.Reason(reason)
	}
	var res escalation.Result
	err := a.send(ctx, "escalate", false, func(wf *crisis.Workflow) error {
		r, err := o.engine.Consider(ctx, wf, why, target, o.clk.Now())
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return escalation.Result{}, err
	}
	if res.Applied {
		o.publishEscalated(ctx, id)
	}
	return res, nil
}

// RecordCheckpoint records findings for a scheduled checkpoint. Worsening
// findings trigger the escalation protocol; recurring checkpoints reschedule
// themselves.
func (o *Orchestrator) RecordCheckpoint(ctx context.Context, id, checkpointID uuid.UUID, findings crisis.Findings) error {
	a, ok := o.actor(id)
	if !ok {
		return ErrNotFound
	}

	return a.send(ctx, "checkpoint.record", false, func(wf *crisis.Workflow) error {
		cp, ok := wf.Checkpoint(checkpointID)
		if !ok {
			return ErrNotFound
		}
		if cp.FiredAt != nil {
			return ErrCheckpointRecorded
		}
		now := o.clk.Now()
		cp.FiredAt = &now
		cp.Findings = &findings
		wf.Timeline.Append(now, crisis.EventCheckpointRecorded, findings.RecordedBy, map[string]string{
			"checkpoint_id": cp.ID.String(),
			"type":          string(cp.Type),
			"trend":         string(findings.Trend),
			"safety":        string(findings.Safety),
		})

		if findings.RequiresEscalation() {
			cp.Escalated = true
			if _, err := o.engine.Consider(ctx, wf, escalation.ReasonCheckpointFindings, nil, now); err != nil {
				return err
			}
		}
		if cp.Recurring && cp.Interval > 0 {
			wf.Checkpoints = append(wf.Checkpoints, &crisis.Checkpoint{
				ID:          uuid.New(),
				Type:        cp.Type,
				ScheduledAt: now.Add(cp.Interval),
				Recurring:   true,
				Interval:    cp.Interval,
			})
		}
		return nil
	})
}

// Complete finalizes the workflow through the outcome tracker, retires its
// actor and removes it from the active set. The tracker archives the snapshot
// itself; a failed archive leaves everything as it was.
func (o *Orchestrator) Complete(ctx context.Context, id uuid.UUID, out crisis.Outcome) (*crisis.Workflow, error) {
	a, ok := o.actor(id)
	if !ok {
		return nil, ErrNotFound
	}

	var final *crisis.Workflow
	err := a.send(ctx, "complete", true, func(wf *crisis.Workflow) error {
		if err := o.tracker.Complete(ctx, wf, out, o.clk.Now()); err != nil {
			return err
		}
		final = wf.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.remove(id)
	if o.cache != nil {
		if err := o.cache.MarkInactive(ctx, id); err != nil {
			o.log.Warn("active-set removal failed", "workflow_id", id.String(), "error", err)
		}
	}
	o.publish(messaging.SubjectWorkflowCompleted, messaging.WorkflowEventMessage{
		WorkflowID: final.ID, SubjectID: final.SubjectID,
		Status: string(final.Status), Severity: string(final.Severity), At: o.clk.Now(),
	})
	return final, nil
}

// ActiveWorkflowIDs lists the workflows with a live actor.
func (o *Orchestrator) ActiveWorkflowIDs() []uuid.UUID {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(o.actors))
	for id := range o.actors {
		out = append(out, id)
	}
	return out
}

// TrySnapshot returns a snapshot of a live workflow without blocking on a
// busy actor.
func (o *Orchestrator) TrySnapshot(ctx context.Context, id uuid.UUID) (*crisis.Workflow, bool) {
	a, ok := o.actor(id)
	if !ok {
		return nil, false
	}
	m := &message{name: "read", read: make(chan *crisis.Workflow, 1)}
	select {
	case a.mailbox <- m:
	default:
		return nil, false
	}
	select {
	case wf, open := <-m.read:
		if !open {
			return nil, false
		}
		return wf, true
	case <-ctx.Done():
		return nil, false
	}
}

// Offer enqueues a mutation without blocking. The deadline scanner uses this
// so one busy workflow never stalls the scan of the rest.
func (o *Orchestrator) Offer(id uuid.UUID, name string, fn func(wf *crisis.Workflow) error) bool {
	a, ok := o.actor(id)
	if !ok {
		return false
	}
	return a.offer(name, fn)
}

// Send enqueues a mutation and waits for the result.
func (o *Orchestrator) Send(ctx context.Context, id uuid.UUID, name string, fn func(wf *crisis.Workflow) error) error {
	a, ok := o.actor(id)
	if !ok {
		return ErrNotFound
	}
	return a.send(ctx, name, false, fn)
}

// Shutdown snapshots every live workflow into the snapshot cache so a
// restarted process serves warm reads while it resumes.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if o.cache == nil {
		return nil
	}
	ids := o.ActiveWorkflowIDs()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if wf, ok := o.TrySnapshot(gctx, id); ok {
				return o.cache.PutSnapshot(gctx, wf)
			}
			return nil
		})
	}
	return g.Wait()
}

func (o *Orchestrator) spawn(wf *crisis.Workflow) *actor {
	a := newActor(o, wf, o.mailboxSize)
	o.mu.Lock()
	o.actors[wf.ID] = a
	o.mu.Unlock()
	go a.run()
	return a
}

func (o *Orchestrator) actor(id uuid.UUID) (*actor, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	a, ok := o.actors[id]
	return a, ok
}

func (o *Orchestrator) remove(id uuid.UUID) {
	o.mu.Lock()
	delete(o.actors, id)
	o.mu.Unlock()
}

// afterCommit runs once a mutation has been durably committed: it refreshes
// the snapshot cache and mirrors any newly appended timeline events onto the
// bus. Both are best-effort.
func (o *Orchestrator) afterCommit(wf *crisis.Workflow, prevSeq int64) {
	snap := wf.Clone()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if o.cache != nil {
			if err := o.cache.PutSnapshot(ctx, snap); err != nil {
				o.log.Debug("snapshot cache write failed", "workflow_id", snap.ID.String(), "error", err)
			}
		}
		if o.events == nil {
			return
		}
		for _, ev := range snap.Timeline.Events {
			if ev.Seq <= prevSeq {
				continue
			}
			msg := messaging.TimelineEventMessage{
				WorkflowID: snap.ID, SubjectID: snap.SubjectID,
				Seq: ev.Seq, At: ev.At, Kind: string(ev.Kind),
				Actor: ev.Actor, Detail: ev.Detail,
			}
			if err := o.events.Publish(ctx, messaging.SubjectTimelineEvent, msg); err != nil {
				o.log.Debug("timeline publish failed", "workflow_id", snap.ID.String(), "error", err)
				return
			}
		}
	}()
}

func (o *Orchestrator) publish(subject string, msg interface{}) {
	if o.events == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.events.Publish(ctx, subject, msg); err != nil {
			o.log.Debug("event publish failed", "subject", subject, "error", err)
		}
	}()
}

func (o *Orchestrator) publishEscalated(ctx context.Context, id uuid.UUID) {
	if o.events == nil {
		return
	}
	if wf, ok := o.TrySnapshot(ctx, id); ok {
		o.publish(messaging.SubjectWorkflowEscalated, messaging.WorkflowEventMessage{
			WorkflowID: wf.ID, SubjectID: wf.SubjectID,
			Status: string(wf.Status), Severity: string(wf.Severity), At: o.clk.Now(),
		})
	}
}
