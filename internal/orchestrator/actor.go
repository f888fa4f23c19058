package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mindhaven/crisisflow/internal/crisis"
)

const (
	persistTimeout = 10 * time.Second
	// retireGrace keeps a finished actor draining its mailbox long enough for
	// racing scheduler offers to get a clean not-found answer.
	retireGrace = 30 * time.Second
)

// message is one unit of work for a workflow actor: either a read (snapshot)
// or a mutation. Mutations run against a clone and commit only after the
// durable store accepted the write.
type message struct {
	name   string
	mutate func(wf *crisis.Workflow) error
	read   chan *crisis.Workflow
	reply  chan error
	// final marks a completion mutation: the mutate func hands the snapshot
	// to archival itself, so the actor skips the active-table write and
	// retires after committing.
	final bool
}

func (m *message) done(err error) {
	if m.reply != nil {
		m.reply <- err
	}
}

// actor owns exactly one workflow. All mutations funnel through its mailbox,
// which serializes concurrent operations on the same workflow id without a
// lock around the aggregate.
type actor struct {
	id      uuid.UUID
	mailbox chan *message
	wf      *crisis.Workflow
	orch    *Orchestrator
	retired bool
}

func newActor(orch *Orchestrator, wf *crisis.Workflow, mailboxSize int) *actor {
	return &actor{
		id:      wf.ID,
		mailbox: make(chan *message, mailboxSize),
		wf:      wf,
		orch:    orch,
	}
}

func (a *actor) run() {
	for m := range a.mailbox {
		a.handle(m)
		if a.retired {
			a.drain()
			return
		}
	}
}

func (a *actor) handle(m *message) {
	if m.read != nil {
		m.read <- a.wf.Clone()
		return
	}

	clone := a.wf.Clone()
	if err := m.mutate(clone); err != nil {
		m.done(err)
		return
	}

	prevSeq := a.wf.Timeline.LastSeq
	if !m.final {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err := a.orch.store.Put(ctx, clone)
		cancel()
		if err != nil {
			// The clone is discarded; in-memory state stays as it was.
			m.done(&PersistenceError{Op: m.name, Err: err})
			return
		}
	}

	a.wf = clone
	a.retired = m.final
	a.orch.afterCommit(a.wf, prevSeq)
	m.done(nil)
}

// drain answers stragglers that still hold a reference to this actor after it
// retired, then lets the goroutine exit.
func (a *actor) drain() {
	for {
		select {
		case m, ok := <-a.mailbox:
			if !ok {
				return
			}
			if m.read != nil {
				close(m.read)
				continue
			}
			m.done(ErrNotFound)
		case <-time.After(retireGrace):
			return
		}
	}
}

// send enqueues a mutation and waits for its outcome.
func (a *actor) send(ctx context.Context, name string, final bool, fn func(wf *crisis.Workflow) error) error {
	m := &message{name: name, mutate: fn, reply: make(chan error, 1), final: final}
	select {
	case a.mailbox <- m:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-m.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// offer enqueues a mutation without blocking. A full mailbox means the actor
// is busy; the caller (the deadline scanner) simply tries again next tick.
func (a *actor) offer(name string, fn func(wf *crisis.Workflow) error) bool {
	m := &message{name: name, mutate: fn}
	select {
	case a.mailbox <- m:
		return true
	default:
		return false
	}
}

// snapshot returns a deep copy of the current workflow state.
func (a *actor) snapshot(ctx context.Context) (*crisis.Workflow, error) {
	m := &message{name: "read", read: make(chan *crisis.Workflow, 1)}
	select {
	case a.mailbox <- m:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case wf, ok := <-m.read:
		if !ok {
			return nil, ErrNotFound
		}
		return wf, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
