package steps

import (
	"container/heap"

	"github.com/mindhaven/crisisflow/internal/crisis"
)

// RunQueue orders runnable pending steps by priority, then by plan ordinal.
// An escalation-injected lifeline step therefore always surfaces ahead of
// previously planned work without overloading the ordinal field.
type RunQueue struct {
	h stepHeap
}

// NewRunQueue builds a queue from the workflow's currently runnable steps:
// pending, with every prerequisite completed.
func NewRunQueue(wf *crisis.Workflow) *RunQueue {
	q := &RunQueue{}
	for _, s := range wf.Steps {
		if s.Status == crisis.StepPending && wf.PrerequisitesMet(s) {
			q.h = append(q.h, s)
		}
	}
	heap.Init(&q.h)
	return q
}

// Len returns the number of runnable steps.
func (q *RunQueue) Len() int { return q.h.Len() }

// Peek returns the highest-priority runnable step without removing it.
func (q *RunQueue) Peek() *crisis.InterventionStep {
	if q.h.Len() == 0 {
		return nil
	}
	return q.h[0]
}

// Pop removes and returns the highest-priority runnable step.
func (q *RunQueue) Pop() *crisis.InterventionStep {
	if q.h.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.h).(*crisis.InterventionStep)
}

// NextRunnable is a convenience for the common single-lookup case.
func NextRunnable(wf *crisis.Workflow) *crisis.InterventionStep {
	return NewRunQueue(wf).Peek()
}

type stepHeap []*crisis.InterventionStep

func (h stepHeap) Len() int { return len(h) }

func (h stepHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].Ordinal < h[j].Ordinal
}

func (h stepHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *stepHeap) Push(x interface{}) {
	*h = append(*h, x.(*crisis.InterventionStep))
}

func (h *stepHeap) Pop() interface{} {
	old := *h
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return s
}
