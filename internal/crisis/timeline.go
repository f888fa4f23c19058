package crisis

import (
	"time"

	"github.com/google/uuid"
)

// EventKind names an entry in the timeline event log.
type EventKind string

const (
	EventWorkflowCreated    EventKind = "workflow.created"
	EventWorkflowEscalated  EventKind = "workflow.escalated"
	EventWorkflowCompleted  EventKind = "workflow.completed"
	EventWorkflowStabilized EventKind = "workflow.stabilized"
	EventStepStarted        EventKind = "step.started"
	EventStepCompleted      EventKind = "step.completed"
	EventStepFailed         EventKind = "step.failed"
	EventStepSkipped        EventKind = "step.skipped"
	EventStepReady          EventKind = "step.ready"
	EventStepInjected       EventKind = "step.injected"
	EventEscalationCeiling  EventKind = "escalation.ceiling"
	EventCheckpointRecorded EventKind = "checkpoint.recorded"
	EventMilestoneAchieved  EventKind = "milestone.achieved"
	EventMilestoneMissed    EventKind = "milestone.missed"
	EventDeadlineMissed     EventKind = "deadline.missed"
	EventFollowUpScheduled  EventKind = "followup.scheduled"
)

// TimelineEvent is one entry in the append-only event log. Entries are never
// edited or removed once appended.
type TimelineEvent struct {
	ID     uuid.UUID         `json:"id"`
	Seq    int64             `json:"seq"`
	At     time.Time         `json:"at"`
	Kind   EventKind         `json:"kind"`
	Actor  string            `json:"actor"`
	Detail map[string]string `json:"detail,omitempty"`
}

// MilestoneStatus tracks a milestone or deadline through its life.
type MilestoneStatus string

const (
	MilestoneUpcoming MilestoneStatus = "upcoming"
	MilestoneAchieved MilestoneStatus = "achieved"
	MilestoneMissed   MilestoneStatus = "missed"
	MilestoneExtended MilestoneStatus = "extended"
)

// Milestone is a named target on the workflow timeline.
type Milestone struct {
	Name     string          `json:"name"`
	Target   time.Time       `json:"target"`
	Achieved *time.Time      `json:"achieved,omitempty"`
	Status   MilestoneStatus `json:"status"`
}

// DeadlineAction is an automatic action fired when a critical deadline is
// missed.
type DeadlineAction string

const (
	ActionNotifySupervisor DeadlineAction = "notify-supervisor"
	ActionEscalate         DeadlineAction = "escalate"
)

// Deadline is a critical deadline with configured automatic consequences.
type Deadline struct {
	Name        string           `json:"name"`
	Due         time.Time        `json:"due"`
	Consequence string           `json:"consequence"`
	Actions     []DeadlineAction `json:"actions"`
	Status      MilestoneStatus  `json:"status"`
}

// Timeline is the ordered record of everything that happened to a workflow,
// plus its milestones and critical deadlines. The event log is append-only;
// Append is the only way in and nothing exposes a way to edit or drop events.
type Timeline struct {
	Events     []TimelineEvent `json:"events"`
	Milestones []*Milestone    `json:"milestones"`
	Deadlines  []*Deadline     `json:"deadlines"`
	LastSeq    int64           `json:"last_seq"`
}

// Append records a new event and returns it. Sequence numbers are strictly
// increasing so the log length is monotonically non-decreasing by
// construction.
func (t *Timeline) Append(at time.Time, kind EventKind, actor string, detail map[string]string) TimelineEvent {
	t.LastSeq++
	ev := TimelineEvent{
		ID:     uuid.New(),
		Seq:    t.LastSeq,
		At:     at,
		Kind:   kind,
		Actor:  actor,
		Detail: detail,
	}
	t.Events = append(t.Events, ev)
	return ev
}

// AddMilestone registers an upcoming milestone.
func (t *Timeline) AddMilestone(name string, target time.Time) *Milestone {
	m := &Milestone{Name: name, Target: target, Status: MilestoneUpcoming}
	t.Milestones = append(t.Milestones, m)
	return m
}

// AddDeadline registers a critical deadline with its automatic actions.
func (t *Timeline) AddDeadline(name string, due time.Time, consequence string, actions ...DeadlineAction) *Deadline {
	d := &Deadline{Name: name, Due: due, Consequence: consequence, Actions: actions, Status: MilestoneUpcoming}
	t.Deadlines = append(t.Deadlines, d)
	return d
}

// AchieveMilestone marks the named milestone achieved if it is still open.
func (t *Timeline) AchieveMilestone(name string, at time.Time) bool {
	for _, m := range t.Milestones {
		if m.Name == name && (m.Status == MilestoneUpcoming || m.Status == MilestoneExtended) {
			ts := at
			m.Achieved = &ts
			m.Status = MilestoneAchieved
			return true
		}
	}
	return false
}

func (t *Timeline) clone() Timeline {
	out := Timeline{LastSeq: t.LastSeq}
	out.Events = make([]TimelineEvent, len(t.Events))
	copy(out.Events, t.Events)
	out.Milestones = make([]*Milestone, len(t.Milestones))
	for i, m := range t.Milestones {
		c := *m
		if m.Achieved != nil {
			at := *m.Achieved
			c.Achieved = &at
		}
		out.Milestones[i] = &c
	}
	out.Deadlines = make([]*Deadline, len(t.Deadlines))
	for i, d := range t.Deadlines {
		c := *d
		c.Actions = append([]DeadlineAction(nil), d.Actions...)
		out.Deadlines[i] = &c
	}
	return out
}
