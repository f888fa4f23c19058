package messaging

import (
	"time"

	"github.com/google/uuid"
)

// Subjects published by the orchestrator core.
const (
	SubjectWorkflowCreated   = "crisis.workflow.created"
	SubjectWorkflowEscalated = "crisis.workflow.escalated"
	SubjectWorkflowCompleted = "crisis.workflow.completed"
	SubjectTimelineEvent     = "crisis.workflow.timeline"

	// Urgency is part of the sink subject so operators can subscribe to
	// emergencies alone.
	subjectNotifyPrefix = "crisis.notify."
)

// NotifySubject returns the sink subject for an urgency level.
func NotifySubject(urgency string) string {
	if urgency == "" {
		urgency = "routine"
	}
	return subjectNotifyPrefix + urgency
}

// Notification is the payload handed to the external notification sink.
// Delivery is fire-and-forget; failures are logged by the sink, not retried
// here.
type Notification struct {
	Target   string            `json:"target"`
	Urgency  string            `json:"urgency"`
	Template string            `json:"template"`
	Payload  map[string]string `json:"payload,omitempty"`
	SentAt   time.Time         `json:"sent_at"`
}

// TimelineEventMessage mirrors a workflow timeline event onto the bus for
// monitoring consumers (including the gateway's websocket feed).
type TimelineEventMessage struct {
	WorkflowID uuid.UUID         `json:"workflow_id"`
	SubjectID  string            `json:"subject_id"`
	Seq        int64             `json:"seq"`
	At         time.Time         `json:"at"`
	Kind       string            `json:"kind"`
	Actor      string            `json:"actor"`
	Detail     map[string]string `json:"detail,omitempty"`
}

// WorkflowEventMessage announces workflow-level lifecycle changes.
type WorkflowEventMessage struct {
	WorkflowID uuid.UUID `json:"workflow_id"`
	SubjectID  string    `json:"subject_id"`
	Status     string    `json:"status"`
	Severity   string    `json:"severity"`
	At         time.Time `json:"at"`
}
