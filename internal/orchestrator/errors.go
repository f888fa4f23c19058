package orchestrator

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned for an unknown workflow or step id.
	ErrNotFound = errors.New("workflow not found")
	// ErrStepNotFound is returned when the workflow exists but the step does not.
	ErrStepNotFound = errors.New("step not found")
	// ErrStepNotRunnable is returned when a step is started while another step
	// is in progress or the step itself already ran. Execution is strictly
	// sequential: one in-progress step per workflow.
	ErrStepNotRunnable = errors.New("step is not runnable")
	// ErrCheckpointRecorded is returned when findings are submitted for a
	// checkpoint that already fired. Checkpoints are one-shot; a retry must
	// not escalate again or reschedule another recurrence.
	ErrCheckpointRecorded = errors.New("checkpoint already recorded")
)

// PrerequisiteNotMetError is returned when a step is started out of order.
// The workflow is left untouched.
type PrerequisiteNotMetError struct {
	StepID  uuid.UUID
	Missing []uuid.UUID
}

func (e *PrerequisiteNotMetError) Error() string {
	return fmt.Sprintf("step %s has %d incomplete prerequisites", e.StepID, len(e.Missing))
}

// PersistenceError wraps a durable-store failure. The originating operation
// fails loudly and in-memory state is left unchanged.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
