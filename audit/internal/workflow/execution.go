package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/telhawk-systems/telhawk-audit/audit/internal/models"
	"github.com/telhawk-systems/telhawk-audit/audit/pkg/event"
)

// State is a saga state.
type State string

const (
	StateStart          State = "START"
	StatePersistPayload State = "PERSIST_PAYLOAD"
	StateWriteIndex     State = "WRITE_INDEX"
	StateDone           State = "DONE"
	StateFailed         State = "FAILED"
)

// Terminal reports whether no further transition can happen in this run.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// ErrTimeout is returned when a run exceeds its time bound.
var ErrTimeout = errors.New("workflow timed out")

// StepResult records the outcome of one step.
type StepResult struct {
	Step       State  `json:"step"`
	Status     string `json:"status"`
	DurationMs int64  `json:"duration_ms"`
}

// Execution is the record of one workflow run.
type Execution struct {
	EventID    string       `json:"event_id"`
	State      State        `json:"state"`
	Step       State        `json:"failed_step,omitempty"`
	S3Key      string       `json:"s3_key"`
	Error      string       `json:"error,omitempty"`
	Retryable  bool         `json:"retryable,omitempty"`
	Attempts   int          `json:"attempts,omitempty"`
	Steps      []StepResult `json:"steps"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at,omitempty"`
}

// Duration is the wall time of the run so far.
func (e *Execution) Duration() time.Duration {
	if e.FinishedAt.IsZero() {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}

// StepError reports which step of which event failed.
type StepError struct {
	EventID string
	Step    State
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("workflow %s: %s: %v", e.EventID, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// IsRetryable reports whether a failed run may succeed when restarted from
// START. Transient store failures and timeouts are retryable; malformed
// events, permission and constraint failures are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, event.ErrMalformed) {
		return false
	}
	return models.IsTransient(err) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}
