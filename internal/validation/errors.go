package validation

import "fmt"

// Stage names the task step that failed.
type Stage string

const (
	StageContext  Stage = "context"
	StagePrompt   Stage = "prompt"
	StageComplete Stage = "completion"
	StageParse    Stage = "parse"
	StagePanic    Stage = "panic"
	StageCanceled Stage = "canceled"
)

// TaskError is why a single finding resolved to FAILED.
type TaskError struct {
	FindingID string
	Stage     Stage
	cause     error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("validate finding %s: %s: %v", e.FindingID, e.Stage, e.cause)
}

func (e *TaskError) Unwrap() error {
	return e.cause
}

func taskError(id string, stage Stage, cause error) *TaskError {
	return &TaskError{FindingID: id, Stage: stage, cause: cause}
}
