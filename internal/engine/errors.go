package engine

import (
	"fmt"
	"strings"
	"time"

	"stepline/internal/domain"
)

// DependencyNotReadyError reports earlier steps that have not completed.
type DependencyNotReadyError struct {
	Step    domain.StepID
	Missing []domain.StepID
}

func (e *DependencyNotReadyError) Error() string {
	return fmt.Sprintf("step %s requires completed %s", e.Step, joinSteps(e.Missing))
}

// AlreadyRunningError is returned when a step of the project is already in
// progress or a poll loop for the step exists.
type AlreadyRunningError struct {
	ProjectID string
	Step      domain.StepID
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("project %s: step %s already running", e.ProjectID, e.Step)
}

// DownstreamStartedError blocks re-running a completed step once a later step
// has left pending.
type DownstreamStartedError struct {
	Step  domain.StepID
	Later []domain.StepID
}

func (e *DownstreamStartedError) Error() string {
	return fmt.Sprintf("step %s cannot be re-run: %s already started", e.Step, joinSteps(e.Later))
}

type GenerationError struct {
	Step    domain.StepID
	Message string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation failed: %s", e.Step, e.Message)
}

type GenerationTimeoutError struct {
	Step     domain.StepID
	Attempts int
	Elapsed  time.Duration
}

func (e *GenerationTimeoutError) Error() string {
	return fmt.Sprintf("%s generation timed out after %d polls (%s)", e.Step, e.Attempts, e.Elapsed.Round(time.Millisecond))
}

type IncompleteWorkflowError struct {
	ProjectID string
	Pending   []domain.StepID
}

func (e *IncompleteWorkflowError) Error() string {
	return fmt.Sprintf("project %s not complete: %s pending", e.ProjectID, joinSteps(e.Pending))
}

type AlreadyArchivedError struct {
	ProjectID string
}

func (e *AlreadyArchivedError) Error() string {
	return fmt.Sprintf("project %s is archived", e.ProjectID)
}

type InvalidStepError struct {
	Value string
}

func (e *InvalidStepError) Error() string {
	return fmt.Sprintf("invalid step %q (want one of %s)", e.Value, joinSteps(domain.Steps))
}

// ParseStep parses a step id or alias into the closed enum.
func ParseStep(s string) (domain.StepID, error) {
	id, err := domain.ParseStepID(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return "", &InvalidStepError{Value: s}
	}
	return id, nil
}

func joinSteps(ids []domain.StepID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}
