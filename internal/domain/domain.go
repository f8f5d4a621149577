package domain

import (
	"fmt"
	"path/filepath"
)

// StepID identifies one of the four fixed pipeline stages.
type StepID string

const (
	StepAnalysis     StepID = "analysis"
	StepArchitecture StepID = "architecture"
	StepPlanning     StepID = "planning"
	StepOptimization StepID = "optimization"
)

// Steps is the pipeline order. Later steps consume earlier artifacts.
var Steps = []StepID{StepAnalysis, StepArchitecture, StepPlanning, StepOptimization}

var stepNames = map[StepID]string{
	StepAnalysis:     "Requirements Analysis",
	StepArchitecture: "Technical Architecture",
	StepPlanning:     "Implementation Planning",
	StepOptimization: "Prompt Optimization",
}

// ParseStepID accepts the canonical ids plus the "architect" alias.
func ParseStepID(s string) (StepID, error) {
	switch s {
	case "analysis":
		return StepAnalysis, nil
	case "architecture", "architect":
		return StepArchitecture, nil
	case "planning":
		return StepPlanning, nil
	case "optimization":
		return StepOptimization, nil
	}
	return "", fmt.Errorf("invalid step %q", s)
}

// Index returns the position of the step in the pipeline, or -1.
func (s StepID) Index() int {
	for i, id := range Steps {
		if id == s {
			return i
		}
	}
	return -1
}

// Name is the human label of the step.
func (s StepID) Name() string { return stepNames[s] }

// FileName is the canonical workspace-relative artifact path.
func (s StepID) FileName() string { return string(s) + ".md" }

type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepError      StepStatus = "error"
)

type ProjectStatus string

const (
	ProjectDraft      ProjectStatus = "draft"
	ProjectProcessing ProjectStatus = "processing"
	ProjectCompleted  ProjectStatus = "completed"
	ProjectError      ProjectStatus = "error"
	ProjectArchived   ProjectStatus = "archived"
)

type Step struct {
	ID        StepID     `json:"id" enum:"analysis,architecture,planning,optimization"`
	Name      string     `json:"name"`
	Status    StepStatus `json:"status" enum:"pending,in_progress,completed,error"`
	Output    *string    `json:"output,omitempty"`
	FilePath  *string    `json:"file_path,omitempty"`
	Error     *string    `json:"error,omitempty"`
	JobID     *string    `json:"job_id,omitempty"`
	CreatedAt string     `json:"created_at" format:"date-time"`
	UpdatedAt string     `json:"updated_at" format:"date-time"`
}

type Project struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Prompt      string        `json:"prompt,omitempty"`
	Status      ProjectStatus `json:"status" enum:"draft,processing,completed,error,archived"`
	Workspace   string        `json:"workspace"`
	Steps       []Step        `json:"steps"`
	CreatedAt   string        `json:"created_at" format:"date-time"`
	UpdatedAt   string        `json:"updated_at" format:"date-time"`
	ArchivedAt  *string       `json:"archived_at,omitempty" format:"date-time"`
	ArchivePath *string       `json:"archive_path,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// StepHandle references a submitted generation job.
type StepHandle struct {
	ProjectID   string `json:"project_id"`
	Step        StepID `json:"step"`
	JobID       string `json:"job_id"`
	SubmittedAt string `json:"submitted_at" format:"date-time"`
}

// StepResult is the settled outcome of a polled step.
type StepResult struct {
	ProjectID string     `json:"project_id"`
	Step      StepID     `json:"step"`
	Status    StepStatus `json:"status"`
	FilePath  string     `json:"file_path,omitempty"`
	Error     string     `json:"error,omitempty"`
	Attempts  int        `json:"attempts"`
}

type ArchiveResult struct {
	ProjectID   string `json:"project_id"`
	ProjectName string `json:"project_name"`
	LocalPath   string `json:"local_path"`
	ArchivedAt  string `json:"archived_at" format:"date-time"`
}

// WorkspaceInfo reports where a project's workspace lives.
type WorkspaceInfo struct {
	ProjectID     string `json:"project_id"`
	WorkspacePath string `json:"workspace_path"`
	Exists        bool   `json:"exists"`
}

// WorkspaceCandidate is a directory under the workspace root that holds step
// artifacts. ProjectID is empty when no project owns it.
type WorkspaceCandidate struct {
	Directory string   `json:"directory"`
	Workspace string   `json:"workspace"`
	ProjectID string   `json:"project_id,omitempty"`
	Artifacts []StepID `json:"artifacts"`
}

// NewSteps returns the four pending steps of a fresh project.
func NewSteps(now string) []Step {
	steps := make([]Step, 0, len(Steps))
	for _, id := range Steps {
		steps = append(steps, Step{
			ID:        id,
			Name:      id.Name(),
			Status:    StepPending,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return steps
}

// Step returns a pointer into p.Steps for id.
func (p *Project) Step(id StepID) *Step {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

func (p Project) Archived() bool { return p.ArchivedAt != nil }

// Result reports the stored state of one step. FilePath is absolute.
func (p Project) Result(id StepID) StepResult {
	res := StepResult{ProjectID: p.ID, Step: id}
	for _, s := range p.Steps {
		if s.ID != id {
			continue
		}
		res.Status = s.Status
		if s.FilePath != nil && s.Status == StepCompleted {
			res.FilePath = filepath.Join(p.Workspace, *s.FilePath)
		}
		if s.Error != nil {
			res.Error = *s.Error
		}
	}
	return res
}

// DeriveStatus computes the project status from its steps.
func DeriveStatus(steps []Step, archived bool) ProjectStatus {
	if archived {
		return ProjectArchived
	}
	var completed, running, failed int
	for _, s := range steps {
		switch s.Status {
		case StepCompleted:
			completed++
		case StepInProgress:
			running++
		case StepError:
			failed++
		}
	}
	switch {
	case failed > 0:
		return ProjectError
	case len(steps) > 0 && completed == len(steps):
		return ProjectCompleted
	case running > 0, completed > 0:
		return ProjectProcessing
	default:
		return ProjectDraft
	}
}

// CanTransition reports whether a step may move from one status to another.
func CanTransition(from, to StepStatus) bool {
	switch from {
	case StepPending:
		return to == StepInProgress
	case StepInProgress:
		return to == StepCompleted || to == StepError
	case StepError:
		return to == StepInProgress
	case StepCompleted:
		return to == StepInProgress
	}
	return false
}

// EnsureTransition is CanTransition with an error.
func EnsureTransition(from, to StepStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return fmt.Errorf("invalid step status transition %s -> %s", from, to)
}
