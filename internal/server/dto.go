package server

import (
	"encoding/json"

	"stepline/internal/domain"
)

// Request payloads

type CreateProjectRequest struct {
	Name        string `json:"name,omitempty" doc:"derived from prompt when empty"`
	Description string `json:"description,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
}

type RunStepRequest struct {
	ProjectID string `json:"project_id" minLength:"1"`
	// InputFiles is accepted for client compatibility; the step always reads
	// the canonical artifacts of the earlier steps.
	InputFiles []string `json:"input_files,omitempty"`
}

type ReadFileRequest struct {
	FilePath string `json:"file_path" minLength:"1"`
}

type WriteFileRequest struct {
	FilePath string `json:"file_path" minLength:"1"`
	Content  string `json:"content"`
}

type ListFilesRequest struct {
	DirectoryPath string `json:"directory_path,omitempty"`
}

// Response payloads

type ProjectResponse domain.Project

type StepHandleResponse domain.StepHandle

type ArchiveResponse domain.ArchiveResult

type WriteFileResponse struct {
	Path string `json:"path"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// Conversion helpers

func projectResponse(p domain.Project) ProjectResponse {
	if p.Steps == nil {
		p.Steps = []domain.Step{}
	}
	return ProjectResponse(p)
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{"raw": raw}
	}
	return out
}
