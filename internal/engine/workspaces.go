package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"stepline/internal/domain"
	"stepline/internal/events"
	"stepline/internal/repo"
	"stepline/internal/workspace"
)

// WorkspaceInfo reports a project's workspace path and whether it exists on
// disk.
func (e Engine) WorkspaceInfo(ctx context.Context, projectID string) (domain.WorkspaceInfo, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.WorkspaceInfo{}, err
	}
	st, err := os.Stat(p.Workspace)
	return domain.WorkspaceInfo{
		ProjectID:     p.ID,
		WorkspacePath: p.Workspace,
		Exists:        err == nil && st.IsDir(),
	}, nil
}

// ScanWorkspaces lists directories under the workspace root that hold at
// least one step artifact, with the owning project when there is one.
func (e Engine) ScanWorkspaces(ctx context.Context) ([]domain.WorkspaceCandidate, error) {
	entries, err := e.Files.List(e.Files.Root)
	if err != nil {
		return nil, err
	}
	var res []domain.WorkspaceCandidate
	for _, ent := range entries {
		if !ent.IsDirectory {
			continue
		}
		c := domain.WorkspaceCandidate{Directory: ent.Name, Workspace: ent.Path}
		for _, id := range domain.Steps {
			if st, err := os.Stat(filepath.Join(ent.Path, id.FileName())); err == nil && st.Mode().IsRegular() {
				c.Artifacts = append(c.Artifacts, id)
			}
		}
		if len(c.Artifacts) == 0 {
			continue
		}
		p, err := e.Repo.ProjectByWorkspace(ctx, ent.Path)
		switch {
		case err == nil:
			c.ProjectID = p.ID
		case !errors.Is(err, repo.ErrNotFound):
			return nil, err
		}
		res = append(res, c)
	}
	return res, nil
}

// ImportWorkspaces registers unowned workspace directories as projects. Steps
// whose artifacts form an unbroken prefix of the pipeline are marked
// completed; the rest stay pending and are overwritten when run. Directories
// without an analysis artifact are skipped.
func (e Engine) ImportWorkspaces(ctx context.Context, actorID string) ([]domain.Project, error) {
	candidates, err := e.ScanWorkspaces(ctx)
	if err != nil {
		return nil, err
	}
	var imported []domain.Project
	for _, c := range candidates {
		if c.ProjectID != "" || c.Artifacts[0] != domain.StepAnalysis {
			continue
		}
		p, err := e.importWorkspace(ctx, c, actorID)
		if err != nil {
			return imported, err
		}
		imported = append(imported, p)
	}
	return imported, nil
}

func (e Engine) importWorkspace(ctx context.Context, c domain.WorkspaceCandidate, actorID string) (domain.Project, error) {
	now := e.timestamp()
	p := domain.Project{
		ID:        uuid.NewString(),
		Name:      workspace.TitleFromDir(c.Directory),
		Workspace: c.Workspace,
		Steps:     domain.NewSteps(now),
		CreatedAt: now,
		UpdatedAt: now,
	}
	p.Description = "Project workspace: " + c.Directory
	for i, id := range domain.Steps {
		if i >= len(c.Artifacts) || c.Artifacts[i] != id {
			break
		}
		content, err := e.Files.Read(filepath.Join(c.Workspace, id.FileName()))
		if err != nil {
			return domain.Project{}, err
		}
		rel := id.FileName()
		p.Steps[i].Status = domain.StepCompleted
		p.Steps[i].Output = &content
		p.Steps[i].FilePath = &rel
		if id == domain.StepAnalysis {
			if d := summaryLine(content); d != "" {
				p.Description = d
			}
		}
	}
	p.Status = domain.DeriveStatus(p.Steps, false)
	rec := events.Record{
		Type:       events.ProjectImported,
		ProjectID:  p.ID,
		EntityKind: "project",
		EntityID:   p.ID,
		ActorID:    actorID,
		Payload:    events.Payload{"name": p.Name, "workspace": p.Workspace},
	}
	if err := e.Repo.InsertProject(ctx, p, rec); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// summaryLine returns the first non-heading line longer than ten characters,
// cut to 200.
func summaryLine(content string) string {
	lines := strings.Split(content, "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || len(line) <= 10 {
			continue
		}
		if r := []rune(line); len(r) > 200 {
			return string(r[:200]) + "..."
		}
		return line
	}
	return ""
}
