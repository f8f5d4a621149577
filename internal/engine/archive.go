package engine

import (
	"context"
	"errors"
	"fmt"
	"os"

	"stepline/internal/domain"
	"stepline/internal/events"
	"stepline/internal/workspace"
)

const archiveStamp = "20060102-150405"

// Archive snapshots a completed project's workspace into the archive root and
// seals the project. Copied files are read-only.
func (e Engine) Archive(ctx context.Context, projectID, actorID string) (domain.ArchiveResult, error) {
	var res domain.ArchiveResult
	var created string
	_, err := e.Repo.Mutate(ctx, projectID, func(p *domain.Project) ([]events.Record, error) {
		if p.Archived() {
			return nil, &AlreadyArchivedError{ProjectID: p.ID}
		}
		var pending []domain.StepID
		for _, s := range p.Steps {
			if s.Status != domain.StepCompleted {
				pending = append(pending, s.ID)
			}
		}
		if len(pending) > 0 {
			return nil, &IncompleteWorkflowError{ProjectID: p.ID, Pending: pending}
		}
		now := e.now().UTC()
		dir, err := e.allocateArchiveDir(workspace.Slug(p.Name) + "-" + now.Format(archiveStamp))
		if err != nil {
			return nil, err
		}
		created = dir
		if err := workspace.CopyTree(p.Workspace, dir); err != nil {
			removeArchive(dir)
			return nil, fmt.Errorf("copy workspace: %w", err)
		}
		ts := e.timestamp()
		p.ArchivedAt = &ts
		p.ArchivePath = &dir
		p.UpdatedAt = ts
		res = domain.ArchiveResult{
			ProjectID:   p.ID,
			ProjectName: p.Name,
			LocalPath:   dir,
			ArchivedAt:  ts,
		}
		return []events.Record{{
			Type:       events.ProjectArchived,
			ProjectID:  p.ID,
			EntityKind: "project",
			EntityID:   p.ID,
			ActorID:    actorID,
			Payload:    events.Payload{"archive_path": dir},
		}}, nil
	})
	if err != nil {
		if created != "" {
			removeArchive(created)
		}
		return domain.ArchiveResult{}, err
	}
	return res, nil
}

// allocateArchiveDir creates base, or base-2, base-3 ... if taken.
func (e Engine) allocateArchiveDir(base string) (string, error) {
	name := base
	for i := 2; i < 1000; i++ {
		dir, err := e.Archives.CreateDir(name)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, workspace.ErrExists) {
			return "", err
		}
		name = fmt.Sprintf("%s-%d", base, i)
	}
	return "", fmt.Errorf("no free archive directory for %s", base)
}

// removeArchive drops a partial copy.
func removeArchive(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		_ = os.Chmod(dir, 0o755)
		_ = os.RemoveAll(dir)
	}
}
