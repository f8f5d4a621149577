package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"stepline/internal/repo"
	"stepline/internal/workspace"
)

// WriteFile writes content into the workspace root. Writes into the workspace
// of an archived project are rejected; writes into a project workspace hold
// that project's lock.
func (e Engine) WriteFile(ctx context.Context, path, content string) (string, error) {
	full, err := e.Files.Resolve(path)
	if err != nil {
		return "", err
	}
	if owner := e.workspaceOf(full); owner != "" {
		p, err := e.Repo.ProjectByWorkspace(ctx, owner)
		switch {
		case err == nil:
			unlock := e.Repo.Locks.Lock(p.ID)
			defer unlock()
			// re-read under the lock; archiving may have just finished
			if p, err = e.Repo.GetProject(ctx, p.ID); err != nil {
				return "", err
			}
			if p.Archived() {
				return "", &AlreadyArchivedError{ProjectID: p.ID}
			}
		case errors.Is(err, repo.ErrNotFound):
		default:
			return "", err
		}
	}
	if err := e.Files.Write(full, content); err != nil {
		return "", err
	}
	return full, nil
}

// ReadFile reads from the workspace root, falling back to the archive root.
func (e Engine) ReadFile(path string) (workspace.FileInfo, error) {
	info, err := e.Files.ReadInfo(path)
	if errors.Is(err, workspace.ErrOutsideRoot) {
		return e.Archives.ReadInfo(path)
	}
	return info, err
}

// ListFiles lists a directory in the workspace root or the archive root. An
// empty path lists the workspace root.
func (e Engine) ListFiles(dir string) ([]workspace.FileEntry, error) {
	if strings.TrimSpace(dir) == "" {
		dir = e.Files.Root
	}
	entries, err := e.Files.List(dir)
	if errors.Is(err, workspace.ErrOutsideRoot) {
		return e.Archives.List(dir)
	}
	return entries, err
}

// workspaceOf returns the project workspace directory containing full, which
// is the first path element below the workspace root.
func (e Engine) workspaceOf(full string) string {
	rel, err := filepath.Rel(e.Files.Root, full)
	if err != nil || rel == "." {
		return ""
	}
	first := strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]
	if first == "" || first == ".." {
		return ""
	}
	return filepath.Join(e.Files.Root, first)
}
