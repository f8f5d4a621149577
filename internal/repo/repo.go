package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"stepline/internal/domain"
	"stepline/internal/events"
)

// Repo is the project repository. It is the single source of truth for
// project and step status; all mutations go through Mutate.
type Repo struct {
	DB     *sql.DB
	Events events.Writer
	Locks  *Locks
}

var ErrNotFound = errors.New("not found")

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(db *sql.DB) Repo {
	return Repo{DB: db, Locks: NewLocks()}
}

// Mutation changes a loaded project and returns the events to record with it.
type Mutation func(p *domain.Project) ([]events.Record, error)

const projectColumns = `id,name,COALESCE(description,''),COALESCE(prompt,''),status,workspace,created_at,updated_at,archived_at,archive_path`

func scanProject(scan func(dest ...any) error) (domain.Project, error) {
	var p domain.Project
	var status string
	var archivedAt, archivePath sql.NullString
	if err := scan(&p.ID, &p.Name, &p.Description, &p.Prompt, &status, &p.Workspace, &p.CreatedAt, &p.UpdatedAt, &archivedAt, &archivePath); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, ErrNotFound
		}
		return p, err
	}
	p.Status = domain.ProjectStatus(status)
	p.ArchivedAt = optional(archivedAt)
	p.ArchivePath = optional(archivePath)
	return p, nil
}

// InsertProject stores a new project with its steps and creation events.
func (r Repo) InsertProject(ctx context.Context, p domain.Project, recs ...events.Record) error {
	if len(p.Steps) != len(domain.Steps) {
		return fmt.Errorf("project %s must have %d steps", p.ID, len(domain.Steps))
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	p.Status = domain.DeriveStatus(p.Steps, p.Archived())
	if _, err := tx.ExecContext(ctx, `INSERT INTO projects(id,name,description,prompt,status,workspace,created_at,updated_at,archived_at,archive_path) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.Description), nullable(p.Prompt), string(p.Status), p.Workspace, p.CreatedAt, p.UpdatedAt,
		nullableStringPtr(p.ArchivedAt), nullableStringPtr(p.ArchivePath)); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	for i, s := range p.Steps {
		if _, err := tx.ExecContext(ctx, `INSERT INTO steps(project_id,position,id,status,output,file_path,error,job_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
			p.ID, i, string(s.ID), string(s.Status), nullableStringPtr(s.Output), nullableStringPtr(s.FilePath),
			nullableStringPtr(s.Error), nullableStringPtr(s.JobID), s.CreatedAt, s.UpdatedAt); err != nil {
			return fmt.Errorf("insert step %s: %w", s.ID, err)
		}
	}
	for _, rec := range recs {
		if err := r.Events.Append(ctx, tx, rec); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return getProject(ctx, r.DB, id)
}

func getProject(ctx context.Context, q querier, id string) (domain.Project, error) {
	p, err := scanProject(q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id).Scan)
	if err != nil {
		return p, err
	}
	p.Steps, err = listSteps(ctx, q, p.ID)
	return p, err
}

// ProjectByWorkspace finds the project owning a workspace directory.
func (r Repo) ProjectByWorkspace(ctx context.Context, workspace string) (domain.Project, error) {
	var id string
	err := r.DB.QueryRowContext(ctx, `SELECT id FROM projects WHERE workspace=?`, workspace).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Project{}, ErrNotFound
	}
	if err != nil {
		return domain.Project{}, err
	}
	return r.GetProject(ctx, id)
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	// steps are loaded after the project cursor is released; the pool has one connection
	for i := range res {
		if res[i].Steps, err = listSteps(ctx, r.DB, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// StepRef names a step of a project.
type StepRef struct {
	ProjectID string
	Step      domain.StepID
	JobID     string
}

// InProgressSteps lists steps currently marked in_progress across projects.
func (r Repo) InProgressSteps(ctx context.Context) ([]StepRef, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_id,id,COALESCE(job_id,'') FROM steps WHERE status=? ORDER BY project_id, position`, string(domain.StepInProgress))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []StepRef
	for rows.Next() {
		var ref StepRef
		var step string
		if err := rows.Scan(&ref.ProjectID, &step, &ref.JobID); err != nil {
			return nil, err
		}
		ref.Step = domain.StepID(step)
		res = append(res, ref)
	}
	return res, rows.Err()
}

// Mutate loads a project under its lock, applies fn and persists the result
// together with the returned events. If fn fails nothing is written.
func (r Repo) Mutate(ctx context.Context, id string, fn Mutation) (domain.Project, error) {
	unlock := r.lock(id)
	defer unlock()

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	p, err := getProject(ctx, tx, id)
	if err != nil {
		return domain.Project{}, err
	}
	recs, err := fn(&p)
	if err != nil {
		return domain.Project{}, err
	}
	p.Status = domain.DeriveStatus(p.Steps, p.Archived())
	if err := saveProject(ctx, tx, p); err != nil {
		return domain.Project{}, err
	}
	for _, rec := range recs {
		if rec.ProjectID == "" {
			rec.ProjectID = p.ID
		}
		if err := r.Events.Append(ctx, tx, rec); err != nil {
			return domain.Project{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (r Repo) lock(id string) func() {
	if r.Locks == nil {
		return func() {}
	}
	return r.Locks.Lock(id)
}

func saveProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET name=?, description=?, prompt=?, status=?, updated_at=?, archived_at=?, archive_path=? WHERE id=?`,
		p.Name, nullable(p.Description), nullable(p.Prompt), string(p.Status), p.UpdatedAt,
		nullableStringPtr(p.ArchivedAt), nullableStringPtr(p.ArchivePath), p.ID)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	for _, s := range p.Steps {
		if _, err := tx.ExecContext(ctx, `UPDATE steps SET status=?, output=?, file_path=?, error=?, job_id=?, updated_at=? WHERE project_id=? AND id=?`,
			string(s.Status), nullableStringPtr(s.Output), nullableStringPtr(s.FilePath), nullableStringPtr(s.Error),
			nullableStringPtr(s.JobID), s.UpdatedAt, p.ID, string(s.ID)); err != nil {
			return fmt.Errorf("update step %s: %w", s.ID, err)
		}
	}
	return nil
}

func listSteps(ctx context.Context, q querier, projectID string) ([]domain.Step, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,status,output,file_path,error,job_id,created_at,updated_at FROM steps WHERE project_id=? ORDER BY position`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Step
	for rows.Next() {
		var s domain.Step
		var id, status string
		var output, filePath, stepErr, jobID sql.NullString
		if err := rows.Scan(&id, &status, &output, &filePath, &stepErr, &jobID, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.ID = domain.StepID(id)
		s.Name = s.ID.Name()
		s.Status = domain.StepStatus(status)
		s.Output = optional(output)
		s.FilePath = optional(filePath)
		s.Error = optional(stepErr)
		s.JobID = optional(jobID)
		res = append(res, s)
	}
	return res, rows.Err()
}

func optional(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
