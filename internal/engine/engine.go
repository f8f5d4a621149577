package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"stepline/internal/config"
	"stepline/internal/domain"
	"stepline/internal/events"
	"stepline/internal/generation"
	"stepline/internal/repo"
	"stepline/internal/workspace"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Files    workspace.Store
	Archives workspace.Store
	Gen      generation.Client
	Config   *config.Config
	Logger   *log.Logger
	Now      func() time.Time

	pollers *registry
}

// New builds an engine over an opened, migrated database. Workspace and
// archive roots are created if missing.
func New(db *sql.DB, cfg *config.Config, gen generation.Client) (Engine, error) {
	if cfg == nil {
		return Engine{}, errors.New("config not loaded")
	}
	files, err := workspace.New(cfg.WorkspaceRoot)
	if err != nil {
		return Engine{}, err
	}
	archives, err := workspace.New(cfg.ArchiveRoot)
	if err != nil {
		return Engine{}, err
	}
	return Engine{
		DB:       db,
		Repo:     repo.New(db),
		Files:    files,
		Archives: archives,
		Gen:      gen,
		Config:   cfg,
		Logger:   log.New(os.Stderr, "", log.LstdFlags),
		Now:      time.Now,
		pollers:  newRegistry(),
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}

// CreateProjectOptions are parameters for creating a project.
type CreateProjectOptions struct {
	Name        string
	Description string
	Prompt      string
	ActorID     string
}

// CreateProject allocates a fresh workspace directory and stores the project
// with four pending steps. Without a name, one is derived from the prompt.
func (e Engine) CreateProject(ctx context.Context, opts CreateProjectOptions) (domain.Project, error) {
	name := strings.TrimSpace(workspace.Sanitize(opts.Name))
	if name == "" {
		name = workspace.NameFromPrompt(opts.Prompt)
	}
	if name == "" {
		return domain.Project{}, errors.New("name or prompt is required")
	}
	id := uuid.NewString()
	slug := workspace.Slug(name)
	dir, err := e.Files.CreateDir(slug)
	if errors.Is(err, workspace.ErrExists) {
		dir, err = e.Files.CreateDir(slug + "-" + id[:8])
	}
	if err != nil {
		return domain.Project{}, fmt.Errorf("allocate workspace: %w", err)
	}
	now := e.timestamp()
	p := domain.Project{
		ID:          id,
		Name:        name,
		Description: workspace.Sanitize(opts.Description),
		Prompt:      workspace.Sanitize(opts.Prompt),
		Workspace:   dir,
		Steps:       domain.NewSteps(now),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	p.Status = domain.DeriveStatus(p.Steps, false)
	rec := events.Record{
		Type:       events.ProjectCreated,
		ProjectID:  p.ID,
		EntityKind: "project",
		EntityID:   p.ID,
		ActorID:    opts.ActorID,
		Payload:    events.Payload{"name": p.Name, "workspace": p.Workspace},
	}
	if err := e.Repo.InsertProject(ctx, p, rec); err != nil {
		os.Remove(dir)
		return domain.Project{}, err
	}
	return p, nil
}

// RunStep checks ordering, submits the generation job and marks the step in
// progress. Completion is tracked by a background poller started here.
func (e Engine) RunStep(ctx context.Context, projectID string, stepID domain.StepID, actorID string) (domain.StepHandle, error) {
	if stepID.Index() < 0 {
		return domain.StepHandle{}, &InvalidStepError{Value: string(stepID)}
	}
	if e.Gen == nil {
		return domain.StepHandle{}, errors.New("generation client not configured")
	}
	var handle domain.StepHandle
	var submitErr error
	_, err := e.Repo.Mutate(ctx, projectID, func(p *domain.Project) ([]events.Record, error) {
		step, err := e.checkRunnable(p, stepID)
		if err != nil {
			return nil, err
		}
		inputs, err := e.readInputs(*p, stepID)
		if err != nil {
			return nil, err
		}
		now := e.timestamp()
		h, err := e.Gen.Submit(ctx, generation.Request{
			ProjectID: p.ID,
			Step:      stepID,
			Prompt:    p.Prompt,
			Inputs:    inputs,
		})
		if err != nil {
			submitErr = &GenerationError{Step: stepID, Message: workspace.Sanitize(err.Error())}
			msg := submitErr.Error()
			step.Status = domain.StepError
			step.Error = &msg
			step.JobID = nil
			step.UpdatedAt = now
			p.UpdatedAt = now
			return []events.Record{stepRecord(events.StepFailed, p.ID, stepID, actorID, events.Payload{"error": msg})}, nil
		}
		jobID := h.JobID
		step.Status = domain.StepInProgress
		step.Error = nil
		step.JobID = &jobID
		step.UpdatedAt = now
		p.UpdatedAt = now
		handle = domain.StepHandle{ProjectID: p.ID, Step: stepID, JobID: jobID, SubmittedAt: now}
		return []events.Record{stepRecord(events.StepStarted, p.ID, stepID, actorID, events.Payload{"job_id": jobID})}, nil
	})
	if err != nil {
		return domain.StepHandle{}, err
	}
	if submitErr != nil {
		return domain.StepHandle{}, submitErr
	}
	if err := e.Watch(handle); err != nil {
		return handle, err
	}
	return handle, nil
}

func (e Engine) checkRunnable(p *domain.Project, stepID domain.StepID) (*domain.Step, error) {
	if p.Archived() {
		return nil, &AlreadyArchivedError{ProjectID: p.ID}
	}
	var missing []domain.StepID
	for _, s := range p.Steps[:stepID.Index()] {
		if s.Status != domain.StepCompleted {
			missing = append(missing, s.ID)
		}
	}
	if len(missing) > 0 {
		return nil, &DependencyNotReadyError{Step: stepID, Missing: missing}
	}
	for _, s := range p.Steps {
		if s.Status == domain.StepInProgress {
			return nil, &AlreadyRunningError{ProjectID: p.ID, Step: s.ID}
		}
	}
	if e.pollers.active(p.ID, stepID) {
		return nil, &AlreadyRunningError{ProjectID: p.ID, Step: stepID}
	}
	step := p.Step(stepID)
	if step == nil {
		return nil, &InvalidStepError{Value: string(stepID)}
	}
	if step.Status == domain.StepCompleted {
		var later []domain.StepID
		for _, s := range p.Steps[stepID.Index()+1:] {
			if s.Status != domain.StepPending {
				later = append(later, s.ID)
			}
		}
		if len(later) > 0 {
			return nil, &DownstreamStartedError{Step: stepID, Later: later}
		}
	}
	if err := domain.EnsureTransition(step.Status, domain.StepInProgress); err != nil {
		return nil, err
	}
	return step, nil
}

// readInputs loads the artifacts of all steps before stepID.
func (e Engine) readInputs(p domain.Project, stepID domain.StepID) ([]generation.Input, error) {
	var inputs []generation.Input
	for _, id := range domain.Steps[:stepID.Index()] {
		path := filepath.Join(p.Workspace, id.FileName())
		content, err := e.Files.Read(path)
		if err != nil {
			return nil, fmt.Errorf("read %s artifact: %w", id, err)
		}
		inputs = append(inputs, generation.Input{Step: id, Path: path, Content: content})
	}
	return inputs, nil
}

func stepRecord(typ, projectID string, step domain.StepID, actorID string, payload events.Payload) events.Record {
	if payload == nil {
		payload = events.Payload{}
	}
	payload["step"] = string(step)
	return events.Record{
		Type:       typ,
		ProjectID:  projectID,
		EntityKind: "step",
		EntityID:   projectID + "/" + string(step),
		ActorID:    actorID,
		Payload:    payload,
	}
}
