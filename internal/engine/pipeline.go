package engine

import (
	"context"
	"errors"
	"fmt"

	"stepline/internal/domain"
)

// InterruptedReason is stored on a step abandoned by a blocking caller.
const InterruptedReason = "interrupted: caller exited before the step settled"

// RunAndWait starts a step and blocks until it settles. If ctx ends first the
// step is interrupted so it does not stay in progress after the caller exits.
func (e Engine) RunAndWait(ctx context.Context, projectID string, stepID domain.StepID, actorID string) (domain.StepResult, error) {
	h, err := e.RunStep(ctx, projectID, stepID, actorID)
	if err != nil {
		return domain.StepResult{}, err
	}
	res, err := e.Wait(ctx, projectID, stepID)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		stored, ierr := e.Interrupt(context.WithoutCancel(ctx), h, InterruptedReason)
		if ierr != nil {
			e.logf("run: %s/%s: interrupt: %v", projectID, stepID, ierr)
			return res, err
		}
		return stored, err
	}
	return res, err
}

// RunAll runs every step that is not completed yet, in pipeline order, and
// stops at the first step that does not complete. progress, if set, sees each
// settled result.
func (e Engine) RunAll(ctx context.Context, projectID, actorID string, progress func(domain.StepResult)) ([]domain.StepResult, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p.Archived() {
		return nil, &AlreadyArchivedError{ProjectID: p.ID}
	}
	var results []domain.StepResult
	for _, s := range p.Steps {
		if s.Status == domain.StepCompleted {
			continue
		}
		res, err := e.RunAndWait(ctx, p.ID, s.ID, actorID)
		if res.Status != "" {
			results = append(results, res)
			if progress != nil {
				progress(res)
			}
		}
		if err != nil {
			return results, err
		}
		if res.Status != domain.StepCompleted {
			return results, fmt.Errorf("step %s ended %s", s.ID, res.Status)
		}
	}
	return results, nil
}
