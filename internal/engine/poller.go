package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"stepline/internal/domain"
	"stepline/internal/events"
	"stepline/internal/generation"
	"stepline/internal/workspace"
)

type pollKey struct {
	project string
	step    domain.StepID
}

type pollEntry struct {
	done   chan struct{}
	cancel context.CancelFunc
	result domain.StepResult
	err    error
}

// registry owns the background poll loops. At most one loop exists per
// (project, step).
type registry struct {
	mu       sync.Mutex
	running  map[pollKey]*pollEntry
	finished map[pollKey]*pollEntry
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func newRegistry() *registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &registry{
		running:  make(map[pollKey]*pollEntry),
		finished: make(map[pollKey]*pollEntry),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (r *registry) active(projectID string, step domain.StepID) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[pollKey{projectID, step}]
	return ok
}

func (r *registry) register(key pollKey, cancel context.CancelFunc) (*pollEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.running[key]; ok {
		return nil, &AlreadyRunningError{ProjectID: key.project, Step: key.step}
	}
	entry := &pollEntry{done: make(chan struct{}), cancel: cancel}
	r.running[key] = entry
	return entry, nil
}

// finish records the outcome of a loop. Cancelled loops leave no finished
// entry; the stored step state is authoritative for them.
func (r *registry) finish(key pollKey, entry *pollEntry, res domain.StepResult, err error) {
	r.mu.Lock()
	entry.result, entry.err = res, err
	delete(r.running, key)
	if errors.Is(err, context.Canceled) {
		delete(r.finished, key)
	} else {
		r.finished[key] = entry
	}
	r.mu.Unlock()
	close(entry.done)
}

// stop cancels the loop for key, if any, and waits for it to exit.
func (r *registry) stop(ctx context.Context, key pollKey) {
	r.mu.Lock()
	entry, ok := r.running[key]
	r.mu.Unlock()
	if !ok {
		return
	}
	entry.cancel()
	select {
	case <-entry.done:
	case <-ctx.Done():
	}
}

// Await polls the generation job behind handle until it settles, the attempt
// ceiling is reached or ctx is done. A failed or timed out step is reported
// both in the result and as the returned error.
func (e Engine) Await(ctx context.Context, h domain.StepHandle) (domain.StepResult, error) {
	reg := e.registry()
	key := pollKey{h.ProjectID, h.Step}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	entry, err := reg.register(key, cancel)
	if err != nil {
		return domain.StepResult{}, err
	}
	res, err := e.poll(ctx, h)
	reg.finish(key, entry, res, err)
	return res, err
}

// Watch runs Await in the background on the engine's own context so the
// loop outlives the request that started the step.
func (e Engine) Watch(h domain.StepHandle) error {
	reg := e.registry()
	key := pollKey{h.ProjectID, h.Step}
	ctx, cancel := context.WithCancel(reg.ctx)
	entry, err := reg.register(key, cancel)
	if err != nil {
		cancel()
		return err
	}
	reg.wg.Add(1)
	go func() {
		defer reg.wg.Done()
		defer cancel()
		res, err := e.poll(ctx, h)
		if err != nil && !errors.Is(err, context.Canceled) {
			e.logf("poll: %s/%s: %v", h.ProjectID, h.Step, err)
		}
		reg.finish(key, entry, res, err)
	}()
	return nil
}

// Wait blocks until the watched step settles and returns its result. When no
// loop is running it reports the stored step state.
func (e Engine) Wait(ctx context.Context, projectID string, step domain.StepID) (domain.StepResult, error) {
	reg := e.registry()
	key := pollKey{projectID, step}
	reg.mu.Lock()
	entry, ok := reg.running[key]
	if !ok {
		entry, ok = reg.finished[key]
	}
	reg.mu.Unlock()
	if ok {
		select {
		case <-entry.done:
			if !errors.Is(entry.err, context.Canceled) {
				return entry.result, entry.err
			}
		case <-ctx.Done():
			return domain.StepResult{}, ctx.Err()
		}
	}
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.StepResult{}, err
	}
	return resultFor(p, step, 0), nil
}

// Recover marks steps left in progress by a previous process as failed; their
// job handles did not survive the restart.
func (e Engine) Recover(ctx context.Context) (int, error) {
	refs, err := e.Repo.InProgressSteps(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ref := range refs {
		if e.registry().active(ref.ProjectID, ref.Step) {
			continue
		}
		_, err := e.Repo.Mutate(ctx, ref.ProjectID, func(p *domain.Project) ([]events.Record, error) {
			step := p.Step(ref.Step)
			if step == nil || step.Status != domain.StepInProgress {
				return nil, errDiscarded
			}
			msg := "interrupted by restart"
			e.markFailed(p, step, msg)
			return []events.Record{stepRecord(events.StepInterrupted, p.ID, ref.Step, events.SystemActor, events.Payload{"job_id": ref.JobID})}, nil
		})
		if errors.Is(err, errDiscarded) {
			continue
		}
		if err != nil {
			return n, err
		}
		e.logf("poll: %s/%s interrupted by restart", ref.ProjectID, ref.Step)
		n++
	}
	return n, nil
}

// Interrupt fails a step whose poll loop is being abandoned, for example when
// a local caller exits before the job settles, and stops that loop. A step
// that already settled or belongs to another job is left alone.
func (e Engine) Interrupt(ctx context.Context, h domain.StepHandle, reason string) (domain.StepResult, error) {
	p, err := e.Repo.Mutate(ctx, h.ProjectID, func(p *domain.Project) ([]events.Record, error) {
		step, err := pollable(p, h)
		if err != nil {
			return nil, err
		}
		e.markFailed(p, step, reason)
		return []events.Record{stepRecord(events.StepInterrupted, p.ID, h.Step, events.SystemActor, events.Payload{
			"job_id": h.JobID,
			"error":  reason,
		})}, nil
	})
	if err == nil {
		e.registry().stop(ctx, pollKey{h.ProjectID, h.Step})
	}
	return e.settled(ctx, h, p, 0, err)
}

// Close stops background pollers and waits for them to exit. Steps they were
// tracking stay in progress until the next Recover.
func (e Engine) Close() {
	if e.pollers == nil {
		return
	}
	e.pollers.cancel()
	e.pollers.wg.Wait()
}

func (e Engine) registry() *registry {
	if e.pollers == nil {
		panic("engine: not constructed with New")
	}
	return e.pollers
}

var errDiscarded = errors.New("stale poll result")

func (e Engine) pollSettings() (time.Duration, int) {
	interval, attempts := 10*time.Second, 30
	if e.Config != nil {
		if e.Config.Poll.Interval > 0 {
			interval = e.Config.Poll.Interval
		}
		if e.Config.Poll.MaxAttempts > 0 {
			attempts = e.Config.Poll.MaxAttempts
		}
	}
	return interval, attempts
}

func (e Engine) poll(ctx context.Context, h domain.StepHandle) (domain.StepResult, error) {
	interval, maxAttempts := e.pollSettings()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	start := e.now()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return domain.StepResult{ProjectID: h.ProjectID, Step: h.Step, Status: domain.StepInProgress, Attempts: attempt - 1}, ctx.Err()
		case <-ticker.C:
		}
		st, err := e.Gen.Status(ctx, generation.Handle{JobID: h.JobID})
		if err != nil {
			e.logf("poll: %s/%s attempt %d: status: %v", h.ProjectID, h.Step, attempt, err)
			continue
		}
		switch st.State {
		case generation.StateCompleted:
			res, err := e.settleCompleted(ctx, h, st.Output, attempt)
			var ioErr *workspace.FileIOError
			if errors.As(err, &ioErr) {
				e.logf("poll: %s/%s attempt %d: %v", h.ProjectID, h.Step, attempt, err)
				continue
			}
			return res, err
		case generation.StateError:
			msg := workspace.Sanitize(st.Error)
			if msg == "" {
				msg = "generation failed"
			}
			genErr := &GenerationError{Step: h.Step, Message: msg}
			return e.settleFailed(ctx, h, events.StepFailed, genErr, attempt)
		}
	}
	timeoutErr := &GenerationTimeoutError{Step: h.Step, Attempts: maxAttempts, Elapsed: e.now().Sub(start)}
	return e.settleFailed(ctx, h, events.StepTimeout, timeoutErr, maxAttempts)
}

// pollable checks that the step still belongs to this job.
func pollable(p *domain.Project, h domain.StepHandle) (*domain.Step, error) {
	if p.Archived() {
		return nil, &AlreadyArchivedError{ProjectID: p.ID}
	}
	step := p.Step(h.Step)
	if step == nil || step.Status != domain.StepInProgress || step.JobID == nil || *step.JobID != h.JobID {
		return nil, errDiscarded
	}
	return step, nil
}

func (e Engine) settleCompleted(ctx context.Context, h domain.StepHandle, output string, attempt int) (domain.StepResult, error) {
	p, err := e.Repo.Mutate(ctx, h.ProjectID, func(p *domain.Project) ([]events.Record, error) {
		step, err := pollable(p, h)
		if err != nil {
			return nil, err
		}
		content := workspace.Sanitize(output)
		rel := h.Step.FileName()
		if err := e.Files.Write(filepath.Join(p.Workspace, rel), content); err != nil {
			return nil, err
		}
		now := e.timestamp()
		step.Status = domain.StepCompleted
		step.Output = &content
		step.FilePath = &rel
		step.Error = nil
		step.UpdatedAt = now
		p.UpdatedAt = now
		return []events.Record{stepRecord(events.StepCompleted, p.ID, h.Step, events.SystemActor, events.Payload{
			"job_id":    h.JobID,
			"file_path": rel,
			"attempts":  attempt,
		})}, nil
	})
	return e.settled(ctx, h, p, attempt, err)
}

func (e Engine) settleFailed(ctx context.Context, h domain.StepHandle, typ string, cause error, attempt int) (domain.StepResult, error) {
	p, err := e.Repo.Mutate(ctx, h.ProjectID, func(p *domain.Project) ([]events.Record, error) {
		step, err := pollable(p, h)
		if err != nil {
			return nil, err
		}
		msg := cause.Error()
		e.markFailed(p, step, msg)
		return []events.Record{stepRecord(typ, p.ID, h.Step, events.SystemActor, events.Payload{
			"job_id":   h.JobID,
			"error":    msg,
			"attempts": attempt,
		})}, nil
	})
	res, err := e.settled(ctx, h, p, attempt, err)
	if err != nil {
		return res, err
	}
	if res.Status == domain.StepError {
		return res, cause
	}
	return res, nil
}

func (e Engine) settled(ctx context.Context, h domain.StepHandle, p domain.Project, attempt int, err error) (domain.StepResult, error) {
	if errors.Is(err, errDiscarded) {
		e.logf("poll: %s/%s: discarding result of job %s", h.ProjectID, h.Step, h.JobID)
		current, gerr := e.Repo.GetProject(ctx, h.ProjectID)
		if gerr != nil {
			return domain.StepResult{}, gerr
		}
		return resultFor(current, h.Step, attempt), nil
	}
	if err != nil {
		return domain.StepResult{ProjectID: h.ProjectID, Step: h.Step, Status: domain.StepInProgress, Attempts: attempt}, err
	}
	return resultFor(p, h.Step, attempt), nil
}

func (e Engine) markFailed(p *domain.Project, step *domain.Step, msg string) {
	now := e.timestamp()
	msg = workspace.Sanitize(msg)
	step.Status = domain.StepError
	step.Error = &msg
	step.UpdatedAt = now
	p.UpdatedAt = now
}

func resultFor(p domain.Project, stepID domain.StepID, attempts int) domain.StepResult {
	res := p.Result(stepID)
	res.Attempts = attempts
	return res
}
