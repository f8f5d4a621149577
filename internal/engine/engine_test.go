package engine_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"stepline/internal/config"
	"stepline/internal/db"
	"stepline/internal/domain"
	"stepline/internal/engine"
	"stepline/internal/events"
	"stepline/internal/generation"
	"stepline/internal/migrate"
	"stepline/internal/repo"
)

// fakeGen answers Status with a scripted sequence per step; the last entry
// repeats.
type fakeGen struct {
	mu         sync.Mutex
	scripts    map[domain.StepID][]generation.JobStatus
	jobs       map[string]domain.StepID
	calls      map[string]int
	requests   []generation.Request
	submitErr  error
	statusErrs int
	seq        int
	statusN    int
	onStatus   func(n int)
}

func newFakeGen() *fakeGen {
	return &fakeGen{
		scripts: make(map[domain.StepID][]generation.JobStatus),
		jobs:    make(map[string]domain.StepID),
		calls:   make(map[string]int),
	}
}

func (f *fakeGen) script(step domain.StepID, seq ...generation.JobStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[step] = seq
}

func (f *fakeGen) Submit(_ context.Context, req generation.Request) (generation.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return generation.Handle{}, f.submitErr
	}
	f.seq++
	id := fmt.Sprintf("job-%d", f.seq)
	f.jobs[id] = req.Step
	f.requests = append(f.requests, req)
	return generation.Handle{JobID: id}, nil
}

func (f *fakeGen) Status(_ context.Context, h generation.Handle) (generation.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	step, ok := f.jobs[h.JobID]
	if !ok {
		return generation.JobStatus{}, generation.ErrUnknownJob
	}
	f.statusN++
	if f.onStatus != nil {
		f.onStatus(f.statusN)
	}
	if f.statusErrs > 0 {
		f.statusErrs--
		return generation.JobStatus{}, errors.New("status endpoint unavailable")
	}
	seq := f.scripts[step]
	if len(seq) == 0 {
		return generation.JobStatus{State: generation.StateCompleted, Output: "# " + step.Name() + "\n"}, nil
	}
	i := f.calls[h.JobID]
	f.calls[h.JobID]++
	if i >= len(seq) {
		i = len(seq) - 1
	}
	return seq[i], nil
}

type testEnv struct {
	Engine engine.Engine
	Gen    *fakeGen
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{DataDir: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default(dir)
	cfg.Poll.Interval = 2 * time.Millisecond
	cfg.Poll.MaxAttempts = 5
	gen := newFakeGen()
	eng, err := engine.New(conn, cfg, gen)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	eng.Logger = nil
	t.Cleanup(eng.Close)
	return testEnv{Engine: eng, Gen: gen, Ctx: context.Background()}
}

func (env testEnv) create(t *testing.T, name string) domain.Project {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectOptions{Name: name, Prompt: "a todo app", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func (env testEnv) run(t *testing.T, projectID string, step domain.StepID) domain.StepResult {
	t.Helper()
	if _, err := env.Engine.RunStep(env.Ctx, projectID, step, "tester"); err != nil {
		t.Fatalf("run %s: %v", step, err)
	}
	ctx, cancel := context.WithTimeout(env.Ctx, 5*time.Second)
	defer cancel()
	res, _ := env.Engine.Wait(ctx, projectID, step)
	return res
}

func TestFullPipelineAndArchive(t *testing.T) {
	env := newTestEnv(t)
	p := env.create(t, "Todo App")
	if p.Status != domain.ProjectDraft {
		t.Fatalf("expected draft, got %s", p.Status)
	}
	if filepath.Base(p.Workspace) != "todo-app" {
		t.Fatalf("unexpected workspace %s", p.Workspace)
	}
	for _, step := range domain.Steps {
		res := env.run(t, p.ID, step)
		if res.Status != domain.StepCompleted {
			t.Fatalf("%s: expected completed, got %+v", step, res)
		}
		if res.FilePath != filepath.Join(p.Workspace, step.FileName()) {
			t.Fatalf("%s: unexpected file path %s", step, res.FilePath)
		}
	}
	got, err := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.ProjectCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}

	// later steps see earlier artifacts in order
	last := env.Gen.requests[len(env.Gen.requests)-1]
	if len(last.Inputs) != 3 || last.Inputs[0].Step != domain.StepAnalysis || last.Inputs[2].Step != domain.StepPlanning {
		t.Fatalf("unexpected optimization inputs: %+v", last.Inputs)
	}

	arch, err := env.Engine.Archive(env.Ctx, p.ID, "tester")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	entries, err := os.ReadDir(arch.LocalPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 archived files, got %d", len(entries))
	}
	st, err := os.Stat(filepath.Join(arch.LocalPath, "analysis.md"))
	if err != nil || st.Mode().Perm()&0o222 != 0 {
		t.Fatalf("archived file should be read-only: %v %v", st.Mode(), err)
	}

	var archived *engine.AlreadyArchivedError
	if _, err := env.Engine.Archive(env.Ctx, p.ID, "tester"); !errors.As(err, &archived) {
		t.Fatalf("expected already archived, got %v", err)
	}
	snapshots, err := os.ReadDir(env.Engine.Config.ArchiveRoot)
	if err != nil || len(snapshots) != 1 {
		t.Fatalf("second archive must not add a snapshot: %d %v", len(snapshots), err)
	}
	if _, err := env.Engine.RunStep(env.Ctx, p.ID, domain.StepAnalysis, "tester"); !errors.As(err, &archived) {
		t.Fatalf("expected already archived on run, got %v", err)
	}
	if _, err := env.Engine.WriteFile(env.Ctx, filepath.Join(p.Workspace, "analysis.md"), "x"); !errors.As(err, &archived) {
		t.Fatalf("expected already archived on write, got %v", err)
	}
	got, _ = env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if got.Status != domain.ProjectArchived || got.ArchivePath == nil || *got.ArchivePath != arch.LocalPath {
		t.Fatalf("unexpected archived project: %+v", got)
	}
}

func TestDependencyGating(t *testing.T) {
	env := newTestEnv(t)
	p := env.create(t, "Gated")
	_, err := env.Engine.RunStep(env.Ctx, p.ID, domain.StepPlanning, "tester")
	var dep *engine.DependencyNotReadyError
	if !errors.As(err, &dep) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if len(dep.Missing) != 2 || dep.Missing[0] != domain.StepAnalysis {
		t.Fatalf("unexpected missing steps %v", dep.Missing)
	}
	got, _ := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if got.Status != domain.ProjectDraft {
		t.Fatalf("rejected run must not change state, got %s", got.Status)
	}
}

func TestSecondRunWhileInProgress(t *testing.T) {
	env := newTestEnv(t)
	env.Gen.script(domain.StepAnalysis, generation.JobStatus{State: generation.StatePending})
	p := env.create(t, "Busy")
	h, err := env.Engine.RunStep(env.Ctx, p.ID, domain.StepAnalysis, "tester")
	if err != nil {
		t.Fatal(err)
	}
	var running *engine.AlreadyRunningError
	if _, err := env.Engine.RunStep(env.Ctx, p.ID, domain.StepAnalysis, "tester"); !errors.As(err, &running) {
		t.Fatalf("expected already running, got %v", err)
	}
	if _, err := env.Engine.Await(env.Ctx, h); !errors.As(err, &running) {
		t.Fatalf("expected already running for second await, got %v", err)
	}
	if len(env.Gen.requests) != 1 {
		t.Fatalf("expected one submission, got %d", len(env.Gen.requests))
	}
	res, err := env.Engine.Wait(env.Ctx, p.ID, domain.StepAnalysis)
	var timeout *engine.GenerationTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if res.Status != domain.StepError || res.Attempts != 5 {
		t.Fatalf("unexpected result %+v", res)
	}
	got, _ := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if got.Status != domain.ProjectError {
		t.Fatalf("expected project error, got %s", got.Status)
	}
}

func TestGenerationFailureThenRerun(t *testing.T) {
	env := newTestEnv(t)
	env.Gen.script(domain.StepAnalysis,
		generation.JobStatus{State: generation.StatePending},
		generation.JobStatus{State: generation.StateError, Error: "model \U0001F4A5 overloaded"},
	)
	p := env.create(t, "Flaky")
	res := env.run(t, p.ID, domain.StepAnalysis)
	if res.Status != domain.StepError || res.Error == "" {
		t.Fatalf("expected error result, got %+v", res)
	}
	got, _ := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if got.Status != domain.ProjectError || got.Steps[0].Error == nil {
		t.Fatalf("expected stored error, got %+v", got.Steps[0])
	}

	env.Gen.script(domain.StepAnalysis)
	res = env.run(t, p.ID, domain.StepAnalysis)
	if res.Status != domain.StepCompleted {
		t.Fatalf("rerun should complete, got %+v", res)
	}
	got, _ = env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if got.Steps[0].Error != nil || got.Status != domain.ProjectProcessing {
		t.Fatalf("rerun should clear error: %+v", got)
	}
}

func TestTransientStatusErrorsKeepPolling(t *testing.T) {
	env := newTestEnv(t)
	p := env.create(t, "Transient")
	env.Gen.statusErrs = 2
	env.Gen.script(domain.StepAnalysis,
		generation.JobStatus{State: generation.StatePending},
		generation.JobStatus{State: generation.StateCompleted, Output: "done\r\n"},
	)
	res := env.run(t, p.ID, domain.StepAnalysis)
	if res.Status != domain.StepCompleted || res.Attempts != 4 {
		t.Fatalf("unexpected result %+v", res)
	}
	info, err := env.Engine.ReadFile(res.FilePath)
	if err != nil || info.Content != "done\n" {
		t.Fatalf("unexpected artifact %q %v", info.Content, err)
	}
}

func TestSubmitFailureMarksError(t *testing.T) {
	env := newTestEnv(t)
	env.Gen.submitErr = errors.New("connection refused")
	p := env.create(t, "Offline")
	_, err := env.Engine.RunStep(env.Ctx, p.ID, domain.StepAnalysis, "tester")
	var genErr *engine.GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected generation error, got %v", err)
	}
	got, _ := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if got.Steps[0].Status != domain.StepError {
		t.Fatalf("expected step error, got %s", got.Steps[0].Status)
	}
}

func TestRerunCompletedStepRules(t *testing.T) {
	env := newTestEnv(t)
	p := env.create(t, "Rerun")
	env.run(t, p.ID, domain.StepAnalysis)
	if res := env.run(t, p.ID, domain.StepAnalysis); res.Status != domain.StepCompleted {
		t.Fatalf("re-running the last completed step should work: %+v", res)
	}
	env.run(t, p.ID, domain.StepArchitecture)
	_, err := env.Engine.RunStep(env.Ctx, p.ID, domain.StepAnalysis, "tester")
	var downstream *engine.DownstreamStartedError
	if !errors.As(err, &downstream) {
		t.Fatalf("expected downstream started, got %v", err)
	}
}

func TestArchiveIncompleteAndCollision(t *testing.T) {
	env := newTestEnv(t)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	env.Engine.Now = func() time.Time { return fixed }

	p := env.create(t, "Same Name")
	var incomplete *engine.IncompleteWorkflowError
	if _, err := env.Engine.Archive(env.Ctx, p.ID, "tester"); !errors.As(err, &incomplete) || len(incomplete.Pending) != 4 {
		t.Fatalf("expected incomplete workflow, got %v", err)
	}
	q := env.create(t, "Same Name")
	if p.Workspace == q.Workspace {
		t.Fatalf("workspaces must differ")
	}
	for _, id := range []string{p.ID, q.ID} {
		for _, step := range domain.Steps {
			env.run(t, id, step)
		}
	}
	a, err := env.Engine.Archive(env.Ctx, p.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	b, err := env.Engine.Archive(env.Ctx, q.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(a.LocalPath) != "same-name-20240501-120000" || filepath.Base(b.LocalPath) != "same-name-20240501-120000-2" {
		t.Fatalf("unexpected archive dirs %s %s", a.LocalPath, b.LocalPath)
	}
}

func TestRecoverMarksInterruptedSteps(t *testing.T) {
	env := newTestEnv(t)
	p := env.create(t, "Restart")
	_, err := env.Engine.Repo.Mutate(env.Ctx, p.ID, func(p *domain.Project) ([]events.Record, error) {
		job := "lost"
		p.Steps[0].Status = domain.StepInProgress
		p.Steps[0].JobID = &job
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	n, err := env.Engine.Recover(env.Ctx)
	if err != nil || n != 1 {
		t.Fatalf("recover: %d %v", n, err)
	}
	got, _ := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if got.Steps[0].Status != domain.StepError || got.Steps[0].Error == nil || *got.Steps[0].Error != "interrupted by restart" {
		t.Fatalf("unexpected step after recover: %+v", got.Steps[0])
	}
}

func TestInvalidStepAndMissingProject(t *testing.T) {
	env := newTestEnv(t)
	var invalid *engine.InvalidStepError
	if _, err := engine.ParseStep("deploy"); !errors.As(err, &invalid) {
		t.Fatalf("expected invalid step, got %v", err)
	}
	if id, err := engine.ParseStep("Architect"); err != nil || id != domain.StepArchitecture {
		t.Fatalf("alias should parse: %s %v", id, err)
	}
	if _, err := env.Engine.RunStep(env.Ctx, "missing", domain.StepAnalysis, "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLateResultAfterTimeoutDiscarded(t *testing.T) {
	env := newTestEnv(t)
	env.Gen.script(domain.StepAnalysis, generation.JobStatus{State: generation.StatePending})
	p := env.create(t, "Late")
	h, err := env.Engine.RunStep(env.Ctx, p.ID, domain.StepAnalysis, "tester")
	if err != nil {
		t.Fatal(err)
	}
	var timeout *engine.GenerationTimeoutError
	if _, err := env.Engine.Wait(env.Ctx, p.ID, domain.StepAnalysis); !errors.As(err, &timeout) {
		t.Fatalf("expected timeout, got %v", err)
	}

	// the job finishes after the step was given up on
	env.Gen.script(domain.StepAnalysis, generation.JobStatus{State: generation.StateCompleted, Output: "too late"})
	res, err := env.Engine.Await(env.Ctx, h)
	if err != nil {
		t.Fatalf("late result should be discarded quietly, got %v", err)
	}
	if res.Status != domain.StepError {
		t.Fatalf("expected stored error state, got %+v", res)
	}
	got, _ := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if got.Steps[0].Status != domain.StepError || got.Steps[0].Output != nil {
		t.Fatalf("late result must not be applied: %+v", got.Steps[0])
	}
	if _, err := os.Stat(filepath.Join(p.Workspace, "analysis.md")); !os.IsNotExist(err) {
		t.Fatalf("late result must not write an artifact: %v", err)
	}
}

func TestArtifactWriteRetriedWithinCeiling(t *testing.T) {
	env := newTestEnv(t)
	p := env.create(t, "Blocked")
	target := filepath.Join(p.Workspace, "analysis.md")
	// a directory in place of the artifact makes the rename fail
	if err := os.MkdirAll(filepath.Join(target, "x"), 0o755); err != nil {
		t.Fatal(err)
	}
	env.Gen.onStatus = func(n int) {
		if n == 3 {
			os.RemoveAll(target)
		}
	}
	res := env.run(t, p.ID, domain.StepAnalysis)
	if res.Status != domain.StepCompleted || res.Attempts != 3 {
		t.Fatalf("expected completion on attempt 3, got %+v", res)
	}

	q := env.create(t, "Always Blocked")
	if err := os.MkdirAll(filepath.Join(q.Workspace, "analysis.md", "x"), 0o755); err != nil {
		t.Fatal(err)
	}
	res = env.run(t, q.ID, domain.StepAnalysis)
	if res.Status != domain.StepError || res.Attempts != 5 {
		t.Fatalf("write failures must count against the ceiling, got %+v", res)
	}
}

func TestConcurrentRunStepSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	env.Gen.script(domain.StepAnalysis, generation.JobStatus{State: generation.StatePending})
	p := env.create(t, "Race")
	var wg sync.WaitGroup
	errs := make([]error, 20)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.RunStep(env.Ctx, p.ID, domain.StepAnalysis, "tester")
		}(i)
	}
	wg.Wait()
	wins := 0
	for _, err := range errs {
		var running *engine.AlreadyRunningError
		switch {
		case err == nil:
			wins++
		case !errors.As(err, &running):
			t.Fatalf("unexpected error %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	got, _ := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	running := 0
	for _, s := range got.Steps {
		if s.Status == domain.StepInProgress {
			running++
		}
	}
	if running != 1 || len(env.Gen.requests) != 1 {
		t.Fatalf("expected one running step and one submission, got %d and %d", running, len(env.Gen.requests))
	}
}

// TestRandomRunSequences drives random step runs with random outcomes and
// checks acceptance and the stored pipeline against a simple model.
func TestRandomRunSequences(t *testing.T) {
	env := newTestEnv(t)
	p := env.create(t, "Random")
	rng := rand.New(rand.NewSource(42))
	model := make([]domain.StepStatus, len(domain.Steps))
	for i := range model {
		model[i] = domain.StepPending
	}
	for op := 0; op < 60; op++ {
		i := rng.Intn(len(domain.Steps))
		step := domain.Steps[i]
		outcome := generation.JobStatus{State: generation.StateCompleted, Output: fmt.Sprintf("# %s %d\n", step, op)}
		if rng.Intn(10) < 3 {
			outcome = generation.JobStatus{State: generation.StateError, Error: "boom"}
		}
		env.Gen.script(step, outcome)

		accept := true
		for j := 0; j < i; j++ {
			accept = accept && model[j] == domain.StepCompleted
		}
		if model[i] == domain.StepCompleted {
			for j := i + 1; j < len(model); j++ {
				accept = accept && model[j] == domain.StepPending
			}
		}

		_, err := env.Engine.RunStep(env.Ctx, p.ID, step, "tester")
		if accept != (err == nil) {
			t.Fatalf("op %d run %s on %v: accept=%v err=%v", op, step, model, accept, err)
		}
		if err == nil {
			ctx, cancel := context.WithTimeout(env.Ctx, 5*time.Second)
			env.Engine.Wait(ctx, p.ID, step)
			cancel()
			model[i] = domain.StepCompleted
			if outcome.State == generation.StateError {
				model[i] = domain.StepError
			}
		}

		got, err := env.Engine.Repo.GetProject(env.Ctx, p.ID)
		if err != nil {
			t.Fatal(err)
		}
		for j, s := range got.Steps {
			if s.Status != model[j] {
				t.Fatalf("op %d: step %s stored %s, model %s", op, s.ID, s.Status, model[j])
			}
		}
		if got.Status != domain.DeriveStatus(got.Steps, false) {
			t.Fatalf("op %d: project status %s out of sync", op, got.Status)
		}
	}
}

func TestRunAndWaitInterruptsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Poll.MaxAttempts = 100000
	env.Gen.script(domain.StepAnalysis, generation.JobStatus{State: generation.StatePending})
	p := env.create(t, "Abandoned")

	ctx, cancel := context.WithTimeout(env.Ctx, 30*time.Millisecond)
	defer cancel()
	res, err := env.Engine.RunAndWait(ctx, p.ID, domain.StepAnalysis, "tester")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if res.Status != domain.StepError || res.Error != engine.InterruptedReason {
		t.Fatalf("expected interrupted result, got %+v", res)
	}
	got, _ := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if got.Steps[0].Status != domain.StepError || got.Status != domain.ProjectError {
		t.Fatalf("step must not stay in progress: %+v", got.Steps[0])
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 1, p.ID, events.StepInterrupted)
	if err != nil || len(evts) != 1 {
		t.Fatalf("expected step.interrupted event: %v %v", evts, err)
	}

	// the abandoned loop is gone, so the step can run again right away
	env.Gen.script(domain.StepAnalysis)
	if res := env.run(t, p.ID, domain.StepAnalysis); res.Status != domain.StepCompleted {
		t.Fatalf("rerun after interrupt: %+v", res)
	}
}

func TestInterruptIgnoresSettledStep(t *testing.T) {
	env := newTestEnv(t)
	p := env.create(t, "Settled")
	h, err := env.Engine.RunStep(env.Ctx, p.ID, domain.StepAnalysis, "tester")
	if err != nil {
		t.Fatal(err)
	}
	env.Engine.Wait(env.Ctx, p.ID, domain.StepAnalysis)
	res, err := env.Engine.Interrupt(env.Ctx, h, engine.InterruptedReason)
	if err != nil || res.Status != domain.StepCompleted {
		t.Fatalf("interrupt after completion must be a no-op: %+v %v", res, err)
	}
}

func TestRunAllStopsAtFirstFailure(t *testing.T) {
	env := newTestEnv(t)
	env.Gen.script(domain.StepPlanning, generation.JobStatus{State: generation.StateError, Error: "quota"})
	p := env.create(t, "Pipeline")
	var seen []domain.StepID
	results, err := env.Engine.RunAll(env.Ctx, p.ID, "tester", func(r domain.StepResult) { seen = append(seen, r.Step) })
	var genErr *engine.GenerationError
	if !errors.As(err, &genErr) || genErr.Step != domain.StepPlanning {
		t.Fatalf("expected planning failure, got %v", err)
	}
	if len(results) != 3 || len(seen) != 3 || results[2].Status != domain.StepError {
		t.Fatalf("unexpected results %+v", results)
	}
	got, _ := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if got.Steps[3].Status != domain.StepPending {
		t.Fatalf("optimization must not run after a failure: %s", got.Steps[3].Status)
	}

	// resuming skips completed steps
	env.Gen.script(domain.StepPlanning)
	results, err = env.Engine.RunAll(env.Ctx, p.ID, "tester", nil)
	if err != nil || len(results) != 2 || results[0].Step != domain.StepPlanning {
		t.Fatalf("resume: %+v %v", results, err)
	}
	got, _ = env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if got.Status != domain.ProjectCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
}

func TestArchiveCommitFailureLeavesNoDirectory(t *testing.T) {
	env := newTestEnv(t)
	p := env.create(t, "Rollback")
	for _, step := range domain.Steps {
		env.run(t, p.ID, step)
	}
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ctx, cancel := context.WithCancel(env.Ctx)
	failing := env.Engine
	// cancelling mid-mutation makes the save fail after the copy
	failing.Now = func() time.Time { cancel(); return fixed }
	if _, err := failing.Archive(ctx, p.ID, "tester"); err == nil {
		t.Fatal("expected archive to fail")
	}
	entries, err := os.ReadDir(env.Engine.Config.ArchiveRoot)
	if err != nil || len(entries) != 0 {
		t.Fatalf("failed archive must not leave a directory: %d %v", len(entries), err)
	}
	got, _ := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if got.Archived() {
		t.Fatal("project must not be archived")
	}

	env.Engine.Now = func() time.Time { return fixed }
	res, err := env.Engine.Archive(env.Ctx, p.ID, "tester")
	if err != nil || filepath.Base(res.LocalPath) != "rollback-20240501-120000" {
		t.Fatalf("retry should reuse the base name: %+v %v", res, err)
	}
}
