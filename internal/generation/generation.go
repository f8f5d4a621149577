// Package generation submits step jobs to a text-generation backend and
// reports their completion.
package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"stepline/internal/config"
	"stepline/internal/domain"
)

// Input is the artifact of an earlier step handed to a later one.
type Input struct {
	Step    domain.StepID
	Path    string
	Content string
}

type Request struct {
	ProjectID string
	Step      domain.StepID
	Prompt    string
	Inputs    []Input
}

type Handle struct {
	JobID string
}

type State string

const (
	StatePending   State = "pending"
	StateCompleted State = "completed"
	StateError     State = "error"
)

type JobStatus struct {
	State  State
	Output string
	Error  string
}

// Client is the generation service as seen by the engine.
type Client interface {
	Submit(ctx context.Context, req Request) (Handle, error)
	Status(ctx context.Context, h Handle) (JobStatus, error)
}

// Backend produces the text for one request synchronously.
type Backend interface {
	Generate(ctx context.Context, req Request) (string, error)
}

var ErrUnknownJob = errors.New("unknown generation job")

// NewBackend selects the backend named in cfg.
func NewBackend(cfg config.GenerationConfig) Backend {
	if cfg.Backend == "openai" {
		return NewChatBackend(cfg)
	}
	return TemplateBackend{}
}

type job struct {
	status   JobStatus
	finished time.Time
}

// Service runs backend calls as background jobs and answers status queries.
// Finished jobs are kept for Retention so late polls still see the result.
type Service struct {
	Backend   Backend
	Timeout   time.Duration
	Retention time.Duration
	Now       func() time.Time

	mu     sync.Mutex
	jobs   map[string]*job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService(backend Backend, timeout time.Duration) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		Backend:   backend,
		Timeout:   timeout,
		Retention: time.Hour,
		Now:       time.Now,
		jobs:      make(map[string]*job),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *Service) Submit(_ context.Context, req Request) (Handle, error) {
	if s.Backend == nil {
		return Handle{}, errors.New("generation backend not configured")
	}
	if req.Step.Index() < 0 {
		return Handle{}, fmt.Errorf("invalid step %q", req.Step)
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.gc()
	s.jobs[id] = &job{status: JobStatus{State: StatePending}}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(id, req)
	return Handle{JobID: id}, nil
}

func (s *Service) run(id string, req Request) {
	defer s.wg.Done()
	ctx := s.ctx
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	out, err := s.Backend.Generate(ctx, req)
	st := JobStatus{State: StateCompleted, Output: out}
	if err != nil {
		st = JobStatus{State: StateError, Error: err.Error()}
	}
	s.mu.Lock()
	if j, ok := s.jobs[id]; ok {
		j.status = st
		j.finished = s.now()
	}
	s.mu.Unlock()
}

func (s *Service) Status(_ context.Context, h Handle) (JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[h.JobID]
	if !ok {
		return JobStatus{}, fmt.Errorf("%w: %s", ErrUnknownJob, h.JobID)
	}
	return j.status, nil
}

// Close cancels running jobs and waits for them to return.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// gc drops finished jobs older than Retention. Caller holds s.mu.
func (s *Service) gc() {
	if s.Retention <= 0 {
		return
	}
	cutoff := s.now().Add(-s.Retention)
	for id, j := range s.jobs {
		if !j.finished.IsZero() && j.finished.Before(cutoff) {
			delete(s.jobs, id)
		}
	}
}
