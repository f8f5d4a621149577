package domain

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stepsWith(statuses ...StepStatus) []Step {
	steps := NewSteps("2024-01-01T00:00:00Z")
	for i, s := range statuses {
		steps[i].Status = s
	}
	return steps
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name     string
		steps    []Step
		archived bool
		want     ProjectStatus
	}{
		{"fresh", stepsWith(), false, ProjectDraft},
		{"running", stepsWith(StepInProgress), false, ProjectProcessing},
		{"partial", stepsWith(StepCompleted), false, ProjectProcessing},
		{"error wins", stepsWith(StepCompleted, StepError), false, ProjectError},
		{"all done", stepsWith(StepCompleted, StepCompleted, StepCompleted, StepCompleted), false, ProjectCompleted},
		{"archived", stepsWith(StepCompleted, StepCompleted, StepCompleted, StepCompleted), true, ProjectArchived},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(tt.steps, tt.archived))
		})
	}
}

func TestParseStepID(t *testing.T) {
	id, err := ParseStepID("architect")
	require.NoError(t, err)
	assert.Equal(t, StepArchitecture, id)
	assert.Equal(t, 1, id.Index())
	assert.Equal(t, "architecture.md", id.FileName())

	_, err = ParseStepID("deploy")
	assert.Error(t, err)
}

func TestTransitions(t *testing.T) {
	assert.True(t, CanTransition(StepPending, StepInProgress))
	assert.True(t, CanTransition(StepError, StepInProgress))
	assert.False(t, CanTransition(StepPending, StepCompleted))
	assert.False(t, CanTransition(StepError, StepCompleted))
	assert.Error(t, EnsureTransition(StepInProgress, StepPending))
}

func TestNewStepsOrder(t *testing.T) {
	steps := NewSteps("now")
	require.Len(t, steps, 4)
	for i, s := range steps {
		assert.Equal(t, Steps[i], s.ID)
		assert.Equal(t, StepPending, s.Status)
		assert.NotEmpty(t, s.Name)
	}
}

func TestRandomTransitionSequences(t *testing.T) {
	allowed := map[StepStatus][]StepStatus{
		StepPending:    {StepInProgress},
		StepInProgress: {StepCompleted, StepError},
		StepError:      {StepInProgress},
		StepCompleted:  {StepInProgress},
	}
	all := []StepStatus{StepPending, StepInProgress, StepCompleted, StepError, StepStatus("bogus")}
	rng := rand.New(rand.NewSource(7))
	for seq := 0; seq < 500; seq++ {
		state := StepPending
		for n := rng.Intn(12) + 1; n > 0; n-- {
			to := all[rng.Intn(len(all))]
			want := false
			for _, ok := range allowed[state] {
				if ok == to {
					want = true
				}
			}
			require.Equal(t, want, CanTransition(state, to), "%s -> %s", state, to)
			require.Equal(t, want, EnsureTransition(state, to) == nil, "%s -> %s", state, to)
			if want {
				state = to
			}
			require.NotEqual(t, StepStatus("bogus"), state)
		}
	}
}

func TestRandomStepVectorsDeriveStatus(t *testing.T) {
	statuses := []StepStatus{StepPending, StepInProgress, StepCompleted, StepError}
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 1000; i++ {
		steps := NewSteps("now")
		counts := map[StepStatus]int{}
		for j := range steps {
			steps[j].Status = statuses[rng.Intn(len(statuses))]
			counts[steps[j].Status]++
		}
		archived := rng.Intn(5) == 0
		got := DeriveStatus(steps, archived)
		switch {
		case archived:
			assert.Equal(t, ProjectArchived, got)
		case counts[StepError] > 0:
			assert.Equal(t, ProjectError, got)
		case counts[StepCompleted] == len(steps):
			assert.Equal(t, ProjectCompleted, got)
		case counts[StepInProgress] > 0 || counts[StepCompleted] > 0:
			assert.Equal(t, ProjectProcessing, got)
		default:
			assert.Equal(t, ProjectDraft, got)
		}
	}
}
