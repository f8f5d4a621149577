package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepline/internal/config"
	"stepline/internal/engine"
	"stepline/internal/repo"
)

func TestOpenAndResolveProject(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default(t.TempDir())
	rt, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	defer rt.Close()

	p, err := rt.Engine.CreateProject(ctx, engine.CreateProjectOptions{Name: "Demo", ActorID: "tester"})
	require.NoError(t, err)

	got, err := ResolveProject(ctx, rt.Engine.Repo, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	got, err = ResolveProject(ctx, rt.Engine.Repo, "Demo")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	got, err = ResolveProject(ctx, rt.Engine.Repo, p.ID[:8])
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = ResolveProject(ctx, rt.Engine.Repo, "nope")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default(t.TempDir())
	cfg.Poll.MaxAttempts = 0
	_, err := Open(context.Background(), cfg, nil)
	assert.Error(t, err)
}
