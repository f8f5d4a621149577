package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"stepline/internal/config"
	"stepline/internal/db"
	"stepline/internal/domain"
	"stepline/internal/engine"
	"stepline/internal/generation"
	"stepline/internal/migrate"
	"stepline/internal/repo"
)

// Runtime is an opened data directory with a ready engine.
type Runtime struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
	Gen    *generation.Service
}

// Open connects the database, applies migrations and builds the engine with
// the configured generation backend.
func Open(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := db.EnsureDataDir(cfg.DataDir); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{DataDir: cfg.DataDir})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	gen := generation.NewService(generation.NewBackend(cfg.Generation), cfg.Generation.Timeout)
	eng, err := engine.New(conn, cfg, gen)
	if err != nil {
		gen.Close()
		conn.Close()
		return nil, err
	}
	if logger != nil {
		eng.Logger = logger
	}
	return &Runtime{DB: conn, Config: cfg, Engine: eng, Gen: gen}, nil
}

// Close stops pollers and generation jobs, then closes the database.
func (r *Runtime) Close() error {
	r.Engine.Close()
	r.Gen.Close()
	return r.DB.Close()
}

// ResolveProject finds a project by id, exact name or unique id prefix.
func ResolveProject(ctx context.Context, r repo.Repo, ref string) (domain.Project, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.Project{}, fmt.Errorf("project not specified; use --project")
	}
	p, err := r.GetProject(ctx, ref)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Project{}, err
	}
	all, err := r.ListProjects(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	var matches []domain.Project
	for _, candidate := range all {
		if candidate.Name == ref || strings.HasPrefix(candidate.ID, ref) {
			matches = append(matches, candidate)
		}
	}
	switch len(matches) {
	case 0:
		return domain.Project{}, fmt.Errorf("project %q: %w", ref, repo.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return domain.Project{}, fmt.Errorf("project %q is ambiguous (%d matches)", ref, len(matches))
	}
}
