package run_directories

import (
	"context"

	"diffusion_sweeper/entities"
)

type Resolver interface {
	// ResolveOrCreate returns the run directory whose snapshot matches cfg,
	// creating images_{N} with a fresh snapshot when none does.
	ResolveOrCreate(ctx context.Context, cfg entities.GenerationConfig) (*entities.RunDirectory, error)
}
