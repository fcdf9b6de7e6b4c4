package image_generations

import (
	"context"

	"diffusion_sweeper/entities"
)

type Repository interface {
	Create(ctx context.Context, generation *entities.ImageGeneration) (*entities.ImageGeneration, error)
	ListBySweep(ctx context.Context, sweepID string) ([]*entities.ImageGeneration, error)
}
