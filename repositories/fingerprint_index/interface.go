package fingerprint_index

import (
	"context"

	"diffusion_sweeper/entities"
)

// Repository maps config fingerprints to run directory names so a resolver
// can skip scanning every snapshot.
type Repository interface {
	Upsert(ctx context.Context, dir *entities.RunDirectory) error
	GetByFingerprint(ctx context.Context, fingerprint string) (*entities.RunDirectory, error)
	Delete(ctx context.Context, fingerprint string) error
}
