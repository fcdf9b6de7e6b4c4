package image_generations

import (
	"context"
	"database/sql"
	"errors"

	"diffusion_sweeper/clock"
	"diffusion_sweeper/entities"
	"diffusion_sweeper/repositories"
)

const insertGenerationQuery string = `
INSERT INTO image_generations (sweep_id, fingerprint, run_directory, model_id, guidance_scale, num_inference_steps, seed, width, height, file_path, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`

const listGenerationsBySweepQuery string = `
SELECT id, sweep_id, fingerprint, run_directory, model_id, guidance_scale, num_inference_steps, seed, width, height, file_path, created_at
FROM image_generations WHERE sweep_id = ? ORDER BY id;
`

type sqliteRepo struct {
	dbConn *sql.DB
	clock  clock.Clock
}

type Config struct {
	DB    *sql.DB
	Clock clock.Clock
}

func NewRepository(cfg *Config) (Repository, error) {
	if cfg.DB == nil {
		return nil, errors.New("missing DB parameter")
	}

	if cfg.Clock == nil {
		cfg.Clock = clock.NewClock()
	}

	newRepo := &sqliteRepo{
		dbConn: cfg.DB,
		clock:  cfg.Clock,
	}

	return newRepo, nil
}

func (repo *sqliteRepo) Create(ctx context.Context, generation *entities.ImageGeneration) (*entities.ImageGeneration, error) {
	generation.CreatedAt = repo.clock.Now()

	res, err := repo.dbConn.ExecContext(ctx, insertGenerationQuery,
		generation.SweepID, generation.Fingerprint, generation.RunDirectory, generation.ModelID,
		generation.GuidanceScale, generation.NumInferenceSteps, generation.Seed,
		generation.Width, generation.Height, generation.FilePath, repositories.FormatTime(generation.CreatedAt))
	if err != nil {
		return nil, err
	}

	lastID, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	generation.ID = lastID

	return generation, nil
}

func (repo *sqliteRepo) ListBySweep(ctx context.Context, sweepID string) ([]*entities.ImageGeneration, error) {
	rows, err := repo.dbConn.QueryContext(ctx, listGenerationsBySweepQuery, sweepID)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	generations := make([]*entities.ImageGeneration, 0)

	for rows.Next() {
		var (
			generation entities.ImageGeneration
			createdAt  string
		)

		err = rows.Scan(&generation.ID, &generation.SweepID, &generation.Fingerprint, &generation.RunDirectory,
			&generation.ModelID, &generation.GuidanceScale, &generation.NumInferenceSteps, &generation.Seed,
			&generation.Width, &generation.Height, &generation.FilePath, &createdAt)
		if err != nil {
			return nil, err
		}

		generation.CreatedAt, err = repositories.ParseTime(createdAt)
		if err != nil {
			return nil, err
		}

		generations = append(generations, &generation)
	}

	return generations, rows.Err()
}
