package fingerprint_index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"diffusion_sweeper/clock"
	"diffusion_sweeper/entities"
	"diffusion_sweeper/repositories"
)

const upsertRunDirectory string = `
INSERT OR REPLACE INTO run_directories (fingerprint, dir_name, model_id, prompt, created_at) VALUES (?, ?, ?, ?, ?);
`

const getRunDirectoryByFingerprint string = `
SELECT fingerprint, dir_name, created_at FROM run_directories WHERE fingerprint = ?;
`

const deleteRunDirectory string = `
DELETE FROM run_directories WHERE fingerprint = ?;
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

func (repo *sqliteRepo) Upsert(ctx context.Context, dir *entities.RunDirectory) error {
	if dir.CreatedAt.IsZero() {
		dir.CreatedAt = repo.clock.Now()
	}

	_, err := repo.dbConn.ExecContext(ctx, upsertRunDirectory,
		dir.Fingerprint, dir.Name, dir.Config.ModelID, dir.Config.Prompt, repositories.FormatTime(dir.CreatedAt))

	return err
}

// GetByFingerprint returns the indexed directory name and creation time. The
// config itself lives in the directory's snapshot.
func (repo *sqliteRepo) GetByFingerprint(ctx context.Context, fingerprint string) (*entities.RunDirectory, error) {
	var (
		dir       entities.RunDirectory
		createdAt string
	)

	err := repo.dbConn.QueryRowContext(ctx, getRunDirectoryByFingerprint, fingerprint).Scan(
		&dir.Fingerprint, &dir.Name, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.NewNotFoundError(fmt.Sprintf("run directory for fingerprint %s", fingerprint))
		}

		return nil, err
	}

	dir.CreatedAt, err = repositories.ParseTime(createdAt)
	if err != nil {
		return nil, err
	}

	return &dir, nil
}

func (repo *sqliteRepo) Delete(ctx context.Context, fingerprint string) error {
	_, err := repo.dbConn.ExecContext(ctx, deleteRunDirectory, fingerprint)

	return err
}
