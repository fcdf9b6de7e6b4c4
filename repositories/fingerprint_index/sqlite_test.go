package fingerprint_index

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"diffusion_sweeper/clock"
	"diffusion_sweeper/databases/sqlite"
	"diffusion_sweeper/entities"
	"diffusion_sweeper/repositories"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T, at time.Time) Repository {
	t.Helper()

	db, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), sqlite.DefaultDBFile))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo, err := NewRepository(&Config{DB: db, Clock: clock.NewFixedClock(at)})
	require.NoError(t, err)

	return repo
}

func TestNewRepositoryRequiresDB(t *testing.T) {
	_, err := NewRepository(&Config{})
	assert.Error(t, err)
}

func TestUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := newTestRepo(t, at)

	require.NoError(t, repo.Upsert(ctx, &entities.RunDirectory{
		Name:        "images_1",
		Fingerprint: "abc",
		Config:      entities.GenerationConfig{ModelID: "m", Prompt: "cat"},
	}))

	found, err := repo.GetByFingerprint(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "images_1", found.Name)
	assert.Equal(t, "abc", found.Fingerprint)
	assert.True(t, at.Equal(found.CreatedAt))

	// re-pointing a fingerprint replaces the old row
	require.NoError(t, repo.Upsert(ctx, &entities.RunDirectory{Name: "images_2", Fingerprint: "abc"}))

	found, err = repo.GetByFingerprint(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "images_2", found.Name)
}

func TestGetMissingAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, time.Now())

	_, err := repo.GetByFingerprint(ctx, "nope")
	assert.True(t, errors.Is(err, &repositories.NotFoundError{}))

	require.NoError(t, repo.Upsert(ctx, &entities.RunDirectory{Name: "images_1", Fingerprint: "abc"}))
	require.NoError(t, repo.Delete(ctx, "abc"))

	_, err = repo.GetByFingerprint(ctx, "abc")
	assert.True(t, errors.Is(err, &repositories.NotFoundError{}))
}
