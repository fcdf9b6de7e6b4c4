package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMigratesOnce(t *testing.T) {
	ctx := context.Background()
	filename := filepath.Join(t.TempDir(), "nested", DefaultDBFile)

	db, err := New(ctx, filename)
	require.NoError(t, err)

	var version int
	require.NoError(t, db.QueryRowContext(ctx, getCurrentMigration).Scan(&version))
	assert.Equal(t, len(migrations), version)
	require.NoError(t, db.Close())

	// reopening an up-to-date database runs nothing and keeps the version
	db, err = New(ctx, filename)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.QueryRowContext(ctx, getCurrentMigration).Scan(&version))
	assert.Equal(t, len(migrations), version)

	var tables int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('run_directories', 'image_generations');`,
	).Scan(&tables))
	assert.Equal(t, 2, tables)
}
