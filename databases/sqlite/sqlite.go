package sqlite

import (
	"context"
	"database/sql"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

// DefaultDBFile lives next to the run directories it indexes.
const DefaultDBFile string = "fingerprint_index.sqlite"

const getCurrentMigration string = `PRAGMA user_version;`
const setCurrentMigration string = `PRAGMA user_version = ?;`

const createRunDirectoriesTableIfNotExistsQuery string = `
CREATE TABLE IF NOT EXISTS run_directories (
fingerprint TEXT NOT NULL PRIMARY KEY,
dir_name TEXT NOT NULL,
model_id TEXT NOT NULL,
prompt TEXT NOT NULL,
created_at DATETIME NOT NULL
);`

const createRunDirectoryNameIndexIfNotExistsQuery string = `
CREATE UNIQUE INDEX IF NOT EXISTS run_directories_dir_name_index
ON run_directories(dir_name);
`

const createGenerationTableIfNotExistsQuery string = `
CREATE TABLE IF NOT EXISTS image_generations (
id INTEGER NOT NULL PRIMARY KEY,
sweep_id TEXT NOT NULL,
fingerprint TEXT NOT NULL,
run_directory TEXT NOT NULL,
model_id TEXT NOT NULL,
guidance_scale TEXT NOT NULL,
num_inference_steps INTEGER NOT NULL,
seed INTEGER NOT NULL,
width INTEGER NOT NULL,
height INTEGER NOT NULL,
file_path TEXT NOT NULL,
created_at DATETIME NOT NULL
);`

const createGenerationSweepIndexIfNotExistsQuery string = `
CREATE INDEX IF NOT EXISTS generation_sweep_index
ON image_generations(sweep_id);
`

const createGenerationFingerprintIndexIfNotExistsQuery string = `
CREATE INDEX IF NOT EXISTS generation_fingerprint_index
ON image_generations(fingerprint);
`

type migration struct {
	migrationName  string
	migrationQuery string
}

var migrations = []migration{
	{migrationName: "create run directories table", migrationQuery: createRunDirectoriesTableIfNotExistsQuery},
	{migrationName: "add run directory name index", migrationQuery: createRunDirectoryNameIndexIfNotExistsQuery},
	{migrationName: "create generation table", migrationQuery: createGenerationTableIfNotExistsQuery},
	{migrationName: "add generation sweep index", migrationQuery: createGenerationSweepIndexIfNotExistsQuery},
	{migrationName: "add generation fingerprint index", migrationQuery: createGenerationFingerprintIndexIfNotExistsQuery},
}

// New opens (creating if needed) the database at filename and brings its
// schema up to date.
func New(ctx context.Context, filename string) (*sql.DB, error) {
	err := touchDBFile(filename)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}

	// one writer; keeps PRAGMA user_version and the tables on the same connection
	db.SetMaxOpenConns(1)

	err = migrate(ctx, db)
	if err != nil {
		db.Close()

		return nil, err
	}

	return db, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	var currentMigration int

	row := db.QueryRowContext(ctx, getCurrentMigration)

	err := row.Scan(&currentMigration)
	if err != nil {
		return err
	}

	requiredMigration := len(migrations)

	log.Printf("Current DB version: %v, required DB version: %v\n", currentMigration, requiredMigration)

	if currentMigration < requiredMigration {
		for migrationNum := currentMigration + 1; migrationNum <= requiredMigration; migrationNum++ {
			err = execMigration(ctx, db, migrationNum)
			if err != nil {
				log.Printf("Error running migration %v '%v'\n", migrationNum, migrations[migrationNum-1].migrationName)

				return err
			}
		}
	}

	return nil
}

func execMigration(ctx context.Context, db *sql.DB, migrationNum int) error {
	log.Printf("Running migration %v '%v'\n", migrationNum, migrations[migrationNum-1].migrationName)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	//nolint
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, migrations[migrationNum-1].migrationQuery)
	if err != nil {
		return err
	}

	setQuery := strings.Replace(setCurrentMigration, "?", strconv.Itoa(migrationNum), 1)

	_, err = tx.ExecContext(ctx, setQuery)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func touchDBFile(filename string) error {
	err := os.MkdirAll(filepath.Dir(filename), 0o755)
	if err != nil {
		return err
	}

	_, err = os.Stat(filename)
	if os.IsNotExist(err) {
		file, createErr := os.Create(filename)
		if createErr != nil {
			return createErr
		}

		closeErr := file.Close()
		if closeErr != nil {
			return closeErr
		}
	}

	return nil
}
