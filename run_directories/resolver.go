package run_directories

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"diffusion_sweeper/atomic_file"
	"diffusion_sweeper/clock"
	"diffusion_sweeper/entities"
	"diffusion_sweeper/fingerprint"
	"diffusion_sweeper/locks"
	"diffusion_sweeper/metrics"
	"diffusion_sweeper/repositories"
	"diffusion_sweeper/repositories/fingerprint_index"

	"golang.org/x/sync/errgroup"
)

const (
	DirNamePrefix = "images_"

	defaultScanWorkers = 8
	maxCreateAttempts  = 1000
)

type resolverImpl struct {
	root        string
	locker      locks.Locker
	index       fingerprint_index.Repository
	clock       clock.Clock
	scanWorkers int
	logger      *log.Logger
}

type Config struct {
	Root string
	// Locker guards scan-then-create. Defaults to a lock file in Root.
	Locker locks.Locker
	// Index is optional. When set it is consulted before scanning and kept
	// up to date, but the snapshots stay authoritative.
	Index       fingerprint_index.Repository
	Clock       clock.Clock
	ScanWorkers int
	Logger      *log.Logger
}

func New(cfg Config) (Resolver, error) {
	if cfg.Root == "" {
		return nil, errors.New("missing output root")
	}

	if cfg.Locker == nil {
		cfg.Locker = locks.NewFileLocker(locks.FileConfig{})
	}

	if cfg.Clock == nil {
		cfg.Clock = clock.NewClock()
	}

	if cfg.ScanWorkers <= 0 {
		cfg.ScanWorkers = defaultScanWorkers
	}

	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	return &resolverImpl{
		root:        cfg.Root,
		locker:      cfg.Locker,
		index:       cfg.Index,
		clock:       cfg.Clock,
		scanWorkers: cfg.ScanWorkers,
		logger:      cfg.Logger,
	}, nil
}

func (r *resolverImpl) ResolveOrCreate(ctx context.Context, cfg entities.GenerationConfig) (*entities.RunDirectory, error) {
	if err := os.MkdirAll(r.root, 0o755); err != nil {
		return nil, &DirectoryCreationError{Path: r.root, Err: err}
	}

	target := fingerprint.Of(cfg)

	unlock, err := r.locker.Lock(ctx, r.root)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", r.root, err)
	}

	defer func() {
		if unlockErr := unlock(); unlockErr != nil {
			r.logger.Printf("Error releasing lock on %s: %v\n", r.root, unlockErr)
		}
	}()

	if dir := r.lookupIndex(ctx, cfg, target); dir != nil {
		metrics.RunDirectoryResolved(metrics.OutcomeIndexed)

		return dir, nil
	}

	subdirs, err := r.listSubdirectories()
	if err != nil {
		return nil, err
	}

	dir, err := r.scan(ctx, cfg, target, subdirs)
	if err != nil {
		return nil, err
	}

	if dir != nil {
		r.logger.Printf("Matching configuration found in %s.\n", dir.Path)
		metrics.RunDirectoryResolved(metrics.OutcomeReused)
		r.updateIndex(ctx, dir)

		return dir, nil
	}

	dir, err = r.create(cfg, target, len(subdirs))
	if err != nil {
		return nil, err
	}

	r.logger.Printf("Created new folder: %s\n", dir.Path)
	metrics.RunDirectoryResolved(metrics.OutcomeCreated)
	r.updateIndex(ctx, dir)

	return dir, nil
}

// lookupIndex returns the indexed directory for target if its snapshot still
// agrees. Index problems are logged and treated as a miss.
func (r *resolverImpl) lookupIndex(ctx context.Context, cfg entities.GenerationConfig, target fingerprint.Fingerprint) *entities.RunDirectory {
	if r.index == nil {
		return nil
	}

	indexed, err := r.index.GetByFingerprint(ctx, target.String())
	if err != nil {
		if !errors.Is(err, &repositories.NotFoundError{}) {
			r.logger.Printf("Error reading fingerprint index: %v\n", err)
		}

		return nil
	}

	path := filepath.Join(r.root, indexed.Name)

	found, _, err := readSnapshotFingerprint(path)
	if err == nil && found == target {
		r.logger.Printf("Matching configuration found in %s (indexed).\n", path)

		return &entities.RunDirectory{
			Name:        indexed.Name,
			Path:        path,
			Fingerprint: target.String(),
			Config:      cfg,
			CreatedAt:   indexed.CreatedAt,
		}
	}

	r.logger.Printf("Index entry %s -> %s is stale, rescanning\n", target, indexed.Name)

	if err := r.index.Delete(ctx, target.String()); err != nil {
		r.logger.Printf("Error deleting stale index entry: %v\n", err)
	}

	return nil
}

func (r *resolverImpl) updateIndex(ctx context.Context, dir *entities.RunDirectory) {
	if r.index == nil {
		return
	}

	if err := r.index.Upsert(ctx, dir); err != nil {
		r.logger.Printf("Error updating fingerprint index for %s: %v\n", dir.Name, err)
	}
}

// listSubdirectories returns the names of the immediate subdirectories of
// root, sorted. Symlinks to directories count as directories.
func (r *resolverImpl) listSubdirectories() ([]string, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.root, err)
	}

	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())

			continue
		}

		if entry.Type()&fs.ModeSymlink != 0 {
			info, statErr := os.Stat(filepath.Join(r.root, entry.Name()))
			if statErr == nil && info.IsDir() {
				names = append(names, entry.Name())
			}
		}
	}

	return names, nil
}

type scanResult struct {
	fingerprint fingerprint.Fingerprint
	modTime     time.Time
}

// scan fingerprints every candidate snapshot concurrently and returns the
// first match in name order.
func (r *resolverImpl) scan(ctx context.Context, cfg entities.GenerationConfig, target fingerprint.Fingerprint, subdirs []string) (*entities.RunDirectory, error) {
	results := make([]scanResult, len(subdirs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.scanWorkers)

	for i, name := range subdirs {
		i, name := i, name

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			path := filepath.Join(r.root, name)

			found, modTime, err := readSnapshotFingerprint(path)
			if err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					r.logger.Printf("Warning: skipping %s: %v\n", path, err)
					metrics.SnapshotSkipped()
				}

				return nil
			}

			results[i] = scanResult{fingerprint: found, modTime: modTime}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, result := range results {
		if result.fingerprint != target {
			continue
		}

		return &entities.RunDirectory{
			Name:        subdirs[i],
			Path:        filepath.Join(r.root, subdirs[i]),
			Fingerprint: target.String(),
			Config:      cfg,
			CreatedAt:   result.modTime,
		}, nil
	}

	return nil, nil
}

// create allocates images_{existing+1}, moving past names that are already
// taken, and writes the snapshot into it.
func (r *resolverImpl) create(cfg entities.GenerationConfig, target fingerprint.Fingerprint, existing int) (*entities.RunDirectory, error) {
	snapshot, err := fingerprint.EncodeSnapshot(cfg)
	if err != nil {
		return nil, err
	}

	for attempt, index := 0, existing+1; attempt < maxCreateAttempts; attempt, index = attempt+1, index+1 {
		name := fmt.Sprintf("%s%d", DirNamePrefix, index)
		path := filepath.Join(r.root, name)

		err = os.Mkdir(path, 0o755)
		if errors.Is(err, fs.ErrExist) {
			continue
		}

		if err != nil {
			return nil, &DirectoryCreationError{Path: path, Err: err}
		}

		err = atomic_file.Write(filepath.Join(path, fingerprint.SnapshotFileName), snapshot, 0o644)
		if err != nil {
			// leave no snapshot-less directory behind; it would shift numbering
			os.Remove(path)

			return nil, &DirectoryCreationError{Path: path, Err: err}
		}

		return &entities.RunDirectory{
			Name:        name,
			Path:        path,
			Fingerprint: target.String(),
			Config:      cfg,
			Created:     true,
			CreatedAt:   r.clock.Now(),
		}, nil
	}

	return nil, &DirectoryCreationError{
		Path: r.root,
		Err:  fmt.Errorf("no free %sN name after %d attempts", DirNamePrefix, maxCreateAttempts),
	}
}

// readSnapshotFingerprint fingerprints dir's snapshot. A missing snapshot
// yields an fs.ErrNotExist error.
func readSnapshotFingerprint(dir string) (fingerprint.Fingerprint, time.Time, error) {
	path := filepath.Join(dir, fingerprint.SnapshotFileName)

	info, err := os.Stat(path)
	if err != nil {
		return "", time.Time{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", time.Time{}, &fingerprint.SnapshotParseError{Path: path, Err: err}
	}

	found, err := fingerprint.OfSnapshot(data)
	if err != nil {
		var parseErr *fingerprint.SnapshotParseError
		if errors.As(err, &parseErr) {
			parseErr.Path = path
		}

		return "", time.Time{}, err
	}

	return found, info.ModTime(), nil
}
