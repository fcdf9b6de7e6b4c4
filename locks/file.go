package locks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	LockFileName = ".sweeper.lock"

	defaultPollInterval = 100 * time.Millisecond
	defaultStaleAfter   = 10 * time.Minute
)

type fileLocker struct {
	pollInterval time.Duration
	staleAfter   time.Duration
}

type FileConfig struct {
	PollInterval time.Duration
	// StaleAfter is how old a lock file may get before it is assumed to
	// belong to a crashed process and removed.
	StaleAfter time.Duration
}

// NewFileLocker locks a root by exclusively creating root/.sweeper.lock.
// It works across processes sharing a local filesystem.
func NewFileLocker(cfg FileConfig) Locker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}

	return &fileLocker{
		pollInterval: cfg.PollInterval,
		staleAfter:   cfg.StaleAfter,
	}
}

func (l *fileLocker) Lock(ctx context.Context, root string) (Unlock, error) {
	lockPath := filepath.Join(root, LockFileName)

	for {
		file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, writeErr := file.WriteString(strconv.Itoa(os.Getpid()))
			closeErr := file.Close()

			held, statErr := os.Stat(lockPath)

			if err = errors.Join(writeErr, closeErr, statErr); err != nil {
				os.Remove(lockPath)

				return nil, fmt.Errorf("write lock file %s: %w", lockPath, err)
			}

			return func() error {
				return release(lockPath, held)
			}, nil
		}

		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock file %s: %w", lockPath, err)
		}

		l.removeIfStale(lockPath)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", lockPath, ctx.Err())
		case <-time.After(l.pollInterval):
		}
	}
}

func (l *fileLocker) removeIfStale(lockPath string) {
	info, err := os.Stat(lockPath)
	if err != nil {
		return
	}

	if age := time.Since(info.ModTime()); age > l.staleAfter {
		log.Printf("Removing stale lock %s (age %v)\n", lockPath, age.Round(time.Second))

		removeStale(lockPath, info)
	}
}

// removeStale deletes the lock file judged stale from info. The file is
// renamed aside first so that of several waiters only one gets it, and it
// is put back if it turns out to be a newer lock than the one judged.
func removeStale(lockPath string, info os.FileInfo) {
	aside := lockPath + ".stale-" + uuid.NewString()

	if err := os.Rename(lockPath, aside); err != nil {
		return
	}

	moved, err := os.Stat(aside)
	if err == nil && !sameLock(info, moved) {
		if linkErr := os.Link(aside, lockPath); linkErr != nil {
			log.Printf("Error restoring lock %s: %v\n", lockPath, linkErr)
		}
	}

	os.Remove(aside)
}

// release removes the lock file only while it is still the one this holder
// created.
func release(lockPath string, held os.FileInfo) error {
	current, err := os.Stat(lockPath)
	if err != nil {
		return fmt.Errorf("release %s: %w", lockPath, err)
	}

	if !sameLock(held, current) {
		return fmt.Errorf("release %s: lock was taken over as stale", lockPath)
	}

	return os.Remove(lockPath)
}

// sameLock also compares mtime and size since a freed inode is often reused
// by the next lock file.
func sameLock(a, b os.FileInfo) bool {
	return os.SameFile(a, b) && a.ModTime().Equal(b.ModTime()) && a.Size() == b.Size()
}
