package locks

import "context"

// Locker serializes the scan-then-create step of run directory resolution
// for one output root. Lock blocks until the lock is held or ctx is done.
type Locker interface {
	Lock(ctx context.Context, root string) (Unlock, error)
}

type Unlock func() error
