package fingerprint

import "fmt"

// SnapshotParseError reports a snapshot file that could not be read as a
// config. Callers scanning many directories skip the offending one.
type SnapshotParseError struct {
	Path string
	Err  error
}

func (e *SnapshotParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid snapshot: %v", e.Err)
	}

	return fmt.Sprintf("invalid snapshot %s: %v", e.Path, e.Err)
}

func (e *SnapshotParseError) Unwrap() error {
	return e.Err
}

func (e *SnapshotParseError) Is(err error) bool {
	_, ok := err.(*SnapshotParseError)
	return ok
}
