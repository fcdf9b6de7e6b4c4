package run_directories

import "fmt"

// DirectoryCreationError is returned when the output root or a new run
// directory (with its snapshot) cannot be created.
type DirectoryCreationError struct {
	Path string
	Err  error
}

func (e *DirectoryCreationError) Error() string {
	return fmt.Sprintf("cannot create %s: %v", e.Path, e.Err)
}

func (e *DirectoryCreationError) Unwrap() error {
	return e.Err
}

func (e *DirectoryCreationError) Is(err error) bool {
	_, ok := err.(*DirectoryCreationError)
	return ok
}
