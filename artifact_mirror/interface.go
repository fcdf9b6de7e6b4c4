package artifact_mirror

import "context"

// Mirror copies finished artifacts to object storage. relPath is the
// artifact's path relative to the output root, with forward slashes.
type Mirror interface {
	Upload(ctx context.Context, relPath string, data []byte, contentType string) error
}
