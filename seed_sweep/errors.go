package seed_sweep

import "fmt"

const (
	StageSynthesize = "synthesize"
	StageDecode     = "decode"
	StageWrite      = "write"
)

// SynthesisError is the failure of a single seed. No file is left behind for
// that seed.
type SynthesisError struct {
	Seed  int64
	Stage string
	Err   error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("seed %d: %s: %v", e.Seed, e.Stage, e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

func (e *SynthesisError) Is(err error) bool {
	_, ok := err.(*SynthesisError)
	return ok
}
