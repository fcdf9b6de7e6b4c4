package seed_sweep

import "context"

type Driver interface {
	// Run generates one image per seed, strictly in order. The returned error
	// is for problems that stop the whole sweep (output directory, context);
	// per-seed failures are collected on the Report.
	Run(ctx context.Context, job *Job) (*Report, error)
}
