package seed_sweep

import (
	"errors"
	"time"

	"diffusion_sweeper/entities"
)

type Job struct {
	SweepID      string
	Config       entities.GenerationConfig
	Params       entities.RunParams
	Seeds        []int64
	RunDirectory *entities.RunDirectory
}

type Artifact struct {
	Seed int64
	Path string
	Size int
}

type Report struct {
	SweepID          string
	OutputDir        string
	Written          []Artifact
	Skipped          []int64
	Failures         []*SynthesisError
	Aborted          bool
	ContactSheetPath string
	StartedAt        time.Time
	FinishedAt       time.Time

	job *Job
}

// Err joins every per-seed failure, or is nil when all seeds succeeded.
func (r *Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}

	errs := make([]error, len(r.Failures))
	for i, failure := range r.Failures {
		errs[i] = failure
	}

	return errors.Join(errs...)
}

func (r *Report) FailedSeeds() []int64 {
	seeds := make([]int64, len(r.Failures))
	for i, failure := range r.Failures {
		seeds[i] = failure.Seed
	}

	return seeds
}

func (r *Report) Summary() *entities.SweepSummary {
	summary := &entities.SweepSummary{
		SweepID:          r.SweepID,
		OutputDir:        r.OutputDir,
		Written:          len(r.Written),
		Skipped:          len(r.Skipped),
		Failures:         make([]entities.SeedFailure, 0, len(r.Failures)),
		Aborted:          r.Aborted,
		ContactSheetPath: r.ContactSheetPath,
		Duration:         r.FinishedAt.Sub(r.StartedAt),
	}

	if r.job != nil {
		summary.ModelID = r.job.Config.ModelID
		summary.Prompt = r.job.Config.Prompt

		if r.job.RunDirectory != nil {
			summary.RunDirectory = r.job.RunDirectory.Path
		}
	}

	for _, failure := range r.Failures {
		summary.Failures = append(summary.Failures, entities.SeedFailure{
			Seed:    failure.Seed,
			Message: failure.Error(),
		})
	}

	return summary
}
