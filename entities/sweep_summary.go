package entities

import "time"

type SeedFailure struct {
	Seed    int64  `json:"seed"`
	Message string `json:"message"`
}

// SweepSummary is what a finished sweep reports to the outside world.
type SweepSummary struct {
	SweepID          string        `json:"sweep_id"`
	ModelID          string        `json:"model_id"`
	Prompt           string        `json:"prompt"`
	RunDirectory     string        `json:"run_directory"`
	OutputDir        string        `json:"output_dir"`
	Written          int           `json:"written"`
	Skipped          int           `json:"skipped"`
	Failures         []SeedFailure `json:"failures"`
	Aborted          bool          `json:"aborted"`
	ContactSheetPath string        `json:"contact_sheet_path,omitempty"`
	Duration         time.Duration `json:"duration"`
}
