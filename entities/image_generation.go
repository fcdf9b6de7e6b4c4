package entities

import "time"

type ImageGeneration struct {
	ID                int64     `json:"id"`
	SweepID           string    `json:"sweep_id"`
	Fingerprint       string    `json:"fingerprint"`
	RunDirectory      string    `json:"run_directory"`
	ModelID           string    `json:"model_id"`
	GuidanceScale     string    `json:"guidance_scale"`
	NumInferenceSteps int       `json:"num_inference_steps"`
	Seed              int64     `json:"seed"`
	Width             int       `json:"width"`
	Height            int       `json:"height"`
	FilePath          string    `json:"file_path"`
	CreatedAt         time.Time `json:"created_at"`
}
