package entities

import "time"

type RunDirectory struct {
	Name        string           `json:"name"`
	Path        string           `json:"path"`
	Fingerprint string           `json:"fingerprint"`
	Config      GenerationConfig `json:"config"`
	Created     bool             `json:"created"`
	CreatedAt   time.Time        `json:"created_at"`
}
