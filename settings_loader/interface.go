package settings_loader

import "diffusion_sweeper/entities"

// Settings is everything a sweep needs from the settings and prompt documents,
// with all defaults already applied.
type Settings struct {
	Generation entities.GenerationConfig
	Params     entities.RunParams
	// Seeds is Params.Seeds expanded according to Params.GenType.
	Seeds []int64
}
