package entities

// GenerationConfig holds the settings that decide which run directory a sweep
// writes into. Run parameters (steps, guidance scale, seeds) are not part of it.
type GenerationConfig struct {
	ModelID                    string `json:"model_id" yaml:"model_id"`
	LoRA                       bool   `json:"lora" yaml:"lora"`
	EnableTiling               bool   `json:"enable_tiling" yaml:"enable_tiling"`
	EnableSlicing              bool   `json:"enable_slicing" yaml:"enable_slicing"`
	EnableSequentialCPUOffload bool   `json:"enable_sequential_cpu_offload" yaml:"enable_sequential_cpu_offload"`
	SafetyChecker              bool   `json:"safety_checker" yaml:"safety_checker"`
	EnableAttentionSlicing     bool   `json:"enable_attention_slicing" yaml:"enable_attention_slicing"`
	Prompt                     string `json:"prompt" yaml:"prompt"`
}

const (
	DefaultLoRA                       = false
	DefaultEnableTiling               = false
	DefaultEnableSlicing              = false
	DefaultEnableSequentialCPUOffload = false
	DefaultSafetyChecker              = true
	DefaultEnableAttentionSlicing     = false
)

// DefaultGenerationConfig returns a config with every optional flag at its
// documented default. ModelID and Prompt have no default.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		LoRA:                       DefaultLoRA,
		EnableTiling:               DefaultEnableTiling,
		EnableSlicing:              DefaultEnableSlicing,
		EnableSequentialCPUOffload: DefaultEnableSequentialCPUOffload,
		SafetyChecker:              DefaultSafetyChecker,
		EnableAttentionSlicing:     DefaultEnableAttentionSlicing,
	}
}
