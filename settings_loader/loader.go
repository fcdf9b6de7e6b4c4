package settings_loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"diffusion_sweeper/entities"
	"diffusion_sweeper/seed_expander"

	"gopkg.in/yaml.v2"
)

const (
	DefaultConfigsDir = "./configs"
	DefaultPromptFile = "prompt.txt"
)

// candidate settings documents, in lookup order
var defaultConfigFiles = []string{"config.json", "config.yaml", "config.yml"}

var errMissing = errors.New("required field is missing")

type Config struct {
	ConfigsDir string
	// ConfigFile is looked up in ConfigsDir; empty means the first of
	// config.json, config.yaml, config.yml that exists.
	ConfigFile string
	PromptFile string
}

// document mirrors the settings file. Pointers tell absent fields from
// zero values so defaults can be applied explicitly.
type document struct {
	ModelID                    *string                 `json:"model_id" yaml:"model_id"`
	LoRA                       *bool                   `json:"lora" yaml:"lora"`
	EnableTiling               *bool                   `json:"enable_tiling" yaml:"enable_tiling"`
	EnableSlicing              *bool                   `json:"enable_slicing" yaml:"enable_slicing"`
	EnableSequentialCPUOffload *bool                   `json:"enable_sequential_cpu_offload" yaml:"enable_sequential_cpu_offload"`
	SafetyChecker              *bool                   `json:"safety_checker" yaml:"safety_checker"`
	EnableAttentionSlicing     *bool                   `json:"enable_attention_slicing" yaml:"enable_attention_slicing"`
	NumInferenceSteps          *int                    `json:"num_inference_steps" yaml:"num_inference_steps"`
	GuidanceScale              *entities.GuidanceScale `json:"guidance_scale" yaml:"guidance_scale"`
	GenType                    *string                 `json:"gen_type" yaml:"gen_type"`
	Seeds                      []int64                 `json:"seeds" yaml:"seeds"`
	Width                      *int                    `json:"width" yaml:"width"`
	Height                     *int                    `json:"height" yaml:"height"`
}

func Load(cfg Config) (*Settings, error) {
	if cfg.ConfigsDir == "" {
		cfg.ConfigsDir = DefaultConfigsDir
	}

	if cfg.PromptFile == "" {
		cfg.PromptFile = DefaultPromptFile
	}

	configPath, err := findConfigFile(cfg)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, &ConfigurationError{Field: "settings", Err: err}
	}

	doc, err := decodeDocument(configPath, raw)
	if err != nil {
		return nil, &ConfigurationError{Field: "settings", Err: fmt.Errorf("%s: %w", configPath, err)}
	}

	promptPath := filepath.Join(cfg.ConfigsDir, cfg.PromptFile)

	promptData, err := os.ReadFile(promptPath)
	if err != nil {
		return nil, &ConfigurationError{Field: "prompt", Err: err}
	}

	prompt := strings.TrimSpace(string(promptData))
	if prompt == "" {
		return nil, &ConfigurationError{Field: "prompt", Err: fmt.Errorf("%s is empty", promptPath)}
	}

	settings, err := resolve(doc, prompt)
	if err != nil {
		return nil, err
	}

	log.Printf("Loaded settings from %s and prompt from %s\n", configPath, promptPath)

	return settings, nil
}

func findConfigFile(cfg Config) (string, error) {
	if cfg.ConfigFile != "" {
		return filepath.Join(cfg.ConfigsDir, cfg.ConfigFile), nil
	}

	for _, name := range defaultConfigFiles {
		path := filepath.Join(cfg.ConfigsDir, name)

		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", &ConfigurationError{
		Field: "settings",
		Err:   fmt.Errorf("none of %s found in %s", strings.Join(defaultConfigFiles, ", "), cfg.ConfigsDir),
	}
}

func decodeDocument(path string, raw []byte) (*document, error) {
	doc := &document{}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, doc); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(raw, doc); err != nil {
			return nil, err
		}
	}

	return doc, nil
}

// resolve applies the documented defaults and checks required fields.
func resolve(doc *document, prompt string) (*Settings, error) {
	generation := entities.DefaultGenerationConfig()
	generation.Prompt = prompt

	if doc.ModelID == nil || *doc.ModelID == "" {
		return nil, &ConfigurationError{Field: "model_id", Err: errMissing}
	}

	generation.ModelID = *doc.ModelID

	setBool(&generation.LoRA, doc.LoRA)
	setBool(&generation.EnableTiling, doc.EnableTiling)
	setBool(&generation.EnableSlicing, doc.EnableSlicing)
	setBool(&generation.EnableSequentialCPUOffload, doc.EnableSequentialCPUOffload)
	setBool(&generation.SafetyChecker, doc.SafetyChecker)
	setBool(&generation.EnableAttentionSlicing, doc.EnableAttentionSlicing)

	params := entities.RunParams{
		GenType: entities.GenTypeExplicit,
		Width:   entities.DefaultWidth,
		Height:  entities.DefaultHeight,
	}

	if doc.NumInferenceSteps == nil {
		return nil, &ConfigurationError{Field: "num_inference_steps", Err: errMissing}
	}

	if *doc.NumInferenceSteps <= 0 {
		return nil, &ConfigurationError{
			Field: "num_inference_steps",
			Err:   fmt.Errorf("must be positive, got %d", *doc.NumInferenceSteps),
		}
	}

	params.NumInferenceSteps = *doc.NumInferenceSteps

	if doc.GuidanceScale == nil || doc.GuidanceScale.IsZero() {
		return nil, &ConfigurationError{Field: "guidance_scale", Err: errMissing}
	}

	params.GuidanceScale = *doc.GuidanceScale

	if doc.GenType != nil && entities.GenType(*doc.GenType) == entities.GenTypeInterval {
		params.GenType = entities.GenTypeInterval
	}

	if doc.Seeds == nil {
		return nil, &ConfigurationError{Field: "seeds", Err: errMissing}
	}

	if params.GenType == entities.GenTypeInterval && len(doc.Seeds) != 2 {
		return nil, &ConfigurationError{
			Field: "seeds",
			Err:   fmt.Errorf("interval needs [start, end], got %v", doc.Seeds),
		}
	}

	params.Seeds = doc.Seeds

	seeds, err := seed_expander.Expand(params.GenType, params.Seeds)
	if err != nil {
		return nil, &ConfigurationError{Field: "seeds", Err: err}
	}

	if doc.Width != nil {
		params.Width = *doc.Width
	}

	if doc.Height != nil {
		params.Height = *doc.Height
	}

	if params.Width <= 0 || params.Height <= 0 {
		return nil, &ConfigurationError{
			Field: "width/height",
			Err:   fmt.Errorf("dimensions must be positive, got %dx%d", params.Width, params.Height),
		}
	}

	return &Settings{Generation: generation, Params: params, Seeds: seeds}, nil
}

func setBool(dst *bool, value *bool) {
	if value != nil {
		*dst = *value
	}
}
