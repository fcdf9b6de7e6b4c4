package fingerprint

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"diffusion_sweeper/entities"
)

// SnapshotFileName is the file every run directory keeps its config in.
const SnapshotFileName = "generation_configs.json"

const snapshotIndent = "    "

// Fingerprint is the hex MD5 digest of a canonical config serialization.
type Fingerprint string

func (f Fingerprint) String() string {
	return string(f)
}

// Fields returns the hashable key/value form of cfg.
func Fields(cfg entities.GenerationConfig) map[string]interface{} {
	return map[string]interface{}{
		"model_id":                      cfg.ModelID,
		"lora":                          cfg.LoRA,
		"enable_tiling":                 cfg.EnableTiling,
		"enable_slicing":                cfg.EnableSlicing,
		"enable_sequential_cpu_offload": cfg.EnableSequentialCPUOffload,
		"safety_checker":                cfg.SafetyChecker,
		"enable_attention_slicing":      cfg.EnableAttentionSlicing,
		"prompt":                        cfg.Prompt,
	}
}

// Of returns the fingerprint of cfg. cfg must already carry its defaults.
func Of(cfg entities.GenerationConfig) Fingerprint {
	data, err := Canonical(Fields(cfg))
	if err != nil {
		// Fields only produces strings and bools.
		panic(err)
	}

	return digest(data)
}

// OfSnapshot fingerprints the content of a snapshot file. Keys and values are
// hashed as found, so a snapshot only matches a config when it holds exactly
// that config's fields.
func OfSnapshot(data []byte) (Fingerprint, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var content map[string]interface{}

	if err := dec.Decode(&content); err != nil {
		return "", &SnapshotParseError{Err: err}
	}

	if content == nil {
		return "", &SnapshotParseError{Err: fmt.Errorf("snapshot is not a JSON object")}
	}

	if dec.More() {
		return "", &SnapshotParseError{Err: fmt.Errorf("trailing data after snapshot object")}
	}

	canonical, err := Canonical(content)
	if err != nil {
		return "", &SnapshotParseError{Err: err}
	}

	return digest(canonical), nil
}

// EncodeSnapshot renders cfg as the body of a snapshot file.
func EncodeSnapshot(cfg entities.GenerationConfig) ([]byte, error) {
	data, err := CanonicalIndent(Fields(cfg), snapshotIndent)
	if err != nil {
		return nil, err
	}

	return append(data, '\n'), nil
}

// DecodeSnapshot reads a snapshot back into a config. Missing flags take
// their defaults.
func DecodeSnapshot(data []byte) (entities.GenerationConfig, error) {
	cfg := entities.DefaultGenerationConfig()

	if err := json.Unmarshal(data, &cfg); err != nil {
		return entities.GenerationConfig{}, &SnapshotParseError{Err: err}
	}

	return cfg, nil
}

func digest(data []byte) Fingerprint {
	sum := md5.Sum(data)

	return Fingerprint(hex.EncodeToString(sum[:]))
}
