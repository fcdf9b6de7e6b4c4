package entities

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type GenType string

const (
	GenTypeInterval GenType = "interval"
	GenTypeExplicit GenType = "explicit"
)

const (
	DefaultWidth  = 2048
	DefaultHeight = 2048
)

// RunParams are the per-run knobs that do not affect the run directory.
type RunParams struct {
	NumInferenceSteps int           `json:"num_inference_steps"`
	GuidanceScale     GuidanceScale `json:"guidance_scale"`
	GenType           GenType       `json:"gen_type"`
	Seeds             []int64       `json:"seeds"`
	Width             int           `json:"width"`
	Height            int           `json:"height"`
}

// ParamsDirName is the name of the subfolder that holds the images of one
// guidance scale / step count combination.
func (p RunParams) ParamsDirName() string {
	return fmt.Sprintf("%s_%d", p.GuidanceScale.String(), p.NumInferenceSteps)
}

// GuidanceScale remembers whether the settings document wrote an integer or
// a float, so the folder name reads "7_50" for 7 and "7.0_50" for 7.0.
type GuidanceScale struct {
	text  string
	value float64
}

func NewGuidanceScale(value float64) GuidanceScale {
	return GuidanceScale{text: formatFloat(value), value: value}
}

// ParseGuidanceScale reads a JSON number literal.
func ParseGuidanceScale(literal string) (GuidanceScale, error) {
	literal = strings.TrimSpace(literal)

	if !strings.ContainsAny(literal, ".eE") {
		value, err := strconv.ParseInt(literal, 10, 64)
		if err != nil {
			return GuidanceScale{}, fmt.Errorf("invalid guidance scale %q: %w", literal, err)
		}

		return GuidanceScale{text: strconv.FormatInt(value, 10), value: float64(value)}, nil
	}

	value, err := strconv.ParseFloat(literal, 64)
	if err != nil {
		return GuidanceScale{}, fmt.Errorf("invalid guidance scale %q: %w", literal, err)
	}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return GuidanceScale{}, fmt.Errorf("invalid guidance scale %q", literal)
	}

	return NewGuidanceScale(value), nil
}

func (g GuidanceScale) Float64() float64 {
	return g.value
}

func (g GuidanceScale) IsZero() bool {
	return g.text == ""
}

func (g GuidanceScale) String() string {
	if g.text == "" {
		return formatFloat(g.value)
	}

	return g.text
}

func (g GuidanceScale) MarshalJSON() ([]byte, error) {
	return []byte(g.String()), nil
}

func (g *GuidanceScale) UnmarshalJSON(data []byte) error {
	var number json.Number

	if err := json.Unmarshal(data, &number); err != nil {
		return errors.New("guidance scale must be a number")
	}

	parsed, err := ParseGuidanceScale(number.String())
	if err != nil {
		return err
	}

	*g = parsed

	return nil
}

func (g *GuidanceScale) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}

	if err := unmarshal(&raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case int:
		*g = GuidanceScale{text: strconv.Itoa(v), value: float64(v)}
	case float64:
		*g = NewGuidanceScale(v)
	default:
		return fmt.Errorf("guidance scale must be a number, got %v", raw)
	}

	return nil
}

// formatFloat writes the shortest round-trip form with a fractional part
// ("7.0", "3.5"), switching to exponent form outside [1e-4, 1e16).
func formatFloat(value float64) string {
	abs := math.Abs(value)

	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(value, 'e', -1, 64)
	}

	s := strconv.FormatFloat(value, 'f', -1, 64)

	if !strings.Contains(s, ".") {
		s += ".0"
	}

	return s
}
