package settings_loader

import "fmt"

// ConfigurationError means the settings document or prompt is missing,
// unreadable or lacks a required field. Nothing has been generated yet when
// it is returned.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func (e *ConfigurationError) Is(err error) bool {
	_, ok := err.(*ConfigurationError)
	return ok
}
