package schema

import "fmt"

// ConfigError reports a configuration section that could not be applied.
type ConfigError struct {
	Section string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s configuration: %v", e.Section, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func newConfigError(section string, err error) *ConfigError {
	return &ConfigError{Section: section, Err: err}
}
