package tariff

import "fmt"

// ConfigurationError reports a tariff timezone that cannot be resolved.
type ConfigurationError struct {
	Timezone string
	Err      error
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("invalid tariff timezone %q", e.Timezone)
	}
	return fmt.Sprintf("invalid tariff timezone %q: %v", e.Timezone, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
