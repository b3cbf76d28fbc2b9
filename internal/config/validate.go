package config

import "fmt"

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a Config for structural and semantic errors. It returns
// a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	for name, cap := range cfg.Capabilities {
		if cap.Command == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("capabilities.%s.command", name),
				Message: "is required",
			})
		}
		if cap.Timeout < 0 {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("capabilities.%s.timeout", name),
				Message: "must not be negative",
			})
		}
	}

	for name, cap := range cfg.RecoveryHandlers {
		if cap.Command == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("recovery_handlers.%s.command", name),
				Message: "is required",
			})
		}
	}

	if cfg.DefaultCapability != "" {
		if _, ok := cfg.Capabilities[cfg.DefaultCapability]; !ok {
			errs = append(errs, ValidationError{
				Field:   "default_capability",
				Message: fmt.Sprintf("references undefined capability %q", cfg.DefaultCapability),
			})
		}
	}

	if cfg.LockStaleAfter < 0 {
		errs = append(errs, ValidationError{
			Field:   "lock_stale_after",
			Message: "must not be negative",
		})
	}

	return errs
}
