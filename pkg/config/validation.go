package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing the first validation failure.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	names := make(map[string]bool)
	for i, sb := range cfg.Sandboxes {
		if names[sb.Name] {
			return fmt.Errorf("sandboxes[%d]: duplicate sandbox name %q", i, sb.Name)
		}
		names[sb.Name] = true

		if _, ok := cfg.Backends[sb.Backend]; !ok {
			return fmt.Errorf("sandboxes[%d]: backend %q is not configured", i, sb.Backend)
		}

		for _, segment := range strings.Split(sb.Prefix, "/") {
			if segment == ".." {
				return fmt.Errorf("sandboxes[%d]: prefix %q must not contain '..'", i, sb.Prefix)
			}
		}
	}

	for name, b := range cfg.Backends {
		if name == "" {
			return fmt.Errorf("backends: empty backend name")
		}
		if b.Type == "s3" {
			if s, _ := b.S3["bucket"].(string); s == "" {
				return fmt.Errorf("backends.%s: s3 bucket is required", name)
			}
		}
	}

	if cfg.Archive.Compression == "deflate" && cfg.Archive.Level > 9 {
		return fmt.Errorf("archive: deflate level must be within 0..9, got %d", cfg.Archive.Level)
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
