package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for invalid or inconsistent values.
//
// Validation rules are declared as `validate` struct tags on the Config
// types; this function translates validator failures into readable
// messages referencing the config file keys.
func Validate(cfg *Config) error {
	validate := validator.New()

	if err := validate.Struct(cfg); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return err
		}

		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describeFieldError(fe))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	return validateBackend(&cfg.Persistence)
}

// validateBackend enforces cross-field rules the tag language cannot
// express: the selected backend must carry its own settings.
func validateBackend(cfg *PersistenceConfig) error {
	switch cfg.Backend {
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("persistence.postgres.dsn is required when backend is postgres " +
				"(or set CODEDOJO_PERSISTENCE_POSTGRES_DSN)")
		}
	case "badger", "memory":
		// Badger with an empty path runs in memory; nothing to check.
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	field := configKey(fe.Namespace())

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gtefield":
		return fmt.Sprintf("%s must not be smaller than %s", field, strings.ToLower(fe.Param()))
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// configKey converts a validator namespace like "Config.Collab.RateMaxOps"
// into the config file key "collab.rate_max_ops".
func configKey(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 && parts[0] == "Config" {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = toSnake(p)
	}
	return strings.Join(parts, ".")
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			// Keep acronym runs like "TTL" and "DSN" together.
			prevUpper := i > 0 && s[i-1] >= 'A' && s[i-1] <= 'Z'
			if i > 0 && !prevUpper {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
