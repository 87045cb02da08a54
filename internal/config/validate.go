package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"proxyfig/internal/scheduler"
	kit "proxyfig/internal/transport"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	custom := map[string]validator.Func{
		"duration": validateDuration,
		"chat":     validateChat,
		"schedule": validateSchedule,
	}
	for tag, fn := range custom {
		if err := validate.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("failed to register %s validator: %v", tag, err))
		}
	}
}

func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(strings.TrimSpace(fl.Field().String()))
	return err == nil && d >= 0
}

func validateChat(fl validator.FieldLevel) bool {
	_, ok := kit.ParseChatTarget(fl.Field().String())
	return ok
}

func validateSchedule(fl validator.FieldLevel) bool {
	_, err := scheduler.Parse(fl.Field().String())
	return err == nil
}

// Validate checks struct tags plus cross-field rules.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := validate.Struct(cfg); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return formatValidationErrors(validationErrors)
		}
		return fmt.Errorf("config validation failed: %w", err)
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver != "" && driver != "none" && strings.TrimSpace(cfg.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required for driver %q", driver)
	}
	return nil
}

func formatValidationErrors(errs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, fmt.Sprintf("field '%s' failed validation: %s", err.Namespace(), err.Tag()))
	}
	return fmt.Errorf("validation errors: %s", strings.Join(msgs, "; "))
}
