package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotConfigured is returned by accessors on a Config that did not come from Load or LoadBytes.
var ErrNotConfigured = errors.New("config: not loaded")

// ConfigError categories.
const (
	CategoryMissing = "missing"
	CategoryInvalid = "invalid"
)

// ConfigError names the key that failed validation and how to fix it.
//
//nolint:revive // config.ConfigError reads better at call sites than config.Error
type ConfigError struct {
	Category string
	Field    string // koanf key, e.g. store.database.host
	Message  string
	Hint     string
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: %s %s: %s", e.Field, e.Category, e.Message)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

// NewMissingFieldError reports a required key that no source provided.
func NewMissingFieldError(field string) *ConfigError {
	return &ConfigError{
		Category: CategoryMissing,
		Field:    field,
		Message:  "required",
		Hint:     fmt.Sprintf("set %s or %s in config.yaml", envName(field), field),
	}
}

// NewInvalidFieldError reports a key whose value was rejected. validOptions, when
// given, are listed in the hint.
func NewInvalidFieldError(field, message string, validOptions []string) *ConfigError {
	err := &ConfigError{Category: CategoryInvalid, Field: field, Message: message}
	if len(validOptions) > 0 {
		err.Hint = "one of: " + strings.Join(validOptions, ", ")
	}
	return err
}

// envName maps store.mongo.uri to ALIOLI_STORE_MONGO_URI.
func envName(field string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(field, ".", "_"))
}
