package config

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// structValidator reports field paths using koanf keys so errors point at config.yaml entries.
func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("koanf"), ",", 2)[0]
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
	})
	return validate
}

// Validate checks struct tags first and then the rules that depend on store.type.
// The first failure is returned as a *ConfigError.
func Validate(cfg *Config) error {
	if err := structValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fieldError(verrs[0])
		}
		return err
	}
	return validateStore(&cfg.Store)
}

func fieldError(fe validator.FieldError) *ConfigError {
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}

	switch fe.Tag() {
	case "required", "required_if":
		return NewMissingFieldError(field)
	case "oneof":
		return NewInvalidFieldError(field, "unsupported value '"+asString(fe.Value())+"'", strings.Fields(fe.Param()))
	default:
		return NewInvalidFieldError(field, "failed '"+fe.Tag()+"' check", nil)
	}
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func validateStore(cfg *StoreConfig) error {
	switch cfg.Type {
	case StorePostgreSQL:
		if cfg.Database.ConnectionString == "" && cfg.Database.Host == "" {
			return NewMissingFieldError("store.database.host")
		}
	case StoreOracle:
		db := cfg.Database
		if db.ConnectionString != "" {
			return nil
		}
		if db.Host == "" {
			return NewMissingFieldError("store.database.host")
		}
		if db.ServiceName == "" && db.SID == "" && db.Database == "" {
			return &ConfigError{
				Category: CategoryMissing,
				Field:    "store.database.servicename",
				Message:  "oracle needs a service name, sid or database",
				Hint:     "set store.database.servicename, store.database.sid or store.database.database",
			}
		}
	case StoreRedis:
		if cfg.Redis.URL == "" && cfg.Redis.Host == "" {
			return NewMissingFieldError("store.redis.host")
		}
	case StoreMongoDB:
		if cfg.Mongo.URI == "" {
			return NewMissingFieldError("store.mongo.uri")
		}
		if cfg.Mongo.Database == "" {
			return NewMissingFieldError("store.mongo.database")
		}
	}
	return nil
}
