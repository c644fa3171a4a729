package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variables before they are mapped onto keys.
const EnvPrefix = "ALIOLI_"

// Load loads configuration from multiple sources with priority:
// 1. Environment variables (highest priority)
// 2. config.<app.env>.yaml
// 3. The YAML files in paths, or config.yaml when none are given
// 4. Default values (lowest priority)
//
// Missing files are skipped. Files that exist but do not parse are an error.
func Load(paths ...string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if len(paths) == 0 {
		paths = []string{"config.yaml"}
	}
	for _, p := range paths {
		if err := loadOptionalFile(k, p); err != nil {
			return nil, err
		}
	}

	if appEnv := k.String("app.env"); appEnv != "" {
		if err := loadOptionalFile(k, fmt.Sprintf("config.%s.yaml", appEnv)); err != nil {
			return nil, err
		}
	}

	if err := loadEnv(k); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	return finish(k)
}

// LoadBytes loads configuration from an in-memory YAML document layered over the defaults.
// Environment variables are not consulted.
func LoadBytes(data []byte) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	return finish(k)
}

func finish(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.k = k

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadOptionalFile(k *koanf.Koanf, path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// listKeys are split on commas when they come from the environment.
var listKeys = map[string]bool{
	"admin.allowlist":      true,
	"admin.trustedproxies": true,
}

// loadEnv maps ALIOLI_STORE_DATABASE_HOST onto store.database.host.
func loadEnv(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), "_", ".")
			if listKeys[key] {
				parts := strings.Split(value, ",")
				for i := range parts {
					parts[i] = strings.TrimSpace(parts[i])
				}
				return key, parts
			}
			return key, value
		},
	}), nil)
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"app.name":    "alioli",
		"app.version": "v1.0.0",
		"app.env":     EnvDevelopment,

		"log.level":  "info",
		"log.pretty": false,

		"store.type":                           StoreMemory,
		"store.database.table":                 "alioli_http_request",
		"store.database.pool.maxconns":         10,
		"store.database.pool.maxidleconns":     2,
		"store.database.pool.connmaxlifetime":  "30m",
		"store.database.pool.connmaxidletime":  "5m",
		"store.redis.host":                     "localhost",
		"store.redis.port":                     6379,
		"store.redis.prefix":                   "alioli",
		"store.mongo.database":                 "alioli",
		"store.mongo.collection":               "alioli_http_request",

		"capture.backoffdelay":    "15m",
		"capture.defaultvalidity": "168h",

		"scheduler.jobname":         "alioli-http-retry",
		"scheduler.maxbackoff":      "5h",
		"scheduler.shutdowntimeout": "30s",
		"scheduler.network.enabled": false,
		"scheduler.network.timeout": "3s",

		"worker.ratelimit":      0,
		"worker.burst":          1,
		"worker.attempttimeout": "0s",

		"http.timeout":         "30s",
		"http.requestidheader": "X-Request-ID",

		"deadletter.enabled":  false,
		"deadletter.exchange": "",

		"admin.enabled": false,
		"admin.address": "127.0.0.1:9090",

		"observability.enabled": false,
	}

	return k.Load(confmap.Provider(defaults, "."), nil)
}
