package config

import (
	"fmt"

	"github.com/knadh/koanf/v2"
)

// Unmarshal decodes the section at path into out using mapstructure tags.
// Packages that own their configuration type (observability) use it to read
// their section without this package importing them.
func (c *Config) Unmarshal(path string, out any) error {
	if c.k == nil {
		return ErrNotConfigured
	}
	if err := c.k.UnmarshalWithConf(path, out, koanf.UnmarshalConf{Tag: "mapstructure"}); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}
	return nil
}

// Exists reports whether a key or section is present in any source.
func (c *Config) Exists(path string) bool {
	return c.k != nil && c.k.Exists(path)
}

// All returns a flattened copy of every loaded key, used by `alioli status --config`.
func (c *Config) All() map[string]any {
	if c.k == nil {
		return map[string]any{}
	}
	return c.k.All()
}
