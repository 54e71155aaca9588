// Package config loads EDNA's TOML configuration file and exposes the
// typed, default-falling-back lookups the rest of the daemon consumes.
// Configuration file parsing is one of the collaborators spec.md treats
// as external to the core; this package only needs to satisfy the
// lookup shape the core relies on (string/int/bool with a default).
package config

import (
	"os"

	"github.com/naoina/toml"
)

// Config is a parsed TOML document organised into named sections, each a
// flat map of key to value. Values decode through toml's generic
// interface{} handling rather than a fixed struct, so unrecognised
// sections and keys in an operator's edna.conf are tolerated rather than
// rejected.
type Config struct {
	sections map[string]map[string]interface{}
}

// Default returns an empty configuration: every accessor call falls
// through to its supplied default. Used when no -c flag names a config
// file and the conventional default path does not exist.
func Default() *Config {
	return &Config{sections: map[string]map[string]interface{}{}}
}

// Load parses the TOML document at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var raw map[string]map[string]interface{}
	if err := toml.NewDecoder(f).Decode(&raw); err != nil {
		return nil, err
	}
	return &Config{sections: raw}, nil
}

func (c *Config) lookup(section, key string) (interface{}, bool) {
	if c == nil {
		return nil, false
	}
	s, ok := c.sections[section]
	if !ok {
		return nil, false
	}
	v, ok := s[key]
	return v, ok
}

// GetString returns section.key as a string, or def if absent or not a
// string.
func (c *Config) GetString(section, key, def string) string {
	v, ok := c.lookup(section, key)
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

// GetInt returns section.key as an int, or def if absent or not numeric.
// TOML integers decode as int64 via naoina/toml's generic interface{}
// path; int64 and int are accepted here, other numeric kinds are not.
func (c *Config) GetInt(section, key string, def int) int {
	v, ok := c.lookup(section, key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	default:
		return def
	}
}

// GetBool returns section.key as a bool, or def if absent or not a bool.
func (c *Config) GetBool(section, key string, def bool) bool {
	v, ok := c.lookup(section, key)
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}
