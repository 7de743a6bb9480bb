package config

import (
	"encoding/json"
	"fmt"
)

// Snapshot serializes the effective configuration for storage on a
// run row. API keys and other secrets carry `json:"-"` tags and never
// reach the snapshot.
func (c *Config) Snapshot() (json.RawMessage, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config snapshot: %w", err)
	}
	return data, nil
}

// FromSnapshot restores a configuration from a stored run snapshot.
// Decoding is lenient: keys written by a newer or older schema are
// ignored and missing sections keep their defaults, so historical
// runs stay readable as the schema grows.
func FromSnapshot(raw json.RawMessage) (*Config, error) {
	cfg := NewConfig()
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("decode config snapshot: %w", err)
	}
	return cfg, nil
}
