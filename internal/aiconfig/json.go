package aiconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// MarshalJSON serializes the configuration. Derived bookkeeping (the prompt
// index, file path and callbacks) is never written; preserved unknown keys
// are.
func (c *Config) MarshalJSON() ([]byte, error) {
	fields := map[string]json.RawMessage{}
	for k, v := range c.extra {
		fields[k] = v
	}
	var err error
	if fields["name"], err = json.Marshal(c.Name); err != nil {
		return nil, err
	}
	if fields["schema_version"], err = json.Marshal(c.SchemaVersion); err != nil {
		return nil, err
	}
	if fields["description"], err = json.Marshal(c.Description); err != nil {
		return nil, err
	}
	if fields["metadata"], err = json.Marshal(&c.Metadata); err != nil {
		return nil, err
	}
	prompts := c.Prompts
	if prompts == nil {
		prompts = []*Prompt{}
	}
	if fields["prompts"], err = json.Marshal(prompts); err != nil {
		return nil, err
	}
	return marshalOrdered(fields)
}

// UnmarshalJSON parses a configuration document and rebuilds the prompt
// index, failing on duplicate prompt names.
func (c *Config) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	*c = Config{
		SchemaVersion: SchemaVersion{Text: "latest"},
		extra:         map[string]json.RawMessage{},
	}
	for key, raw := range fields {
		if string(raw) == "null" {
			continue
		}
		var err error
		switch key {
		case "name":
			err = json.Unmarshal(raw, &c.Name)
		case "schema_version":
			err = json.Unmarshal(raw, &c.SchemaVersion)
		case "description":
			err = json.Unmarshal(raw, &c.Description)
		case "metadata":
			err = json.Unmarshal(raw, &c.Metadata)
		case "prompts":
			err = json.Unmarshal(raw, &c.Prompts)
		default:
			c.extra[key] = raw
		}
		if err != nil {
			return fmt.Errorf("decode config %s: %w", key, err)
		}
	}
	return c.rebuildIndex()
}

// Parse decodes a configuration from JSON bytes.
func Parse(data []byte) (*Config, error) {
	c := &Config{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFile reads and parses a configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return c, nil
}

// SaveFile writes the configuration as indented JSON. With includeOutputs
// false the saved copy carries empty output lists on every prompt.
func (c *Config) SaveFile(path string, includeOutputs bool) error {
	data, err := c.Serialize(includeOutputs)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Serialize renders the configuration as indented JSON.
func (c *Config) Serialize(includeOutputs bool) ([]byte, error) {
	target := c
	if !includeOutputs {
		clone, err := c.Clone()
		if err != nil {
			return nil, err
		}
		for _, p := range clone.Prompts {
			p.Outputs = nil
		}
		target = clone
	}
	raw, err := json.Marshal(target)
	if err != nil {
		return nil, fmt.Errorf("serialize config: %w", err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Clone deep-copies the configuration through its JSON form.
func (c *Config) Clone() (*Config, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("clone config: %w", err)
	}
	return Parse(raw)
}
