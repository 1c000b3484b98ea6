// Package aiconfig holds the in-memory image of an AIConfig document: a
// named, versioned bundle of prompts, model settings, parameters and run
// outputs, with JSON load/save that preserves unknown keys.
package aiconfig

import (
	"encoding/json"
	"fmt"

	"github.com/lastmile-ai/aiconfig-sub000/internal/template"
)

// ErrUnknownPrompt is wrapped by errors for prompt names absent from the
// configuration.
type ErrUnknownPrompt struct {
	Name string
}

func (e *ErrUnknownPrompt) Error() string {
	return fmt.Sprintf("prompt not found: %s", e.Name)
}

// SchemaVersion is "latest", "v1", or an explicit {major, minor} pair.
type SchemaVersion struct {
	Text  string
	Major int
	Minor int
}

// MarshalJSON writes the tag form as a string, else the pair form.
func (v SchemaVersion) MarshalJSON() ([]byte, error) {
	if v.Text != "" {
		return json.Marshal(v.Text)
	}
	return json.Marshal(struct {
		Major int `json:"major"`
		Minor int `json:"minor"`
	}{v.Major, v.Minor})
}

// UnmarshalJSON accepts either form.
func (v *SchemaVersion) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s != "latest" && s != "v1" {
			return fmt.Errorf("unsupported schema_version %q", s)
		}
		*v = SchemaVersion{Text: s}
		return nil
	}
	var pair struct {
		Major int `json:"major"`
		Minor int `json:"minor"`
	}
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("decode schema_version: %w", err)
	}
	*v = SchemaVersion{Major: pair.Major, Minor: pair.Minor}
	return nil
}

// Metadata is the configuration-level metadata block.
type Metadata struct {
	Parameters   map[string]any
	Models       map[string]map[string]any
	DefaultModel string
	ModelParsers map[string]string

	extra map[string]json.RawMessage
}

// ModelSettings returns the global default inference settings for a model.
func (m *Metadata) ModelSettings(model string) map[string]any {
	if m.Models == nil {
		return nil
	}
	return m.Models[model]
}

// MarshalJSON serializes the metadata block including preserved keys.
func (m *Metadata) MarshalJSON() ([]byte, error) {
	fields := map[string]json.RawMessage{}
	for k, v := range m.extra {
		fields[k] = v
	}
	params := m.Parameters
	if params == nil {
		params = map[string]any{}
	}
	var err error
	if fields["parameters"], err = json.Marshal(params); err != nil {
		return nil, err
	}
	if len(m.Models) > 0 {
		if fields["models"], err = json.Marshal(m.Models); err != nil {
			return nil, err
		}
	}
	if m.DefaultModel != "" {
		if fields["default_model"], err = json.Marshal(m.DefaultModel); err != nil {
			return nil, err
		}
	}
	if len(m.ModelParsers) > 0 {
		if fields["model_parsers"], err = json.Marshal(m.ModelParsers); err != nil {
			return nil, err
		}
	}
	return marshalOrdered(fields)
}

// UnmarshalJSON parses the metadata block, stashing unknown keys.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	*m = Metadata{extra: map[string]json.RawMessage{}}
	for key, raw := range fields {
		if string(raw) == "null" {
			continue
		}
		var err error
		switch key {
		case "parameters":
			err = json.Unmarshal(raw, &m.Parameters)
		case "models":
			err = json.Unmarshal(raw, &m.Models)
		case "default_model":
			err = json.Unmarshal(raw, &m.DefaultModel)
		case "model_parsers":
			err = json.Unmarshal(raw, &m.ModelParsers)
		default:
			m.extra[key] = raw
		}
		if err != nil {
			return fmt.Errorf("decode metadata %s: %w", key, err)
		}
	}
	return nil
}

// Config is the mutable in-memory AIConfig document. The prompt sequence is
// ordered; promptIndex is kept in lockstep with it by every CRUD entry
// point.
type Config struct {
	Name          string
	SchemaVersion SchemaVersion
	Description   string
	Metadata      Metadata
	Prompts       []*Prompt

	promptIndex map[string]*Prompt
	extra       map[string]json.RawMessage
}

// New creates an empty configuration.
func New(name string) *Config {
	return &Config{
		Name:          name,
		SchemaVersion: SchemaVersion{Text: "latest"},
		Metadata:      Metadata{Parameters: map[string]any{}},
		promptIndex:   map[string]*Prompt{},
	}
}

// Prompt looks up a prompt by name.
func (c *Config) Prompt(name string) (*Prompt, bool) {
	p, ok := c.promptIndex[name]
	return p, ok
}

// MustPrompt looks up a prompt by name, returning ErrUnknownPrompt when
// absent.
func (c *Config) MustPrompt(name string) (*Prompt, error) {
	if p, ok := c.promptIndex[name]; ok {
		return p, nil
	}
	return nil, &ErrUnknownPrompt{Name: name}
}

// PromptIndexOf returns the position of a prompt in the sequence, or -1.
func (c *Config) PromptIndexOf(name string) int {
	for i, p := range c.Prompts {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// AddPrompt inserts a prompt at index (clamped to the sequence bounds).
func (c *Config) AddPrompt(p *Prompt, index int) error {
	if p == nil || p.Name == "" {
		return fmt.Errorf("prompt requires a name")
	}
	if c.promptIndex == nil {
		c.promptIndex = map[string]*Prompt{}
	}
	if _, exists := c.promptIndex[p.Name]; exists {
		return fmt.Errorf("prompt name already exists: %s", p.Name)
	}
	if index < 0 || index > len(c.Prompts) {
		index = len(c.Prompts)
	}
	c.Prompts = append(c.Prompts, nil)
	copy(c.Prompts[index+1:], c.Prompts[index:])
	c.Prompts[index] = p
	c.promptIndex[p.Name] = p
	return nil
}

// UpdatePrompt replaces the named prompt in place. The replacement may
// rename the prompt as long as the new name stays unique.
func (c *Config) UpdatePrompt(name string, p *Prompt) error {
	if p == nil || p.Name == "" {
		return fmt.Errorf("prompt requires a name")
	}
	i := c.PromptIndexOf(name)
	if i < 0 {
		return &ErrUnknownPrompt{Name: name}
	}
	if p.Name != name {
		if _, exists := c.promptIndex[p.Name]; exists {
			return fmt.Errorf("prompt name already exists: %s", p.Name)
		}
	}
	delete(c.promptIndex, name)
	c.Prompts[i] = p
	c.promptIndex[p.Name] = p
	return nil
}

// DeletePrompt removes the named prompt from the sequence and the index.
func (c *Config) DeletePrompt(name string) error {
	i := c.PromptIndexOf(name)
	if i < 0 {
		return &ErrUnknownPrompt{Name: name}
	}
	c.Prompts = append(c.Prompts[:i], c.Prompts[i+1:]...)
	delete(c.promptIndex, name)
	return nil
}

// SetOutputs replaces the named prompt's outputs.
func (c *Config) SetOutputs(name string, outputs []Output) error {
	p, err := c.MustPrompt(name)
	if err != nil {
		return err
	}
	p.Outputs = outputs
	return nil
}

// SetParameter sets a global parameter, or a prompt-local one when
// promptName is non-empty.
func (c *Config) SetParameter(name string, value any, promptName string) error {
	if !template.ValidParameterName(name) {
		return fmt.Errorf("invalid parameter name %q: only letters, digits, underscore and dot are allowed", name)
	}
	if promptName == "" {
		if c.Metadata.Parameters == nil {
			c.Metadata.Parameters = map[string]any{}
		}
		c.Metadata.Parameters[name] = value
		return nil
	}
	p, err := c.MustPrompt(promptName)
	if err != nil {
		return err
	}
	if p.Metadata == nil {
		p.Metadata = &PromptMetadata{}
	}
	if p.Metadata.Parameters == nil {
		p.Metadata.Parameters = map[string]any{}
	}
	p.Metadata.Parameters[name] = value
	return nil
}

// SetParameters sets several parameters at once.
func (c *Config) SetParameters(params map[string]any, promptName string) error {
	for name, value := range params {
		if err := c.SetParameter(name, value, promptName); err != nil {
			return err
		}
	}
	return nil
}

// DeleteParameter removes a global or prompt-local parameter.
func (c *Config) DeleteParameter(name string, promptName string) error {
	if promptName == "" {
		if _, ok := c.Metadata.Parameters[name]; !ok {
			return fmt.Errorf("parameter not found: %s", name)
		}
		delete(c.Metadata.Parameters, name)
		return nil
	}
	p, err := c.MustPrompt(promptName)
	if err != nil {
		return err
	}
	if p.Metadata == nil || p.Metadata.Parameters == nil {
		return fmt.Errorf("parameter not found: %s", name)
	}
	if _, ok := p.Metadata.Parameters[name]; !ok {
		return fmt.Errorf("parameter not found: %s", name)
	}
	delete(p.Metadata.Parameters, name)
	return nil
}

// Parameters returns the global parameters, or the named prompt's local
// parameters when promptName is non-empty.
func (c *Config) Parameters(promptName string) (map[string]any, error) {
	if promptName == "" {
		if c.Metadata.Parameters == nil {
			return map[string]any{}, nil
		}
		return c.Metadata.Parameters, nil
	}
	p, err := c.MustPrompt(promptName)
	if err != nil {
		return nil, err
	}
	return p.Parameters(), nil
}

// UpdateModel sets inference settings for a model, configuration-wide, or
// on one prompt when promptName is non-empty.
func (c *Config) UpdateModel(modelName string, settings map[string]any, promptName string) error {
	if modelName == "" {
		return fmt.Errorf("model name is required")
	}
	if promptName == "" {
		if c.Metadata.Models == nil {
			c.Metadata.Models = map[string]map[string]any{}
		}
		c.Metadata.Models[modelName] = settings
		return nil
	}
	p, err := c.MustPrompt(promptName)
	if err != nil {
		return err
	}
	if p.Metadata == nil {
		p.Metadata = &PromptMetadata{}
	}
	p.Metadata.Model = &ModelRef{Name: modelName, Settings: settings}
	return nil
}

// ModelNameForPrompt resolves the prompt's effective model: prompt binding
// first, then the configuration default.
func (c *Config) ModelNameForPrompt(p *Prompt) (string, error) {
	if name := p.ModelName(); name != "" {
		return name, nil
	}
	if c.Metadata.DefaultModel != "" {
		return c.Metadata.DefaultModel, nil
	}
	return "", fmt.Errorf("prompt %q has no model and the configuration sets no default_model", p.Name)
}

// SetName updates the configuration name.
func (c *Config) SetName(name string) { c.Name = name }

// SetDescription updates the configuration description.
func (c *Config) SetDescription(desc string) { c.Description = desc }

// rebuildIndex recomputes promptIndex from the sequence, failing on
// duplicate names.
func (c *Config) rebuildIndex() error {
	c.promptIndex = make(map[string]*Prompt, len(c.Prompts))
	for _, p := range c.Prompts {
		if _, dup := c.promptIndex[p.Name]; dup {
			return fmt.Errorf("duplicate prompt name: %s", p.Name)
		}
		c.promptIndex[p.Name] = p
	}
	return nil
}
