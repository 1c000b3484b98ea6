package aiconfig

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Prompt is one named unit of a configuration: an input template, its model
// binding and parameters, and the outputs of past runs. Unknown keys from
// the file are kept in extra and written back on save.
type Prompt struct {
	Name     string
	Input    PromptInput
	Metadata *PromptMetadata
	Outputs  []Output

	extra map[string]json.RawMessage
}

// NewPrompt creates a prompt with a plain string input.
func NewPrompt(name, input string) *Prompt {
	return &Prompt{Name: name, Input: StringInput(input)}
}

// Parameters returns the prompt-local parameters, never nil.
func (p *Prompt) Parameters() map[string]any {
	if p.Metadata == nil || p.Metadata.Parameters == nil {
		return map[string]any{}
	}
	return p.Metadata.Parameters
}

// RememberChatContext reports whether the prompt participates in chat
// history reconstruction. Defaults to true when unset.
func (p *Prompt) RememberChatContext() bool {
	if p.Metadata == nil || p.Metadata.RememberChatContext == nil {
		return true
	}
	return *p.Metadata.RememberChatContext
}

// ModelName returns the prompt-level model name, or "" when unbound.
func (p *Prompt) ModelName() string {
	if p.Metadata == nil || p.Metadata.Model == nil {
		return ""
	}
	return p.Metadata.Model.Name
}

// ModelSettings returns prompt-level inference setting overrides.
func (p *Prompt) ModelSettings() map[string]any {
	if p.Metadata == nil || p.Metadata.Model == nil {
		return nil
	}
	return p.Metadata.Model.Settings
}

// MarshalJSON serializes the prompt including any preserved unknown keys.
func (p *Prompt) MarshalJSON() ([]byte, error) {
	fields := map[string]json.RawMessage{}
	for k, v := range p.extra {
		fields[k] = v
	}
	var err error
	if fields["name"], err = json.Marshal(p.Name); err != nil {
		return nil, err
	}
	if fields["input"], err = json.Marshal(p.Input); err != nil {
		return nil, err
	}
	if p.Metadata != nil {
		if fields["metadata"], err = json.Marshal(p.Metadata); err != nil {
			return nil, err
		}
	}
	outputs := p.Outputs
	if outputs == nil {
		outputs = []Output{}
	}
	if fields["outputs"], err = json.Marshal(outputs); err != nil {
		return nil, err
	}
	return marshalOrdered(fields)
}

// UnmarshalJSON parses the prompt, stashing unknown keys for round-trip.
func (p *Prompt) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode prompt: %w", err)
	}
	*p = Prompt{extra: map[string]json.RawMessage{}}
	for key, raw := range fields {
		switch key {
		case "name":
			if err := json.Unmarshal(raw, &p.Name); err != nil {
				return fmt.Errorf("decode prompt name: %w", err)
			}
		case "input":
			if err := json.Unmarshal(raw, &p.Input); err != nil {
				return err
			}
		case "metadata":
			if string(raw) == "null" {
				continue
			}
			p.Metadata = &PromptMetadata{}
			if err := json.Unmarshal(raw, p.Metadata); err != nil {
				return err
			}
		case "outputs":
			if string(raw) == "null" {
				continue
			}
			var items []json.RawMessage
			if err := json.Unmarshal(raw, &items); err != nil {
				return fmt.Errorf("decode prompt outputs: %w", err)
			}
			for _, item := range items {
				out, err := UnmarshalOutput(item)
				if err != nil {
					return err
				}
				p.Outputs = append(p.Outputs, out)
			}
		default:
			p.extra[key] = raw
		}
	}
	if p.Name == "" {
		return fmt.Errorf("prompt is missing a name")
	}
	return nil
}

// PromptInput is either a plain template string or a structured input with
// data, attachments and chat fields.
type PromptInput struct {
	Data         any
	Attachments  []Attachment
	Role         string
	Name         string
	FunctionCall map[string]any

	str      string
	isString bool
	extra    map[string]json.RawMessage
}

// StringInput wraps a plain string as a prompt input.
func StringInput(s string) PromptInput {
	return PromptInput{str: s, isString: true}
}

// IsString reports whether the input is the plain string form.
func (in PromptInput) IsString() bool { return in.isString }

// Text returns the template text: the string form itself, or the structured
// input's data when it is a string.
func (in PromptInput) Text() string {
	if in.isString {
		return in.str
	}
	if s, ok := in.Data.(string); ok {
		return s
	}
	return ""
}

// MarshalJSON writes the string form as a bare JSON string and the
// structured form as an object.
func (in PromptInput) MarshalJSON() ([]byte, error) {
	if in.isString {
		return json.Marshal(in.str)
	}
	fields := map[string]json.RawMessage{}
	for k, v := range in.extra {
		fields[k] = v
	}
	var err error
	if in.Data != nil {
		if fields["data"], err = json.Marshal(in.Data); err != nil {
			return nil, err
		}
	}
	if len(in.Attachments) > 0 {
		if fields["attachments"], err = json.Marshal(in.Attachments); err != nil {
			return nil, err
		}
	}
	if in.Role != "" {
		if fields["role"], err = json.Marshal(in.Role); err != nil {
			return nil, err
		}
	}
	if in.Name != "" {
		if fields["name"], err = json.Marshal(in.Name); err != nil {
			return nil, err
		}
	}
	if in.FunctionCall != nil {
		if fields["function_call"], err = json.Marshal(in.FunctionCall); err != nil {
			return nil, err
		}
	}
	return marshalOrdered(fields)
}

// UnmarshalJSON accepts either form of the input.
func (in *PromptInput) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode prompt input: %w", err)
		}
		*in = StringInput(s)
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode prompt input: %w", err)
	}
	*in = PromptInput{extra: map[string]json.RawMessage{}}
	for key, raw := range fields {
		var err error
		switch key {
		case "data":
			err = json.Unmarshal(raw, &in.Data)
		case "attachments":
			err = json.Unmarshal(raw, &in.Attachments)
		case "role":
			err = json.Unmarshal(raw, &in.Role)
		case "name":
			err = json.Unmarshal(raw, &in.Name)
		case "function_call":
			err = json.Unmarshal(raw, &in.FunctionCall)
		default:
			in.extra[key] = raw
		}
		if err != nil {
			return fmt.Errorf("decode prompt input %s: %w", key, err)
		}
	}
	return nil
}

// Attachment is auxiliary input data, e.g. an image as a file URI or
// base64 payload.
type Attachment struct {
	Data     any            `json:"data"`
	MimeType string         `json:"mime_type,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// AttachmentDataWithStringValue is the tagged form of attachment data.
type AttachmentDataWithStringValue struct {
	Kind  string `json:"kind"` // "file_uri" or "base64"
	Value string `json:"value"`
}

// PromptMetadata carries the prompt's model binding, tags and parameters.
type PromptMetadata struct {
	Model               *ModelRef
	Tags                []string
	Parameters          map[string]any
	RememberChatContext *bool

	extra map[string]json.RawMessage
}

// MarshalJSON serializes metadata including preserved unknown keys.
func (m *PromptMetadata) MarshalJSON() ([]byte, error) {
	fields := map[string]json.RawMessage{}
	for k, v := range m.extra {
		fields[k] = v
	}
	var err error
	if m.Model != nil {
		if fields["model"], err = json.Marshal(m.Model); err != nil {
			return nil, err
		}
	}
	if m.Tags != nil {
		if fields["tags"], err = json.Marshal(m.Tags); err != nil {
			return nil, err
		}
	}
	if len(m.Parameters) > 0 {
		if fields["parameters"], err = json.Marshal(m.Parameters); err != nil {
			return nil, err
		}
	}
	if m.RememberChatContext != nil {
		if fields["remember_chat_context"], err = json.Marshal(m.RememberChatContext); err != nil {
			return nil, err
		}
	}
	return marshalOrdered(fields)
}

// UnmarshalJSON parses metadata, stashing unknown keys.
func (m *PromptMetadata) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode prompt metadata: %w", err)
	}
	*m = PromptMetadata{extra: map[string]json.RawMessage{}}
	for key, raw := range fields {
		var err error
		switch key {
		case "model":
			if string(raw) == "null" {
				continue
			}
			m.Model = &ModelRef{}
			err = json.Unmarshal(raw, m.Model)
		case "tags":
			err = json.Unmarshal(raw, &m.Tags)
		case "parameters":
			err = json.Unmarshal(raw, &m.Parameters)
		case "remember_chat_context":
			err = json.Unmarshal(raw, &m.RememberChatContext)
		default:
			m.extra[key] = raw
		}
		if err != nil {
			return fmt.Errorf("decode prompt metadata %s: %w", key, err)
		}
	}
	return nil
}

// ModelRef is a prompt's model binding: either a bare model name or a
// name with inference setting overrides.
type ModelRef struct {
	Name     string
	Settings map[string]any

	isString bool
}

// ModelRefByName makes a bare-name model binding.
func ModelRefByName(name string) *ModelRef {
	return &ModelRef{Name: name, isString: true}
}

// MarshalJSON writes the bare-name form as a string.
func (r ModelRef) MarshalJSON() ([]byte, error) {
	if r.isString || len(r.Settings) == 0 {
		return json.Marshal(r.Name)
	}
	return json.Marshal(struct {
		Name     string         `json:"name"`
		Settings map[string]any `json:"settings,omitempty"`
	}{r.Name, r.Settings})
}

// UnmarshalJSON accepts either the string or the object form.
func (r *ModelRef) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = ModelRef{Name: s, isString: true}
		return nil
	}
	var obj struct {
		Name     string         `json:"name"`
		Settings map[string]any `json:"settings"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("decode model metadata: %w", err)
	}
	*r = ModelRef{Name: obj.Name, Settings: obj.Settings}
	return nil
}

// marshalOrdered writes a JSON object with keys in sorted order so that
// serializations of equal documents are byte-equal.
func marshalOrdered(fields map[string]json.RawMessage) ([]byte, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, fields[k]...)
	}
	return append(buf, '}'), nil
}
