package aiconfig

import (
	"encoding/json"
	"fmt"
)

// Output is one result recorded on a prompt, either an ExecuteResult or an
// ErrorOutput, discriminated by the output_type key on the wire.
type Output interface {
	OutputType() string
}

// ExecuteResult is a successful model output. Data is the decoded JSON
// value: a plain string, a {kind, value} object, or a legacy chat-message
// object from older configs.
type ExecuteResult struct {
	ExecutionCount *int           `json:"execution_count,omitempty"`
	Data           any            `json:"data"`
	MimeType       string         `json:"mime_type,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// OutputType implements Output.
func (ExecuteResult) OutputType() string { return "execute_result" }

// MarshalJSON writes the output_type discriminator alongside the fields.
func (o ExecuteResult) MarshalJSON() ([]byte, error) {
	type alias ExecuteResult
	return json.Marshal(struct {
		Type string `json:"output_type"`
		alias
	}{Type: o.OutputType(), alias: alias(o)})
}

// ErrorOutput records a failed run on a prompt.
type ErrorOutput struct {
	Ename     string   `json:"ename"`
	Evalue    string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

// OutputType implements Output.
func (ErrorOutput) OutputType() string { return "error" }

// MarshalJSON writes the output_type discriminator alongside the fields.
func (o ErrorOutput) MarshalJSON() ([]byte, error) {
	type alias ErrorOutput
	return json.Marshal(struct {
		Type string `json:"output_type"`
		alias
	}{Type: o.OutputType(), alias: alias(o)})
}

// UnmarshalOutput decodes one serialized output by its output_type.
func UnmarshalOutput(raw json.RawMessage) (Output, error) {
	var probe struct {
		Type string `json:"output_type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}
	switch probe.Type {
	case "execute_result":
		var o ExecuteResult
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("decode execute_result: %w", err)
		}
		return o, nil
	case "error":
		var o ErrorOutput
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("decode error output: %w", err)
		}
		return o, nil
	default:
		return nil, fmt.Errorf("unknown output_type %q", probe.Type)
	}
}

// LatestOutput returns the newest output recorded on the prompt, or nil.
func LatestOutput(p *Prompt) Output {
	if p == nil || len(p.Outputs) == 0 {
		return nil
	}
	return p.Outputs[len(p.Outputs)-1]
}
