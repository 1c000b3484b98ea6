// Package editor exposes the runtime over a long-lived websocket channel:
// one session per connection, a single in-flight operation, streaming run
// output, cooperative cancellation with rollback, and a final save on
// disconnect.
package editor

import (
	"encoding/json"
	"fmt"

	"github.com/lastmile-ai/aiconfig-sub000/internal/aiconfig"
)

// Command is one inbound editor command, discriminated on command_name.
// Fields not used by a given command are left zero.
type Command struct {
	Name string `json:"command_name"`

	Path                string          `json:"path,omitempty"`
	PromptName          string          `json:"prompt_name,omitempty"`
	PromptData          json.RawMessage `json:"prompt_data,omitempty"`
	Index               *int            `json:"index,omitempty"`
	Params              map[string]any  `json:"params,omitempty"`
	Stream              bool            `json:"stream,omitempty"`
	RunWithDependencies bool            `json:"run_with_dependencies,omitempty"`
	APIToken            string          `json:"api_token,omitempty"`
	ModelName           string          `json:"model_name,omitempty"`
	Settings            map[string]any  `json:"settings,omitempty"`
	ParameterName       string          `json:"parameter_name,omitempty"`
	ParameterValue      any             `json:"parameter_value,omitempty"`
	Parameters          map[string]any  `json:"parameters,omitempty"`
	ConfigName          string          `json:"name,omitempty"`
	Description         string          `json:"description,omitempty"`
}

type commandEnvelope struct {
	Command *Command `json:"command"`
}

// ParseCommand decodes an inbound text frame.
func ParseCommand(frame []byte) (*Command, error) {
	var env commandEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("malformed command frame: %w", err)
	}
	if env.Command == nil || env.Command.Name == "" {
		return nil, fmt.Errorf("command frame is missing command_name")
	}
	return env.Command, nil
}

// Response is the terminal outbound frame for one command.
type Response struct {
	InstanceID string           `json:"instance_id"`
	Message    string           `json:"message"`
	IsSuccess  bool             `json:"is_success"`
	Data       any              `json:"data,omitempty"`
	AIConfig   *aiconfig.Config `json:"aiconfig,omitempty"`
}

// Chunk is an intermediate outbound frame during a streaming run.
type Chunk struct {
	InstanceID  string `json:"instance_id"`
	OutputChunk any    `json:"output_chunk"`
}

func encodeFrame(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(Response{Message: fmt.Sprintf("encode frame: %v", err)})
	}
	return b
}
