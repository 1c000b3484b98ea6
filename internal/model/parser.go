// Package model defines the parser capability contract, the process-wide
// parser registry, the callback bus and the parameter scope machinery
// shared by the runtime and the provider parsers.
package model

import (
	"context"

	"github.com/lastmile-ai/aiconfig-sub000/internal/aiconfig"
)

// StreamCallback receives incremental output during a streaming run. delta
// is the new fragment, accumulated the fold of all fragments for the
// choice, and index disambiguates multiplexed choice streams.
type StreamCallback func(delta any, accumulated any, index int)

// InferenceOptions are caller-provided run controls.
type InferenceOptions struct {
	Stream   bool
	Callback StreamCallback
	// APIToken overrides the credential read from the environment.
	APIToken string
}

// Parser translates between a configuration's prompt representation and
// one provider's call/response shapes.
type Parser interface {
	// ID returns the parser identifier.
	ID() string

	// Serialize converts provider-shaped call data into one or more
	// prompts, factoring global model defaults out of the stored settings.
	Serialize(ctx context.Context, promptName string, data map[string]any, cfg *aiconfig.Config, params map[string]any) ([]*aiconfig.Prompt, error)

	// Deserialize produces the provider call payload for a prompt:
	// settings merged (prompt wins), template resolved, chat history
	// reconstructed for chat-shaped providers.
	Deserialize(ctx context.Context, prompt *aiconfig.Prompt, cfg *aiconfig.Config, params map[string]any) (map[string]any, error)

	// Run performs the provider call, assigns the prompt's outputs and
	// returns them.
	Run(ctx context.Context, prompt *aiconfig.Prompt, cfg *aiconfig.Config, opts *InferenceOptions, params map[string]any) ([]aiconfig.Output, error)

	// OutputText canonicalizes an output's textual data. Structured
	// outputs render as canonical JSON. A nil output means the prompt's
	// latest.
	OutputText(prompt *aiconfig.Prompt, cfg *aiconfig.Config, output aiconfig.Output) (string, error)

	// PromptTemplate returns the template used for reference collection.
	PromptTemplate(prompt *aiconfig.Prompt) string
}

// BasePromptTemplate is the default PromptTemplate: the input when it is a
// plain string, else the structured input's data.
func BasePromptTemplate(prompt *aiconfig.Prompt) string {
	return prompt.Input.Text()
}
