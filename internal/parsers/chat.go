// Package parsers implements the provider model parsers: OpenAI chat (and
// its OpenAI-compatible vendor variants), Anthropic chat, and the
// text-completion reference parser. The shared helpers here cover settings
// merging, chat-history reconstruction and output canonicalization.
package parsers

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"

	"github.com/lastmile-ai/aiconfig-sub000/internal/aiconfig"
	"github.com/lastmile-ai/aiconfig-sub000/internal/model"
)

// ChatMessage is the provider-neutral chat turn shape; each parser
// converts it to its SDK's message type.
type ChatMessage struct {
	Role         string         `json:"role"`
	Content      string         `json:"content"`
	Name         string         `json:"name,omitempty"`
	FunctionCall map[string]any `json:"function_call,omitempty"`
}

// EffectiveSettings merges the configuration's global settings for the
// prompt's model with the prompt-level overrides; the prompt wins.
func EffectiveSettings(cfg *aiconfig.Config, prompt *aiconfig.Prompt, modelName string) map[string]any {
	merged := map[string]any{}
	for k, v := range cfg.Metadata.ModelSettings(modelName) {
		merged[k] = v
	}
	for k, v := range prompt.ModelSettings() {
		merged[k] = v
	}
	return merged
}

// SettingsDelta returns the settings that differ from the global defaults.
// Serialize stores only this difference on the prompt; Deserialize
// recomposes via EffectiveSettings.
func SettingsDelta(settings, global map[string]any) map[string]any {
	delta := map[string]any{}
	for k, v := range settings {
		if g, ok := global[k]; ok && reflect.DeepEqual(g, v) {
			continue
		}
		delta[k] = v
	}
	return delta
}

// filterSettings keeps only the provider's supported completion keys.
func filterSettings(settings map[string]any, supported map[string]bool) map[string]any {
	out := map[string]any{}
	for k, v := range settings {
		if supported[k] {
			out[k] = v
		}
	}
	return out
}

// apiKey resolves the provider credential: explicit option token first,
// then the environment. Missing credentials only fail when a call
// actually needs them.
func apiKey(opts *model.InferenceOptions, envVars ...string) (string, error) {
	if opts != nil && opts.APIToken != "" {
		return opts.APIToken, nil
	}
	for _, name := range envVars {
		if v := os.Getenv(name); v != "" {
			return v, nil
		}
	}
	return "", &model.MissingCredentialError{EnvVar: envVars[0]}
}

// ChatHistory reconstructs the message list for a chat-shaped provider.
// When the saved settings carry a messages array it is used verbatim with
// parameter substitution; otherwise earlier same-model prompts contribute
// a user turn and, when present, their latest assistant output. The
// current prompt's resolved template is always the final user message.
func ChatHistory(reg *model.Registry, cfg *aiconfig.Config, prompt *aiconfig.Prompt, params map[string]any, settings map[string]any) ([]ChatMessage, error) {
	var messages []ChatMessage

	if saved, ok := settings["messages"].([]any); ok {
		for _, raw := range saved {
			m, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("settings messages entry is not an object")
			}
			msg := ChatMessage{Role: stringAt(m, "role"), Name: stringAt(m, "name")}
			resolved, err := model.ResolveText(reg, cfg, prompt, params, stringAt(m, "content"))
			if err != nil {
				return nil, err
			}
			msg.Content = resolved
			if fc, ok := m["function_call"].(map[string]any); ok {
				msg.FunctionCall = fc
			}
			messages = append(messages, msg)
		}
	} else if prompt.RememberChatContext() {
		modelName, err := cfg.ModelNameForPrompt(prompt)
		if err != nil {
			return nil, err
		}
		for _, earlier := range cfg.Prompts {
			if earlier == prompt || earlier.Name == prompt.Name {
				break
			}
			earlierModel, err := cfg.ModelNameForPrompt(earlier)
			if err != nil || earlierModel != modelName {
				continue
			}
			resolved, err := model.ResolvePrompt(reg, cfg, earlier, params)
			if err != nil {
				return nil, err
			}
			messages = append(messages, ChatMessage{
				Role:    roleOrUser(earlier.Input.Role),
				Content: resolved,
				Name:    earlier.Input.Name,
			})
			if out := aiconfig.LatestOutput(earlier); out != nil {
				text, err := OutputDataText(out)
				if err != nil {
					return nil, err
				}
				assistant := ChatMessage{Role: "assistant", Content: text}
				if res, ok := out.(aiconfig.ExecuteResult); ok {
					if data, ok := res.Data.(map[string]any); ok {
						if fc, ok := data["function_call"].(map[string]any); ok {
							assistant.FunctionCall = fc
						}
					}
				}
				messages = append(messages, assistant)
			}
		}
	}

	resolved, err := model.ResolvePrompt(reg, cfg, prompt, params)
	if err != nil {
		return nil, err
	}
	messages = append(messages, ChatMessage{
		Role:         roleOrUser(prompt.Input.Role),
		Content:      resolved,
		Name:         prompt.Input.Name,
		FunctionCall: prompt.Input.FunctionCall,
	})
	return messages, nil
}

func roleOrUser(role string) string {
	if role == "" {
		return "user"
	}
	return role
}

func stringAt(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// OutputDataText canonicalizes an output's textual data: plain strings
// pass through, {kind, value} objects yield their value (structured
// values as canonical JSON), legacy chat-message objects yield their
// content, and error outputs yield "".
func OutputDataText(out aiconfig.Output) (string, error) {
	res, ok := out.(aiconfig.ExecuteResult)
	if !ok {
		return "", nil
	}
	switch data := res.Data.(type) {
	case nil:
		return "", nil
	case string:
		return data, nil
	case map[string]any:
		if v, ok := data["value"]; ok {
			if s, ok := v.(string); ok {
				return s, nil
			}
			return canonicalJSON(v)
		}
		// legacy shape: a raw chat message stored in output.data
		if content, ok := data["content"].(string); ok {
			return content, nil
		}
		if fc, ok := data["function_call"]; ok {
			return canonicalJSON(fc)
		}
		return canonicalJSON(data)
	default:
		return canonicalJSON(data)
	}
}

func canonicalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonicalize output data: %w", err)
	}
	return string(b), nil
}

// latestOutputText resolves the text of output, defaulting to the
// prompt's latest when output is nil.
func latestOutputText(prompt *aiconfig.Prompt, output aiconfig.Output) (string, error) {
	if output == nil {
		output = aiconfig.LatestOutput(prompt)
	}
	if output == nil {
		return "", nil
	}
	return OutputDataText(output)
}
