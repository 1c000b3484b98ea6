package parsers

import (
	"context"
	"fmt"
	"strings"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/lastmile-ai/aiconfig-sub000/internal/aiconfig"
	"github.com/lastmile-ai/aiconfig-sub000/internal/model"
)

const claudeDefaultMaxTokens = 4096

var claudeSettingKeys = map[string]bool{
	"max_tokens":     true,
	"model":          true,
	"stop_sequences": true,
	"stream":         true,
	"system":         true,
	"temperature":    true,
	"top_k":          true,
	"top_p":          true,
}

// ClaudeChatParser drives the Anthropic messages API.
type ClaudeChatParser struct {
	id  string
	reg *model.Registry
}

// NewClaudeChatParser makes a parser for one Claude model id.
func NewClaudeChatParser(modelID string) *ClaudeChatParser {
	return &ClaudeChatParser{id: modelID}
}

func (p *ClaudeChatParser) ID() string { return p.id }

func (p *ClaudeChatParser) registry() *model.Registry {
	if p.reg != nil {
		return p.reg
	}
	return model.Default()
}

// Deserialize builds the messages API payload: filtered settings, the
// model name, the system prompt and the reconstructed message history.
func (p *ClaudeChatParser) Deserialize(ctx context.Context, prompt *aiconfig.Prompt, cfg *aiconfig.Config, params map[string]any) (map[string]any, error) {
	modelName, err := cfg.ModelNameForPrompt(prompt)
	if err != nil {
		modelName = p.id
	}
	settings := EffectiveSettings(cfg, prompt, modelName)

	payload := filterSettings(settings, claudeSettingKeys)
	if _, ok := payload["model"]; !ok {
		payload["model"] = modelName
	}
	if system, ok := settings["system_prompt"].(string); ok && system != "" {
		payload["system"] = system
	}

	history, err := ChatHistory(p.registry(), cfg, prompt, params, settings)
	if err != nil {
		return nil, err
	}
	messages := make([]any, 0, len(history))
	for _, m := range history {
		role := m.Role
		if role != "assistant" {
			role = "user"
		}
		messages = append(messages, map[string]any{"role": role, "content": m.Content})
	}
	payload["messages"] = messages
	return payload, nil
}

func (p *ClaudeChatParser) Run(ctx context.Context, prompt *aiconfig.Prompt, cfg *aiconfig.Config, opts *model.InferenceOptions, params map[string]any) ([]aiconfig.Output, error) {
	key, err := apiKey(opts, "ANTHROPIC_API_KEY")
	if err != nil {
		return nil, err
	}
	payload, err := p.Deserialize(ctx, prompt, cfg, params)
	if err != nil {
		return nil, err
	}
	req, err := messagesRequestFromPayload(payload)
	if err != nil {
		return nil, &model.DecodingError{Provider: "anthropic", Err: err}
	}
	client := anthropic.NewClient(key)

	var outputs []aiconfig.Output
	if opts != nil && opts.Stream && opts.Callback != nil {
		outputs, err = p.runStream(ctx, client, req, opts.Callback)
	} else {
		outputs, err = p.runOnce(ctx, client, req)
	}
	if err != nil {
		return nil, err
	}
	prompt.Outputs = outputs
	return outputs, nil
}

func (p *ClaudeChatParser) runOnce(ctx context.Context, client *anthropic.Client, req anthropic.MessagesRequest) ([]aiconfig.Output, error) {
	resp, err := client.CreateMessages(ctx, req)
	if err != nil {
		return nil, &model.RemoteCallError{Provider: "anthropic", Err: err}
	}
	var text strings.Builder
	for _, block := range resp.Content {
		text.WriteString(block.GetText())
	}
	return []aiconfig.Output{aiconfig.ExecuteResult{
		Data:     text.String(),
		Metadata: map[string]any{"stop_reason": string(resp.StopReason)},
	}}, nil
}

func (p *ClaudeChatParser) runStream(ctx context.Context, client *anthropic.Client, req anthropic.MessagesRequest, cb model.StreamCallback) ([]aiconfig.Output, error) {
	var acc strings.Builder
	resp, err := client.CreateMessagesStream(ctx, anthropic.MessagesStreamRequest{
		MessagesRequest: req,
		OnContentBlockDelta: func(data anthropic.MessagesEventContentBlockDeltaData) {
			if data.Delta.Text == nil {
				return
			}
			acc.WriteString(*data.Delta.Text)
			cb(*data.Delta.Text, acc.String(), data.Index)
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &model.RemoteCallError{Provider: "anthropic", Err: err}
	}
	return []aiconfig.Output{aiconfig.ExecuteResult{
		Data:     acc.String(),
		Metadata: map[string]any{"stop_reason": string(resp.StopReason)},
	}}, nil
}

// Serialize converts a messages API payload back into prompts, pairing
// each user turn with the assistant turn that follows it.
func (p *ClaudeChatParser) Serialize(ctx context.Context, promptName string, data map[string]any, cfg *aiconfig.Config, params map[string]any) ([]*aiconfig.Prompt, error) {
	modelName, _ := data["model"].(string)
	if modelName == "" {
		modelName = p.id
	}

	settings := map[string]any{}
	for k, v := range data {
		if k == "messages" {
			continue
		}
		settings[k] = v
	}
	if system, ok := settings["system"].(string); ok {
		settings["system_prompt"] = system
		delete(settings, "system")
	}

	var prompts []*aiconfig.Prompt
	var pending *aiconfig.Prompt
	flush := func(outputs []aiconfig.Output) {
		if pending == nil {
			if outputs == nil {
				return
			}
			pending = aiconfig.NewPrompt("", "")
		}
		name := promptName
		if len(prompts) > 0 {
			name = fmt.Sprintf("%s_%d", promptName, len(prompts)+1)
		}
		pending.Name = name
		pending.Outputs = outputs
		prompts = append(prompts, pending)
		pending = nil
	}

	messages, _ := data["messages"].([]any)
	for _, raw := range messages {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("serialize %s: messages entry is not an object", promptName)
		}
		content := stringAt(m, "content")
		if stringAt(m, "role") == "assistant" {
			flush([]aiconfig.Output{aiconfig.ExecuteResult{Data: content}})
			continue
		}
		flush(nil)
		pending = aiconfig.NewPrompt("", content)
	}
	flush(nil)

	delta := SettingsDelta(settings, cfg.Metadata.ModelSettings(modelName))
	for _, prompt := range prompts {
		ref := &aiconfig.ModelRef{Name: modelName, Settings: delta}
		if len(delta) == 0 {
			ref = aiconfig.ModelRefByName(modelName)
		}
		prompt.Metadata = &aiconfig.PromptMetadata{Model: ref}
		if len(params) > 0 {
			prompt.Metadata.Parameters = params
		}
	}
	return prompts, nil
}

func (p *ClaudeChatParser) OutputText(prompt *aiconfig.Prompt, cfg *aiconfig.Config, output aiconfig.Output) (string, error) {
	return latestOutputText(prompt, output)
}

func (p *ClaudeChatParser) PromptTemplate(prompt *aiconfig.Prompt) string {
	return model.BasePromptTemplate(prompt)
}

func messagesRequestFromPayload(payload map[string]any) (anthropic.MessagesRequest, error) {
	req := anthropic.MessagesRequest{
		Model:     anthropic.Model(stringAt(payload, "model")),
		MaxTokens: claudeDefaultMaxTokens,
	}
	if n, ok := intSetting(payload, "max_tokens"); ok {
		req.MaxTokens = n
	}
	if system, ok := payload["system"].(string); ok {
		req.System = system
	}
	if v, ok := floatSetting(payload, "temperature"); ok {
		t := v
		req.Temperature = &t
	}
	if v, ok := floatSetting(payload, "top_p"); ok {
		t := v
		req.TopP = &t
	}
	if n, ok := intSetting(payload, "top_k"); ok {
		k := n
		req.TopK = &k
	}
	if seqs, ok := payload["stop_sequences"].([]any); ok {
		for _, s := range seqs {
			if str, ok := s.(string); ok {
				req.StopSequences = append(req.StopSequences, str)
			}
		}
	}

	messages, _ := payload["messages"].([]any)
	for _, raw := range messages {
		m, ok := raw.(map[string]any)
		if !ok {
			return req, fmt.Errorf("messages entry is not an object")
		}
		content := stringAt(m, "content")
		if stringAt(m, "role") == "assistant" {
			req.Messages = append(req.Messages, anthropic.NewAssistantTextMessage(content))
		} else {
			req.Messages = append(req.Messages, anthropic.NewUserTextMessage(content))
		}
	}
	return req, nil
}

// settings maps carry JSON-decoded float64 values alongside Go-native
// ints and floats; normalize both numeric shapes.
func intSetting(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

func floatSetting(m map[string]any, key string) (float32, bool) {
	switch v := m[key].(type) {
	case int:
		return float32(v), true
	case float64:
		return float32(v), true
	}
	return 0, false
}
