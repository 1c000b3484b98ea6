package parsers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/lastmile-ai/aiconfig-sub000/internal/aiconfig"
	"github.com/lastmile-ai/aiconfig-sub000/internal/model"
)

// openAIChatSettingKeys are the completion settings forwarded to the chat
// completions API; everything else in the merged settings stays local.
var openAIChatSettingKeys = map[string]bool{
	"frequency_penalty": true,
	"function_call":     true,
	"functions":         true,
	"logit_bias":        true,
	"logprobs":          true,
	"max_tokens":        true,
	"model":             true,
	"n":                 true,
	"presence_penalty":  true,
	"response_format":   true,
	"seed":              true,
	"stop":              true,
	"stream":            true,
	"temperature":       true,
	"tool_choice":       true,
	"tools":             true,
	"top_logprobs":      true,
	"top_p":             true,
	"user":              true,
}

// OpenAIChatParser drives any chat-completions endpoint that speaks the
// OpenAI wire protocol. The zero baseURL targets api.openai.com; vendor
// variants set their own base URL and credential variables.
type OpenAIChatParser struct {
	id       string
	provider string
	baseURL  string
	keyEnvs  []string
	reg      *model.Registry
}

// NewOpenAIChatParser makes a parser for one OpenAI chat model id.
func NewOpenAIChatParser(modelID string) *OpenAIChatParser {
	return &OpenAIChatParser{
		id:       modelID,
		provider: "openai",
		keyEnvs:  []string{"OPENAI_API_KEY"},
	}
}

// NewCompatChatParser makes a parser for an OpenAI-compatible vendor
// endpoint.
func NewCompatChatParser(provider, baseURL, modelID string, keyEnvs ...string) *OpenAIChatParser {
	return &OpenAIChatParser{id: modelID, provider: provider, baseURL: baseURL, keyEnvs: keyEnvs}
}

func (p *OpenAIChatParser) ID() string { return p.id }

func (p *OpenAIChatParser) registry() *model.Registry {
	if p.reg != nil {
		return p.reg
	}
	return model.Default()
}

func (p *OpenAIChatParser) client(key string) *openai.Client {
	if p.baseURL == "" {
		return openai.NewClient(key)
	}
	cfg := openai.DefaultConfig(key)
	cfg.BaseURL = p.baseURL
	return openai.NewClientWithConfig(cfg)
}

// Deserialize builds the chat completions payload: filtered settings, the
// model name and the reconstructed message history.
func (p *OpenAIChatParser) Deserialize(ctx context.Context, prompt *aiconfig.Prompt, cfg *aiconfig.Config, params map[string]any) (map[string]any, error) {
	modelName, err := cfg.ModelNameForPrompt(prompt)
	if err != nil {
		modelName = p.id
	}
	settings := EffectiveSettings(cfg, prompt, modelName)

	payload := filterSettings(settings, openAIChatSettingKeys)
	if _, ok := payload["model"]; !ok {
		payload["model"] = modelName
	}

	history, err := ChatHistory(p.registry(), cfg, prompt, params, settings)
	if err != nil {
		return nil, err
	}
	messages := make([]any, 0, len(history)+1)
	if system, ok := settings["system_prompt"].(string); ok && system != "" {
		messages = append(messages, map[string]any{"role": "system", "content": system})
	}
	for _, m := range history {
		entry := map[string]any{"role": m.Role, "content": m.Content}
		if m.Name != "" {
			entry["name"] = m.Name
		}
		if m.FunctionCall != nil {
			entry["function_call"] = m.FunctionCall
		}
		messages = append(messages, entry)
	}
	payload["messages"] = messages
	return payload, nil
}

// Run executes the prompt against the endpoint, stores the produced
// outputs on the prompt and returns them. With streaming options set it
// folds deltas per choice and reports each through the callback.
func (p *OpenAIChatParser) Run(ctx context.Context, prompt *aiconfig.Prompt, cfg *aiconfig.Config, opts *model.InferenceOptions, params map[string]any) ([]aiconfig.Output, error) {
	key, err := apiKey(opts, p.keyEnvs...)
	if err != nil {
		return nil, err
	}
	payload, err := p.Deserialize(ctx, prompt, cfg, params)
	if err != nil {
		return nil, err
	}
	req, err := chatRequestFromPayload(payload)
	if err != nil {
		return nil, &model.DecodingError{Provider: p.provider, Err: err}
	}
	client := p.client(key)

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

func (p *OpenAIChatParser) runOnce(ctx context.Context, client *openai.Client, req openai.ChatCompletionRequest) ([]aiconfig.Output, error) {
	req.Stream = false
	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, &model.RemoteCallError{Provider: p.provider, Err: err}
	}
	outputs := make([]aiconfig.Output, 0, len(resp.Choices))
	for _, choice := range resp.Choices {
		index := choice.Index
		var data any = choice.Message.Content
		if len(choice.Message.ToolCalls) > 0 || choice.Message.FunctionCall != nil {
			msg, err := messageAsMap(choice.Message)
			if err != nil {
				return nil, &model.DecodingError{Provider: p.provider, Err: err}
			}
			data = msg
		}
		outputs = append(outputs, aiconfig.ExecuteResult{
			ExecutionCount: &index,
			Data:           data,
			Metadata:       map[string]any{"finish_reason": string(choice.FinishReason)},
		})
	}
	return outputs, nil
}

func (p *OpenAIChatParser) runStream(ctx context.Context, client *openai.Client, req openai.ChatCompletionRequest, cb model.StreamCallback) ([]aiconfig.Output, error) {
	req.Stream = true
	stream, err := client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, &model.RemoteCallError{Provider: p.provider, Err: err}
	}
	defer stream.Close()

	acc := map[int]*strings.Builder{}
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &model.RemoteCallError{Provider: p.provider, Err: err}
		}
		for _, choice := range resp.Choices {
			b := acc[choice.Index]
			if b == nil {
				b = &strings.Builder{}
				acc[choice.Index] = b
			}
			delta := choice.Delta.Content
			b.WriteString(delta)
			cb(delta, b.String(), choice.Index)
		}
	}

	indices := make([]int, 0, len(acc))
	for i := range acc {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	outputs := make([]aiconfig.Output, 0, len(indices))
	for _, i := range indices {
		index := i
		outputs = append(outputs, aiconfig.ExecuteResult{
			ExecutionCount: &index,
			Data:           acc[i].String(),
			Metadata:       map[string]any{},
		})
	}
	return outputs, nil
}

// Serialize converts a chat completions payload back into prompts: each
// user turn becomes a prompt, the following assistant turn its output, and
// a system message lands in the settings as system_prompt.
func (p *OpenAIChatParser) Serialize(ctx context.Context, promptName string, data map[string]any, cfg *aiconfig.Config, params map[string]any) ([]*aiconfig.Prompt, error) {
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

	var prompts []*aiconfig.Prompt
	var pending *aiconfig.Prompt

	flush := func(outputs []aiconfig.Output) {
		if pending == nil {
			if outputs == nil {
				return
			}
			// assistant turn with no preceding user turn
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
		switch stringAt(m, "role") {
		case "system":
			settings["system_prompt"] = content
		case "assistant":
			var outData any = content
			if fc, ok := m["function_call"]; ok {
				outData = map[string]any{"role": "assistant", "content": content, "function_call": fc}
			}
			flush([]aiconfig.Output{aiconfig.ExecuteResult{Data: outData}})
		default:
			flush(nil)
			next := aiconfig.NewPrompt("", content)
			role := stringAt(m, "role")
			name := stringAt(m, "name")
			if role != "user" || name != "" {
				next.Input = aiconfig.PromptInput{Data: content, Role: role, Name: name}
			}
			pending = next
		}
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

func (p *OpenAIChatParser) OutputText(prompt *aiconfig.Prompt, cfg *aiconfig.Config, output aiconfig.Output) (string, error) {
	return latestOutputText(prompt, output)
}

func (p *OpenAIChatParser) PromptTemplate(prompt *aiconfig.Prompt) string {
	return model.BasePromptTemplate(prompt)
}

func chatRequestFromPayload(payload map[string]any) (openai.ChatCompletionRequest, error) {
	var req openai.ChatCompletionRequest
	b, err := json.Marshal(payload)
	if err != nil {
		return req, err
	}
	if err := json.Unmarshal(b, &req); err != nil {
		return req, err
	}
	return req, nil
}

func messageAsMap(msg openai.ChatCompletionMessage) (map[string]any, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
