package parsers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/lastmile-ai/aiconfig-sub000/internal/aiconfig"
	"github.com/lastmile-ai/aiconfig-sub000/internal/model"
)

var completionSettingKeys = map[string]bool{
	"best_of":           true,
	"echo":              true,
	"frequency_penalty": true,
	"logit_bias":        true,
	"logprobs":          true,
	"max_tokens":        true,
	"model":             true,
	"n":                 true,
	"presence_penalty":  true,
	"seed":              true,
	"stop":              true,
	"stream":            true,
	"suffix":            true,
	"temperature":       true,
	"top_p":             true,
	"user":              true,
}

// TextCompletionParser drives the legacy completions API. It has no chat
// history; the resolved template is the whole prompt.
type TextCompletionParser struct {
	id  string
	reg *model.Registry
}

// NewTextCompletionParser makes a parser for one completions model id.
func NewTextCompletionParser(modelID string) *TextCompletionParser {
	return &TextCompletionParser{id: modelID}
}

func (p *TextCompletionParser) ID() string { return p.id }

func (p *TextCompletionParser) registry() *model.Registry {
	if p.reg != nil {
		return p.reg
	}
	return model.Default()
}

func (p *TextCompletionParser) Deserialize(ctx context.Context, prompt *aiconfig.Prompt, cfg *aiconfig.Config, params map[string]any) (map[string]any, error) {
	modelName, err := cfg.ModelNameForPrompt(prompt)
	if err != nil {
		modelName = p.id
	}
	settings := EffectiveSettings(cfg, prompt, modelName)

	payload := filterSettings(settings, completionSettingKeys)
	if _, ok := payload["model"]; !ok {
		payload["model"] = modelName
	}
	resolved, err := model.ResolvePrompt(p.registry(), cfg, prompt, params)
	if err != nil {
		return nil, err
	}
	payload["prompt"] = resolved
	return payload, nil
}

func (p *TextCompletionParser) Run(ctx context.Context, prompt *aiconfig.Prompt, cfg *aiconfig.Config, opts *model.InferenceOptions, params map[string]any) ([]aiconfig.Output, error) {
	key, err := apiKey(opts, "OPENAI_API_KEY")
	if err != nil {
		return nil, err
	}
	payload, err := p.Deserialize(ctx, prompt, cfg, params)
	if err != nil {
		return nil, err
	}
	req, err := completionRequestFromPayload(payload)
	if err != nil {
		return nil, &model.DecodingError{Provider: "openai", Err: err}
	}
	client := openai.NewClient(key)

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

func (p *TextCompletionParser) runOnce(ctx context.Context, client *openai.Client, req openai.CompletionRequest) ([]aiconfig.Output, error) {
	req.Stream = false
	resp, err := client.CreateCompletion(ctx, req)
	if err != nil {
		return nil, &model.RemoteCallError{Provider: "openai", Err: err}
	}
	outputs := make([]aiconfig.Output, 0, len(resp.Choices))
	for _, choice := range resp.Choices {
		index := choice.Index
		outputs = append(outputs, aiconfig.ExecuteResult{
			ExecutionCount: &index,
			Data:           choice.Text,
			Metadata:       map[string]any{"finish_reason": choice.FinishReason},
		})
	}
	return outputs, nil
}

func (p *TextCompletionParser) runStream(ctx context.Context, client *openai.Client, req openai.CompletionRequest, cb model.StreamCallback) ([]aiconfig.Output, error) {
	req.Stream = true
	stream, err := client.CreateCompletionStream(ctx, req)
	if err != nil {
		return nil, &model.RemoteCallError{Provider: "openai", Err: err}
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
			return nil, &model.RemoteCallError{Provider: "openai", Err: err}
		}
		for _, choice := range resp.Choices {
			b := acc[choice.Index]
			if b == nil {
				b = &strings.Builder{}
				acc[choice.Index] = b
			}
			b.WriteString(choice.Text)
			cb(choice.Text, b.String(), choice.Index)
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

// Serialize turns a completions payload into a single prompt whose input
// is the raw prompt text.
func (p *TextCompletionParser) Serialize(ctx context.Context, promptName string, data map[string]any, cfg *aiconfig.Config, params map[string]any) ([]*aiconfig.Prompt, error) {
	modelName, _ := data["model"].(string)
	if modelName == "" {
		modelName = p.id
	}
	settings := map[string]any{}
	for k, v := range data {
		if k == "prompt" {
			continue
		}
		settings[k] = v
	}

	prompt := aiconfig.NewPrompt(promptName, stringAt(data, "prompt"))
	delta := SettingsDelta(settings, cfg.Metadata.ModelSettings(modelName))
	ref := &aiconfig.ModelRef{Name: modelName, Settings: delta}
	if len(delta) == 0 {
		ref = aiconfig.ModelRefByName(modelName)
	}
	prompt.Metadata = &aiconfig.PromptMetadata{Model: ref}
	if len(params) > 0 {
		prompt.Metadata.Parameters = params
	}
	return []*aiconfig.Prompt{prompt}, nil
}

func (p *TextCompletionParser) OutputText(prompt *aiconfig.Prompt, cfg *aiconfig.Config, output aiconfig.Output) (string, error) {
	return latestOutputText(prompt, output)
}

func (p *TextCompletionParser) PromptTemplate(prompt *aiconfig.Prompt) string {
	return model.BasePromptTemplate(prompt)
}

func completionRequestFromPayload(payload map[string]any) (openai.CompletionRequest, error) {
	var req openai.CompletionRequest
	b, err := json.Marshal(payload)
	if err != nil {
		return req, err
	}
	if err := json.Unmarshal(b, &req); err != nil {
		return req, err
	}
	return req, nil
}
