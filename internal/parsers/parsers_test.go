package parsers

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/lastmile-ai/aiconfig-sub000/internal/aiconfig"
	"github.com/lastmile-ai/aiconfig-sub000/internal/model"
)

func chatFixture(t *testing.T) (*model.Registry, *aiconfig.Config, *OpenAIChatParser) {
	t.Helper()
	reg := model.NewRegistry()
	parser := NewOpenAIChatParser("gpt-4")
	parser.reg = reg
	reg.Register(parser)

	cfg := aiconfig.New("chat")
	cfg.Metadata.DefaultModel = "gpt-4"
	return reg, cfg, parser
}

func messageStrings(t *testing.T, payload map[string]any) [][2]string {
	t.Helper()
	raw, ok := payload["messages"].([]any)
	if !ok {
		t.Fatalf("payload has no messages: %#v", payload)
	}
	var out [][2]string
	for _, entry := range raw {
		m := entry.(map[string]any)
		out = append(out, [2]string{m["role"].(string), m["content"].(string)})
	}
	return out
}

func TestDeserializeRebuildsChatHistory(t *testing.T) {
	_, cfg, parser := chatFixture(t)
	p1 := aiconfig.NewPrompt("p1", "Hello {{name}}")
	p2 := aiconfig.NewPrompt("p2", "Hi again")
	for _, p := range []*aiconfig.Prompt{p1, p2} {
		if err := cfg.AddPrompt(p, -1); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if err := cfg.SetParameter("name", "World", ""); err != nil {
		t.Fatalf("set: %v", err)
	}
	p1.Outputs = []aiconfig.Output{aiconfig.ExecuteResult{Data: "A1"}}

	payload, err := parser.Deserialize(context.Background(), p2, cfg, nil)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	want := [][2]string{
		{"user", "Hello World"},
		{"assistant", "A1"},
		{"user", "Hi again"},
	}
	if got := messageStrings(t, payload); !reflect.DeepEqual(got, want) {
		t.Fatalf("messages %v, want %v", got, want)
	}
	if payload["model"] != "gpt-4" {
		t.Fatalf("model not set: %v", payload["model"])
	}
}

func TestDeserializeWithoutChatContext(t *testing.T) {
	_, cfg, parser := chatFixture(t)
	p1 := aiconfig.NewPrompt("p1", "first")
	p2 := aiconfig.NewPrompt("p2", "second")
	off := false
	p2.Metadata = &aiconfig.PromptMetadata{RememberChatContext: &off}
	for _, p := range []*aiconfig.Prompt{p1, p2} {
		if err := cfg.AddPrompt(p, -1); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	p1.Outputs = []aiconfig.Output{aiconfig.ExecuteResult{Data: "A1"}}

	payload, err := parser.Deserialize(context.Background(), p2, cfg, nil)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	want := [][2]string{{"user", "second"}}
	if got := messageStrings(t, payload); !reflect.DeepEqual(got, want) {
		t.Fatalf("messages %v, want %v", got, want)
	}
}

func TestDeserializeSkipsOtherModels(t *testing.T) {
	reg, cfg, parser := chatFixture(t)
	claude := NewClaudeChatParser("claude-3-opus-20240229")
	claude.reg = reg
	reg.Register(claude)

	p1 := aiconfig.NewPrompt("p1", "claude turn")
	p1.Metadata = &aiconfig.PromptMetadata{Model: aiconfig.ModelRefByName("claude-3-opus-20240229")}
	p2 := aiconfig.NewPrompt("p2", "gpt turn")
	for _, p := range []*aiconfig.Prompt{p1, p2} {
		if err := cfg.AddPrompt(p, -1); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	p1.Outputs = []aiconfig.Output{aiconfig.ExecuteResult{Data: "from claude"}}

	payload, err := parser.Deserialize(context.Background(), p2, cfg, nil)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	want := [][2]string{{"user", "gpt turn"}}
	if got := messageStrings(t, payload); !reflect.DeepEqual(got, want) {
		t.Fatalf("messages %v, want %v", got, want)
	}
}

func TestDeserializeUsesSavedMessages(t *testing.T) {
	_, cfg, parser := chatFixture(t)
	p := aiconfig.NewPrompt("p1", "current {{name}}")
	p.Metadata = &aiconfig.PromptMetadata{Model: &aiconfig.ModelRef{
		Name: "gpt-4",
		Settings: map[string]any{
			"messages": []any{
				map[string]any{"role": "user", "content": "saved {{name}}"},
				map[string]any{"role": "assistant", "content": "saved answer"},
			},
		},
	}}
	if err := cfg.AddPrompt(p, -1); err != nil {
		t.Fatalf("add: %v", err)
	}

	payload, err := parser.Deserialize(context.Background(), p, cfg, map[string]any{"name": "X"})
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	want := [][2]string{
		{"user", "saved X"},
		{"assistant", "saved answer"},
		{"user", "current X"},
	}
	if got := messageStrings(t, payload); !reflect.DeepEqual(got, want) {
		t.Fatalf("messages %v, want %v", got, want)
	}
}

func TestDeserializeSystemPrompt(t *testing.T) {
	_, cfg, parser := chatFixture(t)
	cfg.Metadata.Models = map[string]map[string]any{
		"gpt-4": {"system_prompt": "be brief", "temperature": 0.2},
	}
	p := aiconfig.NewPrompt("p1", "hello")
	if err := cfg.AddPrompt(p, -1); err != nil {
		t.Fatalf("add: %v", err)
	}

	payload, err := parser.Deserialize(context.Background(), p, cfg, nil)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	got := messageStrings(t, payload)
	if got[0] != [2]string{"system", "be brief"} {
		t.Fatalf("system message missing: %v", got)
	}
	if payload["temperature"] != 0.2 {
		t.Fatalf("supported setting dropped: %v", payload)
	}
	if _, leaked := payload["system_prompt"]; leaked {
		t.Fatalf("system_prompt should not reach the wire payload")
	}
}

func TestEffectiveSettingsAndDelta(t *testing.T) {
	cfg := aiconfig.New("s")
	cfg.Metadata.Models = map[string]map[string]any{
		"gpt-4": {"temperature": 0.5, "stream": true},
	}
	p := aiconfig.NewPrompt("p1", "x")
	p.Metadata = &aiconfig.PromptMetadata{Model: &aiconfig.ModelRef{
		Name:     "gpt-4",
		Settings: map[string]any{"temperature": 0.9},
	}}

	merged := EffectiveSettings(cfg, p, "gpt-4")
	want := map[string]any{"temperature": 0.9, "stream": true}
	if !reflect.DeepEqual(merged, want) {
		t.Fatalf("merged %v, want %v", merged, want)
	}

	delta := SettingsDelta(merged, cfg.Metadata.ModelSettings("gpt-4"))
	if !reflect.DeepEqual(delta, map[string]any{"temperature": 0.9}) {
		t.Fatalf("delta %v", delta)
	}
}

func TestOutputDataTextShapes(t *testing.T) {
	cases := []struct {
		name string
		out  aiconfig.Output
		want string
	}{
		{"plain string", aiconfig.ExecuteResult{Data: "hello"}, "hello"},
		{"kind value string", aiconfig.ExecuteResult{Data: map[string]any{"kind": "string", "value": "wrapped"}}, "wrapped"},
		{"kind value structured", aiconfig.ExecuteResult{Data: map[string]any{"kind": "tool_calls", "value": []any{map[string]any{"id": "t1"}}}}, `[{"id":"t1"}]`},
		{"legacy chat message", aiconfig.ExecuteResult{Data: map[string]any{"role": "assistant", "content": "from message"}}, "from message"},
		{"error output", aiconfig.ErrorOutput{Ename: "boom", Evalue: "bad"}, ""},
	}
	for _, tc := range cases {
		got, err := OutputDataText(tc.out)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestOpenAISerializeSplitsTurns(t *testing.T) {
	_, cfg, parser := chatFixture(t)
	data := map[string]any{
		"model":       "gpt-4",
		"temperature": 0.7,
		"messages": []any{
			map[string]any{"role": "system", "content": "be brief"},
			map[string]any{"role": "user", "content": "Q1"},
			map[string]any{"role": "assistant", "content": "A1"},
			map[string]any{"role": "user", "content": "Q2"},
		},
	}

	prompts, err := parser.Serialize(context.Background(), "conv", data, cfg, nil)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if len(prompts) != 2 {
		t.Fatalf("expected 2 prompts, got %d", len(prompts))
	}
	if prompts[0].Name != "conv" || prompts[1].Name != "conv_2" {
		t.Fatalf("names: %s, %s", prompts[0].Name, prompts[1].Name)
	}
	if prompts[0].Input.Text() != "Q1" || prompts[1].Input.Text() != "Q2" {
		t.Fatalf("inputs: %q, %q", prompts[0].Input.Text(), prompts[1].Input.Text())
	}
	if text, _ := OutputDataText(aiconfig.LatestOutput(prompts[0])); text != "A1" {
		t.Fatalf("first prompt output %q", text)
	}
	if len(prompts[1].Outputs) != 0 {
		t.Fatalf("trailing user turn should have no outputs")
	}

	settings := prompts[0].ModelSettings()
	if settings["system_prompt"] != "be brief" || settings["temperature"] != 0.7 {
		t.Fatalf("settings: %v", settings)
	}
}

func TestChatRequestFromPayload(t *testing.T) {
	req, err := chatRequestFromPayload(map[string]any{
		"model":       "gpt-4",
		"temperature": 0.25,
		"messages": []any{
			map[string]any{"role": "user", "content": "hi"},
		},
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.Model != "gpt-4" || req.Temperature != 0.25 {
		t.Fatalf("request: %+v", req)
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != "hi" {
		t.Fatalf("messages: %+v", req.Messages)
	}
}

func TestMessagesRequestFromPayload(t *testing.T) {
	req, err := messagesRequestFromPayload(map[string]any{
		"model":       "claude-3-opus-20240229",
		"system":      "be brief",
		"temperature": 0.5,
		"messages": []any{
			map[string]any{"role": "user", "content": "Q1"},
			map[string]any{"role": "assistant", "content": "A1"},
		},
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(req.Model) != "claude-3-opus-20240229" {
		t.Fatalf("model: %v", req.Model)
	}
	if req.MaxTokens != claudeDefaultMaxTokens {
		t.Fatalf("max tokens default: %d", req.MaxTokens)
	}
	if req.System != "be brief" {
		t.Fatalf("system: %q", req.System)
	}
	if req.Temperature == nil || *req.Temperature != 0.5 {
		t.Fatalf("temperature: %v", req.Temperature)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("messages: %+v", req.Messages)
	}
}

func TestTextCompletionDeserialize(t *testing.T) {
	reg := model.NewRegistry()
	parser := NewTextCompletionParser("gpt-3.5-turbo-instruct")
	parser.reg = reg
	reg.Register(parser)

	cfg := aiconfig.New("tc")
	cfg.Metadata.DefaultModel = "gpt-3.5-turbo-instruct"
	p := aiconfig.NewPrompt("p1", "Write about {{topic}}")
	if err := cfg.AddPrompt(p, -1); err != nil {
		t.Fatalf("add: %v", err)
	}

	payload, err := parser.Deserialize(context.Background(), p, cfg, map[string]any{"topic": "go"})
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if payload["prompt"] != "Write about go" {
		t.Fatalf("prompt: %v", payload["prompt"])
	}
	if _, hasMessages := payload["messages"]; hasMessages {
		t.Fatalf("completions payload should not carry messages")
	}
}

func TestMissingCredential(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := apiKey(nil, "OPENAI_API_KEY")
	var missing *model.MissingCredentialError
	if err == nil {
		t.Fatalf("expected missing credential error")
	}
	if !errors.As(err, &missing) || missing.EnvVar != "OPENAI_API_KEY" {
		t.Fatalf("wrong error: %v", err)
	}

	key, err := apiKey(&model.InferenceOptions{APIToken: "tok"}, "OPENAI_API_KEY")
	if err != nil || key != "tok" {
		t.Fatalf("explicit token should win: %q %v", key, err)
	}
}

func TestRegisterDefaults(t *testing.T) {
	reg := model.NewRegistry()
	RegisterDefaults(reg)
	for _, id := range []string{"gpt-4", "claude-3-opus-20240229", "deepseek-chat", "gpt-3.5-turbo-instruct", "gemini-2.0-flash"} {
		if _, err := reg.Get(id); err != nil {
			t.Fatalf("default parser missing for %s: %v", id, err)
		}
	}
}
