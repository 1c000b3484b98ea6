package runtime

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/lastmile-ai/aiconfig-sub000/internal/aiconfig"
	"github.com/lastmile-ai/aiconfig-sub000/internal/model"
)

// recordingParser echoes the resolved template as its output and records
// run order. Setting failOn makes that prompt's run fail.
type recordingParser struct {
	reg    *model.Registry
	runs   []string
	failOn string
}

func (p *recordingParser) ID() string { return "recording" }

func (p *recordingParser) Serialize(ctx context.Context, promptName string, data map[string]any, cfg *aiconfig.Config, params map[string]any) ([]*aiconfig.Prompt, error) {
	prompt := aiconfig.NewPrompt(promptName, data["prompt"].(string))
	prompt.Metadata = &aiconfig.PromptMetadata{Model: aiconfig.ModelRefByName("recording")}
	return []*aiconfig.Prompt{prompt}, nil
}

func (p *recordingParser) Deserialize(ctx context.Context, prompt *aiconfig.Prompt, cfg *aiconfig.Config, params map[string]any) (map[string]any, error) {
	resolved, err := model.ResolvePrompt(p.reg, cfg, prompt, params)
	if err != nil {
		return nil, err
	}
	return map[string]any{"prompt": resolved}, nil
}

func (p *recordingParser) Run(ctx context.Context, prompt *aiconfig.Prompt, cfg *aiconfig.Config, opts *model.InferenceOptions, params map[string]any) ([]aiconfig.Output, error) {
	p.runs = append(p.runs, prompt.Name)
	if prompt.Name == p.failOn {
		return nil, &model.RemoteCallError{Provider: "recording", Err: errors.New("boom")}
	}
	resolved, err := model.ResolvePrompt(p.reg, cfg, prompt, params)
	if err != nil {
		return nil, err
	}
	outputs := []aiconfig.Output{aiconfig.ExecuteResult{Data: "ran:" + resolved}}
	prompt.Outputs = outputs
	return outputs, nil
}

func (p *recordingParser) OutputText(prompt *aiconfig.Prompt, cfg *aiconfig.Config, output aiconfig.Output) (string, error) {
	if output == nil {
		output = aiconfig.LatestOutput(prompt)
	}
	if res, ok := output.(aiconfig.ExecuteResult); ok {
		if s, ok := res.Data.(string); ok {
			return s, nil
		}
	}
	return "", nil
}

func (p *recordingParser) PromptTemplate(prompt *aiconfig.Prompt) string {
	return model.BasePromptTemplate(prompt)
}

func newTestRuntime(t *testing.T) (*Runtime, *recordingParser) {
	t.Helper()
	reg := model.NewRegistry()
	parser := &recordingParser{reg: reg}
	reg.Register(parser)
	rt := Create("test", reg)
	rt.Config.Metadata.DefaultModel = "recording"
	return rt, parser
}

func TestResolveUnknownPrompt(t *testing.T) {
	rt, _ := newTestRuntime(t)
	_, err := rt.Resolve(context.Background(), "missing", nil)
	if err == nil {
		t.Fatalf("expected unknown prompt error")
	}
	var unknown *aiconfig.ErrUnknownPrompt
	if !errors.As(err, &unknown) || unknown.Name != "missing" {
		t.Fatalf("wrong error: %v", err)
	}
}

func TestRunStoresOutputs(t *testing.T) {
	rt, _ := newTestRuntime(t)
	if err := rt.Config.AddPrompt(aiconfig.NewPrompt("p1", "hello"), -1); err != nil {
		t.Fatalf("add: %v", err)
	}
	outputs, err := rt.Run(context.Background(), "p1", nil, nil, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	p, _ := rt.Config.Prompt("p1")
	if !reflect.DeepEqual(p.Outputs, outputs) {
		t.Fatalf("outputs not stored on prompt")
	}
}

func TestRunWithDependenciesPostOrder(t *testing.T) {
	rt, parser := newTestRuntime(t)
	prompts := []*aiconfig.Prompt{
		aiconfig.NewPrompt("p1", "literal"),
		aiconfig.NewPrompt("p2", "{{p1.input}} {{p4.output}}"),
		aiconfig.NewPrompt("p3", "{{p2.input}}"),
		aiconfig.NewPrompt("p4", "{{p3.output}} {{p1.output}}"),
	}
	for _, p := range prompts {
		if err := rt.Config.AddPrompt(p, -1); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	if _, err := rt.Run(context.Background(), "p4", nil, nil, true); err != nil {
		t.Fatalf("run with deps: %v", err)
	}
	want := []string{"p1", "p2", "p3", "p4"}
	if !reflect.DeepEqual(parser.runs, want) {
		t.Fatalf("run order %v, want %v", parser.runs, want)
	}

	// intermediate outputs stayed visible on the config
	p3, _ := rt.Config.Prompt("p3")
	if len(p3.Outputs) != 1 {
		t.Fatalf("dependency outputs not recorded")
	}
}

func TestRunWithDependenciesReportsFailingPrompt(t *testing.T) {
	rt, parser := newTestRuntime(t)
	prompts := []*aiconfig.Prompt{
		aiconfig.NewPrompt("p1", "literal"),
		aiconfig.NewPrompt("p2", "{{p1.output}} more"),
	}
	for _, p := range prompts {
		if err := rt.Config.AddPrompt(p, -1); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	parser.failOn = "p1"

	_, err := rt.Run(context.Background(), "p2", nil, nil, true)
	if err == nil {
		t.Fatalf("expected dependency failure")
	}
	var runErr *RunError
	if !errors.As(err, &runErr) || runErr.PromptName != "p1" {
		t.Fatalf("failing prompt not reported: %v", err)
	}
	var remote *model.RemoteCallError
	if !errors.As(err, &remote) {
		t.Fatalf("provider error not preserved through wrapping: %v", err)
	}
}

func TestSerializeDelegatesByModelName(t *testing.T) {
	rt, _ := newTestRuntime(t)
	prompts, err := rt.Serialize(context.Background(), "recording", map[string]any{"prompt": "hi"}, "pnew", nil)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if len(prompts) != 1 || prompts[0].Name != "pnew" {
		t.Fatalf("unexpected prompts: %#v", prompts)
	}
	if _, err := rt.Serialize(context.Background(), "nope", nil, "p", nil); err == nil {
		t.Fatalf("expected unknown model error")
	}
}

func TestLoadOrCreateAndSave(t *testing.T) {
	reg := model.NewRegistry()
	reg.Register(&recordingParser{reg: reg})

	path := filepath.Join(t.TempDir(), "cfg.json")
	rt, err := LoadOrCreate(path, "fresh", reg)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := rt.Config.AddPrompt(aiconfig.NewPrompt("p1", "hi"), -1); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := rt.Save("", true); err != nil {
		t.Fatalf("save: %v", err)
	}

	again, err := LoadOrCreate(path, "ignored", reg)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, ok := again.Config.Prompt("p1"); !ok {
		t.Fatalf("prompt lost across load")
	}
}

func TestLoadFailsOnUnresolvedParserBinding(t *testing.T) {
	reg := model.NewRegistry()
	path := filepath.Join(t.TempDir(), "cfg.json")
	cfg := aiconfig.New("x")
	cfg.Metadata.ModelParsers = map[string]string{"m": "unregistered"}
	if err := cfg.SaveFile(path, true); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := LoadFile(path, reg); err == nil {
		t.Fatalf("expected load failure for unresolved parser binding")
	}
}

func TestCallbackEventsFire(t *testing.T) {
	rt, _ := newTestRuntime(t)
	if err := rt.Config.AddPrompt(aiconfig.NewPrompt("p1", "hi"), -1); err != nil {
		t.Fatalf("add: %v", err)
	}
	var events []string
	rt.Callbacks.Register(func(ev model.CallbackEvent) { events = append(events, ev.Name) })

	if _, err := rt.Run(context.Background(), "p1", nil, nil, false); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := rt.Resolve(context.Background(), "p1", nil); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := []string{"on_run_start", "on_run_complete", "on_deserialize_start", "on_deserialize_complete"}
	if !reflect.DeepEqual(events, want) {
		t.Fatalf("events %v, want %v", events, want)
	}
}
