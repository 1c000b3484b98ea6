package parsers

import "github.com/lastmile-ai/aiconfig-sub000/internal/model"

// compatEndpoint describes an OpenAI-compatible vendor endpoint and the
// model ids served through it.
type compatEndpoint struct {
	provider string
	baseURL  string
	keyEnvs  []string
	models   []string
}

var compatEndpoints = []compatEndpoint{
	{"deepseek", "https://api.deepseek.com/v1", []string{"DEEPSEEK_API_KEY"}, []string{"deepseek-chat", "deepseek-reasoner"}},
	{"qwen", "https://dashscope.aliyuncs.com/compatible-mode/v1", []string{"DASHSCOPE_API_KEY", "QWEN_API_KEY"}, []string{"qwen-plus", "qwen-turbo", "qwen-max"}},
	{"kimi", "https://api.moonshot.cn/v1", []string{"MOONSHOT_API_KEY", "KIMI_API_KEY"}, []string{"moonshot-v1-8k", "moonshot-v1-32k"}},
	{"gemini", "https://generativelanguage.googleapis.com/v1beta/openai", []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}, []string{"gemini-2.0-flash", "gemini-1.5-pro", "gemini-1.5-flash"}},
	{"grok", "https://api.x.ai/v1", []string{"XAI_API_KEY", "GROK_API_KEY"}, []string{"grok-2-latest", "grok-beta"}},
}

var openAIChatModels = []string{
	"gpt-3.5-turbo",
	"gpt-4",
	"gpt-4-turbo",
	"gpt-4o",
	"gpt-4o-mini",
}

var claudeModels = []string{
	"claude-3-5-haiku-latest",
	"claude-3-5-sonnet-latest",
	"claude-3-haiku-20240307",
	"claude-3-opus-20240229",
}

var textCompletionModels = []string{
	"gpt-3.5-turbo-instruct",
	"text-davinci-003",
}

// RegisterDefaults installs the built-in parsers into reg, one instance
// per model id. A nil reg targets the process-wide default registry.
func RegisterDefaults(reg *model.Registry) {
	if reg == nil {
		reg = model.Default()
	}
	for _, id := range openAIChatModels {
		p := NewOpenAIChatParser(id)
		p.reg = reg
		reg.Register(p)
	}
	for _, id := range claudeModels {
		p := NewClaudeChatParser(id)
		p.reg = reg
		reg.Register(p)
	}
	for _, id := range textCompletionModels {
		p := NewTextCompletionParser(id)
		p.reg = reg
		reg.Register(p)
	}
	for _, ep := range compatEndpoints {
		for _, id := range ep.models {
			p := NewCompatChatParser(ep.provider, ep.baseURL, id, ep.keyEnvs...)
			p.reg = reg
			reg.Register(p)
		}
	}
}
