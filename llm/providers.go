package llm

import "context"

// vendorSpec carries the per-vendor defaults applied by NewProvider.
type vendorSpec struct {
	baseURL     string
	pathPrefix  string
	model       string
	keyEnv      string
	keyRequired bool
	// tools is true when the endpoint reliably supports OpenAI-style
	// function calling.
	tools bool
}

// vendors lists every supported provider. All of them speak the
// OpenAI-compatible chat completions format.
//
// Gemini uses a different path prefix than standard OpenAI providers (no /v1).
// Local runtimes are registered chat-only: most local models ship without
// function-calling templates, so they run the text-protocol agent instead.
var vendors = map[string]vendorSpec{
	"openai": {
		baseURL: "https://api.openai.com", pathPrefix: "/v1",
		model: "gpt-4o-mini", keyEnv: "OPENAI_API_KEY", keyRequired: true, tools: true,
	},
	"openrouter": {
		baseURL: "https://openrouter.ai/api", pathPrefix: "/v1",
		keyEnv: "OPENROUTER_API_KEY", keyRequired: true, tools: true,
	},
	"groq": {
		baseURL: "https://api.groq.com/openai", pathPrefix: "/v1",
		model: "llama-3.3-70b-versatile", keyEnv: "GROQ_API_KEY", keyRequired: true, tools: true,
	},
	"xai": {
		baseURL: "https://api.x.ai", pathPrefix: "/v1",
		keyEnv: "XAI_API_KEY", keyRequired: true, tools: true,
	},
	"gemini": {
		baseURL: "https://generativelanguage.googleapis.com/v1beta/openai", pathPrefix: "",
		model: "gemini-2.5-flash", keyEnv: "GEMINI_API_KEY", keyRequired: true, tools: true,
	},
	"ollama": {
		baseURL: "http://localhost:11434", pathPrefix: "/v1",
		model: "llama3.1:8b",
	},
	"lmstudio": {
		baseURL: "http://localhost:1234", pathPrefix: "/v1",
	},
	"custom": {
		pathPrefix: "/v1", tools: true,
	},
}

// chatProvider is a plain chat-completions provider.
type chatProvider struct {
	base openAICompatClient
}

func (p *chatProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.base.chat(ctx, req)
}

// toolProvider additionally advertises function calling.
type toolProvider struct {
	base openAICompatClient
}

func (p *toolProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.base.chat(ctx, req)
}

func (p *toolProvider) ChatWithTools(ctx context.Context, req ToolChatRequest) (*ToolChatResponse, error) {
	return p.base.chatWithTools(ctx, req)
}
