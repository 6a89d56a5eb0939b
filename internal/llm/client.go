package llm

import (
	"context"
	"strings"

	"github.com/lazypower/recall/internal/config"
	"github.com/m-mizutani/goerr/v2"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func System(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message      { return Message{Role: RoleUser, Content: content} }
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Client is the interface for LLM chat providers.
type Client interface {
	Complete(ctx context.Context, messages []Message) (*Response, error)
	// CompleteStream returns a channel of text deltas that is closed when the
	// reply ends. A failure mid-stream arrives as a final Chunk with Err set.
	CompleteStream(ctx context.Context, messages []Message) (<-chan Chunk, error)
}

// Response holds the result of an LLM completion.
type Response struct {
	Content    string
	Provider   string
	TokensUsed int
}

// Chunk is one piece of a streamed reply.
type Chunk struct {
	Delta string
	Err   error
}

// Collect drains a stream into a single string.
func Collect(ch <-chan Chunk) (string, error) {
	var b strings.Builder
	for c := range ch {
		if c.Err != nil {
			return b.String(), c.Err
		}
		b.WriteString(c.Delta)
	}
	return b.String(), nil
}

// splitSystem separates system messages, which some providers take out of band,
// from the conversation turns.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

// NewClient creates an LLM client based on the config provider setting.
func NewClient(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "ollama":
		url := cfg.OllamaURL
		if url == "" {
			url = "http://localhost:11434"
		}
		model := cfg.Model
		if model == "" {
			model = "llama3:8b"
		}
		return NewOllama(url, model), nil
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, goerr.New("anthropic provider requires ANTHROPIC_API_KEY or config")
		}
		model := cfg.Model
		if model == "" {
			model = "claude-haiku-4-5-20251001"
		}
		return NewAnthropic(cfg.AnthropicKey, model), nil
	case "gemini":
		if cfg.GeminiKey == "" {
			return nil, goerr.New("gemini provider requires GEMINI_API_KEY or config")
		}
		model := cfg.Model
		if model == "" {
			model = "gemini-2.5-flash"
		}
		return NewGemini(ctx, cfg.GeminiKey, model)
	case "claude-cli":
		model := cfg.Model
		if model == "" {
			model = "haiku"
		}
		return NewClaudeCLI(model), nil
	case "mock":
		return &MockClient{Reply: EchoLastUser}, nil
	default:
		return nil, goerr.New("unknown LLM provider", goerr.V("provider", cfg.Provider))
	}
}
