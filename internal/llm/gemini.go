package llm

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// Gemini calls the Gemini API through the genai SDK.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini client for the Gemini Developer API.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}
	return &Gemini{client: client, model: model}, nil
}

func geminiRequest(messages []Message) ([]*genai.Content, *genai.GenerateContentConfig) {
	system, turns := splitSystem(messages)

	contents := make([]*genai.Content, 0, len(turns))
	for _, m := range turns {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.3),
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	return contents, config
}

// Complete sends the conversation to Gemini.
func (g *Gemini) Complete(ctx context.Context, messages []Message) (*Response, error) {
	contents, config := geminiRequest(messages)

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate content", goerr.V("model", g.model))
	}

	out := &Response{
		Content:  resp.Text(),
		Provider: "gemini",
	}
	if resp.UsageMetadata != nil {
		out.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	return out, nil
}

// CompleteStream streams the reply from Gemini.
func (g *Gemini) CompleteStream(ctx context.Context, messages []Message) (<-chan Chunk, error) {
	contents, config := geminiRequest(messages)

	ch := make(chan Chunk, 16)
	go func() {
		defer close(ch)
		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, config) {
			c := Chunk{}
			if err != nil {
				c.Err = goerr.Wrap(err, "failed to stream content", goerr.V("model", g.model))
			} else {
				c.Delta = resp.Text()
				if c.Delta == "" {
					continue
				}
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
			if c.Err != nil {
				return
			}
		}
	}()
	return ch, nil
}
