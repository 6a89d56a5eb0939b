package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Ollama calls a local Ollama instance's chat endpoint.
type Ollama struct {
	url    string
	model  string
	client *http.Client
}

// NewOllama creates a new Ollama client.
func NewOllama(url, model string) *Ollama {
	return &Ollama{
		url:    url,
		model:  model,
		client: &http.Client{Timeout: 10 * time.Minute},
	}
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	Error           string `json:"error"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func (o *Ollama) post(ctx context.Context, messages []Message, stream bool) (*http.Response, error) {
	reqBody := map[string]any{
		"model":    o.model,
		"messages": messages,
		"stream":   stream,
		"options": map[string]any{
			"temperature": 0.3,
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, goerr.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.url+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, goerr.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "ollama api", goerr.V("url", o.url))
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, goerr.New("ollama api error", goerr.V("status", resp.StatusCode), goerr.V("body", string(respBody)))
	}
	return resp, nil
}

// Complete sends the conversation to Ollama and returns the whole reply.
func (o *Ollama) Complete(ctx context.Context, messages []Message) (*Response, error) {
	resp, err := o.post(ctx, messages, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, goerr.Wrap(err, "decode response")
	}
	if result.Error != "" {
		return nil, goerr.New("ollama error", goerr.V("error", result.Error))
	}

	return &Response{
		Content:    result.Message.Content,
		Provider:   "ollama",
		TokensUsed: result.PromptEvalCount + result.EvalCount,
	}, nil
}

// CompleteStream streams the reply from Ollama's newline-delimited JSON stream.
func (o *Ollama) CompleteStream(ctx context.Context, messages []Message) (<-chan Chunk, error) {
	resp, err := o.post(ctx, messages, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan Chunk, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		send := func(c Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var part ollamaChatResponse
			if err := json.Unmarshal(line, &part); err != nil {
				send(Chunk{Err: goerr.Wrap(err, "decode stream chunk")})
				return
			}
			if part.Error != "" {
				send(Chunk{Err: goerr.New("ollama error", goerr.V("error", part.Error))})
				return
			}
			if part.Message.Content != "" && !send(Chunk{Delta: part.Message.Content}) {
				return
			}
			if part.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			send(Chunk{Err: goerr.Wrap(err, "read stream")})
		}
	}()
	return ch, nil
}
