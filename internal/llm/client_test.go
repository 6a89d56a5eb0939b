package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/lazypower/recall/internal/config"
	"github.com/m-mizutani/gt"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LLMConfig
		wantErr bool
	}{
		{"ollama", config.LLMConfig{Provider: "ollama"}, false},
		{"claude-cli", config.LLMConfig{Provider: "claude-cli"}, false},
		{"mock", config.LLMConfig{Provider: "mock"}, false},
		{"anthropic with key", config.LLMConfig{Provider: "anthropic", AnthropicKey: "sk-test"}, false},
		{"anthropic without key", config.LLMConfig{Provider: "anthropic"}, true},
		{"gemini without key", config.LLMConfig{Provider: "gemini"}, true},
		{"unknown", config.LLMConfig{Provider: "gpt"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(context.Background(), tt.cfg)
			if tt.wantErr {
				gt.Error(t, err)
				return
			}
			gt.NoError(t, err)
			gt.V(t, client).NotNil()
		})
	}
}

func TestNewClientDefaults(t *testing.T) {
	client, err := NewClient(context.Background(), config.LLMConfig{Provider: "ollama"})
	gt.NoError(t, err)

	o, ok := client.(*Ollama)
	gt.True(t, ok)
	gt.Equal(t, o.model, "llama3:8b")
	gt.Equal(t, o.url, "http://localhost:11434")
}

func TestMockClient(t *testing.T) {
	mock := &MockClient{Response: &Response{Content: "hello world", Provider: "mock"}}
	ctx := context.Background()

	resp, err := mock.Complete(ctx, []Message{User("hi")})
	gt.NoError(t, err)
	gt.Equal(t, resp.Content, "hello world")

	ch, err := mock.CompleteStream(ctx, []Message{User("again")})
	gt.NoError(t, err)
	text, err := Collect(ch)
	gt.NoError(t, err)
	gt.Equal(t, text, "hello world")

	gt.Equal(t, mock.CallCount(), 2)
	gt.Equal(t, mock.Calls[1][0].Content, "again")
}

func TestMockClientError(t *testing.T) {
	mock := &MockClient{Err: errors.New("backend down")}

	_, err := mock.Complete(context.Background(), nil)
	gt.Error(t, err)
	_, err = mock.CompleteStream(context.Background(), nil)
	gt.Error(t, err)
}

func TestEchoLastUser(t *testing.T) {
	mock := &MockClient{Reply: EchoLastUser}

	resp, err := mock.Complete(context.Background(), []Message{
		System("sys"), User("first"), Assistant("reply"), User("second"),
	})
	gt.NoError(t, err)
	gt.Equal(t, resp.Content, "second")
}

func TestCollectStopsOnError(t *testing.T) {
	ch := make(chan Chunk, 3)
	ch <- Chunk{Delta: "partial "}
	ch <- Chunk{Err: errors.New("cut off")}
	ch <- Chunk{Delta: "never"}
	close(ch)

	text, err := Collect(ch)
	gt.Error(t, err)
	gt.Equal(t, text, "partial ")
}

func TestSplitSystem(t *testing.T) {
	system, rest := splitSystem([]Message{
		System("one"), User("u"), System("two"), Assistant("a"),
	})
	gt.Equal(t, system, "one\n\ntwo")
	gt.A(t, rest).Length(2)
	gt.Equal(t, rest[0].Role, RoleUser)
}

func TestRenderTranscript(t *testing.T) {
	out := renderTranscript([]Message{System("be brief"), User("hi"), Assistant("hello"), User("bye")})
	gt.Equal(t, out, "be brief\n\nUSER: hi\n\nASSISTANT: hello\n\nUSER: bye\n\nASSISTANT:")
}

func TestFilterEnv(t *testing.T) {
	got := filterEnv([]string{"PATH=/bin", "CLAUDE_SESSION=1", "HOME=/root"})
	gt.Equal(t, got, []string{"PATH=/bin", "HOME=/root"})
}
