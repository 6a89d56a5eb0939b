package llm

import (
	"context"
	"strings"
	"sync"
)

// MockClient is a test double for the LLM Client interface.
// With Reply set it can also be used for dry-run mode.
type MockClient struct {
	Response *Response
	Err      error
	// Reply, when set, computes the reply from the conversation and takes
	// precedence over Response.
	Reply func(messages []Message) (string, error)

	mu    sync.Mutex
	Calls [][]Message // records conversations sent
}

func (m *MockClient) reply(messages []Message) (*Response, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, append([]Message(nil), messages...))
	m.mu.Unlock()

	if m.Reply != nil {
		content, err := m.Reply(messages)
		if err != nil {
			return nil, err
		}
		return &Response{Content: content, Provider: "mock"}, nil
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Response == nil {
		return &Response{Provider: "mock"}, nil
	}
	return m.Response, nil
}

// Complete records the call and returns the mock response.
func (m *MockClient) Complete(_ context.Context, messages []Message) (*Response, error) {
	return m.reply(messages)
}

// CompleteStream records the call and streams the mock response word by word.
func (m *MockClient) CompleteStream(ctx context.Context, messages []Message) (<-chan Chunk, error) {
	resp, err := m.reply(messages)
	if err != nil {
		return nil, err
	}

	words := strings.SplitAfter(resp.Content, " ")
	ch := make(chan Chunk, len(words))
	for _, w := range words {
		if w != "" {
			ch <- Chunk{Delta: w}
		}
	}
	close(ch)
	return ch, nil
}

// CallCount returns the number of recorded calls.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// EchoLastUser replies with the final user message.
func EchoLastUser(messages []Message) (string, error) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content, nil
		}
	}
	return "", nil
}

// LastCall returns the most recent conversation, or nil if there were no calls.
func (m *MockClient) LastCall() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return nil
	}
	return m.Calls[len(m.Calls)-1]
}
