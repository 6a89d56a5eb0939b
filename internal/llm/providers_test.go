package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m-mizutani/gt"
)

func TestOllamaComplete(t *testing.T) {
	var got struct {
		Model    string    `json:"model"`
		Messages []Message `json:"messages"`
		Stream   bool      `json:"stream"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gt.Equal(t, r.URL.Path, "/api/chat")
		gt.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"message":{"role":"assistant","content":"yes"},"done":true,"prompt_eval_count":10,"eval_count":1}`)
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, "llama3:8b")
	resp, err := o.Complete(context.Background(), []Message{System("sys"), User("q")})
	gt.NoError(t, err)
	gt.Equal(t, resp.Content, "yes")
	gt.Equal(t, resp.TokensUsed, 11)
	gt.Equal(t, got.Model, "llama3:8b")
	gt.True(t, !got.Stream)
	gt.Equal(t, got.Messages, []Message{System("sys"), User("q")})
}

func TestOllamaCompleteStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllama(srv.URL, "missing").Complete(context.Background(), []Message{User("q")})
	gt.Error(t, err)
}

func TestOllamaCompleteStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lines := []string{
			`{"message":{"content":"Your passport "},"done":false}`,
			`{"message":{"content":"is in C:/folder/"},"done":false}`,
			`{"message":{"content":""},"done":true}`,
		}
		fmt.Fprint(w, strings.Join(lines, "\n")+"\n")
	}))
	defer srv.Close()

	ch, err := NewOllama(srv.URL, "llama3:8b").CompleteStream(context.Background(), []Message{User("q")})
	gt.NoError(t, err)
	text, err := Collect(ch)
	gt.NoError(t, err)
	gt.Equal(t, text, "Your passport is in C:/folder/")
}

func TestOllamaCompleteStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"message":{"content":"partial"},"done":false}`+"\n"+`{"error":"out of memory"}`+"\n")
	}))
	defer srv.Close()

	ch, err := NewOllama(srv.URL, "llama3:8b").CompleteStream(context.Background(), []Message{User("q")})
	gt.NoError(t, err)
	text, err := Collect(ch)
	gt.Error(t, err)
	gt.Equal(t, text, "partial")
}

func TestAnthropicComplete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gt.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"))
		gt.Equal(t, r.Header.Get("X-Api-Key"), "sk-test")
		gt.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "msg_01",
			"type": "message",
			"role": "assistant",
			"model": "claude-haiku-4-5-20251001",
			"content": [{"type": "text", "text": "no"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 40, "output_tokens": 1}
		}`)
	}))
	defer srv.Close()

	a := NewAnthropic("sk-test", "claude-haiku-4-5-20251001", option.WithBaseURL(srv.URL))
	resp, err := a.Complete(context.Background(), ClassifyMessages("favorite color", "The sky is blue."))
	gt.NoError(t, err)
	gt.Equal(t, resp.Content, "no")
	gt.Equal(t, resp.TokensUsed, 41)

	// system instruction travels out of band, the rest as alternating turns
	system, ok := body["system"].([]any)
	gt.True(t, ok)
	gt.A(t, system).Length(1)
	messages, ok := body["messages"].([]any)
	gt.True(t, ok)
	gt.A(t, messages).Length(7)
}

func TestAnthropicCompleteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"type":"error","error":{"type":"api_error","message":"overloaded"}}`)
	}))
	defer srv.Close()

	a := NewAnthropic("sk-test", "claude-haiku-4-5-20251001", option.WithBaseURL(srv.URL))
	_, err := a.Complete(context.Background(), []Message{User("q")})
	gt.Error(t, err)
}

func TestGeminiRequest(t *testing.T) {
	contents, config := geminiRequest([]Message{System("sys"), User("q"), Assistant("a")})

	gt.A(t, contents).Length(2)
	gt.Equal(t, contents[0].Role, "user")
	gt.Equal(t, contents[1].Role, "model")
	gt.Equal(t, contents[0].Parts[0].Text, "q")
	gt.Equal(t, contents[1].Parts[0].Text, "a")
	gt.V(t, config.SystemInstruction).NotNil()
	gt.Equal(t, config.SystemInstruction.Parts[0].Text, "sys")
}

// fakeClaude writes a shell script standing in for the claude binary.
func fakeClaude(t *testing.T, script string) *ClaudeCLI {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	bin := filepath.Join(t.TempDir(), "claude")
	gt.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"+script+"\n"), 0755))
	c := NewClaudeCLI("test-model")
	c.bin = bin
	return c
}

func TestClaudeCLICompleteStream(t *testing.T) {
	c := fakeClaude(t, "cat >/dev/null; printf 'hello from the cli'")

	ch, err := c.CompleteStream(context.Background(), []Message{User("hi")})
	gt.NoError(t, err)

	var sb strings.Builder
	for chunk := range ch {
		gt.NoError(t, chunk.Err)
		sb.WriteString(chunk.Delta)
	}
	gt.Equal(t, sb.String(), "hello from the cli")
}

func TestClaudeCLICompleteStreamExitError(t *testing.T) {
	c := fakeClaude(t, "cat >/dev/null; echo boom >&2; exit 3")

	ch, err := c.CompleteStream(context.Background(), []Message{User("hi")})
	gt.NoError(t, err)

	var last error
	for chunk := range ch {
		if chunk.Err != nil {
			last = chunk.Err
		}
	}
	gt.Error(t, last)
}

func TestClaudeCLIStreamAbandonedReaderDoesNotLeak(t *testing.T) {
	// enough separate writes to fill the chunk buffer before the failing exit
	c := fakeClaude(t, "cat >/dev/null; for i in $(seq 1 40); do printf x; sleep 0.01; done; exit 1")

	before := runtime.NumGoroutine()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.CompleteStream(ctx, []Message{User("hi")})
	gt.NoError(t, err)
	gt.True(t, ch != nil)

	// the reader goes away without draining
	time.Sleep(800 * time.Millisecond)
	cancel()

	deadline := time.Now().Add(5 * time.Second)
	for runtime.NumGoroutine() > before && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	gt.True(t, runtime.NumGoroutine() <= before)
}
