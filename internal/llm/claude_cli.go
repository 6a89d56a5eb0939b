package llm

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// ClaudeCLI calls the Claude CLI (`claude -p`) as a subprocess. The CLI takes a
// single prompt, so the conversation is rendered as a labelled transcript.
type ClaudeCLI struct {
	bin     string
	model   string
	timeout time.Duration
}

// NewClaudeCLI creates a new Claude CLI client.
func NewClaudeCLI(model string) *ClaudeCLI {
	return &ClaudeCLI{
		bin:     "claude",
		model:   model,
		timeout: 120 * time.Second,
	}
}

func (c *ClaudeCLI) command(ctx context.Context, messages []Message) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.bin, "-p", "--model", c.model, "--max-turns", "1")
	cmd.Stdin = strings.NewReader(renderTranscript(messages))
	// Strip CLAUDE_* env vars so the child does not inherit session state
	cmd.Env = filterEnv(os.Environ())
	return cmd
}

// Complete runs the CLI and returns its trimmed stdout.
func (c *ClaudeCLI) Complete(ctx context.Context, messages []Message) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := c.command(ctx, messages)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, goerr.Wrap(err, "claude cli", goerr.V("stderr", stderr.String()))
	}

	return &Response{
		Content:  strings.TrimSpace(stdout.String()),
		Provider: "claude-cli",
	}, nil
}

// CompleteStream forwards the CLI's stdout as it is produced.
func (c *ClaudeCLI) CompleteStream(ctx context.Context, messages []Message) (<-chan Chunk, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)

	cmd := c.command(ctx, messages)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, goerr.Wrap(err, "claude cli stdout")
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, goerr.Wrap(err, "start claude cli")
	}

	ch := make(chan Chunk, 16)
	go func() {
		defer close(ch)
		defer cancel()

		send := func(c Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		buf := make([]byte, 512)
		for {
			n, readErr := stdout.Read(buf)
			if n > 0 && !send(Chunk{Delta: string(buf[:n])}) {
				cmd.Wait()
				return
			}
			if readErr == io.EOF {
				break
			}
			if readErr != nil {
				send(Chunk{Err: goerr.Wrap(readErr, "read claude cli")})
				cmd.Wait()
				return
			}
		}
		if err := cmd.Wait(); err != nil {
			send(Chunk{Err: goerr.Wrap(err, "claude cli", goerr.V("stderr", stderr.String()))})
		}
	}()
	return ch, nil
}

// renderTranscript flattens a conversation into one prompt.
func renderTranscript(messages []Message) string {
	system, turns := splitSystem(messages)

	var b strings.Builder
	if system != "" {
		b.WriteString(system)
		b.WriteString("\n\n")
	}
	for _, m := range turns {
		label := "USER"
		if m.Role == RoleAssistant {
			label = "ASSISTANT"
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n\n")
	}
	b.WriteString("ASSISTANT:")
	return b.String()
}

// filterEnv removes CLAUDE_* environment variables.
func filterEnv(env []string) []string {
	filtered := make([]string, 0, len(env))
	for _, e := range env {
		if !strings.HasPrefix(e, "CLAUDE_") {
			filtered = append(filtered, e)
		}
	}
	return filtered
}
