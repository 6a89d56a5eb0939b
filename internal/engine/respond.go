package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/lazypower/recall/internal/llm"
	"github.com/lazypower/recall/internal/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Turn describes the retrieval half of one answered prompt.
type Turn struct {
	ID       string   `json:"id"`
	Prompt   string   `json:"prompt"`
	Queries  []string `json:"queries"`
	Memories []string `json:"memories"`
}

// BuildConversation assembles the messages sent to the model: the system prompt,
// prior history, the retrieved memories (only when there are any) and the
// user's prompt.
func BuildConversation(history []llm.Message, memories []string, prompt string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+3)
	msgs = append(msgs, llm.System(llm.SystemPrompt))
	for _, m := range history {
		if m.Role == llm.RoleSystem {
			continue
		}
		msgs = append(msgs, m)
	}
	if len(memories) > 0 {
		msgs = append(msgs, llm.MemoriesMessage(memories))
	}
	return append(msgs, llm.User(prompt))
}

// Respond streams the model's answer to prompt given the retrieved memories.
// The whole stream is bounded by the engine's stream timeout.
func (e *Engine) Respond(ctx context.Context, history []llm.Message, memories []string, prompt string) (<-chan llm.Chunk, error) {
	streamCtx, cancel := context.WithTimeout(ctx, e.streamTimeout)

	src, err := e.LLM.CompleteStream(streamCtx, BuildConversation(history, memories, prompt))
	if err != nil {
		cancel()
		return nil, goerr.Wrap(err, "start response")
	}

	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		defer cancel()

		failed := false
		for c := range src {
			if c.Err != nil {
				failed = true
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
		if !failed && errors.Is(streamCtx.Err(), context.DeadlineExceeded) {
			select {
			case out <- llm.Chunk{Err: goerr.Wrap(streamCtx.Err(), "response timed out")}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

// Ask answers one prompt end to end: decompose, retrieve, then stream the
// response. A failure before streaming starts is returned as an error.
func (e *Engine) Ask(ctx context.Context, history []llm.Message, prompt string) (*Turn, <-chan llm.Chunk, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, nil, ErrEmptyPrompt
	}

	turn := &Turn{ID: uuid.NewString(), Prompt: prompt}
	logger := logging.From(ctx).With("turn", turn.ID)
	ctx = logging.With(ctx, logger)

	queries, err := e.Decompose(ctx, prompt)
	if err != nil {
		return turn, nil, err
	}
	turn.Queries = queries
	logger.Debug("decomposed", "queries", queries)

	memories, err := e.Retrieve(ctx, queries, e.k)
	if err != nil {
		return turn, nil, err
	}
	turn.Memories = memories
	logger.Info("retrieved", "queries", len(queries), "memories", len(memories))

	ch, err := e.Respond(ctx, history, memories, prompt)
	if err != nil {
		return turn, nil, err
	}
	return turn, ch, nil
}

const memorizePrefix = "/memorize"

// MemorizeCommand reports whether input is a "/memorize <info>" command
// (case-insensitive) and returns the trimmed info.
func MemorizeCommand(input string) (string, bool) {
	s := strings.TrimSpace(input)
	if len(s) < len(memorizePrefix) || !strings.EqualFold(s[:len(memorizePrefix)], memorizePrefix) {
		return "", false
	}
	rest := s[len(memorizePrefix):]
	if rest != "" && !strings.ContainsRune(" \t\n\r", rune(rest[0])) {
		return "", false
	}
	return strings.TrimSpace(rest), true
}
