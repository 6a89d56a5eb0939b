package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lazypower/recall/internal/engine"
	"github.com/lazypower/recall/internal/llm"
	"github.com/lazypower/recall/internal/logging"
)

const blankWarning = "Please enter a command or question."

// emitFunc delivers one chat event to the client.
type emitFunc func(kind string, payload map[string]any) error

// converse handles one line of chat input, emitting events as it goes. The
// assistant's reply is returned with ok set when the model answered.
func (s *Server) converse(ctx context.Context, history []llm.Message, input string, emit emitFunc) (reply string, ok bool) {
	logger := logging.From(ctx)

	if strings.TrimSpace(input) == "" {
		emit("warning", map[string]any{"message": blankWarning})
		return "", false
	}

	if info, isCmd := engine.MemorizeCommand(input); isCmd {
		if info == "" {
			emit("warning", map[string]any{"message": "Nothing to memorize."})
			return "", false
		}
		id, err := s.engine.Memorize(ctx, info)
		if err != nil && id == 0 {
			logger.Error("memorize failed", "error", err)
			emit("error", map[string]any{"error": "could not store memory"})
			return "", false
		}
		// a stored but unindexed memory is picked up by the next sync
		emit("memorized", map[string]any{"id": id, "content": info, "indexed": err == nil, "message": "Memorized: " + info})
		return "", false
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	turn, ch, err := s.engine.Ask(ctx, history, input)
	if err != nil {
		logger.Error("chat turn failed", "error", err)
		emit("error", map[string]any{"error": turnFailed})
		return "", false
	}
	if err := emit("turn", map[string]any{"id": turn.ID, "queries": turn.Queries, "memories": turn.Memories}); err != nil {
		return "", false
	}

	var b strings.Builder
	for c := range ch {
		if c.Err != nil {
			logger.Error("chat stream failed", "turn", turn.ID, "error", c.Err)
			emit("error", map[string]any{"error": turnFailed})
			return "", false
		}
		b.WriteString(c.Delta)
		if err := emit("delta", map[string]any{"delta": c.Delta}); err != nil {
			return "", false
		}
	}

	emit("done", map[string]any{"id": turn.ID})
	return b.String(), true
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt  string        `json:"prompt"`
		History []llm.Message `json:"history"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.converse(r.Context(), req.History, req.Prompt, func(kind string, payload map[string]any) error {
		if err := writeEvent(w, kind, payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
}

// writeEvent writes one server-sent event. Deltas use the default message
// event; everything else is named.
func writeEvent(w io.Writer, kind string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if kind != "delta" {
		if _, err := fmt.Fprintf(w, "event: %s\n", kind); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
