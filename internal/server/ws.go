package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/lazypower/recall/internal/llm"
	"github.com/lazypower/recall/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleWebsocket runs an interactive chat over one socket. The conversation
// history lives as long as the connection.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	logger := logging.From(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	emit := func(kind string, payload map[string]any) error {
		payload["type"] = kind
		return conn.WriteJSON(payload)
	}

	var history []llm.Message
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket closed", "error", err)
			}
			return
		}

		var msg struct {
			Prompt string `json:"prompt"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			if err := emit("error", map[string]any{"error": "invalid json"}); err != nil {
				return
			}
			continue
		}

		reply, ok := s.converse(r.Context(), history, msg.Prompt, emit)
		if ok {
			history = append(history, llm.User(strings.TrimSpace(msg.Prompt)), llm.Assistant(reply))
		}
	}
}
