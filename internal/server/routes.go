package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/lazypower/recall/internal/engine"
	"github.com/lazypower/recall/internal/logging"
	"github.com/lazypower/recall/internal/store"
)

const turnFailed = "could not complete request"

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	memories, err := s.engine.Store.ListAll(r.Context())
	if err != nil {
		logging.From(r.Context()).Error("list memories failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list memories")
		return
	}
	if memories == nil {
		memories = []store.Memory{}
	}
	writeJSON(w, http.StatusOK, memories)
}

func (s *Server) handleMemorize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	id, err := s.engine.Memorize(r.Context(), req.Content)
	switch {
	case errors.Is(err, engine.ErrEmptyContent):
		writeError(w, http.StatusBadRequest, "content required")
	case err != nil && id > 0:
		// stored, indexed on the next sync
		logging.From(r.Context()).Warn("memorize: index write failed", "id", id, "error", err)
		writeJSON(w, http.StatusCreated, map[string]any{"id": id, "indexed": false})
	case err != nil:
		logging.From(r.Context()).Error("memorize failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not store memory")
	default:
		writeJSON(w, http.StatusCreated, map[string]any{"id": id, "indexed": true})
	}
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Synchronize(r.Context())
	if err != nil {
		logging.From(r.Context()).Error("sync failed", "error", err)
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleDecompose(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt required")
		return
	}

	queries, err := s.engine.Decompose(r.Context(), prompt)
	if err != nil {
		logging.From(r.Context()).Error("decompose failed", "error", err)
		writeError(w, http.StatusBadGateway, turnFailed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queries": queries})
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Queries []string `json:"queries"`
		K       int      `json:"k"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	var queries []string
	for _, q := range req.Queries {
		if q = strings.TrimSpace(q); q != "" {
			queries = append(queries, q)
		}
	}
	if len(queries) == 0 {
		writeError(w, http.StatusBadRequest, "queries required")
		return
	}

	memories, err := s.engine.Retrieve(r.Context(), queries, req.K)
	if err != nil {
		logging.From(r.Context()).Error("retrieve failed", "error", err)
		writeError(w, http.StatusBadGateway, turnFailed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": memories})
}
