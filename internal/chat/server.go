package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/golovatskygroup/mcp-atlas/internal/dispatch"
	"github.com/golovatskygroup/mcp-atlas/internal/history"
	"github.com/golovatskygroup/mcp-atlas/internal/registry"
	"github.com/golovatskygroup/mcp-atlas/internal/session"
)

// Server is the assistant's HTTP surface: the chat page, the tool catalog
// and the chat endpoint itself.
type Server struct {
	reg      *registry.Registry
	disp     *dispatch.Dispatcher
	sessions *session.Manager
	store    *history.Store // optional
}

// NewServer wires the chat surface. store may be nil to disable persistence.
func NewServer(reg *registry.Registry, disp *dispatch.Dispatcher, sessions *session.Manager, store *history.Store) *Server {
	return &Server{reg: reg, disp: disp, sessions: sessions, store: store}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handlePage)
	mux.HandleFunc("GET /api/tools", s.handleListTools)
	mux.HandleFunc("POST /api/tools/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	return mux
}

// ListenAndServe runs the chat surface on addr until the context is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logf("assistant listening on %s", addr)
	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, chatPageHTML)
}

type toolView struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  registry.Schema `json:"parameters"`
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	tools := s.reg.List()
	if q := r.URL.Query().Get("q"); q != "" {
		tools = s.reg.Search(q, 10)
	}

	out := make([]toolView, 0, len(tools))
	for _, t := range tools {
		out = append(out, toolView{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  registry.Normalize(t),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": out})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.reg.Refresh(r.Context()); err != nil {
		logf("refresh failed: %v", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": s.reg.Count()})
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
	Tool      string `json:"tool,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "message is required"})
		return
	}

	sess := s.sessions.Get(req.SessionID)
	reply, tool, err := s.disp.Dispatch(r.Context(), sess, req.Message)
	if err != nil {
		logf("dispatch failed: %v", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
		return
	}

	s.persistTurns(r.Context(), sess)
	writeJSON(w, http.StatusOK, chatResponse{SessionID: sess.ID(), Reply: reply, Tool: tool})
}

// persistTurns stores the two turns Dispatch just appended. Persistence
// failures are logged, never surfaced: the reply already happened.
func (s *Server) persistTurns(ctx context.Context, sess *session.Session) {
	if s.store == nil {
		return
	}
	turns := sess.Recent(2)
	for _, m := range turns {
		if err := s.store.Append(ctx, sess.ID(), m); err != nil {
			logf("failed to persist turn: %v", err)
			return
		}
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "history is not enabled"})
		return
	}
	id := r.URL.Query().Get("session_id")
	if id == "" {
		ids, err := s.store.SessionIDs(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": ids})
		return
	}

	msgs, err := s.store.Messages(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "messages": msgs})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logf("failed to write response: %v", err)
	}
}

func logf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "[chat] "+format+"\n", args...)
}
