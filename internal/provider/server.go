package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/golovatskygroup/mcp-atlas/pkg/mcp"
)

// HandlerFunc executes one named tool. Business failures must come back as
// IsError results; a non-nil error is reserved for internal faults and is
// surfaced as a JSON-RPC InternalError.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error)

// Server serves a fixed set of tools over MCP JSON-RPC on POST /mcp.
type Server struct {
	name     string
	version  string
	tools    []mcp.Tool
	handlers map[string]HandlerFunc
}

// New creates a provider server with the given identity.
func New(name, version string) *Server {
	return &Server{
		name:     name,
		version:  version,
		handlers: map[string]HandlerFunc{},
	}
}

// Register adds a tool and its handler. Registration order is the order
// descriptors are returned from tools/list.
func (s *Server) Register(tool mcp.Tool, h HandlerFunc) {
	s.tools = append(s.tools, tool)
	s.handlers[tool.Name] = h
}

// Tools returns the registered descriptors in registration order.
func (s *Server) Tools() []mcp.Tool { return s.tools }

// ServeHTTP handles a single JSON-RPC message per POST.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var req mcp.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeResponse(w, mcp.NewErrorResponse(nil, mcp.ParseError, "failed to parse message: "+err.Error()))
		return
	}

	resp := s.handleRequest(r.Context(), &req)
	if resp == nil {
		// Notification: acknowledge with no body.
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeResponse(w, resp)
}

func (s *Server) handleRequest(ctx context.Context, req *mcp.Request) *mcp.Response {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "notifications/initialized":
		return nil
	case "tools/list":
		return s.handleListTools(req)
	case "tools/call":
		return s.handleCallTool(ctx, req)
	case "ping":
		resp, _ := mcp.NewResponse(req.ID, map[string]any{})
		return resp
	default:
		return mcp.NewErrorResponse(req.ID, mcp.MethodNotFound, fmt.Sprintf("Method not found: %s", req.Method))
	}
}

func (s *Server) handleInitialize(req *mcp.Request) *mcp.Response {
	result := mcp.InitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities: mcp.ServerCapabilities{
			Tools: &mcp.ToolsCapability{ListChanged: false},
		},
		ServerInfo: mcp.ServerInfo{Name: s.name, Version: s.version},
	}
	resp, err := mcp.NewResponse(req.ID, result)
	if err != nil {
		return mcp.NewErrorResponse(req.ID, mcp.InternalError, err.Error())
	}
	return resp
}

func (s *Server) handleListTools(req *mcp.Request) *mcp.Response {
	resp, err := mcp.NewResponse(req.ID, mcp.ListToolsResult{Tools: s.tools})
	if err != nil {
		return mcp.NewErrorResponse(req.ID, mcp.InternalError, err.Error())
	}
	return resp
}

func (s *Server) handleCallTool(ctx context.Context, req *mcp.Request) *mcp.Response {
	var params mcp.CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return mcp.NewErrorResponse(req.ID, mcp.InvalidParams, "Invalid params: "+err.Error())
	}

	h, ok := s.handlers[params.Name]
	var result *mcp.CallToolResult
	var err error
	if !ok {
		result = &mcp.CallToolResult{
			Content: []mcp.ContentBlock{{Type: "text", Text: fmt.Sprintf("Tool '%s' not found.", params.Name)}},
			IsError: true,
		}
	} else {
		args := params.Arguments
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		result, err = h(ctx, args)
	}
	if err != nil {
		return mcp.NewErrorResponse(req.ID, mcp.InternalError, err.Error())
	}

	resp, err := mcp.NewResponse(req.ID, result)
	if err != nil {
		return mcp.NewErrorResponse(req.ID, mcp.InternalError, err.Error())
	}
	return resp
}

func writeResponse(w http.ResponseWriter, resp *mcp.Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logf("Error writing response: %v", err)
	}
}

// ListenAndServe runs the provider on addr until the context is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/mcp", s)

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logf("%s listening on %s", s.name, addr)
	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

func logf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "[provider] "+format+"\n", args...)
}
