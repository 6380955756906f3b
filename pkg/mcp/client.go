package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Client talks JSON-RPC to a single MCP provider over HTTP. Every request is
// a POST to <base>/mcp; the handshake is performed lazily before the first
// tools call.
type Client struct {
	baseURL string
	name    string
	c       *http.Client

	nextID atomic.Int64

	initialized bool
	initMu      sync.Mutex
}

// NewClient creates a client for a provider at the given base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		c:       &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the provider base URL this client is bound to.
func (cl *Client) BaseURL() string { return cl.baseURL }

// ServerName returns the provider's self-reported name after Initialize.
func (cl *Client) ServerName() string { return cl.name }

// Initialize performs the MCP handshake once per client.
func (cl *Client) Initialize(ctx context.Context) error {
	cl.initMu.Lock()
	defer cl.initMu.Unlock()

	if cl.initialized {
		return nil
	}

	params := InitializeParams{
		ProtocolVersion: "2024-11-05",
		Capabilities:    ClientCapability{},
		ClientInfo: ClientInfo{
			Name:    "mcp-atlas",
			Version: "1.0.0",
		},
	}

	resp, err := cl.call(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("initialize failed: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("initialize error: %s", resp.Error.Message)
	}

	var result InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("failed to parse initialize result: %w", err)
	}
	cl.name = result.ServerInfo.Name

	if err := cl.notify(ctx, "notifications/initialized"); err != nil {
		return fmt.Errorf("initialized notification failed: %w", err)
	}

	cl.initialized = true
	return nil
}

// ListTools fetches the provider's tool descriptors.
func (cl *Client) ListTools(ctx context.Context) ([]Tool, error) {
	if err := cl.Initialize(ctx); err != nil {
		return nil, err
	}

	resp, err := cl.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("list tools error: %s", resp.Error.Message)
	}

	var result ListToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to parse tools: %w", err)
	}
	return result.Tools, nil
}

// CallTool executes a named tool on the provider. JSON-RPC level errors are
// converted to IsError results so callers only branch on the result payload.
func (cl *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (*CallToolResult, error) {
	if err := cl.Initialize(ctx); err != nil {
		return nil, err
	}

	params := CallToolParams{Name: name, Arguments: args}
	resp, err := cl.call(ctx, "tools/call", params)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return &CallToolResult{
			Content: []ContentBlock{{Type: "text", Text: fmt.Sprintf("Error: %s", resp.Error.Message)}},
			IsError: true,
		}, nil
	}

	var result CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to parse result: %w", err)
	}
	return &result, nil
}

func (cl *Client) call(ctx context.Context, method string, params any) (*Response, error) {
	id := cl.nextID.Add(1)

	var paramsData json.RawMessage
	if params != nil {
		var err error
		paramsData, err = json.Marshal(params)
		if err != nil {
			return nil, err
		}
	}

	req := Request{JSONRPC: "2.0", ID: id, Method: method, Params: paramsData}
	body, err := cl.post(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &resp, nil
}

func (cl *Client) notify(ctx context.Context, method string) error {
	notif := Notification{JSONRPC: "2.0", Method: method}
	_, err := cl.post(ctx, notif)
	return err
}

func (cl *Client) post(ctx context.Context, msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cl.baseURL+"/mcp", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := cl.c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
