package llm

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const defaultModel = "gpt-4o-mini"

// Config holds the chat-model connection settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// ConfigFromEnv reads the model settings. A missing API key is a
// configuration error: the assistant cannot route without a model.
func ConfigFromEnv() (Config, error) {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return Config{}, fmt.Errorf("missing model API key: set OPENAI_API_KEY")
	}

	cfg := Config{
		APIKey:  apiKey,
		BaseURL: strings.TrimSpace(os.Getenv("MCP_ATLAS_LLM_BASE_URL")),
		Model:   strings.TrimSpace(os.Getenv("MCP_ATLAS_LLM_MODEL")),
		Timeout: 60 * time.Second,
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if v := strings.TrimSpace(os.Getenv("MCP_ATLAS_LLM_TIMEOUT_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Timeout = time.Duration(n) * time.Second
		}
	}
	return cfg, nil
}

// Client is a thin wrapper over the OpenAI chat API carrying the model name.
type Client struct {
	api   *openai.Client
	model string
}

// New builds a client from config. BaseURL overrides the default endpoint,
// which makes the client usable against compatible gateways and test fakes.
func New(cfg Config) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	apiCfg.HTTPClient = &http.Client{Timeout: timeout}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &Client{api: openai.NewClientWithConfig(apiCfg), model: model}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// SelectTool asks the model to pick tools for the conversation. The returned
// message carries either plain content, tool calls, or both; the caller
// decides what to do with each.
func (c *Client) SelectTool(ctx context.Context, system string, transcript []openai.ChatCompletionMessage, tools []openai.Tool) (openai.ChatCompletionMessage, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(transcript)+1)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	msgs = append(msgs, transcript...)

	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: msgs,
	}
	if len(tools) > 0 {
		req.Tools = tools
		req.ToolChoice = "auto"
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return openai.ChatCompletionMessage{}, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return openai.ChatCompletionMessage{}, fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message, nil
}

// Complete runs a single-prompt completion and returns the text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
