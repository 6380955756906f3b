package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	openai "github.com/sashabaranov/go-openai"

	"github.com/golovatskygroup/mcp-atlas/internal/registry"
	"github.com/golovatskygroup/mcp-atlas/internal/session"
	"github.com/golovatskygroup/mcp-atlas/pkg/mcp"
)

// maxContextTurns caps how much of the transcript is replayed to the model.
const maxContextTurns = 20

// Caller executes a tool on the provider that owns it. The MCP client
// satisfies this alongside registry.Source.
type Caller interface {
	CallTool(ctx context.Context, name string, args json.RawMessage) (*mcp.CallToolResult, error)
}

// Model is the language-model surface the dispatcher needs.
type Model interface {
	SelectTool(ctx context.Context, system string, transcript []openai.ChatCompletionMessage, tools []openai.Tool) (openai.ChatCompletionMessage, error)
	Complete(ctx context.Context, prompt string) (string, error)
}

// Dispatcher turns user utterances into tool executions and composed
// replies. Utterances take one of three routes: a literal tool call is
// executed directly, free text goes through model tool selection, and a
// model reply without tool calls is passed through as-is.
type Dispatcher struct {
	reg   *registry.Registry
	model Model
}

// New creates a dispatcher over the registry and model.
func New(reg *registry.Registry, model Model) *Dispatcher {
	return &Dispatcher{reg: reg, model: model}
}

// Dispatch handles one utterance end to end: it appends the user turn,
// routes, executes, composes the reply, appends it, and returns it along
// with the name of the tool that ran ("" for plain replies).
func (d *Dispatcher) Dispatch(ctx context.Context, sess *session.Session, utterance string) (string, string, error) {
	sess.Append(session.RoleUser, utterance)

	reply, tool, err := d.route(ctx, sess, utterance)
	if err != nil {
		return "", "", err
	}

	sess.Append(session.RoleAssistant, reply)
	return reply, tool, nil
}

func (d *Dispatcher) route(ctx context.Context, sess *session.Session, utterance string) (string, string, error) {
	tools := d.reg.List()

	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	if call, ok, parseErr := ParseLiteralCall(utterance, names); ok {
		logf("literal call: %s", call.Name)
		var payload any
		if parseErr != nil {
			payload = map[string]any{"error": fmt.Sprintf("Invalid arguments for %s: %s", call.Name, parseErr)}
		} else {
			payload = d.execute(ctx, call.Name, call.Args)
		}
		return d.compose(ctx, utterance, call.Name, payload), call.Name, nil
	}

	msg, err := d.model.SelectTool(ctx, buildSystemPrompt(tools), d.contextMessages(sess), buildModelTools(tools))
	if err != nil {
		// Selection failures stay inside the dispatch loop: the failure is
		// composed into the reply like any other tool error.
		logf("tool selection failed: %v", err)
		payload := map[string]any{"error": fmt.Sprintf("LLM-based tool call failed: %v", err)}
		return d.compose(ctx, utterance, "", payload), "", nil
	}

	if len(msg.ToolCalls) == 0 {
		return msg.Content, "", nil
	}

	// Several tool calls in one reply are executed in order; the reply is
	// composed from the last result.
	var payload any
	var toolName string
	for _, tc := range msg.ToolCalls {
		if tc.Type != openai.ToolTypeFunction {
			continue
		}
		toolName = tc.Function.Name
		logf("model selected tool: %s", toolName)
		payload = d.executeModelCall(ctx, tc.Function.Name, tc.Function.Arguments)
	}
	if toolName == "" {
		return msg.Content, "", nil
	}
	return d.compose(ctx, utterance, toolName, payload), toolName, nil
}

// contextMessages replays the transcript up to but not including the current
// utterance turn, then the utterance itself, capped to the most recent turns.
func (d *Dispatcher) contextMessages(sess *session.Session) []openai.ChatCompletionMessage {
	turns := sess.Recent(maxContextTurns)
	out := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, m := range turns {
		role := openai.ChatMessageRoleUser
		if m.Role == session.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

// executeModelCall validates model-produced arguments before execution.
// Unknown tool names never reach a provider.
func (d *Dispatcher) executeModelCall(ctx context.Context, name string, rawArgs string) any {
	args := json.RawMessage(rawArgs)
	if strings.TrimSpace(rawArgs) == "" {
		args = json.RawMessage(`{}`)
	}

	tool, ok := d.reg.Get(name)
	if !ok {
		return map[string]any{"error": fmt.Sprintf("Tool '%s' not found.", name)}
	}
	if err := validateArgs(registry.Normalize(tool).JSONSchema(), args); err != nil {
		return map[string]any{"error": fmt.Sprintf("Invalid arguments for %s: %s", name, err)}
	}
	return d.execute(ctx, name, args)
}

// execute routes the call to the owning provider and flattens the result
// into a payload: the parsed JSON body on success, {"error": msg} otherwise.
func (d *Dispatcher) execute(ctx context.Context, name string, args json.RawMessage) any {
	src, ok := d.reg.Owner(name)
	if !ok {
		return map[string]any{"error": fmt.Sprintf("Tool '%s' not found.", name)}
	}
	caller, ok := src.(Caller)
	if !ok {
		return map[string]any{"error": fmt.Sprintf("Provider for '%s' cannot execute tools.", name)}
	}

	res, err := caller.CallTool(ctx, name, args)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	return payloadFromResult(res)
}

func payloadFromResult(res *mcp.CallToolResult) any {
	text := ""
	if len(res.Content) > 0 {
		text = res.Content[0].Text
	}
	if res.IsError {
		return map[string]any{"error": strings.TrimPrefix(text, "Error: ")}
	}

	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return map[string]any{"message": text}
	}
	return v
}

func validateArgs(schemaDoc json.RawMessage, args json.RawMessage) error {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("args.json", bytes.NewReader(schemaDoc)); err != nil {
		return err
	}
	sch, err := c.Compile("args.json")
	if err != nil {
		return err
	}

	var v any
	if err := json.Unmarshal(args, &v); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	return sch.Validate(v)
}

func logf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "[dispatch] "+format+"\n", args...)
}
