package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/golovatskygroup/mcp-atlas/internal/registry"
	"github.com/golovatskygroup/mcp-atlas/internal/session"
	"github.com/golovatskygroup/mcp-atlas/pkg/mcp"
)

// fakeProvider is a registry source that also executes calls locally.
type fakeProvider struct {
	base  string
	tools []mcp.Tool
	calls []mcp.CallToolParams
	run   func(name string, args json.RawMessage) *mcp.CallToolResult
}

func (f *fakeProvider) BaseURL() string { return f.base }

func (f *fakeProvider) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return f.tools, nil
}

func (f *fakeProvider) CallTool(ctx context.Context, name string, args json.RawMessage) (*mcp.CallToolResult, error) {
	f.calls = append(f.calls, mcp.CallToolParams{Name: name, Arguments: args})
	return f.run(name, args), nil
}

type fakeModel struct {
	selectMsg   openai.ChatCompletionMessage
	selectErr   error
	selectCalls int
	lastSystem  string
	lastTools   []openai.Tool

	completeOut   string
	completeErr   error
	completeCalls int
	lastPrompt    string
}

func (f *fakeModel) SelectTool(ctx context.Context, system string, transcript []openai.ChatCompletionMessage, tools []openai.Tool) (openai.ChatCompletionMessage, error) {
	f.selectCalls++
	f.lastSystem = system
	f.lastTools = tools
	return f.selectMsg, f.selectErr
}

func (f *fakeModel) Complete(ctx context.Context, prompt string) (string, error) {
	f.completeCalls++
	f.lastPrompt = prompt
	return f.completeOut, f.completeErr
}

func ticketTools() []mcp.Tool {
	return []mcp.Tool{
		{
			Name:        "create_ticket",
			Description: "Creates a new Jira ticket.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"project_key":{"type":"string"},"summary":{"type":"string"}},"required":["project_key","summary"]}`),
		},
		{
			Name:        "get_ticket_status",
			Description: "Gets the status of a ticket.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"issue_key":{"type":"string"}},"required":["issue_key"]}`),
		},
	}
}

func okResult(body string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: body}}}
}

func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: "Error: " + msg}}, IsError: true}
}

func newTestDispatcher(t *testing.T, prov *fakeProvider, model *fakeModel) *Dispatcher {
	t.Helper()
	reg := registry.New(prov)
	require.NoError(t, reg.Refresh(context.Background()))
	return New(reg, model)
}

func toolCallMsg(calls ...openai.ToolCall) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, ToolCalls: calls}
}

func fnCall(name, args string) openai.ToolCall {
	return openai.ToolCall{
		Type:     openai.ToolTypeFunction,
		Function: openai.FunctionCall{Name: name, Arguments: args},
	}
}

func TestDispatchLiteralCallSkipsModelSelection(t *testing.T) {
	prov := &fakeProvider{base: "http://jira", tools: ticketTools(), run: func(name string, args json.RawMessage) *mcp.CallToolResult {
		return okResult(`{"key":"DEMO-1","url":"http://jira/browse/DEMO-1"}`)
	}}
	model := &fakeModel{completeOut: "Created DEMO-1 for you."}
	d := newTestDispatcher(t, prov, model)
	sess := session.New()

	reply, tool, err := d.Dispatch(context.Background(), sess, `create_ticket(project_key="DEMO", summary="Fix login")`)
	require.NoError(t, err)
	require.Equal(t, "Created DEMO-1 for you.", reply)
	require.Equal(t, "create_ticket", tool)

	require.Equal(t, 0, model.selectCalls, "literal calls must not go through tool selection")
	require.Len(t, prov.calls, 1)
	require.Equal(t, "create_ticket", prov.calls[0].Name)

	var args map[string]any
	require.NoError(t, json.Unmarshal(prov.calls[0].Arguments, &args))
	require.Equal(t, "DEMO", args["project_key"])

	require.Contains(t, model.lastPrompt, "DEMO-1", "composition prompt should embed the result")

	turns := sess.Transcript()
	require.Len(t, turns, 2)
	require.Equal(t, session.RoleUser, turns[0].Role)
	require.Equal(t, session.RoleAssistant, turns[1].Role)
}

func TestDispatchFreeTextPassesThrough(t *testing.T) {
	prov := &fakeProvider{base: "http://jira", tools: ticketTools(), run: func(string, json.RawMessage) *mcp.CallToolResult {
		t.Fatal("no tool should run")
		return nil
	}}
	model := &fakeModel{selectMsg: openai.ChatCompletionMessage{Content: "Hello! How can I help?"}}
	d := newTestDispatcher(t, prov, model)

	reply, tool, err := d.Dispatch(context.Background(), session.New(), "hi there")
	require.NoError(t, err)
	require.Equal(t, "Hello! How can I help?", reply)
	require.Equal(t, "", tool, "no tool runs for plain replies")
	require.Equal(t, 0, model.completeCalls, "plain replies are not re-composed")
	require.Contains(t, model.lastSystem, "create_ticket(project_key: string, summary: string)")
	require.Len(t, model.lastTools, 2)
}

func TestDispatchModelToolCall(t *testing.T) {
	prov := &fakeProvider{base: "http://jira", tools: ticketTools(), run: func(name string, args json.RawMessage) *mcp.CallToolResult {
		return okResult(`{"key":"DEMO-7"}`)
	}}
	model := &fakeModel{
		selectMsg:   toolCallMsg(fnCall("create_ticket", `{"project_key":"DEMO","summary":"s"}`)),
		completeOut: "Done: DEMO-7.",
	}
	d := newTestDispatcher(t, prov, model)

	reply, tool, err := d.Dispatch(context.Background(), session.New(), "create a ticket in DEMO")
	require.NoError(t, err)
	require.Equal(t, "Done: DEMO-7.", reply)
	require.Equal(t, "create_ticket", tool)
	require.Len(t, prov.calls, 1)
}

func TestDispatchValidatesModelArguments(t *testing.T) {
	prov := &fakeProvider{base: "http://jira", tools: ticketTools(), run: func(string, json.RawMessage) *mcp.CallToolResult {
		t.Fatal("invalid arguments must not reach the provider")
		return nil
	}}
	model := &fakeModel{
		selectMsg:   toolCallMsg(fnCall("create_ticket", `{"summary":"missing project"}`)),
		completeOut: "The project key is missing.",
	}
	d := newTestDispatcher(t, prov, model)

	reply, _, err := d.Dispatch(context.Background(), session.New(), "make a ticket")
	require.NoError(t, err)
	require.Equal(t, "The project key is missing.", reply)
	require.Contains(t, model.lastPrompt, "Invalid arguments for create_ticket")
}

func TestDispatchUnknownToolNeverReachesProvider(t *testing.T) {
	prov := &fakeProvider{base: "http://jira", tools: ticketTools(), run: func(string, json.RawMessage) *mcp.CallToolResult {
		t.Fatal("unknown tool must not reach the provider")
		return nil
	}}
	model := &fakeModel{
		selectMsg:   toolCallMsg(fnCall("summon_dragon", `{}`)),
		completeOut: "That tool does not exist.",
	}
	d := newTestDispatcher(t, prov, model)

	reply, _, err := d.Dispatch(context.Background(), session.New(), "summon a dragon")
	require.NoError(t, err)
	require.Equal(t, "That tool does not exist.", reply)
	require.Contains(t, model.lastPrompt, "Tool 'summon_dragon' not found.")
}

func TestDispatchLastToolCallWins(t *testing.T) {
	prov := &fakeProvider{base: "http://jira", tools: ticketTools(), run: func(name string, args json.RawMessage) *mcp.CallToolResult {
		if name == "create_ticket" {
			return okResult(`{"key":"DEMO-1"}`)
		}
		return okResult(`{"key":"DEMO-1","status":"In Progress"}`)
	}}
	model := &fakeModel{
		selectMsg: toolCallMsg(
			fnCall("create_ticket", `{"project_key":"DEMO","summary":"s"}`),
			fnCall("get_ticket_status", `{"issue_key":"DEMO-1"}`),
		),
		completeOut: "DEMO-1 is In Progress.",
	}
	d := newTestDispatcher(t, prov, model)

	reply, tool, err := d.Dispatch(context.Background(), session.New(), "create and check")
	require.NoError(t, err)
	require.Equal(t, "DEMO-1 is In Progress.", reply)
	require.Equal(t, "get_ticket_status", tool)

	require.Len(t, prov.calls, 2, "every selected call runs, in order")
	require.Equal(t, "create_ticket", prov.calls[0].Name)
	require.Equal(t, "get_ticket_status", prov.calls[1].Name)
	require.Contains(t, model.lastPrompt, "get_ticket_status", "reply is composed from the last call")
	require.Contains(t, model.lastPrompt, "In Progress")
}

func TestDispatchStripsErrorPrefixFromToolFailures(t *testing.T) {
	prov := &fakeProvider{base: "http://jira", tools: ticketTools(), run: func(string, json.RawMessage) *mcp.CallToolResult {
		return errResult("No issues found for project 'EMPTY'.")
	}}
	model := &fakeModel{
		selectMsg:   toolCallMsg(fnCall("get_ticket_status", `{"issue_key":"DEMO-1"}`)),
		completeOut: "There are no issues in EMPTY.",
	}
	d := newTestDispatcher(t, prov, model)

	_, _, err := d.Dispatch(context.Background(), session.New(), "status of DEMO-1")
	require.NoError(t, err)
	require.Contains(t, model.lastPrompt, "No issues found for project 'EMPTY'.")
	require.NotContains(t, model.lastPrompt, "Error: No issues found")
}

func TestDispatchComposeFallbackOnModelFailure(t *testing.T) {
	prov := &fakeProvider{base: "http://jira", tools: ticketTools(), run: func(string, json.RawMessage) *mcp.CallToolResult {
		return okResult(`{"key":"DEMO-1"}`)
	}}
	model := &fakeModel{completeErr: errors.New("model unavailable")}
	d := newTestDispatcher(t, prov, model)

	reply, _, err := d.Dispatch(context.Background(), session.New(), `get_ticket_status(issue_key="DEMO-1")`)
	require.NoError(t, err)
	require.True(t, strings.Contains(reply, "I encountered an error generating a response"), "got %q", reply)
	require.Contains(t, reply, "key=DEMO-1", "fallback still reports the outcome")
}

func TestDispatchMalformedLiteralCallBecomesErrorPayload(t *testing.T) {
	prov := &fakeProvider{base: "http://jira", tools: ticketTools(), run: func(string, json.RawMessage) *mcp.CallToolResult {
		t.Fatal("malformed literal calls must not reach the provider")
		return nil
	}}
	model := &fakeModel{completeOut: "That call was malformed."}
	d := newTestDispatcher(t, prov, model)

	reply, tool, err := d.Dispatch(context.Background(), session.New(), "create_ticket(malformed pair)")
	require.NoError(t, err)
	require.Equal(t, "That call was malformed.", reply)
	require.Equal(t, "create_ticket", tool)
	require.Equal(t, 0, model.selectCalls, "a matched name never falls through to selection")
	require.Contains(t, model.lastPrompt, "Invalid arguments for create_ticket")
}

func TestDispatchEmptyRegistryFallsThroughToModel(t *testing.T) {
	prov := &fakeProvider{base: "http://jira", tools: nil, run: func(string, json.RawMessage) *mcp.CallToolResult {
		t.Fatal("no tool should run")
		return nil
	}}
	model := &fakeModel{selectMsg: openai.ChatCompletionMessage{Content: "I have no tools to call right now."}}
	d := newTestDispatcher(t, prov, model)

	reply, tool, err := d.Dispatch(context.Background(), session.New(), `create_ticket(project_key="DEMO", summary="s")`)
	require.NoError(t, err)
	require.Equal(t, "I have no tools to call right now.", reply)
	require.Equal(t, "", tool)
	require.Empty(t, model.lastTools)
}

func TestDispatchSelectionFailureComposesErrorReply(t *testing.T) {
	prov := &fakeProvider{base: "http://jira", tools: ticketTools(), run: func(string, json.RawMessage) *mcp.CallToolResult {
		t.Fatal("no tool should run when selection fails")
		return nil
	}}
	model := &fakeModel{
		selectErr:   errors.New("rate limited"),
		completeOut: "I could not reach the language model, please retry.",
	}
	d := newTestDispatcher(t, prov, model)
	sess := session.New()

	reply, tool, err := d.Dispatch(context.Background(), sess, "create a ticket")
	require.NoError(t, err, "selection failures stay inside the dispatch loop")
	require.Equal(t, "I could not reach the language model, please retry.", reply)
	require.Equal(t, "", tool)
	require.Contains(t, model.lastPrompt, "LLM-based tool call failed: rate limited")

	turns := sess.Transcript()
	require.Len(t, turns, 2, "the composed reply is still recorded")
	require.Equal(t, session.RoleAssistant, turns[1].Role)
}

func TestDispatchComposePromptEmbedsUtterance(t *testing.T) {
	prov := &fakeProvider{base: "http://jira", tools: ticketTools(), run: func(string, json.RawMessage) *mcp.CallToolResult {
		return okResult(`{"key":"DEMO-1"}`)
	}}
	model := &fakeModel{completeOut: "Done."}
	d := newTestDispatcher(t, prov, model)

	utterance := `get_ticket_status(issue_key="DEMO-1")`
	_, _, err := d.Dispatch(context.Background(), session.New(), utterance)
	require.NoError(t, err)
	require.Contains(t, model.lastPrompt, "User asked: "+utterance)
}

func TestDispatchComposeFallbackOnErrorPayloadNamesBothFailures(t *testing.T) {
	prov := &fakeProvider{base: "http://jira", tools: ticketTools(), run: func(string, json.RawMessage) *mcp.CallToolResult {
		return errResult("Issue 'DEMO-9' not found.")
	}}
	model := &fakeModel{completeErr: errors.New("model unavailable")}
	d := newTestDispatcher(t, prov, model)

	reply, _, err := d.Dispatch(context.Background(), session.New(), `get_ticket_status(issue_key="DEMO-9")`)
	require.NoError(t, err)
	require.Contains(t, reply, "I encountered an error generating a response: model unavailable")
	require.Contains(t, reply, "The tool 'get_ticket_status' failed: Issue 'DEMO-9' not found.")
}
