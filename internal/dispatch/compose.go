package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/golovatskygroup/mcp-atlas/internal/registry"
	"github.com/golovatskygroup/mcp-atlas/pkg/mcp"
)

// buildSystemPrompt enumerates the available tools so the model knows what
// it can call and with which parameters.
func buildSystemPrompt(tools []mcp.Tool) string {
	var sb strings.Builder
	sb.WriteString("You are a helpful assistant for Jira and Confluence. ")
	sb.WriteString("Use the available tools to act on the user's request. ")
	sb.WriteString("If no tool fits, answer in plain text.\n\nAvailable tools:\n")
	for _, t := range tools {
		sb.WriteString("- " + toolDescriptor(t) + "\n")
	}
	return sb.String()
}

// toolDescriptor renders one tool as name(param: type, ...) - description.
func toolDescriptor(t mcp.Tool) string {
	schema := registry.Normalize(t)
	names := schema.PropertyNames()
	params := make([]string, 0, len(names))
	for _, name := range names {
		params = append(params, name+": "+schema.PropertyType(name))
	}
	return fmt.Sprintf("%s(%s) - %s", t.Name, strings.Join(params, ", "), t.Description)
}

// buildModelTools converts registry descriptors to the chat API tool format.
func buildModelTools(tools []mcp.Tool) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  registry.Normalize(t).JSONSchema(),
			},
		})
	}
	return out
}

// compose turns a tool payload into the user-facing reply. Error payloads
// get an explanation prompt, successful ones an acknowledgment prompt; both
// open with the utterance being answered. If composition itself fails the
// payload is reported verbatim so the outcome is never silently lost.
func (d *Dispatcher) compose(ctx context.Context, utterance string, toolName string, payload any) string {
	errMsg, isErr := errorFromPayload(payload)

	subject := fmt.Sprintf("The tool '%s'", toolName)
	if toolName == "" {
		subject = "The request"
	}

	var prompt string
	if isErr {
		prompt = fmt.Sprintf(
			"User asked: %s\n\n%s failed with this error:\n%s\n\nExplain the problem to the user in one or two sentences and suggest what to try next. Do not invent details.",
			utterance, subject, errMsg)
	} else {
		encoded, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			encoded = []byte(fmt.Sprintf("%v", payload))
		}
		prompt = fmt.Sprintf(
			"User asked: %s\n\n%s succeeded with this result:\n%s\n\nAcknowledge the outcome to the user in one or two sentences, mentioning the key facts (keys, URLs, counts). Do not invent details.",
			utterance, subject, encoded)
	}

	reply, err := d.model.Complete(ctx, prompt)
	if err != nil || strings.TrimSpace(reply) == "" {
		return fallbackReply(toolName, payload, err)
	}
	return reply
}

func errorFromPayload(payload any) (string, bool) {
	m, ok := payload.(map[string]any)
	if !ok {
		return "", false
	}
	if msg, ok := m["error"].(string); ok {
		return msg, true
	}
	return "", false
}

func fallbackReply(toolName string, payload any, composeErr error) string {
	if msg, isErr := errorFromPayload(payload); isErr {
		if composeErr != nil {
			return fmt.Sprintf("I encountered an error generating a response: %v. The tool '%s' failed: %s",
				composeErr, toolName, msg)
		}
		return fmt.Sprintf("The tool '%s' failed: %s", toolName, msg)
	}
	if composeErr != nil {
		return fmt.Sprintf("I encountered an error generating a response: %v. The tool '%s' returned: %s",
			composeErr, toolName, renderPayload(payload))
	}
	return fmt.Sprintf("The tool '%s' returned: %s", toolName, renderPayload(payload))
}

func renderPayload(payload any) string {
	m, ok := payload.(map[string]any)
	if !ok {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Sprintf("%v", payload)
		}
		return string(b)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return strings.Join(parts, ", ")
}
