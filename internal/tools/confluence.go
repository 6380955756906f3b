package tools

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golovatskygroup/mcp-atlas/internal/httpcache"
	"github.com/golovatskygroup/mcp-atlas/internal/provider"
	"github.com/golovatskygroup/mcp-atlas/pkg/mcp"
)

type confluenceClient struct {
	baseURL    string
	authHeader string
	c          *http.Client
}

func isConfluenceCloudBaseURL(baseURL string) bool {
	return strings.Contains(strings.ToLower(strings.TrimSpace(baseURL)), ".atlassian.net")
}

// newConfluenceClientFromEnv resolves the Confluence connection from the
// environment. Missing configuration is fatal for the provider.
func newConfluenceClientFromEnv() (*confluenceClient, error) {
	baseURL := strings.TrimSpace(os.Getenv("CONFLUENCE_BASE_URL"))
	if baseURL == "" {
		return nil, fmt.Errorf("missing Confluence base URL: set CONFLUENCE_BASE_URL")
	}
	baseURL = strings.TrimRight(baseURL, "/")
	// Cloud site API base lives under /wiki.
	if isConfluenceCloudBaseURL(baseURL) && !strings.HasSuffix(strings.ToLower(baseURL), "/wiki") {
		baseURL += "/wiki"
	}

	authHeader := ""
	if pat := strings.TrimSpace(os.Getenv("CONFLUENCE_PAT")); pat != "" {
		authHeader = "Bearer " + pat
	} else {
		email := strings.TrimSpace(os.Getenv("CONFLUENCE_EMAIL"))
		apiToken := strings.TrimSpace(os.Getenv("CONFLUENCE_API_TOKEN"))
		if email == "" || apiToken == "" {
			return nil, fmt.Errorf("missing Confluence auth: set CONFLUENCE_PAT, or CONFLUENCE_EMAIL + CONFLUENCE_API_TOKEN")
		}
		authHeader = "Basic " + base64.StdEncoding.EncodeToString([]byte(email+":"+apiToken))
	}

	return &confluenceClient{
		baseURL:    baseURL,
		authHeader: authHeader,
		c: &http.Client{
			Timeout:   30 * time.Second,
			Transport: httpcache.NewTransportFromEnv(nil),
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

func (c *confluenceClient) do(ctx context.Context, method string, apiPath string, body []byte) (int, []byte, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/rest/api"+apiPath, r)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("User-Agent", "mcp-atlas")
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authHeader != "" {
		req.Header.Set("Authorization", c.authHeader)
	}

	resp, err := c.c.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	if looksLikeHTML(b) {
		return resp.StatusCode, b, fmt.Errorf("confluence api returned html/redirect (likely login page)")
	}
	return resp.StatusCode, b, nil
}

type createReportInput struct {
	PageTitle          string `json:"page_title"`
	ConfluenceSpaceKey string `json:"confluence_space_key"`
	JiraProjectKey     string `json:"jira_project_key"`
}

// ConfluenceHandler executes the wiki tools. The report tool reads Jira
// directly, so the provider needs both backends configured.
type ConfluenceHandler struct {
	cl   *confluenceClient
	jira *JiraHandler
}

// NewConfluenceHandler builds the handler, failing fast when either the
// Confluence or the Jira side is unconfigured.
func NewConfluenceHandler() (*ConfluenceHandler, error) {
	cl, err := newConfluenceClientFromEnv()
	if err != nil {
		return nil, err
	}
	jira, err := NewJiraHandler()
	if err != nil {
		return nil, fmt.Errorf("confluence report needs Jira access: %w", err)
	}
	return &ConfluenceHandler{cl: cl, jira: jira}, nil
}

// newConfluenceHandlerForTest wires a handler against arbitrary base URLs.
func newConfluenceHandlerForTest(baseURL string, jira *JiraHandler) *ConfluenceHandler {
	return &ConfluenceHandler{
		cl: &confluenceClient{
			baseURL:    strings.TrimRight(baseURL, "/"),
			authHeader: "Basic dGVzdDp0ZXN0",
			c:          &http.Client{Timeout: 10 * time.Second},
		},
		jira: jira,
	}
}

// Register adds the wiki tools to a provider server.
func (h *ConfluenceHandler) Register(s *provider.Server) {
	s.Register(mcp.Tool{
		Name:        "create_confluence_report",
		Description: "Creates a new Confluence page with a Jira project status report.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"page_title": {"type": "string", "description": "Title of the page (e.g., 'PROJECT STATUS REPORT')"},
				"confluence_space_key": {"type": "string", "description": "The key of the Confluence space (e.g., 'SPACE')"},
				"jira_project_key": {"type": "string", "description": "The key of the Jira project (e.g., 'PROJ')"}
			},
			"required": ["page_title", "confluence_space_key", "jira_project_key"]
		}`),
	}, h.createReport)
}

func (h *ConfluenceHandler) createReport(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
	var in createReportInput
	if err := json.Unmarshal(args, &in); err != nil {
		return errorResult("Invalid input: " + err.Error()), nil
	}
	if strings.TrimSpace(in.PageTitle) == "" {
		return errorResult("page_title is required"), nil
	}
	if strings.TrimSpace(in.ConfluenceSpaceKey) == "" {
		return errorResult("confluence_space_key is required"), nil
	}
	if strings.TrimSpace(in.JiraProjectKey) == "" {
		return errorResult("jira_project_key is required"), nil
	}

	// Step 1: fetch the Jira report. On failure the error is returned
	// unchanged and no page creation is attempted.
	issues, errMsg := h.jira.searchProjectIssues(ctx, in.JiraProjectKey, 50)
	if errMsg != "" {
		return errorResult(errMsg), nil
	}

	// Step 2: render the status table.
	body := renderReportHTML(in.JiraProjectKey, h.jira.cl.baseURL, issues)

	// Step 3: create the page (storage representation renders the HTML).
	payload := map[string]any{
		"type":  "page",
		"title": in.PageTitle,
		"space": map[string]any{"key": in.ConfluenceSpaceKey},
		"body": map[string]any{
			"storage": map[string]any{
				"value":          body,
				"representation": "storage",
			},
		},
	}
	b, _ := json.Marshal(payload)

	status, respBody, err := h.cl.do(ctx, http.MethodPost, "/content", b)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if status < 200 || status >= 300 {
		return errorResult(fmt.Sprintf("Confluence API error (%d): %s", status, strings.TrimSpace(string(respBody)))), nil
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &created); err != nil || created.ID == "" {
		return errorResult("Failed to create Confluence page. Check permissions and space key."), nil
	}

	return jsonResult(map[string]any{
		"page_title": in.PageTitle,
		"page_url":   fmt.Sprintf("%s/spaces/%s/pages/%s", h.cl.baseURL, in.ConfluenceSpaceKey, created.ID),
		"message":    "Confluence page created successfully.",
	}), nil
}

func renderReportHTML(projectKey string, jiraBaseURL string, issues []jiraIssue) string {
	var sb strings.Builder
	sb.WriteString("<h2>Jira Project Status Report: " + html.EscapeString(projectKey) + "</h2>")
	sb.WriteString("<table border='1' cellpadding='5' cellspacing='0' style='width: 100%; border-collapse: collapse;'>")
	sb.WriteString("<thead><tr><th>Issue Key</th><th>Summary</th><th>Status</th><th>Assignee</th></tr></thead>")
	sb.WriteString("<tbody>")
	for _, iss := range issues {
		sb.WriteString("<tr>")
		sb.WriteString(fmt.Sprintf("<td><a href='%s/browse/%s'>%s</a></td>",
			jiraBaseURL, html.EscapeString(iss.Key), html.EscapeString(iss.Key)))
		sb.WriteString("<td>" + html.EscapeString(iss.Summary) + "</td>")
		sb.WriteString("<td>" + html.EscapeString(iss.Status) + "</td>")
		sb.WriteString("<td>" + html.EscapeString(iss.Assignee) + "</td>")
		sb.WriteString("</tr>")
	}
	sb.WriteString("</tbody></table>")
	return sb.String()
}
