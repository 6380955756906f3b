package tools

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golovatskygroup/mcp-atlas/internal/httpcache"
	"github.com/golovatskygroup/mcp-atlas/internal/provider"
	"github.com/golovatskygroup/mcp-atlas/pkg/mcp"
)

type jiraClient struct {
	baseURL    string
	apiVersion int
	authHeader string
	c          *http.Client
}

var errJiraHTMLOrRedirect = errors.New("jira api returned html/redirect (likely login page)")

func isJiraCloudBaseURL(baseURL string) bool {
	u := strings.ToLower(strings.TrimSpace(baseURL))
	return strings.Contains(u, ".atlassian.net")
}

func looksLikeHTML(b []byte) bool {
	s := strings.TrimSpace(strings.ToLower(string(b)))
	if s == "" {
		return false
	}
	return strings.HasPrefix(s, "<!doctype html") || strings.HasPrefix(s, "<html") || (strings.Contains(s, "<html") && strings.Contains(s, "<body"))
}

// newJiraClientFromEnv resolves the Jira connection from the environment.
// Missing base URL or auth is a configuration error and fatal for the
// provider; nothing is retried later.
func newJiraClientFromEnv() (*jiraClient, error) {
	baseURL := strings.TrimSpace(os.Getenv("JIRA_BASE_URL"))
	if baseURL == "" {
		return nil, fmt.Errorf("missing Jira base URL: set JIRA_BASE_URL")
	}
	baseURL = strings.TrimRight(baseURL, "/")

	apiVersion := 0
	if v := strings.TrimSpace(os.Getenv("JIRA_API_VERSION")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			apiVersion = n
		}
	}
	if apiVersion == 0 {
		// v3 for Jira Cloud; v2 for Server/Data Center, where /rest/api/3
		// commonly redirects to a login page.
		if isJiraCloudBaseURL(baseURL) {
			apiVersion = 3
		} else {
			apiVersion = 2
		}
	}
	if apiVersion != 2 && apiVersion != 3 {
		return nil, fmt.Errorf("JIRA_API_VERSION must be 2 or 3")
	}

	authHeader := ""
	if pat := strings.TrimSpace(os.Getenv("JIRA_PAT")); pat != "" {
		authHeader = "Bearer " + pat
	} else {
		email := strings.TrimSpace(os.Getenv("JIRA_EMAIL"))
		apiToken := strings.TrimSpace(os.Getenv("JIRA_API_TOKEN"))
		if email == "" || apiToken == "" {
			return nil, fmt.Errorf("missing Jira auth: set JIRA_PAT (Data Center/Server) or JIRA_EMAIL + JIRA_API_TOKEN (Cloud)")
		}
		authHeader = "Basic " + base64.StdEncoding.EncodeToString([]byte(email+":"+apiToken))
	}

	return &jiraClient{
		baseURL:    baseURL,
		apiVersion: apiVersion,
		authHeader: authHeader,
		c: &http.Client{
			Timeout:   30 * time.Second,
			Transport: httpcache.NewTransportFromEnv(nil),
			// Jira DC commonly redirects API paths to login pages.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

func (j *jiraClient) apiBase() string {
	return j.baseURL + "/rest/api/" + strconv.Itoa(j.apiVersion)
}

func (j *jiraClient) do(ctx context.Context, method string, apiPath string, query url.Values, body []byte) (int, []byte, error) {
	u := j.apiBase() + apiPath
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("User-Agent", "mcp-atlas")
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if j.authHeader != "" {
		req.Header.Set("Authorization", j.authHeader)
	}

	resp, err := j.c.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		return resp.StatusCode, b, errJiraHTMLOrRedirect
	}
	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "text/html") || looksLikeHTML(b) {
		return resp.StatusCode, b, errJiraHTMLOrRedirect
	}
	return resp.StatusCode, b, nil
}

func jiraAuthHint(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "Jira API returned 401. Check JIRA_EMAIL + JIRA_API_TOKEN (Cloud) or JIRA_PAT (DC/Server)."
	case http.StatusForbidden:
		return "Jira API returned 403. Likely missing permissions for this user."
	case http.StatusNotFound:
		return "Jira API returned 404. The issue or project may not exist, or your user lacks access."
	case http.StatusTooManyRequests:
		return "Jira API returned 429 (rate limited). Retry later."
	default:
		return ""
	}
}

func jiraAPIError(status int, body []byte) string {
	msg := fmt.Sprintf("Jira API error (%d): %s", status, strings.TrimSpace(string(body)))
	if hint := jiraAuthHint(status); hint != "" {
		msg += "\n" + hint
	}
	return msg
}

func jiraADFDocFromText(text string) map[string]any {
	return map[string]any{
		"type":    "doc",
		"version": 1,
		"content": []any{
			map[string]any{
				"type": "paragraph",
				"content": []any{
					map[string]any{"type": "text", "text": text},
				},
			},
		},
	}
}

// --- Tool inputs ---

type createTicketInput struct {
	ProjectKey  string `json:"project_key"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	IssueType   string `json:"issue_type,omitempty"`
}

type projectStatusInput struct {
	ProjectKey string `json:"project_key"`
}

type ticketKeyInput struct {
	IssueKey string `json:"issue_key"`
}

// JiraHandler executes the ticket-tracker tools against the Jira REST API.
// Tool operations never return a Go error for business failures: every
// backend problem becomes an IsError result.
type JiraHandler struct {
	cl *jiraClient
}

// NewJiraHandler builds the handler, failing fast on missing configuration.
func NewJiraHandler() (*JiraHandler, error) {
	cl, err := newJiraClientFromEnv()
	if err != nil {
		return nil, err
	}
	return &JiraHandler{cl: cl}, nil
}

// newJiraHandlerForTest wires a handler at an arbitrary base URL.
func newJiraHandlerForTest(baseURL string, apiVersion int) *JiraHandler {
	return &JiraHandler{cl: &jiraClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiVersion: apiVersion,
		authHeader: "Basic dGVzdDp0ZXN0",
		c:          &http.Client{Timeout: 10 * time.Second},
	}}
}

// Register adds the ticket-tracker tools to a provider server.
func (h *JiraHandler) Register(s *provider.Server) {
	s.Register(mcp.Tool{
		Name:        "create_ticket",
		Description: "Creates a new Jira ticket with a project key, summary and description. issue_type defaults to 'Story'.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"project_key": {"type": "string", "description": "The project key (e.g., 'TEST')"},
				"summary": {"type": "string", "description": "The summary/title of the new ticket"},
				"description": {"type": "string", "description": "A detailed description for the ticket"},
				"issue_type": {"type": "string", "description": "Issue type (e.g., 'Story', 'Task', 'Bug', 'Epic'). Defaults to 'Story'."}
			},
			"required": ["project_key", "summary", "description"]
		}`),
	}, h.createTicket)

	s.Register(mcp.Tool{
		Name:        "get_project_status",
		Description: "Returns a summary of a Jira project's status: issue counts by type and by status.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"project_key": {"type": "string", "description": "The project key (e.g., 'TEST')"}
			},
			"required": ["project_key"]
		}`),
	}, h.getProjectStatus)

	s.Register(mcp.Tool{
		Name:        "get_ticket_status",
		Description: "Gets the current status of a single Jira ticket.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"issue_key": {"type": "string", "description": "Jira issue key (e.g., DEMO-101)"}
			},
			"required": ["issue_key"]
		}`),
	}, h.getTicketStatus)

	s.Register(mcp.Tool{
		Name:        "delete_ticket",
		Description: "Deletes a Jira ticket. This action is irreversible.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"issue_key": {"type": "string", "description": "The key of the ticket to delete (e.g., DEMO-101)"}
			},
			"required": ["issue_key"]
		}`),
	}, h.deleteTicket)
}

func (h *JiraHandler) createTicket(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
	var in createTicketInput
	if err := json.Unmarshal(args, &in); err != nil {
		return errorResult("Invalid input: " + err.Error()), nil
	}
	if strings.TrimSpace(in.ProjectKey) == "" {
		return errorResult("project_key is required"), nil
	}
	if strings.TrimSpace(in.Summary) == "" {
		return errorResult("summary is required"), nil
	}
	issueType := strings.TrimSpace(in.IssueType)
	if issueType == "" {
		issueType = "Story"
	}

	var description any = in.Description
	if h.cl.apiVersion == 3 {
		description = jiraADFDocFromText(in.Description)
	}
	payload := map[string]any{
		"fields": map[string]any{
			"project":     map[string]any{"key": in.ProjectKey},
			"summary":     in.Summary,
			"description": description,
			"issuetype":   map[string]any{"name": issueType},
		},
	}
	b, _ := json.Marshal(payload)

	status, body, err := h.cl.do(ctx, http.MethodPost, "/issue", nil, b)
	if err != nil {
		if errors.Is(err, errJiraHTMLOrRedirect) {
			return errorResult(fmt.Sprintf("Jira API returned HTML/redirect (likely login). status=%d", status)), nil
		}
		return errorResult(err.Error()), nil
	}
	if status < 200 || status >= 300 {
		msg := jiraAPIError(status, body)
		if bytes.Contains(body, []byte("issue type")) {
			msg += "\nThe issue type may not be available in the specified project."
		}
		return errorResult(msg), nil
	}

	var created struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(body, &created); err != nil || created.Key == "" {
		return errorResult("Jira API returned an unexpected create response: " + strings.TrimSpace(string(body))), nil
	}
	return jsonResult(map[string]any{
		"key": created.Key,
		"url": h.cl.baseURL + "/browse/" + created.Key,
	}), nil
}

func (h *JiraHandler) getProjectStatus(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
	var in projectStatusInput
	if err := json.Unmarshal(args, &in); err != nil {
		return errorResult("Invalid input: " + err.Error()), nil
	}
	if strings.TrimSpace(in.ProjectKey) == "" {
		return errorResult("project_key is required"), nil
	}

	issues, errMsg := h.searchProjectIssues(ctx, in.ProjectKey, 100)
	if errMsg != "" {
		return errorResult(errMsg), nil
	}

	statusCounts := map[string]int{}
	typeCounts := map[string]int{}
	for _, iss := range issues {
		statusCounts[iss.Status]++
		typeCounts[iss.IssueType]++
	}

	return jsonResult(map[string]any{
		"project_key":   in.ProjectKey,
		"total_issues":  len(issues),
		"status_counts": statusCounts,
		"type_counts":   typeCounts,
	}), nil
}

func (h *JiraHandler) getTicketStatus(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
	var in ticketKeyInput
	if err := json.Unmarshal(args, &in); err != nil {
		return errorResult("Invalid input: " + err.Error()), nil
	}
	if strings.TrimSpace(in.IssueKey) == "" {
		return errorResult("issue_key is required"), nil
	}

	q := url.Values{}
	q.Set("fields", "summary,status")
	status, body, err := h.cl.do(ctx, http.MethodGet, "/issue/"+url.PathEscape(in.IssueKey), q, nil)
	if err != nil {
		if errors.Is(err, errJiraHTMLOrRedirect) {
			return errorResult(fmt.Sprintf("Jira API returned HTML/redirect (likely login). status=%d", status)), nil
		}
		return errorResult(err.Error()), nil
	}
	if status < 200 || status >= 300 {
		return errorResult(fmt.Sprintf("Failed to retrieve ticket %s: %s", in.IssueKey, jiraAPIError(status, body))), nil
	}

	var issue struct {
		Key    string `json:"key"`
		Fields struct {
			Summary string `json:"summary"`
			Status  struct {
				Name string `json:"name"`
			} `json:"status"`
		} `json:"fields"`
	}
	if err := json.Unmarshal(body, &issue); err != nil {
		return errorResult("Jira API returned an unexpected issue response: " + err.Error()), nil
	}
	return jsonResult(map[string]any{
		"key":     issue.Key,
		"summary": issue.Fields.Summary,
		"status":  issue.Fields.Status.Name,
	}), nil
}

func (h *JiraHandler) deleteTicket(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
	var in ticketKeyInput
	if err := json.Unmarshal(args, &in); err != nil {
		return errorResult("Invalid input: " + err.Error()), nil
	}
	if strings.TrimSpace(in.IssueKey) == "" {
		return errorResult("issue_key is required"), nil
	}

	status, body, err := h.cl.do(ctx, http.MethodDelete, "/issue/"+url.PathEscape(in.IssueKey), nil, nil)
	if err != nil {
		if errors.Is(err, errJiraHTMLOrRedirect) {
			return errorResult(fmt.Sprintf("Jira API returned HTML/redirect (likely login). status=%d", status)), nil
		}
		return errorResult(err.Error()), nil
	}
	if status < 200 || status >= 300 {
		return errorResult(fmt.Sprintf("Failed to delete ticket %s: %s", in.IssueKey, jiraAPIError(status, body))), nil
	}
	return jsonResult(map[string]any{
		"success": true,
		"message": fmt.Sprintf("Ticket %s has been deleted.", in.IssueKey),
	}), nil
}

type jiraIssue struct {
	Key       string
	Summary   string
	Status    string
	IssueType string
	Assignee  string
}

// searchProjectIssues runs the project JQL query and flattens the result.
// An empty project is reported as an error message, matching the tool
// contract ({error} payload, not an empty report).
func (h *JiraHandler) searchProjectIssues(ctx context.Context, projectKey string, maxResults int) ([]jiraIssue, string) {
	q := url.Values{}
	q.Set("jql", fmt.Sprintf("project = %q ORDER BY created DESC", projectKey))
	q.Set("maxResults", strconv.Itoa(maxResults))
	q.Set("fields", "summary,status,issuetype,assignee")

	status, body, err := h.cl.do(ctx, http.MethodGet, "/search", q, nil)
	if err != nil {
		if errors.Is(err, errJiraHTMLOrRedirect) {
			return nil, fmt.Sprintf("Jira API returned HTML/redirect (likely login). status=%d", status)
		}
		return nil, err.Error()
	}
	if status < 200 || status >= 300 {
		if status == http.StatusBadRequest || status == http.StatusNotFound {
			return nil, fmt.Sprintf("The project with key '%s' does not exist or you do not have permission to view it.", projectKey)
		}
		return nil, fmt.Sprintf("Failed to fetch project status for '%s': %s", projectKey, jiraAPIError(status, body))
	}

	var parsed struct {
		Issues []struct {
			Key    string `json:"key"`
			Fields struct {
				Summary string `json:"summary"`
				Status  struct {
					Name string `json:"name"`
				} `json:"status"`
				IssueType struct {
					Name string `json:"name"`
				} `json:"issuetype"`
				Assignee *struct {
					DisplayName string `json:"displayName"`
				} `json:"assignee"`
			} `json:"fields"`
		} `json:"issues"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, "Jira API returned an unexpected search response: " + err.Error()
	}
	if len(parsed.Issues) == 0 {
		return nil, fmt.Sprintf("No issues found for project '%s'.", projectKey)
	}

	out := make([]jiraIssue, 0, len(parsed.Issues))
	for _, iss := range parsed.Issues {
		assignee := "Unassigned"
		if iss.Fields.Assignee != nil && iss.Fields.Assignee.DisplayName != "" {
			assignee = iss.Fields.Assignee.DisplayName
		}
		out = append(out, jiraIssue{
			Key:       iss.Key,
			Summary:   iss.Fields.Summary,
			Status:    iss.Fields.Status.Name,
			IssueType: iss.Fields.IssueType.Name,
			Assignee:  assignee,
		})
	}
	return out, ""
}
