package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/golovatskygroup/mcp-atlas/pkg/mcp"
)

type fakeSource struct {
	base  string
	tools []mcp.Tool
	err   error
}

func (f *fakeSource) BaseURL() string { return f.base }

func (f *fakeSource) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return f.tools, f.err
}

func TestRefreshAggregatesInProviderOrder(t *testing.T) {
	jira := &fakeSource{base: "http://127.0.0.1:8000", tools: []mcp.Tool{
		{Name: "create_ticket"}, {Name: "get_project_status"},
	}}
	wiki := &fakeSource{base: "http://127.0.0.1:8001", tools: []mcp.Tool{
		{Name: "create_confluence_report"},
	}}

	r := New(jira, wiki)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	got := r.List()
	want := []string{"create_ticket", "get_project_status", "create_confluence_report"}
	if len(got) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(got))
	}
	for i, name := range want {
		if got[i].Name != name {
			t.Fatalf("order mismatch at %d: got %s want %s", i, got[i].Name, name)
		}
	}

	if src, ok := r.Owner("create_confluence_report"); !ok || src != wiki {
		t.Fatalf("expected wiki provider to own create_confluence_report")
	}
}

func TestRefreshIsAllOrNothing(t *testing.T) {
	jira := &fakeSource{base: "http://127.0.0.1:8000", tools: []mcp.Tool{{Name: "create_ticket"}}}
	wiki := &fakeSource{base: "http://127.0.0.1:8001", err: errors.New("connection refused")}

	r := New(jira, wiki)
	if err := r.Refresh(context.Background()); err == nil {
		t.Fatalf("expected refresh error")
	}
	if r.Count() != 0 {
		t.Fatalf("expected empty registry after failed refresh, got %d tools", r.Count())
	}
}

func TestRefreshRebuildsWholesale(t *testing.T) {
	src := &fakeSource{base: "http://127.0.0.1:8000", tools: []mcp.Tool{{Name: "old_tool"}}}
	r := New(src)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	src.tools = []mcp.Tool{{Name: "new_tool"}}
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if _, ok := r.Get("old_tool"); ok {
		t.Fatalf("expected old descriptor to be dropped on refresh")
	}
	if _, ok := r.Get("new_tool"); !ok {
		t.Fatalf("expected new descriptor after refresh")
	}
}

func TestSearchRanksNameMatchesFirst(t *testing.T) {
	src := &fakeSource{base: "http://127.0.0.1:8000", tools: []mcp.Tool{
		{Name: "create_confluence_report", Description: "Creates a Confluence page with a Jira status report."},
		{Name: "get_project_status", Description: "Summary of a project's ticket counts."},
		{Name: "create_ticket", Description: "Creates a new Jira issue."},
	}}
	r := New(src)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	got := r.Search("ticket", 10)
	if len(got) == 0 || got[0].Name != "create_ticket" {
		t.Fatalf("expected create_ticket first, got %v", got)
	}
}
