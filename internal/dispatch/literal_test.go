package dispatch

import (
	"encoding/json"
	"testing"
)

var knownTools = []string{"create_ticket", "get_ticket_status", "delete_ticket"}

func decodeArgs(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("args are not JSON: %v", err)
	}
	return out
}

func TestParseLiteralCallBasic(t *testing.T) {
	call, ok, err := ParseLiteralCall(`create_ticket(project_key="DEMO", summary="Fix login")`, knownTools)
	if !ok || err != nil {
		t.Fatalf("expected literal match, ok=%v err=%v", ok, err)
	}
	if call.Name != "create_ticket" {
		t.Fatalf("unexpected tool: %s", call.Name)
	}
	args := decodeArgs(t, call.Args)
	if args["project_key"] != "DEMO" || args["summary"] != "Fix login" {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestParseLiteralCallScalarTypes(t *testing.T) {
	call, ok, err := ParseLiteralCall(`create_ticket(count=3, ratio=0.5, urgent=true, name='single', bare=word)`, knownTools)
	if !ok || err != nil {
		t.Fatalf("expected literal match, ok=%v err=%v", ok, err)
	}
	args := decodeArgs(t, call.Args)
	if args["count"] != float64(3) {
		t.Fatalf("expected number 3, got %v (%T)", args["count"], args["count"])
	}
	if args["ratio"] != 0.5 {
		t.Fatalf("expected 0.5, got %v", args["ratio"])
	}
	if args["urgent"] != true {
		t.Fatalf("expected true, got %v", args["urgent"])
	}
	if args["name"] != "single" {
		t.Fatalf("single quotes should be stripped, got %v", args["name"])
	}
	if args["bare"] != "word" {
		t.Fatalf("bare values stay strings, got %v", args["bare"])
	}
}

func TestParseLiteralCallCommaInsideQuotes(t *testing.T) {
	call, ok, err := ParseLiteralCall(`create_ticket(summary="Fix login, signup and reset", project_key="DEMO")`, knownTools)
	if !ok || err != nil {
		t.Fatalf("expected literal match, ok=%v err=%v", ok, err)
	}
	args := decodeArgs(t, call.Args)
	if args["summary"] != "Fix login, signup and reset" {
		t.Fatalf("quoted comma was split: %v", args["summary"])
	}
}

func TestParseLiteralCallEmptyArgs(t *testing.T) {
	call, ok, err := ParseLiteralCall(`get_ticket_status()`, knownTools)
	if !ok || err != nil {
		t.Fatalf("expected literal match, ok=%v err=%v", ok, err)
	}
	if string(call.Args) != "{}" {
		t.Fatalf("expected empty args object, got %s", call.Args)
	}
}

func TestParseLiteralCallTrimsWhitespace(t *testing.T) {
	if _, ok, err := ParseLiteralCall("   delete_ticket(issue_key=\"DEMO-1\")  ", knownTools); !ok || err != nil {
		t.Fatalf("surrounding whitespace should not break the match, ok=%v err=%v", ok, err)
	}
}

func TestParseLiteralCallRejectsNonCalls(t *testing.T) {
	cases := []string{
		"please create a ticket for me",
		"create_ticket without parens",
		"unknown_tool(a=1)",
	}
	for _, in := range cases {
		if _, ok, _ := ParseLiteralCall(in, knownTools); ok {
			t.Fatalf("%q should not parse as a literal call", in)
		}
	}
}

func TestParseLiteralCallMissingClosingParen(t *testing.T) {
	call, ok, err := ParseLiteralCall(`create_ticket(project_key="TEST"`, knownTools)
	if !ok || err != nil {
		t.Fatalf("prefix match alone decides detection, ok=%v err=%v", ok, err)
	}
	args := decodeArgs(t, call.Args)
	if args["project_key"] != "TEST" {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestParseLiteralCallMalformedPairReportsError(t *testing.T) {
	call, ok, err := ParseLiteralCall("create_ticket(malformed pair)", knownTools)
	if !ok {
		t.Fatalf("matched name with bad args must not fall through")
	}
	if err == nil {
		t.Fatalf("expected a parse error")
	}
	if call.Name != "create_ticket" {
		t.Fatalf("error should name the tool, got %+v", call)
	}
}

func TestParseLiteralCallFirstNameWins(t *testing.T) {
	call, ok, err := ParseLiteralCall(`get_ticket_status(issue_key="DEMO-1")`, []string{"create_ticket", "get_ticket_status"})
	if !ok || err != nil || call.Name != "get_ticket_status" {
		t.Fatalf("expected get_ticket_status, got %+v ok=%v err=%v", call, ok, err)
	}
}
