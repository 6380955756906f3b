package session

import (
	"fmt"
	"sync"
	"testing"
)

func TestAppendAndTranscript(t *testing.T) {
	s := New()
	if s.ID() == "" {
		t.Fatalf("expected non-empty session id")
	}

	s.Append(RoleUser, "create a ticket")
	s.Append(RoleAssistant, "Ticket DEMO-1 created.")

	got := s.Transcript()
	if len(got) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(got))
	}
	if got[0].Role != RoleUser || got[1].Role != RoleAssistant {
		t.Fatalf("unexpected roles: %+v", got)
	}

	// The returned slice is a copy.
	got[0].Content = "mutated"
	if s.Transcript()[0].Content != "create a ticket" {
		t.Fatalf("transcript must not be mutable through the copy")
	}
}

func TestRecentCapsTurns(t *testing.T) {
	s := New()
	for i := 0; i < 10; i++ {
		s.Append(RoleUser, fmt.Sprintf("turn %d", i))
	}

	got := s.Recent(3)
	if len(got) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(got))
	}
	if got[0].Content != "turn 7" || got[2].Content != "turn 9" {
		t.Fatalf("expected the last turns, got %+v", got)
	}

	if len(s.Recent(0)) != 10 {
		t.Fatalf("n<=0 should return everything")
	}
	if len(s.Recent(100)) != 10 {
		t.Fatalf("n beyond length should return everything")
	}
}

func TestLastUnanswered(t *testing.T) {
	s := New()
	if _, ok := s.LastUnanswered(); ok {
		t.Fatalf("empty session has nothing unanswered")
	}

	s.Append(RoleUser, "status of DEMO-1?")
	m, ok := s.LastUnanswered()
	if !ok || m.Content != "status of DEMO-1?" {
		t.Fatalf("expected the pending user turn, got %+v ok=%v", m, ok)
	}

	s.Append(RoleAssistant, "It is In Progress.")
	if _, ok := s.LastUnanswered(); ok {
		t.Fatalf("answered turns are not pending")
	}
}

func TestManagerReusesAndCreates(t *testing.T) {
	m := NewManager()

	a := m.Get("")
	if a == nil || a.ID() == "" {
		t.Fatalf("expected a fresh session")
	}
	if got := m.Get(a.ID()); got != a {
		t.Fatalf("expected the same session for a known id")
	}

	b := m.Get("unknown-id")
	if b == a {
		t.Fatalf("unknown id must create a new session")
	}
	if b.ID() == "unknown-id" {
		t.Fatalf("unknown ids are not adopted")
	}
	if m.Count() != 2 {
		t.Fatalf("expected 2 sessions, got %d", m.Count())
	}
}

func TestSessionConcurrentAppend(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Append(RoleUser, "x")
		}()
	}
	wg.Wait()
	if s.Len() != 50 {
		t.Fatalf("expected 50 turns, got %d", s.Len())
	}
}
