package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of the conversation.
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Session is an append-only conversation transcript. All methods are safe
// for concurrent use.
type Session struct {
	id      string
	created time.Time

	mu         sync.Mutex
	transcript []Message
}

// New creates a session with a fresh id.
func New() *Session {
	return &Session{
		id:      uuid.NewString(),
		created: time.Now(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns when the session was opened.
func (s *Session) CreatedAt() time.Time { return s.created }

// Append records one turn.
func (s *Session) Append(role, content string) Message {
	m := Message{Role: role, Content: content, At: time.Now()}
	s.mu.Lock()
	s.transcript = append(s.transcript, m)
	s.mu.Unlock()
	return m
}

// Transcript returns a copy of the full transcript.
func (s *Session) Transcript() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Recent returns a copy of the last n turns.
func (s *Session) Recent(n int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.transcript) {
		n = len(s.transcript)
	}
	out := make([]Message, n)
	copy(out, s.transcript[len(s.transcript)-n:])
	return out
}

// LastUnanswered returns the trailing user message when no assistant reply
// has been recorded for it yet.
func (s *Session) LastUnanswered() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.transcript); n > 0 && s.transcript[n-1].Role == RoleUser {
		return s.transcript[n-1], true
	}
	return Message{}, false
}

// Len returns the number of turns.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transcript)
}

// Manager hands out sessions by id, creating them on first use.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{sessions: map[string]*Session{}}
}

// Get returns the session with the given id, or a fresh session when id is
// empty or unknown.
func (m *Manager) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id != "" {
		if s, ok := m.sessions[id]; ok {
			return s
		}
	}
	s := New()
	m.sessions[s.id] = s
	return s
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
