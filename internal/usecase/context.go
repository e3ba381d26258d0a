package usecase

import (
	"sync"
	"time"

	"easyagent/internal/domain"
)

// Conversation is the per-session context: the full trace kept verbatim for
// display and persistence, and the condensed trace re-fed into future
// prompts (user inputs plus each turn's final answer only).
type Conversation struct {
	mu        sync.Mutex
	SessionID string
	full      []domain.TraceEntry
	condensed []domain.ChatMessage
	createdAt time.Time
}

// AddUserMessage appends one user input to both traces.
func (c *Conversation) AddUserMessage(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.full = append(c.full, domain.TraceEntry{
		Role:      "user",
		Content:   content,
		Timestamp: time.Now(),
	})
	c.condensed = append(c.condensed, domain.ChatMessage{Role: "user", Content: content})
}

// AddAssistantMessage appends a completed turn: the raw oracle output goes to
// the full trace, only the final human-readable answer goes to the condensed
// trace.
func (c *Conversation) AddAssistantMessage(fullResponse, finalAnswer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.full = append(c.full, domain.TraceEntry{
		Role:      "assistant",
		Content:   fullResponse,
		Message:   finalAnswer,
		Timestamp: time.Now(),
	})
	c.condensed = append(c.condensed, domain.ChatMessage{Role: "assistant", Content: finalAnswer})
}

// AddErrorMessage records a failed run in the full trace only. Errors never
// feed back into prompt context.
func (c *Conversation) AddErrorMessage(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.full = append(c.full, domain.TraceEntry{
		Role:      "error",
		Content:   reason,
		Timestamp: time.Now(),
	})
}

// Condensed returns a copy of the condensed trace for prompt assembly.
func (c *Conversation) Condensed() []domain.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]domain.ChatMessage, len(c.condensed))
	copy(cp, c.condensed)
	return cp
}

// Full returns a copy of the full trace.
func (c *Conversation) Full() []domain.TraceEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]domain.TraceEntry, len(c.full))
	copy(cp, c.full)
	return cp
}

// ContextStore holds one Conversation per session id, created lazily.
// Retention and eviction are the hosting layer's responsibility.
type ContextStore struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
}

// NewContextStore creates an empty store.
func NewContextStore() *ContextStore {
	return &ContextStore{conversations: make(map[string]*Conversation)}
}

// GetOrCreate returns the session's conversation, creating it on first use.
func (s *ContextStore) GetOrCreate(sessionID string) *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[sessionID]; ok {
		return c
	}
	c := &Conversation{SessionID: sessionID, createdAt: time.Now()}
	s.conversations[sessionID] = c
	return c
}

// Remove drops a session's conversation.
func (s *ContextStore) Remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, sessionID)
}

// Sessions returns the ids of all live conversations.
func (s *ContextStore) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.conversations))
	for id := range s.conversations {
		ids = append(ids, id)
	}
	return ids
}
