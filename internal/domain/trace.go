package domain

import (
	"context"
	"time"
)

// TraceEntry is one verbatim record of the full per-session trace: the user
// input, each turn's raw oracle output, and the final or error entry.
type TraceEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// AgentStep is one condensed record of the routing history: which capability
// ran, why it was selected, and the task it was handed.
type AgentStep struct {
	AgentName string `json:"agentName"`
	Reason    string `json:"reason"`
	Task      string `json:"task,omitempty"`
}

// PauseSnapshot captures an in-flight loop at a pause point. It is produced
// by the orchestrator, persisted externally, and consumed verbatim by resume;
// both sequences must round-trip losslessly.
type PauseSnapshot struct {
	Context      []TraceEntry `json:"context"`
	AgentHistory []AgentStep  `json:"agentHistory"`
}

// LastAgent returns the name of the capability that requested the pause.
func (s PauseSnapshot) LastAgent() string {
	if len(s.AgentHistory) == 0 {
		return ""
	}
	return s.AgentHistory[len(s.AgentHistory)-1].AgentName
}

// SessionStore is the persistence collaborator. The core calls it at session
// boundaries and pause/resume points and never touches storage directly.
type SessionStore interface {
	CreateSession(ctx context.Context, sessionID string) error
	AppendMessage(ctx context.Context, sessionID string, entry TraceEntry) error
	GetMessages(ctx context.Context, sessionID string) ([]TraceEntry, error)
	SavePauseSnapshot(ctx context.Context, sessionID string, snap PauseSnapshot) error
	GetPauseSnapshot(ctx context.Context, sessionID string) (*PauseSnapshot, error)
	ClearPauseSnapshot(ctx context.Context, sessionID string) error
}

// BlobStore is the file/blob collaborator. Contents are opaque to the core;
// capabilities request upload and download by identifier.
type BlobStore interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
	Get(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
}
