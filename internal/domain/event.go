package domain

// StreamEventType identifies a typed event in the live event stream.
type StreamEventType string

const (
	// EventMetadata brackets the loop: emitted once at start and, unless
	// the loop pauses, once at end.
	EventMetadata StreamEventType = "metadata"
	// EventAgentStart marks a capability beginning its turn.
	EventAgentStart StreamEventType = "agent_start"
	// EventDelta carries one incremental fragment of oracle output.
	EventDelta StreamEventType = "delta"
	// EventAgentEnd marks a capability finishing its turn, with the
	// routing decision.
	EventAgentEnd StreamEventType = "agent_end"
	// EventMessage carries the fully parsed envelope for a turn.
	EventMessage StreamEventType = "message"
	// EventError reports a recoverable or fatal failure.
	EventError StreamEventType = "error"
	// EventPause carries the snapshot when a capability requests user
	// input; no terminal metadata follows it.
	EventPause StreamEventType = "pause"
)

// StreamEvent is one element of the pull-driven event stream. Within a turn,
// every delta precedes the turn's agent_end and message events; turns are
// strictly sequential.
type StreamEvent struct {
	Type StreamEventType `json:"type"`

	// Agent fields (agent_start / agent_end).
	Agent     string `json:"agent,omitempty"`
	Reason    string `json:"reason,omitempty"`
	NextAgent string `json:"next_agent,omitempty"`

	// Delta fields.
	Content string `json:"content,omitempty"`
	Final   bool   `json:"final,omitempty"`

	// Message payload.
	Envelope *Envelope `json:"envelope,omitempty"`

	// Error fields.
	Err         string `json:"error,omitempty"`
	Recoverable bool   `json:"recoverable,omitempty"`

	// Pause payload.
	Snapshot *PauseSnapshot `json:"snapshot,omitempty"`

	// Loop metadata (metadata events).
	Meta map[string]any `json:"metadata,omitempty"`
}
