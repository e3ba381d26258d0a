package domain

// Envelope statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Reserved next_agent values. Every other value must name a registered
// capability.
const (
	// NextAgentNone terminates the loop.
	NextAgentNone = "none"
	// NextAgentUserInput suspends the loop until the caller supplies
	// additional input and resumes from the snapshot.
	NextAgentUserInput = "user_input_required"
)

// Built-in capability names.
const (
	EntranceAgent = "entrance_agent"
	GeneralAgent  = "general_agent"
	ClarifyAgent  = "clarify_agent"
)

// Envelope is the protocol payload exchanged between the orchestrator, the
// completion oracle, and capabilities at every hop. It is built fresh from
// oracle output each turn; capabilities return a new or modified copy rather
// than mutating the one they received.
type Envelope struct {
	Status               string         `json:"status"`
	TaskList             []string       `json:"task_list"`
	Data                 map[string]any `json:"data,omitempty"`
	NextAgent            string         `json:"next_agent"`
	AgentSelectionReason string         `json:"agent_selection_reason,omitempty"`
	Message              string         `json:"message,omitempty"`
}

// IsTerminal reports whether the envelope routes to the terminal sentinel.
func (e Envelope) IsTerminal() bool { return e.NextAgent == NextAgentNone }

// IsPause reports whether the envelope routes to the pause sentinel.
func (e Envelope) IsPause() bool { return e.NextAgent == NextAgentUserInput }

// FirstTask returns the head of the task list, or "" when empty.
func (e Envelope) FirstTask() string {
	if len(e.TaskList) == 0 {
		return ""
	}
	return e.TaskList[0]
}

// FinalAnswer extracts the human-facing answer: the "answer" data field when
// present, otherwise the envelope message.
func (e Envelope) FinalAnswer() string {
	if s, ok := e.Data["answer"].(string); ok && s != "" {
		return s
	}
	return e.Message
}
