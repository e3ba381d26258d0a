package usecase

import (
	"fmt"

	"easyagent/internal/domain"
)

// Normalize maps every legal capability return value to a valid Envelope.
//
//   - a full Envelope passes through unchanged;
//   - a non-empty map is copied verbatim into data and routed to the general
//     fallback capability for synthesis;
//   - nil (or an empty map) yields empty data and the terminal sentinel;
//   - a primitive scalar is wrapped as {result: v} with the terminal
//     sentinel; any other value is wrapped the same way but routed to the
//     fallback capability.
//
// The task list is inherited from the input envelope when present, otherwise
// synthesized as a one-item list naming the capability's action.
func Normalize(result any, in domain.Envelope, agentName string) domain.Envelope {
	if env, ok := result.(domain.Envelope); ok {
		return env
	}
	if env, ok := result.(*domain.Envelope); ok && env != nil {
		return *env
	}

	var (
		data      map[string]any
		nextAgent string
		message   string
	)

	switch v := result.(type) {
	case nil:
		nextAgent = domain.NextAgentNone
		message = fmt.Sprintf("%s completed with no output", agentName)
	case map[string]any:
		if hasContent(v) {
			data = v
			nextAgent = domain.GeneralAgent
			message = fmt.Sprintf("%s completed", agentName)
		} else {
			nextAgent = domain.NextAgentNone
			message = fmt.Sprintf("%s completed with no output", agentName)
		}
	case string, bool, int, int32, int64, float32, float64:
		data = map[string]any{"result": v}
		nextAgent = domain.NextAgentNone
		message = fmt.Sprintf("%s returned: %v", agentName, v)
	default:
		data = map[string]any{"result": v}
		nextAgent = domain.GeneralAgent
		message = fmt.Sprintf("%s returned a structured result", agentName)
	}

	taskList := in.TaskList
	if len(taskList) == 0 {
		taskList = []string{fmt.Sprintf("%s task", agentName)}
	}

	return domain.Envelope{
		Status:               domain.StatusSuccess,
		TaskList:             taskList,
		Data:                 data,
		NextAgent:            nextAgent,
		AgentSelectionReason: fmt.Sprintf("handled by %s", agentName),
		Message:              message,
	}
}

// hasContent reports whether the map carries at least one non-nil value.
func hasContent(m map[string]any) bool {
	for _, v := range m {
		if v != nil {
			return true
		}
	}
	return false
}
