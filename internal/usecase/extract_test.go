package usecase

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"easyagent/internal/domain"
)

func TestExtractPlainJSON(t *testing.T) {
	raw := `{"status":"success","task_list":["answer the question"],"data":{"answer":"42"},"next_agent":"none","agent_selection_reason":"done","message":"here you go"}`

	env, err := Extract(raw)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, env.Status)
	assert.Equal(t, []string{"answer the question"}, env.TaskList)
	assert.Equal(t, "42", env.Data["answer"])
	assert.Equal(t, domain.NextAgentNone, env.NextAgent)
	assert.Equal(t, "here you go", env.Message)
}

func TestExtractCodeFence(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"tagged", "```json\n{\"status\":\"success\",\"next_agent\":\"none\"}\n```"},
		{"untagged", "```\n{\"status\":\"success\",\"next_agent\":\"none\"}\n```"},
		{"whitespace around", "  ```json\n  {\"status\":\"success\",\"next_agent\":\"none\"}\n```  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Extract(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, domain.NextAgentNone, env.NextAgent)
		})
	}
}

func TestExtractReasoningCloser(t *testing.T) {
	raw := "<think>let me reason about this</think>{\"status\":\"success\",\"next_agent\":\"general_agent\"}"

	env, err := Extract(raw)
	require.NoError(t, err)
	assert.Equal(t, domain.GeneralAgent, env.NextAgent)
}

func TestExtractReasoningCloserKeepsLast(t *testing.T) {
	raw := "<think>first</think>not json</think>{\"status\":\"success\",\"next_agent\":\"none\"}"

	env, err := Extract(raw)
	require.NoError(t, err)
	assert.Equal(t, domain.NextAgentNone, env.NextAgent)
}

func TestExtractMessageMarker(t *testing.T) {
	raw := "<|channel|>analysis<|message|>thinking...<|message|>{\"status\":\"success\",\"next_agent\":\"none\"}"

	env, err := Extract(raw)
	require.NoError(t, err)
	assert.Equal(t, domain.NextAgentNone, env.NextAgent)
}

func TestExtractLayered(t *testing.T) {
	// Fence stripping runs first, then the reasoning closer, then the
	// message marker.
	raw := "```json\n<think>hmm</think><|message|>{\"status\":\"success\",\"next_agent\":\"none\",\"message\":\"ok\"}\n```"

	env, err := Extract(raw)
	require.NoError(t, err)
	assert.Equal(t, "ok", env.Message)
}

func TestExtractFailures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "I am sorry, I cannot produce JSON today."},
		{"missing status", `{"next_agent":"none"}`},
		{"empty", ""},
		{"truncated", `{"status":"succ`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract(tt.raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrExtractFailed))

			var ee *ExtractError
			require.True(t, errors.As(err, &ee))
			assert.Equal(t, tt.raw, ee.Raw)
		})
	}
}

func TestExtractUnknownFieldsIgnored(t *testing.T) {
	raw := `{"status":"success","next_agent":"none","confidence":0.9,"extra":{"a":1}}`

	env, err := Extract(raw)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, env.Status)
}
