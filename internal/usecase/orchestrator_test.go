package usecase

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"easyagent/internal/domain"
)

// scriptedOracle replays canned responses in order. It satisfies both the
// plain and the streaming provider contracts; streamed responses are chunked
// into small deltas.
type scriptedOracle struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
}

func (s *scriptedOracle) next() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i >= len(s.responses) {
		return "", domain.ErrOracleError
	}
	return s.responses[i], nil
}

func (s *scriptedOracle) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scriptedOracle) Chat(_ context.Context, _ domain.ChatRequest) (string, error) {
	return s.next()
}

func (s *scriptedOracle) Name() string { return "scripted" }

func (s *scriptedOracle) ChatStream(ctx context.Context, _ domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	text, err := s.next()
	if err != nil {
		return nil, err
	}
	out := make(chan domain.StreamDelta)
	go func() {
		defer close(out)
		const chunk = 16
		for i := 0; i < len(text); i += chunk {
			end := i + chunk
			if end > len(text) {
				end = len(text)
			}
			select {
			case out <- domain.StreamDelta{Content: text[i:end], Done: end == len(text)}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func newTestOrchestrator(oracle domain.LLMProvider, reg *Registry) *Orchestrator {
	return NewOrchestrator(OrchestratorDeps{
		LLM:      oracle,
		Registry: reg,
		Contexts: NewContextStore(),
		Logger:   testLogger(),
	})
}

func calculatorCapability(t *testing.T) *domain.Capability {
	t.Helper()
	tpl := domain.PromptTemplate{
		SystemInstructions: "You are a calculator.",
		CoreInstructions:   "Evaluate the expression in the data field.",
		DataFields:         `"expression": "string"`,
	}
	return &domain.Capability{
		Name:        "calculator_agent",
		Description: "evaluates arithmetic expressions",
		Handles:     []string{"arithmetic"},
		Version:     "1.0.0",
		Active:      true,
		Template:    &tpl,
		Run: func(_ context.Context, env domain.Envelope) (any, error) {
			if env.Data["expression"] == "2+2" {
				return 4, nil
			}
			return nil, domain.ErrInvalidArguments
		},
	}
}

const entranceToCalculator = `{"status":"success","task_list":["calculate 2+2"],"data":{"expression":"2+2"},"next_agent":"calculator_agent","agent_selection_reason":"arithmetic request","message":"routing to the calculator"}`

const calculatorTurn = `{"status":"success","task_list":["calculate 2+2"],"data":{"expression":"2+2"},"next_agent":"none","agent_selection_reason":"evaluating","message":"evaluating 2+2"}`

func TestRunRoutesThroughCapability(t *testing.T) {
	reg := NewRegistry(testLogger())
	require.NoError(t, reg.Register(calculatorCapability(t)))
	oracle := &scriptedOracle{responses: []string{entranceToCalculator, calculatorTurn}}
	o := newTestOrchestrator(oracle, reg)

	res, err := o.Run(context.Background(), "s1", "what is 2+2?")
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 2, oracle.callCount())
	assert.Contains(t, res.Answer, "4")

	require.Len(t, res.Trace, 2)
	assert.Equal(t, "user", res.Trace[0].Role)
	assert.Equal(t, "assistant", res.Trace[1].Role)
	assert.Contains(t, res.Trace[1].Content, "calculator_agent")
}

func TestRunTerminalAfterEntrance(t *testing.T) {
	terminal := `{"status":"success","task_list":["greet"],"data":{"answer":"hello there"},"next_agent":"none","agent_selection_reason":"trivial","message":"hello there"}`
	oracle := &scriptedOracle{responses: []string{terminal}}
	o := newTestOrchestrator(oracle, NewRegistry(testLogger()))

	res, err := o.Run(context.Background(), "s1", "hi")
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, "hello there", res.Answer)
	assert.Equal(t, 1, oracle.callCount())
}

func TestRunRetriesMalformedOutput(t *testing.T) {
	terminal := `{"status":"success","data":{"answer":"ok"},"next_agent":"none","message":"ok"}`
	oracle := &scriptedOracle{responses: []string{
		"I refuse to answer in JSON.",
		"still not json",
		terminal,
	}}
	o := newTestOrchestrator(oracle, NewRegistry(testLogger()))

	res, err := o.Run(context.Background(), "s1", "hi")
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 3, oracle.callCount())
}

func TestRunRetriesExhausted(t *testing.T) {
	oracle := &scriptedOracle{responses: []string{"bad", "bad", "bad", "never reached"}}
	o := newTestOrchestrator(oracle, NewRegistry(testLogger()))

	res, err := o.Run(context.Background(), "s1", "hi")
	require.NoError(t, err)

	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 3, oracle.callCount())
	assert.Contains(t, res.Reason, "3 attempts")

	last := res.Trace[len(res.Trace)-1]
	assert.Equal(t, "error", last.Role)
}

func TestRunBudgetResetsBetweenTurns(t *testing.T) {
	// Two failures on the entrance turn, then two more on the calculator
	// turn: both turns stay within the per-turn budget of three.
	reg := NewRegistry(testLogger())
	require.NoError(t, reg.Register(calculatorCapability(t)))
	oracle := &scriptedOracle{responses: []string{
		"bad", "bad", entranceToCalculator,
		"bad", "bad", calculatorTurn,
	}}
	o := newTestOrchestrator(oracle, reg)

	res, err := o.Run(context.Background(), "s1", "what is 2+2?")
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 6, oracle.callCount())
}

func TestRunDeclaredErrorNotRetried(t *testing.T) {
	declared := `{"status":"error","message":"backend credentials rejected","next_agent":"none"}`
	oracle := &scriptedOracle{responses: []string{declared, "never reached"}}
	o := newTestOrchestrator(oracle, NewRegistry(testLogger()))

	res, err := o.Run(context.Background(), "s1", "hi")
	require.NoError(t, err)

	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 1, oracle.callCount())
	assert.Equal(t, "backend credentials rejected", res.Reason)
}

func TestRunUnknownNextAgentFailsTurn(t *testing.T) {
	toNowhere := `{"status":"success","next_agent":"ghost_agent","message":"routing"}`
	oracle := &scriptedOracle{responses: []string{toNowhere, toNowhere, toNowhere, toNowhere}}
	o := newTestOrchestrator(oracle, NewRegistry(testLogger()))

	res, err := o.Run(context.Background(), "s1", "hi")
	require.NoError(t, err)

	assert.Equal(t, StateFailed, res.State)
	assert.Contains(t, res.Reason, "ghost_agent")
}

func TestPauseAndResume(t *testing.T) {
	toClarify := `{"status":"success","task_list":["clarify booking"],"data":{"user_demand":"book something"},"next_agent":"clarify_agent","agent_selection_reason":"underspecified","message":"need details"}`
	clarifyForm := `{"status":"success","task_list":["clarify booking"],"data":{"form_config":{"fields":[{"name":"date"}]}},"next_agent":"clarify_agent","agent_selection_reason":"collecting details","message":"please pick a date"}`
	clarified := `{"status":"success","task_list":["book it"],"data":{"clarified_demand":"book a table on Friday"},"next_agent":"clarify_agent","agent_selection_reason":"details complete","message":"got it"}`
	generalDone := `{"status":"success","task_list":["book it"],"data":{"answer":"booked for Friday"},"next_agent":"none","agent_selection_reason":"synthesis","message":"booked for Friday"}`

	oracle := &scriptedOracle{responses: []string{toClarify, clarifyForm, clarified, generalDone}}
	o := newTestOrchestrator(oracle, NewRegistry(testLogger()))

	res, err := o.Run(context.Background(), "s1", "book something")
	require.NoError(t, err)
	assert.Equal(t, StatePaused, res.State)
	require.NotNil(t, res.Snapshot)
	assert.Equal(t, domain.ClarifyAgent, res.Snapshot.LastAgent())
	assert.NotEmpty(t, res.Snapshot.Context)

	resumed, err := o.Resume(context.Background(), "s1", *res.Snapshot, "Friday")
	require.NoError(t, err)
	assert.Equal(t, StateDone, resumed.State)
	assert.Equal(t, "booked for Friday", resumed.Answer)
	assert.Equal(t, 4, oracle.callCount())
}

func TestPauseSnapshotRoundTripsThroughJSON(t *testing.T) {
	toClarify := `{"status":"success","task_list":["clarify"],"data":{},"next_agent":"clarify_agent","agent_selection_reason":"underspecified","message":"need details"}`
	clarifyForm := `{"status":"success","task_list":["clarify"],"data":{"form_config":{}},"next_agent":"clarify_agent","agent_selection_reason":"collecting","message":"fill the form"}`

	oracle := &scriptedOracle{responses: []string{toClarify, clarifyForm}}
	o := newTestOrchestrator(oracle, NewRegistry(testLogger()))

	res, err := o.Run(context.Background(), "s1", "do the thing")
	require.NoError(t, err)
	require.Equal(t, StatePaused, res.State)

	// A snapshot that crossed the wire must resume identically.
	restored := roundTripSnapshot(t, *res.Snapshot)
	assert.Equal(t, res.Snapshot.AgentHistory, restored.AgentHistory)
	assert.Equal(t, len(res.Snapshot.Context), len(restored.Context))
	assert.Equal(t, domain.ClarifyAgent, restored.LastAgent())
}

func TestRunSessionsIndependent(t *testing.T) {
	terminal := `{"status":"success","data":{"answer":"ok"},"next_agent":"none","message":"ok"}`
	oracle := &scriptedOracle{responses: []string{terminal, terminal}}
	o := newTestOrchestrator(oracle, NewRegistry(testLogger()))

	resA, err := o.Run(context.Background(), "session-a", "hi")
	require.NoError(t, err)
	resB, err := o.Run(context.Background(), "session-b", "hello")
	require.NoError(t, err)

	require.Len(t, resA.Trace, 2)
	require.Len(t, resB.Trace, 2)
	assert.Equal(t, "hi", resA.Trace[0].Content)
	assert.Equal(t, "hello", resB.Trace[0].Content)
}

func TestRunContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	oracle := &scriptedOracle{responses: []string{`{"status":"success","next_agent":"none"}`}}
	o := newTestOrchestrator(oracle, NewRegistry(testLogger()))

	res, err := o.Run(ctx, "s1", "hi")
	require.Error(t, err)
	assert.Equal(t, StateFailed, res.State)
}

func TestRunStreamEventOrdering(t *testing.T) {
	reg := NewRegistry(testLogger())
	require.NoError(t, reg.Register(calculatorCapability(t)))
	oracle := &scriptedOracle{responses: []string{entranceToCalculator, calculatorTurn}}
	o := newTestOrchestrator(oracle, reg)

	events := collectEvents(t, o.RunStream(context.Background(), "s1", "what is 2+2?"))
	require.NotEmpty(t, events)

	assert.Equal(t, domain.EventMetadata, events[0].Type)
	last := events[len(events)-1]
	assert.Equal(t, domain.EventMetadata, last.Type)
	assert.True(t, last.Final)
	assert.Equal(t, string(StateDone), last.Meta["status"])

	// Per turn: agent_start precedes its deltas, deltas precede agent_end,
	// agent_end precedes the message event.
	calcStart := eventIndex(events, func(ev domain.StreamEvent) bool {
		return ev.Type == domain.EventAgentStart && ev.Agent == "calculator_agent"
	})
	calcEnd := eventIndex(events, func(ev domain.StreamEvent) bool {
		return ev.Type == domain.EventAgentEnd && ev.Agent == "calculator_agent"
	})
	require.Greater(t, calcStart, 0)
	require.Greater(t, calcEnd, calcStart+1)
	for _, ev := range events[calcStart+1 : calcEnd] {
		assert.Equal(t, domain.EventDelta, ev.Type)
	}
	assert.Equal(t, domain.EventMessage, events[calcEnd+1].Type)

	// The previous turn is fully emitted before the next one starts.
	entranceEnd := eventIndex(events, func(ev domain.StreamEvent) bool {
		return ev.Type == domain.EventAgentEnd && ev.Agent == domain.EntranceAgent
	})
	require.GreaterOrEqual(t, entranceEnd, 0)
	assert.Less(t, entranceEnd, calcStart)

	// Deltas reassemble the oracle output verbatim.
	var rebuilt string
	for _, ev := range events {
		if ev.Type == domain.EventDelta {
			rebuilt += ev.Content
		}
	}
	assert.Contains(t, rebuilt, `"next_agent":"calculator_agent"`)
	assert.Contains(t, rebuilt, `"next_agent":"none"`)
}

func TestRunStreamPauseOmitsTerminalMetadata(t *testing.T) {
	toClarify := `{"status":"success","task_list":["clarify"],"data":{},"next_agent":"clarify_agent","agent_selection_reason":"underspecified","message":"need details"}`
	clarifyForm := `{"status":"success","task_list":["clarify"],"data":{"form_config":{}},"next_agent":"clarify_agent","agent_selection_reason":"collecting","message":"fill the form"}`
	oracle := &scriptedOracle{responses: []string{toClarify, clarifyForm}}
	o := newTestOrchestrator(oracle, NewRegistry(testLogger()))

	events := collectEvents(t, o.RunStream(context.Background(), "s1", "do the thing"))
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	require.Equal(t, domain.EventPause, last.Type)
	require.NotNil(t, last.Snapshot)
	assert.Equal(t, domain.ClarifyAgent, last.Snapshot.LastAgent())

	for _, ev := range events {
		if ev.Type == domain.EventMetadata {
			assert.False(t, ev.Final, "pause streams must not carry terminal metadata")
		}
	}
}

func TestRunStreamRecoverableErrorEvents(t *testing.T) {
	terminal := `{"status":"success","data":{"answer":"ok"},"next_agent":"none","message":"ok"}`
	oracle := &scriptedOracle{responses: []string{"garbage", terminal}}
	o := newTestOrchestrator(oracle, NewRegistry(testLogger()))

	events := collectEvents(t, o.RunStream(context.Background(), "s1", "hi"))

	var sawRecoverable bool
	for _, ev := range events {
		if ev.Type == domain.EventError {
			assert.True(t, ev.Recoverable)
			sawRecoverable = true
		}
	}
	assert.True(t, sawRecoverable)
	assert.Equal(t, domain.EventMetadata, events[len(events)-1].Type)
}

func TestRunStreamTerminalErrorEvent(t *testing.T) {
	oracle := &scriptedOracle{responses: []string{"bad", "bad", "bad"}}
	o := newTestOrchestrator(oracle, NewRegistry(testLogger()))

	events := collectEvents(t, o.RunStream(context.Background(), "s1", "hi"))
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	assert.Equal(t, domain.EventError, last.Type)
	assert.True(t, last.Final)
}

func collectEvents(t *testing.T, ch <-chan domain.StreamEvent) []domain.StreamEvent {
	t.Helper()
	var events []domain.StreamEvent
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("stream did not close; got %d events so far", len(events))
		}
	}
}

func eventIndex(events []domain.StreamEvent, match func(domain.StreamEvent) bool) int {
	for i, ev := range events {
		if match(ev) {
			return i
		}
	}
	return -1
}

func roundTripSnapshot(t *testing.T, snap domain.PauseSnapshot) domain.PauseSnapshot {
	t.Helper()
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	var restored domain.PauseSnapshot
	require.NoError(t, json.Unmarshal(data, &restored))
	return restored
}
