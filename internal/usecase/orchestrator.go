package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"easyagent/internal/domain"
	"easyagent/internal/infra/tracer"
	"easyagent/internal/prompt"
)

// Loop defaults.
const (
	defaultMaxRetries = 3
	defaultMaxTurns   = 20
)

// State is the terminal state of one loop run.
type State string

const (
	StateDone   State = "done"
	StatePaused State = "paused"
	StateFailed State = "failed"
)

// RunResult is the outcome of a synchronous loop run.
type RunResult struct {
	State    State
	Trace    []domain.TraceEntry
	Answer   string
	Snapshot *domain.PauseSnapshot
	Reason   string // failure reason when State is StateFailed
}

// OrchestratorDeps holds injected dependencies for the turn-loop engine.
type OrchestratorDeps struct {
	LLM      domain.LLMProvider
	Registry *Registry
	Contexts *ContextStore
	Store    domain.SessionStore // optional, nil = no persistence
	Logger   *slog.Logger

	MaxRetries int // per-turn attempt budget, default 3
	MaxTurns   int // safety bound on loop length, default 20
}

// Orchestrator drives capability selection, talks to the completion oracle,
// extracts envelopes, dispatches capabilities, and produces a trace or a
// live event stream. One orchestrator serves one in-flight loop per session;
// distinct sessions may run in parallel.
type Orchestrator struct {
	deps OrchestratorDeps
}

// NewOrchestrator creates an orchestrator with the given dependencies.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	if deps.MaxRetries <= 0 {
		deps.MaxRetries = defaultMaxRetries
	}
	if deps.MaxTurns <= 0 {
		deps.MaxTurns = defaultMaxTurns
	}
	return &Orchestrator{deps: deps}
}

// emitFunc hands one event to the streaming consumer. It returns false when
// the consumer is gone and the loop must stop.
type emitFunc func(domain.StreamEvent) bool

// loopState is the in-flight state of one run.
type loopState struct {
	sessionID string
	conv      *Conversation
	agent     string               // capability executing the next turn
	payload   string               // user payload for the next oracle call
	context   []domain.ChatMessage // condensed context prior to this run
	turns     []domain.TraceEntry  // user input + one record per finished turn
	history   []domain.AgentStep   // condensed routing history
}

// Run processes one user request synchronously and returns the assembled
// trace. Failures are recorded as an error-role trace entry, never raised;
// the returned error is reserved for context cancellation.
func (o *Orchestrator) Run(ctx context.Context, sessionID, input string) (*RunResult, error) {
	st := o.newRun(ctx, sessionID, input)
	return o.finish(ctx, st, o.loop(ctx, st, nil))
}

// Resume re-enters a paused loop from its snapshot, appending the newly
// supplied input, and continues identically. Pausing again is legal.
func (o *Orchestrator) Resume(ctx context.Context, sessionID string, snap domain.PauseSnapshot, input string) (*RunResult, error) {
	st := o.newResume(ctx, sessionID, snap, input)
	return o.finish(ctx, st, o.loop(ctx, st, nil))
}

// newRun builds the loop state for a fresh request.
func (o *Orchestrator) newRun(ctx context.Context, sessionID, input string) *loopState {
	conv := o.deps.Contexts.GetOrCreate(sessionID)
	prior := conv.Condensed()
	conv.AddUserMessage(input)

	o.persist(ctx, sessionID, func(store domain.SessionStore) error {
		if err := store.CreateSession(ctx, sessionID); err != nil {
			return err
		}
		return store.AppendMessage(ctx, sessionID, domain.TraceEntry{
			Role: "user", Content: input, Timestamp: time.Now(),
		})
	})

	return &loopState{
		sessionID: sessionID,
		conv:      conv,
		agent:     domain.EntranceAgent,
		payload:   input,
		context:   prior,
		turns: []domain.TraceEntry{
			{Role: "user", Content: input, Timestamp: time.Now()},
		},
	}
}

// newResume rebuilds the loop state purely from a pause snapshot: the
// condensed context is derived from the snapshot's trace, and the loop
// re-enters at the capability that requested the pause.
func (o *Orchestrator) newResume(ctx context.Context, sessionID string, snap domain.PauseSnapshot, input string) *loopState {
	conv := o.deps.Contexts.GetOrCreate(sessionID)
	conv.AddUserMessage(input)

	agent := snap.LastAgent()
	if agent == "" {
		agent = domain.EntranceAgent
	}

	o.persist(ctx, sessionID, func(store domain.SessionStore) error {
		if err := store.AppendMessage(ctx, sessionID, domain.TraceEntry{
			Role: "user", Content: input, Timestamp: time.Now(),
		}); err != nil {
			return err
		}
		return store.ClearPauseSnapshot(ctx, sessionID)
	})

	turns := append([]domain.TraceEntry{}, snap.Context...)
	turns = append(turns, domain.TraceEntry{Role: "user", Content: input, Timestamp: time.Now()})

	return &loopState{
		sessionID: sessionID,
		conv:      conv,
		agent:     agent,
		payload:   input,
		context:   condensedFromTrace(snap.Context),
		turns:     turns,
		history:   append([]domain.AgentStep{}, snap.AgentHistory...),
	}
}

// condensedFromTrace projects snapshot trace entries onto the condensed
// context shape re-fed into prompts.
func condensedFromTrace(entries []domain.TraceEntry) []domain.ChatMessage {
	msgs := make([]domain.ChatMessage, 0, len(entries))
	for _, e := range entries {
		switch e.Role {
		case "user":
			msgs = append(msgs, domain.ChatMessage{Role: "user", Content: e.Content})
		case "assistant":
			content := e.Message
			if content == "" {
				content = e.Content
			}
			msgs = append(msgs, domain.ChatMessage{Role: "assistant", Content: content})
		}
	}
	return msgs
}

// loopOutcome is the internal result of the shared loop.
type loopOutcome struct {
	state    State
	answer   string
	snapshot *domain.PauseSnapshot
	reason   string
	cause    error // underlying failure, for recoverability classification
	err      error // non-nil only for context cancellation
}

// loop is the shared turn-loop for both sync and streaming modes. When emit
// is non-nil each event is handed to it as soon as it is produced.
func (o *Orchestrator) loop(ctx context.Context, st *loopState, emit emitFunc) loopOutcome {
	ctx, span := tracer.StartSpan(ctx, "orchestrator.loop")
	defer span.End()

	for turn := 0; turn < o.deps.MaxTurns; turn++ {
		if ctx.Err() != nil {
			return loopOutcome{state: StateFailed, reason: ctx.Err().Error(), err: ctx.Err()}
		}

		env, raw, err := o.runTurn(ctx, st, emit)
		if err != nil {
			if ctx.Err() != nil {
				return loopOutcome{state: StateFailed, reason: ctx.Err().Error(), err: ctx.Err()}
			}
			o.deps.Logger.Error("turn failed", "session", st.sessionID, "agent", st.agent, "error", err)
			return loopOutcome{state: StateFailed, reason: err.Error(), cause: err}
		}

		// Declared failure ends the loop immediately, without retry.
		if env.Status == domain.StatusError {
			reason := env.Message
			if reason == "" {
				reason = domain.ErrDeclaredFailure.Error()
			}
			o.deps.Logger.Warn("capability declared error", "session", st.sessionID, "agent", st.agent, "message", reason)
			return loopOutcome{state: StateFailed, reason: reason, cause: domain.ErrDeclaredFailure}
		}

		st.history = append(st.history, domain.AgentStep{
			AgentName: st.agent,
			Reason:    env.AgentSelectionReason,
			Task:      env.FirstTask(),
		})
		st.turns = append(st.turns, domain.TraceEntry{
			Role:      "assistant",
			Content:   raw,
			Message:   env.Message,
			Timestamp: time.Now(),
		})

		if emit != nil {
			ok := emit(domain.StreamEvent{
				Type:      domain.EventAgentEnd,
				Agent:     st.agent,
				Reason:    env.AgentSelectionReason,
				NextAgent: env.NextAgent,
			})
			ok = ok && emit(domain.StreamEvent{Type: domain.EventMessage, Envelope: &env})
			if !ok {
				return loopOutcome{state: StateFailed, reason: "consumer gone", err: ctx.Err()}
			}
		}

		switch {
		case env.IsTerminal():
			return loopOutcome{state: StateDone, answer: env.FinalAnswer()}

		case env.IsPause():
			snap := &domain.PauseSnapshot{
				Context:      append([]domain.TraceEntry{}, st.turns...),
				AgentHistory: append([]domain.AgentStep{}, st.history...),
			}
			return loopOutcome{state: StatePaused, snapshot: snap, answer: env.Message}

		default:
			st.agent = env.NextAgent
			st.payload = payloadFromData(env.Data)
		}
	}

	return loopOutcome{state: StateFailed, reason: fmt.Sprintf("loop exceeded %d turns", o.deps.MaxTurns)}
}

// payloadFromData serializes a turn's data field as the next turn's user
// payload.
func payloadFromData(data map[string]any) string {
	if len(data) == 0 {
		return "{}"
	}
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(b)
}

// runTurn performs one turn with the per-call attempt budget. The counter
// decrements on any failure between prompt submission and normalization and
// resets on turn success; exhaustion surfaces as ErrRetriesExhausted.
func (o *Orchestrator) runTurn(ctx context.Context, st *loopState, emit emitFunc) (domain.Envelope, string, error) {
	var lastErr error
	for attempt := 0; attempt < o.deps.MaxRetries; attempt++ {
		env, raw, err := o.attemptTurn(ctx, st, emit)
		if err == nil {
			return env, raw, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return domain.Envelope{}, "", ctx.Err()
		}
		// Resolution failures are deterministic; retrying cannot help.
		if errors.Is(err, domain.ErrCapabilityNotFound) || errors.Is(err, domain.ErrCapabilityInactive) {
			return domain.Envelope{}, "", err
		}
		o.deps.Logger.Warn("turn attempt failed",
			"session", st.sessionID, "agent", st.agent, "attempt", attempt+1, "error", err)
		if emit != nil && attempt < o.deps.MaxRetries-1 {
			if !emit(domain.StreamEvent{Type: domain.EventError, Err: err.Error(), Recoverable: true}) {
				return domain.Envelope{}, "", ctx.Err()
			}
		}
	}
	return domain.Envelope{}, "", fmt.Errorf("%w after %d attempts: %w",
		domain.ErrRetriesExhausted, o.deps.MaxRetries, lastErr)
}

// attemptTurn is one attempt at a turn: resolve the capability, compose the
// prompt, submit it to the oracle, extract the envelope, run the capability
// and normalize its result.
func (o *Orchestrator) attemptTurn(ctx context.Context, st *loopState, emit emitFunc) (domain.Envelope, string, error) {
	ctx, span := tracer.StartSpan(ctx, "orchestrator.turn")
	defer span.End()

	c, err := o.deps.Registry.Get(st.agent)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.Envelope{}, "", err
	}
	// The entrance capability is deliberately inactive yet always runnable.
	if st.agent != domain.EntranceAgent && !c.Active {
		detail := c.InactiveReason
		if detail == "" {
			detail = c.Name
		}
		err := domain.NewDomainError("Orchestrator.attemptTurn", domain.ErrCapabilityInactive, detail)
		tracer.RecordError(span, err)
		return domain.Envelope{}, "", err
	}
	if c.Template == nil {
		err := domain.NewDomainError("Orchestrator.attemptTurn", domain.ErrCapabilityInactive,
			fmt.Sprintf("%s has no prompt template", c.Name))
		tracer.RecordError(span, err)
		return domain.Envelope{}, "", err
	}

	listing, err := o.deps.Registry.Listing()
	if err != nil {
		tracer.RecordError(span, err)
		return domain.Envelope{}, "", err
	}
	system := prompt.Compose(*c.Template, listing, st.agent == domain.EntranceAgent)

	if emit != nil {
		if !emit(domain.StreamEvent{Type: domain.EventAgentStart, Agent: st.agent}) {
			return domain.Envelope{}, "", ctx.Err()
		}
	}

	raw, err := o.completeTurn(ctx, domain.ChatRequest{
		System:   system,
		Messages: append(append([]domain.ChatMessage{}, st.context...), domain.ChatMessage{Role: "user", Content: st.payload}),
	}, emit)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.Envelope{}, "", err
	}

	env, err := Extract(raw)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.Envelope{}, raw, err
	}

	// A declared failure is final: skip dispatch so the capability never
	// sees an error envelope.
	if env.Status == domain.StatusError {
		tracer.SetOK(span)
		return env, raw, nil
	}

	result, err := o.dispatch(ctx, c, env, emit)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.Envelope{}, raw, domain.WrapOp("capability "+c.Name, err)
	}

	tracer.SetOK(span)
	return Normalize(result, env, c.Name), raw, nil
}

// completeTurn performs the oracle round trip. In streaming mode each delta
// is handed to the consumer as soon as it is extracted; the accumulated text
// is returned for envelope extraction. A consumer that stops pulling cancels
// the run, releasing the partially consumed oracle stream.
func (o *Orchestrator) completeTurn(ctx context.Context, req domain.ChatRequest, emit emitFunc) (string, error) {
	sp, canStream := o.deps.LLM.(domain.StreamingLLMProvider)
	if emit == nil || !canStream {
		raw, err := o.deps.LLM.Chat(ctx, req)
		if err != nil {
			return "", err
		}
		if emit != nil {
			// Synchronous fallback: synthesize the minimal delta set.
			if !emit(domain.StreamEvent{Type: domain.EventDelta, Content: raw, Final: true}) {
				return "", ctx.Err()
			}
		}
		return raw, nil
	}

	req.Stream = true
	deltas, err := sp.ChatStream(ctx, req)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for delta := range deltas {
		b.WriteString(delta.Content)
		if !emit(domain.StreamEvent{
			Type:    domain.EventDelta,
			Content: delta.Content,
			Final:   delta.Done,
		}) {
			// Consumer gone: stop pulling; the provider goroutine is
			// bound to ctx and will release the stream.
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", errors.New("stream consumer gone")
		}
	}
	return b.String(), nil
}

// dispatch invokes the capability. When the capability supports streaming
// and a consumer is attached, its events are forwarded and the final message
// event's envelope becomes the result; otherwise Run is used directly.
func (o *Orchestrator) dispatch(ctx context.Context, c *domain.Capability, env domain.Envelope, emit emitFunc) (any, error) {
	if emit == nil || c.Stream == nil {
		return c.Run(ctx, env)
	}

	events, err := c.Stream(ctx, env)
	if err != nil {
		return nil, err
	}
	var result any
	for ev := range events {
		if ev.Type == domain.EventMessage && ev.Envelope != nil {
			result = *ev.Envelope
			continue
		}
		if !emit(ev) {
			return nil, ctx.Err()
		}
	}
	if result != nil {
		return result, nil
	}
	return c.Run(ctx, env)
}

// finish converts a loop outcome into the synchronous result, recording the
// aggregated assistant entry, the error-role entry on failure, and the pause
// snapshot through the persistence collaborator.
func (o *Orchestrator) finish(ctx context.Context, st *loopState, out loopOutcome) (*RunResult, error) {
	if out.err != nil && !errors.Is(out.err, context.Canceled) && !errors.Is(out.err, context.DeadlineExceeded) {
		out.err = nil
	}

	switch out.state {
	case StateDone:
		rawAll := joinTurnContents(st.turns)
		st.conv.AddAssistantMessage(rawAll, out.answer)
		o.persist(ctx, st.sessionID, func(store domain.SessionStore) error {
			return store.AppendMessage(ctx, st.sessionID, domain.TraceEntry{
				Role: "assistant", Content: rawAll, Message: out.answer, Timestamp: time.Now(),
			})
		})

	case StatePaused:
		o.persist(ctx, st.sessionID, func(store domain.SessionStore) error {
			return store.SavePauseSnapshot(ctx, st.sessionID, *out.snapshot)
		})

	case StateFailed:
		st.conv.AddErrorMessage(out.reason)
		o.persist(ctx, st.sessionID, func(store domain.SessionStore) error {
			return store.AppendMessage(ctx, st.sessionID, domain.TraceEntry{
				Role: "error", Content: out.reason, Timestamp: time.Now(),
			})
		})
	}

	return &RunResult{
		State:    out.state,
		Trace:    st.conv.Full(),
		Answer:   out.answer,
		Snapshot: out.snapshot,
		Reason:   out.reason,
	}, out.err
}

// persist runs fn against the persistence collaborator when one is wired.
// Storage failures are logged, never fatal to the loop.
func (o *Orchestrator) persist(ctx context.Context, sessionID string, fn func(domain.SessionStore) error) {
	if o.deps.Store == nil {
		return
	}
	if err := fn(o.deps.Store); err != nil {
		o.deps.Logger.Warn("persistence collaborator failed", "session", sessionID, "error", err)
	}
}

// joinTurnContents concatenates the assistant turn records into the full
// response text stored for the session.
func joinTurnContents(turns []domain.TraceEntry) string {
	var parts []string
	for _, t := range turns {
		if t.Role == "assistant" {
			parts = append(parts, t.Content)
		}
	}
	return strings.Join(parts, "\n")
}
