package usecase

import (
	"context"

	"easyagent/internal/domain"
)

// RunStream processes one user request and returns a live event stream. The
// channel is closed once a terminal, pause, or error event has been handed
// over. The stream is pull-driven: a consumer that stops receiving blocks
// the loop until ctx is cancelled.
func (o *Orchestrator) RunStream(ctx context.Context, sessionID, input string) <-chan domain.StreamEvent {
	out := make(chan domain.StreamEvent)
	go func() {
		defer close(out)
		emit := chanEmitter(ctx, out)
		emit(domain.StreamEvent{
			Type: domain.EventMetadata,
			Meta: map[string]any{"session_id": sessionID, "entry_agent": domain.EntranceAgent},
		})
		st := o.newRun(ctx, sessionID, input)
		o.finishStream(ctx, st, o.loop(ctx, st, emit), emit)
	}()
	return out
}

// ResumeStream re-enters a paused loop from its snapshot with a live event
// stream.
func (o *Orchestrator) ResumeStream(ctx context.Context, sessionID string, snap domain.PauseSnapshot, input string) <-chan domain.StreamEvent {
	out := make(chan domain.StreamEvent)
	go func() {
		defer close(out)
		emit := chanEmitter(ctx, out)
		emit(domain.StreamEvent{
			Type: domain.EventMetadata,
			Meta: map[string]any{"session_id": sessionID, "entry_agent": snap.LastAgent(), "resumed": true},
		})
		st := o.newResume(ctx, sessionID, snap, input)
		o.finishStream(ctx, st, o.loop(ctx, st, emit), emit)
	}()
	return out
}

// chanEmitter adapts a channel into an emitFunc that gives up when ctx ends.
func chanEmitter(ctx context.Context, out chan<- domain.StreamEvent) emitFunc {
	return func(ev domain.StreamEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
}

// finishStream records the outcome exactly like the synchronous path, then
// emits the tail event: terminal metadata on completion, a pause event with
// the snapshot instead of terminal metadata on pause, and a terminal error
// event on failure.
func (o *Orchestrator) finishStream(ctx context.Context, st *loopState, out loopOutcome, emit emitFunc) {
	res, _ := o.finish(ctx, st, out)

	switch res.State {
	case StateDone:
		emit(domain.StreamEvent{
			Type:  domain.EventMetadata,
			Final: true,
			Meta:  map[string]any{"session_id": st.sessionID, "status": string(StateDone), "answer": res.Answer},
		})
	case StatePaused:
		emit(domain.StreamEvent{
			Type:     domain.EventPause,
			Agent:    res.Snapshot.LastAgent(),
			Content:  res.Answer,
			Snapshot: res.Snapshot,
		})
	case StateFailed:
		emit(domain.StreamEvent{
			Type:        domain.EventError,
			Err:         res.Reason,
			Final:       true,
			Recoverable: domain.IsRecoverable(out.cause),
		})
	}
}
