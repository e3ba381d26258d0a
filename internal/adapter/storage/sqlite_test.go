package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"easyagent/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, "s1"))
	// Creating the same session again is a no-op.
	require.NoError(t, store.CreateSession(ctx, "s1"))

	require.NoError(t, store.AppendMessage(ctx, "s1", domain.TraceEntry{
		Role: "user", Content: "what is 2+2?", Timestamp: time.Now(),
	}))
	require.NoError(t, store.AppendMessage(ctx, "s1", domain.TraceEntry{
		Role: "assistant", Content: "raw output", Message: "4",
	}))

	msgs, err := store.GetMessages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "what is 2+2?", msgs[0].Content)
	assert.Equal(t, "4", msgs[1].Message)
	assert.False(t, msgs[1].Timestamp.IsZero())
}

func TestGetMessagesUnknownSession(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetMessages(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSessionNotFound))
}

func TestPauseSnapshotRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, "s1"))

	snap := domain.PauseSnapshot{
		Context: []domain.TraceEntry{
			{Role: "user", Content: "book something"},
			{Role: "assistant", Content: "raw", Message: "need details"},
		},
		AgentHistory: []domain.AgentStep{
			{AgentName: "entrance_agent", Reason: "underspecified", Task: "clarify"},
			{AgentName: "clarify_agent", Reason: "collecting", Task: "clarify"},
		},
	}
	require.NoError(t, store.SavePauseSnapshot(ctx, "s1", snap))

	got, err := store.GetPauseSnapshot(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, snap.AgentHistory, got.AgentHistory)
	require.Len(t, got.Context, 2)
	assert.Equal(t, "book something", got.Context[0].Content)
	assert.Equal(t, "clarify_agent", got.LastAgent())
}

func TestPauseSnapshotOverwrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, "s1"))

	first := domain.PauseSnapshot{AgentHistory: []domain.AgentStep{{AgentName: "a"}}}
	second := domain.PauseSnapshot{AgentHistory: []domain.AgentStep{{AgentName: "b"}}}
	require.NoError(t, store.SavePauseSnapshot(ctx, "s1", first))
	require.NoError(t, store.SavePauseSnapshot(ctx, "s1", second))

	got, err := store.GetPauseSnapshot(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "b", got.LastAgent())
}

func TestClearPauseSnapshot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, "s1"))
	require.NoError(t, store.SavePauseSnapshot(ctx, "s1", domain.PauseSnapshot{}))

	require.NoError(t, store.ClearPauseSnapshot(ctx, "s1"))
	_, err := store.GetPauseSnapshot(ctx, "s1")
	assert.True(t, errors.Is(err, domain.ErrSnapshotNotFound))

	// Clearing an absent snapshot is a no-op.
	require.NoError(t, store.ClearPauseSnapshot(ctx, "s1"))
}

func TestSessionsIsolated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, "a"))
	require.NoError(t, store.CreateSession(ctx, "b"))
	require.NoError(t, store.AppendMessage(ctx, "a", domain.TraceEntry{Role: "user", Content: "only a"}))

	msgsB, err := store.GetMessages(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, msgsB)
}
