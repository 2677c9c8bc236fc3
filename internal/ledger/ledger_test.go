package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostwire/ghostwire/internal/events"
	"github.com/ghostwire/ghostwire/internal/protocol"
	"github.com/ghostwire/ghostwire/internal/store"
)

func setupLedger(t *testing.T) (*Ledger, *events.Bus, store.Store) {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	bus := events.NewBus(nil)
	l := New(s, bus, nil)
	t.Cleanup(l.Close)

	return l, bus, s
}

func registerAgent(t *testing.T, s store.Store, id string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, s.CreateAgent(context.Background(), &store.Agent{
		ID:            id,
		SleepInterval: 60,
		FirstSeen:     now,
		LastSeen:      now,
	}))
}

func TestLedger_EnqueueAndDrainOrder(t *testing.T) {
	l, _, s := setupLedger(t)
	ctx := context.Background()
	registerAgent(t, s, "agent-x")

	idA, err := l.Enqueue(ctx, "agent-x", "pwd", nil)
	require.NoError(t, err)
	idB, err := l.Enqueue(ctx, "agent-x", "ls", map[string]string{"path": "/tmp"})
	require.NoError(t, err)
	idC, err := l.Enqueue(ctx, "agent-x", "sysinfo", nil)
	require.NoError(t, err)

	items, err := l.Drain(ctx, "agent-x")
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, []string{idA, idB, idC},
		[]string{items[0].ID, items[1].ID, items[2].ID})

	for _, item := range items {
		assert.Equal(t, store.WorkStatusSent, item.Status)
	}
}

func TestLedger_DrainPublishesSentEvents(t *testing.T) {
	l, bus, s := setupLedger(t)
	ctx := context.Background()
	registerAgent(t, s, "agent-x")

	var sent []string
	bus.Subscribe(events.KindWorkSent, func(e events.Event) {
		sent = append(sent, e.Payload.(*store.WorkItem).ID)
	})

	id, err := l.Enqueue(ctx, "agent-x", "pwd", nil)
	require.NoError(t, err)

	_, err = l.Drain(ctx, "agent-x")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, sent)
}

func TestLedger_RecordResultCompletesItem(t *testing.T) {
	l, bus, s := setupLedger(t)
	ctx := context.Background()
	registerAgent(t, s, "agent-x")

	var completed int
	bus.Subscribe(events.KindWorkCompleted, func(events.Event) { completed++ })

	id, err := l.Enqueue(ctx, "agent-x", "pwd", nil)
	require.NoError(t, err)
	_, err = l.Drain(ctx, "agent-x")
	require.NoError(t, err)

	err = l.RecordResult(ctx, "agent-x", protocol.ResultSubmission{
		WorkItemID: id,
		Success:    true,
		Output:     "/root",
		Timestamp:  time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, completed)

	item, err := l.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.WorkStatusCompleted, item.Status)

	result, err := l.ResultForItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "/root", result.Output)
}

func TestLedger_RecordResult_ReplayIgnored(t *testing.T) {
	l, bus, s := setupLedger(t)
	ctx := context.Background()
	registerAgent(t, s, "agent-x")

	var completed int
	bus.Subscribe(events.KindWorkCompleted, func(events.Event) { completed++ })

	id, err := l.Enqueue(ctx, "agent-x", "pwd", nil)
	require.NoError(t, err)
	_, err = l.Drain(ctx, "agent-x")
	require.NoError(t, err)

	sub := protocol.ResultSubmission{
		WorkItemID: id,
		Success:    true,
		Output:     "first",
		Timestamp:  time.Now().UTC(),
	}
	require.NoError(t, l.RecordResult(ctx, "agent-x", sub))

	// Retransmission after a lost response: accepted, no state change.
	sub.Output = "replayed"
	sub.Success = false
	require.NoError(t, l.RecordResult(ctx, "agent-x", sub))

	assert.Equal(t, 1, completed)

	result, err := l.ResultForItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "first", result.Output)
	assert.True(t, result.Success)
}

func TestLedger_RecordResult_UnknownItemAccepted(t *testing.T) {
	l, _, _ := setupLedger(t)

	err := l.RecordResult(context.Background(), "agent-x", protocol.ResultSubmission{
		WorkItemID: "never-issued",
		Success:    true,
		Output:     "stray",
		Timestamp:  time.Now().UTC(),
	})
	assert.NoError(t, err)
}

func TestLedger_EnqueueMidDrainNotLost(t *testing.T) {
	l, _, s := setupLedger(t)
	ctx := context.Background()
	registerAgent(t, s, "agent-x")

	_, err := l.Enqueue(ctx, "agent-x", "pwd", nil)
	require.NoError(t, err)

	first, err := l.Drain(ctx, "agent-x")
	require.NoError(t, err)
	require.Len(t, first, 1)

	// An item enqueued after one drain is delivered by the next.
	late, err := l.Enqueue(ctx, "agent-x", "ls", nil)
	require.NoError(t, err)

	second, err := l.Drain(ctx, "agent-x")
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, late, second[0].ID)
}

// flakyStore fails StoreWorkResult a set number of times before delegating.
type flakyStore struct {
	store.Store
	failures int
	calls    int
}

func (f *flakyStore) StoreWorkResult(ctx context.Context, result *store.WorkResult) (bool, error) {
	f.calls++
	if f.calls <= f.failures {
		return false, errors.New("database is locked")
	}
	return f.Store.StoreWorkResult(ctx, result)
}

func TestLedger_RecordResult_RetryAfterStoreError(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	flaky := &flakyStore{Store: s, failures: 1}
	l := New(flaky, events.NewBus(nil), nil)
	t.Cleanup(l.Close)

	ctx := context.Background()
	registerAgent(t, s, "agent-x")
	id, err := l.Enqueue(ctx, "agent-x", "pwd", nil)
	require.NoError(t, err)
	_, err = l.Drain(ctx, "agent-x")
	require.NoError(t, err)

	sub := protocol.ResultSubmission{
		WorkItemID: id,
		Success:    true,
		Output:     "/root",
		Timestamp:  time.Now().UTC(),
	}
	require.Error(t, l.RecordResult(ctx, "agent-x", sub))

	// The agent retransmits after the failed exchange; the retry must reach
	// the store, not be swallowed as a replay.
	require.NoError(t, l.RecordResult(ctx, "agent-x", sub))
	assert.Equal(t, 2, flaky.calls)

	item, err := l.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.WorkStatusCompleted, item.Status)

	result, err := l.ResultForItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "/root", result.Output)
}
