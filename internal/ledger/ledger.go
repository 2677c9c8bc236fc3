// ABOUTME: Work Ledger service owning WorkItem and WorkResult lifecycle
// ABOUTME: Wraps the store's transactional queue with events and replay suppression

package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ghostwire/ghostwire/internal/dedupe"
	"github.com/ghostwire/ghostwire/internal/events"
	"github.com/ghostwire/ghostwire/internal/protocol"
	"github.com/ghostwire/ghostwire/internal/store"
)

const (
	// resultDedupeTTL covers the window in which an agent may retransmit a
	// result bundle after a lost response.
	resultDedupeTTL  = 15 * time.Minute
	resultDedupeSize = 4096
)

// Ledger owns the per-agent FIFO work queue and its delivery-state machine.
// All WorkItem and WorkResult mutation goes through here; the dispatch
// service and operator API only hold references.
type Ledger struct {
	store  store.Store
	bus    *events.Bus
	seen   *dedupe.Cache
	logger *slog.Logger
}

// New creates a ledger on top of a store, publishing lifecycle events to bus.
func New(s store.Store, bus *events.Bus, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:  s,
		bus:    bus,
		seen:   dedupe.New(resultDedupeTTL, resultDedupeSize),
		logger: logger.With("component", "ledger"),
	}
}

// Enqueue creates a pending work item for an agent, appended after all
// currently-pending items, and returns its id immediately. Delivery happens
// on the agent's next check-in; the caller is never blocked waiting for it.
func (l *Ledger) Enqueue(ctx context.Context, agentID, verb string, args map[string]string) (string, error) {
	item := &store.WorkItem{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		Verb:      verb,
		Args:      args,
		Status:    store.WorkStatusPending,
		CreatedAt: time.Now().UTC(),
	}

	if err := l.store.CreateWorkItem(ctx, item); err != nil {
		return "", fmt.Errorf("enqueueing work item: %w", err)
	}

	l.logger.Info("work item enqueued",
		"work_item_id", item.ID, "agent_id", agentID, "verb", verb)
	l.bus.Publish(events.KindWorkQueued, item, "ledger")
	return item.ID, nil
}

// Drain atomically dequeues all pending work items for the agent, marks them
// sent, and returns them in creation order. Items are marked sent before the
// response carrying them is confirmed delivered, so delivery is at-most-once:
// a response lost after this point means the items are never retried.
func (l *Ledger) Drain(ctx context.Context, agentID string) ([]*store.WorkItem, error) {
	items, err := l.store.DrainPendingWorkItems(ctx, agentID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("draining work items: %w", err)
	}

	for _, item := range items {
		l.bus.Publish(events.KindWorkSent, item, "ledger")
	}
	return items, nil
}

// RecordResult stores one bundled result and transitions its work item to a
// terminal state. Results for unknown or already-terminal items, including
// retransmissions after a lost response, are accepted idempotently and
// logged, never surfaced as an error to the agent.
func (l *Ledger) RecordResult(ctx context.Context, agentID string, sub protocol.ResultSubmission) error {
	if l.seen.Seen(sub.WorkItemID) {
		l.logger.Debug("ignoring replayed work result",
			"work_item_id", sub.WorkItemID, "agent_id", agentID)
		return nil
	}

	receivedAt := time.Now().UTC()
	result := &store.WorkResult{
		ID:         uuid.New().String(),
		WorkItemID: sub.WorkItemID,
		AgentID:    agentID,
		Output:     sub.Output,
		Success:    sub.Success,
		ReceivedAt: receivedAt,
	}

	// Only a stored result is marked handled; a failed store attempt must
	// stay retryable on the agent's next exchange.
	applied, err := l.store.StoreWorkResult(ctx, result)
	if err != nil {
		return fmt.Errorf("storing work result: %w", err)
	}
	l.seen.Mark(sub.WorkItemID)
	if !applied {
		l.logger.Info("result for unknown or terminal work item accepted",
			"work_item_id", sub.WorkItemID, "agent_id", agentID)
		return nil
	}

	l.logger.Info("work result recorded",
		"work_item_id", sub.WorkItemID, "agent_id", agentID, "success", sub.Success)
	l.bus.Publish(events.KindWorkCompleted, result, "ledger")
	return nil
}

// ListItems returns work items matching the filter in creation order.
func (l *Ledger) ListItems(ctx context.Context, filter store.WorkItemFilter) ([]*store.WorkItem, error) {
	return l.store.ListWorkItems(ctx, filter)
}

// GetItem returns one work item by id.
func (l *Ledger) GetItem(ctx context.Context, id string) (*store.WorkItem, error) {
	return l.store.GetWorkItem(ctx, id)
}

// ListResults returns the most recent results for an agent.
func (l *Ledger) ListResults(ctx context.Context, agentID string, limit int) ([]*store.WorkResult, error) {
	return l.store.ListWorkResults(ctx, agentID, limit)
}

// ResultForItem returns the stored result for a work item, or
// store.ErrNotFound.
func (l *Ledger) ResultForItem(ctx context.Context, workItemID string) (*store.WorkResult, error) {
	return l.store.GetWorkResultByItem(ctx, workItemID)
}

// Close releases the replay-suppression cache.
func (l *Ledger) Close() {
	l.seen.Close()
}
