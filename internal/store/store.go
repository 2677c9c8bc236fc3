// ABOUTME: Store interface and data types for ghostwire persistence
// ABOUTME: Defines Agent, WorkItem, WorkResult, Listener and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateAgent is returned when creating an agent whose id already exists.
var ErrDuplicateAgent = errors.New("agent already exists")

// Agent status values. active/idle/disconnected are derived from LastSeen at
// read time and never written to the database; killed is the only stored
// terminal marker.
const (
	AgentStatusActive       = "active"
	AgentStatusIdle         = "idle"
	AgentStatusDisconnected = "disconnected"
	AgentStatusKilled       = "killed"
)

// WorkItem status values. pending→sent happens exactly when an item is
// included in a dispatch response; sent→completed|failed exactly once, when a
// matching result arrives.
const (
	WorkStatusPending   = "pending"
	WorkStatusSent      = "sent"
	WorkStatusCompleted = "completed"
	WorkStatusFailed    = "failed"
)

// Listener status values.
const (
	ListenerStatusStopped = "stopped"
	ListenerStatusRunning = "running"
	ListenerStatusError   = "error"
)

// Agent represents one remote agent known to the coordinator.
// SystemInfo holds the raw registration snapshot as JSON; the denormalized
// columns exist so listings don't have to parse it.
type Agent struct {
	ID            string
	Hostname      string
	Username      string
	OS            string
	Arch          string
	PID           int
	SystemInfo    []byte
	SleepInterval int // seconds
	JitterPercent int
	FirstSeen     time.Time
	LastSeen      time.Time
	Killed        bool
}

// WorkItem is one unit of dispatched work tracked through the delivery state
// machine.
type WorkItem struct {
	ID          string
	AgentID     string
	Verb        string
	Args        map[string]string
	Status      string
	CreatedAt   time.Time
	SentAt      *time.Time
	CompletedAt *time.Time
}

// Terminal reports whether the item has reached a final delivery state.
func (w *WorkItem) Terminal() bool {
	return w.Status == WorkStatusCompleted || w.Status == WorkStatusFailed
}

// WorkResult is the output of executing one WorkItem, one-to-one with an item
// in terminal state.
type WorkResult struct {
	ID         string
	WorkItemID string
	AgentID    string
	Output     string
	Success    bool
	ReceivedAt time.Time
}

// Listener is a coordinator-owned transport endpoint record.
type Listener struct {
	ID        string
	Name      string
	Protocol  string
	Host      string
	Port      int
	Status    string
	CreatedAt time.Time
	StartedAt *time.Time
	StoppedAt *time.Time
}

// WorkItemFilter narrows ListWorkItems. Zero values match everything.
type WorkItemFilter struct {
	AgentID string
	Status  string
}

// Store defines the persistence operations the coordination core needs.
type Store interface {
	// Agents
	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	UpdateAgentCheckin(ctx context.Context, id string, lastSeen time.Time, sleepInterval, jitterPercent int) error
	UpdateAgentSystemInfo(ctx context.Context, agent *Agent) error
	ListAgents(ctx context.Context) ([]*Agent, error)
	MarkAgentKilled(ctx context.Context, id string) error

	// Work items
	CreateWorkItem(ctx context.Context, item *WorkItem) error
	GetWorkItem(ctx context.Context, id string) (*WorkItem, error)
	ListWorkItems(ctx context.Context, filter WorkItemFilter) ([]*WorkItem, error)

	// DrainPendingWorkItems atomically selects all pending items for the
	// agent in creation order, marks them sent, and returns them. Two
	// concurrent drains for the same agent never both receive an item.
	DrainPendingWorkItems(ctx context.Context, agentID string, now time.Time) ([]*WorkItem, error)

	// StoreWorkResult records a result and transitions the matching item to
	// completed or failed. A result for an unknown or already-terminal item
	// is accepted without error and reported via the applied return value.
	StoreWorkResult(ctx context.Context, result *WorkResult) (applied bool, err error)
	ListWorkResults(ctx context.Context, agentID string, limit int) ([]*WorkResult, error)
	GetWorkResultByItem(ctx context.Context, workItemID string) (*WorkResult, error)

	// Listeners
	SaveListener(ctx context.Context, l *Listener) error
	UpdateListenerStatus(ctx context.Context, id, status string, at time.Time) error
	ListListeners(ctx context.Context) ([]*Listener, error)

	// Close releases any resources held by the store.
	Close() error
}
