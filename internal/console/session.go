// ABOUTME: Console session types: per-target contexts with command history.
// ABOUTME: One main session always exists and can never be closed.

package console

import (
	"context"
	"time"
)

// Session kinds.
const (
	KindMain     = "main"
	KindAgent    = "agent"
	KindListener = "listener"
)

// MainSessionID is the fixed id of the always-present main session.
const MainSessionID = "main"

// HistoryEntry records one command invocation against a session, failures
// included.
type HistoryEntry struct {
	Command   string
	Output    string
	Success   bool
	Timestamp time.Time
}

// Session is one addressable operator context. Agent and listener sessions
// reference their target by id only; the target's lifecycle belongs to the
// coordinator.
type Session struct {
	ID           string
	Kind         string
	Name         string
	TargetID     string
	History      []HistoryEntry
	LastActivity time.Time
}

func (s *Session) record(command, output string, success bool) {
	now := time.Now().UTC()
	s.History = append(s.History, HistoryEntry{
		Command:   command,
		Output:    output,
		Success:   success,
		Timestamp: now,
	})
	s.LastActivity = now
}

// AgentInfo is the console's view of a coordinator agent.
type AgentInfo struct {
	ID       string
	Hostname string
	Username string
	OS       string
	Status   string
	LastSeen time.Time
}

// WorkItemInfo is the console's view of a work item.
type WorkItemInfo struct {
	ID      string
	AgentID string
	Verb    string
	Status  string
}

// ResultInfo is the console's view of a work result.
type ResultInfo struct {
	WorkItemID string
	Success    bool
	Output     string
	ReceivedAt time.Time
}

// EventInfo is the console's view of a coordinator event.
type EventInfo struct {
	Kind      string
	Source    string
	Timestamp time.Time
}

// ListenerInfo is the console's view of a listener.
type ListenerInfo struct {
	ID       string
	Name     string
	Protocol string
	Host     string
	Port     int
	Status   string
}

// Coordinator is the backend surface the multiplexer drives. The HTTP
// operator client implements it; tests substitute a fake.
type Coordinator interface {
	ListAgents(ctx context.Context) ([]AgentInfo, error)
	EnqueueWork(ctx context.Context, agentID, verb string, args map[string]string) (string, error)
	KillAgent(ctx context.Context, agentID string) (string, error)
	GetWorkItem(ctx context.Context, id string) (*WorkItemInfo, error)
	ListResults(ctx context.Context, agentID string) ([]ResultInfo, error)
	ListEvents(ctx context.Context, kind string, limit int) ([]EventInfo, error)
	ListListeners(ctx context.Context) ([]ListenerInfo, error)
	StartListener(ctx context.Context, name, host string, port int) (*ListenerInfo, error)
	StopListener(ctx context.Context, id string) error
}
