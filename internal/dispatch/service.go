// ABOUTME: Coordinator dispatch service: check-in handling, work queuing,
// ABOUTME: kill flow, and the periodic agent status sweep.

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ghostwire/ghostwire/internal/events"
	"github.com/ghostwire/ghostwire/internal/ledger"
	"github.com/ghostwire/ghostwire/internal/protocol"
	"github.com/ghostwire/ghostwire/internal/store"
)

// Status thresholds: an agent is active within activeFactor sleep intervals
// of its last check-in, idle within idleFactor, disconnected beyond that.
const (
	activeFactor = 3
	idleFactor   = 10
)

// ErrEmptyAgentID rejects check-ins that carry no agent identity.
var ErrEmptyAgentID = errors.New("empty agent id")

// ErrAgentKilled rejects operations against an agent marked killed.
var ErrAgentKilled = errors.New("agent is killed")

// Service is the coordination core on the server side. It owns agent
// registration, result intake, and the atomic pending-work drain.
type Service struct {
	store   store.Store
	ledger  *ledger.Ledger
	bus     *events.Bus
	logger  *slog.Logger
	metrics *Metrics

	sweep         *cron.Cron
	sweepSchedule string
}

// Option adjusts Service construction.
type Option func(*Service)

// WithMetrics attaches a metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithSweepSchedule overrides the status sweep cron expression.
func WithSweepSchedule(expr string) Option {
	return func(s *Service) { s.sweepSchedule = expr }
}

// NewService wires the dispatch core. All collaborators are injected; the
// service holds no process-global state.
func NewService(st store.Store, led *ledger.Ledger, bus *events.Bus, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:         st,
		ledger:        led,
		bus:           bus,
		logger:        logger.With("component", "dispatch"),
		sweepSchedule: "@every 1m",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleCheckin processes one agent exchange: registration on first contact,
// result intake, then a transactional drain of pending work. Results are
// recorded before the drain so a just-completed item is observable by the
// time its successor ships.
func (s *Service) HandleCheckin(ctx context.Context, req *protocol.CheckinRequest) (*protocol.CheckinResponse, error) {
	if req.AgentID == "" {
		return nil, ErrEmptyAgentID
	}

	now := time.Now().UTC()
	agent, err := s.store.GetAgent(ctx, req.AgentID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if _, err := s.registerAgent(ctx, req, now); err != nil {
			return nil, fmt.Errorf("registering agent %s: %w", req.AgentID, err)
		}
	case err != nil:
		return nil, fmt.Errorf("loading agent %s: %w", req.AgentID, err)
	default:
		// Older agents omit their beacon timing; keep the stored values then.
		interval, jitter := agent.SleepInterval, agent.JitterPercent
		if req.SleepInterval > 0 {
			interval, jitter = req.SleepInterval, req.JitterPercent
		}
		if err := s.store.UpdateAgentCheckin(ctx, req.AgentID, now, interval, jitter); err != nil {
			return nil, fmt.Errorf("recording check-in for %s: %w", req.AgentID, err)
		}
		if req.SystemInfo != nil {
			s.refreshSystemInfo(ctx, agent, req.SystemInfo)
		}
	}

	for _, sub := range req.Results {
		// RecordResult absorbs replays and unknown items itself; an error
		// here is a store failure, and the exchange must fail so the agent
		// keeps its buffer and retransmits.
		if err := s.ledger.RecordResult(ctx, req.AgentID, sub); err != nil {
			return nil, fmt.Errorf("recording result %s for %s: %w",
				sub.WorkItemID, req.AgentID, err)
		}
		if s.metrics != nil {
			s.metrics.ResultsRecorded.Inc()
		}
	}

	items, err := s.ledger.Drain(ctx, req.AgentID)
	if err != nil {
		return nil, fmt.Errorf("draining work for %s: %w", req.AgentID, err)
	}

	s.bus.Publish(events.KindAgentCheckin, map[string]any{
		"agent_id":   req.AgentID,
		"results":    len(req.Results),
		"dispatched": len(items),
	}, "dispatch")
	if s.metrics != nil {
		s.metrics.Checkins.Inc()
		s.metrics.WorkDispatched.Add(float64(len(items)))
	}

	resp := &protocol.CheckinResponse{Commands: make([]protocol.Command, 0, len(items))}
	for _, item := range items {
		resp.Commands = append(resp.Commands, protocol.Command{
			ID:   item.ID,
			Verb: item.Verb,
			Args: item.Args,
		})
	}
	return resp, nil
}

// registerAgent creates the agent row from the first check-in and announces
// the registration.
func (s *Service) registerAgent(ctx context.Context, req *protocol.CheckinRequest, now time.Time) (*store.Agent, error) {
	interval := req.SleepInterval
	if interval <= 0 {
		interval = 60
	}
	agent := &store.Agent{
		ID:            req.AgentID,
		SleepInterval: interval,
		JitterPercent: req.JitterPercent,
		FirstSeen:     now,
		LastSeen:      now,
	}
	applySystemInfo(agent, req.SystemInfo)

	if err := s.store.CreateAgent(ctx, agent); err != nil {
		if errors.Is(err, store.ErrDuplicateAgent) {
			// Lost a race with a concurrent first check-in; reuse the row.
			return s.store.GetAgent(ctx, req.AgentID)
		}
		return nil, err
	}

	s.logger.Info("agent registered", "agent_id", agent.ID, "hostname", agent.Hostname)
	s.bus.Publish(events.KindAgentRegistered, map[string]any{
		"agent_id": agent.ID,
		"hostname": agent.Hostname,
	}, "dispatch")
	if s.metrics != nil {
		s.metrics.AgentsRegistered.Inc()
	}
	return agent, nil
}

// refreshSystemInfo updates the stored snapshot when a known agent re-sends
// one, typically after a restart under the same id.
func (s *Service) refreshSystemInfo(ctx context.Context, agent *store.Agent, info *protocol.SystemInfo) {
	applySystemInfo(agent, info)
	if err := s.store.UpdateAgentSystemInfo(ctx, agent); err != nil {
		s.logger.Error("updating system info failed", "agent_id", agent.ID, "error", err)
	}
}

func applySystemInfo(agent *store.Agent, info *protocol.SystemInfo) {
	if info == nil {
		return
	}
	agent.Hostname = info.Hostname
	agent.Username = info.Username
	agent.OS = info.OS
	agent.Arch = info.Arch
	agent.PID = info.PID
	if raw, err := json.Marshal(info); err == nil {
		agent.SystemInfo = raw
	}
}

// EnqueueWork queues a verb for an agent. Returns the new work item id.
// Killed agents only accept the terminate verb so kill itself can flow.
func (s *Service) EnqueueWork(ctx context.Context, agentID, verb string, args map[string]string) (string, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return "", fmt.Errorf("loading agent %s: %w", agentID, err)
	}
	if agent.Killed && verb != "exit" {
		return "", fmt.Errorf("%w: %s", ErrAgentKilled, agentID)
	}

	id, err := s.ledger.Enqueue(ctx, agentID, verb, args)
	if err != nil {
		return "", err
	}
	if s.metrics != nil {
		s.metrics.WorkQueued.Inc()
	}
	return id, nil
}

// KillAgent queues a terminate work item and marks the agent killed. The
// agent picks the item up on its next check-in; the marker is immediate.
func (s *Service) KillAgent(ctx context.Context, agentID string) (string, error) {
	id, err := s.EnqueueWork(ctx, agentID, "exit", nil)
	if err != nil {
		return "", err
	}
	if err := s.store.MarkAgentKilled(ctx, agentID); err != nil {
		return "", fmt.Errorf("marking agent %s killed: %w", agentID, err)
	}
	s.logger.Info("agent kill queued", "agent_id", agentID, "work_item_id", id)
	return id, nil
}

// AgentView is an agent row with its derived status.
type AgentView struct {
	*store.Agent
	Status string
}

// GetAgent returns one agent with derived status.
func (s *Service) GetAgent(ctx context.Context, id string) (*AgentView, error) {
	agent, err := s.store.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	return &AgentView{Agent: agent, Status: DeriveStatus(agent, time.Now().UTC())}, nil
}

// ListAgents returns all agents with derived statuses.
func (s *Service) ListAgents(ctx context.Context) ([]*AgentView, error) {
	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	views := make([]*AgentView, 0, len(agents))
	for _, a := range agents {
		views = append(views, &AgentView{Agent: a, Status: DeriveStatus(a, now)})
	}
	return views, nil
}

// DeriveStatus computes an agent's presence from its last check-in relative
// to its sleep interval. Killed always wins.
func DeriveStatus(agent *store.Agent, now time.Time) string {
	if agent.Killed {
		return store.AgentStatusKilled
	}

	interval := time.Duration(agent.SleepInterval) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	elapsed := now.Sub(agent.LastSeen)

	switch {
	case elapsed <= activeFactor*interval:
		return store.AgentStatusActive
	case elapsed <= idleFactor*interval:
		return store.AgentStatusIdle
	default:
		return store.AgentStatusDisconnected
	}
}

// StartSweep begins the periodic status sweep that announces agents crossing
// into disconnected. Call StopSweep on shutdown.
func (s *Service) StartSweep() error {
	if s.sweep != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(s.sweepSchedule, s.runSweep); err != nil {
		return fmt.Errorf("scheduling status sweep: %w", err)
	}
	c.Start()
	s.sweep = c
	s.logger.Debug("status sweep started", "schedule", s.sweepSchedule)
	return nil
}

// StopSweep halts the sweep and waits for a running pass to finish.
func (s *Service) StopSweep() {
	if s.sweep == nil {
		return
	}
	<-s.sweep.Stop().Done()
	s.sweep = nil
}

func (s *Service) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		s.logger.Error("status sweep failed", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, a := range agents {
		if DeriveStatus(a, now) == store.AgentStatusDisconnected {
			s.bus.Publish(events.KindAgentDisconnected, map[string]any{
				"agent_id":  a.ID,
				"last_seen": a.LastSeen,
			}, "dispatch")
		}
	}
}
