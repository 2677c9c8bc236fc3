// ABOUTME: Command routing across console sessions: global handlers first,
// ABOUTME: then session-kind fallthrough to the coordinator.

package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Console errors.
var (
	ErrMainSession    = errors.New("main session cannot be closed")
	ErrAlreadyMain    = errors.New("already in main session")
	ErrUnknownSession = errors.New("unknown session")
	ErrExit           = errors.New("exit requested")
)

type handlerFunc func(ctx context.Context, sess *Session, args []string) (string, error)

// Multiplexer owns the operator's session set and routes typed command lines.
// Global handlers run regardless of the current session; anything else falls
// through to the session's kind.
type Multiplexer struct {
	coord  Coordinator
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	activeID string

	handlers map[string]handlerFunc
}

// NewMultiplexer creates a multiplexer with the main session present and
// active.
func NewMultiplexer(coord Coordinator, logger *slog.Logger) *Multiplexer {
	if logger == nil {
		logger = slog.Default()
	}

	main := &Session{
		ID:           MainSessionID,
		Kind:         KindMain,
		Name:         "main",
		LastActivity: time.Now().UTC(),
	}
	m := &Multiplexer{
		coord:    coord,
		logger:   logger.With("component", "console"),
		sessions: map[string]*Session{MainSessionID: main},
		activeID: MainSessionID,
	}
	m.handlers = map[string]handlerFunc{
		"agents":         m.cmdAgents,
		"sessions":       m.cmdSessions,
		"interact":       m.cmdInteract,
		"background":     m.cmdBackground,
		"close":          m.cmdClose,
		"kill":           m.cmdKill,
		"killall":        m.cmdKillall,
		"results":        m.cmdResults,
		"events":         m.cmdEvents,
		"listeners":      m.cmdListeners,
		"listener-start": m.cmdListenerStart,
		"listener-stop":  m.cmdListenerStop,
		"work":           m.cmdWork,
		"help":           m.cmdHelp,
		"exit":           m.cmdExit,
	}
	return m
}

// Active returns the currently active session.
func (m *Multiplexer) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[m.activeID]
}

// Prompt renders the shell prompt for the active session.
func (m *Multiplexer) Prompt() string {
	sess := m.Active()
	if sess.Kind == KindMain {
		return "ghostwire"
	}
	return "ghostwire (" + sess.Name + ")"
}

// Process routes one command line against the active session.
func (m *Multiplexer) Process(ctx context.Context, line string) (string, error) {
	m.mu.Lock()
	id := m.activeID
	m.mu.Unlock()
	return m.ProcessIn(ctx, id, line)
}

// ProcessIn routes one command line against a specific session. The
// invocation is appended to that session's history whether it succeeds or
// not; blank lines are ignored.
func (m *Multiplexer) ProcessIn(ctx context.Context, sessionID, line string) (string, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", nil
	}

	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}

	tokens := strings.Fields(line)
	verb, args := tokens[0], tokens[1:]

	output, err := m.dispatch(ctx, sess, verb, args)

	m.mu.Lock()
	if err != nil && !errors.Is(err, ErrExit) {
		sess.record(line, err.Error(), false)
	} else {
		sess.record(line, output, true)
	}
	m.mu.Unlock()

	return output, err
}

func (m *Multiplexer) dispatch(ctx context.Context, sess *Session, verb string, args []string) (string, error) {
	if handler, ok := m.handlers[verb]; ok {
		return handler(ctx, sess, args)
	}

	switch sess.Kind {
	case KindAgent:
		return m.forwardToAgent(ctx, sess, verb, args)
	case KindListener:
		return m.forwardToListener(ctx, sess, verb)
	default:
		return "", fmt.Errorf("unknown command %q, try help", verb)
	}
}

// forwardToAgent turns a non-global command into a work item for the
// session's agent.
func (m *Multiplexer) forwardToAgent(ctx context.Context, sess *Session, verb string, args []string) (string, error) {
	id, err := m.coord.EnqueueWork(ctx, sess.TargetID, verb, verbArgs(verb, args))
	if err != nil {
		return "", fmt.Errorf("queuing %s: %w", verb, err)
	}
	return fmt.Sprintf("queued %s as work item %s", verb, id), nil
}

// forwardToListener maps listener session verbs onto listener management.
func (m *Multiplexer) forwardToListener(ctx context.Context, sess *Session, verb string) (string, error) {
	switch verb {
	case "stop":
		if err := m.coord.StopListener(ctx, sess.TargetID); err != nil {
			return "", fmt.Errorf("stopping listener: %w", err)
		}
		return "listener stopped", nil
	case "status":
		listeners, err := m.coord.ListListeners(ctx)
		if err != nil {
			return "", fmt.Errorf("listing listeners: %w", err)
		}
		for _, l := range listeners {
			if l.ID == sess.TargetID {
				return fmt.Sprintf("%s %s://%s:%d %s", l.Name, l.Protocol, l.Host, l.Port, l.Status), nil
			}
		}
		return "", fmt.Errorf("listener %s no longer known", sess.TargetID)
	default:
		return "", fmt.Errorf("unknown listener command %q (stop, status)", verb)
	}
}

// verbArgs maps positional console arguments onto the named args the agent
// verbs expect. key=value tokens pass through as written.
func verbArgs(verb string, args []string) map[string]string {
	if len(args) == 0 {
		return nil
	}

	out := make(map[string]string)
	var positional []string
	for _, arg := range args {
		if k, v, ok := strings.Cut(arg, "="); ok && k != "" {
			out[k] = v
			continue
		}
		positional = append(positional, arg)
	}
	if len(positional) == 0 {
		return out
	}

	joined := strings.Join(positional, " ")
	switch verb {
	case "shell":
		out["command"] = joined
	case "cd", "ls", "cat":
		out["path"] = joined
	case "sleep":
		out["seconds"] = positional[0]
	default:
		out["args"] = joined
	}
	return out
}

func (m *Multiplexer) cmdAgents(ctx context.Context, _ *Session, _ []string) (string, error) {
	agents, err := m.coord.ListAgents(ctx)
	if err != nil {
		return "", fmt.Errorf("listing agents: %w", err)
	}
	if len(agents) == 0 {
		return "no agents", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-38s %-16s %-12s %-14s %s\n", "ID", "HOSTNAME", "OS", "STATUS", "LAST SEEN")
	for _, a := range agents {
		fmt.Fprintf(&b, "%-38s %-16s %-12s %-14s %s\n",
			a.ID, a.Hostname, a.OS, a.Status, a.LastSeen.Format(time.RFC3339))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (m *Multiplexer) cmdSessions(_ context.Context, _ *Session, _ []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	for _, id := range ids {
		sess := m.sessions[id]
		marker := " "
		if id == m.activeID {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %-38s %-10s %s\n", marker, sess.ID, sess.Kind, sess.Name)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// cmdInteract resolves a target prefix and activates its session, creating
// one if the target has none yet. Agents are matched before listeners; the
// first hit in listing order wins.
func (m *Multiplexer) cmdInteract(ctx context.Context, _ *Session, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: interact <id-prefix>")
	}
	prefix := args[0]

	agents, err := m.coord.ListAgents(ctx)
	if err != nil {
		return "", fmt.Errorf("listing agents: %w", err)
	}
	for _, a := range agents {
		if strings.HasPrefix(a.ID, prefix) {
			sess := m.sessionFor(KindAgent, a.ID, agentSessionName(a))
			return fmt.Sprintf("interacting with %s (%s)", a.ID, sess.Name), nil
		}
	}

	listeners, err := m.coord.ListListeners(ctx)
	if err != nil {
		return "", fmt.Errorf("listing listeners: %w", err)
	}
	for _, l := range listeners {
		if strings.HasPrefix(l.ID, prefix) {
			sess := m.sessionFor(KindListener, l.ID, l.Name)
			return fmt.Sprintf("interacting with listener %s (%s)", l.ID, sess.Name), nil
		}
	}

	return "", fmt.Errorf("no agent or listener matching %q", prefix)
}

// sessionFor returns the existing session for the target or creates one,
// and makes it active either way.
func (m *Multiplexer) sessionFor(kind, targetID, name string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sess := range m.sessions {
		if sess.Kind == kind && sess.TargetID == targetID {
			m.activeID = sess.ID
			return sess
		}
	}

	sess := &Session{
		ID:           uuid.New().String(),
		Kind:         kind,
		Name:         name,
		TargetID:     targetID,
		LastActivity: time.Now().UTC(),
	}
	m.sessions[sess.ID] = sess
	m.activeID = sess.ID
	return sess
}

func agentSessionName(a AgentInfo) string {
	if a.Hostname != "" {
		return a.Hostname
	}
	return a.ID
}

func (m *Multiplexer) cmdBackground(_ context.Context, sess *Session, _ []string) (string, error) {
	if sess.Kind == KindMain {
		return "", ErrAlreadyMain
	}
	m.mu.Lock()
	m.activeID = MainSessionID
	m.mu.Unlock()
	return "backgrounded " + sess.Name, nil
}

// cmdClose removes a session. Without an argument it closes the session the
// command ran in. The main session is never removed.
func (m *Multiplexer) cmdClose(_ context.Context, sess *Session, args []string) (string, error) {
	target := sess.ID
	if len(args) == 1 {
		target = args[0]
	}
	if target == MainSessionID {
		return "", ErrMainSession
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	closed, ok := m.sessions[target]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSession, target)
	}
	delete(m.sessions, target)
	if m.activeID == target {
		m.activeID = MainSessionID
	}
	return "closed " + closed.Name, nil
}

func (m *Multiplexer) cmdKill(ctx context.Context, sess *Session, args []string) (string, error) {
	var target string
	switch {
	case len(args) == 1:
		resolved, err := m.resolveAgent(ctx, args[0])
		if err != nil {
			return "", err
		}
		target = resolved
	case sess.Kind == KindAgent:
		target = sess.TargetID
	default:
		return "", fmt.Errorf("usage: kill <agent-id-prefix>")
	}

	id, err := m.coord.KillAgent(ctx, target)
	if err != nil {
		return "", fmt.Errorf("killing %s: %w", target, err)
	}
	return fmt.Sprintf("kill queued for %s (work item %s)", target, id), nil
}

func (m *Multiplexer) cmdKillall(ctx context.Context, _ *Session, _ []string) (string, error) {
	agents, err := m.coord.ListAgents(ctx)
	if err != nil {
		return "", fmt.Errorf("listing agents: %w", err)
	}

	killed := 0
	for _, a := range agents {
		if a.Status == "killed" {
			continue
		}
		if _, err := m.coord.KillAgent(ctx, a.ID); err != nil {
			m.logger.Error("killall: kill failed", "agent_id", a.ID, "error", err)
			continue
		}
		killed++
	}
	return fmt.Sprintf("kill queued for %d agents", killed), nil
}

func (m *Multiplexer) cmdResults(ctx context.Context, sess *Session, args []string) (string, error) {
	var target string
	switch {
	case len(args) == 1:
		resolved, err := m.resolveAgent(ctx, args[0])
		if err != nil {
			return "", err
		}
		target = resolved
	case sess.Kind == KindAgent:
		target = sess.TargetID
	default:
		return "", fmt.Errorf("usage: results <agent-id-prefix>")
	}

	results, err := m.coord.ListResults(ctx, target)
	if err != nil {
		return "", fmt.Errorf("listing results: %w", err)
	}
	if len(results) == 0 {
		return "no results", nil
	}

	var b strings.Builder
	for _, r := range results {
		status := "ok"
		if !r.Success {
			status = "failed"
		}
		fmt.Fprintf(&b, "[%s] %s %s\n%s\n", r.ReceivedAt.Format(time.RFC3339), r.WorkItemID, status, r.Output)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// cmdEvents shows the coordinator's recent event history, optionally filtered
// by kind.
func (m *Multiplexer) cmdEvents(ctx context.Context, _ *Session, args []string) (string, error) {
	if len(args) > 1 {
		return "", fmt.Errorf("usage: events [kind]")
	}
	kind := ""
	if len(args) == 1 {
		kind = args[0]
	}

	recorded, err := m.coord.ListEvents(ctx, kind, 50)
	if err != nil {
		return "", fmt.Errorf("listing events: %w", err)
	}
	if len(recorded) == 0 {
		return "no events", nil
	}

	var b strings.Builder
	for _, e := range recorded {
		fmt.Fprintf(&b, "[%s] %-22s %s\n", e.Timestamp.Format(time.RFC3339), e.Kind, e.Source)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (m *Multiplexer) cmdListeners(ctx context.Context, _ *Session, _ []string) (string, error) {
	listeners, err := m.coord.ListListeners(ctx)
	if err != nil {
		return "", fmt.Errorf("listing listeners: %w", err)
	}
	if len(listeners) == 0 {
		return "no listeners", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-38s %-14s %-8s %-21s %s\n", "ID", "NAME", "PROTO", "ADDRESS", "STATUS")
	for _, l := range listeners {
		fmt.Fprintf(&b, "%-38s %-14s %-8s %-21s %s\n",
			l.ID, l.Name, l.Protocol, fmt.Sprintf("%s:%d", l.Host, l.Port), l.Status)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (m *Multiplexer) cmdListenerStart(ctx context.Context, _ *Session, args []string) (string, error) {
	if len(args) < 2 || len(args) > 3 {
		return "", fmt.Errorf("usage: listener-start <host> <port> [name]")
	}
	port, err := strconv.Atoi(args[1])
	if err != nil {
		return "", fmt.Errorf("parsing port %q: %w", args[1], err)
	}
	name := ""
	if len(args) == 3 {
		name = args[2]
	}

	l, err := m.coord.StartListener(ctx, name, args[0], port)
	if err != nil {
		return "", fmt.Errorf("starting listener: %w", err)
	}
	return fmt.Sprintf("listener %s started on %s://%s:%d", l.Name, l.Protocol, l.Host, l.Port), nil
}

func (m *Multiplexer) cmdListenerStop(ctx context.Context, _ *Session, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: listener-stop <listener-id>")
	}
	if err := m.coord.StopListener(ctx, args[0]); err != nil {
		return "", fmt.Errorf("stopping listener: %w", err)
	}
	return "listener stopped", nil
}

func (m *Multiplexer) cmdWork(ctx context.Context, _ *Session, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: work <work-item-id>")
	}
	item, err := m.coord.GetWorkItem(ctx, args[0])
	if err != nil {
		return "", fmt.Errorf("loading work item: %w", err)
	}
	return fmt.Sprintf("%s agent=%s verb=%s status=%s", item.ID, item.AgentID, item.Verb, item.Status), nil
}

func (m *Multiplexer) cmdHelp(_ context.Context, sess *Session, _ []string) (string, error) {
	verbs := make([]string, 0, len(m.handlers))
	for verb := range m.handlers {
		verbs = append(verbs, verb)
	}
	sort.Strings(verbs)

	out := "commands: " + strings.Join(verbs, ", ")
	if sess.Kind == KindAgent {
		out += "\nanything else is sent to the agent as a work item"
	}
	return out, nil
}

func (m *Multiplexer) cmdExit(_ context.Context, _ *Session, _ []string) (string, error) {
	return "", ErrExit
}

// resolveAgent expands an agent id prefix to a full id, first match wins.
func (m *Multiplexer) resolveAgent(ctx context.Context, prefix string) (string, error) {
	agents, err := m.coord.ListAgents(ctx)
	if err != nil {
		return "", fmt.Errorf("listing agents: %w", err)
	}
	for _, a := range agents {
		if strings.HasPrefix(a.ID, prefix) {
			return a.ID, nil
		}
	}
	return "", fmt.Errorf("no agent matching %q", prefix)
}
