// ABOUTME: Listener lifecycle management: bind, serve check-ins, drain, stop.
// ABOUTME: Bind conflicts surface before any server state changes.

package dispatch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ghostwire/ghostwire/internal/events"
	"github.com/ghostwire/ghostwire/internal/store"
)

const listenerDrainTimeout = 10 * time.Second

// Listener errors.
var (
	ErrListenerBound    = errors.New("address already bound")
	ErrListenerNotFound = errors.New("listener not found")
)

// ListenerSpec describes a listener to start.
type ListenerSpec struct {
	Name string
	Host string
	Port int

	// CertFile and KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string
}

func (s ListenerSpec) protocol() string {
	if s.CertFile != "" && s.KeyFile != "" {
		return "https"
	}
	return "http"
}

type runningListener struct {
	record *store.Listener
	server *http.Server
	done   chan struct{}
}

// ListenerManager starts and stops agent-facing listeners and keeps their
// records in the store so restarts can report prior endpoints.
type ListenerManager struct {
	handler http.Handler
	store   store.Store
	bus     *events.Bus
	logger  *slog.Logger
	metrics *Metrics

	// ExchangeTimeout bounds a single check-in exchange on every listener
	// started after it is set. Zero means no deadline.
	ExchangeTimeout time.Duration

	mu      sync.Mutex
	running map[string]*runningListener
}

// NewListenerManager wires a manager. The handler serves every connection a
// listener accepts, normally CheckinHandler.
func NewListenerManager(handler http.Handler, st store.Store, bus *events.Bus, metrics *Metrics, logger *slog.Logger) *ListenerManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ListenerManager{
		handler: handler,
		store:   st,
		bus:     bus,
		logger:  logger.With("component", "listeners"),
		metrics: metrics,
		running: make(map[string]*runningListener),
	}
}

// Start binds the address and begins serving. The bind happens first so an
// in-use port fails cleanly with ErrListenerBound and no record mutation.
func (m *ListenerManager) Start(ctx context.Context, spec ListenerSpec) (*store.Listener, error) {
	addr := net.JoinHostPort(spec.Host, fmt.Sprintf("%d", spec.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrListenerBound, addr, err)
	}

	now := time.Now().UTC()
	record := &store.Listener{
		ID:        uuid.New().String(),
		Name:      spec.Name,
		Protocol:  spec.protocol(),
		Host:      spec.Host,
		Port:      spec.Port,
		Status:    store.ListenerStatusRunning,
		CreatedAt: now,
		StartedAt: &now,
	}
	if record.Name == "" {
		record.Name = addr
	}

	if err := m.store.SaveListener(ctx, record); err != nil {
		ln.Close()
		return nil, fmt.Errorf("saving listener record: %w", err)
	}

	srv := &http.Server{
		Handler:           m.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       m.ExchangeTimeout,
		WriteTimeout:      m.ExchangeTimeout,
	}

	rl := &runningListener{record: record, server: srv, done: make(chan struct{})}
	m.mu.Lock()
	m.running[record.ID] = rl
	m.mu.Unlock()

	go m.serve(rl, ln, spec)

	m.logger.Info("listener started", "listener_id", record.ID, "name", record.Name,
		"addr", addr, "protocol", record.Protocol)
	m.bus.Publish(events.KindListenerStarted, map[string]any{
		"listener_id": record.ID,
		"name":        record.Name,
		"addr":        addr,
	}, "listeners")
	if m.metrics != nil {
		m.metrics.ActiveListeners.Inc()
	}
	return record, nil
}

func (m *ListenerManager) serve(rl *runningListener, ln net.Listener, spec ListenerSpec) {
	defer close(rl.done)

	var err error
	if spec.CertFile != "" && spec.KeyFile != "" {
		rl.server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		err = rl.server.ServeTLS(ln, spec.CertFile, spec.KeyFile)
	} else {
		err = rl.server.Serve(ln)
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		m.logger.Error("listener failed", "listener_id", rl.record.ID, "error", err)
		m.markStopped(rl.record.ID, store.ListenerStatusError)
		m.bus.Publish(events.KindListenerError, map[string]any{
			"listener_id": rl.record.ID,
			"error":       err.Error(),
		}, "listeners")
		m.mu.Lock()
		delete(m.running, rl.record.ID)
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.ActiveListeners.Dec()
		}
	}
}

// Stop shuts one listener down, draining in-flight exchanges.
func (m *ListenerManager) Stop(ctx context.Context, id string) error {
	m.mu.Lock()
	rl, ok := m.running[id]
	if ok {
		delete(m.running, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrListenerNotFound, id)
	}

	drainCtx, cancel := context.WithTimeout(ctx, listenerDrainTimeout)
	defer cancel()
	if err := rl.server.Shutdown(drainCtx); err != nil {
		m.logger.Warn("listener drain incomplete", "listener_id", id, "error", err)
	}
	<-rl.done

	m.markStopped(id, store.ListenerStatusStopped)
	m.logger.Info("listener stopped", "listener_id", id, "name", rl.record.Name)
	m.bus.Publish(events.KindListenerStopped, map[string]any{
		"listener_id": id,
		"name":        rl.record.Name,
	}, "listeners")
	if m.metrics != nil {
		m.metrics.ActiveListeners.Dec()
	}
	return nil
}

// StopAll stops every running listener. Used at shutdown.
func (m *ListenerManager) StopAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Stop(ctx, id); err != nil {
			m.logger.Error("stopping listener failed", "listener_id", id, "error", err)
		}
	}
}

// List returns all listener records, running and historical, with the status
// of running ones reflecting live state.
func (m *ListenerManager) List(ctx context.Context) ([]*store.Listener, error) {
	records, err := m.store.ListListeners(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing listeners: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		if _, ok := m.running[rec.ID]; ok {
			rec.Status = store.ListenerStatusRunning
		} else if rec.Status == store.ListenerStatusRunning {
			// Row left over from an unclean shutdown.
			rec.Status = store.ListenerStatusStopped
		}
	}
	return records, nil
}

// Running reports whether the listener id is currently serving.
func (m *ListenerManager) Running(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[id]
	return ok
}

func (m *ListenerManager) markStopped(id, status string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.UpdateListenerStatus(ctx, id, status, time.Now().UTC()); err != nil {
		m.logger.Error("updating listener status failed", "listener_id", id, "error", err)
	}
}
