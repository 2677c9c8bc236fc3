// ABOUTME: HTTP surfaces of the coordinator: the agent check-in endpoint and
// ABOUTME: the JWT-protected operator management API.

package dispatch

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ghostwire/ghostwire/internal/events"
	"github.com/ghostwire/ghostwire/internal/protocol"
	"github.com/ghostwire/ghostwire/internal/store"
)

// CheckinHandler serves the agent-facing endpoint. Every POST is one
// check-in exchange; anything else is rejected.
func CheckinHandler(svc *Service, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "checkin-http")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req protocol.CheckinRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "malformed check-in body")
			return
		}
		if req.AgentID == "" {
			req.AgentID = r.Header.Get(protocol.HeaderAgentID)
		}

		resp, err := svc.HandleCheckin(r.Context(), &req)
		if err != nil {
			if errors.Is(err, ErrEmptyAgentID) {
				writeJSONError(w, http.StatusBadRequest, "missing agent id")
				return
			}
			log.Error("check-in failed", "agent_id", req.AgentID, "error", err)
			writeJSONError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

// agentResponse is the API projection of an agent.
type agentResponse struct {
	ID            string    `json:"id"`
	Hostname      string    `json:"hostname"`
	Username      string    `json:"username"`
	OS            string    `json:"os"`
	Arch          string    `json:"arch"`
	PID           int       `json:"pid"`
	Status        string    `json:"status"`
	SleepInterval int       `json:"sleepInterval"`
	FirstSeen     time.Time `json:"firstSeen"`
	LastSeen      time.Time `json:"lastSeen"`
}

type workItemResponse struct {
	ID          string            `json:"id"`
	AgentID     string            `json:"agentId"`
	Verb        string            `json:"verb"`
	Args        map[string]string `json:"args,omitempty"`
	Status      string            `json:"status"`
	CreatedAt   time.Time         `json:"createdAt"`
	SentAt      *time.Time        `json:"sentAt,omitempty"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
}

type workResultResponse struct {
	ID         string    `json:"id"`
	WorkItemID string    `json:"workItemId"`
	AgentID    string    `json:"agentId"`
	Success    bool      `json:"success"`
	Output     string    `json:"output"`
	ReceivedAt time.Time `json:"receivedAt"`
}

type listenerResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Protocol string `json:"protocol"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Status   string `json:"status"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type enqueueRequest struct {
	Verb string            `json:"verb"`
	Args map[string]string `json:"args,omitempty"`
}

type enqueueResponse struct {
	WorkItemID string `json:"workItemId"`
}

type startListenerRequest struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	CertFile string `json:"certFile,omitempty"`
	KeyFile  string `json:"keyFile,omitempty"`
}

type eventResponse struct {
	Kind      string    `json:"kind"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// APIServer is the operator-facing management API.
type APIServer struct {
	svc       *Service
	listeners *ListenerManager
	auth      *Authenticator
	logger    *slog.Logger
	registry  *prometheus.Registry

	// MetricsPath overrides where the metrics endpoint is mounted.
	// Defaults to /metrics.
	MetricsPath string
}

// NewAPIServer wires the management API over the dispatch service.
// The prometheus registry is optional; nil disables the metrics endpoint.
func NewAPIServer(svc *Service, lm *ListenerManager, auth *Authenticator, reg *prometheus.Registry, logger *slog.Logger) *APIServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIServer{
		svc:       svc,
		listeners: lm,
		auth:      auth,
		logger:    logger.With("component", "api"),
		registry:  reg,
	}
}

// Handler builds the routed API handler. Login and metrics are open;
// everything else sits behind the bearer token middleware.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /api/login", s.handleLogin)
	if s.registry != nil {
		path := s.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	authed := http.NewServeMux()
	authed.HandleFunc("GET /api/agents", s.handleListAgents)
	authed.HandleFunc("GET /api/agents/{id}", s.handleGetAgent)
	authed.HandleFunc("POST /api/agents/{id}/work", s.handleEnqueueWork)
	authed.HandleFunc("POST /api/agents/{id}/kill", s.handleKillAgent)
	authed.HandleFunc("GET /api/agents/{id}/results", s.handleListResults)
	authed.HandleFunc("GET /api/work/{id}", s.handleGetWorkItem)
	authed.HandleFunc("GET /api/work/{id}/result", s.handleGetWorkResult)
	authed.HandleFunc("GET /api/events", s.handleListEvents)
	authed.HandleFunc("GET /api/listeners", s.handleListListeners)
	authed.HandleFunc("POST /api/listeners", s.handleStartListener)
	authed.HandleFunc("POST /api/listeners/{id}/stop", s.handleStopListener)

	mux.Handle("/api/", s.auth.Middleware(authed))
	return mux
}

func (s *APIServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed login body")
		return
	}

	token, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token})
}

func (s *APIServer) handleListAgents(w http.ResponseWriter, r *http.Request) {
	views, err := s.svc.ListAgents(r.Context())
	if err != nil {
		s.internalError(w, "listing agents", err)
		return
	}

	out := make([]agentResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toAgentResponse(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *APIServer) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.GetAgent(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "agent not found")
			return
		}
		s.internalError(w, "loading agent", err)
		return
	}
	writeJSON(w, http.StatusOK, toAgentResponse(view))
}

func (s *APIServer) handleEnqueueWork(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed work body")
		return
	}
	if req.Verb == "" {
		writeJSONError(w, http.StatusBadRequest, "missing verb")
		return
	}

	id, err := s.svc.EnqueueWork(r.Context(), r.PathValue("id"), req.Verb, req.Args)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeJSONError(w, http.StatusNotFound, "agent not found")
		case errors.Is(err, ErrAgentKilled):
			writeJSONError(w, http.StatusConflict, "agent is killed")
		default:
			s.internalError(w, "queuing work", err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, enqueueResponse{WorkItemID: id})
}

func (s *APIServer) handleKillAgent(w http.ResponseWriter, r *http.Request) {
	id, err := s.svc.KillAgent(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "agent not found")
			return
		}
		s.internalError(w, "killing agent", err)
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{WorkItemID: id})
}

func (s *APIServer) handleListResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.svc.ledger.ListResults(r.Context(), r.PathValue("id"), 100)
	if err != nil {
		s.internalError(w, "listing results", err)
		return
	}

	out := make([]workResultResponse, 0, len(results))
	for _, res := range results {
		out = append(out, toResultResponse(res))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *APIServer) handleGetWorkItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.svc.ledger.GetItem(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "work item not found")
			return
		}
		s.internalError(w, "loading work item", err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkItemResponse(item))
}

func (s *APIServer) handleGetWorkResult(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.ledger.ResultForItem(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "no result yet")
			return
		}
		s.internalError(w, "loading work result", err)
		return
	}
	writeJSON(w, http.StatusOK, toResultResponse(res))
}

func (s *APIServer) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	kind := events.Kind(r.URL.Query().Get("kind"))
	recorded := s.svc.bus.History(kind, limit)

	out := make([]eventResponse, 0, len(recorded))
	for _, e := range recorded {
		out = append(out, eventResponse{
			Kind:      string(e.Kind),
			Source:    e.Source,
			Timestamp: e.Timestamp,
			Payload:   e.Payload,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *APIServer) handleListListeners(w http.ResponseWriter, r *http.Request) {
	infos, err := s.listeners.List(r.Context())
	if err != nil {
		s.internalError(w, "listing listeners", err)
		return
	}

	out := make([]listenerResponse, 0, len(infos))
	for _, l := range infos {
		out = append(out, listenerResponse{
			ID:       l.ID,
			Name:     l.Name,
			Protocol: l.Protocol,
			Host:     l.Host,
			Port:     l.Port,
			Status:   l.Status,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *APIServer) handleStartListener(w http.ResponseWriter, r *http.Request) {
	var req startListenerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed listener body")
		return
	}
	if req.Port <= 0 || req.Port > 65535 {
		writeJSONError(w, http.StatusBadRequest, "invalid port")
		return
	}

	rec, err := s.listeners.Start(r.Context(), ListenerSpec{
		Name:     req.Name,
		Host:     req.Host,
		Port:     req.Port,
		CertFile: req.CertFile,
		KeyFile:  req.KeyFile,
	})
	if err != nil {
		if errors.Is(err, ErrListenerBound) {
			writeJSONError(w, http.StatusConflict, "address already bound")
			return
		}
		s.internalError(w, "starting listener", err)
		return
	}
	writeJSON(w, http.StatusCreated, listenerResponse{
		ID:       rec.ID,
		Name:     rec.Name,
		Protocol: rec.Protocol,
		Host:     rec.Host,
		Port:     rec.Port,
		Status:   rec.Status,
	})
}

func (s *APIServer) handleStopListener(w http.ResponseWriter, r *http.Request) {
	if err := s.listeners.Stop(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, ErrListenerNotFound) {
			writeJSONError(w, http.StatusNotFound, "listener not found")
			return
		}
		s.internalError(w, "stopping listener", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) internalError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, "error", err)
	writeJSONError(w, http.StatusInternalServerError, "internal error")
}

func toAgentResponse(v *AgentView) agentResponse {
	return agentResponse{
		ID:            v.ID,
		Hostname:      v.Hostname,
		Username:      v.Username,
		OS:            v.OS,
		Arch:          v.Arch,
		PID:           v.PID,
		Status:        v.Status,
		SleepInterval: v.SleepInterval,
		FirstSeen:     v.FirstSeen,
		LastSeen:      v.LastSeen,
	}
}

func toWorkItemResponse(item *store.WorkItem) workItemResponse {
	return workItemResponse{
		ID:          item.ID,
		AgentID:     item.AgentID,
		Verb:        item.Verb,
		Args:        item.Args,
		Status:      item.Status,
		CreatedAt:   item.CreatedAt,
		SentAt:      item.SentAt,
		CompletedAt: item.CompletedAt,
	}
}

func toResultResponse(res *store.WorkResult) workResultResponse {
	return workResultResponse{
		ID:         res.ID,
		WorkItemID: res.WorkItemID,
		AgentID:    res.AgentID,
		Success:    res.Success,
		Output:     res.Output,
		ReceivedAt: res.ReceivedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, protocol.ErrorResponse{Error: msg})
}
