// ABOUTME: Tests for the check-in loop: jitter bounds, exchange behavior,
// ABOUTME: result buffering across failures, and ordered isolated execution.

package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostwire/ghostwire/internal/modules"
	"github.com/ghostwire/ghostwire/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

// fakeServer records check-in requests and returns a scripted command queue.
type fakeServer struct {
	mu       sync.Mutex
	requests []protocol.CheckinRequest
	queue    [][]protocol.Command
	fail     bool
}

func (f *fakeServer) handler(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		http.Error(w, `{"error":"unavailable"}`, http.StatusServiceUnavailable)
		return
	}

	var req protocol.CheckinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad body"}`, http.StatusBadRequest)
		return
	}
	f.requests = append(f.requests, req)

	var commands []protocol.Command
	if len(f.queue) > 0 {
		commands = f.queue[0]
		f.queue = f.queue[1:]
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(protocol.CheckinResponse{Commands: commands})
}

func (f *fakeServer) recorded() []protocol.CheckinRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.CheckinRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

func setupBeacon(t *testing.T, fake *fakeServer, cfg Config) (*Beacon, *modules.Registry) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	t.Cleanup(srv.Close)

	cfg.ServerURL = srv.URL
	registry := modules.NewRegistry(testLogger())
	b := New(cfg, registry, testLogger())
	return b, registry
}

// echoModule returns its verb arguments verbatim, or fails on demand.
type echoModule struct {
	verbs []string
	calls []string
	mu    sync.Mutex
}

func (m *echoModule) Name() string                         { return "echo" }
func (m *echoModule) Initialize(ctx context.Context) error { return nil }
func (m *echoModule) Shutdown(ctx context.Context) error   { return nil }
func (m *echoModule) Capabilities() []string               { return m.verbs }
func (m *echoModule) Execute(ctx context.Context, verb string, args map[string]string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, args["tag"])
	m.mu.Unlock()
	if args["fail"] == "true" {
		return "", context.DeadlineExceeded
	}
	return "echo:" + args["tag"], nil
}

func TestJitteredSleep_StaysWithinBounds(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	interval := 60 * time.Second

	for i := 0; i < 1000; i++ {
		sleep := jitteredSleep(interval, 10, rnd)
		assert.GreaterOrEqual(t, sleep, 54*time.Second)
		assert.LessOrEqual(t, sleep, 66*time.Second)
	}
}

func TestJitteredSleep_ZeroJitterIsExact(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		assert.Equal(t, 30*time.Second, jitteredSleep(30*time.Second, 0, rnd))
	}
}

func TestJitteredSleep_FlooredAtOneSecond(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		sleep := jitteredSleep(2*time.Second, 50, rnd)
		assert.GreaterOrEqual(t, sleep, time.Second)
	}
}

func TestNew_ClampsConfig(t *testing.T) {
	b := New(Config{ServerURL: "http://localhost", JitterPercent: 90, SleepInterval: -5}, nil, testLogger())

	assert.Equal(t, maxJitterPercent, b.cfg.JitterPercent)
	assert.Equal(t, defaultSleepSecond, b.SleepInterval())
	assert.NotEmpty(t, b.ID())
}

func TestBeacon_StartSendsSystemInfoOnce(t *testing.T) {
	fake := &fakeServer{}
	b, _ := setupBeacon(t, fake, Config{AgentID: "agent-1", SleepInterval: 60})

	ctx := context.Background()
	require.NoError(t, b.Start(ctx))
	require.NoError(t, b.checkin(ctx))

	reqs := fake.recorded()
	require.Len(t, reqs, 2)
	require.NotNil(t, reqs[0].SystemInfo)
	assert.NotEmpty(t, reqs[0].SystemInfo.Hostname)
	assert.Nil(t, reqs[1].SystemInfo, "snapshot accompanies only the first exchange")
	assert.Equal(t, "agent-1", reqs[0].AgentID)
}

func TestBeacon_CheckinCarriesCurrentTiming(t *testing.T) {
	fake := &fakeServer{}
	b, _ := setupBeacon(t, fake, Config{AgentID: "agent-1", SleepInterval: 60, JitterPercent: 25})

	ctx := context.Background()
	require.NoError(t, b.Start(ctx))
	b.SetSleepInterval(300)
	require.NoError(t, b.checkin(ctx))

	reqs := fake.recorded()
	require.Len(t, reqs, 2)
	assert.Equal(t, 60, reqs[0].SleepInterval)
	assert.Equal(t, 25, reqs[0].JitterPercent)
	assert.Equal(t, 300, reqs[1].SleepInterval, "sleep adjustments ride the next exchange")
}

func TestBeacon_StartFailsWhenServerDown(t *testing.T) {
	fake := &fakeServer{fail: true}
	b, _ := setupBeacon(t, fake, Config{AgentID: "agent-1"})

	err := b.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInitialCheckin)
	assert.False(t, b.running.Load())
}

func TestBeacon_ExecutesWorkInOrder(t *testing.T) {
	fake := &fakeServer{
		queue: [][]protocol.Command{{
			{ID: "w1", Verb: "echo", Args: map[string]string{"tag": "first"}},
			{ID: "w2", Verb: "echo", Args: map[string]string{"tag": "second"}},
			{ID: "w3", Verb: "echo", Args: map[string]string{"tag": "third"}},
		}},
	}
	b, registry := setupBeacon(t, fake, Config{AgentID: "agent-1"})

	mod := &echoModule{verbs: []string{"echo"}}
	ctx := context.Background()
	require.NoError(t, registry.Register(ctx, mod))
	require.NoError(t, b.Start(ctx))

	b.executePending(ctx)

	assert.Equal(t, []string{"first", "second", "third"}, mod.calls)
	require.Len(t, b.resultBuf, 3)
	assert.Equal(t, "w1", b.resultBuf[0].WorkItemID)
	assert.Equal(t, "echo:first", b.resultBuf[0].Output)
	assert.True(t, b.resultBuf[0].Success)
}

func TestBeacon_FailedItemDoesNotAbortQueue(t *testing.T) {
	fake := &fakeServer{
		queue: [][]protocol.Command{{
			{ID: "w1", Verb: "echo", Args: map[string]string{"tag": "a", "fail": "true"}},
			{ID: "w2", Verb: "echo", Args: map[string]string{"tag": "b"}},
		}},
	}
	b, registry := setupBeacon(t, fake, Config{AgentID: "agent-1"})

	ctx := context.Background()
	require.NoError(t, registry.Register(ctx, &echoModule{verbs: []string{"echo"}}))
	require.NoError(t, b.Start(ctx))

	b.executePending(ctx)

	require.Len(t, b.resultBuf, 2)
	assert.False(t, b.resultBuf[0].Success)
	assert.NotEmpty(t, b.resultBuf[0].Output)
	assert.True(t, b.resultBuf[1].Success)
}

func TestBeacon_UnknownVerbYieldsFailedResult(t *testing.T) {
	fake := &fakeServer{
		queue: [][]protocol.Command{{
			{ID: "w1", Verb: "levitate", Args: nil},
		}},
	}
	b, _ := setupBeacon(t, fake, Config{AgentID: "agent-1"})

	ctx := context.Background()
	require.NoError(t, b.Start(ctx))
	b.executePending(ctx)

	require.Len(t, b.resultBuf, 1)
	assert.False(t, b.resultBuf[0].Success)
	assert.Contains(t, b.resultBuf[0].Output, "levitate")
}

func TestBeacon_ResultsBufferedAcrossFailedExchange(t *testing.T) {
	fake := &fakeServer{
		queue: [][]protocol.Command{{
			{ID: "w1", Verb: "echo", Args: map[string]string{"tag": "x"}},
		}},
	}
	b, registry := setupBeacon(t, fake, Config{AgentID: "agent-1"})

	ctx := context.Background()
	require.NoError(t, registry.Register(ctx, &echoModule{verbs: []string{"echo"}}))
	require.NoError(t, b.Start(ctx))
	b.executePending(ctx)
	require.Len(t, b.resultBuf, 1)

	fake.mu.Lock()
	fake.fail = true
	fake.mu.Unlock()
	require.Error(t, b.checkin(ctx))
	assert.Len(t, b.resultBuf, 1, "buffer survives the failed exchange")

	fake.mu.Lock()
	fake.fail = false
	fake.mu.Unlock()
	require.NoError(t, b.checkin(ctx))
	assert.Empty(t, b.resultBuf, "buffer flushed on the next success")

	reqs := fake.recorded()
	last := reqs[len(reqs)-1]
	require.Len(t, last.Results, 1)
	assert.Equal(t, "w1", last.Results[0].WorkItemID)
}

func TestBeacon_TerminateStopsLoop(t *testing.T) {
	fake := &fakeServer{}
	b, _ := setupBeacon(t, fake, Config{AgentID: "agent-1", SleepInterval: 1})

	ctx := context.Background()
	require.NoError(t, b.Start(ctx))
	b.Terminate()

	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not observe termination flag")
	}
}

func TestBeacon_RunStopsOnContextCancel(t *testing.T) {
	fake := &fakeServer{}
	b, _ := setupBeacon(t, fake, Config{AgentID: "agent-1", SleepInterval: 60})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, b.Start(ctx))

	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop on context cancellation")
	}
}

func TestBeacon_SetSleepIntervalFloor(t *testing.T) {
	b := New(Config{ServerURL: "http://localhost"}, nil, testLogger())

	assert.Equal(t, 1, b.SetSleepInterval(0))
	assert.Equal(t, 1, b.SleepInterval())
	assert.Equal(t, 120, b.SetSleepInterval(120))
	assert.Equal(t, 120, b.SleepInterval())
}
