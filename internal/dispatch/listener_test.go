// ABOUTME: Tests for listener lifecycle: bind conflicts, serving check-ins,
// ABOUTME: drain on stop, and record bookkeeping.

package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostwire/ghostwire/internal/store"
)

func checkinBody(t *testing.T, agentID string) io.Reader {
	t.Helper()
	data, err := json.Marshal(checkinFrom(agentID))
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func setupListenerManager(t *testing.T) (*ListenerManager, *Service) {
	t.Helper()
	svc, st, bus := setupService(t)
	lm := NewListenerManager(CheckinHandler(svc, testLogger()), st, bus, nil, testLogger())
	t.Cleanup(func() { lm.StopAll(context.Background()) })
	return lm, svc
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestListenerManager_StartAndServe(t *testing.T) {
	lm, _ := setupListenerManager(t)
	ctx := context.Background()

	rec, err := lm.Start(ctx, ListenerSpec{Name: "primary", Host: "127.0.0.1", Port: freePort(t)})
	require.NoError(t, err)
	assert.Equal(t, store.ListenerStatusRunning, rec.Status)
	assert.Equal(t, "http", rec.Protocol)
	assert.True(t, lm.Running(rec.ID))

	url := fmt.Sprintf("http://127.0.0.1:%d/", rec.Port)
	resp, err := http.Get(url)
	require.NoError(t, err)
	resp.Body.Close()
	// GET is rejected but the listener answered.
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestListenerManager_BindConflict(t *testing.T) {
	lm, _ := setupListenerManager(t)
	ctx := context.Background()

	port := freePort(t)
	_, err := lm.Start(ctx, ListenerSpec{Name: "first", Host: "127.0.0.1", Port: port})
	require.NoError(t, err)

	_, err = lm.Start(ctx, ListenerSpec{Name: "second", Host: "127.0.0.1", Port: port})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrListenerBound)

	// The failed start left exactly one record.
	records, err := lm.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestListenerManager_Stop(t *testing.T) {
	lm, _ := setupListenerManager(t)
	ctx := context.Background()

	rec, err := lm.Start(ctx, ListenerSpec{Name: "primary", Host: "127.0.0.1", Port: freePort(t)})
	require.NoError(t, err)
	require.NoError(t, lm.Stop(ctx, rec.ID))
	assert.False(t, lm.Running(rec.ID))

	records, err := lm.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, store.ListenerStatusStopped, records[0].Status)

	err = lm.Stop(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrListenerNotFound)
}

func TestListenerManager_MultipleConcurrentListeners(t *testing.T) {
	lm, svc := setupListenerManager(t)
	ctx := context.Background()

	a, err := lm.Start(ctx, ListenerSpec{Name: "a", Host: "127.0.0.1", Port: freePort(t)})
	require.NoError(t, err)
	b, err := lm.Start(ctx, ListenerSpec{Name: "b", Host: "127.0.0.1", Port: freePort(t)})
	require.NoError(t, err)

	client := &http.Client{Timeout: 2 * time.Second}
	for _, port := range []int{a.Port, b.Port} {
		url := fmt.Sprintf("http://127.0.0.1:%d/", port)
		resp, err := client.Post(url, "application/json",
			checkinBody(t, "agent-multi"))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}

	// Both listeners fed the same coordination core.
	views, err := svc.ListAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, views, 1)
}
