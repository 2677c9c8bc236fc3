// ABOUTME: Tests for the verb registry: claim conflicts, dispatch, shutdown.

package modules

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubModule struct {
	name     string
	verbs    []string
	initErr  error
	shutErr  error
	shutdown bool
	executed []string
}

func (m *stubModule) Name() string                     { return m.name }
func (m *stubModule) Capabilities() []string           { return m.verbs }
func (m *stubModule) Initialize(context.Context) error { return m.initErr }

func (m *stubModule) Shutdown(context.Context) error {
	m.shutdown = true
	return m.shutErr
}

func (m *stubModule) Execute(_ context.Context, verb string, _ map[string]string) (string, error) {
	m.executed = append(m.executed, verb)
	return "ran " + verb, nil
}

func TestRegistry_RegisterAndExecute(t *testing.T) {
	reg := NewRegistry(nil)
	mod := &stubModule{name: "core", verbs: []string{"pwd", "ls"}}
	require.NoError(t, reg.Register(context.Background(), mod))

	out, err := reg.Execute(context.Background(), "pwd", nil)
	require.NoError(t, err)
	assert.Equal(t, "ran pwd", out)
	assert.Equal(t, []string{"pwd"}, mod.executed)
}

func TestRegistry_VerbCollision(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(context.Background(), &stubModule{name: "a", verbs: []string{"shell"}}))

	second := &stubModule{name: "b", verbs: []string{"cat", "shell"}}
	err := reg.Register(context.Background(), second)
	require.ErrorIs(t, err, ErrVerbCollision)

	// Nothing from the colliding module is claimed, not even its clean verbs.
	_, err = reg.Execute(context.Background(), "cat", nil)
	assert.ErrorIs(t, err, ErrUnknownVerb)
}

func TestRegistry_InitializeFailureBlocksClaim(t *testing.T) {
	reg := NewRegistry(nil)
	mod := &stubModule{name: "broken", verbs: []string{"pwd"}, initErr: errors.New("no disk")}

	err := reg.Register(context.Background(), mod)
	require.Error(t, err)
	_, err = reg.Execute(context.Background(), "pwd", nil)
	assert.ErrorIs(t, err, ErrUnknownVerb)
}

func TestRegistry_UnknownVerbNamesVerb(t *testing.T) {
	reg := NewRegistry(nil)

	_, err := reg.Execute(context.Background(), "mimikatz", nil)
	require.ErrorIs(t, err, ErrUnknownVerb)
	assert.Contains(t, err.Error(), "mimikatz")
}

func TestRegistry_VerbsSorted(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(context.Background(), &stubModule{name: "core", verbs: []string{"pwd", "cat", "ls"}}))

	assert.Equal(t, []string{"cat", "ls", "pwd"}, reg.Verbs())
}

func TestRegistry_ShutdownStopsAllDespiteErrors(t *testing.T) {
	reg := NewRegistry(nil)
	bad := &stubModule{name: "bad", verbs: []string{"a"}, shutErr: errors.New("stuck")}
	good := &stubModule{name: "good", verbs: []string{"b"}}
	require.NoError(t, reg.Register(context.Background(), bad))
	require.NoError(t, reg.Register(context.Background(), good))

	reg.Shutdown(context.Background())

	assert.True(t, bad.shutdown)
	assert.True(t, good.shutdown)
	assert.Empty(t, reg.Verbs())
}
