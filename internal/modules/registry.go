// ABOUTME: Capability module interface and thread-safe verb registry for the agent.
// ABOUTME: Maps work item verbs to the module that executes them, no inheritance involved.

package modules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrVerbCollision indicates a verb is already claimed by another module.
var ErrVerbCollision = errors.New("verb already registered")

// ErrUnknownVerb indicates no module claims the verb.
var ErrUnknownVerb = errors.New("unknown verb")

// Module is the capability contract concrete modules implement. Modules are
// selected through the registry by verb, never by type.
type Module interface {
	// Name identifies the module in logs and capability listings.
	Name() string

	// Initialize prepares the module before any Execute call.
	Initialize(ctx context.Context) error

	// Shutdown releases module resources. Called once, after the last Execute.
	Shutdown(ctx context.Context) error

	// Capabilities lists the verbs this module executes.
	Capabilities() []string

	// Execute runs one verb. The returned output is the work result body; a
	// non-nil error marks the result failed.
	Execute(ctx context.Context, verb string, args map[string]string) (string, error)
}

// Registry maps verbs to the module that claims them.
type Registry struct {
	mu      sync.RWMutex
	byVerb  map[string]Module
	modules map[string]Module
	logger  *slog.Logger
}

// NewRegistry creates an empty registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byVerb:  make(map[string]Module),
		modules: make(map[string]Module),
		logger:  logger.With("component", "modules"),
	}
}

// Register adds a module and claims all its capability verbs.
// Returns ErrVerbCollision if any verb is already taken; on collision nothing
// is registered.
func (r *Registry) Register(ctx context.Context, m Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	verbs := m.Capabilities()
	for _, verb := range verbs {
		if owner, exists := r.byVerb[verb]; exists {
			return fmt.Errorf("%w: %q claimed by module %s", ErrVerbCollision, verb, owner.Name())
		}
	}

	if err := m.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing module %s: %w", m.Name(), err)
	}

	for _, verb := range verbs {
		r.byVerb[verb] = m
	}
	r.modules[m.Name()] = m

	r.logger.Debug("module registered", "module", m.Name(), "verbs", verbs)
	return nil
}

// Execute dispatches a verb to its owning module.
// Returns ErrUnknownVerb (wrapped with the verb name) if nothing claims it.
func (r *Registry) Execute(ctx context.Context, verb string, args map[string]string) (string, error) {
	r.mu.RLock()
	m, ok := r.byVerb[verb]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownVerb, verb)
	}
	return m.Execute(ctx, verb, args)
}

// Verbs returns all registered verbs, sorted.
func (r *Registry) Verbs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	verbs := make([]string, 0, len(r.byVerb))
	for verb := range r.byVerb {
		verbs = append(verbs, verb)
	}
	sort.Strings(verbs)
	return verbs
}

// Shutdown stops every registered module. Errors are logged, not returned;
// shutdown always proceeds through the full set.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, m := range r.modules {
		if err := m.Shutdown(ctx); err != nil {
			r.logger.Error("module shutdown failed", "module", name, "error", err)
		}
	}
	r.byVerb = make(map[string]Module)
	r.modules = make(map[string]Module)
}
