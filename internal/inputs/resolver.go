package inputs

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
)

// IO is the user-facing surface the resolver uses for interactive inputs.
// Implementations may prompt a human (the REPL does) or answer from
// defaults.
type IO interface {
	PromptString(ctx context.Context, def Definition) (string, error)
	PickString(ctx context.Context, def Definition) (string, error)
}

// DefaultIO answers prompts non-interactively: promptString yields its
// default (or the empty string), pickString yields its default or first
// option.
type DefaultIO struct{}

func (DefaultIO) PromptString(_ context.Context, def Definition) (string, error) {
	if def.Default != nil {
		return *def.Default, nil
	}
	return "", nil
}

func (DefaultIO) PickString(_ context.Context, def Definition) (string, error) {
	if def.Default != nil {
		return *def.Default, nil
	}
	if len(def.Options) > 0 {
		return def.Options[0], nil
	}
	return "", nil
}

// Resolver resolves input IDs to values, caching results until the
// definitions change or a cached key is explicitly dropped.
type Resolver struct {
	mu    sync.RWMutex
	defs  map[string]Definition
	order []string
	cache map[string]any
	io    IO
}

// NewResolver creates a resolver over the given definitions. A nil io falls
// back to DefaultIO.
func NewResolver(defs []Definition, io IO) *Resolver {
	if io == nil {
		io = DefaultIO{}
	}
	r := &Resolver{
		defs:  make(map[string]Definition),
		cache: make(map[string]any),
		io:    io,
	}
	for _, def := range defs {
		if _, exists := r.defs[def.ID]; !exists {
			r.order = append(r.order, def.ID)
		}
		r.defs[def.ID] = def
	}
	return r
}

// Resolve returns the value for an input id, consulting the cache first.
func (r *Resolver) Resolve(ctx context.Context, id string) (any, error) {
	r.mu.RLock()
	if v, ok := r.cache[id]; ok {
		r.mu.RUnlock()
		return v, nil
	}
	def, ok := r.defs[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("input %s not found", id)
	}

	var value any
	var err error
	switch def.Type {
	case TypePromptString:
		value, err = r.io.PromptString(ctx, def)
	case TypePickString:
		value, err = r.io.PickString(ctx, def)
	case TypeCommand:
		value, err = runCommandInput(ctx, def)
	default:
		return nil, fmt.Errorf("input %s has unknown type %q", id, def.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve input %s: %w", id, err)
	}

	r.mu.Lock()
	r.cache[id] = value
	r.mu.Unlock()
	return value, nil
}

func runCommandInput(ctx context.Context, def Definition) (string, error) {
	var args []string
	keys := make([]string, 0, len(def.Args))
	for k := range def.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, k+"="+def.Args[k])
	}

	out, err := exec.CommandContext(ctx, def.Command, args...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("command failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// SetDefinition upserts a definition. The whole value cache is cleared so
// stale values cannot leak through the updated definition.
func (r *Resolver) SetDefinition(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.ID]; !exists {
		r.order = append(r.order, def.ID)
	}
	r.defs[def.ID] = def
	r.cache = make(map[string]any)
	return nil
}

// RemoveDefinition drops a definition and its cached value.
func (r *Resolver) RemoveDefinition(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[id]; !ok {
		return false
	}
	delete(r.defs, id)
	delete(r.cache, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// LoadDefinitions replaces the definition set and clears the cache.
func (r *Resolver) LoadDefinitions(defs []Definition) error {
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs = make(map[string]Definition)
	r.order = nil
	for _, def := range defs {
		if _, exists := r.defs[def.ID]; !exists {
			r.order = append(r.order, def.ID)
		}
		r.defs[def.ID] = def
	}
	r.cache = make(map[string]any)
	return nil
}

// GetDefinition returns a definition by id.
func (r *Resolver) GetDefinition(id string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	return def, ok
}

// Definitions returns all definitions in insertion order.
func (r *Resolver) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Definition, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.defs[id])
	}
	return result
}

// SetValue caches a value for an input id without resolving.
func (r *Resolver) SetValue(id string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[id] = value
}

// GetValue returns the cached value for an input id.
func (r *Resolver) GetValue(id string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.cache[id]
	return v, ok
}

// DeleteValue drops one cached value.
func (r *Resolver) DeleteValue(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cache[id]; !ok {
		return false
	}
	delete(r.cache, id)
	return true
}

// ClearValues drops every cached value.
func (r *Resolver) ClearValues() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]any)
}

// Values returns a snapshot of the cached values.
func (r *Resolver) Values() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make(map[string]any, len(r.cache))
	for k, v := range r.cache {
		snapshot[k] = v
	}
	return snapshot
}
