package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"inferd/pkg/types"
)

// LoadState is the lifecycle state of a model on the backend.
type LoadState string

const (
	StateUnloaded LoadState = "unloaded"
	StateLoading  LoadState = "loading"
	StateLoaded   LoadState = "loaded"
)

type entry struct {
	model    types.Model
	state    LoadState
	session  int // session the model is loaded on; -1 when unloaded
	lastUsed time.Time
	pins     int // active requests bound to this model
}

// Registry tracks the known models, which session (if any) holds each one,
// and last-used timestamps for eviction decisions. All methods are safe for
// concurrent use; the registry is one of the two shared-mutation surfaces of
// the gateway (the other is the session pool).
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	names   []string // insertion order for stable listings
}

// New builds a registry over a fixed catalog of models.
func New(models []types.Model) *Registry {
	r := &Registry{entries: make(map[string]*entry, len(models))}
	for _, m := range models {
		if _, dup := r.entries[m.Name]; dup {
			continue
		}
		r.entries[m.Name] = &entry{model: m, state: StateUnloaded, session: -1}
		r.names = append(r.names, m.Name)
	}
	return r
}

// Resolve reports whether name is a known model.
func (r *Registry) Resolve(name string) (types.Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return types.Model{}, false
	}
	return e.model, true
}

// MarkLoading transitions a model to loading on the given session. At most
// one model may be loading per session at a time.
func (r *Registry) MarkLoading(session int, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for n, e := range r.entries {
		if e.state == StateLoading && e.session == session && n != name {
			return fmt.Errorf("session %d already loading %s", session, n)
		}
	}
	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("unknown model: %s", name)
	}
	e.state = StateLoading
	e.session = session
	return nil
}

// MarkLoaded records a completed load of name on session.
func (r *Registry) MarkLoaded(session int, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		e.state = StateLoaded
		e.session = session
		e.lastUsed = time.Now()
	}
}

// MarkUnloaded records that name is no longer resident anywhere.
func (r *Registry) MarkUnloaded(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		e.state = StateUnloaded
		e.session = -1
	}
}

// Touch refreshes the last-used timestamp for name on session.
func (r *Registry) Touch(session int, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		e.session = session
		e.lastUsed = time.Now()
	}
}

// Pin marks name as bound to an active request, protecting it from eviction.
func (r *Registry) Pin(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		e.pins++
	}
}

// Unpin releases one active-request binding for name.
func (r *Registry) Unpin(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok && e.pins > 0 {
		e.pins--
	}
}

// LoadedOn returns the name of the model currently loaded or loading on
// session, if any.
func (r *Registry) LoadedOn(session int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for n, e := range r.entries {
		if e.session == session && e.state != StateUnloaded {
			return n, true
		}
	}
	return "", false
}

// StateOf returns the load state for name.
func (r *Registry) StateOf(name string) (LoadState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return StateUnloaded, false
	}
	return e.state, true
}

// EvictIfNeeded returns the least-recently-used loaded models to unload so
// that at most maxLoaded remain resident. Models bound to an active request
// are never selected. maxLoaded <= 0 disables eviction.
func (r *Registry) EvictIfNeeded(maxLoaded int) []string {
	if maxLoaded <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var loaded []*entry
	for _, e := range r.entries {
		if e.state == StateLoaded {
			loaded = append(loaded, e)
		}
	}
	if len(loaded) <= maxLoaded {
		return nil
	}
	sort.Slice(loaded, func(i, j int) bool { return loaded[i].lastUsed.Before(loaded[j].lastUsed) })
	var victims []string
	excess := len(loaded) - maxLoaded
	for _, e := range loaded {
		if excess == 0 {
			break
		}
		if e.pins > 0 {
			continue
		}
		victims = append(victims, e.model.Name)
		excess--
	}
	return victims
}

// List returns all known models with their load state in catalog order.
func (r *Registry) List() []types.ModelStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ModelStatus, 0, len(r.names))
	for _, n := range r.names {
		e := r.entries[n]
		var last int64
		if !e.lastUsed.IsZero() {
			last = e.lastUsed.Unix()
		}
		out = append(out, types.ModelStatus{Name: n, State: string(e.state), LastUsed: last})
	}
	return out
}
