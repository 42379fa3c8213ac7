// Package registry tracks which engines are currently available and what each
// one declares it can do. It is the only mutable view of the backend set;
// everything else reads from it through ListCapable and Engine.
package registry

import (
	"fmt"
	"sync"

	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/backend"
	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/command"
)

// InvalidCapabilityError reports a descriptor declaring a tag outside the
// closed capability set. Registration leaves the registry unchanged.
type InvalidCapabilityError struct {
	BackendID string
	Tag       backend.Tag
}

func (e *InvalidCapabilityError) Error() string {
	return fmt.Sprintf("backend %s declares unknown capability %q", e.BackendID, e.Tag)
}

type entry struct {
	desc   backend.Descriptor
	engine backend.Engine
}

// Registry is a thread-safe capability registry. Locks are held only around
// map and slice mutation; never across an engine call.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]*entry
	order []string // registration order, for deterministic listings
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{byID: make(map[string]*entry)}
}

// Register upserts a backend keyed by descriptor id. Re-registering an id
// replaces its descriptor and engine but keeps its original position in the
// registration order, so repeated identical registrations are idempotent.
func (r *Registry) Register(desc backend.Descriptor, engine backend.Engine) error {
	if desc.ID == "" {
		return fmt.Errorf("backend descriptor id is required")
	}
	if engine == nil {
		return fmt.Errorf("backend %s: engine is required", desc.ID)
	}
	if len(desc.Capabilities) == 0 {
		return fmt.Errorf("backend %s declares no capabilities", desc.ID)
	}
	for _, tag := range desc.Capabilities {
		if !tag.Valid() {
			return &InvalidCapabilityError{BackendID: desc.ID, Tag: tag}
		}
	}
	for cat, strength := range desc.Strength {
		if strength < 0 || strength > 1 {
			return fmt.Errorf("backend %s: declared strength %.2f for %q out of [0,1]", desc.ID, strength, cat)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byID[desc.ID]; ok {
		existing.desc = desc
		existing.engine = engine
		return nil
	}
	r.byID[desc.ID] = &entry{desc: desc, engine: engine}
	r.order = append(r.order, desc.ID)
	return nil
}

// Unregister removes a backend, invalidating any cached handle. Returns false
// when the id is unknown.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// ListCapable returns descriptors whose capability set intersects the
// category's required set, in registration order.
func (r *Registry) ListCapable(category command.Category) []backend.Descriptor {
	required := category.RequiredCapabilities()

	r.mu.RLock()
	defer r.mu.RUnlock()
	var capable []backend.Descriptor
	for _, id := range r.order {
		e := r.byID[id]
		for _, tag := range required {
			if e.desc.Has(tag) {
				capable = append(capable, e.desc)
				break
			}
		}
	}
	return capable
}

// Descriptors returns all registered descriptors in registration order.
func (r *Registry) Descriptors() []backend.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	descs := make([]backend.Descriptor, 0, len(r.order))
	for _, id := range r.order {
		descs = append(descs, r.byID[id].desc)
	}
	return descs
}

// Get returns the descriptor for an id.
func (r *Registry) Get(id string) (backend.Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return backend.Descriptor{}, false
	}
	return e.desc, true
}

// Engine returns the engine handle for an id.
func (r *Registry) Engine(id string) (backend.Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return e.engine, true
}

// Len returns the number of registered backends.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
