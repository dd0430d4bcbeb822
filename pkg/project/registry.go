package project

import (
	"runtime"
	"sync"
	"weak"
)

// Registry is the process-local cache mapping project id to the single live
// controller for that id. Entries are weak: once no caller retains a strong
// reference the controller becomes collectable, bounding memory in a hub
// that has serviced many thousands of projects. Active operations hold their
// controller pointer for the duration, so an in-flight transition is never
// reclaimed out from under them.
type Registry struct {
	mu          sync.Mutex
	controllers map[string]weak.Pointer[Controller]
}

func NewRegistry() *Registry {
	return &Registry{
		controllers: make(map[string]weak.Pointer[Controller]),
	}
}

// Get returns the live controller for the id, or nil if none is cached.
func (r *Registry) Get(projectId string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	if wp, ok := r.controllers[projectId]; ok {
		if c := wp.Value(); c != nil {
			return c
		}
		delete(r.controllers, projectId)
	}
	return nil
}

// GetOrCreate returns the live controller for the id, constructing and
// registering one if absent. Concurrent callers converge on one instance.
func (r *Registry) GetOrCreate(projectId string, construct func() *Controller) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	if wp, ok := r.controllers[projectId]; ok {
		if c := wp.Value(); c != nil {
			return c
		}
	}

	c := construct()
	wp := weak.Make(c)
	r.controllers[projectId] = wp

	// Drop the map entry once the controller is collected, unless a newer
	// controller already replaced it.
	runtime.AddCleanup(c, func(id string) {
		r.mu.Lock()
		if current, ok := r.controllers[id]; ok && current == wp {
			delete(r.controllers, id)
		}
		r.mu.Unlock()
	}, projectId)

	return c
}

// Len reports the number of registered entries, live or pending cleanup.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.controllers)
}
