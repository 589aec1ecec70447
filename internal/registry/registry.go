package registry

import (
	"iter"
	"sync"

	"fitsedit/internal/webview"
)

type entry struct {
	resource string
	panel    webview.Panel
	release  func()
}

// Registry tracks which panels show which resource. A panel leaves the
// registry when it is disposed and is never re-added automatically.
type Registry struct {
	mu      sync.Mutex
	entries []*entry
}

func New() *Registry {
	return &Registry{}
}

// Add registers panel for resource. Adding the same pair twice creates two
// entries.
func (r *Registry) Add(resource string, panel webview.Panel) {
	e := &entry{resource: resource, panel: panel}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	e.release = panel.OnDidDispose(func() { r.remove(e) })
}

func (r *Registry) remove(e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, other := range r.entries {
		if other == e {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return
		}
	}
}

// Get yields the panels registered for resource in insertion order. The
// registry is consulted again on every range over the result.
func (r *Registry) Get(resource string) iter.Seq[webview.Panel] {
	return func(yield func(webview.Panel) bool) {
		r.mu.Lock()
		matches := make([]webview.Panel, 0, len(r.entries))
		for _, e := range r.entries {
			if e.resource == resource {
				matches = append(matches, e.panel)
			}
		}
		r.mu.Unlock()

		for _, p := range matches {
			if !yield(p) {
				return
			}
		}
	}
}

// First returns the earliest registered panel for resource.
func (r *Registry) First(resource string) (webview.Panel, bool) {
	for p := range r.Get(resource) {
		return p, true
	}
	return nil, false
}

// Count returns how many entries reference resource.
func (r *Registry) Count(resource string) int {
	n := 0
	for range r.Get(resource) {
		n++
	}
	return n
}

// Close drops every entry and detaches the dispose hooks.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = nil
	r.mu.Unlock()

	for _, e := range entries {
		if e.release != nil {
			e.release()
		}
	}
}
