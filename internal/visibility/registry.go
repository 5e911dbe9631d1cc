package visibility

import (
	"sort"
	"sync"
)

// Registry keeps one gate per chart id.
type Registry struct {
	mu     sync.Mutex
	margin float64
	gates  map[int]*Gate
}

// NewRegistry creates a registry whose gates use margin as lead margin.
func NewRegistry(margin float64) *Registry {
	return &Registry{margin: margin, gates: make(map[int]*Gate)}
}

// Gate returns the gate for id, creating a hidden one if needed.
func (r *Registry) Gate(id int) *Gate {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gates[id]
	if !ok {
		g = NewGate(r.margin)
		r.gates[id] = g
	}
	return g
}

// Shown reports whether chart id has been shown.
func (r *Registry) Shown(id int) bool {
	r.mu.Lock()
	g, ok := r.gates[id]
	r.mu.Unlock()
	return ok && g.Shown()
}

// Remove forgets the gate of a removed chart.
func (r *Registry) Remove(id int) {
	r.mu.Lock()
	delete(r.gates, id)
	r.mu.Unlock()
}

// Layout observes a vertical stack of chart containers against a viewport.
// Containers are given by id in display order with a uniform height and gap.
// It returns the ids that became shown on this call.
func (r *Registry) Layout(viewport Rect, ids []int, width, height, gap float64) []int {
	var shown []int
	y := 0.0
	for _, id := range ids {
		if r.Gate(id).ObserveBounds(viewport, Rect{X: 0, Y: y, W: width, H: height}) {
			shown = append(shown, id)
		}
		y += height + gap
	}
	return shown
}

// ShownIDs returns every shown chart id in ascending order.
func (r *Registry) ShownIDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int
	for id, g := range r.gates {
		if g.Shown() {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}
