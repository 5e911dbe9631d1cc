// Package visibility defers chart construction until a chart's container nears the viewport.
package visibility

import "sync"

// State of a gate. The only transition is Hidden to Shown.
type State int

const (
	Hidden State = iota
	Shown
)

func (s State) String() string {
	if s == Shown {
		return "shown"
	}
	return "hidden"
}

// DefaultLeadMargin is how far outside the viewport (px) a container counts as visible.
const DefaultLeadMargin = 200

// Rect is an axis-aligned box in viewport coordinates.
type Rect struct {
	X, Y, W, H float64
}

// Expand grows r by m on every side.
func (r Rect) Expand(m float64) Rect {
	return Rect{X: r.X - m, Y: r.Y - m, W: r.W + 2*m, H: r.H + 2*m}
}

// Intersects reports whether r and o overlap with positive area.
func (r Rect) Intersects(o Rect) bool {
	return r.X < o.X+o.W && o.X < r.X+r.W && r.Y < o.Y+o.H && o.Y < r.Y+r.H
}

// Gate is a sticky Hidden/Shown state machine for one chart.
type Gate struct {
	mu     sync.Mutex
	state  State
	margin float64
	onShow []func()
}

// NewGate creates a hidden gate with the given lead margin in pixels.
func NewGate(margin float64) *Gate {
	if margin < 0 {
		margin = 0
	}
	return &Gate{margin: margin}
}

// Observe feeds a visibility observation. Once shown, later observations are ignored.
// It reports whether this call caused the transition.
func (g *Gate) Observe(visible bool) bool {
	if !visible {
		return false
	}

	g.mu.Lock()
	if g.state == Shown {
		g.mu.Unlock()
		return false
	}
	g.state = Shown
	fns := g.onShow
	g.onShow = nil
	g.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return true
}

// ObserveBounds checks container against viewport widened by the lead margin.
func (g *Gate) ObserveBounds(viewport, container Rect) bool {
	return g.Observe(viewport.Expand(g.margin).Intersects(container))
}

// Shown reports whether the gate has transitioned.
func (g *Gate) Shown() bool {
	return g.State() == Shown
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// OnShow registers fn to run once when the gate is shown. If already shown, fn runs immediately.
func (g *Gate) OnShow(fn func()) {
	g.mu.Lock()
	if g.state == Shown {
		g.mu.Unlock()
		fn()
		return
	}
	g.onShow = append(g.onShow, fn)
	g.mu.Unlock()
}
