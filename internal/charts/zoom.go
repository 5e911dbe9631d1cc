package charts

import (
	"sync"

	"github.com/iot-monitor/chartengine/internal/models"
)

// ZoomCoordinator holds the single zoom window shared by every chart in a collection.
// It keeps no history: each Set overwrites the previous value.
type ZoomCoordinator struct {
	mu     sync.RWMutex
	cur    *models.ZoomRange
	nextID int
	subs   map[int]func(*models.ZoomRange)
}

// NewZoomCoordinator creates a coordinator at full extent.
func NewZoomCoordinator() *ZoomCoordinator {
	return &ZoomCoordinator{subs: make(map[int]func(*models.ZoomRange))}
}

// Set replaces the shared window and notifies subscribers.
// An empty or inverted window resets to full extent.
func (z *ZoomCoordinator) Set(r models.ZoomRange) {
	if !r.Valid() {
		z.Reset()
		return
	}
	z.publish(&r)
}

// Reset returns the shared window to full extent.
func (z *ZoomCoordinator) Reset() {
	z.publish(nil)
}

// Current returns a copy of the shared window, or nil for full extent.
func (z *ZoomCoordinator) Current() *models.ZoomRange {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return copyZoom(z.cur)
}

// Subscribe registers fn to be called with every new window. The returned
// function removes the subscription and never touches the shared window.
func (z *ZoomCoordinator) Subscribe(fn func(*models.ZoomRange)) (unsubscribe func()) {
	z.mu.Lock()
	id := z.nextID
	z.nextID++
	z.subs[id] = fn
	z.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			z.mu.Lock()
			delete(z.subs, id)
			z.mu.Unlock()
		})
	}
}

func (z *ZoomCoordinator) publish(r *models.ZoomRange) {
	z.mu.Lock()
	z.cur = r
	fns := make([]func(*models.ZoomRange), 0, len(z.subs))
	for _, fn := range z.subs {
		fns = append(fns, fn)
	}
	z.mu.Unlock()

	for _, fn := range fns {
		fn(copyZoom(r))
	}
}

func copyZoom(r *models.ZoomRange) *models.ZoomRange {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
