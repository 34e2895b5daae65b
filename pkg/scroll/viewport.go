// Package scroll drives page loads from viewport visibility. A Viewport
// models the rendered list and reports when an observed index comes within
// the lookahead margin of the visible window; a Trigger turns those reports
// into at most one page load at a time.
package scroll

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidViewport is returned for a non-positive height or negative margin.
var ErrInvalidViewport = errors.New("invalid viewport")

// Entry reports the intersection state of the observed index.
type Entry struct {
	Index          int
	IsIntersecting bool
}

// Viewport is a window of Height items over a list, scrolled by Top. An
// index intersects when it lies within [Top-Margin, Top+Height+Margin).
// At most one index is observed at a time.
type Viewport struct {
	mu       sync.Mutex
	length   int
	top      int
	height   int
	margin   int
	observed int
	last     *Entry
	changes  chan Entry
}

// NewViewport creates a viewport showing height items with a lookahead of
// margin items on either side.
func NewViewport(height, margin int) (*Viewport, error) {
	if height <= 0 {
		return nil, fmt.Errorf("%w: height must be > 0 (got %d)", ErrInvalidViewport, height)
	}
	if margin < 0 {
		return nil, fmt.Errorf("%w: margin must be >= 0 (got %d)", ErrInvalidViewport, margin)
	}
	return &Viewport{
		height:   height,
		margin:   margin,
		observed: -1,
		changes:  make(chan Entry, 1),
	}, nil
}

// Changes delivers intersection reports for the observed index. Reports are
// coalesced: a reader that falls behind sees only the latest one.
func (v *Viewport) Changes() <-chan Entry {
	return v.changes
}

// Append adds n rendered items to the end of the list.
func (v *Viewport) Append(n int) {
	if n <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.length += n
	v.checkLocked()
}

// Len returns the number of rendered items.
func (v *Viewport) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.length
}

// Last returns the index of the last rendered item, or -1 when empty.
func (v *Viewport) Last() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.length - 1
}

// Top returns the index of the first visible item.
func (v *Viewport) Top() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.top
}

// Height returns the number of visible items.
func (v *Viewport) Height() int {
	return v.height
}

// Visible returns the half-open range of rendered indexes currently on screen.
func (v *Viewport) Visible() (from, to int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.top, min(v.top+v.height, v.length)
}

// Scroll moves the window by delta items.
func (v *Viewport) Scroll(delta int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.scrollToLocked(v.top + delta)
}

// ScrollTo moves the window so that top is the first visible index.
func (v *Viewport) ScrollTo(top int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.scrollToLocked(top)
}

func (v *Viewport) scrollToLocked(top int) {
	top = min(top, v.length-1)
	top = max(top, 0)
	if top == v.top {
		return
	}
	v.top = top
	v.checkLocked()
}

// Observe starts observing index, replacing any previous observation, and
// immediately reports its current intersection state.
func (v *Viewport) Observe(index int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.observed = index
	v.last = nil
	v.checkLocked()
}

// Unobserve stops observing index. It reports whether index was observed.
func (v *Viewport) Unobserve(index int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.observed != index || index < 0 {
		return false
	}
	v.observed = -1
	v.last = nil
	// Drop a pending report for the old target.
	select {
	case <-v.changes:
	default:
	}
	return true
}

// Observed returns the observed index, or -1.
func (v *Viewport) Observed() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.observed
}

// Entry returns the current intersection state of the observed index.
func (v *Viewport) Entry() (Entry, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.observed < 0 {
		return Entry{}, false
	}
	return Entry{Index: v.observed, IsIntersecting: v.intersectsLocked(v.observed)}, true
}

func (v *Viewport) intersectsLocked(index int) bool {
	return index >= 0 && index < v.length &&
		index >= v.top-v.margin && index < v.top+v.height+v.margin
}

// checkLocked reports the observed index when its state differs from the
// last report.
func (v *Viewport) checkLocked() {
	if v.observed < 0 {
		return
	}
	e := Entry{Index: v.observed, IsIntersecting: v.intersectsLocked(v.observed)}
	if v.last != nil && *v.last == e {
		return
	}
	v.last = &e

	select {
	case <-v.changes:
	default:
	}
	// All sends happen under mu after draining, so there is room.
	v.changes <- e
}
