package scroll

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Sternrassler/dex-scroll/pkg/catalog"
	"github.com/Sternrassler/dex-scroll/pkg/loader"
	"github.com/rs/zerolog"
)

// PageLoader loads pages in order.
type PageLoader interface {
	LoadNextPage(ctx context.Context) (loader.Page, error)
	Exhausted() bool
}

// Renderer displays assembled items after the ones already shown.
type Renderer interface {
	Render(items []catalog.Item) error
}

// Trigger observes the last rendered item and loads the next page when it
// comes into view. It never has more than one load in flight and only
// re-arms after the previous page has been loaded and rendered.
type Trigger struct {
	mu       sync.Mutex
	sentinel int
	inFlight bool
	stalled  bool
	finished bool

	loader   PageLoader
	renderer Renderer
	viewport *Viewport
	logger   zerolog.Logger

	done     chan struct{}
	doneOnce sync.Once
}

// New creates a trigger.
func New(l PageLoader, r Renderer, v *Viewport, logger zerolog.Logger) (*Trigger, error) {
	if l == nil {
		return nil, errors.New("page loader is required")
	}
	if r == nil {
		return nil, errors.New("renderer is required")
	}
	if v == nil {
		return nil, errors.New("viewport is required")
	}
	return &Trigger{
		sentinel: -1,
		loader:   l,
		renderer: r,
		viewport: v,
		logger:   logger,
		done:     make(chan struct{}),
	}, nil
}

// Done is closed once the catalog is exhausted and the trigger has stopped.
func (t *Trigger) Done() <-chan struct{} {
	return t.done
}

// Stalled reports whether the last page load failed and is waiting for Retry.
func (t *Trigger) Stalled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stalled
}

// Sentinel returns the armed index, or -1.
func (t *Trigger) Sentinel() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sentinel
}

// Start loads and renders the first page and arms the trigger on its last item.
func (t *Trigger) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.inFlight || t.finished {
		t.mu.Unlock()
		return nil
	}
	t.inFlight = true
	t.mu.Unlock()

	return t.load(ctx)
}

// HandleIntersection reacts to one viewport report. Reports for anything
// other than the armed sentinel, or while a load is in flight, are ignored.
func (t *Trigger) HandleIntersection(ctx context.Context, e Entry) error {
	t.mu.Lock()
	if !e.IsIntersecting || t.inFlight || t.finished || t.sentinel < 0 || e.Index != t.sentinel {
		t.mu.Unlock()
		return nil
	}

	t.viewport.Unobserve(e.Index)
	t.sentinel = -1

	if t.loader.Exhausted() {
		t.finishLocked()
		t.mu.Unlock()
		return nil
	}

	t.inFlight = true
	t.mu.Unlock()

	return t.load(ctx)
}

// Retry re-arms a stalled trigger so the failed window is requested again.
func (t *Trigger) Retry(ctx context.Context) error {
	t.mu.Lock()
	if !t.stalled || t.inFlight || t.finished {
		t.mu.Unlock()
		return nil
	}
	t.stalled = false

	if t.viewport.Len() == 0 {
		t.inFlight = true
		t.mu.Unlock()
		return t.load(ctx)
	}

	t.logger.Info().Int("sentinel", t.viewport.Last()).Msg("Retrying after failed page")
	t.armLocked(t.viewport.Last())
	t.mu.Unlock()
	return nil
}

// Run consumes viewport reports until ctx is cancelled or the catalog is
// exhausted. Page failures stall the trigger but do not end Run.
func (t *Trigger) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.done:
			return nil
		case e := <-t.viewport.Changes():
			if err := t.HandleIntersection(ctx, e); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				t.logger.Warn().Err(err).Msg("Page load failed, waiting for retry")
			}
		}
	}
}

// load runs page cycles until one yields something to observe. It must be
// called with inFlight set and clears it before returning.
func (t *Trigger) load(ctx context.Context) error {
	for {
		page, err := t.loader.LoadNextPage(ctx)
		if err != nil {
			t.mu.Lock()
			t.inFlight = false
			t.stalled = true
			t.mu.Unlock()

			var fetchErr *loader.PageFetchError
			if errors.As(err, &fetchErr) {
				t.logger.Warn().
					Int("offset", fetchErr.Offset).
					Int("limit", fetchErr.Limit).
					Err(fetchErr.Err).
					Msg("Page fetch failed, list stops growing")
			}
			return err
		}

		if page.Exhausted {
			t.mu.Lock()
			t.inFlight = false
			t.finishLocked()
			t.mu.Unlock()
			return nil
		}

		if len(page.Items) > 0 {
			if err := t.renderer.Render(page.Items); err != nil {
				t.mu.Lock()
				t.inFlight = false
				t.stalled = true
				t.mu.Unlock()
				return fmt.Errorf("render page at offset %d: %w", page.Offset, err)
			}
			t.viewport.Append(len(page.Items))
		}

		t.mu.Lock()
		switch {
		case t.loader.Exhausted():
			t.inFlight = false
			t.finishLocked()
			t.mu.Unlock()
			return nil
		case t.viewport.Len() == 0:
			// Nothing rendered yet, so there is no sentinel to observe.
			t.mu.Unlock()
			continue
		default:
			t.inFlight = false
			t.armLocked(t.viewport.Last())
			t.mu.Unlock()
			return nil
		}
	}
}

func (t *Trigger) armLocked(index int) {
	t.sentinel = index
	t.logger.Debug().Int("sentinel", index).Msg("Observing last item")
	t.viewport.Observe(index)
}

func (t *Trigger) finishLocked() {
	if t.finished {
		return
	}
	t.finished = true
	if t.sentinel >= 0 {
		t.viewport.Unobserve(t.sentinel)
		t.sentinel = -1
	}
	t.logger.Info().Int("items", t.viewport.Len()).Msg("Catalog exhausted, trigger stopped")
	t.doneOnce.Do(func() { close(t.done) })
}
