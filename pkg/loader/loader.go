// Package loader runs one page cycle at a time: request the next window of
// references from the catalog, assemble them into items and commit progress.
//
// State machine:
//
//	IDLE → REQUESTING_REFS → ASSEMBLING → IDLE     (listing succeeded)
//	IDLE → REQUESTING_REFS → FAILED → IDLE         (listing failed)
//
// Pagination only advances after a successful listing. Once pagination is
// exhausted, LoadNextPage returns an empty page without touching the network.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/dex-scroll/pkg/assembler"
	"github.com/Sternrassler/dex-scroll/pkg/catalog"
	"github.com/Sternrassler/dex-scroll/pkg/pagination"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dex_pages_total",
		Help: "Total page cycles by outcome",
	}, []string{"outcome"})

	pageDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dex_page_duration_seconds",
		Help:    "Duration of a page cycle from listing request to assembled items",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	paginationOffset = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dex_pagination_offset",
		Help: "Current pagination offset",
	})

	itemsAssembledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dex_items_assembled_total",
		Help: "Total items assembled across all pages",
	})
)

// Page outcomes.
const (
	outcomeLoaded    = "loaded"
	outcomeFailed    = "failed"
	outcomeExhausted = "exhausted"
)

// Lister fetches one window of the collection listing.
type Lister interface {
	ListPage(ctx context.Context, offset, limit int) (*catalog.ListPage, error)
}

// Assembler resolves references into items.
type Assembler interface {
	Assemble(ctx context.Context, refs []catalog.Reference) ([]catalog.Item, assembler.Stats)
}

// State is the loader's state machine position.
type State int32

const (
	StateIdle State = iota
	StateRequestingRefs
	StateAssembling
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRequestingRefs:
		return "REQUESTING_REFS"
	case StateAssembling:
		return "ASSEMBLING"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Page is the result of one LoadNextPage call.
type Page struct {
	Offset int
	Limit  int
	Items  []catalog.Item
	Stats  assembler.Stats

	// Exhausted is set when no page was requested because the catalog is
	// exhausted. It is the terminal signal for callers.
	Exhausted bool
}

// PageFetchError is returned when the listing for a window could not be
// fetched. Pagination is left untouched so the same window can be retried.
type PageFetchError struct {
	Offset int
	Limit  int
	Err    error
}

// Error implements the error interface.
func (e *PageFetchError) Error() string {
	return fmt.Sprintf("load page offset=%d limit=%d: %v", e.Offset, e.Limit, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *PageFetchError) Unwrap() error {
	return e.Err
}

// Loader owns the pagination state and is its only writer.
type Loader struct {
	// cycle serialises page cycles so pages complete in order.
	cycle sync.Mutex
	state atomic.Int32

	pagination *pagination.State
	lister     Lister
	assembler  Assembler
	logger     zerolog.Logger
}

// New creates a loader.
func New(p *pagination.State, lister Lister, asm Assembler, logger zerolog.Logger) (*Loader, error) {
	if p == nil {
		return nil, errors.New("pagination state is required")
	}
	if lister == nil {
		return nil, errors.New("lister is required")
	}
	if asm == nil {
		return nil, errors.New("assembler is required")
	}

	l := &Loader{
		pagination: p,
		lister:     lister,
		assembler:  asm,
		logger:     logger,
	}
	paginationOffset.Set(float64(p.Offset()))
	return l, nil
}

// State returns the current state.
func (l *Loader) State() State {
	return State(l.state.Load())
}

// Exhausted reports whether no further pages remain.
func (l *Loader) Exhausted() bool {
	return l.pagination.IsExhausted()
}

// Offset returns the current pagination offset.
func (l *Loader) Offset() int {
	return l.pagination.Offset()
}

func (l *Loader) setState(s State) {
	l.state.Store(int32(s))
}

// LoadNextPage runs one page cycle. A listing failure returns an empty page
// and a *PageFetchError; item-level failures only shrink the page.
func (l *Loader) LoadNextPage(ctx context.Context) (Page, error) {
	l.cycle.Lock()
	defer l.cycle.Unlock()

	if l.pagination.IsExhausted() {
		pagesTotal.WithLabelValues(outcomeExhausted).Inc()
		l.logger.Debug().Int("offset", l.pagination.Offset()).Msg("Catalog exhausted, nothing to load")
		return Page{
			Offset:    l.pagination.Offset(),
			Items:     []catalog.Item{},
			Exhausted: true,
		}, nil
	}

	start := time.Now()
	offset, limit := l.pagination.NextWindow()

	l.setState(StateRequestingRefs)
	listing, err := l.lister.ListPage(ctx, offset, limit)
	if err != nil {
		return l.fail(offset, limit, err)
	}

	l.observeTotal(offset, limit, listing)

	refs := listing.Results
	if len(refs) > limit {
		refs = refs[:limit]
	}
	if len(refs) == 0 {
		// Nothing at this offset: the catalog ended on the previous page.
		l.pagination.ObserveTotal(offset)
		l.setState(StateIdle)
		pagesTotal.WithLabelValues(outcomeExhausted).Inc()
		l.logger.Info().Int("offset", offset).Msg("Listing returned no references, catalog exhausted")
		return Page{Offset: offset, Limit: limit, Items: []catalog.Item{}, Exhausted: true}, nil
	}

	l.setState(StateAssembling)
	items, stats := l.assembler.Assemble(ctx, refs)

	if err := ctx.Err(); err != nil {
		// Items dropped because the caller gave up are not a completed page.
		return l.fail(offset, limit, err)
	}

	l.pagination.Advance()
	l.setState(StateIdle)

	pagesTotal.WithLabelValues(outcomeLoaded).Inc()
	pageDuration.Observe(time.Since(start).Seconds())
	paginationOffset.Set(float64(l.pagination.Offset()))
	itemsAssembledTotal.Add(float64(len(items)))

	l.logger.Info().
		Int("offset", offset).
		Int("limit", limit).
		Int("references", len(refs)).
		Int("items", len(items)).
		Int("dropped", stats.DroppedTotal()).
		Int("next_offset", l.pagination.Offset()).
		Bool("exhausted", l.pagination.IsExhausted()).
		Dur("duration", time.Since(start)).
		Msg("Page loaded")

	return Page{
		Offset: offset,
		Limit:  limit,
		Items:  items,
		Stats:  stats,
	}, nil
}

func (l *Loader) fail(offset, limit int, err error) (Page, error) {
	l.setState(StateFailed)
	pagesTotal.WithLabelValues(outcomeFailed).Inc()
	l.logger.Warn().
		Err(err).
		Int("offset", offset).
		Int("limit", limit).
		Msg("Page fetch failed, offset not advanced")
	l.setState(StateIdle)

	return Page{Offset: offset, Limit: limit, Items: []catalog.Item{}}, &PageFetchError{
		Offset: offset,
		Limit:  limit,
		Err:    err,
	}
}

// observeTotal feeds the catalog size into pagination when the listing
// reveals it.
func (l *Loader) observeTotal(offset, limit int, listing *catalog.ListPage) {
	switch {
	case listing.Count != nil:
		l.pagination.ObserveTotal(*listing.Count)
	case listing.Next == nil:
		l.pagination.ObserveTotal(offset + min(len(listing.Results), limit))
	}
}
