package pagination

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrInvalidPageSize is returned when the page size is not positive.
	ErrInvalidPageSize = errors.New("page size must be > 0")

	// ErrInvalidMaxItems is returned when the item ceiling is not positive.
	ErrInvalidMaxItems = errors.New("max items must be > 0")
)

// Config holds pagination configuration.
type Config struct {
	// PageSize is the number of references requested per page.
	PageSize int

	// MaxItems is the exhaustion ceiling. No page is requested at or beyond it.
	MaxItems int
}

// DefaultConfig returns the classic first-generation window: 15 per page, 150 total.
func DefaultConfig() Config {
	return Config{
		PageSize: 15,
		MaxItems: 150,
	}
}

// State is the pagination cursor.
type State struct {
	mu       sync.RWMutex
	pageSize int
	maxItems int
	offset   int
	total    int // -1 until a listing reports it
}

// NewState creates a cursor at offset 0.
func NewState(pageSize, maxItems int) (*State, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidPageSize, pageSize)
	}
	if maxItems <= 0 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidMaxItems, maxItems)
	}
	return &State{
		pageSize: pageSize,
		maxItems: maxItems,
		total:    -1,
	}, nil
}

// NewStateFromConfig is NewState for a Config.
func NewStateFromConfig(cfg Config) (*State, error) {
	return NewState(cfg.PageSize, cfg.MaxItems)
}

// PageSize returns the fixed page size.
func (s *State) PageSize() int {
	return s.pageSize
}

// Offset returns the current offset.
func (s *State) Offset() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset
}

// NextWindow returns the offset and limit of the next page without mutating
// state. The limit is clipped so the window never reaches past the ceiling.
func (s *State) NextWindow() (offset, limit int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = s.pageSize
	if remaining := s.ceilingLocked() - s.offset; remaining < limit {
		limit = max(remaining, 0)
	}
	return s.offset, limit
}

// Advance moves the offset forward by exactly one page size.
func (s *State) Advance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset += s.pageSize
}

// ObserveTotal records the catalog size reported by a listing response.
// Negative values are ignored. The smallest reported value wins.
func (s *State) ObserveTotal(total int) {
	if total < 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.total < 0 || total < s.total {
		s.total = total
	}
}

// IsExhausted reports whether no further pages remain.
func (s *State) IsExhausted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset >= s.ceilingLocked()
}

// Ceiling returns the effective ceiling: MaxItems, or the reported catalog
// size when that is smaller.
func (s *State) Ceiling() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ceilingLocked()
}

func (s *State) ceilingLocked() int {
	if s.total >= 0 && s.total < s.maxItems {
		return s.total
	}
	return s.maxItems
}
