// Package assembler resolves a batch of catalog references into items by
// fanning out record and image sub-fetches in parallel and pairing the
// results back by reference position.
//
// A reference whose record or image cannot be fetched is dropped; it never
// fails the batch or affects its neighbours.
package assembler

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sternrassler/dex-scroll/pkg/catalog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var itemsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dex_items_dropped_total",
	Help: "Total references dropped during assembly by reason",
}, []string{"reason"})

// RecordFetcher fetches the classification tags for a reference.
type RecordFetcher interface {
	FetchTags(ctx context.Context, ref catalog.Reference) ([]string, error)
}

// ImageFetcher resolves the image asset for an item id and returns its URI.
type ImageFetcher interface {
	FetchImage(ctx context.Context, id string) (string, error)
}

// DropReason says why a reference produced no item.
type DropReason string

const (
	DropMissingID    DropReason = "missing_id"
	DropRecordFailed DropReason = "record_failed"
	DropImageFailed  DropReason = "image_failed"
	DropIncomplete   DropReason = "incomplete"
)

// Stats summarises one Assemble call.
type Stats struct {
	Requested int
	Assembled int
	Dropped   map[DropReason]int
}

// DroppedTotal returns the number of dropped references.
func (s Stats) DroppedTotal() int {
	total := 0
	for _, n := range s.Dropped {
		total += n
	}
	return total
}

// Config holds assembler settings.
type Config struct {
	// MaxConcurrency caps in-flight sub-fetches across both families.
	// Zero or less means no cap.
	MaxConcurrency int
}

// DefaultConfig runs a full 15-item page (two sub-fetches each) at once.
func DefaultConfig() Config {
	return Config{MaxConcurrency: 30}
}

// Assembler resolves references into items.
type Assembler struct {
	records RecordFetcher
	images  ImageFetcher
	config  Config
	logger  zerolog.Logger
}

// New creates an assembler.
func New(records RecordFetcher, images ImageFetcher, cfg Config, logger zerolog.Logger) (*Assembler, error) {
	if records == nil {
		return nil, errors.New("record fetcher is required")
	}
	if images == nil {
		return nil, errors.New("image fetcher is required")
	}
	return &Assembler{
		records: records,
		images:  images,
		config:  cfg,
		logger:  logger,
	}, nil
}

type outcome[T any] struct {
	value T
	err   error
}

// Assemble resolves refs. The returned items keep the relative order of
// refs and contain only references whose sub-fetches all succeeded with
// non-empty data.
func (a *Assembler) Assemble(ctx context.Context, refs []catalog.Reference) ([]catalog.Item, Stats) {
	stats := Stats{
		Requested: len(refs),
		Dropped:   make(map[DropReason]int),
	}
	if len(refs) == 0 {
		return []catalog.Item{}, stats
	}

	// One slot per reference and family. Each goroutine writes only its own
	// slot, so results are paired by index regardless of completion order.
	tags := make([]outcome[[]string], len(refs))
	images := make([]outcome[string], len(refs))

	var g errgroup.Group
	if a.config.MaxConcurrency > 0 {
		g.SetLimit(a.config.MaxConcurrency)
	}

	for i, ref := range refs {
		if ref.ID == "" {
			continue
		}
		g.Go(func() error {
			v, err := a.records.FetchTags(ctx, ref)
			tags[i] = outcome[[]string]{value: v, err: err}
			return nil
		})
		g.Go(func() error {
			v, err := a.images.FetchImage(ctx, ref.ID)
			images[i] = outcome[string]{value: v, err: err}
			return nil
		})
	}
	// Sub-fetch goroutines never return an error.
	_ = g.Wait()

	items := make([]catalog.Item, 0, len(refs))
	for i, ref := range refs {
		var reason DropReason
		var cause error

		switch {
		case ref.ID == "":
			reason = DropMissingID
			cause = fmt.Errorf("no id in url %q", ref.URL)
		case tags[i].err != nil:
			reason, cause = DropRecordFailed, tags[i].err
		case images[i].err != nil:
			reason, cause = DropImageFailed, images[i].err
		}

		item := catalog.Item{
			ID:       ref.ID,
			Name:     ref.Name,
			Tags:     tags[i].value,
			ImageURI: images[i].value,
		}
		if reason == "" && !item.Complete() {
			reason = DropIncomplete
		}

		if reason != "" {
			stats.Dropped[reason]++
			itemsDroppedTotal.WithLabelValues(string(reason)).Inc()
			event := a.logger.Warn()
			if reason == DropIncomplete {
				event = a.logger.Debug()
			}
			event.
				Str("id", ref.ID).
				Str("name", ref.Name).
				Str("reason", string(reason)).
				AnErr("cause", cause).
				Msg("Dropping item")
			continue
		}

		items = append(items, item)
	}

	stats.Assembled = len(items)
	return items, stats
}
