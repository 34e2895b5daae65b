// Command dex-scroll renders a remote catalog as an infinitely scrolling
// list of cards, loading one page each time the last card comes into view.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Sternrassler/dex-scroll/internal/config"
	"github.com/Sternrassler/dex-scroll/pkg/assembler"
	"github.com/Sternrassler/dex-scroll/pkg/catalog"
	"github.com/Sternrassler/dex-scroll/pkg/client"
	"github.com/Sternrassler/dex-scroll/pkg/loader"
	"github.com/Sternrassler/dex-scroll/pkg/logging"
	"github.com/Sternrassler/dex-scroll/pkg/metrics"
	"github.com/Sternrassler/dex-scroll/pkg/pagination"
	"github.com/Sternrassler/dex-scroll/pkg/render"
	"github.com/Sternrassler/dex-scroll/pkg/scroll"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const (
	autoTick       = 50 * time.Millisecond
	maxAutoRetries = 3
)

var autoRetryDelay = time.Second

func main() {
	flags := newFlagSet()
	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	configPath, _ := flags.GetString("config")
	auto, _ := flags.GetBool("auto")

	cfg, err := config.Load(configPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		Output: os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, os.Stdout, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialise")
	}
	defer a.close()

	if err := a.run(ctx, os.Stdin, auto); err != nil {
		logger.Error().Err(err).Msg("Exited with error")
		a.close()
		os.Exit(1)
	}
}

func newFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("dex-scroll", pflag.ContinueOnError)
	flags.String("config", "", "path to a YAML config file (default ./config.yaml if present)")
	flags.Bool("auto", false, "scroll to the end on its own instead of reading keys from stdin")
	flags.String("metrics-addr", "", "listen address for /health, /ready and /metrics (disabled when empty)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.Int("page-size", 15, "items per page")
	flags.Int("max-items", 150, "stop after this many items")
	flags.String("base-url", "https://pokeapi.co", "catalog base URL")
	flags.String("asset-dir", "", "read images from this directory instead of the asset URL template")
	flags.String("redis-addr", "", "Redis address for the shared upstream budget (disabled when empty)")
	return flags
}

// app is the wired loader pipeline.
type app struct {
	cfg      *config.Config
	redis    *redis.Client
	http     *client.Client
	pages    *loader.Loader
	viewport *scroll.Viewport
	trigger  *scroll.Trigger
	renderer *render.TextRenderer
	logger   zerolog.Logger
	closed   bool
}

func newApp(cfg *config.Config, out io.Writer, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	httpCfg := client.DefaultConfig(cfg.HTTP.UserAgent)
	httpCfg.Timeout = cfg.HTTP.Timeout
	httpCfg.MaxRetries = cfg.HTTP.MaxRetries
	httpCfg.RateLimit = cfg.HTTP.RateLimit
	httpCfg.Burst = cfg.HTTP.Burst
	httpCfg.Redis = a.redis

	var err error
	if a.http, err = client.New(httpCfg); err != nil {
		a.close()
		return nil, fmt.Errorf("http client: %w", err)
	}

	source, err := catalog.NewClient(a.http, cfg.Catalog.BaseURL, cfg.Catalog.ListPath, logging.NewLogger("catalog"))
	if err != nil {
		a.close()
		return nil, fmt.Errorf("catalog client: %w", err)
	}

	var images assembler.ImageFetcher
	if cfg.Catalog.AssetDir != "" {
		images, err = catalog.NewDirAssets(cfg.Catalog.AssetDir)
	} else {
		images, err = catalog.NewHTTPAssets(a.http, cfg.Catalog.AssetURLTemplate)
	}
	if err != nil {
		a.close()
		return nil, fmt.Errorf("image assets: %w", err)
	}

	asm, err := assembler.New(source, images, assembler.Config{MaxConcurrency: cfg.Assembler.MaxConcurrency}, logging.NewLogger("assembler"))
	if err != nil {
		a.close()
		return nil, fmt.Errorf("assembler: %w", err)
	}

	cursor, err := pagination.NewStateFromConfig(pagination.Config{
		PageSize: cfg.Pagination.PageSize,
		MaxItems: cfg.Pagination.MaxItems,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("pagination: %w", err)
	}

	if a.pages, err = loader.New(cursor, source, asm, logging.NewLogger("loader")); err != nil {
		a.close()
		return nil, fmt.Errorf("loader: %w", err)
	}

	if a.viewport, err = scroll.NewViewport(cfg.Scroll.ViewportHeight, cfg.Scroll.Lookahead); err != nil {
		a.close()
		return nil, err
	}

	a.renderer = render.NewTextRenderer(out)
	if a.trigger, err = scroll.New(a.pages, a.renderer, a.viewport, logging.NewLogger("scroll")); err != nil {
		a.close()
		return nil, fmt.Errorf("trigger: %w", err)
	}
	return a, nil
}

func (a *app) close() {
	if a.closed {
		return
	}
	a.closed = true
	if a.http != nil {
		a.http.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
}

// run loads the first page and then drives the trigger until the driver
// (stdin keys or auto scroll) quits, ctx is cancelled, or in auto mode the
// catalog is exhausted.
func (a *app) run(ctx context.Context, in io.Reader, auto bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              a.cfg.Metrics.Addr,
			Handler:           newMux(a.redis),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.logger.Info().Str("addr", srv.Addr).Msg("Starting metrics server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelShutdown()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := a.trigger.Start(ctx); err != nil && ctx.Err() == nil {
		a.logger.Warn().Err(err).Msg("First page failed")
	}

	g.Go(func() error {
		return a.trigger.Run(ctx)
	})

	g.Go(func() error {
		drive := a.interactive
		if auto {
			drive = func(ctx context.Context, _ io.Reader) error { return a.autoScroll(ctx) }
		}
		// A failing driver cancels the group itself; a clean exit stops the rest.
		err := drive(ctx, in)
		if err == nil {
			cancel()
		}
		return err
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// autoScroll keeps the end of the list in view until the trigger is done.
// A stalled trigger is retried up to maxAutoRetries times in a row; the count
// starts over once a page loads.
func (a *app) autoScroll(ctx context.Context) error {
	ticker := time.NewTicker(autoTick)
	defer ticker.Stop()

	retries, stalledAt := 0, -1
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.trigger.Done():
			a.logger.Info().Int("items", a.renderer.Rendered()).Msg("Reached end of catalog")
			return nil
		case <-ticker.C:
		}

		if a.trigger.Stalled() {
			if offset := a.pages.Offset(); offset != stalledAt {
				retries, stalledAt = 0, offset
			}
			retries++
			if retries > maxAutoRetries {
				return fmt.Errorf("giving up after %d retries", maxAutoRetries)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(autoRetryDelay):
			}
			if err := a.trigger.Retry(ctx); err != nil {
				a.logger.Warn().Err(err).Int("attempt", retries).Msg("Retry failed")
			}
			continue
		}

		a.viewport.ScrollTo(a.viewport.Len())
	}
}

// interactive reads one command per line: empty or j scrolls down a
// viewport, k scrolls up, r retries a failed page, q quits.
func (a *app) interactive(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch line {
			case "", "j":
				a.viewport.Scroll(a.viewport.Height())
			case "k":
				a.viewport.Scroll(-a.viewport.Height())
			case "r":
				if err := a.trigger.Retry(ctx); err != nil {
					a.logger.Warn().Err(err).Msg("Retry failed")
				}
			case "q":
				return nil
			default:
				a.logger.Debug().Str("input", line).Msg("Unknown command")
				continue
			}
			from, to := a.viewport.Visible()
			a.logger.Info().Int("from", from).Int("to", to).Int("loaded", a.viewport.Len()).Msg("Viewport")
		}
	}
}

func newMux(rdb *redis.Client) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(rdb))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports ready when the shared budget store, if configured,
// answers a ping.
func readyHandler(rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rdb != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := rdb.Ping(ctx).Err(); err != nil {
				http.Error(w, "Redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}
