//go:build integration

package integration

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/dex-scroll/internal/testutil"
	"github.com/Sternrassler/dex-scroll/pkg/assembler"
	"github.com/Sternrassler/dex-scroll/pkg/catalog"
	"github.com/Sternrassler/dex-scroll/pkg/client"
	"github.com/Sternrassler/dex-scroll/pkg/loader"
	"github.com/Sternrassler/dex-scroll/pkg/pagination"
	"github.com/Sternrassler/dex-scroll/pkg/ratelimit"
	"github.com/Sternrassler/dex-scroll/pkg/render"
	"github.com/Sternrassler/dex-scroll/pkg/scroll"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	t.Cleanup(func() {
		redisClient.Close()
		container.Terminate(context.Background())
	})

	return redisClient
}

// pipeline is a loader wired against a mock catalog and a shared budget.
type pipeline struct {
	http   *client.Client
	loader *loader.Loader
}

func newPipeline(t *testing.T, mock *testutil.MockCatalog, rdb *redis.Client, pageSize, maxItems int) *pipeline {
	t.Helper()

	cfg := client.DefaultConfig("dex-scroll-test/1.0")
	cfg.MaxRetries = 0
	cfg.RateLimit = 0
	cfg.Redis = rdb

	httpClient, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	t.Cleanup(func() { httpClient.Close() })

	source, err := catalog.NewClient(httpClient, mock.URL(), testutil.ListPath, zerolog.Nop())
	if err != nil {
		t.Fatalf("catalog.NewClient() error = %v", err)
	}
	images, err := catalog.NewHTTPAssets(httpClient, mock.AssetTemplate())
	if err != nil {
		t.Fatalf("catalog.NewHTTPAssets() error = %v", err)
	}
	asm, err := assembler.New(source, images, assembler.DefaultConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("assembler.New() error = %v", err)
	}
	cursor, err := pagination.NewState(pageSize, maxItems)
	if err != nil {
		t.Fatalf("pagination.NewState() error = %v", err)
	}
	l, err := loader.New(cursor, source, asm, zerolog.Nop())
	if err != nil {
		t.Fatalf("loader.New() error = %v", err)
	}

	return &pipeline{http: httpClient, loader: l}
}

func TestFullPipeline(t *testing.T) {
	rdb := setupRedis(t)
	mock := testutil.NewMockCatalog(30)
	defer mock.Close()
	mock.SetBudgetHeaders(80, 60)

	p := newPipeline(t, mock, rdb, 15, 150)
	ctx := context.Background()

	var items []catalog.Item
	for !p.loader.Exhausted() {
		page, err := p.loader.LoadNextPage(ctx)
		if err != nil {
			t.Fatalf("LoadNextPage() error = %v", err)
		}
		items = append(items, page.Items...)
	}

	if len(items) != 30 {
		t.Fatalf("Loaded %d items, want 30", len(items))
	}
	for i, item := range items {
		if want := testutil.NameFor(i + 1); item.Name != want {
			t.Errorf("items[%d].Name = %q, want %q", i, item.Name, want)
		}
		if !item.Complete() {
			t.Errorf("items[%d] incomplete: %+v", i, item)
		}
	}

	if got := mock.RequestCount(testutil.KindList); got != 2 {
		t.Errorf("List requests = %d, want 2", got)
	}

	state, err := ratelimit.NewTracker(rdb, zerolog.Nop()).GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Remaining != 80 {
		t.Errorf("Remaining = %d, want 80", state.Remaining)
	}
}

func TestBudgetExhaustedStopsPaging(t *testing.T) {
	rdb := setupRedis(t)
	mock := testutil.NewMockCatalog(30)
	defer mock.Close()
	mock.SetBudgetHeaders(2, 60)

	p := newPipeline(t, mock, rdb, 10, 150)
	ctx := context.Background()

	// The first listing goes through and reports a critical budget, so
	// every sub-fetch of that page is blocked and dropped.
	page, err := p.loader.LoadNextPage(ctx)
	if err != nil {
		t.Fatalf("First LoadNextPage() error = %v", err)
	}
	if len(page.Items) != 0 {
		t.Errorf("First page items = %d, want 0", len(page.Items))
	}
	if got := page.Stats.Dropped[assembler.DropRecordFailed]; got != 10 {
		t.Errorf("record_failed drops = %d, want 10", got)
	}

	_, err = p.loader.LoadNextPage(ctx)
	if !errors.Is(err, client.ErrBudgetExhausted) {
		t.Fatalf("Second LoadNextPage() error = %v, want ErrBudgetExhausted", err)
	}
	var fetchErr *loader.PageFetchError
	if !errors.As(err, &fetchErr) || fetchErr.Offset != 10 {
		t.Errorf("PageFetchError = %+v, want offset 10", fetchErr)
	}
	if got := p.loader.Offset(); got != 10 {
		t.Errorf("Offset() = %d, want 10 (failed page must not advance)", got)
	}
	if got := mock.RequestCount(testutil.KindList); got != 1 {
		t.Errorf("List requests = %d, want 1", got)
	}
}

func TestScrollRendersWholeCatalog(t *testing.T) {
	rdb := setupRedis(t)
	mock := testutil.NewMockCatalog(23)
	defer mock.Close()

	p := newPipeline(t, mock, rdb, 5, 150)

	var out bytes.Buffer
	renderer := render.NewTextRenderer(&out)
	viewport, err := scroll.NewViewport(4, 2)
	if err != nil {
		t.Fatalf("NewViewport() error = %v", err)
	}
	trigger, err := scroll.New(p.loader, renderer, viewport, zerolog.Nop())
	if err != nil {
		t.Fatalf("scroll.New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := trigger.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- trigger.Run(ctx) }()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
scrolling:
	for {
		select {
		case <-trigger.Done():
			break scrolling
		case <-ctx.Done():
			t.Fatal("Timed out before the catalog was exhausted")
		case <-ticker.C:
			viewport.Scroll(viewport.Height())
		}
	}

	if err := <-runErr; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := renderer.Rendered(); got != 23 {
		t.Errorf("Rendered() = %d, want 23", got)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 23 {
		t.Fatalf("Output lines = %d, want 23", len(lines))
	}
	if !strings.Contains(lines[0], "1. Mon001") || !strings.Contains(lines[22], "23. Mon023") {
		t.Errorf("Cards out of order: first %q, last %q", lines[0], lines[22])
	}
	// 23 items in pages of 5 take exactly ceil(23/5) listings.
	if got := mock.RequestCount(testutil.KindList); got != 5 {
		t.Errorf("List requests = %d, want 5", got)
	}
}
