package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testConfig() Config {
	cfg := DefaultConfig("dex-scroll-test/1.0")
	cfg.MaxRetries = 0
	cfg.RetryWait = time.Millisecond
	cfg.RetryMaxWait = 5 * time.Millisecond
	cfg.RateLimit = 0
	return cfg
}

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "empty user agent", mutate: func(c *Config) { c.UserAgent = "" }, errorMsg: "user-agent is required"},
		{name: "zero timeout", mutate: func(c *Config) { c.Timeout = 0 }, errorMsg: "timeout must be > 0 (got 0s)"},
		{name: "negative retries", mutate: func(c *Config) { c.MaxRetries = -1 }, errorMsg: "max_retries must be >= 0 (got -1)"},
		{name: "negative rate", mutate: func(c *Config) { c.RateLimit = -2 }, errorMsg: "rate_limit must be >= 0 (got -2)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)

			c, err := New(cfg)
			if tt.errorMsg == "" {
				if err != nil {
					t.Fatalf("New() unexpected error = %v", err)
				}
				c.Close()
				return
			}
			if err == nil {
				t.Fatal("New() expected error, got nil")
			}
			if err.Error() != tt.errorMsg {
				t.Errorf("New() error = %q, want %q", err.Error(), tt.errorMsg)
			}
		})
	}
}

func TestGet_Success(t *testing.T) {
	var gotUserAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"pikachu"}`))
	}))
	defer server.Close()

	c := newTestClient(t, testConfig())

	resp, err := c.Get(context.Background(), "record", server.URL+"/pokemon/25/")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if string(resp.Body) != `{"name":"pikachu"}` {
		t.Errorf("Body = %q", resp.Body)
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}
	if gotUserAgent != "dex-scroll-test/1.0" {
		t.Errorf("User-Agent = %q, want dex-scroll-test/1.0", gotUserAgent)
	}
}

func TestGet_ErrorClasses(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantClass ErrorClass
	}{
		{name: "not found", status: http.StatusNotFound, wantClass: ErrorClassClient},
		{name: "too many requests", status: http.StatusTooManyRequests, wantClass: ErrorClassRateLimit},
		{name: "server error", status: http.StatusInternalServerError, wantClass: ErrorClassServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			c := newTestClient(t, testConfig())

			_, err := c.Get(context.Background(), "record", server.URL)
			var httpErr *HTTPError
			if !errors.As(err, &httpErr) {
				t.Fatalf("Get() error = %v, want *HTTPError", err)
			}
			if httpErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", httpErr.StatusCode, tt.status)
			}
			if httpErr.Class != tt.wantClass {
				t.Errorf("Class = %q, want %q", httpErr.Class, tt.wantClass)
			}
		})
	}
}

func TestGet_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := newTestClient(t, testConfig())

	_, err := c.Get(context.Background(), "list", url)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("Get() error = %v, want *HTTPError", err)
	}
	if httpErr.Class != ErrorClassNetwork {
		t.Errorf("Class = %q, want %q", httpErr.Class, ErrorClassNetwork)
	}
	if httpErr.Err == nil {
		t.Error("network error should wrap the transport error")
	}
}

func TestGet_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.MaxRetries = 2
	c := newTestClient(t, cfg)

	resp, err := c.Get(context.Background(), "record", server.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(resp.Body) != "ok" {
		t.Errorf("Body = %q, want ok", resp.Body)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server calls = %d, want 3", got)
	}
}

func TestGet_DoesNotRetryClientErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{name: "not found", status: http.StatusNotFound},
		{name: "not implemented", status: http.StatusNotImplemented},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			cfg := testConfig()
			cfg.MaxRetries = 3
			c := newTestClient(t, cfg)

			if _, err := c.Get(context.Background(), "record", server.URL); err == nil {
				t.Fatal("Get() expected error")
			}
			if got := calls.Load(); got != 1 {
				t.Errorf("server calls = %d, want 1", got)
			}
		})
	}
}

func TestGet_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("late"))
	}))
	defer server.Close()

	c := newTestClient(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Get(ctx, "record", server.URL); !errors.Is(err, context.Canceled) {
		t.Errorf("Get() error = %v, want context.Canceled", err)
	}
}

func TestGet_RateLimiterPacesRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.RateLimit = 20
	cfg.Burst = 1
	c := newTestClient(t, cfg)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := c.Get(context.Background(), "record", server.URL); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
	}

	// Burst 1 at 20/s: the 2nd and 3rd requests wait ~50ms each.
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("3 requests took %v, want >= ~100ms", elapsed)
	}
}
