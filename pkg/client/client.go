// Package client provides the HTTP fetch primitive used by the catalog
// sources: timeouts, local pacing, transport-level retry, an optional shared
// upstream budget, error classification and metrics.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/dex-scroll/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"resty.dev/v3"
)

// Prometheus metrics for fetch operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dex_http_requests_total",
		Help: "Total upstream requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dex_http_request_duration_seconds",
		Help:    "Upstream request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dex_http_errors_total",
		Help: "Total upstream errors by class",
	}, []string{"class"})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dex_http_retries_total",
		Help: "Total number of transport-level retry attempts",
	})
)

// Config holds the client configuration.
type Config struct {
	// UserAgent is sent with every request. Required.
	UserAgent string

	// Timeout bounds a single attempt.
	Timeout time.Duration

	// Retry. MaxRetries 0 disables retries.
	MaxRetries   int
	RetryWait    time.Duration
	RetryMaxWait time.Duration

	// RateLimit is the local request rate in requests per second; 0 disables pacing.
	RateLimit float64
	Burst     int

	// Redis enables the shared upstream budget when set.
	Redis *redis.Client
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		UserAgent:    userAgent,
		Timeout:      10 * time.Second,
		MaxRetries:   2,
		RetryWait:    250 * time.Millisecond,
		RetryMaxWait: 2 * time.Second,
		RateLimit:    50,
		Burst:        30,
	}
}

// Response is a fully read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string
}

// Client performs GET requests against the catalog upstream.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	budget  *ratelimit.Tracker
	config  Config
	logger  zerolog.Logger
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %s)", cfg.Timeout)
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be >= 0 (got %d)", cfg.MaxRetries)
	}
	if cfg.RateLimit < 0 {
		return nil, fmt.Errorf("rate_limit must be >= 0 (got %g)", cfg.RateLimit)
	}

	logger := log.With().Str("component", "http-client").Logger()

	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "application/json, image/*;q=0.9, */*;q=0.8").
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryMaxWait).
		SetRetryDefaultConditions(false).
		AddRetryConditions(retryCondition).
		AddRetryHooks(retryHook(logger))

	c := &Client{
		http:   httpClient,
		config: cfg,
		logger: logger,
	}

	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	if cfg.Redis != nil {
		c.budget = ratelimit.NewTracker(cfg.Redis, logger)
	}

	return c, nil
}

// Get fetches url. endpoint is a low-cardinality label used for metrics and
// logs ("list", "record", "image"). Any non-2xx outcome is returned as an
// *HTTPError.
func (c *Client) Get(ctx context.Context, endpoint, url string) (*Response, error) {
	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for rate limiter: %w", err)
		}
	}

	if c.budget != nil {
		allowed, err := c.budget.ShouldAllowRequest(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			// An unreachable Redis must not take the catalog down with it.
			c.logger.Warn().Err(err).Msg("Budget check failed, allowing request")
		} else if !allowed {
			c.logger.Warn().Str("endpoint", endpoint).Msg("Request blocked by upstream budget")
			requestsTotal.WithLabelValues(endpoint, "rate_limited").Inc()
			errorsTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()
			return nil, &HTTPError{
				Class:   ErrorClassRateLimit,
				URL:     url,
				Message: "request blocked",
				Err:     ErrBudgetExhausted,
			}
		}
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("url", url).
		Msg("Executing request")

	resp, err := c.http.R().SetContext(ctx).Get(url)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Str("url", url).Msg("Request failed")
		return nil, &HTTPError{
			Class:   ErrorClassNetwork,
			URL:     url,
			Message: "request failed",
			Err:     err,
		}
	}

	if c.budget != nil {
		if err := c.budget.UpdateFromHeaders(ctx, resp.Header()); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update budget from headers")
		}
	}

	status := resp.StatusCode()
	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()

	if status < 200 || status >= 300 {
		class := classifyStatus(status)
		if class == "" {
			class = ErrorClassClient
		}
		errorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Warn().
			Str("endpoint", endpoint).
			Str("url", url).
			Int("status", status).
			Str("error_class", string(class)).
			Msg("Upstream error")
		return nil, &HTTPError{
			StatusCode: status,
			Class:      class,
			URL:        url,
			Message:    resp.Status(),
		}
	}

	return &Response{
		StatusCode: status,
		Header:     resp.Header(),
		Body:       resp.Bytes(),
		URL:        url,
	}, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	return c.http.Close()
}
