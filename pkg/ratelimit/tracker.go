package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	budgetRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dex_rate_limit_remaining",
		Help: "Requests remaining in the current upstream rate limit window",
	})

	budgetBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dex_rate_limit_blocks_total",
		Help: "Total number of requests blocked because the upstream budget is critical",
	})

	budgetThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dex_rate_limit_throttles_total",
		Help: "Total number of requests delayed because the upstream budget is low",
	})
)

// ThrottleDelay is how long a request waits when the budget is in warning state.
var ThrottleDelay = 1 * time.Second

// StaleAfter is the age past which a stored budget is ignored. Nothing has
// refreshed it since, so it no longer describes the upstream window.
var StaleAfter = 5 * time.Minute

// Tracker reads and writes the shared upstream budget.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewTracker creates a new budget tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
	}
}

// GetState returns the stored budget, or a healthy default when Redis has none.
func (t *Tracker) GetState(ctx context.Context) (*BudgetState, error) {
	remaining, err := t.redis.Get(ctx, RedisKeyRemaining).Int()
	if err == redis.Nil {
		t.logger.Debug().Msg("No budget state in Redis, assuming healthy")
		state := &BudgetState{
			Remaining:  defaultRemaining,
			LastUpdate: time.Now(),
		}
		state.UpdateHealth()
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get remaining: %w", err)
	}

	resetUnix, err := t.redis.Get(ctx, RedisKeyResetTimestamp).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get reset timestamp: %w", err)
	}

	state := &BudgetState{Remaining: remaining}
	if resetUnix > 0 {
		state.ResetAt = time.Unix(resetUnix, 0)
	}

	raw, err := t.redis.Get(ctx, RedisKeyLastUpdate).Bytes()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get last update: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &state.LastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	state.UpdateHealth()
	return state, nil
}

// UpdateFromHeaders stores the budget advertised by a response.
// Responses without budget headers leave the state untouched.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	state, ok, err := parseHeaders(headers, time.Now())
	if err != nil || !ok {
		return err
	}

	lastUpdate, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	pipe := t.redis.TxPipeline()
	pipe.Set(ctx, RedisKeyRemaining, state.Remaining, 0)
	pipe.Set(ctx, RedisKeyResetTimestamp, state.ResetAt.Unix(), 0)
	pipe.Set(ctx, RedisKeyLastUpdate, lastUpdate, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store budget state in redis: %w", err)
	}

	budgetRemaining.Set(float64(state.Remaining))

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Error().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Upstream budget CRITICAL - requests will be blocked")
	case state.NeedsThrottling():
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Upstream budget low - requests will be throttled")
	default:
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Bool("is_healthy", state.IsHealthy).
			Msg("Upstream budget updated")
	}

	return nil
}

// ShouldAllowRequest reports whether a request may be sent now. In warning
// state it delays for ThrottleDelay (or until ctx is done) before allowing.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get budget state: %w", err)
	}
	return t.gate(ctx, state)
}

// gate applies the block/throttle/allow policy to state.
func (t *Tracker) gate(ctx context.Context, state *BudgetState) (bool, error) {
	if !state.LastUpdate.IsZero() && state.IsStale(StaleAfter) {
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Time("last_update", state.LastUpdate).
			Msg("Ignoring stale upstream budget")
		return true, nil
	}

	if state.NeedsCriticalBlock() {
		t.logger.Error().
			Int("remaining", state.Remaining).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Upstream budget critical - blocking request")
		budgetBlocksTotal.Inc()
		return false, nil
	}

	if state.NeedsThrottling() {
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Msg("Upstream budget low - throttling request")
		budgetThrottlesTotal.Inc()

		timer := time.NewTimer(ThrottleDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}

	return true, nil
}

// parseHeaders extracts the budget from response headers. ok is false when
// the remaining header is absent.
func parseHeaders(headers http.Header, now time.Time) (*BudgetState, bool, error) {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil, false, nil
	}

	remaining, err := strconv.Atoi(remainStr)
	if err != nil {
		return nil, false, fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return nil, false, fmt.Errorf("%s header missing", HeaderReset)
	}

	resetSeconds, err := strconv.Atoi(resetStr)
	if err != nil {
		return nil, false, fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}

	state := &BudgetState{
		Remaining:  remaining,
		ResetAt:    now.Add(time.Duration(resetSeconds) * time.Second),
		LastUpdate: now,
	}
	state.UpdateHealth()
	return state, true, nil
}
