// Package llm implements a rate-limited, retried LLM client wrapper with
// process-wide circuit breaking. Concrete providers are consumed behind the
// Provider interface; this package owns only request shaping, backoff, and
// failure isolation.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/atomicobject/vaultweaver/internal/observability"
	"github.com/atomicobject/vaultweaver/internal/vwerr"
)

// ResponseFormat selects how Complete should parse the provider's reply.
type ResponseFormat string

const (
	FormatText ResponseFormat = "text"
	FormatJSON ResponseFormat = "json"
	FormatList ResponseFormat = "list"
)

// Options configures a single Complete call.
type Options struct {
	Model          string
	ResponseFormat ResponseFormat
	MaxTokens      int
	Temperature    float64
	Timeout        time.Duration
}

// Result is the parsed outcome of a Complete call.
type Result struct {
	Text string
	JSON map[string]interface{} // set when ResponseFormat == FormatJSON
	List []interface{}          // set when ResponseFormat == FormatList
}

// Provider is the narrow surface a concrete LLM backend must implement.
// Providers never see rate limiting, retries, or circuit breaking; Client
// wraps them with all three.
type Provider interface {
	// Invoke makes one network call and returns the raw text, or an error.
	// StatusCode is used to classify retryable vs. permanent failures; 0
	// means the error occurred before a response was received (treated as
	// transient).
	Invoke(ctx context.Context, prompt string, opts Options) (text string, statusCode int, err error)
}

// CircuitState is the current breaker state.
type CircuitState string

const (
	Closed   CircuitState = "CLOSED"
	Open     CircuitState = "OPEN"
	HalfOpen CircuitState = "HALF_OPEN"
)

// Config tunes retry, rate-limit, and circuit-breaker behavior.
type Config struct {
	RateLimitPerMinute int
	MaxRetries         int
	CircuitThreshold   int
	CircuitCooldown    time.Duration
	DefaultModel       string
}

// Client wraps a Provider with rate limiting, retry, and circuit breaking.
// A single Client's breaker state is process-wide for that client instance,
// matching the concurrency model's "globally rate-limited" requirement.
type Client struct {
	provider Provider
	cfg      Config
	limiter  *rate.Limiter

	mu           sync.Mutex
	state        CircuitState
	failureCount int
	openedAt     time.Time

	metrics *observability.Metrics
}

// SetMetrics wires Prometheus recording into the client. Optional.
func (c *Client) SetMetrics(m *observability.Metrics) {
	c.metrics = m
}

// New constructs a Client around provider with the given config.
func New(provider Provider, cfg Config) *Client {
	if cfg.CircuitThreshold <= 0 {
		cfg.CircuitThreshold = 5
	}
	if cfg.CircuitCooldown <= 0 {
		cfg.CircuitCooldown = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	rps := float64(cfg.RateLimitPerMinute) / 60.0
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.RateLimitPerMinute
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		provider: provider,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		state:    Closed,
	}
}

// State returns the breaker's current state, primarily for observability.
func (c *Client) State() CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Complete sends prompt to the provider, retrying transient failures with
// exponential backoff and honoring the circuit breaker.
func (c *Client) Complete(ctx context.Context, prompt string, opts Options) (Result, error) {
	start := time.Now()
	result, err := c.complete(ctx, prompt, opts)
	if c.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		c.metrics.LLMCallsTotal.WithLabelValues(outcome).Inc()
		c.metrics.LLMLatency.Observe(time.Since(start).Seconds())
	}
	return result, err
}

func (c *Client) complete(ctx context.Context, prompt string, opts Options) (Result, error) {
	if opts.Model == "" {
		opts.Model = c.cfg.DefaultModel
	}

	if !c.allowRequest() {
		return Result{}, vwerr.New("llm.Complete", vwerr.LLMCircuitOpen, errors.New("circuit breaker open"))
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return Result{}, vwerr.New("llm.Complete", vwerr.LLMTransient, err)
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return Result{}, vwerr.New("llm.Complete", vwerr.LLMTransient, err)
		}

		text, status, err := c.provider.Invoke(ctx, prompt, opts)
		if err == nil {
			c.recordSuccess()
			return parseResult(text, opts.ResponseFormat)
		}

		if !retryable(status, err) {
			c.recordFailure()
			return Result{}, vwerr.New("llm.Complete", vwerr.LLMPermanent, err)
		}

		lastErr = err
		c.recordFailure()
		if !c.allowRequest() {
			return Result{}, vwerr.New("llm.Complete", vwerr.LLMCircuitOpen, errors.New("circuit breaker opened during retries"))
		}
	}

	return Result{}, vwerr.New("llm.Complete", vwerr.LLMTransient, lastErr)
}

func retryable(status int, err error) bool {
	if status == 0 {
		return true // transport-level failure, no response
	}
	if status == http.StatusTooManyRequests {
		return true
	}
	if status >= 500 {
		return true
	}
	return false
}

func sleepBackoff(ctx context.Context, attempt int) error {
	base := 200 * time.Millisecond
	backoff := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	jitter := time.Duration(rand.Int63n(int64(backoff) / 2+1)) //nolint:gosec // jitter only, not security sensitive
	select {
	case <-time.After(backoff + jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// allowRequest applies the breaker's state machine: CLOSED allows requests
// unconditionally, OPEN rejects requests until the cooldown elapses (then
// transitions to HALF_OPEN and admits the request that noticed it).
// HALF_OPEN does not limit requests to a single probe: every request is let
// through until the next recorded success closes the breaker or the next
// recorded failure reopens it.
func (c *Client) allowRequest() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Closed:
		return true
	case Open:
		if time.Since(c.openedAt) >= c.cfg.CircuitCooldown {
			c.state = HalfOpen
			return true
		}
		return false
	case HalfOpen:
		return true
	default:
		return true
	}
}

func (c *Client) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount = 0
	c.state = Closed
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == HalfOpen {
		c.state = Open
		c.openedAt = time.Now()
		return
	}
	c.failureCount++
	if c.failureCount >= c.cfg.CircuitThreshold {
		c.state = Open
		c.openedAt = time.Now()
	}
}

// parseResult interprets the provider's raw text per the requested format.
// JSON/list parsing is strict: malformed output surfaces as LLM_PARSE_ERROR
// carrying the raw text so the caller can log it.
func parseResult(text string, format ResponseFormat) (Result, error) {
	switch format {
	case FormatJSON:
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(extractJSONBlock(text)), &obj); err != nil {
			return Result{}, vwerr.New("llm.parseResult", vwerr.LLMParseError, err).WithDetail(text)
		}
		return Result{Text: text, JSON: obj}, nil
	case FormatList:
		var list []interface{}
		if err := json.Unmarshal([]byte(extractJSONBlock(text)), &list); err != nil {
			return Result{}, vwerr.New("llm.parseResult", vwerr.LLMParseError, err).WithDetail(text)
		}
		return Result{Text: text, List: list}, nil
	default:
		return Result{Text: text}, nil
	}
}

// extractJSONBlock strips a fenced ```json ... ``` wrapper if present, since
// providers frequently wrap structured output in markdown even when asked
// not to.
func extractJSONBlock(text string) string {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	return trimmed
}
