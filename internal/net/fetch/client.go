// Package fetch is the shared retrying HTTP transport for all source
// adapters: per-request timeouts, exponential backoff with jitter on
// transient failures, per-host concurrency caps, token-bucket rate limits,
// and per-host circuit breakers.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/heimdall-asis/heimdall/internal/net/ratelimit"
)

var (
	// ErrTransient marks failures worth retrying: network errors, 5xx, 429.
	ErrTransient = errors.New("transient upstream error")
	// ErrPermanent marks failures that will not succeed on retry: 4xx != 429.
	ErrPermanent = errors.New("permanent upstream error")
	// ErrRateLimited marks a 429; it is also transient.
	ErrRateLimited = errors.New("upstream rate limited")
)

// Options configures a Client.
type Options struct {
	Timeout            time.Duration // per-request connect + read timeout
	MaxRetries         int           // retry attempts after the first try
	BackoffBase        time.Duration // 1s -> 2s -> 4s schedule base
	JitterFrac         float64       // +/- fraction applied to each delay
	RetryAfterCeiling  time.Duration // cap on honored Retry-After values
	PerHostConcurrency int
	PerHostRPS         float64
	PerHostBurst       int
	UserAgent          string
}

// DefaultOptions returns the limits described in the operating defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:            10 * time.Second,
		MaxRetries:         2, // 3 attempts total
		BackoffBase:        1 * time.Second,
		JitterFrac:         0.25,
		RetryAfterCeiling:  60 * time.Second,
		PerHostConcurrency: 4,
		PerHostRPS:         2.0,
		PerHostBurst:       4,
		UserAgent:          "heimdall-asis/1.0",
	}
}

// Response is the portion of an HTTP response adapters consume.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client is safe for concurrent use and shared across adapters so per-host
// limiter and breaker state is process-wide.
type Client struct {
	opts     Options
	http     *http.Client
	limiter  *ratelimit.Limiter
	mu       sync.Mutex
	sems     map[string]chan struct{}
	breakers map[string]*gobreaker.CircuitBreaker
}

// New creates a client with the given options, filling zero values from the
// defaults.
func New(opts Options) *Client {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = def.MaxRetries
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = def.BackoffBase
	}
	if opts.JitterFrac <= 0 {
		opts.JitterFrac = def.JitterFrac
	}
	if opts.RetryAfterCeiling <= 0 {
		opts.RetryAfterCeiling = def.RetryAfterCeiling
	}
	if opts.PerHostConcurrency <= 0 {
		opts.PerHostConcurrency = def.PerHostConcurrency
	}
	if opts.PerHostRPS <= 0 {
		opts.PerHostRPS = def.PerHostRPS
	}
	if opts.PerHostBurst <= 0 {
		opts.PerHostBurst = def.PerHostBurst
	}
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}

	return &Client{
		opts: opts,
		http: &http.Client{
			Timeout: opts.Timeout,
		},
		limiter: ratelimit.New(ratelimit.HostLimit{
			RPS:   opts.PerHostRPS,
			Burst: opts.PerHostBurst,
		}, nil),
		sems:     make(map[string]chan struct{}),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get performs a GET against rawURL with query params merged in.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse url: %v", ErrPermanent, err)
	}
	if params != nil {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrPermanent, err)
	}
	return c.Do(ctx, req)
}

// Do executes req with the full retry, rate-limit, and breaker policy.
// Cancellation closes in-flight sockets and returns ctx.Err() without
// completing the retry schedule.
func (c *Client) Do(ctx context.Context, req *http.Request) (*Response, error) {
	host := req.URL.Host

	// Per-host concurrency slot, bounded by the request deadline.
	sem := c.semFor(host)
	select {
	case sem <- struct{}{}:
		defer func() { <-sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt, lastErr)
			log.Debug().
				Str("host", host).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Msg("Retrying HTTP request")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx, host); err != nil {
			return nil, err
		}

		resp, err := c.attempt(ctx, host, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if !errors.Is(err, ErrTransient) {
			return nil, err
		}
	}

	return nil, lastErr
}

// attempt runs one HTTP round trip through the host's circuit breaker.
func (c *Client) attempt(ctx context.Context, host string, req *http.Request) (*Response, error) {
	breaker := c.breakerFor(host)
	result, err := breaker.Execute(func() (any, error) {
		return c.roundTrip(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open for %s", ErrTransient, host)
		}
		return nil, err
	}
	return result.(*Response), nil
}

func (c *Client) roundTrip(ctx context.Context, req *http.Request) (*Response, error) {
	resp, err := c.http.Do(req.Clone(ctx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransient, err)
	}

	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return out, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return out, &statusError{code: resp.StatusCode, retryAfter: parseRetryAfter(resp.Header)}
	case resp.StatusCode >= 500:
		return out, &statusError{code: resp.StatusCode}
	default:
		return out, &statusError{code: resp.StatusCode, permanent: true}
	}
}

// statusError carries HTTP classification through errors.Is.
type statusError struct {
	code       int
	permanent  bool
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.code)
}

func (e *statusError) Is(target error) bool {
	switch target {
	case ErrPermanent:
		return e.permanent
	case ErrTransient:
		return !e.permanent
	case ErrRateLimited:
		return e.code == http.StatusTooManyRequests
	}
	return false
}

// StatusCode extracts the HTTP status from a fetch error, 0 if absent.
func StatusCode(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.code
	}
	return 0
}

func parseRetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// backoff returns the delay before the given retry attempt, honoring an
// upstream Retry-After up to the configured ceiling.
func (c *Client) backoff(attempt int, lastErr error) time.Duration {
	var se *statusError
	if errors.As(lastErr, &se) && se.retryAfter > 0 {
		if se.retryAfter > c.opts.RetryAfterCeiling {
			return c.opts.RetryAfterCeiling
		}
		return se.retryAfter
	}

	delay := c.opts.BackoffBase * time.Duration(1<<(attempt-1))
	jitter := 1 + c.opts.JitterFrac*(2*rand.Float64()-1)
	return time.Duration(float64(delay) * jitter)
}

func (c *Client) semFor(host string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	sem, ok := c.sems[host]
	if !ok {
		sem = make(chan struct{}, c.opts.PerHostConcurrency)
		c.sems[host] = sem
	}
	return sem
}

func (c *Client) breakerFor(host string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	breaker, ok := c.breakers[host]
	if !ok {
		breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    host,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				// Permanent upstream answers are not a breaker concern.
				return err == nil || errors.Is(err, ErrPermanent)
			},
		})
		c.breakers[host] = breaker
	}
	return breaker
}
