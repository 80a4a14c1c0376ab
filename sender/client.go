package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/prilive-com/relaygo/api"
	"github.com/prilive-com/relaygo/internal/httpclient"
	"github.com/prilive-com/relaygo/internal/resilience"
	"github.com/prilive-com/relaygo/internal/scrub"
	"github.com/prilive-com/relaygo/internal/validate"
)

const (
	maxResponseSize = 1 << 20 // 1MB
)

// Sleeper abstracts time-based waiting for testing.
type Sleeper = resilience.Sleeper

// SendMessageRequest is one outbound text message.
// Only Content is serialized; the body is exactly {"content": "..."}.
type SendMessageRequest struct {
	ChannelID string `json:"-"`
	Content   string `json:"content"`
}

// Client is the transport client for the messaging API.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *resilience.RateLimiter
	breaker    *gobreaker.CircuitBreaker[*api.Message]
	sleeper    Sleeper // For testing retry logic
	closeOnce  sync.Once
}

// apiErrorBody is the error payload of a non-2xx response.
type apiErrorBody struct {
	Message    string  `json:"message"`
	Code       int     `json:"code"`
	RetryAfter float64 `json:"retry_after,omitempty"` // seconds, fractional
}

// transportError marks a failure below HTTP (dial, reset, timeout, short read).
// These are retried like the transient status codes.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return "request failed: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// Option configures the Client.
type Option func(*Client)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithRateLimit sets the global rate limit. rps <= 0 disables it.
func WithRateLimit(globalRPS float64, burst int) Option {
	return func(c *Client) {
		c.config.GlobalRPS = globalRPS
		c.config.GlobalBurst = burst
	}
}

// WithPerChannelRateLimit sets the per-channel rate limit. rps <= 0 disables it.
func WithPerChannelRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		c.config.PerChannelRPS = rps
		c.config.PerChannelBurst = burst
	}
}

// WithRetries sets how many times a transient failure is retried.
func WithRetries(max int) Option {
	return func(c *Client) {
		c.config.MaxRetries = max
	}
}

// WithBackoff sets the backoff factor and the cap on a single wait.
func WithBackoff(factor, maxWait time.Duration) Option {
	return func(c *Client) {
		c.config.BackoffFactor = factor
		c.config.RetryMaxWait = maxWait
	}
}

// WithRetryRateLimited makes 429 responses retryable, waiting Retry-After.
func WithRetryRateLimited(enabled bool) Option {
	return func(c *Client) {
		c.config.RetryRateLimited = enabled
	}
}

// WithBaseURL sets the API base URL (useful for testing).
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.config.BaseURL = url
	}
}

// WithAPIVersion sets the API version in the request path.
func WithAPIVersion(v int) Option {
	return func(c *Client) {
		c.config.APIVersion = v
	}
}

// WithCAFile trusts the roots in a PEM bundle instead of the system pool.
func WithCAFile(path string) Option {
	return func(c *Client) {
		c.config.CAFile = path
	}
}

// WithSleeper sets a custom sleeper for retry timing (useful for testing).
func WithSleeper(s Sleeper) Option {
	return func(c *Client) {
		c.sleeper = s
	}
}

// WithBreaker configures the circuit breaker. failures = 0 disables tripping.
func WithBreaker(failures uint32, timeout time.Duration) Option {
	return func(c *Client) {
		c.config.BreakerFailures = failures
		c.config.BreakerTimeout = timeout
	}
}

// New creates a new Client with default configuration and the given options.
func New(opts ...Option) (*Client, error) {
	return NewFromConfig(DefaultConfig(), opts...)
}

// NewFromConfig creates a Client from a Config.
func NewFromConfig(cfg Config, opts ...Option) (*Client, error) {
	c := &Client{config: cfg}

	for _, opt := range opts {
		opt(c)
	}

	if err := c.config.Validate(); err != nil {
		return nil, err
	}

	if c.logger == nil {
		c.logger = slog.Default()
	}

	if c.httpClient == nil {
		hc := httpclient.DefaultConfig()
		hc.RequestTimeout = c.config.RequestTimeout
		hc.KeepAlive = c.config.KeepAlive
		hc.MaxIdleConns = c.config.MaxIdleConns
		hc.IdleTimeout = c.config.IdleTimeout
		hc.CAFile = c.config.CAFile
		httpClient, err := httpclient.New(hc)
		if err != nil {
			return nil, fmt.Errorf("failed to create http client: %w", err)
		}
		c.httpClient = httpClient
	}

	if c.sleeper == nil {
		c.sleeper = resilience.RealSleeper{}
	}

	c.limiter = resilience.NewRateLimiter(resilience.RateLimiterConfig{
		GlobalRPS:   c.config.GlobalRPS,
		GlobalBurst: c.config.GlobalBurst,
		KeyRPS:      c.config.PerChannelRPS,
		KeyBurst:    c.config.PerChannelBurst,
	})

	bcfg := resilience.DefaultBreakerConfig("relaygo-sender")
	bcfg.Threshold = c.config.BreakerFailures
	if c.config.BreakerTimeout > 0 {
		bcfg.Timeout = c.config.BreakerTimeout
	}
	bcfg.IsSuccessful = isBreakerSuccess
	bcfg.OnStateChange = func(name, from, to string) {
		c.logger.Info("circuit breaker state changed",
			"name", name,
			"from", from,
			"to", to,
		)
	}
	c.breaker = resilience.NewBreaker[*api.Message](bcfg)

	return c, nil
}

// Close releases resources used by the client.
// In-flight requests complete normally. Subsequent calls are no-ops.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.limiter.Close()
		httpclient.CloseIdle(c.httpClient)
	})
	return nil
}

// Config returns a copy of the effective configuration.
func (c *Client) Config() Config {
	return c.config
}

// ChannelLimiterCount returns the number of per-channel rate limiters currently tracked.
func (c *Client) ChannelLimiterCount() int {
	return c.limiter.KeyCount()
}

// BreakerState returns the circuit breaker state: "closed", "half-open" or "open".
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// SendMessage posts req.Content to req.ChannelID using cred.
// Transient failures are retried internally; the caller sees only the final outcome.
func (c *Client) SendMessage(ctx context.Context, cred api.Credential, req SendMessageRequest) (*api.Message, error) {
	if err := validate.ChannelID(req.ChannelID); err != nil {
		return nil, err
	}
	if cred.IsZero() {
		return nil, api.ErrNoCredential
	}

	// Fail fast without spending a rate-limit token
	if resilience.IsOpen(c.breaker) {
		return nil, fmt.Errorf("%w: %w", api.ErrCircuitOpen, gobreaker.ErrOpenState)
	}

	if err := c.limiter.Wait(ctx, req.ChannelID); err != nil {
		return nil, err
	}

	msg, err := c.breaker.Execute(func() (*api.Message, error) {
		return c.sendWithRetry(ctx, cred, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %w", api.ErrCircuitOpen, err)
		}
		return nil, err
	}
	return msg, nil
}

func (c *Client) sendWithRetry(ctx context.Context, cred api.Credential, req SendMessageRequest) (*api.Message, error) {
	retryCfg := resilience.RetryConfig{
		MaxRetries:    c.config.MaxRetries,
		BackoffFactor: c.config.BackoffFactor,
		MaxWait:       c.config.RetryMaxWait,
		Jitter:        c.config.RetryJitter,
	}

	msg, err := resilience.Retry(ctx, retryCfg, c.sleeper, c.classify,
		func(attempt int) (*api.Message, error) {
			return c.doRequest(ctx, cred, req)
		},
		func(attempt int, err error, wait time.Duration) {
			c.logger.Warn("retrying send",
				"channel_id", req.ChannelID,
				"credential", cred.Label,
				"attempt", attempt,
				"wait", wait,
				"error", err,
			)
		},
	)
	if err != nil {
		var exhausted *resilience.ExhaustedError
		if errors.As(err, &exhausted) {
			return nil, fmt.Errorf("%w: %w", api.ErrMaxRetries, exhausted.Err)
		}
		return nil, err
	}
	return msg, nil
}

// classify applies the retry policy: 500/502/503/504 and transport failures
// are retried, 429 only when RetryRateLimited is set, everything else is final.
// Retry-After replaces the computed wait for 503 and 429.
func (c *Client) classify(err error) resilience.Decision {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return resilience.Decision{}
	}

	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.IsRetryable():
			// Retry-After is honoured on 503 only; other 5xx follow the backoff schedule
			if apiErr.StatusCode == http.StatusServiceUnavailable {
				return resilience.Decision{Retry: true, After: apiErr.RetryAfter}
			}
			return resilience.Decision{Retry: true}
		case apiErr.IsRateLimited() && c.config.RetryRateLimited:
			return resilience.Decision{Retry: true, After: apiErr.RetryAfter}
		}
		return resilience.Decision{}
	}

	var tErr *transportError
	if errors.As(err, &tErr) {
		return resilience.Decision{Retry: true}
	}

	return resilience.Decision{}
}

func (c *Client) messagesURL(channelID string) string {
	return fmt.Sprintf("%s/api/v%d/channels/%s/messages",
		strings.TrimRight(c.config.BaseURL, "/"),
		c.config.APIVersion,
		url.PathEscape(channelID),
	)
}

func (c *Client) doRequest(ctx context.Context, cred api.Credential, req SendMessageRequest) (*api.Message, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.messagesURL(req.ChannelID), bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", cred.Secret.Trimmed().Value())
	if c.config.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.config.UserAgent)
	}

	resp, err := httpclient.DoJSON(ctx, c.httpClient, httpReq)
	if err != nil {
		err = scrub.SecretFromError(err, cred.Secret)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	// Read maxResponseSize+1 to detect overflow without false positive
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, &transportError{err: fmt.Errorf("failed to read response: %w", err)}
	}

	if int64(len(body)) > maxResponseSize {
		return nil, api.ErrResponseTooLarge
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseAPIError(req.ChannelID, resp, body)
	}

	c.logger.Debug("message delivered",
		"channel_id", req.ChannelID,
		"credential", cred.Label,
		"status", resp.StatusCode,
	)

	if len(bytes.TrimSpace(body)) == 0 {
		return &api.Message{ChannelID: req.ChannelID, Content: req.Content}, nil
	}

	// Delivery is decided by the status code; the body is informational
	var msg api.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		c.logger.Debug("unparsed success body",
			"channel_id", req.ChannelID,
			"status", resp.StatusCode,
			"error", err,
		)
		return &api.Message{ChannelID: req.ChannelID, Content: req.Content}, nil
	}
	return &msg, nil
}

// parseAPIError builds an APIError from a non-2xx response. The body is
// best-effort: proxies answer 502/504 with HTML.
func parseAPIError(channelID string, resp *http.Response, body []byte) *api.APIError {
	var eb apiErrorBody
	if err := json.Unmarshal(body, &eb); err != nil || eb.Message == "" {
		eb.Message = http.StatusText(resp.StatusCode)
	}

	retryAfter := parseRetryAfter(eb.RetryAfter, resp)
	if retryAfter > 0 {
		return api.NewAPIErrorWithRetry(channelID, resp.StatusCode, eb.Code, eb.Message, retryAfter)
	}
	return api.NewAPIError(channelID, resp.StatusCode, eb.Code, eb.Message)
}

// parseRetryAfter extracts retry_after from the JSON body (primary) or HTTP header (fallback).
func parseRetryAfter(bodySeconds float64, httpResp *http.Response) time.Duration {
	if bodySeconds > 0 {
		return time.Duration(math.Ceil(bodySeconds*1000)) * time.Millisecond
	}

	if httpResp != nil {
		if header := httpResp.Header.Get("Retry-After"); header != "" {
			if seconds, err := strconv.ParseFloat(header, 64); err == nil && seconds > 0 {
				return time.Duration(math.Ceil(seconds*1000)) * time.Millisecond
			}
			if at, err := http.ParseTime(header); err == nil {
				if d := time.Until(at); d > 0 {
					return d
				}
			}
		}
	}

	return 0
}

// isBreakerSuccess determines if an error should count as a circuit breaker failure.
// Only server errors (5xx) and network errors trip the breaker.
// Client errors (4xx) including 429 are NOT breaker failures.
func isBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
	}
	// Context cancellation is not a service failure
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}
