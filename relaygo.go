package relaygo

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prilive-com/relaygo/api"
	"github.com/prilive-com/relaygo/dispatch"
	"github.com/prilive-com/relaygo/internal/validate"
	"github.com/prilive-com/relaygo/rotator"
	"github.com/prilive-com/relaygo/sender"
)

// Relay combines the credential rotator, the dispatch loop and the transport client.
type Relay struct {
	logger     *slog.Logger
	rotator    *rotator.Rotator
	dispatcher *dispatch.Dispatcher
	config     relayConfig
	closeOnce  sync.Once
}

type relayConfig struct {
	channel     string
	credentials []api.Credential

	// Sender settings
	senderConfig  sender.Config
	senderOptions []sender.Option

	// Dispatch settings
	rotateEvery  int
	idleInterval time.Duration

	// Events
	onSendResult        func(message string, success bool, errorDetail string)
	onResult            func(dispatch.Result)
	onCredentialChanged func(label string)

	// Logger
	logger *slog.Logger
}

// Option configures the Relay.
type Option func(*relayConfig)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *relayConfig) {
		c.logger = logger
	}
}

// WithChannel sets the destination channel.
func WithChannel(id string) Option {
	return func(c *relayConfig) {
		c.channel = id
	}
}

// WithCredentials seeds the rotator. Duplicates are dropped.
func WithCredentials(creds ...api.Credential) Option {
	return func(c *relayConfig) {
		c.credentials = append(c.credentials, creds...)
	}
}

// WithRetries sets how many times a transient failure is retried.
func WithRetries(max int) Option {
	return func(c *relayConfig) {
		c.senderConfig.MaxRetries = max
	}
}

// WithRetryRateLimited makes 429 responses retryable.
func WithRetryRateLimited(enabled bool) Option {
	return func(c *relayConfig) {
		c.senderConfig.RetryRateLimited = enabled
	}
}

// WithRateLimit sets rate limiting.
func WithRateLimit(globalRPS float64, burst int) Option {
	return func(c *relayConfig) {
		c.senderConfig.GlobalRPS = globalRPS
		c.senderConfig.GlobalBurst = burst
	}
}

// WithBaseURL sets the API base URL.
func WithBaseURL(url string) Option {
	return func(c *relayConfig) {
		c.senderConfig.BaseURL = url
	}
}

// WithSenderConfig replaces the whole transport configuration.
func WithSenderConfig(cfg sender.Config) Option {
	return func(c *relayConfig) {
		c.senderConfig = cfg
	}
}

// WithSenderOptions passes options through to every transport client.
func WithSenderOptions(opts ...sender.Option) Option {
	return func(c *relayConfig) {
		c.senderOptions = append(c.senderOptions, opts...)
	}
}

// WithRotateEvery sets how many sends happen between credential rotations.
func WithRotateEvery(n int) Option {
	return func(c *relayConfig) {
		c.rotateEvery = n
	}
}

// WithIdleInterval sets how often an idle loop rechecks the queue.
func WithIdleInterval(d time.Duration) Option {
	return func(c *relayConfig) {
		c.idleInterval = d
	}
}

// WithOnSendResult registers a hook called once per dispatched message.
func WithOnSendResult(fn func(message string, success bool, errorDetail string)) Option {
	return func(c *relayConfig) {
		c.onSendResult = fn
	}
}

// WithOnResult registers a hook receiving the full dispatch.Result.
func WithOnResult(fn func(dispatch.Result)) Option {
	return func(c *relayConfig) {
		c.onResult = fn
	}
}

// WithOnCredentialChanged registers a hook called with the label of the
// credential now in use, or "" when the last one was removed.
func WithOnCredentialChanged(fn func(label string)) Option {
	return func(c *relayConfig) {
		c.onCredentialChanged = fn
	}
}

// New creates a stopped Relay.
func New(opts ...Option) (*Relay, error) {
	cfg := relayConfig{
		senderConfig: sender.DefaultConfig(),
		rotateEvery:  dispatch.DefaultRotateEvery,
		idleInterval: dispatch.DefaultIdleInterval,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.senderConfig.Validate(); err != nil {
		return nil, err
	}

	// Use configured logger or default
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Relay{
		logger:  logger,
		rotator: rotator.New(cfg.credentials...),
		config:  cfg,
	}

	r.rotator.OnChange(func(c rotator.Change) {
		if c.Empty {
			logger.Warn("no credentials left")
		} else {
			logger.Info("credential changed", "credential", c.Credential.Label, "index", c.Index)
		}
		if cfg.onCredentialChanged != nil {
			cfg.onCredentialChanged(c.Credential.Label)
		}
	})

	r.dispatcher = dispatch.New(r.rotator, r.newTransport,
		dispatch.WithLogger(logger),
		dispatch.WithChannel(cfg.channel),
		dispatch.WithRotateEvery(cfg.rotateEvery),
		dispatch.WithIdleInterval(cfg.idleInterval),
		dispatch.WithOnSendResult(r.handleResult),
	)

	return r, nil
}

func (r *Relay) newTransport() (dispatch.Transport, error) {
	opts := append([]sender.Option{sender.WithLogger(r.logger)}, r.config.senderOptions...)
	client, err := sender.NewFromConfig(r.config.senderConfig, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (r *Relay) handleResult(res dispatch.Result) {
	if r.config.onResult != nil {
		r.config.onResult(res)
	}
	if r.config.onSendResult != nil {
		r.config.onSendResult(res.Request.Content, res.Success, res.ErrorDetail())
	}
}

// Enqueue queues a message for sending. It never blocks.
func (r *Relay) Enqueue(content string) dispatch.Request {
	return r.dispatcher.Enqueue(content)
}

// SetChannel sets the channel used from the next Start or Restart.
func (r *Relay) SetChannel(id string) {
	r.dispatcher.SetChannel(id)
}

// Channel returns the configured channel.
func (r *Relay) Channel() string {
	return r.dispatcher.Channel()
}

// AddCredential adds a credential. It returns false for an invalid or duplicate secret.
func (r *Relay) AddCredential(secret, label string) bool {
	if err := validate.Secret(api.Secret(secret)); err != nil {
		r.logger.Warn("credential rejected", "label", label, "error", err)
		return false
	}
	return r.rotator.Add(api.NewCredential(secret, label))
}

// RemoveCredential removes the credential at index.
func (r *Relay) RemoveCredential(index int) bool {
	return r.rotator.Remove(index)
}

// SwitchCredential advances to the next credential immediately.
func (r *Relay) SwitchCredential() (api.Credential, bool) {
	return r.rotator.Advance()
}

// Credentials returns the credentials in rotation order.
func (r *Relay) Credentials() []api.Credential {
	return r.rotator.Credentials()
}

// CurrentCredential returns the credential the next send will use.
func (r *Relay) CurrentCredential() (api.Credential, bool) {
	return r.rotator.Current()
}

// Rotator returns the underlying rotator for advanced usage.
func (r *Relay) Rotator() *rotator.Rotator {
	return r.rotator
}

// Start begins dispatching. Calling it while running is a no-op.
func (r *Relay) Start(ctx context.Context) error {
	return r.dispatcher.Start(ctx)
}

// Stop stops dispatching after the in-flight message.
func (r *Relay) Stop() {
	r.dispatcher.Stop()
}

// Restart stops and starts again, picking up a changed channel.
func (r *Relay) Restart(ctx context.Context) error {
	return r.dispatcher.Restart(ctx)
}

// WaitIdle blocks until every queued message has been dispatched.
func (r *Relay) WaitIdle(ctx context.Context) error {
	return r.dispatcher.WaitIdle(ctx)
}

// Stats returns dispatch counters and state.
func (r *Relay) Stats() dispatch.Stats {
	return r.dispatcher.Stats()
}

// Running reports whether the dispatch loop is active.
func (r *Relay) Running() bool {
	return r.dispatcher.Running()
}

// Close stops the relay. Subsequent calls are no-ops.
func (r *Relay) Close() error {
	r.closeOnce.Do(r.dispatcher.Stop)
	return nil
}
