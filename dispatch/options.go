package dispatch

import (
	"log/slog"
	"time"
)

const (
	// DefaultRotateEvery is how many sends happen between credential rotations.
	DefaultRotateEvery = 10

	// DefaultIdleInterval is how long the loop idles on an empty queue before rechecking.
	DefaultIdleInterval = 100 * time.Millisecond
)

// Option configures the Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithChannel sets the initial channel.
func WithChannel(id string) Option {
	return func(d *Dispatcher) {
		d.channel = id
	}
}

// WithRotateEvery sets the rotation period in sends. Values below 1 are ignored.
func WithRotateEvery(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.rotateEvery = int64(n)
		}
	}
}

// WithIdleInterval sets the empty-queue recheck interval.
func WithIdleInterval(interval time.Duration) Option {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.idleInterval = interval
		}
	}
}

// WithOnSendResult registers the per-message result hook.
// It runs on the dispatch goroutine; keep it short.
func WithOnSendResult(fn func(Result)) Option {
	return func(d *Dispatcher) {
		d.onResult = fn
	}
}
