package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prilive-com/relaygo/api"
	"github.com/prilive-com/relaygo/internal/syncutil"
	"github.com/prilive-com/relaygo/sender"
)

// State is the lifecycle state of a Dispatcher.
type State int32

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// CredentialSource supplies the credential for each send and rotates it.
// *rotator.Rotator satisfies it.
type CredentialSource interface {
	Current() (api.Credential, bool)
	Advance() (api.Credential, bool)
}

// Transport performs one blocking send. *sender.Client satisfies it.
type Transport interface {
	SendMessage(ctx context.Context, cred api.Credential, req sender.SendMessageRequest) (*api.Message, error)
	Close() error
}

// TransportFactory builds the transport for one session.
type TransportFactory func() (Transport, error)

// Stats is a point-in-time view of the dispatcher.
type Stats struct {
	State   State
	Sent    int64
	Failed  int64
	Pending int
	Channel string // the running session's channel, or the next one when stopped
}

// Dispatcher drains a Queue through a Transport.
type Dispatcher struct {
	src     CredentialSource
	factory TransportFactory
	queue   *Queue
	logger  *slog.Logger

	rotateEvery  int64
	idleInterval time.Duration
	onResult     func(Result)

	chMu    sync.RWMutex
	channel string // applied at the next Start

	// Lifecycle
	mu       sync.Mutex // serializes Start, Stop and Restart; never held while waiting on a loop
	current  *session   // started and not yet stopped
	last     *session   // most recent session, awaited by the next loop before it drains
	active   atomic.Pointer[session]
	inFlight atomic.Int32

	// Counters survive restarts
	sent   atomic.Int64
	failed atomic.Int64
}

// session is what one Start captures.
type session struct {
	channel   string
	transport Transport
	stop      chan struct{}
	wg        sync.WaitGroup
	prev      *session

	// set while the loop runs a result or rotation callback
	inCallback atomic.Bool
}

// New creates a stopped Dispatcher.
func New(src CredentialSource, factory TransportFactory, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		src:          src,
		factory:      factory,
		queue:        NewQueue(),
		logger:       slog.Default(),
		rotateEvery:  DefaultRotateEvery,
		idleInterval: DefaultIdleInterval,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Enqueue appends a message. It never blocks and works in any state.
func (d *Dispatcher) Enqueue(content string) Request {
	req := newRequest(content)
	d.queue.Push(req)
	d.logger.Debug("message queued", "request_id", req.ID, "pending", d.queue.Len())
	return req
}

// SetChannel sets the channel for the next session. A running session keeps its channel.
func (d *Dispatcher) SetChannel(id string) {
	d.chMu.Lock()
	d.channel = id
	d.chMu.Unlock()
}

// Channel returns the channel the next session will use.
func (d *Dispatcher) Channel() string {
	d.chMu.RLock()
	defer d.chMu.RUnlock()
	return d.channel
}

// Start launches the dispatch loop. It is a no-op if already running.
// The loop also ends when ctx is cancelled, and ctx bounds in-flight sends.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.startLocked(ctx)
}

// Stop ends the loop after the in-flight send, if any, and waits for it.
// It is a no-op when stopped.
//
// Called from a result or credential callback, Stop only signals the loop,
// which exits as soon as the callback returns.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	s := d.detachLocked()
	d.mu.Unlock()
	d.await(s)
}

// Restart stops the loop and starts a new session with the current channel.
// The new session drains nothing until the previous loop has exited.
func (d *Dispatcher) Restart(ctx context.Context) error {
	d.mu.Lock()
	s := d.detachLocked()
	d.mu.Unlock()
	d.await(s)

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.startLocked(ctx)
}

func (d *Dispatcher) startLocked(ctx context.Context) error {
	if d.current != nil && d.active.Load() == d.current {
		return nil
	}
	// Reap a session that ended on its own (ctx cancelled)
	d.detachLocked()

	transport, err := d.factory()
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}

	s := &session{
		channel:   d.Channel(),
		transport: transport,
		stop:      make(chan struct{}),
		prev:      d.last,
	}
	d.current = s
	d.last = s
	d.active.Store(s)

	syncutil.Go(&s.wg, func() {
		d.loop(ctx, s)
	})

	d.logger.Info("dispatch started",
		"channel_id", s.channel,
		"pending", d.queue.Len(),
		"rotate_every", d.rotateEvery,
	)
	return nil
}

// detachLocked signals the current session to stop and returns it.
func (d *Dispatcher) detachLocked() *session {
	s := d.current
	if s == nil {
		return nil
	}
	close(s.stop)
	d.current = nil
	d.active.CompareAndSwap(s, nil)
	return s
}

// await waits for a detached session's loop, unless the caller is that loop.
func (d *Dispatcher) await(s *session) {
	if s == nil || s.inCallback.Load() {
		return
	}
	s.wg.Wait()
}

// State returns the lifecycle state.
func (d *Dispatcher) State() State {
	if d.Running() {
		return StateRunning
	}
	return StateStopped
}

// Running reports whether the loop is active.
func (d *Dispatcher) Running() bool {
	return d.active.Load() != nil
}

// Sent returns the number of messages that reached the transport, across all sessions.
func (d *Dispatcher) Sent() int64 { return d.sent.Load() }

// Failed returns how many of the sent messages failed.
func (d *Dispatcher) Failed() int64 { return d.failed.Load() }

// Pending returns the queue length.
func (d *Dispatcher) Pending() int { return d.queue.Len() }

// Stats returns a snapshot of state and counters.
func (d *Dispatcher) Stats() Stats {
	st := Stats{
		State:   StateStopped,
		Sent:    d.sent.Load(),
		Failed:  d.failed.Load(),
		Pending: d.queue.Len(),
		Channel: d.Channel(),
	}
	if s := d.active.Load(); s != nil {
		st.State = StateRunning
		st.Channel = s.channel
	}
	return st
}

// Idle reports whether the queue is empty and no send is in flight.
func (d *Dispatcher) Idle() bool {
	return d.queue.Len() == 0 && d.inFlight.Load() == 0
}

// WaitIdle blocks until Idle, the loop stops, or ctx is done.
func (d *Dispatcher) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(d.idleInterval)
	defer ticker.Stop()

	for {
		if d.Idle() {
			return nil
		}
		if !d.Running() {
			return fmt.Errorf("dispatcher stopped with %d pending", d.queue.Len())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) loop(ctx context.Context, s *session) {
	defer func() {
		d.active.CompareAndSwap(s, nil)
		if err := s.transport.Close(); err != nil {
			d.logger.Warn("transport close failed", "error", err)
		}
	}()

	if s.prev != nil {
		s.prev.wg.Wait()
		s.prev = nil
	}

	idle := time.NewTimer(d.idleInterval)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatch stopped: context cancelled")
			return
		case <-s.stop:
			d.logger.Info("dispatch stopped: stop signal")
			return
		default:
		}

		// Count in-flight before popping so Idle never sees an empty queue mid-handoff
		d.inFlight.Add(1)
		req, ok := d.queue.Pop()
		if !ok {
			d.inFlight.Add(-1)
			idle.Reset(d.idleInterval)
			select {
			case <-ctx.Done():
				d.logger.Info("dispatch stopped: context cancelled")
				return
			case <-s.stop:
				d.logger.Info("dispatch stopped: stop signal")
				return
			case <-d.queue.Ready():
			case <-idle.C:
			}
			continue
		}

		d.dispatch(ctx, s, req)
		d.inFlight.Add(-1)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, s *session, req Request) {
	start := time.Now()
	req.ChannelID = s.channel
	res := Result{Request: req}

	if s.channel == "" {
		res.Skipped = true
		res.Err = api.NewValidationError("channel_id", "no channel configured")
		d.report(s, res, start)
		return
	}

	cred, ok := d.src.Current()
	if !ok {
		res.Skipped = true
		res.Err = api.ErrNoCredential
		d.report(s, res, start)
		return
	}
	res.Credential = cred.Label

	msg, err := s.transport.SendMessage(ctx, cred, sender.SendMessageRequest{
		ChannelID: s.channel,
		Content:   req.Content,
	})
	n := d.sent.Add(1)
	if err != nil {
		d.failed.Add(1)
		res.Err = err
	} else {
		res.Success = true
		res.Message = msg
	}
	d.report(s, res, start)

	if n%d.rotateEvery == 0 {
		// Advance fires credential listeners on this goroutine
		s.inCallback.Store(true)
		next, ok := d.src.Advance()
		s.inCallback.Store(false)
		if ok {
			d.logger.Info("credential rotated", "credential", next.Label, "sent", n)
		}
	}
}

func (d *Dispatcher) report(s *session, res Result, start time.Time) {
	res.Duration = time.Since(start)

	attrs := []any{
		"request_id", res.Request.ID,
		"channel_id", res.Request.ChannelID,
		"credential", res.Credential,
		"content", res.Request.Content,
		"duration", res.Duration,
	}
	switch {
	case res.Success:
		d.logger.Info("message sent", attrs...)
	case res.Skipped:
		d.logger.Warn("message skipped", append(attrs, "error", res.Err)...)
	default:
		d.logger.Warn("message failed", append(attrs, "error", res.Err)...)
	}

	if d.onResult != nil {
		s.inCallback.Store(true)
		d.onResult(res)
		s.inCallback.Store(false)
	}
}
