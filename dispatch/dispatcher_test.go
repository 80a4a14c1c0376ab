package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prilive-com/relaygo/api"
	"github.com/prilive-com/relaygo/dispatch"
	"github.com/prilive-com/relaygo/rotator"
	"github.com/prilive-com/relaygo/sender"
)

const testChannel = "112233445566778899"

type sentCall struct {
	Credential string
	ChannelID  string
	Content    string
}

// fakeTransport records sends and fails those for which failOn returns an error.
type fakeTransport struct {
	mu     sync.Mutex
	calls  []sentCall
	failOn func(content string) error
	delay  time.Duration
	closed atomic.Int32
}

func (f *fakeTransport) SendMessage(ctx context.Context, cred api.Credential, req sender.SendMessageRequest) (*api.Message, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.calls = append(f.calls, sentCall{Credential: cred.Label, ChannelID: req.ChannelID, Content: req.Content})
	f.mu.Unlock()

	if f.failOn != nil {
		if err := f.failOn(req.Content); err != nil {
			return nil, err
		}
	}
	return &api.Message{ID: "1", ChannelID: req.ChannelID, Content: req.Content}, nil
}

func (f *fakeTransport) Close() error {
	f.closed.Add(1)
	return nil
}

func (f *fakeTransport) Calls() []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCall{}, f.calls...)
}

func factoryFor(t *fakeTransport) dispatch.TransportFactory {
	return func() (dispatch.Transport, error) { return t, nil }
}

type results struct {
	mu  sync.Mutex
	all []dispatch.Result
}

func (r *results) add(res dispatch.Result) {
	r.mu.Lock()
	r.all = append(r.all, res)
	r.mu.Unlock()
}

func (r *results) list() []dispatch.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dispatch.Result{}, r.all...)
}

func (r *results) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.all)
}

func newDispatcher(t *testing.T, rot *rotator.Rotator, tr *fakeTransport, opts ...dispatch.Option) (*dispatch.Dispatcher, *results) {
	t.Helper()
	res := &results{}
	defaults := []dispatch.Option{
		dispatch.WithChannel(testChannel),
		dispatch.WithIdleInterval(5 * time.Millisecond),
		dispatch.WithOnSendResult(res.add),
	}
	d := dispatch.New(rot, factoryFor(tr), append(defaults, opts...)...)
	t.Cleanup(d.Stop)
	return d, res
}

func waitResults(t *testing.T, r *results, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return r.len() >= n }, 2*time.Second, 5*time.Millisecond)
}

func TestDispatcher_SendsWithCurrentCredential(t *testing.T) {
	rot := rotator.New(api.NewCredential("A-secret", "A"))
	tr := &fakeTransport{}
	d, res := newDispatcher(t, rot, tr)

	d.Enqueue("hello")
	d.Enqueue("world")
	require.NoError(t, d.Start(context.Background()))
	waitResults(t, res, 2)

	calls := tr.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, sentCall{"A", testChannel, "hello"}, calls[0])
	assert.Equal(t, sentCall{"A", testChannel, "world"}, calls[1])
	assert.Equal(t, int64(2), d.Sent())
	assert.Equal(t, 0, rot.Index(), "no rotation before 10 sends")

	for _, r := range res.list() {
		assert.True(t, r.Success)
		assert.Equal(t, testChannel, r.Request.ChannelID)
		assert.Equal(t, "A", r.Credential)
	}
}

func TestDispatcher_RotatesEveryTenSends(t *testing.T) {
	rot := rotator.New(api.NewCredential("A-secret", "A"), api.NewCredential("B-secret", "B"))

	var changes atomic.Int32
	var lastLabel atomic.Value
	rot.OnChange(func(c rotator.Change) {
		changes.Add(1)
		lastLabel.Store(c.Credential.Label)
	})

	tr := &fakeTransport{}
	d, res := newDispatcher(t, rot, tr)

	for range 10 {
		d.Enqueue("m")
	}
	require.NoError(t, d.Start(context.Background()))
	waitResults(t, res, 10)

	require.Eventually(t, func() bool { return changes.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, rot.Index())
	assert.Equal(t, "B", lastLabel.Load())

	for _, c := range tr.Calls() {
		assert.Equal(t, "A", c.Credential, "all ten sends use the first credential")
	}

	d.Enqueue("eleventh")
	waitResults(t, res, 11)
	assert.Equal(t, "B", tr.Calls()[10].Credential)
}

func TestDispatcher_CustomRotateEvery(t *testing.T) {
	rot := rotator.New(api.NewCredential("A-secret", "A"), api.NewCredential("B-secret", "B"))
	tr := &fakeTransport{}
	d, res := newDispatcher(t, rot, tr, dispatch.WithRotateEvery(2))

	for range 4 {
		d.Enqueue("m")
	}
	require.NoError(t, d.Start(context.Background()))
	waitResults(t, res, 4)

	var labels []string
	for _, c := range tr.Calls() {
		labels = append(labels, c.Credential)
	}
	assert.Equal(t, []string{"A", "A", "B", "B"}, labels)
}

func TestDispatcher_FailuresCountAndRotate(t *testing.T) {
	rot := rotator.New(api.NewCredential("A-secret", "A"), api.NewCredential("B-secret", "B"))
	boom := errors.New("boom")
	tr := &fakeTransport{failOn: func(string) error { return boom }}
	d, res := newDispatcher(t, rot, tr)

	for range 10 {
		d.Enqueue("m")
	}
	require.NoError(t, d.Start(context.Background()))
	waitResults(t, res, 10)

	assert.Equal(t, int64(10), d.Sent())
	assert.Equal(t, int64(10), d.Failed())
	require.Eventually(t, func() bool { return rot.Index() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, d.Running(), "failures never end the loop")

	r := res.list()[0]
	assert.False(t, r.Success)
	assert.ErrorIs(t, r.Err, boom)
	assert.Equal(t, "boom", r.ErrorDetail())
}

func TestDispatcher_FIFOAcrossFailures(t *testing.T) {
	rot := rotator.New(api.NewCredential("A-secret", "A"))
	tr := &fakeTransport{failOn: func(c string) error {
		if c == "2" {
			return errors.New("bad")
		}
		return nil
	}}
	d, res := newDispatcher(t, rot, tr)

	for _, c := range []string{"1", "2", "3", "4"} {
		d.Enqueue(c)
	}
	require.NoError(t, d.Start(context.Background()))
	waitResults(t, res, 4)

	var order []string
	for _, r := range res.list() {
		order = append(order, r.Request.Content)
	}
	assert.Equal(t, []string{"1", "2", "3", "4"}, order)
	assert.Len(t, tr.Calls(), 4, "failed message is not re-queued")
}

func TestDispatcher_SkipsWithoutCredential(t *testing.T) {
	rot := rotator.New()
	tr := &fakeTransport{}
	d, res := newDispatcher(t, rot, tr)

	d.Enqueue("orphan")
	require.NoError(t, d.Start(context.Background()))
	waitResults(t, res, 1)

	r := res.list()[0]
	assert.True(t, r.Skipped)
	assert.False(t, r.Success)
	assert.ErrorIs(t, r.Err, api.ErrNoCredential)
	assert.Equal(t, int64(0), d.Sent(), "skips do not count")
	assert.Empty(t, tr.Calls())

	// Adding a credential later lets the loop continue
	rot.Add(api.NewCredential("A-secret", "A"))
	d.Enqueue("now")
	waitResults(t, res, 2)
	assert.True(t, res.list()[1].Success)
	assert.Equal(t, int64(1), d.Sent())
}

func TestDispatcher_SkipsWithoutChannel(t *testing.T) {
	rot := rotator.New(api.NewCredential("A-secret", "A"))
	tr := &fakeTransport{}
	d, res := newDispatcher(t, rot, tr, dispatch.WithChannel(""))

	d.Enqueue("nowhere")
	require.NoError(t, d.Start(context.Background()))
	waitResults(t, res, 1)

	r := res.list()[0]
	assert.True(t, r.Skipped)
	var vErr *api.ValidationError
	assert.ErrorAs(t, r.Err, &vErr)
	assert.Equal(t, int64(0), d.Sent())
	assert.Empty(t, tr.Calls())
}

func TestDispatcher_StopWhileIdle(t *testing.T) {
	tr := &fakeTransport{}
	d, _ := newDispatcher(t, rotator.New(api.NewCredential("A-secret", "A")), tr)

	require.NoError(t, d.Start(context.Background()))
	assert.Equal(t, dispatch.StateRunning, d.State())

	done := make(chan struct{})
	go func() {
		d.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stop did not return")
	}
	assert.Equal(t, dispatch.StateStopped, d.State())
	assert.Equal(t, int32(1), tr.closed.Load(), "transport closed on stop")

	d.Stop() // no-op
	assert.Equal(t, int32(1), tr.closed.Load())
}

func TestDispatcher_DoubleStartSingleLoop(t *testing.T) {
	var built atomic.Int32
	tr := &fakeTransport{delay: 2 * time.Millisecond}
	rot := rotator.New(api.NewCredential("A-secret", "A"))
	res := &results{}

	d := dispatch.New(rot, func() (dispatch.Transport, error) {
		built.Add(1)
		return tr, nil
	},
		dispatch.WithChannel(testChannel),
		dispatch.WithIdleInterval(5*time.Millisecond),
		dispatch.WithOnSendResult(res.add),
	)
	t.Cleanup(d.Stop)

	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Start(context.Background()))

	for range 20 {
		d.Enqueue("m")
	}
	waitResults(t, res, 20)

	assert.Equal(t, int32(1), built.Load(), "second start is a no-op")
	assert.Len(t, tr.Calls(), 20, "each message sent exactly once")
}

func TestDispatcher_EnqueueWhileStopped(t *testing.T) {
	tr := &fakeTransport{}
	d, res := newDispatcher(t, rotator.New(api.NewCredential("A-secret", "A")), tr)

	d.Enqueue("waiting")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, d.Pending())
	assert.Empty(t, tr.Calls())

	require.NoError(t, d.Start(context.Background()))
	waitResults(t, res, 1)
	assert.Equal(t, 0, d.Pending())
}

func TestDispatcher_RestartDrainsOnce(t *testing.T) {
	tr := &fakeTransport{delay: time.Millisecond}
	d, res := newDispatcher(t, rotator.New(api.NewCredential("A-secret", "A")), tr)

	for range 30 {
		d.Enqueue("m")
	}
	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Restart(context.Background()))
	require.NoError(t, d.Restart(context.Background()))
	waitResults(t, res, 30)

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, tr.Calls(), 30)
	assert.Equal(t, int64(30), d.Sent(), "counter survives restarts")
}

func TestDispatcher_ChannelSnapshotAtStart(t *testing.T) {
	tr := &fakeTransport{}
	d, res := newDispatcher(t, rotator.New(api.NewCredential("A-secret", "A")), tr)

	require.NoError(t, d.Start(context.Background()))
	d.SetChannel("999")

	d.Enqueue("first")
	waitResults(t, res, 1)
	assert.Equal(t, testChannel, tr.Calls()[0].ChannelID, "running session keeps its channel")

	require.NoError(t, d.Restart(context.Background()))
	d.Enqueue("second")
	waitResults(t, res, 2)
	assert.Equal(t, "999", tr.Calls()[1].ChannelID)
}

func TestDispatcher_FactoryError(t *testing.T) {
	d := dispatch.New(rotator.New(), func() (dispatch.Transport, error) {
		return nil, errors.New("no transport")
	})

	err := d.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, dispatch.StateStopped, d.State())
}

func TestDispatcher_ContextCancelStops(t *testing.T) {
	tr := &fakeTransport{}
	d, res := newDispatcher(t, rotator.New(api.NewCredential("A-secret", "A")), tr)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Start(ctx))
	cancel()

	require.Eventually(t, func() bool { return !d.Running() }, time.Second, 5*time.Millisecond)

	// A later start works
	require.NoError(t, d.Start(context.Background()))
	d.Enqueue("after")
	waitResults(t, res, 1)
	assert.Equal(t, int32(1), tr.closed.Load())
}

func TestDispatcher_WaitIdle(t *testing.T) {
	tr := &fakeTransport{delay: time.Millisecond}
	d, _ := newDispatcher(t, rotator.New(api.NewCredential("A-secret", "A")), tr)

	for range 10 {
		d.Enqueue("m")
	}
	require.NoError(t, d.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.WaitIdle(ctx))
	assert.Len(t, tr.Calls(), 10)

	stats := d.Stats()
	assert.Equal(t, dispatch.StateRunning, stats.State)
	assert.Equal(t, int64(10), stats.Sent)
	assert.Equal(t, 0, stats.Pending)
}

func TestDispatcher_WaitIdleWhenStopped(t *testing.T) {
	d, _ := newDispatcher(t, rotator.New(), &fakeTransport{})
	d.Enqueue("stuck")

	err := d.WaitIdle(context.Background())
	assert.Error(t, err)
}

func TestDispatcher_ConcurrentLifecycle(t *testing.T) {
	tr := &fakeTransport{}
	d, res := newDispatcher(t, rotator.New(api.NewCredential("A-secret", "A")), tr)

	var wg sync.WaitGroup
	for i := range 9 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for range 20 {
				switch i % 3 {
				case 0:
					_ = d.Start(context.Background())
				case 1:
					_ = d.Restart(context.Background())
				case 2:
					d.Enqueue("m")
				}
			}
		}(i)
	}
	wg.Wait()

	require.NoError(t, d.Start(context.Background()))
	waitResults(t, res, 60)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, tr.Calls(), 60, "no message dispatched twice")
}

func TestDispatcher_StopFromResultCallback(t *testing.T) {
	tr := &fakeTransport{}
	var (
		d        *dispatch.Dispatcher
		returned atomic.Bool
		once     sync.Once
	)
	d = dispatch.New(rotator.New(api.NewCredential("A-secret", "A")), factoryFor(tr),
		dispatch.WithChannel(testChannel),
		dispatch.WithIdleInterval(5*time.Millisecond),
		dispatch.WithOnSendResult(func(dispatch.Result) {
			once.Do(func() {
				d.Stop()
				returned.Store(true)
			})
		}),
	)
	t.Cleanup(d.Stop)

	for range 3 {
		d.Enqueue("m")
	}
	require.NoError(t, d.Start(context.Background()))

	require.Eventually(t, returned.Load, time.Second, 5*time.Millisecond, "Stop inside a callback returns")
	require.Eventually(t, func() bool { return tr.closed.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, dispatch.StateStopped, d.State())
	assert.Len(t, tr.Calls(), 1)
	assert.Equal(t, 2, d.Pending())

	// Lifecycle calls keep working afterwards
	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.WaitIdle(context.Background()))
	d.Stop()
	assert.Len(t, tr.Calls(), 3)
}

func TestDispatcher_RestartFromResultCallback(t *testing.T) {
	tr := &fakeTransport{}
	res := &results{}
	var (
		d    *dispatch.Dispatcher
		once sync.Once
	)
	d = dispatch.New(rotator.New(api.NewCredential("A-secret", "A")), factoryFor(tr),
		dispatch.WithChannel(testChannel),
		dispatch.WithIdleInterval(5*time.Millisecond),
		dispatch.WithOnSendResult(func(r dispatch.Result) {
			res.add(r)
			once.Do(func() {
				d.SetChannel("999")
				assert.NoError(t, d.Restart(context.Background()))
			})
		}),
	)
	t.Cleanup(d.Stop)

	for range 5 {
		d.Enqueue("m")
	}
	require.NoError(t, d.Start(context.Background()))
	waitResults(t, res, 5)

	time.Sleep(20 * time.Millisecond)
	calls := tr.Calls()
	require.Len(t, calls, 5, "each message dispatched once")
	assert.Equal(t, testChannel, calls[0].ChannelID)
	assert.Equal(t, "999", calls[4].ChannelID)
	assert.True(t, d.Running())
}

func TestDispatcher_StopFromCredentialCallback(t *testing.T) {
	rot := rotator.New(api.NewCredential("A-secret", "A"), api.NewCredential("B-secret", "B"))
	tr := &fakeTransport{}
	d, _ := newDispatcher(t, rot, tr, dispatch.WithRotateEvery(1))

	var returned atomic.Bool
	rot.OnChange(func(rotator.Change) {
		d.Stop()
		returned.Store(true)
	})

	for range 3 {
		d.Enqueue("m")
	}
	require.NoError(t, d.Start(context.Background()))

	require.Eventually(t, returned.Load, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !d.Running() }, time.Second, 5*time.Millisecond)
	assert.Len(t, tr.Calls(), 1)
	assert.Equal(t, 1, rot.Index())
}

func TestDispatcher_StatsChannel(t *testing.T) {
	d, _ := newDispatcher(t, rotator.New(api.NewCredential("A-secret", "A")), &fakeTransport{})

	assert.Equal(t, testChannel, d.Stats().Channel)

	require.NoError(t, d.Start(context.Background()))
	d.SetChannel("999")
	st := d.Stats()
	assert.Equal(t, dispatch.StateRunning, st.State)
	assert.Equal(t, testChannel, st.Channel, "running session's channel")

	d.Stop()
	assert.Equal(t, "999", d.Stats().Channel)
}
