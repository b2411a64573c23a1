package history

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type pollReply struct {
	body string
	err  error
}

type pollCall struct {
	phrase string
	count  int
	reply  chan pollReply
}

func (c pollCall) respond(body string) {
	c.reply <- pollReply{body: body}
}

func (c pollCall) fail(err error) {
	c.reply <- pollReply{err: err}
}

// scriptedWatcher hands every poll to the test and blocks until the test
// replies or the poll context is cancelled.
type scriptedWatcher struct {
	calls       chan pollCall
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	total       atomic.Int32
}

func newScriptedWatcher() *scriptedWatcher {
	return &scriptedWatcher{calls: make(chan pollCall, 16)}
}

func (w *scriptedWatcher) WatchListeners(ctx context.Context, phrase string, count int) (string, error) {
	n := w.inFlight.Add(1)
	defer w.inFlight.Add(-1)
	for {
		current := w.maxInFlight.Load()
		if n <= current || w.maxInFlight.CompareAndSwap(current, n) {
			break
		}
	}
	w.total.Add(1)

	call := pollCall{phrase: phrase, count: count, reply: make(chan pollReply, 1)}
	select {
	case w.calls <- call:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case r := <-call.reply:
		return r.body, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (w *scriptedWatcher) next(t *testing.T) pollCall {
	t.Helper()
	select {
	case call := <-w.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for poll")
		return pollCall{}
	}
}

func (w *scriptedWatcher) expectNoCall(t *testing.T, window time.Duration) {
	t.Helper()
	select {
	case call := <-w.calls:
		t.Fatalf("unexpected poll for %q with count %d", call.phrase, call.count)
	case <-time.After(window):
	}
}

type memKV struct {
	mu     sync.Mutex
	values map[string]string
	syncs  int
	getErr error
}

func newMemKV() *memKV {
	return &memKV{values: make(map[string]string)}
}

func (m *memKV) GetValue(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return "", m.getErr
	}
	return m.values[key], nil
}

func (m *memKV) SetValue(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memKV) Synchronize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncs++
	return nil
}

func stopSecret(t *testing.T, s *Secret) {
	t.Helper()
	select {
	case <-s.StopWatching():
	case <-time.After(2 * time.Second):
		t.Fatalf("watch loop for %q did not exit", s.Phrase())
	}
}

func waitForNotification(t *testing.T, ch <-chan int) int {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for notification")
		return 0
	}
}

func expectNoNotification(t *testing.T, ch <-chan int) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected notification with count %d", v)
	default:
	}
}

// slowReleaseWatcher holds every poll until it is cancelled, then keeps the
// request open for release before returning.
type slowReleaseWatcher struct {
	release     time.Duration
	started     chan struct{}
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newSlowReleaseWatcher(release time.Duration) *slowReleaseWatcher {
	return &slowReleaseWatcher{release: release, started: make(chan struct{}, 16)}
}

func (w *slowReleaseWatcher) WatchListeners(ctx context.Context, phrase string, count int) (string, error) {
	n := w.inFlight.Add(1)
	defer w.inFlight.Add(-1)
	for {
		current := w.maxInFlight.Load()
		if n <= current || w.maxInFlight.CompareAndSwap(current, n) {
			break
		}
	}

	w.started <- struct{}{}
	<-ctx.Done()
	time.Sleep(w.release)
	return "", ctx.Err()
}

func (w *slowReleaseWatcher) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-w.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for poll")
	}
}
