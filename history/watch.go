package history

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ListenerWatcher issues one long-poll request for the number of listeners
// attached to phrase. count is the caller's last known value; the server holds
// the request until the count differs from it. The raw response body is returned.
type ListenerWatcher interface {
	WatchListeners(ctx context.Context, phrase string, count int) (string, error)
}

// WatchOptions controls a Secret's watch loop.
type WatchOptions struct {
	Logger Logger

	// ErrorBackoff lists the delays applied after consecutive failed polls.
	// The last entry repeats. Empty re-arms immediately.
	ErrorBackoff []time.Duration
}

func (o WatchOptions) withDefaults() WatchOptions {
	if o.Logger == nil {
		o.Logger = NewNopLogger()
	}
	return o
}

func (o WatchOptions) backoff(failures int) time.Duration {
	if failures <= 0 || len(o.ErrorBackoff) == 0 {
		return 0
	}
	idx := failures - 1
	if idx >= len(o.ErrorBackoff) {
		idx = len(o.ErrorBackoff) - 1
	}
	return o.ErrorBackoff[idx]
}

type watchRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type pollOutcome int

const (
	pollCancelled pollOutcome = iota
	pollFailed
	pollUpdated
	pollStale
)

// StartWatching starts the listener watch loop, replacing any loop already
// running. It returns immediately. The replacement loop waits until the
// previous loop, running or recently stopped, has released its request before
// polling, and completions of the previous loop are discarded.
func (s *Secret) StartWatching() error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	if s.watcher == nil {
		return ErrNoWatcher
	}

	previous := s.run
	if previous == nil {
		previous = s.stopped
	}
	s.stopped = nil
	if previous != nil {
		previous.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &watchRun{cancel: cancel, done: make(chan struct{})}
	s.run = run

	go s.watchLoop(ctx, run, previous)
	return nil
}

// StopWatching cancels the in-flight poll and prevents any further polls. It
// does not block; the returned channel is closed once the loop has exited.
func (s *Secret) StopWatching() <-chan struct{} {
	s.watchMu.Lock()
	run := s.run
	s.run = nil
	if run != nil {
		s.stopped = run
	}
	s.watchMu.Unlock()

	if run == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	run.cancel()
	return run.done
}

// Watching reports whether a watch loop is active.
func (s *Secret) Watching() bool {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	return s.run != nil
}

func (s *Secret) watchLoop(ctx context.Context, run *watchRun, previous *watchRun) {
	defer close(run.done)
	defer run.cancel()

	if previous != nil {
		<-previous.done
	}

	s.watchMu.Lock()
	watcher := s.watcher
	options := s.options
	s.watchMu.Unlock()
	logger := options.Logger

	failures := 0
	for ctx.Err() == nil {
		count := s.ListenersCount()
		body, err := watcher.WatchListeners(ctx, s.phrase, count)

		switch s.applyPoll(ctx, run, count, body, err) {
		case pollStale:
			return
		case pollUpdated:
			failures = 0
			logger.Debug("listener count updated", "phrase", s.phrase, "count", s.ListenersCount())
			s.notify()
		case pollCancelled, pollFailed:
			// A cancellation the loop did not ask for is not logged, but it
			// still counts toward the backoff.
			failures++
			if !sleepContext(ctx, options.backoff(failures)) {
				return
			}
		}
	}
}

// applyPoll classifies one completed poll and applies it while holding the
// watch lock, so a concurrent restart either happens before (the result is
// dropped) or after (the result is already applied).
func (s *Secret) applyPoll(ctx context.Context, run *watchRun, sent int, body string, err error) pollOutcome {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	if s.run != run || ctx.Err() != nil {
		return pollStale
	}

	logger := s.options.Logger
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return pollCancelled
		}
		logger.Warn("listener watch failed", "phrase", s.phrase, "count", sent, "error", err)
		return pollFailed
	}

	count, parseErr := parseCount(body)
	if parseErr != nil {
		logger.Warn("listener watch returned malformed body", "phrase", s.phrase, "body", body, "error", parseErr)
		return pollFailed
	}

	s.mu.Lock()
	s.listenersCount = count
	s.mu.Unlock()
	return pollUpdated
}

// parseCount accepts a base-10 integer with optional trailing newlines or
// surrounding whitespace.
func parseCount(body string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(body))
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
