package service

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	// WaitTimeout is the maximum time a client can wait for notifications
	WaitTimeout = 25 * time.Second

	// WaitChannelBuffer size for notification channels
	WaitChannelBuffer = 1
)

// WaitRegistry manages long-polling clients waiting for match state changes
type WaitRegistry struct {
	mu       sync.RWMutex
	waiters  map[string][]*WaitRequest
	timeout  time.Duration
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// WaitRequest is a single client waiting for a version change
type WaitRequest struct {
	Version int
	Notify  chan struct{}
	Timer   *time.Timer
	MatchID string
}

func NewWaitRegistry(timeout time.Duration) *WaitRegistry {
	if timeout <= 0 {
		timeout = WaitTimeout
	}
	return &WaitRegistry{
		waiters:  make(map[string][]*WaitRequest),
		timeout:  timeout,
		shutdown: make(chan struct{}),
	}
}

// RegisterWait returns a channel that fires once when the match moves past version,
// on timeout, when the match is removed, or on shutdown
func (w *WaitRegistry) RegisterWait(ctx context.Context, matchID string, version int) <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()

	req := &WaitRequest{
		Version: version,
		Notify:  make(chan struct{}, WaitChannelBuffer),
		MatchID: matchID,
	}
	req.Timer = time.AfterFunc(w.timeout, func() {
		signal(req)
	})

	w.waiters[matchID] = append(w.waiters[matchID], req)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		select {
		case <-ctx.Done():
			w.removeWaiter(matchID, req)
		case <-req.Notify:
			// Put the token back for the reader
			signal(req)
			w.removeWaiter(matchID, req)
		case <-w.shutdown:
			w.removeWaiter(matchID, req)
			signal(req)
		}
	}()

	return req.Notify
}

// NotifyMatch wakes every waiter whose version differs from the current one
func (w *WaitRegistry) NotifyMatch(matchID string, version int) {
	w.mu.RLock()
	waitList := append([]*WaitRequest(nil), w.waiters[matchID]...)
	w.mu.RUnlock()

	for _, req := range waitList {
		if req.Version != version {
			signal(req)
		}
	}
}

// RemoveMatch wakes and drops all waiters of a match
func (w *WaitRegistry) RemoveMatch(matchID string) {
	w.mu.Lock()
	waitList := w.waiters[matchID]
	delete(w.waiters, matchID)
	w.mu.Unlock()

	for _, req := range waitList {
		signal(req)
	}
}

// Waiting reports the number of registered waiters for a match
func (w *WaitRegistry) Waiting(matchID string) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.waiters[matchID])
}

// Shutdown releases every waiter and waits for their goroutines
func (w *WaitRegistry) Shutdown(timeout time.Duration) error {
	close(w.shutdown)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("wait registry shutdown timed out")
	}
}

func signal(req *WaitRequest) {
	select {
	case req.Notify <- struct{}{}:
	default:
	}
}

func (w *WaitRegistry) removeWaiter(matchID string, req *WaitRequest) {
	w.mu.Lock()
	defer w.mu.Unlock()

	waitList := w.waiters[matchID]
	for i, waiter := range waitList {
		if waiter == req {
			w.waiters[matchID] = append(waitList[:i:i], waitList[i+1:]...)
			break
		}
	}

	if len(w.waiters[matchID]) == 0 {
		delete(w.waiters, matchID)
	}

	req.Timer.Stop()
}
