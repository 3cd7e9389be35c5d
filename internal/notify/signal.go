// Package notify provides broadcast wakeup primitives for blocked readers.
package notify

import (
	"context"
	"sync"
)

// Signal wakes all waiters on each Notify call. Waiters select on C() and
// must re-fetch the channel after every wakeup; Notify closes the current
// channel and installs a fresh one.
type Signal struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewSignal returns a ready-to-use Signal.
func NewSignal() *Signal { return &Signal{ch: make(chan struct{})} }

// Notify wakes every goroutine currently waiting on C().
func (s *Signal) Notify() {
	s.mu.Lock()
	close(s.ch)
	s.ch = make(chan struct{})
	s.mu.Unlock()
}

// C returns a channel closed by the next Notify call.
func (s *Signal) C() <-chan struct{} {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	return ch
}

// Wait blocks until the next Notify call or context cancellation.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
