// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package schedule runs the periodic sync of new rows.
package schedule

import (
	"context"
	"time"
)

// Loop calls Tick immediately and then every Interval until stopped.
type Loop struct {
	Interval time.Duration
	Tick     func(ctx context.Context)

	// sleep acts as a cancellable time.Sleep, but can be mocked for testing.
	sleep func(ctx context.Context, d time.Duration) bool
}

// Handle controls a running [Loop].
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Start runs the loop in a new goroutine. The loop lives until ctx is
// canceled or [Handle.Stop] is called.
func (l *Loop) Start(ctx context.Context) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	sleep := l.sleep
	if sleep == nil {
		sleep = Sleep
	}
	go func() {
		defer close(h.done)
		for {
			l.Tick(ctx)
			if ctx.Err() != nil || !sleep(ctx, l.Interval) {
				return
			}
		}
	}()
	return h
}

// Stop cancels the loop and waits for it to exit.
func (h *Handle) Stop() {
	h.cancel()
	<-h.done
}

// Done is closed once the loop has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Sleep waits for d or until ctx is canceled. It reports whether the full
// duration elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
