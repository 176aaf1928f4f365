package engine

import (
	"context"
	"sync"
)

// gate admits one exchange at a time. Background acquirers wait while any
// foreground acquirer is waiting.
type gate struct {
	mu        sync.Mutex
	busy      bool
	fgWaiting int
	wake      chan struct{}
}

func newGate() *gate {
	return &gate{wake: make(chan struct{})}
}

// acquire blocks until the gate is free or ctx is done.
func (g *gate) acquire(ctx context.Context, foreground bool) error {
	g.mu.Lock()
	if foreground {
		g.fgWaiting++
	}

	for g.busy || (!foreground && g.fgWaiting > 0) {
		wake := g.wake
		g.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			g.mu.Lock()
			if foreground {
				g.fgWaiting--
				g.broadcastLocked()
			}
			g.mu.Unlock()

			return ctx.Err()
		}

		g.mu.Lock()
	}

	if foreground {
		g.fgWaiting--
	}
	g.busy = true
	g.mu.Unlock()

	return nil
}

func (g *gate) release() {
	g.mu.Lock()
	g.busy = false
	g.broadcastLocked()
	g.mu.Unlock()
}

func (g *gate) broadcastLocked() {
	close(g.wake)
	g.wake = make(chan struct{})
}
