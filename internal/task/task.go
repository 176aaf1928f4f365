// Package task manages the goroutines owned by an instrument: the status
// polling loop and the accepted-command forwarding loop.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-maglab/logger"
)

var (
	// ErrStopped is returned when a task is started on a stopped manager.
	ErrStopped = errors.New("task: manager stopped")
	// ErrDuplicate is returned when an interval task name is already in use.
	ErrDuplicate = errors.New("task: duplicate interval task")
	// ErrNotFound is returned by StopInterval for an unknown name.
	ErrNotFound = errors.New("task: interval task not found")
)

// Func performs one unit of work. It returns false to end its goroutine.
type Func func() bool

// CancelFunc is called once when a task goroutine exits.
type CancelFunc func()

// Manager starts, stops and waits for a group of goroutines sharing one
// cancellation scope. A stopped Manager can be reused after Wait returns.
//
//	mgr := task.NewManager(ctx, l)
//	_, _ = mgr.StartInterval("poll", pollOnce, time.Second, true)
//	...
//	mgr.Stop()
//	mgr.Wait()
type Manager struct {
	pctx   context.Context
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger logger.Logger
	count  atomic.Int32

	tickers *xsync.MapOf[string, *time.Ticker]
	mu      sync.RWMutex // protects ctx and cancel
	waitMu  sync.RWMutex // blocks task creation during Wait
}

// NewManager creates a Manager whose tasks are cancelled with ctx.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	if l == nil {
		l = logger.GetLogger()
	}
	mgr := &Manager{
		pctx:    ctx,
		logger:  l,
		tickers: xsync.NewMapOf[string, *time.Ticker](),
	}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Context returns the context shared by the running tasks.
func (mgr *Manager) Context() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

// Start runs fn repeatedly in a new goroutine until it returns false or the
// manager is stopped.
func (mgr *Manager) Start(name string, fn Func, onExit CancelFunc) error {
	mgr.logger.Debug("task: start", "name", name)

	ctx, err := mgr.liveContext()
	if err != nil {
		return err
	}

	mgr.spawn(name, func() {
		if onExit != nil {
			defer onExit()
		}
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if !mgr.callWithRecover(name, fn) {
				return
			}
		}
	})

	return nil
}

// StartInterval runs fn every interval. With runNow, fn runs once
// synchronously before StartInterval returns; if that call returns false no
// goroutine is started.
func (mgr *Manager) StartInterval(name string, fn Func, interval time.Duration, runNow bool) (*time.Ticker, error) {
	mgr.logger.Debug("task: start interval", "name", name, "interval", interval, "run_now", runNow)

	if interval <= 0 {
		return nil, fmt.Errorf("task: invalid interval %v", interval)
	}

	ctx, err := mgr.liveContext()
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(interval)
	if _, loaded := mgr.tickers.LoadOrStore(name, ticker); loaded {
		ticker.Stop()
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, name)
	}

	cleanup := func() {
		ticker.Stop()
		mgr.tickers.Compute(name, func(old *time.Ticker, loaded bool) (*time.Ticker, bool) {
			return old, !loaded || old == ticker
		})
	}

	if runNow && !mgr.callWithRecover(name, fn) {
		cleanup()
		mgr.logger.Debug("task: interval ended by first run", "name", name)
		return ticker, nil
	}

	mgr.spawn(name, func() {
		defer cleanup()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !mgr.callWithRecover(name, fn) {
					return
				}
			}
		}
	})

	return ticker, nil
}

// StopInterval stops the ticker of the named interval task.
func (mgr *Manager) StopInterval(name string) error {
	ticker, ok := mgr.tickers.LoadAndDelete(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	ticker.Stop()

	return nil
}

// Stop signals every running task to exit.
func (mgr *Manager) Stop() {
	mgr.tickers.Range(func(_ string, ticker *time.Ticker) bool {
		ticker.Stop()
		return true
	})

	mgr.mu.Lock()
	if mgr.cancel != nil {
		mgr.cancel()
	}
	mgr.mu.Unlock()
}

// Wait blocks until every task has exited, then re-arms the manager.
func (mgr *Manager) Wait() {
	mgr.waitMu.Lock()
	defer mgr.waitMu.Unlock()

	mgr.wg.Wait()

	mgr.mu.Lock()
	mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
	mgr.mu.Unlock()
}

// TaskCount returns the number of running task goroutines.
func (mgr *Manager) TaskCount() int {
	return int(mgr.count.Load())
}

func (mgr *Manager) liveContext() (context.Context, error) {
	ctx := mgr.Context()
	select {
	case <-ctx.Done():
		return nil, ErrStopped
	default:
		return ctx, nil
	}
}

func (mgr *Manager) spawn(name string, body func()) {
	mgr.waitMu.RLock()
	defer mgr.waitMu.RUnlock()

	mgr.wg.Add(1)
	mgr.count.Add(1)

	go func() {
		defer func() {
			mgr.count.Add(-1)
			mgr.wg.Done()
			mgr.logger.Debug("task: terminated", "name", name, "task_count", mgr.TaskCount())
		}()

		body()
	}()
}

// callWithRecover runs fn, turning a panic into a false return.
func (mgr *Manager) callWithRecover(name string, fn Func) (cont bool) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("task: panic", "name", name, "panic", r)
			cont = false
		}
	}()

	return fn()
}
