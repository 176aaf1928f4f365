// Package monitor polls an instrument in the background and owns its state
// machine.
//
// One goroutine applies every input to the state.Machine: poll results,
// failures and the commands the engine reports as accepted. Readers see
// immutable snapshots and can wait for modes or subscribe to transitions.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-maglab/codec"
	"github.com/arloliu/go-maglab/engine"
	"github.com/arloliu/go-maglab/internal/queue"
	"github.com/arloliu/go-maglab/internal/task"
	"github.com/arloliu/go-maglab/logger"
	"github.com/arloliu/go-maglab/state"
)

// Poller performs background exchanges and reports accepted commands.
// *engine.Engine implements it.
type Poller interface {
	Poll(ctx context.Context, cmd codec.Command, timeout time.Duration) (codec.Value, error)
	Grammar() *codec.Grammar
	OnAccepted(fn engine.AcceptFunc) (remove func())
}

// Event is a mode transition delivered to subscribers.
type Event struct {
	From     state.Mode
	To       state.Mode
	Snapshot state.Snapshot
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func (s *subscriber) send(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

type accepted struct {
	cmd codec.Command
	at  time.Time
}

// Monitor runs the polling loop for one instrument.
type Monitor struct {
	poller  Poller
	machine *state.Machine
	cfg     *Config
	logger  logger.Logger

	mgr     *task.Manager
	inbox   *queue.Inbox[accepted]
	pollReq chan struct{}

	snap atomic.Pointer[state.Snapshot]

	mu      sync.Mutex
	cond    *sync.Cond
	ticks   uint64
	inTick  bool
	running bool
	lastErr error

	started      atomic.Bool
	stopOnce     sync.Once
	removeAccept func()

	subID       atomic.Uint64
	subscribers *xsync.MapOf[uint64, *subscriber]
	dropped     atomic.Uint64
}

// New returns a Monitor feeding machine from poller. The monitor becomes
// the machine's only writer; callers must not use machine directly after
// New returns.
func New(poller Poller, machine *state.Machine, cfg *Config) (*Monitor, error) {
	if poller == nil || machine == nil || cfg == nil {
		return nil, errors.New("monitor: poller, machine and config are required")
	}

	m := &Monitor{
		poller:      poller,
		machine:     machine,
		cfg:         cfg,
		logger:      cfg.GetLogger().With("model", poller.Grammar().Model()),
		inbox:       queue.NewInbox[accepted](),
		pollReq:     make(chan struct{}, 1),
		subscribers: xsync.NewMapOf[uint64, *subscriber](),
	}
	m.cond = sync.NewCond(&m.mu)

	snap := machine.Snapshot()
	m.snap.Store(&snap)
	machine.OnTransition(m.broadcast)

	return m, nil
}

// Start begins polling. The first poll is issued immediately. The monitor
// stops when ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	m.mgr = task.NewManager(ctx, m.logger)
	m.removeAccept = m.poller.OnAccepted(func(cmd codec.Command, at time.Time) {
		m.inbox.Push(accepted{cmd: cmd, at: at})
	})

	m.mu.Lock()
	m.running = true
	m.mu.Unlock()

	loopCtx := m.mgr.Context()
	if err := m.mgr.Start("monitor", m.loop(loopCtx), m.exited); err != nil {
		return err
	}
	if _, err := m.mgr.StartInterval("poll", m.requestPoll, m.cfg.interval, true); err != nil {
		m.mgr.Stop()
		return err
	}

	m.logger.Info("monitor: started", "interval", m.cfg.interval)

	return nil
}

// Stop ends polling and waits for the loop to exit. Subscriber channels are
// closed.
func (m *Monitor) Stop() {
	if !m.started.Load() {
		return
	}
	m.stopOnce.Do(func() {
		m.mgr.Stop()
		m.mgr.Wait()
		m.removeAccept()
		m.logger.Info("monitor: stopped")
	})
}

func (m *Monitor) exited() {
	m.mu.Lock()
	m.running = false
	m.cond.Broadcast()
	m.mu.Unlock()

	m.subscribers.Range(func(id uint64, sub *subscriber) bool {
		m.subscribers.Delete(id)
		sub.close()
		return true
	})
}

func (m *Monitor) requestPoll() bool {
	select {
	case m.pollReq <- struct{}{}:
	default:
	}

	return true
}

func (m *Monitor) loop(ctx context.Context) task.Func {
	return func() bool {
		select {
		case <-ctx.Done():
			return false
		case <-m.inbox.C():
			m.applyAccepted()
			m.publish()
		case <-m.pollReq:
			m.applyAccepted()
			m.tick(ctx)
		}

		return true
	}
}

func (m *Monitor) applyAccepted() {
	m.inbox.Drain(func(a accepted) {
		m.logger.Debug("monitor: command accepted", "cmd", a.cmd.String())
		m.machine.ObserveAccepted(a.cmd, a.at)
	})
}

// tick runs one status poll followed by the measured and setpoint queries.
func (m *Monitor) tick(ctx context.Context) {
	m.mu.Lock()
	m.inTick = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.inTick = false
		m.mu.Unlock()
	}()

	g := m.poller.Grammar()
	timeout := m.cfg.timeout

	v, err := m.poller.Poll(ctx, codec.StatusQuery(), timeout)
	if err == nil {
		if _, ok := v.Status(); !ok {
			err = fmt.Errorf("monitor: status poll returned %s", v.Kind())
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.fail(codec.StatusQuery(), err)
		m.machine.ObserveStale(time.Now())
		m.finishTick()

		return
	}
	st, _ := v.Status()
	p := state.Poll{Status: st}

	var failed []error
	for _, q := range []struct {
		cmd codec.Command
		dst **float64
	}{
		{g.MeasuredQuery(), &p.Measured},
		{g.SetpointQuery(), &p.Setpoint},
	} {
		v, err := m.poller.Poll(ctx, q.cmd, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("monitor: poll failed", "cmd", q.cmd.String(), "error", err)
			failed = append(failed, err)
			continue
		}
		if n, ok := v.Numeric(); ok {
			x := n.Value
			*q.dst = &x
		}
	}

	p.At = time.Now()
	m.machine.ObservePoll(p)
	for range failed {
		m.machine.ObserveFailure()
	}
	m.setLastErr(errors.Join(failed...))
	m.machine.ObserveStale(time.Now())
	m.finishTick()
}

func (m *Monitor) fail(cmd codec.Command, err error) {
	m.logger.Warn("monitor: poll failed", "cmd", cmd.String(), "error", err)
	m.setLastErr(err)
	m.machine.ObserveFailure()
}

func (m *Monitor) setLastErr(err error) {
	m.mu.Lock()
	if err != nil {
		m.lastErr = err
	}
	m.mu.Unlock()
}

func (m *Monitor) finishTick() {
	m.mu.Lock()
	m.ticks++
	m.mu.Unlock()
	m.publish()
}

func (m *Monitor) publish() {
	snap := m.machine.Snapshot()
	m.snap.Store(&snap)

	m.mu.Lock()
	m.cond.Broadcast()
	m.mu.Unlock()
}

func (m *Monitor) broadcast(from, to state.Mode, snap state.Snapshot) {
	ev := Event{From: from, To: to, Snapshot: snap}
	m.subscribers.Range(func(_ uint64, sub *subscriber) bool {
		if !sub.send(ev) {
			m.dropped.Add(1)
			m.logger.Warn("monitor: subscriber too slow, event dropped", "from", from.String(), "to", to.String())
		}
		return true
	})
}

// Snapshot returns the latest published state.
func (m *Monitor) Snapshot() state.Snapshot {
	return *m.snap.Load()
}

// Err reports ErrCommunicationLost, wrapping the last poll error, once
// communication is lost, or ErrInstrumentFault while the instrument reports
// a fault. It returns nil otherwise.
func (m *Monitor) Err() error {
	snap := m.Snapshot()
	switch {
	case snap.CommLost:
		m.mu.Lock()
		last := m.lastErr
		m.mu.Unlock()
		return fmt.Errorf("%w after %d consecutive failures: %w", ErrCommunicationLost, snap.ConsecutiveFailures, last)
	case snap.Mode == state.ModeFault:
		return fmt.Errorf("%w: %s", ErrInstrumentFault, snap.Fault)
	default:
		return nil
	}
}

// Dropped returns the number of events not delivered to slow subscribers.
func (m *Monitor) Dropped() uint64 { return m.dropped.Load() }

// Subscribe returns a channel receiving every mode transition, and a function
// ending the subscription. Events are dropped when the channel is full. The
// channel is closed when the monitor stops or cancel is called.
func (m *Monitor) Subscribe() (events <-chan Event, cancel func()) {
	id := m.subID.Add(1)
	sub := &subscriber{ch: make(chan Event, m.cfg.subBuffer)}
	m.subscribers.Store(id, sub)

	return sub.ch, func() {
		m.subscribers.Delete(id)
		sub.close()
	}
}

// WaitMode blocks until the mode is one of modes and returns that snapshot.
// It fails with ctx's error or ErrNotRunning when the monitor stops.
func (m *Monitor) WaitMode(ctx context.Context, modes ...state.Mode) (state.Snapshot, error) {
	return m.wait(ctx, func(s state.Snapshot, _ uint64) bool {
		return slices.Contains(modes, s.Mode)
	})
}

// Refresh waits for a poll that started after the call and returns the
// resulting snapshot.
func (m *Monitor) Refresh(ctx context.Context) (state.Snapshot, error) {
	m.mu.Lock()
	target := m.ticks + 1
	if m.inTick {
		target++
	}
	m.mu.Unlock()
	m.requestPoll()

	return m.wait(ctx, func(_ state.Snapshot, ticks uint64) bool {
		return ticks >= target
	})
}

func (m *Monitor) wait(ctx context.Context, done func(state.Snapshot, uint64) bool) (state.Snapshot, error) {
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		snap := m.Snapshot()
		if done(snap, m.ticks) {
			return snap, nil
		}
		if err := ctx.Err(); err != nil {
			return snap, err
		}
		if !m.running {
			return snap, ErrNotRunning
		}
		m.cond.Wait()
	}
}
