package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-maglab/codec"
	"github.com/arloliu/go-maglab/internal/timer"
	"github.com/arloliu/go-maglab/logger"
	"github.com/arloliu/go-maglab/transport"
)

// RawReply is one reply line as received, before decoding.
type RawReply struct {
	Text       string
	ReceivedAt time.Time
}

// AcceptFunc is called after the instrument acknowledged a foreground
// command that changes its state.
type AcceptFunc func(cmd codec.Command, at time.Time)

// Engine serializes exchanges with one instrument session.
//
// The Engine borrows the session and never closes it.
type Engine struct {
	session transport.Session
	grammar *codec.Grammar
	cfg     *Config
	logger  logger.Logger
	gate    *gate
	metrics Metrics

	// last is when the previous exchange finished; guarded by gate.
	last time.Time
	// dirty is set when an exchange ended without a matching reply, so a late
	// reply may still arrive; guarded by gate.
	dirty bool

	acceptID  atomic.Uint64
	listeners *xsync.MapOf[uint64, AcceptFunc]
}

// New returns an Engine driving session with grammar g.
func New(session transport.Session, g *codec.Grammar, opts ...Option) (*Engine, error) {
	if session == nil {
		return nil, errors.New("engine: session is nil")
	}
	if g == nil {
		return nil, errors.New("engine: grammar is nil")
	}

	cfg, err := NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	return &Engine{
		session:   session,
		grammar:   g,
		cfg:       cfg,
		logger:    cfg.GetLogger().With("model", g.Model()),
		gate:      newGate(),
		listeners: xsync.NewMapOf[uint64, AcceptFunc](),
	}, nil
}

// Grammar returns the grammar commands are encoded with.
func (e *Engine) Grammar() *codec.Grammar { return e.grammar }

// Config returns the engine configuration.
func (e *Engine) Config() *Config { return e.cfg }

// Metrics returns the engine counters.
func (e *Engine) Metrics() *Metrics { return &e.metrics }

// OnAccepted registers fn to be called after every acknowledged foreground
// command that is not a query. It returns a function removing fn.
//
// fn runs on the caller's goroutine while the session is held, so it must not
// start another exchange.
func (e *Engine) OnAccepted(fn AcceptFunc) (remove func()) {
	id := e.acceptID.Add(1)
	e.listeners.Store(id, fn)

	return func() { e.listeners.Delete(id) }
}

// Execute runs cmd as a foreground exchange. A timeout of zero uses the
// configured default.
func (e *Engine) Execute(ctx context.Context, cmd codec.Command, timeout time.Duration) (codec.Value, error) {
	return e.exchange(ctx, cmd, timeout, true)
}

// Poll runs cmd as a background exchange. It yields the session to any
// waiting Execute call.
func (e *Engine) Poll(ctx context.Context, cmd codec.Command, timeout time.Duration) (codec.Value, error) {
	return e.exchange(ctx, cmd, timeout, false)
}

// Exclusive runs fn holding the session with foreground priority, after any
// exchange in flight completed. fn must not start an exchange.
func (e *Engine) Exclusive(ctx context.Context, fn func() error) error {
	if err := e.gate.acquire(ctx, true); err != nil {
		return err
	}
	defer e.gate.release()

	return fn()
}

func (e *Engine) exchange(ctx context.Context, cmd codec.Command, timeout time.Duration, foreground bool) (codec.Value, error) {
	wire, err := e.grammar.Encode(cmd)
	if err != nil {
		e.metrics.incValidationErrCount()
		return codec.Value{}, err
	}
	if timeout <= 0 {
		timeout = e.cfg.timeout
	}

	if err := e.gate.acquire(ctx, foreground); err != nil {
		return codec.Value{}, err
	}
	defer e.gate.release()

	if err := timer.Sleep(ctx, e.cfg.turnaround-time.Since(e.last)); err != nil {
		return codec.Value{}, err
	}

	e.metrics.incInflightCount()
	defer e.metrics.decInflightCount()

	if e.dirty {
		if err := transport.Flush(e.session); err != nil {
			e.logger.Debug("engine: flush of late replies failed", "error", err)
		}
		e.dirty = false
	}

	v, err := e.roundTrip(cmd, wire, timeout)
	e.last = time.Now()
	if err != nil {
		e.dirty = !IsRejected(err)
		return codec.Value{}, err
	}

	if foreground && !cmd.Op().Idempotent() {
		e.listeners.Range(func(_ uint64, fn AcceptFunc) bool {
			fn(cmd, e.last)
			return true
		})
	}

	return v, nil
}

func (e *Engine) roundTrip(cmd codec.Command, wire string, timeout time.Duration) (codec.Value, error) {
	attempts := 1
	if cmd.Op().Idempotent() {
		attempts += e.cfg.maxRetries
	}

	var (
		sentinel error
		cause    error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			e.metrics.incRetryCount()
			if err := transport.Flush(e.session); err != nil {
				e.logger.Debug("engine: flush before retry failed", "error", err)
			}
			e.logger.Debug("engine: retrying", "cmd", cmd.String(), "attempt", attempt, "maxAttempts", attempts)
		}

		e.logger.Debug("engine: send", "cmd", cmd.String(), "wire", strings.TrimRight(wire, "\r"))
		e.metrics.incWriteCount()
		if err := e.session.Write([]byte(wire)); err != nil {
			e.logger.Warn("engine: write failed", "cmd", cmd.String(), "error", err)
			return codec.Value{}, fmt.Errorf("engine: write %s: %w", cmd, err)
		}
		if !e.grammar.ExpectsReply(cmd) {
			e.metrics.incExchangeCount()
			return codec.Value{}, nil
		}

		reply, err := e.read(timeout)
		if err != nil {
			if !transport.IsTimeout(err) {
				e.logger.Warn("engine: read failed", "cmd", cmd.String(), "error", err)
				return codec.Value{}, fmt.Errorf("engine: read %s: %w", cmd, err)
			}
			e.metrics.incTimeoutCount()
			e.logger.Debug("engine: reply timeout", "cmd", cmd.String(), "timeout", timeout, "attempt", attempt)
			sentinel, cause = ErrCommunicationTimeout, err

			continue
		}

		v, err := e.grammar.Decode(cmd, []byte(reply.Text))
		if err != nil {
			e.metrics.incParseErrCount()
			e.logger.Debug("engine: malformed reply", "cmd", cmd.String(), "reply", reply.Text, "error", err)
			sentinel, cause = ErrMalformedReply, err

			continue
		}

		if rej, ok := v.ErrorReply(); ok {
			e.metrics.incRejectedCount()
			e.logger.Info("engine: command rejected", "cmd", cmd.String(), "code", rej.Code)
			return codec.Value{}, &InstrumentRejected{
				Model:   e.grammar.Model(),
				Command: cmd,
				Code:    rej.Code,
				Message: rej.Message,
			}
		}

		e.metrics.incExchangeCount()
		e.logger.Debug("engine: recv", "cmd", cmd.String(), "reply", reply.Text)

		return v, nil
	}

	e.logger.Warn("engine: exchange failed", "cmd", cmd.String(), "attempts", attempts, "error", cause)

	return codec.Value{}, &ProtocolError{
		Model:    e.grammar.Model(),
		Command:  cmd,
		Attempts: attempts,
		Err:      sentinel,
		Cause:    cause,
	}
}

func (e *Engine) read(timeout time.Duration) (RawReply, error) {
	line, err := e.session.ReadLine(timeout)
	if err != nil {
		return RawReply{}, err
	}

	return RawReply{Text: string(line), ReceivedAt: time.Now()}, nil
}
