// Package terminal is the interactive pass-through session: device output is
// streamed to the operator while keystrokes are forwarded to the device.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/richmaes/guitaracc/internal/session"
	"github.com/richmaes/guitaracc/internal/transport"
	"golang.org/x/sync/errgroup"
)

// Mode selects how keystrokes are captured.
type Mode int

const (
	// LineMode forwards whole lines with the line terminator appended.
	LineMode Mode = iota
	// RawMode forwards every byte as typed, except InterruptByte.
	RawMode
)

func (m Mode) String() string {
	if m == RawMode {
		return "raw"
	}
	return "line"
}

// InterruptByte ends a raw-mode session instead of being forwarded (Ctrl+C).
const InterruptByte = 0x03

const (
	DefaultPoll  = transport.DefaultTerminalTimeout
	DefaultGrace = 250 * time.Millisecond
)

var (
	errInterrupted = errors.New("interrupted")
	errInputClosed = errors.New("input closed")
)

// Input is the operator's keyboard. A cancelreader.CancelReader satisfies it.
type Input interface {
	io.Reader
	Cancel() bool
}

// Link is an open device session. *session.Session satisfies it.
type Link interface {
	ID() string
	Port() (transport.Port, error)
	Close() error
}

// Connector opens the device.
type Connector func(ctx context.Context) (Link, error)

// RawModeFunc switches the local terminal to raw mode and returns the function
// that restores the previous mode.
type RawModeFunc func() (restore func() error, err error)

// Observer counts bytes crossing the terminal.
type Observer interface {
	TerminalIn(n int)
	TerminalOut(n int)
}

// Config holds the terminal's collaborators and timings.
type Config struct {
	Mode       Mode
	LineEnding string
	// Poll is the reader's read timeout.
	Poll  time.Duration
	Grace time.Duration

	Input  Input
	Output io.Writer
	Raw    RawModeFunc

	Logger   *log.Logger
	Observer Observer
	OnState  func(session.State)
}

// Terminal runs one interactive session.
type Terminal struct {
	connect Connector
	cfg     Config
	logger  *log.Logger

	mu    sync.Mutex
	state session.State
}

// New returns an idle Terminal.
func New(connect Connector, cfg Config) *Terminal {
	if cfg.LineEnding == "" {
		cfg.LineEnding = "\r\n"
	}
	if cfg.Poll <= 0 {
		cfg.Poll = DefaultPoll
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.Output == nil {
		cfg.Output = io.Discard
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Terminal{connect: connect, cfg: cfg, logger: logger, state: session.Idle}
}

// State returns the current lifecycle state.
func (t *Terminal) State() session.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Terminal) setState(s session.State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()

	t.logger.Debug("terminal state", "state", s)
	if t.cfg.OnState != nil {
		t.cfg.OnState(s)
	}
}

// Run connects, streams until cancelled, and tears down. Cancelling ctx, the
// interrupt byte in raw mode and the end of input all end the session
// normally and return nil. A transport failure ends it too and is returned.
// Raw mode, when used, is restored on every path out of Run.
func (t *Terminal) Run(ctx context.Context) error {
	if t.cfg.Input == nil {
		return errors.New("terminal: no input")
	}

	t.setState(session.Connecting)
	if t.connect == nil {
		t.setState(session.Closed)
		return &session.ConnectError{Err: errors.New("no connector")}
	}
	link, err := t.connect(ctx)
	if err != nil {
		t.setState(session.Closed)
		return err
	}
	logger := t.logger.With("session_id", link.ID())

	port, err := link.Port()
	if err != nil {
		t.abort(link)
		return err
	}
	if err := port.SetReadTimeout(t.cfg.Poll); err != nil {
		t.abort(link)
		return &transport.Error{Op: "set read timeout", Err: err}
	}

	var restoreOnce sync.Once
	restoreTerminal := func() {}
	if t.cfg.Mode == RawMode {
		if t.cfg.Raw == nil {
			t.abort(link)
			return errors.New("terminal: raw mode unavailable")
		}
		restore, err := t.cfg.Raw()
		if err != nil {
			t.abort(link)
			return fmt.Errorf("enter raw mode: %w", err)
		}
		restoreTerminal = func() {
			restoreOnce.Do(func() {
				if err := restore(); err != nil {
					logger.Error("restore terminal mode", "err", err)
				}
			})
		}
	}
	defer restoreTerminal()

	var (
		cause     error
		causeOnce sync.Once
	)
	fail := func(err error) error {
		causeOnce.Do(func() { cause = err })
		return err
	}
	worker := func(fn func() error) func() error {
		return func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fail(fmt.Errorf("terminal worker panic: %v", r))
				}
			}()
			if err := fn(); err != nil {
				return fail(err)
			}
			return nil
		}
	}

	t.setState(session.Running)
	logger.Info("terminal running", "mode", t.cfg.Mode)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(worker(func() error { return t.readLoop(gctx, port, logger) }))
	g.Go(worker(func() error { return t.inputLoop(gctx, port, logger) }))

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	<-gctx.Done()
	t.setState(session.Draining)
	t.cfg.Input.Cancel()

	exited := waitFor(done, t.cfg.Grace)
	if !exited {
		logger.Warn("workers still running after grace period")
	}
	if err := link.Close(); err != nil {
		logger.Warn("close port", "err", err)
	}
	if !exited {
		waitFor(done, t.cfg.Grace)
	}

	t.setState(session.Closed)
	restoreTerminal()

	causeOnce.Do(func() { cause = ctx.Err() })
	switch {
	case cause == nil,
		errors.Is(cause, errInterrupted),
		errors.Is(cause, errInputClosed),
		errors.Is(cause, context.Canceled):
		logger.Info("terminal closed")
		return nil
	default:
		if transport.IsDisconnect(cause) {
			logger.Error("device disconnected", "err", cause)
		}
		return cause
	}
}

func (t *Terminal) abort(link Link) {
	_ = link.Close()
	t.setState(session.Closed)
}

func waitFor(done <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
