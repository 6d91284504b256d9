// Package engine sends one command to the device and collects whatever the
// device wrote back inside a bounded window.
//
// The shell on the other end has no framing and no acknowledgement, so a
// response is simply the bytes that arrived between the write and the end of
// the window. Nothing here logs or interprets the reply.
package engine

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/richmaes/guitaracc/internal/session"
	"github.com/richmaes/guitaracc/internal/transport"
	"golang.org/x/text/encoding/unicode"
)

const (
	DefaultLineEnding = "\r\n"
	DefaultDrainPoll  = 10 * time.Millisecond

	readChunk     = 1024
	maxDrainBytes = 1 << 20
)

var (
	ErrEmptyCommand  = errors.New("engine: empty command")
	ErrInvalidWindow = errors.New("engine: wait window must be positive")
)

// Conn hands out the port of an open session. *session.Session implements it.
type Conn interface {
	Port() (transport.Port, error)
}

// Response is what the device produced after one command.
type Response struct {
	Command string
	Data    []byte
	SentAt  time.Time
	Elapsed time.Duration
}

// Empty reports whether nothing arrived. An empty response is not an error.
func (r Response) Empty() bool {
	return len(r.Data) == 0
}

// Text decodes Data as UTF-8, replacing invalid sequences with U+FFFD.
func (r Response) Text() string {
	out, err := unicode.UTF8.NewDecoder().Bytes(r.Data)
	if err != nil {
		return string(r.Data)
	}
	return string(out)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLineEnding sets the terminator appended to every command.
func WithLineEnding(s string) Option {
	return func(e *Engine) {
		e.lineEnding = s
	}
}

// WithQuiescence keeps collecting after the minimum window for as long as
// bytes keep arriving, stopping once gap passes in silence or max has elapsed
// since the write. The minimum window still applies in full.
func WithQuiescence(gap, max time.Duration) Option {
	return func(e *Engine) {
		e.quietGap = gap
		e.quietMax = max
	}
}

// WithDrainPoll sets the read timeout used while draining buffered bytes.
func WithDrainPoll(d time.Duration) Option {
	return func(e *Engine) {
		e.drainPoll = d
	}
}

// Engine executes commands over a session's port.
type Engine struct {
	conn       Conn
	lineEnding string
	drainPoll  time.Duration
	quietGap   time.Duration
	quietMax   time.Duration
}

// New returns an Engine bound to conn.
func New(conn Conn, opts ...Option) *Engine {
	e := &Engine{
		conn:       conn,
		lineEnding: DefaultLineEnding,
		drainPoll:  DefaultDrainPoll,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.drainPoll < 0 {
		e.drainPoll = 0
	}
	return e
}

// Execute writes command plus the line terminator in a single write, waits
// window, then returns every byte that arrived after the write.
//
// Input already buffered before the call is discarded first, so a response
// can never carry output that belongs to an earlier command. Execute never
// returns before window has elapsed since the write completed.
func (e *Engine) Execute(ctx context.Context, command string, window time.Duration) (Response, error) {
	resp := Response{Command: command}

	if command == "" {
		return resp, ErrEmptyCommand
	}
	if window <= 0 {
		return resp, ErrInvalidWindow
	}
	if e.conn == nil {
		return resp, &session.PreconditionError{Op: "execute", Err: session.ErrNotOpen}
	}
	port, err := e.conn.Port()
	if err != nil {
		return resp, err
	}
	if err := ctx.Err(); err != nil {
		return resp, err
	}

	if err := port.ResetInputBuffer(); err != nil {
		return resp, &transport.Error{Op: "reset input", Err: err}
	}

	payload := []byte(command + e.lineEnding)
	n, err := port.Write(payload)
	if err != nil {
		return resp, &transport.Error{Op: "write", Err: err}
	}
	if n != len(payload) {
		return resp, &transport.Error{Op: "write", Err: io.ErrShortWrite}
	}
	if err := port.Drain(); err != nil {
		return resp, &transport.Error{Op: "flush", Err: err}
	}
	resp.SentAt = time.Now()

	timer := time.NewTimer(window)
	select {
	case <-ctx.Done():
		timer.Stop()
		resp.Elapsed = time.Since(resp.SentAt)
		return resp, ctx.Err()
	case <-timer.C:
	}

	resp.Data, err = e.drain(ctx, port)
	if err == nil && e.quietGap > 0 {
		var more []byte
		more, err = e.collectUntilQuiet(ctx, port, resp.SentAt)
		resp.Data = append(resp.Data, more...)
	}
	resp.Elapsed = time.Since(resp.SentAt)
	return resp, err
}

// drain reads until a poll comes back empty.
func (e *Engine) drain(ctx context.Context, port transport.Port) ([]byte, error) {
	if err := port.SetReadTimeout(e.drainPoll); err != nil {
		return nil, &transport.Error{Op: "set read timeout", Err: err}
	}

	var data []byte
	buf := make([]byte, readChunk)
	for len(data) < maxDrainBytes {
		if err := ctx.Err(); err != nil {
			return data, err
		}
		n, err := port.Read(buf)
		if err != nil {
			return data, &transport.Error{Op: "read", Err: err}
		}
		if n == 0 {
			break
		}
		data = append(data, buf[:n]...)
	}
	return data, nil
}

// collectUntilQuiet keeps reading until gap passes in silence or the overall
// deadline is reached.
func (e *Engine) collectUntilQuiet(ctx context.Context, port transport.Port, sentAt time.Time) ([]byte, error) {
	deadline := sentAt.Add(e.quietMax)

	var data []byte
	buf := make([]byte, readChunk)
	for len(data) < maxDrainBytes {
		if err := ctx.Err(); err != nil {
			return data, err
		}

		timeout := e.quietGap
		if e.quietMax > 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				break
			}
			if remaining < timeout {
				timeout = remaining
			}
		}
		if err := port.SetReadTimeout(timeout); err != nil {
			return data, &transport.Error{Op: "set read timeout", Err: err}
		}

		n, err := port.Read(buf)
		if err != nil {
			return data, &transport.Error{Op: "read", Err: err}
		}
		if n == 0 {
			break
		}
		data = append(data, buf[:n]...)
	}
	return data, nil
}
