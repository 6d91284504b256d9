// Package session owns an open transport and enforces one session per port.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/richmaes/guitaracc/internal/transport"
)

// State is the lifecycle position of an interactive session.
type State int

const (
	Idle State = iota
	Connecting
	Running
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrNotOpen  = errors.New("session not open")
	ErrClosed   = errors.New("session closed")
	ErrPortBusy = errors.New("port already owned by another session")
)

// PreconditionError is returned when an operation is attempted on a session
// that cannot serve it. No transport I/O has happened.
type PreconditionError struct {
	Op  string
	Err error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// ConnectError reports a failure while opening the transport.
type ConnectError struct {
	Path string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Path, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Session owns an open port. It is the only path through which the port is
// reached; once closed every accessor fails with a PreconditionError.
type Session struct {
	id   string
	path string

	mu     sync.Mutex
	port   transport.Port
	closed bool

	closeOnce sync.Once
	closeErr  error
}

// Open claims path and opens it. A second Open of a path that is still owned
// fails immediately with ErrPortBusy.
func Open(ctx context.Context, opener transport.Opener, path string, params transport.Params) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ConnectError{Path: path, Err: err}
	}
	if path == "" {
		return nil, &ConnectError{Path: path, Err: errors.New("no port selected")}
	}
	if opener == nil {
		opener = transport.Open
	}

	id := uuid.NewString()
	if err := ports.claim(path, id); err != nil {
		return nil, err
	}

	port, err := opener(path, params)
	if err != nil {
		ports.release(path, id)
		return nil, &ConnectError{Path: path, Err: err}
	}

	return &Session{id: id, path: path, port: port}, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// Path returns the port name.
func (s *Session) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Port returns the open port.
func (s *Session) Port() (transport.Port, error) {
	if s == nil {
		return nil, &PreconditionError{Op: "port", Err: ErrNotOpen}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, &PreconditionError{Op: "port", Err: ErrClosed}
	}
	if s.port == nil {
		return nil, &PreconditionError{Op: "port", Err: ErrNotOpen}
	}
	return s.port, nil
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close closes the port and releases the claim on its path. Only the first
// call does any work.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		port := s.port
		s.mu.Unlock()

		if port != nil {
			if err := port.Close(); err != nil {
				s.closeErr = &transport.Error{Op: "close", Path: s.path, Err: err}
			}
		}
		ports.release(s.path, s.id)
	})
	return s.closeErr
}

type registry struct {
	mu    sync.Mutex
	owner map[string]string
}

var ports = &registry{owner: make(map[string]string)}

func (r *registry) claim(path, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.owner[path]; busy {
		return &PreconditionError{Op: "open " + path, Err: ErrPortBusy}
	}
	r.owner[path] = id
	return nil
}

func (r *registry) release(path, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owner[path] == id {
		delete(r.owner, path)
	}
}
