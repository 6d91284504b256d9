package transport

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by a Simulator after Close.
var ErrClosed = errors.New("port closed")

// Responder produces the device's reply to one received line. A zero delay
// delivers the reply immediately.
type Responder func(line string) (reply string, delay time.Duration)

// Simulator is an in-memory Port standing in for the device. Lines written to
// it are handed to a Responder and the replies become readable after their
// delay.
type Simulator struct {
	mu          sync.Mutex
	respond     Responder
	rx          []byte
	pending     []byte
	written     bytes.Buffer
	writes      int
	failAfter   int
	failErr     error
	readTimeout time.Duration
	timers      []*time.Timer
	ready       chan struct{}
	done        chan struct{}
	closed      bool
}

// NewSimulator returns an open simulated port. A nil responder never replies.
func NewSimulator(respond Responder) *Simulator {
	return &Simulator{
		respond:     respond,
		readTimeout: DefaultFlowTimeout,
		failAfter:   -1,
		ready:       make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// Read waits up to the read timeout for inbound bytes.
func (s *Simulator) Read(p []byte) (int, error) {
	s.mu.Lock()
	timeout := s.readTimeout
	s.mu.Unlock()

	var expired <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return 0, ErrClosed
		}
		if len(s.rx) > 0 {
			n := copy(p, s.rx)
			s.rx = s.rx[n:]
			s.mu.Unlock()
			return n, nil
		}
		s.mu.Unlock()

		select {
		case <-s.ready:
		case <-s.done:
		case <-expired:
			return 0, nil
		}
	}
}

// Write records p and schedules replies for every complete line in it.
func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	if s.failAfter >= 0 && s.writes >= s.failAfter {
		return 0, s.failErr
	}
	s.writes++
	s.written.Write(p)
	s.pending = append(s.pending, p...)

	for {
		i := bytes.IndexByte(s.pending, '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimRight(s.pending[:i], "\r"))
		s.pending = s.pending[i+1:]
		s.scheduleLocked(line)
	}

	return len(p), nil
}

func (s *Simulator) scheduleLocked(line string) {
	if s.respond == nil {
		return
	}
	reply, delay := s.respond(line)
	if reply == "" {
		return
	}
	if delay <= 0 {
		s.appendLocked([]byte(reply))
		return
	}
	s.timers = append(s.timers, time.AfterFunc(delay, func() {
		s.Inject([]byte(reply))
	}))
}

// Inject makes b readable immediately, as if the device had sent it
// unprompted.
func (s *Simulator) Inject(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.appendLocked(b)
}

func (s *Simulator) appendLocked(b []byte) {
	s.rx = append(s.rx, b...)
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// FailWritesAfter makes every write after the first n fail with err.
func (s *Simulator) FailWritesAfter(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAfter = n
	s.failErr = err
}

// Written returns everything written so far.
func (s *Simulator) Written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.written.Bytes())
}

// Writes returns the number of successful Write calls.
func (s *Simulator) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Buffered returns the number of inbound bytes not yet read.
func (s *Simulator) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rx)
}

func (s *Simulator) Drain() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Simulator) ResetInputBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.rx = nil
	return nil
}

func (s *Simulator) SetReadTimeout(t time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readTimeout = t
	return nil
}

// Close stops pending replies and unblocks readers.
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, t := range s.timers {
		t.Stop()
	}
	close(s.done)
	return nil
}

// Closed reports whether Close was called.
func (s *Simulator) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var _ Port = (*Simulator)(nil)
