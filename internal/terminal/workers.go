package terminal

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/richmaes/guitaracc/internal/transport"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	readBufferSize = 4096
	idleYield      = 10 * time.Millisecond
)

// readLoop copies device output to the display until ctx is done. Invalid
// UTF-8 is shown as U+FFFD; a sequence split across reads is kept whole.
func (t *Terminal) readLoop(ctx context.Context, port transport.Port, logger *log.Logger) error {
	display := transform.NewWriter(t.cfg.Output, unicode.UTF8.NewDecoder())
	defer display.Close()

	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := port.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("read from device", "err", err)
			return &transport.Error{Op: "read", Err: err}
		}

		if n == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(idleYield):
			}
			continue
		}

		if t.cfg.Observer != nil {
			t.cfg.Observer.TerminalIn(n)
		}
		if _, err := display.Write(buf[:n]); err != nil {
			return err
		}
	}
}

// inputLoop forwards keystrokes to the device. It is the only writer on the
// port while the terminal runs.
func (t *Terminal) inputLoop(ctx context.Context, port transport.Port, logger *log.Logger) error {
	if t.cfg.Mode == RawMode {
		return t.rawInput(ctx, port, logger)
	}
	return t.lineInput(ctx, port, logger)
}

func (t *Terminal) rawInput(ctx context.Context, port transport.Port, logger *log.Logger) error {
	buf := make([]byte, 256)
	for {
		n, err := t.cfg.Input.Read(buf)
		if n > 0 {
			if ctx.Err() != nil {
				return nil
			}
			chunk := buf[:n]
			if i := bytes.IndexByte(chunk, InterruptByte); i >= 0 {
				if i > 0 {
					if err := t.send(port, chunk[:i], logger); err != nil {
						return err
					}
				}
				logger.Debug("interrupt byte received")
				return errInterrupted
			}
			if err := t.send(port, chunk, logger); err != nil {
				return err
			}
		}
		if err != nil {
			return t.inputErr(ctx, err)
		}
	}
}

func (t *Terminal) lineInput(ctx context.Context, port transport.Port, logger *log.Logger) error {
	reader := bufio.NewReader(t.cfg.Input)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			if ctx.Err() != nil {
				return nil
			}
			out := strings.TrimRight(line, "\r\n") + t.cfg.LineEnding
			if err := t.send(port, []byte(out), logger); err != nil {
				return err
			}
		}
		if err != nil {
			return t.inputErr(ctx, err)
		}
	}
}

func (t *Terminal) inputErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	if errors.Is(err, io.EOF) {
		return errInputClosed
	}
	return err
}

func (t *Terminal) send(port transport.Port, p []byte, logger *log.Logger) error {
	n, err := port.Write(p)
	if err == nil && n != len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		logger.Error("write to device", "err", err)
		return &transport.Error{Op: "write", Err: err}
	}
	if t.cfg.Observer != nil {
		t.cfg.Observer.TerminalOut(n)
	}
	return nil
}
