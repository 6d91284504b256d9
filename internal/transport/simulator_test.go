package transport

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestSimulatorRepliesAfterDelay(t *testing.T) {
	sim := NewSimulator(func(line string) (string, time.Duration) {
		return "got " + line, 30 * time.Millisecond
	})
	t.Cleanup(func() { _ = sim.Close() })

	_, err := sim.Write([]byte("ping\r\n"))
	require.NoError(t, err)

	require.NoError(t, sim.SetReadTimeout(0))
	buf := make([]byte, 64)
	n, err := sim.Read(buf)
	require.NoError(t, err)
	assert.Zero(t, n, "reply must not be readable before its delay")

	require.NoError(t, sim.SetReadTimeout(time.Second))
	n, err = sim.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "got ping", string(buf[:n]))
}

func TestSimulatorSplitsLinesAcrossWrites(t *testing.T) {
	var lines []string
	sim := NewSimulator(func(line string) (string, time.Duration) {
		lines = append(lines, line)
		return "", 0
	})

	_, _ = sim.Write([]byte("con"))
	_, _ = sim.Write([]byte("fig show\r\nstat"))
	_, _ = sim.Write([]byte("us\n"))

	assert.Equal(t, []string{"config show", "status"}, lines)
	assert.Equal(t, "config show\r\nstatus\n", string(sim.Written()))
	assert.Equal(t, 3, sim.Writes())
}

func TestSimulatorResetDiscardsBufferedInput(t *testing.T) {
	sim := NewSimulator(nil)
	sim.Inject([]byte("boot noise"))
	require.Equal(t, 10, sim.Buffered())

	require.NoError(t, sim.ResetInputBuffer())
	assert.Zero(t, sim.Buffered())
}

func TestSimulatorFailWritesAfter(t *testing.T) {
	boom := errors.New("boom")
	sim := NewSimulator(nil)
	sim.FailWritesAfter(1, boom)

	_, err := sim.Write([]byte("a\n"))
	require.NoError(t, err)
	_, err = sim.Write([]byte("b\n"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, sim.Writes())
}

func TestSimulatorCloseUnblocksRead(t *testing.T) {
	sim := NewSimulator(nil)
	require.NoError(t, sim.SetReadTimeout(-1))

	done := make(chan error, 1)
	go func() {
		_, err := sim.Read(make([]byte, 8))
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, sim.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("read did not return after close")
	}
	assert.True(t, sim.Closed())
}

func TestIsDisconnect(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "simulator closed", err: &Error{Op: "read", Err: ErrClosed}, want: true},
		{name: "os io error", err: errors.New("read /dev/ttyACM0: input/output error"), want: true},
		{name: "unrelated", err: errors.New("permission denied"), want: false},
		{name: "wrapped", err: fmt.Errorf("terminal: %w", errors.New("no such device")), want: true},
		{name: "port busy", err: &serial.PortError{}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDisconnect(tt.err))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Op: "write", Path: "/dev/ttyACM0", Err: errors.New("boom")}
	assert.Equal(t, "transport write /dev/ttyACM0: boom", err.Error())
	assert.Equal(t, "transport flush: boom", (&Error{Op: "flush", Err: errors.New("boom")}).Error())
}
