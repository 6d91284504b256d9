package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/richmaes/guitaracc/internal/session"
	"github.com/richmaes/guitaracc/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type portConn struct {
	port transport.Port
}

func (c portConn) Port() (transport.Port, error) {
	return c.port, nil
}

func echoDevice(delay time.Duration) *transport.Simulator {
	return transport.NewSimulator(func(line string) (string, time.Duration) {
		return "ok " + line + "\r\n", delay
	})
}

func TestExecuteWritesOnceWithTerminator(t *testing.T) {
	sim := echoDevice(0)
	e := New(portConn{sim})

	resp, err := e.Execute(context.Background(), "status", 20*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, 1, sim.Writes())
	assert.Equal(t, "status\r\n", string(sim.Written()))
	assert.Equal(t, "ok status\r\n", string(resp.Data))
	assert.Equal(t, "status", resp.Command)
	assert.False(t, resp.Empty())
}

func TestExecuteDiscardsStaleInput(t *testing.T) {
	sim := echoDevice(5 * time.Millisecond)
	sim.Inject([]byte("uart:~$ leftover from boot\r\n"))
	e := New(portConn{sim})

	resp, err := e.Execute(context.Background(), "status", 30*time.Millisecond)
	require.NoError(t, err)

	assert.NotContains(t, resp.Text(), "leftover")
	assert.Equal(t, "ok status\r\n", resp.Text())
}

func TestExecuteHonoursMinimumWindow(t *testing.T) {
	for _, window := range []time.Duration{15 * time.Millisecond, 60 * time.Millisecond} {
		sim := echoDevice(0)
		e := New(portConn{sim})

		start := time.Now()
		resp, err := e.Execute(context.Background(), "status", window)
		require.NoError(t, err)

		assert.GreaterOrEqual(t, time.Since(start), window)
		assert.GreaterOrEqual(t, resp.Elapsed, window)
	}
}

func TestExecuteConfigShowAgainstSimulatedDevice(t *testing.T) {
	want, _ := transport.NewBasestation().Respond("config show")

	t.Run("window long enough", func(t *testing.T) {
		sim := transport.NewBasestation().WithLatency(50 * time.Millisecond).Port()
		t.Cleanup(func() { _ = sim.Close() })

		resp, err := New(portConn{sim}).Execute(context.Background(), "config show", 300*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, want, string(resp.Data))
		assert.Equal(t, "config show\r\n", string(sim.Written()))
	})

	t.Run("window closes first", func(t *testing.T) {
		sim := transport.NewBasestation().WithLatency(50 * time.Millisecond).Port()
		t.Cleanup(func() { _ = sim.Close() })

		resp, err := New(portConn{sim}).Execute(context.Background(), "config show", 10*time.Millisecond)
		require.NoError(t, err)
		assert.True(t, resp.Empty())
	})
}

func TestExecuteOnClosedSession(t *testing.T) {
	sim := echoDevice(0)
	s, err := session.Open(context.Background(), func(string, transport.Params) (transport.Port, error) {
		return sim, nil
	}, "/dev/engine-closed", transport.DefaultParams())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = New(s).Execute(context.Background(), "status", 10*time.Millisecond)

	var pre *session.PreconditionError
	require.ErrorAs(t, err, &pre)
	assert.ErrorIs(t, err, session.ErrClosed)
	assert.Zero(t, sim.Writes())
}

func TestExecuteWithoutConnection(t *testing.T) {
	_, err := New(nil).Execute(context.Background(), "status", 10*time.Millisecond)
	assert.ErrorIs(t, err, session.ErrNotOpen)
}

func TestExecuteWriteFailure(t *testing.T) {
	boom := errors.New("input/output error")
	sim := echoDevice(0)
	sim.FailWritesAfter(0, boom)

	_, err := New(portConn{sim}).Execute(context.Background(), "status", 10*time.Millisecond)

	var terr *transport.Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "write", terr.Op)
	assert.ErrorIs(t, err, boom)
	assert.True(t, transport.IsDisconnect(err))
}

func TestExecuteRejectsBadArguments(t *testing.T) {
	sim := echoDevice(0)
	e := New(portConn{sim})

	_, err := e.Execute(context.Background(), "", time.Second)
	assert.ErrorIs(t, err, ErrEmptyCommand)

	_, err = e.Execute(context.Background(), "status", 0)
	assert.ErrorIs(t, err, ErrInvalidWindow)

	assert.Zero(t, sim.Writes())
}

func TestExecuteCancelledDuringWindow(t *testing.T) {
	sim := echoDevice(0)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	start := time.Now()
	_, err := New(portConn{sim}).Execute(ctx, "status", 5*time.Second)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, sim.Writes())
}

func TestExecuteLineEndingOption(t *testing.T) {
	sim := echoDevice(0)
	_, err := New(portConn{sim}, WithLineEnding("\n")).Execute(context.Background(), "help", 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "help\n", string(sim.Written()))
}

func TestQuiescenceExtendsPastWindow(t *testing.T) {
	sim := transport.NewSimulator(func(line string) (string, time.Duration) {
		return "late reply\r\n", 40 * time.Millisecond
	})
	t.Cleanup(func() { _ = sim.Close() })

	e := New(portConn{sim}, WithQuiescence(100*time.Millisecond, time.Second))
	resp, err := e.Execute(context.Background(), "status", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "late reply\r\n", resp.Text())
	assert.Less(t, resp.Elapsed, time.Second)
}

func TestQuiescenceNeverShortensWindow(t *testing.T) {
	sim := echoDevice(0)
	e := New(portConn{sim}, WithQuiescence(time.Millisecond, 5*time.Millisecond))

	resp, err := e.Execute(context.Background(), "status", 50*time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, resp.Elapsed, 50*time.Millisecond)
	assert.Equal(t, "ok status\r\n", resp.Text())
}

func TestResponseTextReplacesInvalidBytes(t *testing.T) {
	resp := Response{Data: []byte{'a', 0xff, 'b'}}
	assert.Equal(t, "a�b", resp.Text())
	assert.True(t, Response{}.Empty())
}
