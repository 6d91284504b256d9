package report

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/richmaes/guitaracc/internal/engine"
	"github.com/richmaes/guitaracc/internal/flow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                       { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}            { return t.done }
func (t *fakeToken) Error() error                     { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	connectErr   error
	publishErr   error
	connects     int
	disconnected bool
	messages     []published
}

func (c *fakeClient) Connect() mqtt.Token {
	c.connects++
	return doneToken(c.connectErr)
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.messages = append(c.messages, published{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return doneToken(c.publishErr)
}

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func outcome() flow.Outcome {
	return flow.Outcome{
		Flow:      "midi-channel",
		Completed: true,
		Steps: []flow.StepResult{{
			Step:     flow.Step{Command: "config midi_ch 2", Expect: "'MIDI channel set'"},
			Response: engine.Response{Data: []byte("MIDI channel set to 2 (global setting)\r\n"), Elapsed: 1500 * time.Millisecond},
			Matched:  true,
		}},
	}
}

func TestPublishOutcome(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisherWithClient(client, "lab/bench1", log.New(io.Discard))

	require.NoError(t, p.Publish(context.Background(), outcome()))
	require.NoError(t, p.Publish(context.Background(), outcome()))
	p.Close()

	assert.Equal(t, 1, client.connects)
	assert.True(t, client.disconnected)
	require.Len(t, client.messages, 2)

	msg := client.messages[0]
	assert.Equal(t, "lab/bench1/midi-channel/status", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.False(t, msg.retained)

	var got Payload
	require.NoError(t, json.Unmarshal(msg.payload, &got))
	assert.Equal(t, "midi-channel", got.Flow)
	assert.True(t, got.Completed)
	assert.True(t, got.Passed)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, "config midi_ch 2", got.Steps[0].Command)
	assert.Equal(t, int64(1500), got.Steps[0].ElapsedMS)
	assert.Empty(t, got.Error)
}

func TestPublishErrors(t *testing.T) {
	client := &fakeClient{connectErr: errors.New("connection refused")}
	p := NewPublisherWithClient(client, "lab", log.New(io.Discard))
	assert.ErrorContains(t, p.Publish(context.Background(), outcome()), "connection refused")
	assert.Empty(t, client.messages)

	client = &fakeClient{publishErr: errors.New("not authorised")}
	p = NewPublisherWithClient(client, "lab", log.New(io.Discard))
	assert.ErrorContains(t, p.Publish(context.Background(), outcome()), "not authorised")

	p = NewPublisherWithClient(&fakeClient{}, "lab/#", log.New(io.Discard))
	assert.ErrorContains(t, p.Publish(context.Background(), outcome()), "wildcards")
}

func TestBuildPayloadForFailedRun(t *testing.T) {
	o := outcome()
	o.Completed = false
	o.Err = errors.New("transport write: input/output error")

	p := BuildPayload(o)
	assert.False(t, p.Completed)
	assert.False(t, p.Passed)
	assert.Equal(t, "transport write: input/output error", p.Error)
}

func TestParseBroker(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "localhost", want: "tcp://localhost:1883"},
		{in: "mqtt://broker.lan", want: "tcp://broker.lan:1883"},
		{in: "tcp://10.0.0.2:1884", want: "tcp://10.0.0.2:1884"},
		{in: "mqtts://broker.lan", want: "ssl://broker.lan:8883"},
		{in: "", wantErr: true},
		{in: "http://broker.lan", wantErr: true},
		{in: "tcp://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBroker(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "guitaracc/status/status", Topic("guitaracc", "status"))
	assert.Equal(t, "erase-all/status", Topic("", "erase-all"))
	assert.Equal(t, "a/b/x/status", Topic("/a/b/", "x"))
}

func TestNewPublisherNeedsBroker(t *testing.T) {
	_, err := NewPublisher(Options{})
	assert.Error(t, err)

	p, err := NewPublisher(Options{Broker: "localhost", TopicPrefix: "guitaracc"})
	require.NoError(t, err)
	assert.NotNil(t, p)
}
