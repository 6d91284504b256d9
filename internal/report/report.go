// Package report publishes flow outcomes to an MQTT broker.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/richmaes/guitaracc/internal/flow"
)

const (
	qos            = 1
	publishTimeout = 10 * time.Second
	connectTimeout = 10 * time.Second
	quiesceMillis  = 250
)

// StepPayload is one step in the published document.
type StepPayload struct {
	Command   string `json:"command"`
	Response  string `json:"response"`
	Matched   bool   `json:"matched"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// Payload is the JSON document published for an outcome.
type Payload struct {
	Flow      string        `json:"flow"`
	Completed bool          `json:"completed"`
	Passed    bool          `json:"passed"`
	Steps     []StepPayload `json:"steps"`
	Error     string        `json:"error,omitempty"`
}

// BuildPayload converts an outcome for publishing.
func BuildPayload(o flow.Outcome) Payload {
	p := Payload{
		Flow:      o.Flow,
		Completed: o.Completed,
		Passed:    o.Passed(),
		Steps:     make([]StepPayload, 0, len(o.Steps)),
	}
	for _, s := range o.Steps {
		p.Steps = append(p.Steps, StepPayload{
			Command:   s.Step.Command,
			Response:  s.Response.Text(),
			Matched:   s.Matched,
			ElapsedMS: s.Response.Elapsed.Milliseconds(),
		})
	}
	if o.Err != nil {
		p.Error = o.Err.Error()
	}
	return p
}

// Topic is where the outcome of flowName is published.
func Topic(prefix, flowName string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return flowName + "/status"
	}
	return prefix + "/" + flowName + "/status"
}

// ValidateTopic rejects topics a broker would refuse for publishing.
func ValidateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}
	if len(topic) > 65535 {
		return fmt.Errorf("topic too long (max 65535 characters)")
	}
	if strings.Contains(topic, "\u0000") {
		return fmt.Errorf("topic contains null character")
	}
	if strings.Contains(topic, "+") || strings.Contains(topic, "#") {
		return fmt.Errorf("wildcards not allowed in publish topics")
	}
	return nil
}

// ParseBroker normalises a broker address to the form paho expects.
// "mqtt://host", "tcp://host:port" and bare "host[:port]" are accepted;
// the port defaults to 1883.
func ParseBroker(broker string) (string, error) {
	broker = strings.TrimSpace(broker)
	if broker == "" {
		return "", errors.New("no MQTT broker configured")
	}
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	u, err := url.Parse(broker)
	if err != nil {
		return "", fmt.Errorf("invalid broker URL: %w", err)
	}

	scheme := u.Scheme
	defaultPort := "1883"
	switch scheme {
	case "mqtt", "tcp":
		scheme = "tcp"
	case "mqtts", "ssl", "tls":
		scheme = "ssl"
		defaultPort = "8883"
	default:
		return "", fmt.Errorf("unsupported scheme: %s (use mqtt://, tcp:// or ssl://)", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("invalid broker URL %q: no host", broker)
	}

	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	return fmt.Sprintf("%s://%s:%s", scheme, u.Hostname(), port), nil
}

// Client is the part of mqtt.Client the publisher uses.
type Client interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Options configure a Publisher.
type Options struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	Logger      *log.Logger
}

// Publisher sends outcomes over MQTT with QoS 1.
type Publisher struct {
	client    Client
	prefix    string
	logger    *log.Logger
	connected bool
}

// NewPublisher builds a paho client from opts. Nothing is dialled until the
// first Publish.
func NewPublisher(opts Options) (*Publisher, error) {
	broker, err := ParseBroker(opts.Broker)
	if err != nil {
		return nil, err
	}

	clientID := opts.ClientID
	if clientID == "" {
		clientID = "guitaracc-console-" + uuid.NewString()[:8]
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	mo := mqtt.NewClientOptions()
	mo.AddBroker(broker)
	mo.SetClientID(clientID)
	mo.SetCleanSession(true)
	mo.SetConnectTimeout(connectTimeout)
	mo.SetKeepAlive(30 * time.Second)
	mo.SetPingTimeout(5 * time.Second)
	if opts.Username != "" {
		mo.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		mo.SetPassword(opts.Password)
	}
	mo.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", "err", err)
	})

	return NewPublisherWithClient(mqtt.NewClient(mo), opts.TopicPrefix, logger.With("broker", broker)), nil
}

// NewPublisherWithClient wraps an existing client.
func NewPublisherWithClient(client Client, prefix string, logger *log.Logger) *Publisher {
	if logger == nil {
		logger = log.Default()
	}
	return &Publisher{client: client, prefix: prefix, logger: logger}
}

// Publish sends the outcome to <prefix>/<flow>/status.
func (p *Publisher) Publish(ctx context.Context, o flow.Outcome) error {
	topic := Topic(p.prefix, o.Flow)
	if err := ValidateTopic(topic); err != nil {
		return err
	}

	payload, err := json.Marshal(BuildPayload(o))
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}

	if !p.connected {
		if err := wait(ctx, p.client.Connect(), connectTimeout); err != nil {
			return fmt.Errorf("connect to MQTT broker: %w", err)
		}
		p.connected = true
	}

	if err := wait(ctx, p.client.Publish(topic, qos, false, payload), publishTimeout); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.logger.Info("published outcome", "topic", topic, "bytes", len(payload))
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p.connected {
		p.client.Disconnect(quiesceMillis)
		p.connected = false
	}
}

func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.New("timed out")
	}
}
