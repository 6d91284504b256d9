// Package config loads console settings from layered TOML files.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/richmaes/guitaracc/internal/transport"
)

const (
	defaultLineEnding      = "\r\n"
	defaultTerminalPoll    = 100 * time.Millisecond
	defaultGracePeriod     = 250 * time.Millisecond
	defaultFlowReadTimeout = time.Second
	defaultSettleDelay     = time.Second
	defaultWait            = 500 * time.Millisecond
	defaultQuiescenceMax   = 5 * time.Second
	defaultLogLevel        = "info"
	defaultTopicPrefix     = "guitaracc"

	dirName  = ".guitaracc"
	fileName = "config.toml"
)

// Config stores runtime settings.
type Config struct {
	Port         string
	PortPatterns []string
	Baud         int
	RTSCTS       bool
	LineEnding   string

	TerminalPoll    time.Duration
	GracePeriod     time.Duration
	FlowReadTimeout time.Duration
	SettleDelay     time.Duration
	DefaultWait     time.Duration
	QuiescenceGap   time.Duration
	QuiescenceMax   time.Duration

	FlowsFile string
	LogLevel  string
	LogFile   string

	MQTT   MQTTConfig
	Mirror MirrorConfig
}

// MQTTConfig is where flow outcomes are published.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// MirrorConfig is the websocket mirror of the terminal.
type MirrorConfig struct {
	Listen string
}

type fileConfig struct {
	Port            *string     `toml:"port"`
	PortPatterns    *[]string   `toml:"port_patterns"`
	Baud            *int        `toml:"baud"`
	RTSCTS          *bool       `toml:"rtscts"`
	LineEnding      *string     `toml:"line_ending"`
	TerminalPoll    *string     `toml:"terminal_poll"`
	GracePeriod     *string     `toml:"grace_period"`
	FlowReadTimeout *string     `toml:"flow_read_timeout"`
	SettleDelay     *string     `toml:"settle_delay"`
	DefaultWait     *string     `toml:"default_wait"`
	QuiescenceGap   *string     `toml:"quiescence_gap"`
	QuiescenceMax   *string     `toml:"quiescence_max"`
	FlowsFile       *string     `toml:"flows_file"`
	LogLevel        *string     `toml:"log_level"`
	LogFile         *string     `toml:"log_file"`
	MQTT            *mqttFile   `toml:"mqtt"`
	Mirror          *mirrorFile `toml:"mirror"`
}

type mqttFile struct {
	Broker      *string `toml:"broker"`
	ClientID    *string `toml:"client_id"`
	Username    *string `toml:"username"`
	Password    *string `toml:"password"`
	TopicPrefix *string `toml:"topic_prefix"`
}

type mirrorFile struct {
	Listen *string `toml:"listen"`
}

// Defaults returns the built-in settings.
func Defaults() Config {
	return Config{
		PortPatterns:    []string{"usbmodem", "ttyACM", "ttyUSB"},
		Baud:            transport.DefaultBaudRate,
		RTSCTS:          true,
		LineEnding:      defaultLineEnding,
		TerminalPoll:    defaultTerminalPoll,
		GracePeriod:     defaultGracePeriod,
		FlowReadTimeout: defaultFlowReadTimeout,
		SettleDelay:     defaultSettleDelay,
		DefaultWait:     defaultWait,
		QuiescenceMax:   defaultQuiescenceMax,
		LogLevel:        defaultLogLevel,
		MQTT:            MQTTConfig{TopicPrefix: defaultTopicPrefix},
	}
}

// Load reads ~/.guitaracc/config.toml, overlays ./.guitaracc/config.toml and
// then explicit, when given. Missing home and project files are skipped; a
// missing explicit file is an error.
func Load(ctx context.Context, explicit string) (*Config, error) {
	cfg := Defaults()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	paths := []string{
		filepath.Join(homeDir, dirName, fileName),
		filepath.Join(workingDir, dirName, fileName),
	}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := overlayFromFile(&cfg, path, false); err != nil {
			return nil, err
		}
	}
	if explicit != "" {
		if err := overlayFromFile(&cfg, explicit, true); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func overlayFromFile(cfg *Config, path string, required bool) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("stat config file %q: %w", path, err)
	}

	var decoded fileConfig
	if _, err := toml.DecodeFile(path, &decoded); err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}

	applyScalarOverrides(cfg, decoded)
	return applyDurationOverrides(cfg, decoded, path)
}

func applyScalarOverrides(cfg *Config, decoded fileConfig) {
	if decoded.Port != nil {
		cfg.Port = strings.TrimSpace(*decoded.Port)
	}
	if decoded.PortPatterns != nil {
		cfg.PortPatterns = append([]string(nil), (*decoded.PortPatterns)...)
	}
	if decoded.Baud != nil {
		cfg.Baud = *decoded.Baud
	}
	if decoded.RTSCTS != nil {
		cfg.RTSCTS = *decoded.RTSCTS
	}
	if decoded.LineEnding != nil {
		cfg.LineEnding = *decoded.LineEnding
	}
	if decoded.FlowsFile != nil {
		cfg.FlowsFile = *decoded.FlowsFile
	}
	if decoded.LogLevel != nil {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(*decoded.LogLevel))
	}
	if decoded.LogFile != nil {
		cfg.LogFile = *decoded.LogFile
	}

	if m := decoded.MQTT; m != nil {
		if m.Broker != nil {
			cfg.MQTT.Broker = *m.Broker
		}
		if m.ClientID != nil {
			cfg.MQTT.ClientID = *m.ClientID
		}
		if m.Username != nil {
			cfg.MQTT.Username = *m.Username
		}
		if m.Password != nil {
			cfg.MQTT.Password = *m.Password
		}
		if m.TopicPrefix != nil {
			cfg.MQTT.TopicPrefix = strings.Trim(*m.TopicPrefix, "/")
		}
	}
	if decoded.Mirror != nil && decoded.Mirror.Listen != nil {
		cfg.Mirror.Listen = *decoded.Mirror.Listen
	}
}

func applyDurationOverrides(cfg *Config, decoded fileConfig, path string) error {
	fields := []struct {
		key   string
		value *string
		dst   *time.Duration
	}{
		{"terminal_poll", decoded.TerminalPoll, &cfg.TerminalPoll},
		{"grace_period", decoded.GracePeriod, &cfg.GracePeriod},
		{"flow_read_timeout", decoded.FlowReadTimeout, &cfg.FlowReadTimeout},
		{"settle_delay", decoded.SettleDelay, &cfg.SettleDelay},
		{"default_wait", decoded.DefaultWait, &cfg.DefaultWait},
		{"quiescence_gap", decoded.QuiescenceGap, &cfg.QuiescenceGap},
		{"quiescence_max", decoded.QuiescenceMax, &cfg.QuiescenceMax},
	}

	for _, f := range fields {
		if f.value == nil {
			continue
		}
		parsed, err := parseDuration(*f.value, f.key, path)
		if err != nil {
			return err
		}
		*f.dst = parsed
	}
	return nil
}

func parseDuration(value, key, path string) (time.Duration, error) {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s in %q: %w", key, path, err)
	}
	if parsed < 0 {
		return 0, fmt.Errorf("parse %s in %q: must not be negative", key, path)
	}
	return parsed, nil
}

// Validate checks values that cannot be expressed in the file types.
func (c *Config) Validate() error {
	if c.Baud <= 0 {
		return fmt.Errorf("baud must be positive, got %d", c.Baud)
	}
	switch c.LineEnding {
	case "\r\n", "\n", "\r":
	default:
		return fmt.Errorf("line_ending must be \\r\\n, \\n or \\r, got %q", c.LineEnding)
	}
	if c.TerminalPoll <= 0 {
		return errors.New("terminal_poll must be positive")
	}
	if c.DefaultWait <= 0 {
		return errors.New("default_wait must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}

// Params returns the link parameters for a session. Interactive sessions use
// the short terminal poll as read timeout; flows use the longer one.
func (c *Config) Params(interactive bool) transport.Params {
	p := transport.Params{
		BaudRate:    c.Baud,
		DataBits:    transport.DefaultDataBits,
		RTSCTS:      c.RTSCTS,
		ReadTimeout: c.FlowReadTimeout,
	}
	if interactive {
		p.ReadTimeout = c.TerminalPoll
	}
	return p
}
