package transport

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBasestationConfigRoundTrip(t *testing.T) {
	b := NewBasestation()

	reply, delay := b.Respond("config midi_ch 3")
	assert.Equal(t, shellLatency, delay)
	assert.Contains(t, reply, "MIDI channel set to 3 (global setting)")
	assert.True(t, strings.HasSuffix(reply, shellPrompt))

	reply, _ = b.Respond("config cc x 20")
	assert.Contains(t, reply, "X-axis CC set to 20")

	reply, _ = b.Respond("config show")
	assert.Contains(t, reply, "  Channel: 3")
	assert.Contains(t, reply, "CC mapping: [20, 17, 18, 19, 20, 21]")
}

func TestBasestationRejectsInvalidInput(t *testing.T) {
	b := NewBasestation()

	tests := map[string]string{
		"config midi_ch 17":    "Invalid channel (1-16)",
		"config midi_ch":       "Usage: config midi_ch <1-16>",
		"config cc w 1":        "Invalid axis",
		"midi send_rt 0x90":    "Invalid real-time byte",
		"midi send_rt 0xFA":    "Sent real-time message: 0xFA",
		"bogus":                "bogus: command not found",
		"config write_default": "Use 'config unlock_default' first",
	}
	for cmd, want := range tests {
		reply, _ := b.Respond(cmd)
		assert.Contains(t, reply, want, cmd)
	}
}

func TestBasestationDefaultWriteNeedsUnlock(t *testing.T) {
	b := NewBasestation()

	reply, _ := b.Respond("config unlock_default")
	assert.Contains(t, reply, "DEFAULT AREA UNLOCKED")

	reply, _ = b.Respond("config write_default")
	assert.Contains(t, reply, "Factory defaults written successfully")

	// lock resets after a write
	reply, _ = b.Respond("config write_default")
	assert.Contains(t, reply, "Error writing factory defaults")
}

func TestBasestationRebootIsSlow(t *testing.T) {
	b := NewBasestation().WithLatency(time.Millisecond)

	reply, delay := b.Respond("kernel reboot cold")
	assert.Equal(t, rebootDuration, delay)
	assert.Contains(t, reply, "Booting Zephyr OS")

	_, delay = b.Respond("status")
	assert.Equal(t, time.Millisecond, delay)
}
