package transport

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	shellPrompt    = "uart:~$ "
	shellLatency   = 20 * time.Millisecond
	rebootDuration = 400 * time.Millisecond
)

// Basestation mimics the firmware's shell closely enough to drive the
// built-in flows without hardware.
type Basestation struct {
	mu            sync.Mutex
	latency       time.Duration
	midiChannel   int
	defaultPatch  int
	ccMapping     [6]int
	scanInterval  int
	avgEnable     bool
	avgDepth      int
	program       int
	defaultUnlock bool
	rxClock       int
	sequence      int
}

// NewBasestation returns a device with factory settings.
func NewBasestation() *Basestation {
	b := &Basestation{latency: shellLatency}
	b.factoryReset()
	return b
}

// WithLatency sets the reply delay.
func (b *Basestation) WithLatency(d time.Duration) *Basestation {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latency = d
	return b
}

// Port returns a simulated port wired to this device.
func (b *Basestation) Port() *Simulator {
	return NewSimulator(b.Respond)
}

func (b *Basestation) factoryReset() {
	b.midiChannel = 1
	b.defaultPatch = 0
	b.ccMapping = [6]int{16, 17, 18, 19, 20, 21}
	b.scanInterval = 100
	b.avgEnable = true
	b.avgDepth = 5
}

// Respond implements Responder.
func (b *Basestation) Respond(line string) (string, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "\r\n" + shellPrompt, b.latency
	}

	var out []string
	delay := b.latency

	switch fields[0] {
	case "help":
		out = []string{
			"Available commands:",
			"  clear   : Clear screen.",
			"  config  : Configuration commands",
			"  echo    : Toggle shell echo.",
			"  kernel  : Kernel commands",
			"  midi    : MIDI commands",
			"  status  : Show system status",
		}
	case "clear":
		out = []string{"\x1b[H\x1b[J"}
	case "echo":
		out = []string{fmt.Sprintf("Echo status: %s", strings.Join(fields[1:], " "))}
	case "status":
		b.sequence++
		out = []string{
			fmt.Sprintf("Config area: A (seq=%d)", b.sequence),
			"",
			"=== GuitarAcc Basestation Status ===",
			"Connected devices: 0",
			"MIDI output: Inactive",
		}
	case "config":
		out = b.config(fields[1:])
	case "midi":
		out = b.midi(fields[1:])
	case "kernel":
		if len(fields) >= 2 && fields[1] == "reboot" {
			b.defaultUnlock = false
			return strings.Join([]string{
				"*** Booting Zephyr OS ***",
				"[00:00:00.010,000] <inf> config_storage: Loaded config from area A",
				"[00:00:00.250,000] <inf> ui_shell: UI interface initialized (Zephyr Shell)",
				"",
			}, "\r\n") + shellPrompt, rebootDuration
		}
		out = []string{"kernel: unknown parameter"}
	default:
		out = []string{fields[0] + ": command not found"}
	}

	return strings.Join(out, "\r\n") + "\r\n" + shellPrompt, delay
}

func (b *Basestation) config(args []string) []string {
	if len(args) == 0 {
		return []string{"config - Configuration commands"}
	}

	switch args[0] {
	case "show":
		return b.show()
	case "save":
		return []string{"Configuration saved to flash"}
	case "restore":
		b.factoryReset()
		return []string{"Factory defaults restored"}
	case "midi_ch":
		ch, ok := intArg(args, 1)
		if !ok {
			return []string{"Usage: config midi_ch <1-16>"}
		}
		if ch < 1 || ch > 16 {
			return []string{"Invalid channel (1-16)"}
		}
		b.midiChannel = ch
		return []string{fmt.Sprintf("MIDI channel set to %d (global setting)", ch)}
	case "cc":
		if len(args) != 3 {
			return []string{"Usage: config cc <x|y|z> <0-127>"}
		}
		axis := strings.Index("xyz", strings.ToLower(args[1]))
		if axis < 0 || len(args[1]) != 1 {
			return []string{"Invalid axis. Use x, y, or z"}
		}
		cc, ok := intArg(args, 2)
		if !ok || cc < 0 || cc > 127 {
			return []string{"Invalid CC number (0-127)"}
		}
		b.ccMapping[axis] = cc
		return []string{fmt.Sprintf("%s-axis CC set to %d (patch %d setting)", strings.ToUpper(args[1]), cc, b.defaultPatch)}
	case "scan_interval":
		v, ok := intArg(args, 1)
		if !ok || v < 10 || v > 1000 {
			return []string{"Invalid interval (10-1000 ms)"}
		}
		b.scanInterval = v
		return []string{fmt.Sprintf("BLE scan interval set to %d ms (global setting)", v)}
	case "avg_enable":
		v, ok := intArg(args, 1)
		if !ok || (v != 0 && v != 1) {
			return []string{"Invalid value (0=disable, 1=enable)"}
		}
		b.avgEnable = v == 1
		return []string{fmt.Sprintf("Running average %s (global setting)", enabledWord(b.avgEnable, "enabled", "disabled"))}
	case "avg_depth":
		v, ok := intArg(args, 1)
		if !ok || v < 3 || v > 10 {
			return []string{"Invalid depth (3-10 samples)"}
		}
		b.avgDepth = v
		return []string{fmt.Sprintf("Running average depth set to %d samples (global setting)", v)}
	case "list":
		out := []string{"", "=== Patches (0-126) ===", fmt.Sprintf("Active patch: %d", b.defaultPatch), ""}
		for i := 0; i < 10; i++ {
			marker := " "
			if i == b.defaultPatch {
				marker = "*"
			}
			out = append(out, fmt.Sprintf("%s %3d: Patch %d", marker, i, i))
		}
		return append(out, "  ...  (use 'config patch <num>' to view specific patch)")
	case "select":
		v, ok := intArg(args, 1)
		if !ok || v < 0 || v > 126 {
			return []string{"Invalid patch number (0-126)"}
		}
		b.defaultPatch = v
		return []string{fmt.Sprintf("Active patch changed to %d (Patch %d)", v, v)}
	case "unlock_default":
		b.defaultUnlock = true
		return []string{
			"*** DEFAULT AREA UNLOCKED ***",
			"You can now use 'config write_default'",
			"Lock will auto-reset after write",
		}
	case "write_default":
		out := []string{
			"WARNING: Writing to factory default area!",
			"This should only be done during manufacturing.",
		}
		if !b.defaultUnlock {
			return append(out, "Error writing factory defaults", "Use 'config unlock_default' first")
		}
		b.defaultUnlock = false
		return append(out, "Factory defaults written successfully")
	case "erase_all":
		b.factoryReset()
		return []string{
			"*** WARNING: ERASE ALL CONFIGURATION STORAGE ***",
			"This will erase DEFAULT, AREA_A, and AREA_B",
			"All configuration erased successfully",
			"*** REBOOT REQUIRED ***",
		}
	default:
		return []string{"config: unknown parameter: " + args[0]}
	}
}

func (b *Basestation) show() []string {
	cc := b.ccMapping
	return []string{
		"",
		"=== Configuration ===",
		"",
		"--- GLOBAL SETTINGS ---",
		fmt.Sprintf("Active patch: %d", b.defaultPatch),
		"MIDI:",
		fmt.Sprintf("  Channel: %d", b.midiChannel),
		"BLE:",
		"  Max guitars: 4",
		fmt.Sprintf("  Scan interval: %d ms", b.scanInterval),
		"LED:",
		"  Brightness: 128",
		"Accelerometer:",
		"  Scale: [1000, 1000, 1000, 1000, 1000, 1000]",
		"Filters:",
		fmt.Sprintf("  Running average: %s", enabledWord(b.avgEnable, "Enabled", "Disabled")),
		fmt.Sprintf("  Average depth: %d samples", b.avgDepth),
		"",
		fmt.Sprintf("--- PATCH SETTINGS (Patch %d) ---", b.defaultPatch),
		fmt.Sprintf("Name: Patch %d", b.defaultPatch),
		"MIDI:",
		"  Velocity curve: 0",
		fmt.Sprintf("  CC mapping: [%d, %d, %d, %d, %d, %d]", cc[0], cc[1], cc[2], cc[3], cc[4], cc[5]),
		"LED:",
		"  Mode: 0",
		"Accelerometer:",
		"  Deadzone: 50",
	}
}

func (b *Basestation) midi(args []string) []string {
	if len(args) == 0 {
		return []string{"midi - MIDI commands"}
	}

	switch args[0] {
	case "rx_stats":
		return []string{
			"",
			"=== MIDI RX Statistics ===",
			fmt.Sprintf("Total bytes received: %d", b.rxClock),
			fmt.Sprintf("Clock messages (0xF8): %d", b.rxClock),
			"Start messages (0xFA): 0",
			"Continue messages (0xFB): 0",
			"Stop messages (0xFC): 0",
			"Other messages: 0",
		}
	case "rx_reset":
		b.rxClock = 0
		return []string{"MIDI RX statistics reset"}
	case "program":
		if len(args) == 1 {
			return []string{fmt.Sprintf("Current MIDI Program: %d", b.program)}
		}
		v, ok := intArg(args, 1)
		if !ok || v < 0 || v > 127 {
			return []string{"Program must be 0-127"}
		}
		b.program = v
		return []string{fmt.Sprintf("MIDI Program set to %d", v)}
	case "send_rt":
		if len(args) < 2 {
			return []string{"Usage: midi send_rt <0xF8-0xFF>"}
		}
		v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(args[1]), "0x"), 16, 8)
		if err != nil || v < 0xF8 {
			return []string{"Invalid real-time byte (must be 0xF8-0xFF)"}
		}
		return []string{fmt.Sprintf("Sent real-time message: 0x%02X", v)}
	default:
		return []string{"midi: unknown parameter: " + args[0]}
	}
}

func intArg(args []string, i int) (int, bool) {
	if i >= len(args) {
		return 0, false
	}
	v, err := strconv.Atoi(args[i])
	if err != nil {
		return 0, false
	}
	return v, true
}

func enabledWord(v bool, on, off string) string {
	if v {
		return on
	}
	return off
}
