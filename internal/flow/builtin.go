package flow

import (
	"fmt"
	"sort"
	"time"
)

// Catalog maps flow names to flows.
type Catalog map[string]Flow

// Names returns the flow names in sorted order.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the named flow.
func (c Catalog) Lookup(name string) (Flow, error) {
	f, ok := c[name]
	if !ok {
		return Flow{}, fmt.Errorf("unknown flow %q", name)
	}
	return f, nil
}

// Merge returns a catalog holding c's flows overridden by other's.
func (c Catalog) Merge(other Catalog) Catalog {
	out := make(Catalog, len(c)+len(other))
	for name, f := range c {
		out[name] = f
	}
	for name, f := range other {
		out[name] = f
	}
	return out
}

func steps(wait time.Duration, commands ...string) []Step {
	out := make([]Step, 0, len(commands))
	for _, cmd := range commands {
		out = append(out, Step{Command: cmd, Wait: wait})
	}
	return out
}

// Builtin returns the flows shipped with the console.
func Builtin() Catalog {
	const (
		quick  = 100 * time.Millisecond
		short  = 300 * time.Millisecond
		normal = 500 * time.Millisecond
	)

	rt := []Step{
		{Command: "midi send_rt 0xFA", Description: "MIDI Start", Wait: quick},
		{Command: "midi send_rt 0xF8", Description: "MIDI Clock", Wait: quick},
		{Command: "midi send_rt 0xFC", Description: "MIDI Stop", Wait: quick},
	}
	for i := 0; i < 10; i++ {
		rt = append(rt, Step{
			Command:     "midi send_rt 0xF8",
			Description: fmt.Sprintf("clock pulse %d", i+1),
			Wait:        quick,
		})
	}
	rt = append(rt, Step{
		Command:     "midi send_rt 0x90",
		Description: "invalid real-time byte is rejected",
		Wait:        quick,
		Expect:      "'Invalid real-time byte'",
	})

	flows := []Flow{
		{
			Name:        "status",
			Description: "Query system status",
			Steps: []Step{
				{Command: "status", Description: "system status", Wait: normal, Expect: "'Status'"},
			},
		},
		{
			Name:        "shell",
			Description: "Exercise basic shell commands",
			Steps: []Step{
				{Command: "help", Description: "list commands", Wait: normal, Expect: "'Available commands'"},
				{Command: "status", Description: "system status", Wait: normal},
				{Command: "echo off", Description: "disable echo", Wait: normal},
				{Command: "echo on", Description: "enable echo", Wait: normal},
				{Command: "clear", Description: "clear screen", Wait: normal},
			},
		},
		{
			Name:        "config-show",
			Description: "Print the active configuration",
			Steps: []Step{
				{Command: "config show", Description: "current configuration", Wait: short, Expect: "'=== Configuration ==='"},
			},
		},
		{
			Name:        "config-roundtrip",
			Description: "Change settings and read them back",
			Steps: []Step{
				{Command: "config show", Description: "initial configuration", Wait: 700 * time.Millisecond},
				{Command: "config midi_ch 3", Description: "set MIDI channel to 3", Wait: 700 * time.Millisecond, Expect: "'MIDI channel set to 3'"},
				{Command: "config cc x 20", Description: "map X axis to CC 20", Wait: 700 * time.Millisecond, Expect: "'X-axis CC set to 20'"},
				{Command: "config show", Description: "updated configuration", Wait: 700 * time.Millisecond, Expect: `/Channel: 3/`},
			},
		},
		{
			Name:        "midi-channel",
			Description: "Set the MIDI channel to 2",
			Steps: []Step{
				{Command: "config midi_ch 2", Description: "set MIDI channel", Wait: 1500 * time.Millisecond, Expect: "'MIDI channel set'"},
			},
		},
		{
			Name:        "persistence",
			Description: "Change the MIDI channel and confirm the device kept it",
			Steps: []Step{
				{Command: "config show", Description: "before", Wait: short},
				{Command: "config midi_ch 5", Description: "set MIDI channel to 5", Wait: short, Expect: "'MIDI channel set to 5'"},
				{Command: "config show", Description: "after", Wait: short, Expect: `/Channel: 5/`},
			},
		},
		{
			Name:        "midi-rt",
			Description: "Send MIDI real-time messages",
			Steps:       rt,
		},
		{
			Name:        "midi-rx",
			Description: "Show MIDI receive statistics",
			Steps: []Step{
				{Command: "midi rx_stats", Description: "receive statistics", Wait: 200 * time.Millisecond, Expect: "'MIDI RX Statistics'"},
			},
		},
		{
			Name:        "boot-log",
			Description: "Reboot the device and capture its boot log",
			Steps: []Step{
				{Command: "kernel reboot cold", Description: "cold reboot", Wait: 3 * time.Second},
			},
		},
		{
			Name:        "patches",
			Description: "List stored patches",
			Steps:       steps(normal, "config list"),
		},
		{
			Name:        "factory-provision",
			Description: "Write the current configuration to the factory default area",
			Gate: &Gate{
				Token:  "WRITE",
				Prompt: "This overwrites the factory defaults. Type WRITE to continue",
			},
			Steps: []Step{
				{Command: "config unlock_default", Description: "unlock default area", Wait: normal, Expect: "'UNLOCKED'"},
				{Command: "config write_default", Description: "write factory defaults", Wait: time.Second, Expect: "'written successfully'"},
			},
		},
		{
			Name:        "erase-all",
			Description: "Erase every configuration area",
			Gate: &Gate{
				Token:  "ERASE",
				Prompt: "This erases ALL configuration storage. Type ERASE to continue",
			},
			Steps: []Step{
				{Command: "config erase_all", Description: "erase all areas", Wait: time.Second, Expect: "'erased successfully'"},
			},
		},
	}

	c := make(Catalog, len(flows))
	for _, f := range flows {
		c[f.Name] = f
	}
	return c
}
