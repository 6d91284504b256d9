package flow

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinFlowsAreValid(t *testing.T) {
	c := Builtin()
	for _, name := range c.Names() {
		assert.NoError(t, c[name].Validate(), name)
	}

	assert.Equal(t, "WRITE", c["factory-provision"].Gate.Token)
	assert.Equal(t, "ERASE", c["erase-all"].Gate.Token)
	assert.False(t, c["status"].Destructive())
	assert.Len(t, c["midi-rt"].Steps, 14)
}

func TestCatalogNamesAreSorted(t *testing.T) {
	c := Catalog{"b": {}, "a": {}, "c": {}}
	assert.Equal(t, []string{"a", "b", "c"}, c.Names())
	assert.Equal(t, c.Names(), c.Names())

	_, err := c.Lookup("zzz")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		flow    Flow
		wantErr bool
	}{
		{name: "ok", flow: Flow{Name: "ok", Steps: steps(0, "status")}},
		{name: "no name", flow: Flow{Steps: steps(0, "status")}, wantErr: true},
		{name: "bad name", flow: Flow{Name: "Bad Name", Steps: steps(0, "status")}, wantErr: true},
		{name: "no steps", flow: Flow{Name: "empty"}, wantErr: true},
		{name: "blank command", flow: Flow{Name: "blank", Steps: steps(0, "  ")}, wantErr: true},
		{name: "multi line", flow: Flow{Name: "multi", Steps: steps(0, "status\r\nhelp")}, wantErr: true},
		{name: "negative wait", flow: Flow{Name: "neg", Steps: steps(-time.Second, "status")}, wantErr: true},
		{name: "gate without token", flow: Flow{Name: "gate", Gate: &Gate{}, Steps: steps(0, "status")}, wantErr: true},
		{name: "bad expect", flow: Flow{Name: "expect", Steps: []Step{{Command: "status", Expect: "status"}}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.flow.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPatternMatch(t *testing.T) {
	response := "MIDI channel set to 3 (global setting)\r\n  Channel: 3\r\nuart:~$ "

	tests := []struct {
		pattern string
		want    bool
	}{
		{pattern: "'midi CHANNEL set'", want: true},
		{pattern: "'channel: 4'", want: false},
		{pattern: `"Channel: 3"`, want: true},
		{pattern: `"channel: 3"`, want: false},
		{pattern: `"set to 3"`, want: false},
		{pattern: `/set to \d+/`, want: true},
		{pattern: `/^Channel/`, want: false},
		{pattern: `/\$ $/`, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			p, err := ParsePattern(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Match(response))
		})
	}
}

func TestParsePatternErrors(t *testing.T) {
	for _, bad := range []string{"", "x", "plain", "'unterminated", "/[/"} {
		_, err := ParsePattern(bad)
		assert.Error(t, err, bad)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flows.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
flows:
  - name: clock-burst
    description: Burst of MIDI clock
    steps:
      - command: midi send_rt 0xF8
        wait: 100ms
        repeat: 3
      - command: midi rx_stats
        expect: "'Statistics'"
  - name: wipe
    confirm:
      token: WIPE
    steps:
      - command: config erase_all
        wait: 1s
`), 0o644))

	c, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, []string{"clock-burst", "wipe"}, c.Names())

	burst := c["clock-burst"]
	require.Len(t, burst.Steps, 4)
	assert.Equal(t, 100*time.Millisecond, burst.Steps[2].Wait)
	assert.Zero(t, burst.Steps[3].Wait)
	assert.Equal(t, "'Statistics'", burst.Steps[3].Expect)

	assert.Equal(t, "WIPE", c["wipe"].Gate.Token)
	assert.Equal(t, time.Second, c["wipe"].Steps[0].Wait)

	merged := Builtin().Merge(c)
	assert.Contains(t, merged, "status")
	assert.Contains(t, merged, "wipe")
}

func TestLoadJSONFileOverridesBuiltin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flows.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"flows":[{"name":"status","steps":[{"command":"status","wait":"2s"}]}]}`), 0o644))

	c, err := LoadFile(path)
	require.NoError(t, err)

	merged := Builtin().Merge(c)
	assert.Equal(t, 2*time.Second, merged["status"].Steps[0].Wait)
}

func TestLoadFileErrors(t *testing.T) {
	c, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Empty(t, c)

	_, err = Parse([]byte("flows:\n  - name: x\n    steps:\n      - command: status\n        wait: soon\n"), false)
	assert.ErrorContains(t, err, "invalid wait")

	_, err = Parse([]byte("flows:\n  - name: x\n    steps: []\n"), false)
	assert.Error(t, err)

	_, err = Parse([]byte(`{"flows":[{"name":"a","steps":[{"command":"x"}]},{"name":"a","steps":[{"command":"y"}]}]}`), true)
	assert.ErrorContains(t, err, "defined twice")
}
