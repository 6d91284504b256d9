// Package flow runs scripted command sequences against the basestation.
//
// A Flow is plain data: an ordered list of steps, each a command, a
// description and the window to wait for its reply, optionally guarded by a
// confirmation Gate. The Runner is the only behaviour.
package flow

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Step is one command of a flow.
type Step struct {
	Command     string
	Description string
	// Wait is the response window. Zero means the runner's default.
	Wait time.Duration
	// Expect is an optional pattern the response should satisfy.
	Expect string
}

// Gate demands that the operator type Token exactly before a flow runs.
type Gate struct {
	Token  string
	Prompt string
}

// Flow is a named script.
type Flow struct {
	Name        string
	Description string
	Gate        *Gate
	Steps       []Step
}

// Destructive reports whether the flow is behind a confirmation gate.
func (f Flow) Destructive() bool {
	return f.Gate != nil
}

var flowName = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Validate checks that the flow can be run.
func (f Flow) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("flow name cannot be empty")
	}
	if !flowName.MatchString(f.Name) {
		return fmt.Errorf("flow %q: name contains invalid characters (allowed: a-z, 0-9, -, _)", f.Name)
	}
	if len(f.Steps) == 0 {
		return fmt.Errorf("flow %q: no steps", f.Name)
	}
	if f.Gate != nil && f.Gate.Token == "" {
		return fmt.Errorf("flow %q: confirmation gate has no token", f.Name)
	}

	for i, step := range f.Steps {
		if strings.TrimSpace(step.Command) == "" {
			return fmt.Errorf("flow %q step %d: command cannot be empty", f.Name, i+1)
		}
		if strings.ContainsAny(step.Command, "\r\n") {
			return fmt.Errorf("flow %q step %d: command must be a single line", f.Name, i+1)
		}
		if step.Wait < 0 {
			return fmt.Errorf("flow %q step %d: negative wait", f.Name, i+1)
		}
		if step.Expect != "" {
			if _, err := ParsePattern(step.Expect); err != nil {
				return fmt.Errorf("flow %q step %d: %w", f.Name, i+1, err)
			}
		}
	}

	return nil
}

// ConfirmationMismatchError means the operator did not type the gate token.
// Nothing was sent to the device.
type ConfirmationMismatchError struct {
	Flow string
}

func (e *ConfirmationMismatchError) Error() string {
	return fmt.Sprintf("flow %s aborted: confirmation did not match", e.Flow)
}
