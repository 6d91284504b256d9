package flow

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/richmaes/guitaracc/internal/engine"
)

// DefaultWait is the response window for steps that do not set one.
const DefaultWait = 500 * time.Millisecond

// Executor runs a single command. *engine.Engine implements it.
type Executor interface {
	Execute(ctx context.Context, command string, window time.Duration) (engine.Response, error)
}

// Connector opens the device for one flow run and returns the executor plus
// the function that releases it.
type Connector func(ctx context.Context) (Executor, func() error, error)

// Confirmer asks the operator for a gate token and returns what was typed.
type Confirmer func(ctx context.Context, f Flow) (string, error)

// Observer is told about every finished step and every outcome.
type Observer interface {
	ObserveStep(flow string, result StepResult)
	ObserveOutcome(outcome Outcome)
}

// StepResult is the record of one executed step.
type StepResult struct {
	Step     Step
	Response engine.Response
	// Matched is true when the step has no expectation or the response
	// satisfied it.
	Matched bool
}

// Outcome is the result of a flow run. Steps holds the results gathered
// before any failure, in order.
type Outcome struct {
	Flow      string
	Completed bool
	Steps     []StepResult
	Err       error
}

// Responses returns the per-step responses in order.
func (o Outcome) Responses() []engine.Response {
	out := make([]engine.Response, 0, len(o.Steps))
	for _, s := range o.Steps {
		out = append(out, s.Response)
	}
	return out
}

// Passed reports whether the flow completed and every expectation matched.
func (o Outcome) Passed() bool {
	if !o.Completed {
		return false
	}
	for _, s := range o.Steps {
		if !s.Matched {
			return false
		}
	}
	return true
}

// Aborted reports whether the run stopped at the confirmation gate.
func (o Outcome) Aborted() bool {
	var mismatch *ConfirmationMismatchError
	return errors.As(o.Err, &mismatch)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithConfirmer sets how gate tokens are collected.
func WithConfirmer(c Confirmer) RunnerOption {
	return func(r *Runner) {
		r.confirm = c
	}
}

// WithConfirmInput reads gate tokens as lines from in, prompting on out.
func WithConfirmInput(in io.Reader, out io.Writer) RunnerOption {
	return WithConfirmer(LineConfirmer(in, out))
}

// WithTranscript prints every step's response to w as soon as it arrives.
func WithTranscript(w io.Writer) RunnerOption {
	return func(r *Runner) {
		r.transcript = NewPrinter(w)
	}
}

// WithLogger sets the logger for step and outcome events.
func WithLogger(l *log.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = l
	}
}

// WithDefaultWait sets the window used by steps without their own.
func WithDefaultWait(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.defaultWait = d
		}
	}
}

// WithSettleDelay waits d after connecting before the first command.
func WithSettleDelay(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.settle = d
	}
}

// WithObserver reports every step and outcome to o.
func WithObserver(o Observer) RunnerOption {
	return func(r *Runner) {
		r.observer = o
	}
}

// Runner executes flows one step at a time.
type Runner struct {
	connect     Connector
	confirm     Confirmer
	transcript  *Printer
	logger      *log.Logger
	observer    Observer
	defaultWait time.Duration
	settle      time.Duration
}

// NewRunner returns a Runner that opens the device through connect.
func NewRunner(connect Connector, opts ...RunnerOption) *Runner {
	r := &Runner{
		connect:     connect,
		logger:      log.New(io.Discard),
		defaultWait: DefaultWait,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes f. A gated flow asks for its token first and, on mismatch,
// returns without connecting. A failing step stops the run; results of the
// steps before it are kept. Empty or unexpected responses never stop a run.
func (r *Runner) Run(ctx context.Context, f Flow) (out Outcome) {
	out.Flow = f.Name
	logger := r.logger.With("flow", f.Name)

	defer func() {
		if r.observer != nil {
			r.observer.ObserveOutcome(out)
		}
	}()

	if err := f.Validate(); err != nil {
		out.Err = err
		return out
	}

	if f.Gate != nil {
		if r.confirm == nil {
			out.Err = fmt.Errorf("flow %s requires confirmation but no input is available", f.Name)
			return out
		}
		typed, err := r.confirm(ctx, f)
		if err != nil {
			out.Err = fmt.Errorf("read confirmation: %w", err)
			return out
		}
		if typed != f.Gate.Token {
			logger.Warn("confirmation mismatch, flow aborted")
			out.Err = &ConfirmationMismatchError{Flow: f.Name}
			return out
		}
	}

	if r.connect == nil {
		out.Err = errors.New("no device connector configured")
		return out
	}
	exec, release, err := r.connect(ctx)
	if err != nil {
		out.Err = err
		return out
	}
	if release != nil {
		defer func() {
			if err := release(); err != nil {
				logger.Warn("close device", "err", err)
			}
		}()
	}

	if r.settle > 0 {
		select {
		case <-ctx.Done():
			out.Err = ctx.Err()
			return out
		case <-time.After(r.settle):
		}
	}

	logger.Info("flow started", "steps", len(f.Steps))
	for i, step := range f.Steps {
		wait := step.Wait
		if wait <= 0 {
			wait = r.defaultWait
		}

		resp, err := exec.Execute(ctx, step.Command, wait)
		if err != nil {
			logger.Error("step failed", "step", i+1, "command", step.Command, "err", err)
			out.Err = err
			return out
		}

		result := StepResult{Step: step, Response: resp, Matched: true}
		if step.Expect != "" {
			p, err := ParsePattern(step.Expect)
			if err == nil {
				result.Matched = p.Match(resp.Text())
			}
			if !result.Matched {
				logger.Warn("expectation not met", "step", i+1, "expect", step.Expect)
			}
		}
		logger.Debug("step done", "step", i+1, "command", step.Command, "bytes", len(resp.Data), "elapsed", resp.Elapsed)

		out.Steps = append(out.Steps, result)
		if r.observer != nil {
			r.observer.ObserveStep(f.Name, result)
		}
		if r.transcript != nil {
			r.transcript.Step(i+1, len(f.Steps), result)
		}
	}

	out.Completed = true
	logger.Info("flow completed", "passed", out.Passed())
	return out
}

// LineConfirmer prints the gate prompt to out and reads one line from in.
// Only the line terminator is stripped; the comparison is exact.
func LineConfirmer(in io.Reader, out io.Writer) Confirmer {
	reader := bufio.NewReader(in)
	return func(ctx context.Context, f Flow) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		prompt := f.Gate.Prompt
		if prompt == "" {
			prompt = fmt.Sprintf("Type %s to run %s", f.Gate.Token, f.Name)
		}
		fmt.Fprintf(out, "%s: ", prompt)

		line, err := reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			if errors.Is(err, io.EOF) {
				return "", nil
			}
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
}
