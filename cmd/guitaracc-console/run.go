package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/richmaes/guitaracc/internal/engine"
	"github.com/richmaes/guitaracc/internal/flow"
	"github.com/richmaes/guitaracc/internal/report"
	"github.com/richmaes/guitaracc/internal/session"
	"github.com/richmaes/guitaracc/internal/telemetry"
	"github.com/spf13/cobra"
)

var errUnmatched = errors.New("one or more expectations were not met")

func (a *app) runCommand() *cobra.Command {
	var (
		strict      bool
		publish     bool
		metricsFile string
	)
	cmd := &cobra.Command{
		Use:   "run <flow>",
		Short: "Run a scripted flow against the basestation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runFlow(cmd.Context(), args[0], runOptions{
				strict:      strict,
				publish:     publish,
				metricsFile: metricsFile,
			})
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when an expectation is not met")
	cmd.Flags().BoolVar(&publish, "mqtt", false, "publish the outcome to the configured MQTT broker")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write flow metrics to this file in Prometheus text format")
	return cmd
}

type runOptions struct {
	strict      bool
	publish     bool
	metricsFile string
}

func (a *app) runFlow(ctx context.Context, name string, opts runOptions) error {
	catalog, err := a.catalog()
	if err != nil {
		return err
	}
	f, err := catalog.Lookup(name)
	if err != nil {
		return err
	}

	metrics := telemetry.New()
	runner := flow.NewRunner(a.flowConnector(),
		flow.WithConfirmInput(a.in, a.out),
		flow.WithTranscript(a.out),
		flow.WithLogger(a.logger),
		flow.WithDefaultWait(a.cfg.DefaultWait),
		flow.WithSettleDelay(a.cfg.SettleDelay),
		flow.WithObserver(metrics),
	)
	outcome := runner.Run(ctx, f)
	flow.NewPrinter(a.out).Summary(outcome)
	a.logger.Info("flow finished", "flow", f.Name, "result", telemetry.Result(outcome), "steps", len(outcome.Steps))

	if opts.metricsFile != "" {
		if err := metrics.WriteTextfile(opts.metricsFile); err != nil {
			a.logger.Error("metrics not written", "path", opts.metricsFile, "err", err)
		}
	}
	if opts.publish && !outcome.Aborted() {
		a.publish(ctx, outcome)
	}

	switch {
	case outcome.Aborted():
		return nil
	case !outcome.Completed:
		return fmt.Errorf("flow %s: %w", f.Name, outcome.Err)
	case opts.strict && !outcome.Passed():
		return fmt.Errorf("flow %s: %w", f.Name, errUnmatched)
	}
	return nil
}

// flowConnector resolves and opens the port only once the runner asks, so a
// refused confirmation never touches the device.
func (a *app) flowConnector() flow.Connector {
	return func(ctx context.Context) (flow.Executor, func() error, error) {
		path, err := a.resolvePort()
		if err != nil {
			return nil, nil, err
		}
		s, err := session.Open(ctx, a.opener, path, a.cfg.Params(false))
		if err != nil {
			return nil, nil, err
		}
		a.runtime.ForSession(s.ID(), path).Info("session opened", "baud", a.cfg.Baud)

		opts := []engine.Option{engine.WithLineEnding(a.cfg.LineEnding)}
		if a.cfg.QuiescenceGap > 0 {
			opts = append(opts, engine.WithQuiescence(a.cfg.QuiescenceGap, a.cfg.QuiescenceMax))
		}
		return engine.New(s, opts...), s.Close, nil
	}
}

func (a *app) publish(ctx context.Context, outcome flow.Outcome) {
	p, err := report.NewPublisher(report.Options{
		Broker:      a.cfg.MQTT.Broker,
		ClientID:    a.cfg.MQTT.ClientID,
		Username:    a.cfg.MQTT.Username,
		Password:    a.cfg.MQTT.Password,
		TopicPrefix: a.cfg.MQTT.TopicPrefix,
		Logger:      a.logger,
	})
	if err != nil {
		a.logger.Error("outcome not published", "err", err)
		return
	}
	defer p.Close()

	if err := p.Publish(ctx, outcome); err != nil {
		a.logger.Error("outcome not published", "err", err)
	}
}
