package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/richmaes/guitaracc/internal/mirror"
	"github.com/richmaes/guitaracc/internal/session"
	"github.com/richmaes/guitaracc/internal/telemetry"
	"github.com/richmaes/guitaracc/internal/terminal"
	"github.com/richmaes/guitaracc/internal/transport"
	"github.com/spf13/cobra"
)

func (a *app) termCommand() *cobra.Command {
	var (
		raw        bool
		mirrorAddr string
	)
	cmd := &cobra.Command{
		Use:   "term",
		Short: "Open an interactive terminal on the basestation shell",
		Long: `Open an interactive terminal on the basestation shell.

In line mode (the default) each line you type is sent when you press Enter.
With --raw every keystroke is sent as typed; press Ctrl-C to leave.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if mirrorAddr == "" {
				mirrorAddr = a.cfg.Mirror.Listen
			}
			return a.runTerminal(cmd.Context(), raw, mirrorAddr)
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "send every keystroke immediately")
	cmd.Flags().StringVar(&mirrorAddr, "mirror", "", "serve a read-only websocket mirror of the output on this address")
	return cmd
}

func (a *app) runTerminal(ctx context.Context, raw bool, mirrorAddr string) error {
	metrics := telemetry.New()
	output := a.out

	if mirrorAddr != "" {
		hub := mirror.NewHub(a.logger)
		srv, err := mirror.Listen(mirrorAddr, mirror.Handler(hub, metrics.Handler()), a.logger)
		if err != nil {
			return fmt.Errorf("start mirror: %w", err)
		}
		fmt.Fprintf(a.errOut, "mirroring output on ws://%s/ws\n", srv.Addr())

		mctx, stop := context.WithCancel(ctx)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Serve(mctx); err != nil {
				a.logger.Warn("mirror stopped", "err", err)
			}
		}()
		defer func() {
			hub.Close()
			stop()
			wg.Wait()
		}()
		output = io.MultiWriter(a.out, hub)
	}

	input, err := a.openInput()
	if err != nil {
		return fmt.Errorf("open keyboard input: %w", err)
	}
	if c, ok := input.(io.Closer); ok {
		defer c.Close()
	}

	mode := terminal.LineMode
	if raw {
		mode = terminal.RawMode
		fmt.Fprintln(a.errOut, "raw mode, press Ctrl-C to exit")
	}

	t := terminal.New(a.terminalConnector(), terminal.Config{
		Mode:       mode,
		LineEnding: a.cfg.LineEnding,
		Poll:       a.cfg.TerminalPoll,
		Grace:      a.cfg.GracePeriod,
		Input:      input,
		Output:     output,
		Raw:        a.rawMode,
		Logger:     a.logger,
		Observer:   metrics,
		OnState: func(s session.State) {
			a.logger.Debug("terminal state", "state", s)
		},
	})
	if err := t.Run(ctx); err != nil {
		if transport.IsDisconnect(err) {
			return fmt.Errorf("device disconnected: %w", err)
		}
		return fmt.Errorf("terminal: %w", err)
	}
	return nil
}

func (a *app) terminalConnector() terminal.Connector {
	return func(ctx context.Context) (terminal.Link, error) {
		path, err := a.resolvePort()
		if err != nil {
			return nil, err
		}
		s, err := session.Open(ctx, a.opener, path, a.cfg.Params(true))
		if err != nil {
			return nil, err
		}
		a.runtime.ForSession(s.ID(), path).Info("terminal connected", "baud", a.cfg.Baud)
		return s, nil
	}
}
