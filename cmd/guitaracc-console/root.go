package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/richmaes/guitaracc/internal/config"
	"github.com/richmaes/guitaracc/internal/flow"
	"github.com/richmaes/guitaracc/internal/logging"
	"github.com/richmaes/guitaracc/internal/ports"
	"github.com/richmaes/guitaracc/internal/terminal"
	"github.com/richmaes/guitaracc/internal/transport"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const simulatedPort = "simulator"

type globalOptions struct {
	port      string
	baud      int
	config    string
	simulate  bool
	logLevel  string
	flowsFile string
}

// app carries the process streams and everything resolved before a
// subcommand runs. Tests swap the hardware-facing fields.
type app struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	opener    transport.Opener
	lister    ports.Lister
	selector  ports.Selector
	openInput func() (terminal.Input, error)
	rawMode   terminal.RawModeFunc

	opts    globalOptions
	cfg     *config.Config
	runtime *logging.Runtime
	logger  *log.Logger
}

func newApp(stdin *os.File, stdout, stderr io.Writer) *app {
	a := &app{
		in:     stdin,
		out:    stdout,
		errOut: stderr,
		opener: transport.Open,
		openInput: func() (terminal.Input, error) {
			return terminal.StdinInput(stdin)
		},
		rawMode: terminal.RawStdin(int(stdin.Fd())),
	}
	if term.IsTerminal(int(stdin.Fd())) {
		a.selector = ports.MenuSelector()
	}
	return a
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "guitaracc-console",
		Short:         "Diagnostic console for the guitar accessory basestation",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.opts.port, "port", "p", "", "serial port to open instead of auto-detecting")
	flags.IntVarP(&a.opts.baud, "baud", "b", 0, "baud rate")
	flags.StringVar(&a.opts.config, "config", "", "additional config file")
	flags.BoolVar(&a.opts.simulate, "simulate", false, "talk to the built-in simulated basestation")
	flags.StringVar(&a.opts.logLevel, "log-level", "", "debug, info, warn or error")
	flags.StringVar(&a.opts.flowsFile, "flows-file", "", "YAML or JSON file with extra flows")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		if err := a.setup(cmd); err != nil {
			return err
		}
		a.logger.With("command", cmd.Name()).Debug("command invocation")
		return nil
	}

	root.AddCommand(
		a.listCommand(),
		a.flowsCommand(),
		a.runCommand(),
		a.termCommand(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(cmd.Context(), a.opts.config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = a.opts.port
	}
	if flags.Changed("baud") {
		cfg.Baud = a.opts.baud
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.opts.logLevel
	}
	if flags.Changed("flows-file") {
		cfg.FlowsFile = a.opts.flowsFile
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	rt, err := logging.New(a.errOut, cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}

	if a.opts.simulate {
		a.opener = func(string, transport.Params) (transport.Port, error) {
			return transport.NewBasestation().Port(), nil
		}
		cfg.Port = simulatedPort
	}

	a.cfg = cfg
	a.runtime = rt
	a.logger = rt.Logger
	return nil
}

func (a *app) close() {
	if a.runtime == nil {
		return
	}
	if err := a.runtime.Close(); err != nil {
		fmt.Fprintf(a.errOut, "failed to close logger: %v\n", err)
	}
}

// resolvePort picks the endpoint without opening it.
func (a *app) resolvePort() (string, error) {
	if a.cfg.Port != "" {
		return a.cfg.Port, nil
	}
	finder, err := ports.NewFinder(a.cfg.PortPatterns, a.lister)
	if err != nil {
		return "", err
	}
	candidates, err := finder.List()
	if err != nil {
		return "", err
	}
	return ports.Choose(candidates, "", a.selector)
}

func (a *app) catalog() (flow.Catalog, error) {
	catalog := flow.Builtin()
	if a.cfg.FlowsFile == "" {
		return catalog, nil
	}
	extra, err := flow.LoadFile(a.cfg.FlowsFile)
	if err != nil {
		return nil, err
	}
	return catalog.Merge(extra), nil
}
