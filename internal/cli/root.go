package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/loadctl/internal/config"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/spec"
	"github.com/wesleyorama2/loadctl/internal/output"
)

var version = "0.1.0"

// ExitError carries a process exit code out of a command. Commands return it
// for runs that finished but did not pass.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configFile string
	logLevel   string
	logFormat  string
	noColor    bool
}

// NewRootCmd builds the loadctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:     "loadctl",
		Short:   "Declarative load test orchestration",
		Version: version,
		Long: `loadctl runs declarative load tests: single request sets, multi-step
workflows and batches of dependent tests, shaped by constant, ramp-up,
spike, step or random-burst traffic patterns.

Run a test:
  loadctl run checkout.yaml

Preview the strategy and schedule without sending traffic:
  loadctl run --dry-run checkout.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			// If no subcommand is provided, print help
			cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "Engine configuration file (YAML)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format: console, json")
	flags.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(newRunCmd(opts))
	rootCmd.AddCommand(newSelectCmd(opts))
	rootCmd.AddCommand(newScheduleCmd(opts))
	rootCmd.AddCommand(newValidateCmd(opts))

	return rootCmd
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	return run(NewRootCmd(), os.Args[1:])
}

func run(cmd *cobra.Command, args []string) int {
	cmd.SetArgs(args)
	err := cmd.Execute()
	if err == nil {
		return 0
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "Error:", exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
	return 1
}

// environment is what every command needs before it can do its work.
type environment struct {
	cfg     *config.Config
	logger  *zap.Logger
	console *output.Console
}

// setup loads configuration, applies flag overrides and builds the logger and
// console for cmd.
func (o *globalOptions) setup(cmd *cobra.Command) (*environment, error) {
	cfg := config.Default()
	if o.configFile != "" {
		loaded, err := config.Load(o.configFile)
		if err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
		cfg = loaded
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	return &environment{
		cfg:    cfg,
		logger: logger,
		console: output.NewConsole(output.ConsoleConfig{
			Writer:  cmd.OutOrStdout(),
			NoColor: o.noColor,
		}),
	}, nil
}

// loadSpec reads the spec named by the single positional argument and layers
// --var overrides over its variables.
func loadSpec(path string, vars map[string]string) (*spec.LoadTestSpec, error) {
	ts, err := spec.Load(path)
	if err != nil {
		return nil, err
	}
	if len(vars) > 0 {
		if ts.Variables == nil {
			ts.Variables = make(map[string]string, len(vars))
		}
		for k, v := range vars {
			ts.Variables[k] = v
		}
	}
	return ts, nil
}
