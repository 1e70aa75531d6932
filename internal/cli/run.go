package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/loadctl/internal/config"
	"github.com/wesleyorama2/loadctl/internal/http"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/archive"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/engine"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/errs"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/monitoring"
	"github.com/wesleyorama2/loadctl/internal/output"
)

type runOptions struct {
	*globalOptions

	dryRun      bool
	jsonOutput  bool
	quiet       bool
	outputPath  string
	archiveURL  string
	metricsAddr string
	vars        map[string]string
}

func newRunCmd(global *globalOptions) *cobra.Command {
	opts := &runOptions{globalOptions: global}

	cmd := &cobra.Command{
		Use:   "run <spec-file>",
		Short: "Run a load test spec",
		Long: `Validate a load test spec, select an execution strategy and run it.

The exit code is 0 when the run passed, 1 on an invalid spec or a failed run
and 2 when the run finished but assertions failed.

Examples:
  loadctl run checkout.yaml
  loadctl run --var baseUrl=https://staging.example.com checkout.yaml
  loadctl run --archive sqlite://runs.db --metrics-addr :9090 nightly.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Print the selected strategy and schedule without sending requests")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the report as JSON")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Disable live progress output, show only the final summary")
	cmd.Flags().StringVarP(&opts.outputPath, "output", "o", "", "Also write the JSON report to this file")
	cmd.Flags().StringVar(&opts.archiveURL, "archive", "", "Archive raw samples to sqlite://path or redis://host:port/db (overrides config)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running (overrides config)")
	cmd.Flags().StringToStringVar(&opts.vars, "var", nil, "Set a spec variable (key=value, repeatable)")

	return cmd
}

func (o *runOptions) run(cmd *cobra.Command, path string) error {
	env, err := o.setup(cmd)
	if err != nil {
		return err
	}
	defer env.logger.Sync() //nolint:errcheck

	ts, err := loadSpec(path, o.vars)
	if err != nil {
		return err
	}

	if o.archiveURL != "" {
		env.cfg.Engine.ArchiveURL = o.archiveURL
	}
	if o.metricsAddr != "" {
		env.cfg.Engine.MetricsAddr = o.metricsAddr
	}

	client := http.NewClient(clientOptions(env.cfg.HTTP)...).Bind(ts.Variables)
	options := []engine.Option{
		engine.WithConfig(env.cfg),
		engine.WithLogger(env.logger),
	}

	if o.dryRun {
		plan, err := engine.New(client, options...).Plan(ts)
		if err != nil {
			return validationExit(err)
		}
		if o.jsonOutput {
			return output.WriteJSON(cmd.OutOrStdout(), plan)
		}
		env.console.PrintPlan(plan)
		return nil
	}

	if env.cfg.Engine.ArchiveURL != "" {
		a, err := archive.Open(env.cfg.Engine.ArchiveURL)
		if err != nil {
			return err
		}
		defer a.Close()
		options = append(options, engine.WithArchive(a))
	}

	if env.cfg.Engine.MetricsAddr != "" {
		pr := monitoring.NewPrometheusReporter(env.logger)
		if err := pr.StartServer(env.cfg.Engine.MetricsAddr); err != nil {
			return err
		}
		defer pr.Shutdown(context.Background()) //nolint:errcheck
		options = append(options,
			engine.WithReporter(pr),
			engine.WithSampleObserver(pr.ObserveSample),
		)
	}

	if !o.quiet && !o.jsonOutput {
		options = append(options, engine.WithProgress(env.console.Progress))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng := engine.New(client, options...)
	rep, runErr := eng.Run(ctx, ts)
	if rep == nil {
		return validationExit(runErr)
	}

	if o.jsonOutput {
		if err := output.WriteJSON(cmd.OutOrStdout(), rep); err != nil {
			return err
		}
	} else {
		env.console.PrintReport(rep)
	}

	if o.outputPath != "" {
		if err := writeReportFile(o.outputPath, rep); err != nil {
			return err
		}
		env.logger.Info("report written", zap.String("path", o.outputPath))
	}

	if code := rep.ExitCode(); code != engine.ExitPassed {
		return &ExitError{Code: code}
	}
	return nil
}

func clientOptions(c config.HTTP) []http.ClientOption {
	options := []http.ClientOption{
		http.WithTimeout(c.Timeout),
		http.WithHeaders(c.Headers),
	}
	if c.Insecure {
		options = append(options, http.WithInsecureSkipVerify())
	}
	return options
}

// validationExit maps a pre-run failure to exit code 1, keeping the
// validation message intact.
func validationExit(err error) error {
	if err == nil {
		return nil
	}
	if errs.IsValidation(err) {
		return &ExitError{Code: engine.ExitError, Err: fmt.Errorf("invalid spec: %w", err)}
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	return &ExitError{Code: engine.ExitError, Err: err}
}

func writeReportFile(path string, rep *engine.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating report file: %w", err)
	}
	defer f.Close()

	if err := output.WriteJSON(f, rep); err != nil {
		return fmt.Errorf("error writing report file: %w", err)
	}
	return nil
}
