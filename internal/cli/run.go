package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tessera-io/tessera/internal/canon"
	"github.com/tessera-io/tessera/internal/harness"
	"github.com/tessera-io/tessera/internal/journal"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Journal string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scenario against a fresh engine",
		Long: `Run a scenario against a fresh engine with in-memory ledgers, a
deterministic handle minter, and a manual timer. Prints the step trace.

Example:
  tessera run ./scenarios/atomic-swap.yaml
  tessera run --journal ./audit.db ./scenarios/atomic-swap.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite audit journal (optional)")

	return cmd
}

func runScenario(opts *RunOptions, file string, cmd *cobra.Command) error {
	logLevel := slog.LevelWarn
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	runnerOpts := []harness.Option{harness.WithLogger(logger)}
	if opts.Journal != "" {
		j, err := journal.Open(opts.Journal)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer func() {
			if closeErr := j.Close(); closeErr != nil {
				logger.Error("error closing journal", "error", closeErr)
			}
		}()
		runnerOpts = append(runnerOpts, harness.WithJournal(j))
	}

	runner, err := harness.NewRunner(scenario, runnerOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up engine", err)
	}

	trace, err := runner.Run(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name), err)
	}

	return printTrace(opts.RootOptions, cmd, scenario.Name, trace)
}

func printTrace(opts *RootOptions, cmd *cobra.Command, name string, trace []map[string]any) error {
	out := cmd.OutOrStdout()

	if opts.Format == "json" {
		events := make([]any, len(trace))
		for i, ev := range trace {
			events[i] = ev
		}
		body, err := canon.Marshal(map[string]any{
			"scenario": name,
			"trace":    events,
		})
		if err != nil {
			return WrapExitError(ExitFailure, "failed to serialize trace", err)
		}
		fmt.Fprintln(out, string(body))
		return nil
	}

	fmt.Fprintf(out, "scenario %s: %d step(s)\n", name, len(trace))
	for _, ev := range trace {
		line := fmt.Sprintf("  %v\t%v", ev["step"], ev["op"])
		if party, ok := ev["party"]; ok {
			line += fmt.Sprintf("\t%v", party)
		}
		line += fmt.Sprintf("\t-> %v", ev["outcome"])
		fmt.Fprintln(out, line)
	}
	return nil
}
