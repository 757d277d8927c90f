package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tessera-io/tessera/internal/harness"
)

// ValidationResult holds validation results for one scenario file.
type ValidationResult struct {
	File  string `json:"file"`
	Valid bool   `json:"valid"`
	Name  string `json:"name,omitempty"`
	Error string `json:"error,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <scenario.yaml>...",
		Short: "Validate scenario files without running them",
		Long: `Validate scenario YAML files: parse, reject unknown fields and ops,
and check asset declarations. Nothing is executed.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, files []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	results := make([]ValidationResult, 0, len(files))
	failed := 0
	for _, file := range files {
		formatter.VerboseLog("validating %s", file)
		res := ValidationResult{File: file, Valid: true}
		scenario, err := harness.LoadScenario(file)
		if err != nil {
			res.Valid = false
			res.Error = err.Error()
			failed++
		} else {
			res.Name = scenario.Name
		}
		results = append(results, res)
	}

	if formatter.Format == "json" {
		if failed > 0 {
			if err := formatter.Error("INVALID_SCENARIO",
				fmt.Sprintf("%d of %d scenario(s) invalid", failed, len(files)), results); err != nil {
				return err
			}
			return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) invalid", failed))
		}
		return formatter.Success(results)
	}

	for _, res := range results {
		if res.Valid {
			fmt.Fprintf(formatter.Writer, "ok\t%s\t(%s)\n", res.File, res.Name)
		} else {
			fmt.Fprintf(formatter.Writer, "FAIL\t%s\t%s\n", res.File, res.Error)
		}
	}
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) invalid", failed))
	}
	return nil
}
