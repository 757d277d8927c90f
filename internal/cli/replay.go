package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tessera-io/tessera/internal/canon"
	"github.com/tessera-io/tessera/internal/journal"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Flow     string
}

// ReplayEvent is one journal event in replay output.
type ReplayEvent struct {
	Seq     int64  `json:"seq"`
	Kind    string `json:"kind"`
	Flow    string `json:"flow,omitempty"`
	Payload string `json:"payload"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the audit journal",
		Long: `Read the audit journal in append order and print every event, after
verifying that each payload still canonicalizes to the stored bytes.

Example:
  tessera replay --db ./audit.db
  tessera replay --db ./audit.db --flow h-4 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite audit journal (required)")
	cmd.Flags().StringVar(&opts.Flow, "flow", "", "restrict to one instance's events")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "journal database not found", err)
	}

	j, err := journal.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	ctx := cmd.Context()
	var events []journal.Event
	if opts.Flow != "" {
		events, err = j.ReadFlow(ctx, opts.Flow)
	} else {
		events, err = j.ReadAll(ctx)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read journal", err)
	}
	formatter.VerboseLog("read %d event(s)", len(events))

	out := make([]ReplayEvent, len(events))
	for i, ev := range events {
		// A payload that no longer canonicalizes means the journal was
		// written by something other than the engine, or corrupted.
		body, err := canon.Marshal(ev.Payload)
		if err != nil {
			return WrapExitError(ExitFailure,
				fmt.Sprintf("event %d payload is not canonical", ev.Seq), err)
		}
		out[i] = ReplayEvent{
			Seq:     ev.Seq,
			Kind:    ev.Kind,
			Flow:    ev.Flow,
			Payload: string(body),
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(out)
	}

	if len(out) == 0 {
		fmt.Fprintln(formatter.Writer, "journal is empty")
		return nil
	}
	for _, ev := range out {
		if ev.Flow != "" {
			fmt.Fprintf(formatter.Writer, "%d\t%s\t%s\t%s\n", ev.Seq, ev.Kind, ev.Flow, ev.Payload)
		} else {
			fmt.Fprintf(formatter.Writer, "%d\t%s\t-\t%s\n", ev.Seq, ev.Kind, ev.Payload)
		}
	}
	return nil
}
