package cliplugins

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

type HistoryCommand struct {
	cmd *cobra.Command
	app *AppContext
}

func NewHistoryCommand(app *AppContext) *HistoryCommand {
	return &HistoryCommand{app: app}
}

func (h *HistoryCommand) Meta() *cobra.Command {
	if h.cmd != nil {
		return h.cmd
	}
	h.cmd = &cobra.Command{
		Use:   "history [run-id]",
		Short: "List past scans or show one run",
		Args:  cobra.MaximumNArgs(1),
	}
	h.cmd.Flags().IntP("limit", "l", 20, "number of runs to list")
	return h.cmd
}

func (h *HistoryCommand) Execute(ctx context.Context, cmd *cobra.Command, args []string) error {
	store, err := h.app.History()
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("scan history is disabled")
	}

	if len(args) == 1 {
		run, err := store.Get(ctx, args[0])
		if err != nil {
			return err
		}
		h.app.printf(nil, "run %s\nroot %s\nstarted %s, took %s\n",
			run.ID, run.Root, run.StartedAt.Format("2006-01-02 15:04:05"), run.FinishedAt.Sub(run.StartedAt))
		h.app.printf(nil, "scanned %d, flagged %d, ignored %d, skipped %d\n",
			run.FilesScanned, run.FlaggedCount, run.IgnoredCount, run.SkippedCount)
		for _, f := range run.Flagged {
			h.app.printf(colorAlert, "FLAGGED ")
			h.app.printf(nil, "%s  %s\n", f.Fingerprint, f.Path)
		}
		return nil
	}

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := store.List(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		h.app.printf(colorMuted, "no scans recorded\n")
		return nil
	}
	for _, run := range runs {
		c := colorOK
		if run.FlaggedCount > 0 {
			c = colorAlert
		}
		state := ""
		if run.Cancelled {
			state = " (cancelled)"
		}
		h.app.printf(c, "%s  %s  %4d flagged / %6d files  %s%s\n",
			run.ID, run.StartedAt.Format("2006-01-02 15:04"), run.FlaggedCount, run.FilesScanned, run.Root, state)
	}
	return nil
}
