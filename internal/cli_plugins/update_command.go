package cliplugins

import (
	"context"
	"time"

	"sigscan/internal/signature"
	"sigscan/internal/updater"

	"github.com/spf13/cobra"
)

type UpdateCommand struct {
	cmd *cobra.Command
	app *AppContext
}

func NewUpdateCommand(app *AppContext) *UpdateCommand {
	return &UpdateCommand{app: app}
}

func (u *UpdateCommand) Meta() *cobra.Command {
	if u.cmd != nil {
		return u.cmd
	}
	u.cmd = &cobra.Command{
		Use:   "update",
		Short: "Synchronize the signature catalog",
		Long:  "Downloads remote batches past the last ingested one and commits them in order.",
		Args:  cobra.NoArgs,
	}
	u.cmd.Flags().BoolP("check", "c", false, "only report whether an update is available")
	u.cmd.Flags().IntP("max-batches", "n", 0, "stop after this many batches (0 = no limit)")
	u.cmd.Flags().IntP("workers", "w", 0, "parallel downloads (default from config)")
	u.cmd.Flags().String("url", "", "batch URL template with one integer verb")
	return u.cmd
}

func (u *UpdateCommand) synchronizer(cmd *cobra.Command) (*updater.Synchronizer, error) {
	cfg := u.app.Config.Updater

	if url, _ := cmd.Flags().GetString("url"); url != "" {
		cfg.URLTemplate = url
	}
	if cmd.Flags().Changed("max-batches") {
		cfg.MaxBatches, _ = cmd.Flags().GetInt("max-batches")
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers, _ = cmd.Flags().GetInt("workers")
	}

	store, err := u.app.Store()
	if err != nil {
		return nil, err
	}

	fetcher := updater.NewHTTPFetcher(updater.HTTPConfig{
		URLTemplate: cfg.URLTemplate,
		Algorithm:   u.app.Algorithm(),
		Timeout:     cfg.RequestTimeout,
	})

	return updater.New(store, fetcher, updater.Config{
		Workers:         cfg.Workers,
		Window:          cfg.Window,
		MaxBatches:      cfg.MaxBatches,
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: cfg.InitialInterval,
		MaxInterval:     cfg.MaxInterval,
		Observer: updater.ObserverFunc(func(info signature.BatchInfo) {
			u.app.printf(colorMuted, "batch %05d: +%d new, %d known, %d rejected\n",
				info.Index, info.Inserted, info.Duplicates, info.Rejected)
		}),
	}, u.app.Logger), nil
}

func (u *UpdateCommand) Execute(ctx context.Context, cmd *cobra.Command, args []string) error {
	syncer, err := u.synchronizer(cmd)
	if err != nil {
		return err
	}

	if check, _ := cmd.Flags().GetBool("check"); check {
		pending, err := syncer.Pending(ctx)
		if err != nil {
			return err
		}
		if pending {
			u.app.printf(colorWarn, "update available\n")
		} else {
			u.app.printf(colorOK, "catalog is up to date\n")
		}
		return nil
	}

	report, err := syncer.Sync(ctx)

	u.app.printf(nil, "ingested %d batches: %d inserted, %d duplicates, %d rejected in %s\n",
		report.Batches, report.Inserted, report.Duplicates, report.Rejected, report.Duration.Round(time.Millisecond))
	if report.HasWatermark {
		u.app.printf(nil, "last batch %05d\n", report.Watermark)
	}
	if err != nil {
		return err
	}
	if report.EndOfCatalog {
		u.app.printf(colorOK, "catalog is up to date\n")
	}
	return nil
}
