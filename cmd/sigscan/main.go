package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"sigscan/internal/cli_plugins"
	"sigscan/internal/config"
	"sigscan/internal/util/logger/handlers/slogpretty"
	"sigscan/pkg/cli"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func main() {
	// Создаем контекст с отменой для graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string) int {
	app := cliplugins.NewAppContext(nil, nil, os.Stdout)
	defer app.Close()

	c := cli.NewCLI("sigscan", "Hash-based malware scanner with a synchronized signature catalog")

	var configPath string
	root := c.Root()
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (env CONFIG_PATH)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.ResolvePath(configPath))
		if err != nil {
			return err
		}
		app.Config = cfg
		app.Logger = setupLogger(cfg.Env)
		return nil
	}

	c.RegisterPlugin(cliplugins.NewScanCommand(app))
	c.RegisterPlugin(cliplugins.NewUpdateCommand(app))
	c.RegisterPlugin(cliplugins.NewStatusCommand(app))
	c.RegisterPlugin(cliplugins.NewLookupCommand(app))
	c.RegisterPlugin(cliplugins.NewRemoveCommand(app))
	c.RegisterPlugin(cliplugins.NewPatchCommand(app))
	c.RegisterPlugin(cliplugins.NewHistoryCommand(app))

	if err := c.Run(ctx, args); err != nil {
		if cliplugins.IsThreatsFound(err) {
			return 2
		}
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		return 1
	}
	return 0
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case config.EnvDev:
		log = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case config.EnvProd:
		log = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		log = setupPrettySlog()
	}
	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelInfo,
		},
	}

	handler := opts.NewPrettyHandler(os.Stderr)

	return slog.New(handler)
}
