package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"sigscan/internal/storage/history"
	"sigscan/internal/util/logger/sl"
	"sigscan/pkg/migrator"

	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
)

func main() {
	migrationDir := flag.String("path", "", "Path to a migrations directory (default: embedded history migrations)")
	dbPath := flag.String("db", "history.sqlite", "Path to the SQLite history database")
	direction := flag.String("direction", "up", "Migration direction: up, down, version, rollback or to")
	version := flag.Int("version", 0, "Target version for migration")
	steps := flag.Int("steps", 1, "Number of steps to roll back")

	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		logger.Error("failed to open database", sl.Err(err))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Error("failed to connect to database", sl.Err(err))
		os.Exit(1)
	}

	config := migrator.Config{MigrationsPath: *migrationDir}
	if *migrationDir == "" {
		config.Source = history.Migrations()
	}

	m := migrator.NewMigrator(db, config, logger)

	switch *direction {
	case "up":
		err = m.MigrateUp()
	case "down":
		err = m.MigrateDown()
	case "version":
		var (
			current uint
			dirty   bool
		)
		current, dirty, err = m.GetMigrationVersion()
		if err == nil {
			fmt.Printf("Current migration version: %d (dirty: %v)\n", current, dirty)
		}
	case "rollback":
		err = m.MigrateDownN(*steps)
	case "to":
		if *version <= 0 {
			logger.Error("please specify a target version with -version flag")
			os.Exit(1)
		}
		err = m.MigrateTo(uint(*version))
	default:
		logger.Error("unknown migration direction", slog.String("direction", *direction))
		os.Exit(1)
	}

	if err != nil {
		logger.Error("migration failed", slog.String("direction", *direction), sl.Err(err))
		os.Exit(1)
	}

	logger.Info("migration completed successfully")
}
