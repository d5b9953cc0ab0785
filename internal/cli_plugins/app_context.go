package cliplugins

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"sigscan/internal/config"
	"sigscan/internal/db"
	"sigscan/internal/signature"
	"sigscan/internal/storage/history"

	"github.com/fatih/color"
)

// ErrThreatsFound is returned by scan when at least one file was flagged.
var ErrThreatsFound = errors.New("threats found")

// AppContext хранит зависимости, которые будут использоваться в командах CLI.
// Stores are opened on first use so that commands like completion never touch disk.
type AppContext struct {
	Config *config.Config
	Logger *slog.Logger
	Out    io.Writer

	mu      sync.Mutex
	store   *db.SignatureDB
	history *history.Store
}

func NewAppContext(cfg *config.Config, logger *slog.Logger, out io.Writer) *AppContext {
	if out == nil {
		out = os.Stdout
	}
	return &AppContext{
		Config: cfg,
		Logger: logger,
		Out:    out,
	}
}

func (a *AppContext) Algorithm() signature.Algorithm {
	alg, err := a.Config.Algorithm()
	if err != nil {
		return signature.DefaultAlgorithm
	}
	return alg
}

// Store opens the signature store.
func (a *AppContext) Store() (*db.SignatureDB, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.store != nil {
		return a.store, nil
	}

	if err := ensureDir(a.Config.Storage.Path); err != nil {
		return nil, err
	}

	store, err := db.NewSignatureDB(db.Config{
		Path:        a.Config.Storage.Path,
		FileMode:    signature.DefaultPermissions,
		Algorithm:   a.Algorithm(),
		OpenTimeout: a.Config.Storage.OpenTimeout,
		Logger:      a.Logger,
	})
	if err != nil {
		return nil, err
	}
	a.store = store
	return store, nil
}

// History opens the scan history database; nil when history is disabled.
func (a *AppContext) History() (*history.Store, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.Config.History.Enabled {
		return nil, nil
	}
	if a.history != nil {
		return a.history, nil
	}

	if err := ensureDir(a.Config.History.Path); err != nil {
		return nil, err
	}
	h, err := history.Open(a.Config.History.Path, a.Logger)
	if err != nil {
		return nil, err
	}
	a.history = h
	return h, nil
}

func (a *AppContext) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
		a.store = nil
	}
	if a.history != nil {
		errs = append(errs, a.history.Close())
		a.history = nil
	}
	return errors.Join(errs...)
}

func (a *AppContext) printf(c *color.Color, format string, args ...any) {
	if c == nil {
		fmt.Fprintf(a.Out, format, args...)
		return
	}
	c.Fprintf(a.Out, format, args...)
}

var (
	colorAlert = color.New(color.FgRed, color.Bold)
	colorOK    = color.New(color.FgGreen)
	colorWarn  = color.New(color.FgYellow)
	colorMuted = color.New(color.Faint)
)

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return nil
}
