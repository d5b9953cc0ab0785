package cliplugins

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"sigscan/internal/scanlog"
	"sigscan/internal/scanner"
	"sigscan/internal/signature/hasher"
	"sigscan/internal/util/logger/sl"
	"sigscan/internal/util/utilJson"
	"sigscan/internal/walker"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type ScanCommand struct {
	cmd *cobra.Command
	app *AppContext
}

func NewScanCommand(app *AppContext) *ScanCommand {
	return &ScanCommand{app: app}
}

func (s *ScanCommand) Meta() *cobra.Command {
	if s.cmd != nil {
		return s.cmd
	}
	s.cmd = &cobra.Command{
		Use:   "scan <path>",
		Short: "Scan a file or directory",
		Long:  "Hashes every regular file under path and reports the ones found in the signature catalog.",
		Args:  cobra.ExactArgs(1),
	}
	s.cmd.Flags().IntP("workers", "w", 0, "hashing workers (default: config, then CPU count)")
	s.cmd.Flags().BoolP("early-stop", "e", false, "stop at the first flagged file")
	s.cmd.Flags().Bool("no-count", false, "skip the counting pass before scanning")
	s.cmd.Flags().Bool("no-log", false, "do not write a scan log file")
	s.cmd.Flags().StringSliceP("exclude", "x", nil, "base-name patterns to skip")
	s.cmd.Flags().BoolP("quiet", "q", false, "print flagged paths only")
	s.cmd.Flags().Bool("json", false, "print the report as JSON")
	return s.cmd
}

func (s *ScanCommand) Execute(ctx context.Context, cmd *cobra.Command, args []string) error {
	cfg := s.app.Config.Scanner

	if cmd.Flags().Changed("workers") {
		cfg.Workers, _ = cmd.Flags().GetInt("workers")
	}
	if early, _ := cmd.Flags().GetBool("early-stop"); early {
		cfg.EarlyStop = true
	}
	if noCount, _ := cmd.Flags().GetBool("no-count"); noCount {
		cfg.CountFirst = false
	}
	if extra, _ := cmd.Flags().GetStringSlice("exclude"); len(extra) > 0 {
		cfg.Exclude = append(append([]string(nil), cfg.Exclude...), extra...)
	}
	quiet, _ := cmd.Flags().GetBool("quiet")
	noLog, _ := cmd.Flags().GetBool("no-log")
	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		quiet = true
	}

	store, err := s.app.Store()
	if err != nil {
		return err
	}

	h, err := hasher.New(s.app.Algorithm(), cfg.BlockSize)
	if err != nil {
		return err
	}

	ignored, err := s.app.Config.IgnoredFingerprints()
	if err != nil {
		return err
	}

	var observers scanner.MultiObserver
	if !quiet && isTerminal(os.Stdout) {
		p := newProgress(s.app.Out)
		defer p.stop()
		observers = append(observers, p)
	}
	if s.app.Config.ScanLog.Enabled && !noLog {
		fileLog, err := scanlog.New(s.app.Config.ScanLog.Dir, nil)
		if err != nil {
			return err
		}
		defer func() {
			if err := fileLog.Close(); err != nil {
				s.app.Logger.Warn("failed to close scan log", sl.Err(err))
			}
		}()
		observers = append(observers, fileLog)
	}

	sc := scanner.New(
		walker.New(walker.Config{Exclude: cfg.Exclude}),
		h,
		store,
		scanner.Config{
			Workers:    cfg.Workers,
			Ignored:    ignored,
			EarlyStop:  cfg.EarlyStop,
			CountFirst: cfg.CountFirst,
			Observer:   observers,
		},
		s.app.Logger,
	)

	report, scanErr := sc.Scan(ctx, args[0])
	if report == nil {
		return scanErr
	}
	stats := sc.Metrics().GetStats()

	if hist, err := s.app.History(); err != nil {
		s.app.Logger.Warn("scan history unavailable", sl.Err(err))
	} else if hist != nil {
		// history must be written even when the scan context is already cancelled
		if err := hist.Save(context.WithoutCancel(ctx), report); err != nil {
			s.app.Logger.Warn("failed to save scan history", sl.Err(err))
		}
	}

	if asJSON {
		if err := utiljson.Write(s.app.Out, toJSONReport(report, stats)); err != nil {
			return err
		}
	} else {
		s.printReport(report, stats, quiet)
	}

	if scanErr != nil {
		return scanErr
	}
	if report.FlaggedCount > 0 {
		return fmt.Errorf("%w: %d", ErrThreatsFound, report.FlaggedCount)
	}
	return nil
}

func (s *ScanCommand) printReport(report *scanner.Report, stats map[string]interface{}, quiet bool) {
	for _, r := range report.Flagged {
		if quiet {
			s.app.printf(nil, "%s\n", r.Path)
			continue
		}
		s.app.printf(colorAlert, "FLAGGED ")
		s.app.printf(nil, "%s  %s\n", r.Fingerprint, r.Path)
	}
	if quiet {
		return
	}

	for _, sk := range report.Skipped {
		s.app.printf(colorMuted, "skipped %s: %v\n", sk.Path, sk.Err)
	}

	summary := fmt.Sprintf("scanned %d files (%d bytes) in %s, %d flagged, %d skipped",
		report.FilesScanned, report.BytesScanned, report.Duration().Round(time.Millisecond),
		report.FlaggedCount, len(report.Skipped))

	switch {
	case report.Cancelled:
		s.app.printf(colorWarn, "cancelled: %s\n", summary)
	case report.FlaggedCount > 0:
		s.app.printf(colorAlert, "%s\n", summary)
	default:
		s.app.printf(colorOK, "clean: %s\n", summary)
	}
	if report.StoppedEarly {
		s.app.printf(colorWarn, "stopped at first match\n")
	}
	if hashTime, ok := stats["hash_time"].(time.Duration); ok && hashTime > 0 {
		s.app.printf(colorMuted, "hashing took %s across workers\n", hashTime.Round(time.Millisecond))
	}
	s.app.printf(colorMuted, "run id %s\n", report.ID)
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// IsThreatsFound reports whether err only signals flagged files.
func IsThreatsFound(err error) bool {
	return errors.Is(err, ErrThreatsFound)
}
