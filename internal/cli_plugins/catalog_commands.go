package cliplugins

import (
	"context"
	"fmt"
	"os"

	"sigscan/internal/patch"
	"sigscan/internal/signature"
	"sigscan/internal/signature/hasher"

	"github.com/spf13/cobra"
)

// StatusCommand prints the catalog state.
type StatusCommand struct {
	cmd *cobra.Command
	app *AppContext
}

func NewStatusCommand(app *AppContext) *StatusCommand {
	return &StatusCommand{app: app}
}

func (s *StatusCommand) Meta() *cobra.Command {
	if s.cmd != nil {
		return s.cmd
	}
	s.cmd = &cobra.Command{
		Use:   "status",
		Short: "Show signature catalog statistics",
		Args:  cobra.NoArgs,
	}
	s.cmd.Flags().BoolP("batches", "b", false, "list every ingested batch")
	return s.cmd
}

func (s *StatusCommand) Execute(ctx context.Context, cmd *cobra.Command, args []string) error {
	store, err := s.app.Store()
	if err != nil {
		return err
	}

	stats, err := store.Stats()
	if err != nil {
		return err
	}

	s.app.printf(nil, "catalog:    %s (%d bytes)\n", stats.Path, stats.SizeBytes)
	s.app.printf(nil, "algorithm:  %s\n", stats.Algorithm)
	s.app.printf(nil, "signatures: %d\n", stats.Signatures)
	if stats.HasBatches {
		s.app.printf(nil, "last batch: %05d\n", stats.LastBatch)
	} else {
		s.app.printf(colorWarn, "last batch: none, run update\n")
	}

	if list, _ := cmd.Flags().GetBool("batches"); !list {
		return nil
	}

	batches, err := store.Batches()
	if err != nil {
		return err
	}
	for _, b := range batches {
		s.app.printf(nil, "%05d  %s  +%d =%d !%d  %s\n",
			b.Index, b.IngestedAt.Format("2006-01-02 15:04:05"),
			b.Inserted, b.Duplicates, b.Rejected, b.Provenance)
	}
	return nil
}

// LookupCommand checks fingerprints or files against the catalog.
type LookupCommand struct {
	cmd *cobra.Command
	app *AppContext
}

func NewLookupCommand(app *AppContext) *LookupCommand {
	return &LookupCommand{app: app}
}

func (l *LookupCommand) Meta() *cobra.Command {
	if l.cmd != nil {
		return l.cmd
	}
	l.cmd = &cobra.Command{
		Use:   "lookup <fingerprint|file>...",
		Short: "Check fingerprints or files against the catalog",
		Args:  cobra.MinimumNArgs(1),
	}
	l.cmd.Flags().BoolP("file", "f", false, "treat arguments as files to hash")
	return l.cmd
}

func (l *LookupCommand) Execute(ctx context.Context, cmd *cobra.Command, args []string) error {
	store, err := l.app.Store()
	if err != nil {
		return err
	}

	asFile, _ := cmd.Flags().GetBool("file")
	var h *hasher.Hasher
	if asFile {
		if h, err = hasher.New(l.app.Algorithm(), l.app.Config.Scanner.BlockSize); err != nil {
			return err
		}
	}

	found := 0
	for _, arg := range args {
		var fp signature.Fingerprint
		if asFile {
			fp, err = h.HashFile(arg)
		} else {
			fp, err = signature.ParseFingerprint(arg, l.app.Algorithm())
		}
		if err != nil {
			return err
		}
		if fp.IsEmpty() {
			l.app.printf(colorOK, "clean    %s (empty)\n", arg)
			continue
		}

		rec, ok, err := store.Get(fp)
		if err != nil {
			return err
		}
		if !ok {
			l.app.printf(colorOK, "clean    %s\n", arg)
			continue
		}
		found++
		source := fmt.Sprintf("batch %05d", rec.Batch)
		if rec.Batch == signature.LocalBatch {
			source = "local patch"
		}
		l.app.printf(colorAlert, "listed   ")
		l.app.printf(nil, "%s (%s, %s)\n", arg, fp, source)
	}

	if found > 0 {
		return fmt.Errorf("%w: %d", ErrThreatsFound, found)
	}
	return nil
}

// RemoveCommand deletes fingerprints from the catalog.
type RemoveCommand struct {
	cmd *cobra.Command
	app *AppContext
}

func NewRemoveCommand(app *AppContext) *RemoveCommand {
	return &RemoveCommand{app: app}
}

func (r *RemoveCommand) Meta() *cobra.Command {
	if r.cmd != nil {
		return r.cmd
	}
	r.cmd = &cobra.Command{
		Use:   "remove <fingerprint>...",
		Short: "Remove fingerprints from the catalog",
		Args:  cobra.MinimumNArgs(1),
	}
	return r.cmd
}

func (r *RemoveCommand) Execute(ctx context.Context, cmd *cobra.Command, args []string) error {
	store, err := r.app.Store()
	if err != nil {
		return err
	}

	for _, arg := range args {
		fp, err := signature.ParseFingerprint(arg, r.app.Algorithm())
		if err != nil {
			return err
		}
		removed, err := store.Remove(fp)
		if err != nil {
			return err
		}
		if removed {
			r.app.printf(colorOK, "removed  %s\n", fp)
		} else {
			r.app.printf(colorMuted, "absent   %s\n", fp)
		}
	}
	return nil
}

// PatchCommand applies a local patch file.
type PatchCommand struct {
	cmd *cobra.Command
	app *AppContext
}

func NewPatchCommand(app *AppContext) *PatchCommand {
	return &PatchCommand{app: app}
}

func (p *PatchCommand) Meta() *cobra.Command {
	if p.cmd != nil {
		return p.cmd
	}
	p.cmd = &cobra.Command{
		Use:   "patch <file>",
		Short: "Apply a patch file of +hash / -hash lines",
		Args:  cobra.ExactArgs(1),
	}
	return p.cmd
}

func (p *PatchCommand) Execute(ctx context.Context, cmd *cobra.Command, args []string) error {
	store, err := p.app.Store()
	if err != nil {
		return err
	}

	var res patch.Result
	if args[0] == "-" {
		res, err = patch.Apply(ctx, store, os.Stdin)
	} else {
		res, err = patch.ApplyFile(ctx, store, args[0])
	}
	p.app.printf(nil, "inserted %d, removed %d, skipped %d\n", res.Inserted, res.Removed, res.Skipped)
	return err
}
