// Package walker lists the regular files under a root path.
package walker

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"sigscan/internal/signature"
)

const DefaultBufferSize = 256

type Config struct {
	// Exclude holds filepath.Match patterns tested against base names.
	// A matching directory is pruned together with its contents.
	Exclude    []string
	BufferSize int
}

// Entry is either a file path or an error tied to a path that could not be read.
type Entry struct {
	Path string
	Size int64
	Err  error
}

type Totals struct {
	Files  int64
	Bytes  int64
	Errors int64
}

type Walker struct {
	config Config
}

func New(config Config) *Walker {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBufferSize
	}
	return &Walker{config: config}
}

// Walk starts a traversal of root and returns its entries lazily.
// The channel is closed when the traversal ends or ctx is cancelled.
// Every call is an independent traversal.
func (w *Walker) Walk(ctx context.Context, root string) (<-chan Entry, error) {
	absRoot, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}

	entries := make(chan Entry, w.config.BufferSize)
	go func() {
		defer close(entries)
		w.walk(ctx, absRoot, entries)
	}()
	return entries, nil
}

// Profile walks root once and counts what a scan would see.
func (w *Walker) Profile(ctx context.Context, root string) (Totals, error) {
	entries, err := w.Walk(ctx, root)
	if err != nil {
		return Totals{}, err
	}

	var totals Totals
	for entry := range entries {
		if entry.Err != nil {
			totals.Errors++
			continue
		}
		totals.Files++
		totals.Bytes += entry.Size
	}
	return totals, ctx.Err()
}

func resolveRoot(root string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("%w: empty root", signature.ErrInvalidPath)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("%w: %v", signature.ErrInvalidPath, err)
	}
	info, err := os.Lstat(absRoot)
	if err != nil {
		return "", fmt.Errorf("%w: %v", signature.ErrInvalidPath, err)
	}
	// WalkDir does not descend into a symlinked root, so follow it here
	if info.Mode()&fs.ModeSymlink != 0 {
		if absRoot, err = filepath.EvalSymlinks(absRoot); err != nil {
			return "", fmt.Errorf("%w: %v", signature.ErrInvalidPath, err)
		}
	}
	return absRoot, nil
}

func (w *Walker) walk(ctx context.Context, root string, out chan<- Entry) {
	send := func(e Entry) bool {
		select {
		case out <- e:
			return true
		case <-ctx.Done():
			return false
		}
	}

	// symlinks below the root are not followed
	if info, err := os.Stat(root); err == nil && !info.IsDir() {
		if info.Mode().IsRegular() {
			send(Entry{Path: root, Size: info.Size()})
		}
		return
	}

	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return filepath.SkipAll
		}
		if err != nil {
			// unreadable directory or vanished entry: report and keep going
			if !send(Entry{Path: path, Err: fmt.Errorf("%w: %s: %w", signature.ErrUnreadableFile, path, err)}) {
				return filepath.SkipAll
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if path != root && w.excluded(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}

		var size int64
		if info, err := d.Info(); err == nil {
			size = info.Size()
		}
		if !send(Entry{Path: path, Size: size}) {
			return filepath.SkipAll
		}
		return nil
	})
}

func (w *Walker) excluded(name string) bool {
	for _, pattern := range w.config.Exclude {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}
