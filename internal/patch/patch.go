// Package patch applies local correction files to the signature store.
//
// A patch file holds one fingerprint per line. "+<hex>" or a bare "<hex>"
// adds it to the catalog, "-<hex>" removes it. Blank lines and lines
// starting with "#" are ignored.
package patch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"sigscan/internal/signature"
)

const flushSize = 4096

// Store is the part of the signature store a patch writes to.
type Store interface {
	InsertBatch(records []signature.Record) (signature.InsertResult, error)
	Remove(fp signature.Fingerprint) (bool, error)
	Algorithm() signature.Algorithm
}

type Result struct {
	Inserted int
	Removed  int
	// Skipped counts malformed lines, known inserts and removals of absent fingerprints.
	Skipped int
}

// ApplyFile opens path and applies it.
func ApplyFile(ctx context.Context, store Store, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: failed to open patch %s: %w", signature.ErrInvalidPath, path, err)
	}
	defer f.Close()
	return Apply(ctx, store, f)
}

// Apply reads r line by line. Operations take effect in file order.
func Apply(ctx context.Context, store Store, r io.Reader) (Result, error) {
	var (
		res      Result
		inserted signature.InsertResult
		pending  []signature.Record
		alg      = store.Algorithm()
	)

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		ins, err := store.InsertBatch(pending)
		if err != nil {
			return fmt.Errorf("failed to insert patch records: %w", err)
		}
		inserted.Add(ins)
		pending = pending[:0]
		return nil
	}
	result := func() Result {
		out := res
		out.Inserted = inserted.Inserted
		out.Skipped += inserted.Duplicates + len(inserted.Rejected)
		return out
	}

	scanner := bufio.NewScanner(r)
	for line := 1; scanner.Scan(); line++ {
		if line%flushSize == 0 {
			if err := ctx.Err(); err != nil {
				return result(), err
			}
		}

		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, signature.CommentMarker) {
			continue
		}

		remove := false
		switch text[0] {
		case '-':
			remove = true
			text = text[1:]
		case '+':
			text = text[1:]
		}

		fp, err := signature.ParseFingerprint(text, alg)
		if err != nil {
			res.Skipped++
			continue
		}

		if !remove {
			pending = append(pending, signature.Record{Fingerprint: fp, Batch: signature.LocalBatch})
			if len(pending) >= flushSize {
				if err := flush(); err != nil {
					return result(), err
				}
			}
			continue
		}

		// earlier inserts must land before a removal can see them
		if err := flush(); err != nil {
			return result(), err
		}
		removed, err := store.Remove(fp)
		if err != nil {
			return result(), fmt.Errorf("line %d: %w", line, err)
		}
		if removed {
			res.Removed++
		} else {
			res.Skipped++
		}
	}
	if err := scanner.Err(); err != nil {
		return result(), fmt.Errorf("failed to read patch: %w", err)
	}

	if err := flush(); err != nil {
		return result(), err
	}
	return result(), nil
}
