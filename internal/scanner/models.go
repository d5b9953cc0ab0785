package scanner

import (
	"time"

	"sigscan/internal/signature"
	"sigscan/internal/walker"
)

// Result is the verdict for one file.
type Result struct {
	Path        string
	Fingerprint signature.Fingerprint
	Size        int64
	Flagged     bool
	// Ignored is set when the fingerprint is in the catalog but listed as a false positive.
	Ignored bool
}

// Skipped is a file the scan could not classify.
type Skipped struct {
	Path string
	Err  error
}

type Report struct {
	ID         string
	Root       string
	StartedAt  time.Time
	FinishedAt time.Time
	// Totals is filled only when the scan counted files first.
	Totals walker.Totals

	FilesScanned int
	BytesScanned int64
	FlaggedCount int
	IgnoredCount int
	Flagged      []Result
	Skipped      []Skipped

	Cancelled    bool
	StoppedEarly bool
}

func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Clean reports whether the run finished without findings.
func (r *Report) Clean() bool {
	return r.FlaggedCount == 0
}
