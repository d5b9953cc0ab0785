package cliplugins

import (
	"time"

	"sigscan/internal/scanner"
)

type jsonResult struct {
	Path        string `json:"path"`
	Fingerprint string `json:"fingerprint"`
	Size        int64  `json:"size"`
}

type jsonSkipped struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

type jsonReport struct {
	ID           string        `json:"id"`
	Root         string        `json:"root"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	FilesScanned int           `json:"files_scanned"`
	BytesScanned int64         `json:"bytes_scanned"`
	FlaggedCount int           `json:"flagged_count"`
	IgnoredCount int           `json:"ignored_count"`
	Flagged      []jsonResult  `json:"flagged"`
	Skipped      []jsonSkipped `json:"skipped"`
	Cancelled    bool          `json:"cancelled"`
	StoppedEarly bool          `json:"stopped_early"`
	Metrics      jsonMetrics   `json:"metrics"`
}

type jsonMetrics struct {
	FilesScanned int64  `json:"files_scanned"`
	FilesFlagged int64  `json:"files_flagged"`
	FilesSkipped int64  `json:"files_skipped"`
	HashedBytes  int64  `json:"hashed_bytes"`
	HashTime     string `json:"hash_time"`
}

func toJSONMetrics(stats map[string]interface{}) jsonMetrics {
	m := jsonMetrics{}
	m.FilesScanned, _ = stats["files_scanned"].(int64)
	m.FilesFlagged, _ = stats["files_flagged"].(int64)
	m.FilesSkipped, _ = stats["files_skipped"].(int64)
	m.HashedBytes, _ = stats["hashed_bytes"].(int64)
	if d, ok := stats["hash_time"].(time.Duration); ok {
		m.HashTime = d.String()
	}
	return m
}

func toJSONReport(r *scanner.Report, stats map[string]interface{}) jsonReport {
	out := jsonReport{
		ID:           r.ID,
		Root:         r.Root,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		FilesScanned: r.FilesScanned,
		BytesScanned: r.BytesScanned,
		FlaggedCount: r.FlaggedCount,
		IgnoredCount: r.IgnoredCount,
		Flagged:      make([]jsonResult, 0, len(r.Flagged)),
		Skipped:      make([]jsonSkipped, 0, len(r.Skipped)),
		Cancelled:    r.Cancelled,
		StoppedEarly: r.StoppedEarly,
		Metrics:      toJSONMetrics(stats),
	}
	for _, f := range r.Flagged {
		out.Flagged = append(out.Flagged, jsonResult{Path: f.Path, Fingerprint: f.Fingerprint.String(), Size: f.Size})
	}
	for _, s := range r.Skipped {
		msg := ""
		if s.Err != nil {
			msg = s.Err.Error()
		}
		out.Skipped = append(out.Skipped, jsonSkipped{Path: s.Path, Error: msg})
	}
	return out
}
