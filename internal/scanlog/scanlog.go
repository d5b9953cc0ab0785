// Package scanlog writes one log file per scan listing the flagged files.
package scanlog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"sigscan/internal/scanner"
	"sigscan/internal/walker"
)

const fileLayout = "2006_01_02_15_04_05"

// FileLog is a scanner.Observer backed by a timestamped file.
type FileLog struct {
	scanner.NopObserver

	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
	path string
	err  error
}

var _ scanner.Observer = (*FileLog)(nil)

// New creates dir if needed and opens a log named after now().
func New(dir string, now func() time.Time) (*FileLog, error) {
	if now == nil {
		now = time.Now
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log dir %s: %w", dir, err)
	}

	path := filepath.Join(dir, now().Format(fileLayout)+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open scan log: %w", err)
	}

	return &FileLog{
		file: file,
		w:    bufio.NewWriter(file),
		path: path,
	}, nil
}

func (l *FileLog) Path() string {
	return l.path
}

func (l *FileLog) printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return
	}
	_, l.err = fmt.Fprintf(l.w, format, args...)
}

func (l *FileLog) OnScanStarted(totals walker.Totals) {
	if totals.Files > 0 {
		l.printf("# scan started: %d files, %d bytes\n", totals.Files, totals.Bytes)
		return
	}
	l.printf("# scan started\n")
}

func (l *FileLog) OnFileFlagged(r scanner.Result) {
	l.printf("%s\t%s\n", r.Fingerprint, r.Path)
}

func (l *FileLog) OnScanFinished(report *scanner.Report) {
	status := "completed"
	switch {
	case report.Cancelled:
		status = "cancelled"
	case report.StoppedEarly:
		status = "stopped early"
	}
	l.printf("# scan %s: id=%s root=%s scanned=%d flagged=%d skipped=%d took=%s\n",
		status, report.ID, report.Root, report.FilesScanned, report.FlaggedCount,
		len(report.Skipped), report.Duration().Round(time.Millisecond))
}

// Close flushes the log and reports the first write error, if any.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.w.Flush(); err != nil && l.err == nil {
		l.err = err
	}
	if err := l.file.Close(); err != nil && l.err == nil {
		l.err = err
	}
	return l.err
}
