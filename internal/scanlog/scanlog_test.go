package scanlog

import (
	"crypto/md5"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sigscan/internal/scanner"
	"sigscan/internal/walker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLog(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	at := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

	l, err := New(dir, func() time.Time { return at })
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "2024_03_09_14_05_07.log"), l.Path())

	sum := md5.Sum([]byte("bad"))
	flagged := scanner.Result{Path: "/data/bad.exe", Fingerprint: sum[:], Flagged: true}

	l.OnScanStarted(walker.Totals{Files: 3, Bytes: 30})
	l.OnFileScanned(flagged)
	l.OnFileFlagged(flagged)
	l.OnScanFinished(&scanner.Report{
		ID:           "run",
		Root:         "/data",
		FilesScanned: 3,
		FlaggedCount: 1,
		StartedAt:    at,
		FinishedAt:   at.Add(time.Second),
	})
	require.NoError(t, l.Close())

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)

	assert.Equal(t, "# scan started: 3 files, 30 bytes", lines[0])
	assert.Equal(t, flagged.Fingerprint.String()+"\t/data/bad.exe", lines[1])
	assert.Contains(t, lines[2], "# scan completed: id=run")
	assert.Contains(t, lines[2], "flagged=1")
}

func TestFileLog_CancelledSummary(t *testing.T) {
	l, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	l.OnScanStarted(walker.Totals{})
	l.OnScanFinished(&scanner.Report{Cancelled: true})
	require.NoError(t, l.Close())

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "# scan started\n")
	assert.Contains(t, string(data), "# scan cancelled")
}
