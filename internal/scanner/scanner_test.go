package scanner

import (
	"context"
	"crypto/md5"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"sigscan/internal/signature"
	"sigscan/internal/signature/hasher"
	"sigscan/internal/walker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockLookup struct {
	mock.Mock
}

func (m *MockLookup) Exists(fp signature.Fingerprint) (bool, error) {
	args := m.Called(fp)
	return args.Bool(0), args.Error(1)
}

// setLookup is an in-memory catalog.
type setLookup map[string]struct{}

func newSetLookup(contents ...string) setLookup {
	s := make(setLookup)
	for _, c := range contents {
		s[string(md5Of(c))] = struct{}{}
	}
	return s
}

func (s setLookup) Exists(fp signature.Fingerprint) (bool, error) {
	_, ok := s[string(fp)]
	return ok, nil
}

func md5Of(content string) signature.Fingerprint {
	sum := md5.Sum([]byte(content))
	return sum[:]
}

// failingHasher fails for paths containing a marker.
type failingHasher struct {
	signature.FileHasher
	marker string
}

func (h failingHasher) HashFile(path string) (signature.Fingerprint, error) {
	if strings.Contains(path, h.marker) {
		return nil, signature.ErrUnreadableFile
	}
	return h.FileHasher.HashFile(path)
}

type recordingObserver struct {
	mu       sync.Mutex
	started  int
	scanned  []string
	flagged  []string
	skipped  []string
	finished *Report
	onScan   func(Result)
}

func (o *recordingObserver) OnScanStarted(walker.Totals) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *recordingObserver) OnFileScanned(r Result) {
	o.mu.Lock()
	o.scanned = append(o.scanned, r.Path)
	hook := o.onScan
	o.mu.Unlock()
	if hook != nil {
		hook(r)
	}
}

func (o *recordingObserver) OnFileFlagged(r Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.flagged = append(o.flagged, r.Path)
}

func (o *recordingObserver) OnFileSkipped(sk Skipped) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.skipped = append(o.skipped, sk.Path)
}

func (o *recordingObserver) OnScanFinished(r *Report) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = r
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()

	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return root
}

func newTestScanner(t *testing.T, store signature.Lookup, cfg Config) *Scanner {
	t.Helper()

	h, err := hasher.New(signature.MD5, 0)
	require.NoError(t, err)

	return New(walker.New(walker.Config{}), h, store, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func flaggedPaths(r *Report) []string {
	out := make([]string, 0, len(r.Flagged))
	for _, f := range r.Flagged {
		out = append(out, filepath.Base(f.Path))
	}
	return out
}

func TestScan_FlagsCatalogMatches(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.bin":     "content A",
		"sub/c.bin": "content C",
		"sub/d.bin": "content D",
	})
	store := newSetLookup("content A", "content B")

	obs := &recordingObserver{}
	report, err := newTestScanner(t, store, Config{Observer: obs}).Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 3, report.FilesScanned)
	assert.Equal(t, 1, report.FlaggedCount)
	assert.Equal(t, []string{"a.bin"}, flaggedPaths(report))
	assert.Equal(t, md5Of("content A"), report.Flagged[0].Fingerprint)
	assert.Empty(t, report.Skipped)
	assert.False(t, report.Clean())
	assert.NotEmpty(t, report.ID)

	assert.Equal(t, 1, obs.started)
	assert.Len(t, obs.scanned, 3)
	assert.Len(t, obs.flagged, 1)
	assert.Same(t, report, obs.finished)
}

func TestScan_EmptyFileSkipsLookup(t *testing.T) {
	root := writeTree(t, map[string]string{"empty": ""})

	store := new(MockLookup)
	report, err := newTestScanner(t, store, Config{}).Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 1, report.FilesScanned)
	assert.True(t, report.Clean())
	store.AssertNotCalled(t, "Exists", mock.Anything)
}

func TestScan_Deterministic(t *testing.T) {
	files := map[string]string{}
	catalog := []string{}
	for _, name := range []string{"x", "y", "z", "w", "v", "u"} {
		files["dir/"+name] = "payload " + name
		if name < "x" {
			catalog = append(catalog, "payload "+name)
		}
	}
	root := writeTree(t, files)
	store := newSetLookup(catalog...)

	s := newTestScanner(t, store, Config{Workers: 4})
	first, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	second, err := s.Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{"u", "v", "w"}, flaggedPaths(first))
	assert.Equal(t, flaggedPaths(first), flaggedPaths(second))
	assert.NotEqual(t, first.ID, second.ID)
}

func TestScan_IgnoredFingerprints(t *testing.T) {
	root := writeTree(t, map[string]string{
		"fp.bin":  "false positive",
		"bad.bin": "real threat",
	})
	store := newSetLookup("false positive", "real threat")

	report, err := newTestScanner(t, store, Config{
		Ignored: []signature.Fingerprint{md5Of("false positive")},
	}).Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{"bad.bin"}, flaggedPaths(report))
	assert.Equal(t, 1, report.IgnoredCount)
}

func TestScan_EarlyStop(t *testing.T) {
	files := map[string]string{}
	var catalog []string
	for i := 0; i < 20; i++ {
		content := strings.Repeat("m", i+1)
		files[filepath.Join("d", content)] = content
		catalog = append(catalog, content)
	}
	root := writeTree(t, files)

	report, err := newTestScanner(t, newSetLookup(catalog...), Config{
		Workers:   1,
		EarlyStop: true,
	}).Scan(context.Background(), root)
	require.NoError(t, err)

	assert.True(t, report.StoppedEarly)
	assert.False(t, report.Cancelled)
	assert.Equal(t, 1, report.FlaggedCount)
}

func TestScan_SkipsUnreadableFiles(t *testing.T) {
	root := writeTree(t, map[string]string{
		"ok.bin":     "fine",
		"locked.bin": "content A",
	})

	h, err := hasher.New(signature.MD5, 0)
	require.NoError(t, err)

	obs := &recordingObserver{}
	s := New(walker.New(walker.Config{}), failingHasher{FileHasher: h, marker: "locked"},
		newSetLookup("content A"), Config{Observer: obs}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	report, err := s.Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 1, report.FilesScanned)
	assert.True(t, report.Clean())
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "locked.bin", filepath.Base(report.Skipped[0].Path))
	assert.ErrorIs(t, report.Skipped[0].Err, signature.ErrUnreadableFile)
	assert.Len(t, obs.skipped, 1)
}

func TestScan_StoreErrorIsFatal(t *testing.T) {
	root := writeTree(t, map[string]string{"a": "a", "b": "b"})

	boom := errors.New("bolt: database not open")
	store := new(MockLookup)
	store.On("Exists", mock.Anything).Return(false, boom)

	report, err := newTestScanner(t, store, Config{Workers: 1}).Scan(context.Background(), root)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, report)
	assert.False(t, report.Cancelled)
	store.AssertNumberOfCalls(t, "Exists", 1)
}

func TestScan_InvalidRoot(t *testing.T) {
	_, err := newTestScanner(t, newSetLookup(), Config{}).
		Scan(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, signature.ErrInvalidPath)
}

func TestScan_Cancelled(t *testing.T) {
	files := map[string]string{}
	for i := 0; i < 50; i++ {
		files[filepath.Join("d", strings.Repeat("f", i+1))] = strings.Repeat("x", i+1)
	}
	root := writeTree(t, files)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs := &recordingObserver{}
	obs.onScan = func(Result) { cancel() }

	report, err := newTestScanner(t, newSetLookup(), Config{Workers: 1, Observer: obs}).Scan(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.True(t, report.Cancelled)
	assert.Less(t, report.FilesScanned, 50)
	assert.GreaterOrEqual(t, report.FilesScanned, 1)
}

func TestScan_CountFirst(t *testing.T) {
	root := writeTree(t, map[string]string{"a": "12345", "b/c": "123"})

	report, err := newTestScanner(t, newSetLookup(), Config{CountFirst: true}).Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, int64(2), report.Totals.Files)
	assert.Equal(t, int64(8), report.Totals.Bytes)
	assert.Equal(t, int64(8), report.BytesScanned)
}

func TestScan_SingleFileRoot(t *testing.T) {
	root := writeTree(t, map[string]string{"one": "content A"})

	report, err := newTestScanner(t, newSetLookup("content A"), Config{}).
		Scan(context.Background(), filepath.Join(root, "one"))
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, flaggedPaths(report))
}

func TestScan_SymlinkedRootDirectory(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	root := writeTree(t, map[string]string{
		"a.bin":     "content A",
		"sub/b.bin": "content B",
	})
	link := filepath.Join(t.TempDir(), "link")
	require.NoError(t, os.Symlink(root, link))

	report, err := newTestScanner(t, newSetLookup("content B"), Config{CountFirst: true}).
		Scan(context.Background(), link)
	require.NoError(t, err)

	assert.Equal(t, int64(2), report.Totals.Files)
	assert.Equal(t, 2, report.FilesScanned)
	assert.Equal(t, []string{"b.bin"}, flaggedPaths(report))
	assert.False(t, report.Clean())
}

func TestMultiObserver(t *testing.T) {
	a, b := &recordingObserver{}, &recordingObserver{}
	m := MultiObserver{a, b}

	m.OnScanStarted(walker.Totals{})
	m.OnFileFlagged(Result{Path: "x"})

	assert.Equal(t, 1, a.started)
	assert.Equal(t, []string{"x"}, b.flagged)
}
