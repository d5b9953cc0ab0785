package cliplugins

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"sigscan/internal/config"
	"sigscan/pkg/cli"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func hexOf(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

type harness struct {
	app *AppContext
	cli *cli.CLI
	out *bytes.Buffer
	dir string
}

func setupHarness(t *testing.T) *harness {
	t.Helper()

	dir := t.TempDir()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.Path = filepath.Join(dir, "data", "signatures.db")
	cfg.ScanLog.Dir = filepath.Join(dir, "logs")
	cfg.History.Path = filepath.Join(dir, "data", "history.sqlite")
	cfg.Updater.InitialInterval = 1
	cfg.Updater.MaxInterval = 1

	out := &bytes.Buffer{}
	app := NewAppContext(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), out)
	t.Cleanup(func() { app.Close() })

	c := cli.NewCLI("sigscan", "test")
	c.RegisterPlugin(NewScanCommand(app))
	c.RegisterPlugin(NewUpdateCommand(app))
	c.RegisterPlugin(NewStatusCommand(app))
	c.RegisterPlugin(NewLookupCommand(app))
	c.RegisterPlugin(NewRemoveCommand(app))
	c.RegisterPlugin(NewPatchCommand(app))
	c.RegisterPlugin(NewHistoryCommand(app))

	return &harness{app: app, cli: c, out: out, dir: dir}
}

func (h *harness) run(t *testing.T, args ...string) error {
	t.Helper()
	h.out.Reset()
	return h.cli.Run(context.Background(), args)
}

func catalogServer(t *testing.T, batches ...[]string) string {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i, names := range batches {
			if r.URL.Path == fmt.Sprintf("/%05d.md5", i) {
				for _, n := range names {
					io.WriteString(w, hexOf(n)+"\n")
				}
				return
			}
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/%05d.md5"
}

func TestCommands_UpdateScanHistory(t *testing.T) {
	h := setupHarness(t)
	url := catalogServer(t, []string{"evil one", "evil two"}, []string{"evil three"})

	require.NoError(t, h.run(t, "update", "--url", url))
	assert.Contains(t, h.out.String(), "ingested 2 batches: 3 inserted")
	assert.Contains(t, h.out.String(), "up to date")

	require.NoError(t, h.run(t, "status"))
	assert.Contains(t, h.out.String(), "signatures: 3")
	assert.Contains(t, h.out.String(), "last batch: 00001")

	root := filepath.Join(h.dir, "tree")
	require.NoError(t, os.MkdirAll(root, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bad"), []byte("evil three"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "good"), []byte("harmless"), 0644))

	err := h.run(t, "scan", root)
	require.Error(t, err)
	assert.True(t, IsThreatsFound(err))
	assert.Contains(t, h.out.String(), "FLAGGED "+hexOf("evil three"))
	assert.Contains(t, h.out.String(), "scanned 2 files")

	logs, err := os.ReadDir(h.app.Config.ScanLog.Dir)
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	require.NoError(t, h.run(t, "history"))
	assert.Contains(t, h.out.String(), "1 flagged")
}

func TestCommands_UpdateCheck(t *testing.T) {
	h := setupHarness(t)
	url := catalogServer(t, []string{"a"})

	require.NoError(t, h.run(t, "update", "--check", "--url", url))
	assert.Contains(t, h.out.String(), "update available")
}

func TestCommands_LookupRemovePatch(t *testing.T) {
	h := setupHarness(t)

	patchFile := filepath.Join(h.dir, "local.patch")
	require.NoError(t, os.WriteFile(patchFile, []byte("+"+hexOf("x")+"\n+"+hexOf("y")+"\n"), 0644))

	require.NoError(t, h.run(t, "patch", patchFile))
	assert.Contains(t, h.out.String(), "inserted 2, removed 0, skipped 0")

	err := h.run(t, "lookup", hexOf("x"), hexOf("z"))
	assert.True(t, IsThreatsFound(err))
	assert.Contains(t, h.out.String(), "local patch")
	assert.Contains(t, h.out.String(), "clean    "+hexOf("z"))

	require.NoError(t, h.run(t, "remove", hexOf("x")))
	assert.Contains(t, h.out.String(), "removed")

	require.NoError(t, h.run(t, "lookup", hexOf("x")))

	target := filepath.Join(h.dir, "sample")
	require.NoError(t, os.WriteFile(target, []byte("y"), 0644))
	err = h.run(t, "lookup", "--file", target)
	assert.True(t, IsThreatsFound(err))

	assert.Error(t, h.run(t, "lookup", "nothex"))
}

func TestCommands_ScanCleanTree(t *testing.T) {
	h := setupHarness(t)

	root := filepath.Join(h.dir, "clean")
	require.NoError(t, os.MkdirAll(root, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "empty"), nil, 0644))

	require.NoError(t, h.run(t, "scan", "--no-log", root))
	assert.Contains(t, h.out.String(), "clean: scanned 2 files")

	_, err := os.Stat(h.app.Config.ScanLog.Dir)
	assert.True(t, os.IsNotExist(err))
}

func TestCommands_ScanMissingPath(t *testing.T) {
	h := setupHarness(t)
	err := h.run(t, "scan", filepath.Join(h.dir, "missing"))
	require.Error(t, err)
	assert.False(t, IsThreatsFound(err))
}

func TestCommands_HistoryDisabled(t *testing.T) {
	h := setupHarness(t)
	h.app.Config.History.Enabled = false
	assert.Error(t, h.run(t, "history"))
}

func TestCommands_ScanJSON(t *testing.T) {
	h := setupHarness(t)

	root := filepath.Join(h.dir, "json")
	require.NoError(t, os.MkdirAll(root, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a"), []byte("a"), 0644))

	h.app.Config.ScanLog.Enabled = false
	require.NoError(t, h.run(t, "scan", "--json", root))

	var report jsonReport
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &report))
	assert.Equal(t, 1, report.FilesScanned)
	assert.Empty(t, report.Flagged)
	assert.NotEmpty(t, report.ID)
	assert.Equal(t, int64(1), report.Metrics.FilesScanned)
	assert.Equal(t, int64(1), report.Metrics.HashedBytes)
	assert.NotEmpty(t, report.Metrics.HashTime)
}
