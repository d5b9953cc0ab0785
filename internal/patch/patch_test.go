package patch

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sigscan/internal/db"
	"sigscan/internal/signature"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hexOf(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func fpOf(s string) signature.Fingerprint {
	sum := md5.Sum([]byte(s))
	return sum[:]
}

func setupStore(t *testing.T) *db.SignatureDB {
	t.Helper()

	store, err := db.NewSignatureDB(db.Config{
		Path:      filepath.Join(t.TempDir(), "signatures.db"),
		Algorithm: signature.MD5,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestApply(t *testing.T) {
	store := setupStore(t)
	_, err := store.InsertBatch([]signature.Record{{Fingerprint: fpOf("fp"), Batch: 3}})
	require.NoError(t, err)

	patch := strings.Join([]string{
		"# local corrections",
		"+" + hexOf("new1"),
		hexOf("new2"),
		"",
		"+" + hexOf("new1"),
		"-" + hexOf("fp"),
		"-" + hexOf("never-there"),
		"+zz",
		"-" + hexOf("new2"),
	}, "\n")

	res, err := Apply(context.Background(), store, strings.NewReader(patch))
	require.NoError(t, err)

	assert.Equal(t, Result{Inserted: 2, Removed: 2, Skipped: 3}, res)

	for name, want := range map[string]bool{"new1": true, "new2": false, "fp": false} {
		found, err := store.Exists(fpOf(name))
		require.NoError(t, err)
		assert.Equal(t, want, found, name)
	}

	rec, ok, err := store.Get(fpOf("new1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, signature.LocalBatch, rec.Batch)

	// local inserts never move the watermark
	_, ok, err = store.LatestBatch()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApplyFile(t *testing.T) {
	store := setupStore(t)

	path := filepath.Join(t.TempDir(), "fix.patch")
	require.NoError(t, os.WriteFile(path, []byte(hexOf("a")+"\n"+hexOf("b")+"\n"), 0644))

	res, err := ApplyFile(context.Background(), store, path)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)

	_, err = ApplyFile(context.Background(), store, filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, signature.ErrInvalidPath)
}

type failingStore struct {
	*db.SignatureDB
}

func (failingStore) Remove(signature.Fingerprint) (bool, error) {
	return false, errors.New("disk full")
}

func TestApply_StoreError(t *testing.T) {
	store := failingStore{setupStore(t)}

	res, err := Apply(context.Background(), store, strings.NewReader("+"+hexOf("a")+"\n-"+hexOf("a")+"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
	assert.Equal(t, 1, res.Inserted)
}
