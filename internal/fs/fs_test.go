package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	require.NoError(t, Default.MkdirAll(dir, 0o755))

	tmp := filepath.Join(dir, "barrel-000001.brl.partial")
	f, err := Default.OpenFile(tmp, os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())

	final := filepath.Join(dir, "barrel-000001.brl")
	require.NoError(t, Default.Rename(tmp, final))

	entries, err := Default.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "barrel-000001.brl", entries[0].Name())

	require.NoError(t, Default.Remove(final))
	assert.ErrorIs(t, Default.Remove(final), os.ErrNotExist)
}

func TestFaultyFS_WriteLimit(t *testing.T) {
	dir := t.TempDir()
	ffs := NewFaultyFS(nil)
	ffs.Inject(".partial", Fault{FailAfterBytes: 6})

	f, err := ffs.OpenFile(filepath.Join(dir, "a.brl.partial"), os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte("12345"))
	require.NoError(t, err)
	_, err = f.Write([]byte("67"))
	assert.ErrorIs(t, err, ErrInjected)
	require.NoError(t, f.Close())

	// Files without a matching suffix are untouched.
	g, err := ffs.OpenFile(filepath.Join(dir, "CURRENT"), os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = g.Write(make([]byte, 64))
	require.NoError(t, err)
	require.NoError(t, g.Close())
}

func TestFaultyFS_SyncCloseRename(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("disk gone")
	ffs := NewFaultyFS(LocalFS{})
	ffs.Inject(".partial", Fault{FailAfterBytes: -1, FailOnSync: true, FailOnClose: true, FailOnRename: true, Err: boom})

	tmp := filepath.Join(dir, "MANIFEST-000001.bin.partial")
	f, err := ffs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	assert.ErrorIs(t, f.Sync(), boom)
	assert.ErrorIs(t, f.Close(), boom)
	assert.ErrorIs(t, ffs.Rename(tmp, filepath.Join(dir, "MANIFEST-000001.bin")), boom)

	ffs.Clear()
	require.NoError(t, ffs.Rename(tmp, filepath.Join(dir, "MANIFEST-000001.bin")))
}
