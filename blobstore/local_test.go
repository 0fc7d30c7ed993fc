package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/barrel/internal/fs"
)

var (
	_ BlobStore = (*LocalStore)(nil)
	_ BlobStore = (*MemoryStore)(nil)
	_ Mappable  = (*localBlob)(nil)
)

func TestLocalStore_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStore(dir)
	ctx := context.Background()

	w, err := store.Create(ctx, "barrel-000001.tmp")
	require.NoError(t, err)
	_, err = w.Write([]byte("docs terms postings"))
	require.NoError(t, err)

	// Nothing is listed until the writer is closed.
	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())
	require.NoError(t, store.Rename(ctx, "barrel-000001.tmp", "barrel-000001.brl"))

	b, err := store.Open(ctx, "barrel-000001.brl")
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, int64(19), b.Size())

	buf := make([]byte, 5)
	n, err := b.ReadAt(ctx, buf, 5)
	require.NoError(t, err)
	assert.Equal(t, "terms", string(buf[:n]))

	n, err = b.ReadAt(ctx, buf, 16)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "ngs", string(buf[:n]))

	rc, err := b.ReadRange(ctx, 11, 100)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "postings", string(got))

	_, err = b.ReadRange(ctx, 20, 1)
	assert.ErrorIs(t, err, io.EOF)

	data, err := b.(Mappable).Bytes()
	require.NoError(t, err)
	assert.Equal(t, "docs terms postings", string(data))

	require.NoError(t, store.Put(ctx, "CURRENT", []byte("MANIFEST-000001.bin")))
	names, err = store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"CURRENT", "barrel-000001.brl"}, names)

	names, err = store.List(ctx, "barrel-")
	require.NoError(t, err)
	assert.Equal(t, []string{"barrel-000001.brl"}, names)

	require.NoError(t, store.Delete(ctx, "CURRENT"))
	require.NoError(t, store.Delete(ctx, "CURRENT"))
	_, err = store.Open(ctx, "CURRENT")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore_ListMissingRoot(t *testing.T) {
	store := NewLocalStore(filepath.Join(t.TempDir(), "absent"))
	names, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLocalStore_PutReplacesAtomically(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(t.TempDir())

	require.NoError(t, store.Put(ctx, "DELETED", []byte("v1")))
	require.NoError(t, store.Put(ctx, "DELETED", []byte("version-2")))

	data, err := ReadAll(ctx, store, "DELETED")
	require.NoError(t, err)
	assert.Equal(t, "version-2", string(data))
}

func TestLocalStore_FailedWriteLeavesNoBlob(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ffs := fs.NewFaultyFS(nil)
	store := NewLocalStore(dir, WithFileSystem(ffs))

	require.NoError(t, store.Put(ctx, "CURRENT", []byte("MANIFEST-000001.bin")))

	ffs.Inject(".partial", fs.Fault{FailAfterBytes: 4})
	err := store.Put(ctx, "CURRENT", []byte("MANIFEST-000002.bin"))
	assert.ErrorIs(t, err, fs.ErrInjected)

	ffs.Inject(".partial", fs.Fault{FailAfterBytes: -1, FailOnRename: true})
	err = store.Put(ctx, "CURRENT", []byte("MANIFEST-000003.bin"))
	assert.ErrorIs(t, err, fs.ErrInjected)

	// The previous version survives and no temporary files remain.
	data, err := ReadAll(ctx, store, "CURRENT")
	require.NoError(t, err)
	assert.Equal(t, "MANIFEST-000001.bin", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "CURRENT", entries[0].Name())
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	w, err := store.Create(ctx, "barrel-000002.tmp")
	require.NoError(t, err)
	_, err = w.Write([]byte("abc"))
	require.NoError(t, err)

	_, err = store.Open(ctx, "barrel-000002.tmp")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, w.Close())
	require.NoError(t, store.Rename(ctx, "barrel-000002.tmp", "barrel-000002.brl"))
	assert.ErrorIs(t, store.Rename(ctx, "barrel-000002.tmp", "x"), ErrNotFound)

	data, err := ReadAll(ctx, store, "barrel-000002.brl")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	names, err := store.List(ctx, "barrel-")
	require.NoError(t, err)
	assert.Equal(t, []string{"barrel-000002.brl"}, names)

	_, err = w.Write([]byte("late"))
	assert.Error(t, err)
	assert.Error(t, w.Close())

	src := []byte("MANIFEST")
	require.NoError(t, store.Put(ctx, "CURRENT", src))
	src[0] = 'x'
	data, err = ReadAll(ctx, store, "CURRENT")
	require.NoError(t, err)
	assert.Equal(t, "MANIFEST", string(data))

	b, err := store.Open(ctx, "CURRENT")
	require.NoError(t, err)
	rc, err := b.ReadRange(ctx, 4, 100)
	require.NoError(t, err)
	tail, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "FEST", string(tail))
	_, err = b.ReadAt(ctx, make([]byte, 1), -1)
	assert.Error(t, err)
}
