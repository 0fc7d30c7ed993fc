package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"
)

var (
	errBlobClosed     = errors.New("blobstore: blob writer closed")
	errNegativeOffset = errors.New("blobstore: negative offset")
)

// MemoryStore keeps blobs in memory. It is used by tests and by indexes
// that do not need to outlive the process.
//
// A published blob is never modified again: Put stores a private copy and a
// writer hands its buffer over on Close. Readers therefore share the stored
// slice without copying. Barrels written through Create stay invisible until
// Close, and a later Rename from the temporary name publishes them under
// their final name in one step.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (m *MemoryStore) get(name string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[name]
	return data, ok
}

func (m *MemoryStore) publish(name string, data []byte) {
	m.mu.Lock()
	m.blobs[name] = data
	m.mu.Unlock()
}

// Open returns a read handle sharing the stored bytes.
func (m *MemoryStore) Open(_ context.Context, name string) (Blob, error) {
	data, ok := m.get(name)
	if !ok {
		return nil, ErrNotFound
	}
	return memoryBlob(data), nil
}

// Create returns a writer whose content is published under name on Close.
func (m *MemoryStore) Create(_ context.Context, name string) (WritableBlob, error) {
	return &memoryWriter{store: m, name: name}, nil
}

// Put stores a copy of data under name.
func (m *MemoryStore) Put(_ context.Context, name string, data []byte) error {
	m.publish(name, bytes.Clone(data))
	return nil
}

// Delete removes name. Missing blobs are ignored.
func (m *MemoryStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	delete(m.blobs, name)
	m.mu.Unlock()
	return nil
}

// Rename moves oldName to newName, replacing newName if it exists.
func (m *MemoryStore) Rename(_ context.Context, oldName, newName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[oldName]
	if !ok {
		return ErrNotFound
	}
	delete(m.blobs, oldName)
	m.blobs[newName] = data
	return nil
}

// List returns the sorted names starting with prefix.
func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	names := make([]string, 0, len(m.blobs))
	for name := range m.blobs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	m.mu.RUnlock()
	slices.Sort(names)
	return names, nil
}

// memoryBlob is a published blob. It implements Mappable.
type memoryBlob []byte

func (b memoryBlob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errNegativeOffset
	}
	if off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b memoryBlob) ReadRange(_ context.Context, off, length int64) (io.ReadCloser, error) {
	if off < 0 || length < 0 {
		return nil, errNegativeOffset
	}
	lo := min(off, int64(len(b)))
	hi := min(lo+length, int64(len(b)))
	return io.NopCloser(bytes.NewReader(b[lo:hi])), nil
}

func (b memoryBlob) Bytes() ([]byte, error) { return b, nil }

func (b memoryBlob) Size() int64 { return int64(len(b)) }

func (memoryBlob) Close() error { return nil }

type memoryWriter struct {
	store  *MemoryStore
	name   string
	buf    []byte
	closed bool
}

func (w *memoryWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errBlobClosed
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *memoryWriter) Sync() error {
	if w.closed {
		return errBlobClosed
	}
	return nil
}

// Close publishes the written bytes. The buffer is handed over, not copied.
func (w *memoryWriter) Close() error {
	if w.closed {
		return errBlobClosed
	}
	w.closed = true
	data := w.buf
	if data == nil {
		data = []byte{}
	}
	w.buf = nil
	w.store.publish(w.name, data)
	return nil
}
