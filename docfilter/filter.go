// Package docfilter tracks deleted documents.
//
// A Filter is a roaring bitmap where bit i set means document i is deleted.
// Readers skip deleted documents at query time; merges drop their postings
// for good, after which the bits can be forgotten.
package docfilter

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/barrel/blobstore"
	"github.com/hupe1980/barrel/internal/hash"
	"github.com/hupe1980/barrel/model"
)

// BlobName is the name under which an index persists its filter.
const BlobName = "DELETED"

// ErrCorrupt is returned when a persisted filter fails validation.
var ErrCorrupt = errors.New("docfilter: corrupt filter")

// Filter is a concurrency-safe deletion bitset.
type Filter struct {
	mu sync.RWMutex
	rb *roaring.Bitmap
}

// New returns an empty filter.
func New() *Filter {
	return &Filter{rb: roaring.New()}
}

// Of returns a filter with docs deleted.
func Of(docs ...model.DocID) *Filter {
	f := New()
	f.Delete(docs...)
	return f
}

// Delete marks docs deleted and returns how many were not deleted before.
func (f *Filter) Delete(docs ...model.DocID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	added := 0
	for _, d := range docs {
		if f.rb.CheckedAdd(uint32(d)) {
			added++
		}
	}
	return added
}

// IsDeleted reports whether doc is deleted.
func (f *Filter) IsDeleted(doc model.DocID) bool {
	if f == nil {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.rb.Contains(uint32(doc))
}

// Count returns the number of deleted documents.
func (f *Filter) Count() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.rb.GetCardinality()
}

// Snapshot returns an immutable copy of the deleted set.
func (f *Filter) Snapshot() *roaring.Bitmap {
	if f == nil {
		return roaring.New()
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.rb.Clone()
}

// Survivors returns the documents of docs that are not deleted.
func (f *Filter) Survivors(docs *roaring.Bitmap) *roaring.Bitmap {
	if f == nil {
		return docs.Clone()
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return roaring.AndNot(docs, f.rb)
}

// Forget clears the bits of docs. It is called once merged barrels no
// longer contain those documents.
func (f *Filter) Forget(docs *roaring.Bitmap) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rb.AndNot(docs)
}

// MarshalBinary encodes the filter as [crc32c:u32][roaring bitmap].
func (f *Filter) MarshalBinary() ([]byte, error) {
	f.mu.RLock()
	data, err := f.rb.ToBytes()
	f.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4, 4+len(data))
	binary.LittleEndian.PutUint32(out, hash.CRC32C(data))
	return append(out, data...), nil
}

// UnmarshalBinary replaces the filter contents.
func (f *Filter) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("%w: %d bytes", ErrCorrupt, len(data))
	}
	payload := data[4:]
	if binary.LittleEndian.Uint32(data) != hash.CRC32C(payload) {
		return fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	rb := roaring.New()
	if err := rb.UnmarshalBinary(payload); err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	f.mu.Lock()
	f.rb = rb
	f.mu.Unlock()
	return nil
}

// Save persists the filter under BlobName.
func (f *Filter) Save(ctx context.Context, store blobstore.BlobStore) error {
	data, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	return store.Put(ctx, BlobName, data)
}

// Load reads the filter persisted under BlobName. A missing blob yields an
// empty filter.
func Load(ctx context.Context, store blobstore.BlobStore) (*Filter, error) {
	data, err := blobstore.ReadAll(ctx, store, BlobName)
	if errors.Is(err, blobstore.ErrNotFound) {
		return New(), nil
	}
	if err != nil {
		return nil, err
	}
	f := New()
	if err := f.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return f, nil
}
