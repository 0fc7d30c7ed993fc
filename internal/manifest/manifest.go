package manifest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/barrel/blobstore"
	"github.com/hupe1980/barrel/model"
)

const (
	ManifestFileName = "MANIFEST"
	CurrentFileName  = "CURRENT"
	// CurrentVersion is the version of the manifest format.
	CurrentVersion = binaryVersion
)

// Manifest is the committed barrel set of an index.
type Manifest struct {
	Version      int
	ID           uint64
	CreatedAt    time.Time
	Kind         model.CompressionKind
	NextBarrelID model.BarrelID
	Barrels      []model.BarrelInfo
	// MergeCounts[i] is the number of merges tier i has performed.
	MergeCounts []uint64
}

// New creates an empty manifest.
func New(kind model.CompressionKind) *Manifest {
	return &Manifest{
		Version:      CurrentVersion,
		CreatedAt:    time.Now(),
		Kind:         kind,
		NextBarrelID: 1,
	}
}

// Clone returns a deep copy.
func (m *Manifest) Clone() *Manifest {
	c := *m
	c.Barrels = slices.Clone(m.Barrels)
	c.MergeCounts = slices.Clone(m.MergeCounts)
	return &c
}

// DocCount sums the live documents of all barrels.
func (m *Manifest) DocCount() uint64 {
	var n uint64
	for _, b := range m.Barrels {
		n += b.DocCount
	}
	return n
}

// FileName returns the blob name of manifest version id.
func FileName(id uint64) string {
	return fmt.Sprintf("%s-%06d.bin", ManifestFileName, id)
}

// Store persists manifests in a blob store and maintains the CURRENT pointer.
type Store struct {
	store blobstore.BlobStore
	mu    sync.Mutex
}

// NewStore creates a manifest store.
func NewStore(store blobstore.BlobStore) *Store {
	return &Store{store: store}
}

// Load loads the manifest CURRENT points at.
func (s *Store) Load(ctx context.Context) (*Manifest, error) {
	return s.LoadVersion(ctx, 0)
}

// LoadVersion loads a specific version. 0 means the current one.
func (s *Store) LoadVersion(ctx context.Context, id uint64) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := FileName(id)
	if id == 0 {
		cur, err := blobstore.ReadAll(ctx, s.store, CurrentFileName)
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		name = strings.TrimSpace(string(cur))
	}

	data, err := blobstore.ReadAll(ctx, s.store, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", name, err)
	}
	m := &Manifest{}
	if err := m.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", name, err)
	}
	return m, nil
}

// Save writes m as a new version and then repoints CURRENT at it.
// m.ID is advanced on success.
func (s *Store) Save(ctx context.Context, m *Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := *m
	next.Version = CurrentVersion
	next.ID++
	next.CreatedAt = time.Now()

	data, err := next.MarshalBinary()
	if err != nil {
		return err
	}
	name := FileName(next.ID)
	if err := s.store.Put(ctx, name, data); err != nil {
		return err
	}
	if err := s.store.Put(ctx, CurrentFileName, []byte(name)); err != nil {
		return err
	}
	m.Version, m.ID, m.CreatedAt = next.Version, next.ID, next.CreatedAt
	return nil
}

// ListVersions returns the ids of all stored manifest versions, ascending.
func (s *Store) ListVersions(ctx context.Context) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.store.List(ctx, ManifestFileName+"-")
	if err != nil {
		return nil, err
	}
	var ids []uint64
	for _, n := range names {
		num, ok := strings.CutSuffix(strings.TrimPrefix(n, ManifestFileName+"-"), ".bin")
		if !ok {
			continue
		}
		id, err := strconv.ParseUint(num, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// DeleteVersion deletes the manifest blob of version id.
func (s *Store) DeleteVersion(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Delete(ctx, FileName(id))
}

// Prune deletes all versions older than current, keeping the newest keep.
func (s *Store) Prune(ctx context.Context, current uint64, keep int) error {
	ids, err := s.ListVersions(ctx)
	if err != nil {
		return err
	}
	var older []uint64
	for _, id := range ids {
		if id < current {
			older = append(older, id)
		}
	}
	if len(older) <= keep {
		return nil
	}
	var errs []error
	for _, id := range older[:len(older)-keep] {
		errs = append(errs, s.DeleteVersion(ctx, id))
	}
	return errors.Join(errs...)
}
