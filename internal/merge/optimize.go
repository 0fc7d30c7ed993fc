package merge

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/barrel/model"
)

// OptimizePolicy merges all live barrels into one. It runs once per call
// and ignores tier thresholds.
type OptimizePolicy struct {
	Merger Merger
	Namer  Namer
	// Kind is the compression kind optimized barrels must have.
	Kind model.CompressionKind
}

// Optimize merges barrels into one and returns the result. A single barrel
// that already has Kind and no deleted documents is returned unchanged.
// The boolean reports whether a merge ran.
func (p OptimizePolicy) Optimize(ctx context.Context, barrels []model.BarrelInfo, deleted *roaring.Bitmap) (model.BarrelInfo, bool, error) {
	switch len(barrels) {
	case 0:
		return model.BarrelInfo{}, false, nil
	case 1:
		b := barrels[0]
		if b.Kind == p.Kind && !hasDeletions(b, deleted) {
			return b, false, nil
		}
	}

	var total uint64
	for _, b := range barrels {
		total += b.DocCount
	}
	req := Request{
		Queue:   NewMergeQueue(barrels...),
		Output:  p.Namer(Level(total, DefaultCollisionFactor)),
		Deleted: deleted,
	}
	out, err := p.Merger.Merge(ctx, req)
	if err != nil {
		return model.BarrelInfo{}, false, &Error{Barrels: names(barrels), Level: -1, cause: err}
	}
	return out, true, nil
}

func hasDeletions(b model.BarrelInfo, deleted *roaring.Bitmap) bool {
	if deleted == nil || deleted.IsEmpty() {
		return false
	}
	r := roaring.New()
	r.AddRange(b.BaseDocID, b.LastDocID+1)
	return r.Intersects(deleted)
}
