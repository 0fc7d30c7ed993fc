package merge

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/barrel/model"
)

// Namer allocates the descriptor (ID, Name, Level) of a merge output.
type Namer func(level int) model.BarrelInfo

// TierStats describes one tier.
type TierStats struct {
	Level      int
	Barrels    int
	TotalDocs  uint64
	MergeCount uint64
}

type tier struct {
	level      int
	total      uint64
	queue      *MergeQueue
	mergeCount uint64
}

func (t *tier) add(b model.BarrelInfo) {
	t.queue.Insert(b)
	t.total += b.DocCount
}

// absorb moves all barrels of o into t.
func (t *tier) absorb(o *tier) {
	for _, b := range o.queue.Drain() {
		t.add(b)
	}
	o.total = 0
}

// TieredConfig configures a TieredPolicy.
type TieredConfig struct {
	// CollisionFactor is the tier base. Defaults to 3.
	CollisionFactor int
	// Thresholds overrides the collision threshold per level. Levels past
	// the end use CollisionFactor.
	Thresholds []int
	Merger     Merger
	Namer      Namer
	// Deleted returns a snapshot of the deletion filter. May be nil.
	Deleted func() *roaring.Bitmap
	Logger  *slog.Logger
}

// TieredPolicy is the collision-factor tiered merge policy. It is not safe
// for concurrent use; the owning manager serializes access.
type TieredPolicy struct {
	base       int
	thresholds []int
	merger     Merger
	namer      Namer
	deleted    func() *roaring.Bitmap
	logger     *slog.Logger
	tiers      []*tier
}

// NewTieredPolicy creates a tiered policy.
func NewTieredPolicy(cfg TieredConfig) *TieredPolicy {
	if cfg.CollisionFactor < 2 {
		cfg.CollisionFactor = DefaultCollisionFactor
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &TieredPolicy{
		base:       cfg.CollisionFactor,
		thresholds: cfg.Thresholds,
		merger:     cfg.Merger,
		namer:      cfg.Namer,
		deleted:    cfg.Deleted,
		logger:     cfg.Logger,
	}
}

// Threshold returns the number of barrels that triggers a merge of level.
func (p *TieredPolicy) Threshold(level int) int {
	if level < len(p.thresholds) && p.thresholds[level] > 0 {
		return p.thresholds[level]
	}
	return p.base
}

func (p *TieredPolicy) tier(level int) *tier {
	for len(p.tiers) <= level {
		p.tiers = append(p.tiers, &tier{level: len(p.tiers), queue: NewMergeQueue()})
	}
	return p.tiers[level]
}

// Restore seeds the tiers with barrels without triggering merges.
func (p *TieredPolicy) Restore(barrels []model.BarrelInfo, mergeCounts []uint64) {
	p.tiers = nil
	for _, b := range barrels {
		if b.DocCount > 0 {
			p.tier(Level(b.DocCount, p.base)).add(b)
		}
	}
	for level, c := range mergeCounts {
		p.tier(level).mergeCount = c
	}
}

// AddBarrel places b in its tier and merges when the tier collides.
func (p *TieredPolicy) AddBarrel(ctx context.Context, b model.BarrelInfo) error {
	if b.DocCount == 0 {
		return fmt.Errorf("%w: %s", ErrEmptySegment, b.Name)
	}
	level := Level(b.DocCount, p.base)
	t := p.tier(level)
	t.add(b)
	if t.queue.Len() < p.Threshold(level) {
		return nil
	}
	return p.trigger(ctx, level)
}

// cascade folds the tier at level into higher tiers that its merge output
// would overflow and returns the tier to merge.
func (p *TieredPolicy) cascade(level int) *tier {
	cur := p.tiers[level]
	for {
		target := Level(cur.total, p.base)
		if target <= cur.level || target >= len(p.tiers) {
			return cur
		}
		upper := p.tiers[target]
		if upper.queue.Len() == 0 || upper.queue.Len()+1 < p.Threshold(target) {
			return cur
		}
		p.logger.Debug("tier folded upward", slog.Int("from", cur.level), slog.Int("to", upper.level))
		upper.absorb(cur)
		cur = upper
	}
}

// foldOverlaps folds every other tier holding a barrel whose base doc id
// falls inside the doc id span of cur. All tiers are scanned on every
// trigger.
func (p *TieredPolicy) foldOverlaps(cur *tier) {
	for changed := true; changed; {
		changed = false
		lo, hi, ok := span(cur.queue.Items())
		if !ok {
			return
		}
		for _, t := range p.tiers {
			if t == cur || t.queue.Len() == 0 {
				continue
			}
			for _, b := range t.queue.Items() {
				if b.BaseDocID >= lo && b.BaseDocID <= hi {
					p.logger.Debug("overlapping tier folded", slog.Int("from", t.level), slog.Int("to", cur.level))
					cur.absorb(t)
					changed = true
					break
				}
			}
		}
	}
}

func (p *TieredPolicy) trigger(ctx context.Context, level int) error {
	cur := p.cascade(level)
	p.foldOverlaps(cur)
	if cur.queue.Len() == 0 {
		return nil
	}

	total := cur.total
	inputs := append([]model.BarrelInfo(nil), cur.queue.Items()...)
	out := p.namer(Level(total, p.base))
	req := Request{Queue: NewMergeQueue(inputs...), Output: out}
	if p.deleted != nil {
		req.Deleted = p.deleted()
	}
	cur.queue.Reset()
	cur.total = 0

	merged, err := p.merger.Merge(ctx, req)
	if err != nil {
		for _, b := range inputs {
			cur.add(b)
		}
		return &Error{Barrels: names(inputs), Level: cur.level, cause: err}
	}
	cur.mergeCount++
	if merged.DocCount == 0 {
		return nil
	}
	return p.AddBarrel(ctx, merged)
}

// Reset drops all tiers and returns the barrels they held.
func (p *TieredPolicy) Reset() []model.BarrelInfo {
	var out []model.BarrelInfo
	for _, t := range p.tiers {
		out = append(out, t.queue.Drain()...)
		t.total = 0
	}
	return out
}

// Barrels returns the barrels currently held in tiers.
func (p *TieredPolicy) Barrels() []model.BarrelInfo {
	var out []model.BarrelInfo
	for _, t := range p.tiers {
		out = append(out, t.queue.Items()...)
	}
	return out
}

// MergeCounts returns the merge count of every tier.
func (p *TieredPolicy) MergeCounts() []uint64 {
	out := make([]uint64, len(p.tiers))
	for i, t := range p.tiers {
		out[i] = t.mergeCount
	}
	return out
}

// Tiers reports the state of all tiers.
func (p *TieredPolicy) Tiers() []TierStats {
	out := make([]TierStats, len(p.tiers))
	for i, t := range p.tiers {
		out[i] = TierStats{Level: t.level, Barrels: t.queue.Len(), TotalDocs: t.total, MergeCount: t.mergeCount}
	}
	return out
}

func names(barrels []model.BarrelInfo) []string {
	out := make([]string, len(barrels))
	for i, b := range barrels {
		out[i] = b.Name
	}
	return out
}

// Error carries the context of a failed merge.
type Error struct {
	Barrels []string
	Level   int
	cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("merge of %d barrels at level %d: %v", len(e.Barrels), e.Level, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }
