package merge

import (
	"github.com/hupe1980/barrel/internal/queue"
	"github.com/hupe1980/barrel/model"
)

// DefaultCollisionFactor is the default tier base and collision threshold.
const DefaultCollisionFactor = 3

// MergeQueue holds the barrels of one merge, largest first.
type MergeQueue = queue.Queue[model.BarrelInfo]

func byDocCountDesc(a, b model.BarrelInfo) bool {
	if a.DocCount != b.DocCount {
		return a.DocCount > b.DocCount
	}
	return a.BaseDocID < b.BaseDocID
}

// NewMergeQueue returns a queue containing barrels.
func NewMergeQueue(barrels ...model.BarrelInfo) *MergeQueue {
	return queue.From(byDocCountDesc, append([]model.BarrelInfo(nil), barrels...))
}

// Level returns the tier of a barrel with docs documents: the largest l
// with base^l <= docs. Level(0) is 0.
func Level(docs uint64, base int) int {
	if base < 2 {
		base = DefaultCollisionFactor
	}
	b := uint64(base)
	level := 0
	for docs >= b {
		docs /= b
		level++
	}
	return level
}

// span returns the doc id range covered by barrels.
func span(barrels []model.BarrelInfo) (lo, hi uint64, ok bool) {
	for i, b := range barrels {
		if i == 0 || b.BaseDocID < lo {
			lo = b.BaseDocID
		}
		if i == 0 || b.LastDocID > hi {
			hi = b.LastDocID
		}
	}
	return lo, hi, len(barrels) > 0
}
