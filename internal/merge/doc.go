// Package merge decides when barrels are merged and performs the merges.
//
// TieredPolicy buckets barrels into tiers by document count
// (tier = floor(log_base(docs))) and merges a tier once it holds as many
// barrels as its collision threshold. Before merging, a tier is folded into
// a higher tier that the merge output would immediately overflow, and any
// tier holding a barrel whose doc ids overlap the merge range is folded in
// as well. OptimizePolicy merges every live barrel in one pass.
//
// SegmentMerger does the actual work: it walks the term dictionaries of all
// inputs in lock-step, k-way merges each term's postings in ascending doc
// order, drops documents marked in the deletion filter and writes a fresh
// barrel. On success it emits a ReplaceEvent so the owner can atomically
// swap the inputs for the output.
package merge
