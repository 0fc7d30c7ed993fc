// Package skiplist builds and reads the multi-level skip index stored in
// front of large posting lists.
//
// Level 0 holds one entry per finished posting block. Level L holds one
// entry per interval^L level-0 entries. Each entry stores deltas from the
// previous entry of the same level; entries above level 0 additionally store
// the absolute offset of the mirrored entry in the level below.
//
// Serialized form:
//
//	[levels:1][len(L_top):uvarint][L_top bytes]...[len(L_0):uvarint][L_0 bytes]
//
// Readers are forward-only.
package skiplist
