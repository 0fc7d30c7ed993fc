// Package model defines core types shared by the barrel packages.
//
// # Identity Types
//
//   - DocID: Global document identifier (uint32)
//   - BarrelID: Monotonic identifier used to name barrels (uint64)
//
// # Descriptor Types
//
//   - BarrelInfo: Immutable descriptor of one on-disk barrel
//   - TermInfo: Per-term pointers into a barrel's data section
//   - Posting: One (doc, positions) entry of a term's posting list
package model
