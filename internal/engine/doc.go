// Package engine runs compaction and publishes the live barrel set.
//
// Manager is the compaction state machine:
//
//	Idle ──Start──▶ Running ◀──Resume── Paused
//	                   │  ──Pause──▶
//	                   └──Shutdown / fatal error──▶ Stopped
//
// In async mode a single background goroutine consumes a FIFO task queue.
// OptimizeAll clears pending AddSegment tasks before it is queued. In sync
// mode the manager never leaves Idle and runs every task on the caller's
// goroutine.
//
// SegmentSet owns the barrels. Readers acquire an immutable Snapshot that
// pins the barrels it references; a merge replaces its inputs with the
// output by persisting a new manifest and swapping the snapshot pointer.
// Replaced barrels are deleted once the last snapshot using them is
// released.
package engine
