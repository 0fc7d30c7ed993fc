// Package resource bounds what background merges may consume.
//
// A Controller tracks three budgets:
//
//   - Memory: merges reserve their working set up front with Reserve. The
//     call never blocks; an exhausted budget fails with
//     ErrMemoryLimitExceeded and the merge is abandoned.
//   - Workers: AcquireWorker limits how many merges run at once.
//   - IO: NewThrottledWriter rate-limits barrel writes with a token bucket
//     so merges do not starve foreground flushes.
//
// All methods are safe for concurrent use, and a nil *Controller is valid
// and unlimited.
package resource
