package com

import "context"
import "time"

// bulkIdleTimeout is how long Bulk waits for another item to arrive before flushing
// whatever it has accumulated so far, regardless of count or split policy.
const bulkIdleTimeout = 150 * time.Millisecond

// BulkChunkSplitPolicy decides, for each item appended to the current chunk, whether the chunk must be
// flushed immediately afterward, independently of count.
type BulkChunkSplitPolicy[T any] func(T) bool

// BulkChunkSplitPolicyFactory creates a new BulkChunkSplitPolicy, called once per chunk so that a policy
// can carry state (e.g. "split after the first item with a certain property") across a chunk's lifetime.
type BulkChunkSplitPolicyFactory[T any] func() BulkChunkSplitPolicy[T]

// NeverSplit is a BulkChunkSplitPolicyFactory whose policy never forces an early flush.
func NeverSplit[T any]() BulkChunkSplitPolicy[T] {
	return func(T) bool {
		return false
	}
}

// Bulk reads items from ch and emits them on the returned channel in chunks of up to count items each.
//
// A chunk is flushed early, before reaching count, if the split policy produced by spf reports true for the
// item just appended, or if no further item arrives within a short idle window (so that a slow producer does
// not stall downstream batch processing indefinitely). A non-positive count imposes no chunk size cap; chunks
// are then only split by the idle window, the split policy, or the input channel closing.
//
// The returned channel is closed once ch is closed (after flushing any remaining items) or once ctx is done
// (without flushing, since by then the caller no longer wants the result).
func Bulk[T any](ctx context.Context, ch <-chan T, count int, spf BulkChunkSplitPolicyFactory[T]) <-chan []T {
	out := make(chan []T)

	go func() {
		defer close(out)

		var buf []T
		var split BulkChunkSplitPolicy[T]
		if spf != nil {
			split = spf()
		}

		flush := func() bool {
			if len(buf) == 0 {
				return true
			}

			select {
			case out <- buf:
			case <-ctx.Done():
				return false
			}

			buf = nil
			if spf != nil {
				split = spf()
			}

			return true
		}

		idle := time.NewTimer(bulkIdleTimeout)
		defer idle.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-ch:
				if !ok {
					flush()
					return
				}

				buf = append(buf, v)

				if !idle.Stop() {
					select {
					case <-idle.C:
					default:
					}
				}
				idle.Reset(bulkIdleTimeout)

				if (count > 0 && len(buf) >= count) || (split != nil && split(v)) {
					if !flush() {
						return
					}
				}
			case <-idle.C:
				if !flush() {
					return
				}
				idle.Reset(bulkIdleTimeout)
			}
		}
	}()

	return out
}
