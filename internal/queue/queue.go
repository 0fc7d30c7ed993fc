// Package queue provides a generic binary heap.
package queue

import "container/heap"

// Compile time check to ensure Queue satisfies the heap interface.
var _ heap.Interface = (*Queue[int])(nil)

// Queue is a binary heap ordered by a comparator. The element for which
// less reports true against every other element is on top.
type Queue[T any] struct {
	less  func(a, b T) bool
	items []T
}

// New returns an empty queue ordered by less.
func New[T any](less func(a, b T) bool) *Queue[T] {
	return &Queue[T]{less: less}
}

// From builds a queue from items in O(n). The slice is owned by the queue.
func From[T any](less func(a, b T) bool, items []T) *Queue[T] {
	q := &Queue[T]{less: less, items: items}
	heap.Init(q)
	return q
}

// Insert adds an item while maintaining the heap invariant.
func (q *Queue[T]) Insert(item T) {
	q.items = append(q.items, item)
	q.siftUp(len(q.items) - 1)
}

// Top returns the top item without removing it.
func (q *Queue[T]) Top() (T, bool) {
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	return q.items[0], true
}

// PopTop removes and returns the top item.
func (q *Queue[T]) PopTop() (T, bool) {
	var zero T
	n := len(q.items)
	if n == 0 {
		return zero, false
	}
	root := q.items[0]
	last := q.items[n-1]
	q.items[n-1] = zero
	q.items = q.items[:n-1]
	if n-1 > 0 {
		q.items[0] = last
		q.siftDown(0)
	}
	return root, true
}

// FixTop restores the heap invariant after the top item was modified in place.
func (q *Queue[T]) FixTop() {
	if len(q.items) > 0 {
		q.siftDown(0)
	}
}

// ReplaceTop overwrites the top item and restores the heap invariant.
func (q *Queue[T]) ReplaceTop(item T) {
	q.items[0] = item
	q.siftDown(0)
}

// Items returns the items in heap order. The slice must not be modified.
func (q *Queue[T]) Items() []T { return q.items }

// Drain removes all items and returns them in priority order.
func (q *Queue[T]) Drain() []T {
	out := make([]T, 0, len(q.items))
	for len(q.items) > 0 {
		item, _ := q.PopTop()
		out = append(out, item)
	}
	return out
}

// Reset clears the queue for reuse.
func (q *Queue[T]) Reset() {
	clear(q.items)
	q.items = q.items[:0]
}

func (q *Queue[T]) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !q.less(q.items[i], q.items[p]) {
			return
		}
		q.items[i], q.items[p] = q.items[p], q.items[i]
		i = p
	}
}

func (q *Queue[T]) siftDown(i int) {
	n := len(q.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		best := l
		if r := l + 1; r < n && q.less(q.items[r], q.items[l]) {
			best = r
		}
		if !q.less(q.items[best], q.items[i]) {
			return
		}
		q.items[i], q.items[best] = q.items[best], q.items[i]
		i = best
	}
}

// Len returns the number of elements in the queue.
func (q *Queue[T]) Len() int { return len(q.items) }

// Less implements heap.Interface.
func (q *Queue[T]) Less(i, j int) bool { return q.less(q.items[i], q.items[j]) }

// Swap implements heap.Interface.
func (q *Queue[T]) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

// Push implements heap.Interface. Use Insert instead.
func (q *Queue[T]) Push(x any) { q.items = append(q.items, x.(T)) }

// Pop implements heap.Interface. Use PopTop instead.
func (q *Queue[T]) Pop() any {
	var zero T
	n := len(q.items)
	item := q.items[n-1]
	q.items[n-1] = zero
	q.items = q.items[:n-1]
	return item
}
