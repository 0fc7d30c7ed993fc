package engine

import (
	"sync"

	"github.com/hupe1980/barrel/model"
)

type taskKind uint8

const (
	taskAddSegment taskKind = iota
	taskOptimizeAll
	taskShutdown
)

func (k taskKind) String() string {
	switch k {
	case taskAddSegment:
		return "add_segment"
	case taskOptimizeAll:
		return "optimize_all"
	default:
		return "shutdown"
	}
}

type task struct {
	kind   taskKind
	barrel model.BarrelInfo
}

// taskQueue is an unbounded multi-producer, single-consumer FIFO.
type taskQueue struct {
	mu    sync.Mutex
	items []task
	ready chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{ready: make(chan struct{}, 1)}
}

func (q *taskQueue) push(t task) int {
	q.mu.Lock()
	q.items = append(q.items, t)
	n := len(q.items)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return n
}

// pop blocks until a task is available.
func (q *taskQueue) pop() task {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			t := q.items[0]
			q.items[0] = task{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return t
		}
		q.mu.Unlock()
		<-q.ready
	}
}

// clearWork drops pending AddSegment and OptimizeAll tasks. Shutdown
// tasks are kept so a waiting caller is not stranded.
func (q *taskQueue) clearWork() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0]
	dropped := 0
	for _, t := range q.items {
		if t.kind == taskShutdown {
			kept = append(kept, t)
			continue
		}
		dropped++
	}
	clear(q.items[len(kept):])
	q.items = kept
	return dropped
}

func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
