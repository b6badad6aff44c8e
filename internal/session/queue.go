package session

import (
	"container/heap"

	"github.com/KDRohit/Aruze10-sub023/internal/task"
	"github.com/KDRohit/Aruze10-sub023/pkg/manifest"
)

// runQueue orders runnable tasks: deeper dependencies first (so a bundle's
// prerequisites are in flight before the bundle itself maps), then work a
// loading screen is blocked on, then enqueue order.
type runQueue struct {
	tasks []*task.Task
	rank  map[manifest.BundleID]int
	dirty bool
}

func newRunQueue() *runQueue {
	return &runQueue{rank: make(map[manifest.BundleID]int)}
}

func (q *runQueue) Len() int { return len(q.tasks) }

func (q *runQueue) Less(i, j int) bool {
	a, b := q.tasks[i], q.tasks[j]
	if ra, rb := q.rank[a.ID], q.rank[b.ID]; ra != rb {
		return ra > rb
	}
	if a.Opts.BlockingUI != b.Opts.BlockingUI {
		return a.Opts.BlockingUI
	}
	return a.Seq < b.Seq
}

func (q *runQueue) Swap(i, j int) { q.tasks[i], q.tasks[j] = q.tasks[j], q.tasks[i] }

func (q *runQueue) Push(x any) { q.tasks = append(q.tasks, x.(*task.Task)) }

func (q *runQueue) Pop() any {
	old := q.tasks
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	q.tasks = old[:n-1]
	return t
}

func (q *runQueue) fix() {
	if q.dirty {
		heap.Init(q)
		q.dirty = false
	}
}

// Enqueue adds a runnable task.
func (q *runQueue) Enqueue(t *task.Task) {
	q.fix()
	heap.Push(q, t)
}

// Dequeue removes and returns the highest-priority task, or nil when empty.
func (q *runQueue) Dequeue() *task.Task {
	if q.Len() == 0 {
		return nil
	}
	q.fix()
	return heap.Pop(q).(*task.Task)
}

// Remove drops the task with the given id, if queued.
func (q *runQueue) Remove(id manifest.BundleID) {
	q.fix()
	for i, t := range q.tasks {
		if t.ID == id {
			heap.Remove(q, i)
			return
		}
	}
}

// RaiseRank lifts a bundle's priority rank. Ranks only ever go up, so a
// bundle requested both directly and as a deep dependency keeps the deeper
// rank. Reports whether the rank changed (or the bundle was unseen), which
// callers use to prune recursive propagation.
func (q *runQueue) RaiseRank(id manifest.BundleID, rank int) bool {
	if cur, ok := q.rank[id]; ok && rank <= cur {
		return false
	}
	q.rank[id] = rank
	q.dirty = true
	return true
}

// DropRank forgets a bundle's rank once its task has left the queue for
// good. The next request for it starts from a fresh rank.
func (q *runQueue) DropRank(id manifest.BundleID) {
	delete(q.rank, id)
}

// MarkDirty flags the ordering stale after a queued task's options changed.
func (q *runQueue) MarkDirty() {
	q.dirty = true
}
