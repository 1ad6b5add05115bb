package marketplace

import (
	"container/heap"
	"sync"

	"github.com/BaSui01/agentmarket/types"
)

// queueItem is one entry in the task heap. seq is a monotonically
// increasing counter captured when the task is first queued, so tasks of
// equal priority are served in submission order regardless of clock
// resolution.
type queueItem struct {
	task     *types.Task
	priority types.Priority
	seq      uint64
}

// taskHeap orders items by (priority, seq), lower first.
type taskHeap []*queueItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*queueItem)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// TaskQueue is a priority-ordered pending-work queue keyed by
// (priority, submission sequence). It is safe for concurrent use.
type TaskQueue struct {
	mu   sync.Mutex
	heap taskHeap
	seq  uint64

	// seqs remembers each task's submission sequence so a task returned to
	// the queue keeps its place among equals.
	seqs map[string]uint64
}

// NewTaskQueue creates an empty task queue.
func NewTaskQueue() *TaskQueue {
	q := &TaskQueue{seqs: make(map[string]uint64)}
	heap.Init(&q.heap)
	return q
}

// Push enqueues a task at its own priority. The first push stamps the
// submission sequence; pushing the task back later reuses it.
func (q *TaskQueue) Push(task *types.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	seq, ok := q.seqs[task.TaskID]
	if !ok {
		q.seq++
		seq = q.seq
		q.seqs[task.TaskID] = seq
	}
	heap.Push(&q.heap, &queueItem{
		task:     task,
		priority: task.Priority,
		seq:      seq,
	})
}

// Forget drops a task's recorded submission sequence. Call it once the
// task is terminal and can no longer return to the queue.
func (q *TaskQueue) Forget(taskID string) {
	q.mu.Lock()
	delete(q.seqs, taskID)
	q.mu.Unlock()
}

// Pop removes and returns the highest-priority task, or nil when the queue
// is empty.
func (q *TaskQueue) Pop() *types.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return nil
	}
	return heap.Pop(&q.heap).(*queueItem).task
}

// Len returns the number of queued tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}
