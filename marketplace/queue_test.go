package marketplace

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/agentmarket/types"
)

func queuedTask(id string, priority types.Priority) *types.Task {
	return &types.Task{TaskID: id, Priority: priority}
}

func TestTaskQueue_PopEmpty(t *testing.T) {
	q := NewTaskQueue()
	assert.Nil(t, q.Pop())
	assert.Equal(t, 0, q.Len())
}

func TestTaskQueue_PriorityOrdering(t *testing.T) {
	q := NewTaskQueue()
	q.Push(queuedTask("low", types.PriorityLow))
	q.Push(queuedTask("critical", types.PriorityCritical))
	q.Push(queuedTask("medium", types.PriorityMedium))
	q.Push(queuedTask("high", types.PriorityHigh))

	var order []string
	for task := q.Pop(); task != nil; task = q.Pop() {
		order = append(order, task.TaskID)
	}
	assert.Equal(t, []string{"critical", "high", "medium", "low"}, order)
}

func TestTaskQueue_FIFOWithinPriority(t *testing.T) {
	q := NewTaskQueue()
	for _, id := range []string{"first", "second", "third"} {
		q.Push(queuedTask(id, types.PriorityMedium))
	}

	assert.Equal(t, "first", q.Pop().TaskID)
	assert.Equal(t, "second", q.Pop().TaskID)
	assert.Equal(t, "third", q.Pop().TaskID)
}

func TestTaskQueue_RepushKeepsSubmissionOrder(t *testing.T) {
	q := NewTaskQueue()
	first := queuedTask("first", types.PriorityMedium)
	q.Push(first)
	q.Push(queuedTask("second", types.PriorityMedium))

	// Popping and pushing back does not reorder equal-priority tasks.
	assert.Equal(t, "first", q.Pop().TaskID)
	q.Push(first)

	assert.Equal(t, "first", q.Pop().TaskID)
	assert.Equal(t, "second", q.Pop().TaskID)

	// Once forgotten, a re-push counts as a fresh submission.
	q.Forget("first")
	q.Push(first)
	q.Push(queuedTask("third", types.PriorityMedium))

	assert.Equal(t, "first", q.Pop().TaskID)
	assert.Equal(t, "third", q.Pop().TaskID)
}

func TestTaskQueue_InterleavedPushPop(t *testing.T) {
	q := NewTaskQueue()
	q.Push(queuedTask("m1", types.PriorityMedium))
	q.Push(queuedTask("m2", types.PriorityMedium))

	assert.Equal(t, "m1", q.Pop().TaskID)

	// A later push at the same priority still comes after the earlier one.
	q.Push(queuedTask("m3", types.PriorityMedium))
	q.Push(queuedTask("c1", types.PriorityCritical))

	assert.Equal(t, "c1", q.Pop().TaskID)
	assert.Equal(t, "m2", q.Pop().TaskID)
	assert.Equal(t, "m3", q.Pop().TaskID)
	assert.Equal(t, 0, q.Len())
}
