package types

import (
	"time"
)

// TaskStatus represents the lifecycle status of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is waiting in the queue.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusAssigned indicates the task has been assigned to an agent.
	TaskStatusAssigned TaskStatus = "assigned"
	// TaskStatusInProgress indicates the assigned agent started the task.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusCompleted indicates the task completed successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal returns true if the status is a terminal state.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Priority is the scheduling rank of a task or message.
// Lower numeric value is served first.
type Priority int

const (
	// PriorityCritical is served before all other priorities.
	PriorityCritical Priority = 1
	// PriorityHigh is served before medium and low.
	PriorityHigh Priority = 2
	// PriorityMedium is the default priority.
	PriorityMedium Priority = 3
	// PriorityLow is served last.
	PriorityLow Priority = 4
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// Task is a unit of work submitted to the marketplace. The payload under
// Parameters is opaque to the scheduler; only the scheduling attributes
// are interpreted.
type Task struct {
	// TaskID is the unique task identifier.
	TaskID string `json:"task_id"`

	// TaskType classifies the work.
	TaskType string `json:"task_type"`

	// RequiredCapability must match a capability name on the assigned agent.
	RequiredCapability string `json:"required_capability"`

	// Priority is the scheduling rank (lower value first).
	Priority Priority `json:"priority"`

	// Parameters holds the task payload, opaque to the scheduler.
	Parameters map[string]any `json:"parameters,omitempty"`

	// Status is the current lifecycle status.
	Status TaskStatus `json:"status"`

	// AssignedAgent is the ID of the agent the task is assigned to, if any.
	AssignedAgent string `json:"assigned_agent,omitempty"`

	// CreatedAt is when the task was submitted.
	CreatedAt time.Time `json:"created_at"`

	// AssignedAt is when the task was last assigned.
	AssignedAt *time.Time `json:"assigned_at,omitempty"`

	// CompletedAt is when the task reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Deadline is the hard cutoff after which the task must never be
	// assigned. Zero means no deadline.
	Deadline time.Time `json:"deadline,omitempty"`

	// EstimatedDuration is the caller's estimate of execution time.
	EstimatedDuration time.Duration `json:"estimated_duration"`

	// MaxCost is the maximum acceptable cost for this task.
	MaxCost float64 `json:"max_cost,omitempty"`

	// RetryCount is the number of reassignments after agent failure.
	RetryCount int `json:"retry_count"`

	// MaxRetries bounds RetryCount; once reached the task fails terminally.
	MaxRetries int `json:"max_retries"`

	// Result holds the reported task result.
	Result any `json:"result,omitempty"`

	// ErrorMessage holds the reported failure reason.
	ErrorMessage string `json:"error_message,omitempty"`
}

// IsExpired reports whether the task's deadline has passed at the given time.
func (t *Task) IsExpired(now time.Time) bool {
	return !t.Deadline.IsZero() && now.After(t.Deadline)
}

// ShouldRetry reports whether the task may be reassigned after an agent
// failure.
func (t *Task) ShouldRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// Clone creates a deep copy of the task. The opaque payload and result are
// shared, not copied.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}

	clone := *t

	if t.Parameters != nil {
		clone.Parameters = make(map[string]any, len(t.Parameters))
		for k, v := range t.Parameters {
			clone.Parameters[k] = v
		}
	}
	if t.AssignedAt != nil {
		at := *t.AssignedAt
		clone.AssignedAt = &at
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		clone.CompletedAt = &at
	}

	return &clone
}
