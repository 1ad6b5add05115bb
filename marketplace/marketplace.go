package marketplace

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentmarket/internal/metrics"
	"github.com/BaSui01/agentmarket/messaging"
	"github.com/BaSui01/agentmarket/types"
)

// SchedulerID is the sender identity the marketplace uses on the message
// bus.
const SchedulerID = "marketplace"

// errAgentSaturated aborts a reservation when the selected agent filled up
// between candidate selection and the capacity check.
var errAgentSaturated = errors.New("agent saturated")

// Config holds configuration for the marketplace scheduler.
type Config struct {
	// SchedulerInterval is the period of the background scheduling worker.
	SchedulerInterval time.Duration `json:"scheduler_interval" yaml:"scheduler_interval"`

	// HeartbeatTimeout is how long an agent may stay silent before it is
	// declared offline and its work reassigned.
	HeartbeatTimeout time.Duration `json:"heartbeat_timeout" yaml:"heartbeat_timeout"`

	// OverloadThreshold is the aggregate load ratio above which the
	// scheduling pass defers instead of assigning.
	OverloadThreshold float64 `json:"overload_threshold" yaml:"overload_threshold"`

	// Strategy selects the load-balancing strategy by name.
	Strategy string `json:"strategy" yaml:"strategy"`

	// Weights are the performance_weighted scoring weights.
	Weights ScoreWeights `json:"score_weights" yaml:"score_weights"`

	// MetricSmoothing is the weight of the old value in the exponential
	// performance-metric update (newMetric = s*old + (1-s)*reported).
	MetricSmoothing float64 `json:"metric_smoothing" yaml:"metric_smoothing"`

	// DefaultMaxRetries applies to submitted tasks that do not set one.
	DefaultMaxRetries int `json:"default_max_retries" yaml:"default_max_retries"`

	// CompletedRetention is how long terminal tasks stay queryable.
	CompletedRetention time.Duration `json:"completed_retention" yaml:"completed_retention"`

	// CleanupInterval is how often the completed-task cleanup runs.
	CleanupInterval time.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`
}

// DefaultConfig returns a Config with the reference defaults.
func DefaultConfig() Config {
	return Config{
		SchedulerInterval:  time.Second,
		HeartbeatTimeout:   5 * time.Minute,
		OverloadThreshold:  0.9,
		Strategy:           StrategyPerformanceWeighted,
		Weights:            DefaultScoreWeights(),
		MetricSmoothing:    0.9,
		DefaultMaxRetries:  3,
		CompletedRetention: time.Hour,
		CleanupInterval:    time.Minute,
	}
}

// withDefaults fills zero fields with the reference defaults.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SchedulerInterval <= 0 {
		c.SchedulerInterval = d.SchedulerInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.OverloadThreshold <= 0 {
		c.OverloadThreshold = d.OverloadThreshold
	}
	if c.Weights == (ScoreWeights{}) {
		c.Weights = d.Weights
	}
	if c.MetricSmoothing <= 0 || c.MetricSmoothing >= 1 {
		c.MetricSmoothing = d.MetricSmoothing
	}
	if c.DefaultMaxRetries <= 0 {
		c.DefaultMaxRetries = d.DefaultMaxRetries
	}
	if c.CompletedRetention <= 0 {
		c.CompletedRetention = d.CompletedRetention
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	return c
}

// TaskStatusView is a read-only snapshot of one task.
type TaskStatusView struct {
	TaskID        string           `json:"task_id"`
	TaskType      string           `json:"task_type"`
	Status        types.TaskStatus `json:"status"`
	AssignedAgent string           `json:"assigned_agent,omitempty"`
	Priority      types.Priority   `json:"priority"`
	RetryCount    int              `json:"retry_count"`
	CreatedAt     time.Time        `json:"created_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
	Result        any              `json:"result,omitempty"`
	ErrorMessage  string           `json:"error_message,omitempty"`
}

// MarketplaceStatus is an aggregate snapshot of the marketplace.
type MarketplaceStatus struct {
	TotalAgents       int            `json:"total_agents"`
	AvailableAgents   int            `json:"available_agents"`
	PendingTasks      int            `json:"pending_tasks"`
	AssignedTasks     int            `json:"assigned_tasks"`
	InProgressTasks   int            `json:"in_progress_tasks"`
	CompletedTasks    int            `json:"completed_tasks"`
	FailedTasks       int            `json:"failed_tasks"`
	QueueLength       int            `json:"queue_length"`
	SuccessRate       float64        `json:"success_rate"`
	SystemLoad        float64        `json:"system_load"`
	CapabilitySummary map[string]int `json:"capability_summary"`
}

// Marketplace matches submitted tasks to registered agents under capacity
// and capability constraints. One periodic background worker runs the
// scheduling pass, the heartbeat health check, and completed-task cleanup;
// submissions additionally trigger an immediate pass so low-latency
// assignment is not blocked on the tick.
type Marketplace struct {
	config    Config
	registry  *Registry
	queue     *TaskQueue
	router    *messaging.Router
	collector *metrics.Collector
	logger    *zap.Logger

	// mu guards tasks, completed, and perfMetrics.
	mu        sync.Mutex
	tasks     map[string]*types.Task
	completed map[string]*types.Task

	// perfMetrics tracks the smoothed per-agent metric values backing
	// performance_rating.
	perfMetrics map[string]map[string]float64

	// scheduleMu serializes scheduling passes so check-then-assign stays
	// atomic between the background worker and submission-triggered passes.
	scheduleMu sync.Mutex

	strategyMu sync.RWMutex
	strategy   Strategy

	done     chan struct{}
	stopOnce sync.Once
	group    *errgroup.Group
}

// New creates a marketplace on top of the given router. A nil collector
// disables metrics. The marketplace registers its status, result, error,
// and heartbeat handlers on the router.
func New(config Config, router *messaging.Router, collector *metrics.Collector, logger *zap.Logger) (*Marketplace, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config = config.withDefaults()

	strategy, err := NewStrategy(config.Strategy, config.Weights)
	if err != nil {
		return nil, err
	}

	m := &Marketplace{
		config:      config,
		registry:    NewRegistry(logger),
		queue:       NewTaskQueue(),
		router:      router,
		collector:   collector,
		logger:      logger.With(zap.String("component", "marketplace")),
		tasks:       make(map[string]*types.Task),
		completed:   make(map[string]*types.Task),
		perfMetrics: make(map[string]map[string]float64),
		strategy:    strategy,
		done:        make(chan struct{}),
	}

	// The scheduler is itself a reachable receiver so agents can report
	// status and results through the router.
	router.RegisterAgent(SchedulerID, map[string]string{"role": "scheduler"})
	router.RegisterHandler(types.MessageTypeStatusUpdate, m.handleStatusUpdate)
	router.RegisterHandler(types.MessageTypeHeartbeat, m.handleHeartbeat)
	router.RegisterHandler(types.MessageTypeResult, m.handleResult)
	router.RegisterHandler(types.MessageTypeError, m.handleError)

	return m, nil
}

// Start launches the periodic background worker. The worker stops when
// ctx is cancelled or Stop is called.
func (m *Marketplace) Start(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	m.group = group
	group.Go(func() error {
		m.runWorker(ctx)
		return nil
	})

	m.logger.Info("marketplace started",
		zap.Duration("scheduler_interval", m.config.SchedulerInterval),
		zap.Duration("heartbeat_timeout", m.config.HeartbeatTimeout),
		zap.String("strategy", m.currentStrategy().Name()),
	)
	return nil
}

// Stop stops the background worker and waits for it to exit.
func (m *Marketplace) Stop() error {
	m.stopOnce.Do(func() { close(m.done) })
	if m.group == nil {
		return nil
	}
	return m.group.Wait()
}

// runWorker is the single periodic worker: scheduling pass, health check,
// and throttled completed-task cleanup.
func (m *Marketplace) runWorker(ctx context.Context) {
	ticker := time.NewTicker(m.config.SchedulerInterval)
	defer ticker.Stop()

	lastCleanup := time.Now()
	for {
		select {
		case <-ticker.C:
			m.ScheduleOnce()
			m.CheckAgentHealth()
			if time.Since(lastCleanup) >= m.config.CleanupInterval {
				m.CleanupCompleted()
				lastCleanup = time.Now()
			}
		case <-m.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the message router the marketplace is wired to.
func (m *Marketplace) Router() *messaging.Router {
	return m.router
}

// SetStrategy switches the active load-balancing strategy at runtime.
func (m *Marketplace) SetStrategy(name string) error {
	strategy, err := NewStrategy(name, m.config.Weights)
	if err != nil {
		return err
	}

	m.strategyMu.Lock()
	m.strategy = strategy
	m.strategyMu.Unlock()

	m.logger.Info("strategy switched", zap.String("strategy", name))
	return nil
}

func (m *Marketplace) currentStrategy() Strategy {
	m.strategyMu.RLock()
	defer m.strategyMu.RUnlock()
	return m.strategy
}

// RegisterAgent validates and stores an agent profile, announces the agent
// to the router with its capability names as routing metadata, and triggers
// a scheduling pass. Returns false on validation failure.
func (m *Marketplace) RegisterAgent(profile *types.AgentProfile) bool {
	if err := m.registry.Register(profile); err != nil {
		m.logger.Warn("agent registration rejected", zap.Error(err))
		return false
	}

	names := make([]string, 0, len(profile.Capabilities))
	for _, capability := range profile.Capabilities {
		names = append(names, capability.Name)
	}
	m.router.RegisterAgent(profile.AgentID, map[string]string{
		"capabilities": strings.Join(names, ","),
		"agent_type":   profile.AgentType,
	})

	m.collector.AgentCounts(m.registry.Counts())
	m.ScheduleOnce()
	return true
}

// UnregisterAgent returns the agent's assigned tasks to the queue, removes
// the profile, and marks the router connection inactive. Returns false for
// unknown agents.
func (m *Marketplace) UnregisterAgent(agentID string) bool {
	if _, ok := m.registry.Get(agentID); !ok {
		return false
	}

	m.requeueAgentTasks(agentID, "agent unregistered")
	m.registry.Remove(agentID)
	m.router.UnregisterAgent(agentID)
	m.collector.AgentCounts(m.registry.Counts())
	return true
}

// SubmitTask validates a task, enqueues it at its priority, and attempts
// an immediate scheduling pass. Returns the task ID and false on
// validation failure or duplicate ID.
func (m *Marketplace) SubmitTask(task *types.Task) (string, bool) {
	if task == nil || task.TaskID == "" || task.TaskType == "" ||
		task.RequiredCapability == "" || task.EstimatedDuration <= 0 {
		m.logger.Warn("task submission rejected: invalid task")
		return "", false
	}

	stored := task.Clone()
	if stored.Priority == 0 {
		stored.Priority = types.PriorityMedium
	}
	if stored.MaxRetries == 0 {
		stored.MaxRetries = m.config.DefaultMaxRetries
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	stored.Status = types.TaskStatusPending
	stored.AssignedAgent = ""

	m.mu.Lock()
	if _, dup := m.tasks[stored.TaskID]; dup {
		m.mu.Unlock()
		m.logger.Warn("task submission rejected: duplicate id", zap.String("task_id", stored.TaskID))
		return "", false
	}
	if _, dup := m.completed[stored.TaskID]; dup {
		m.mu.Unlock()
		m.logger.Warn("task submission rejected: duplicate id", zap.String("task_id", stored.TaskID))
		return "", false
	}
	m.tasks[stored.TaskID] = stored
	m.mu.Unlock()

	m.queue.Push(stored)
	m.collector.TaskSubmitted(stored.Priority.String())
	m.logger.Info("task submitted",
		zap.String("task_id", stored.TaskID),
		zap.String("required_capability", stored.RequiredCapability),
		zap.String("priority", stored.Priority.String()),
	)

	m.ScheduleOnce()
	return stored.TaskID, true
}

// CancelTask flips a non-terminal task to cancelled, releases the assigned
// agent's slot, and notifies the agent with a coordination message.
// Returns false for unknown or already-terminal tasks.
func (m *Marketplace) CancelTask(taskID string) bool {
	m.mu.Lock()
	task, ok := m.tasks[taskID]
	if !ok || task.Status.IsTerminal() {
		m.mu.Unlock()
		return false
	}

	agentID := task.AssignedAgent
	now := time.Now()
	task.Status = types.TaskStatusCancelled
	task.AssignedAgent = ""
	task.CompletedAt = &now
	m.completed[taskID] = task
	delete(m.tasks, taskID)
	m.mu.Unlock()

	m.queue.Forget(taskID)
	if agentID != "" {
		m.releaseAgentSlot(agentID)
		m.notifyCancellation(agentID, taskID)
	}

	m.collector.TaskFinished(string(types.TaskStatusCancelled))
	m.logger.Info("task cancelled", zap.String("task_id", taskID))
	return true
}

// CompleteTask records a successful result for an assigned task and frees
// the agent's slot. Returns false if the task is unknown or not assigned.
func (m *Marketplace) CompleteTask(taskID string, result any) bool {
	return m.finishTask(taskID, types.TaskStatusCompleted, result, "")
}

// FailTask records a terminal failure for an assigned task and frees the
// agent's slot. Returns false if the task is unknown or not assigned.
func (m *Marketplace) FailTask(taskID, reason string) bool {
	return m.finishTask(taskID, types.TaskStatusFailed, nil, reason)
}

// finishTask moves an in-flight task to a terminal state.
func (m *Marketplace) finishTask(taskID string, status types.TaskStatus, result any, errMsg string) bool {
	m.mu.Lock()
	task, ok := m.tasks[taskID]
	if !ok || (task.Status != types.TaskStatusAssigned && task.Status != types.TaskStatusInProgress) {
		m.mu.Unlock()
		return false
	}

	agentID := task.AssignedAgent
	now := time.Now()
	task.Status = status
	task.Result = result
	task.ErrorMessage = errMsg
	task.CompletedAt = &now
	m.completed[taskID] = task
	delete(m.tasks, taskID)
	m.mu.Unlock()

	m.queue.Forget(taskID)
	if agentID != "" {
		m.releaseAgentSlot(agentID)
	}

	m.collector.TaskFinished(string(status))
	m.logger.Info("task finished",
		zap.String("task_id", taskID),
		zap.String("status", string(status)),
		zap.String("agent_id", agentID),
	)
	return true
}

// GetTaskStatus returns a snapshot of a task, or nil for unknown IDs.
func (m *Marketplace) GetTaskStatus(taskID string) *TaskStatusView {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[taskID]
	if !ok {
		task, ok = m.completed[taskID]
	}
	if !ok {
		return nil
	}

	return &TaskStatusView{
		TaskID:        task.TaskID,
		TaskType:      task.TaskType,
		Status:        task.Status,
		AssignedAgent: task.AssignedAgent,
		Priority:      task.Priority,
		RetryCount:    task.RetryCount,
		CreatedAt:     task.CreatedAt,
		CompletedAt:   task.CompletedAt,
		Result:        task.Result,
		ErrorMessage:  task.ErrorMessage,
	}
}

// FindAgentsForCapability returns the agents declaring a capability,
// sorted by performance rating descending.
func (m *Marketplace) FindAgentsForCapability(capability string, onlyAvailable bool) []*types.AgentProfile {
	return m.registry.FindForCapability(capability, onlyAvailable)
}

// Status returns an aggregate snapshot of agents, tasks, and load.
func (m *Marketplace) Status() *MarketplaceStatus {
	status := &MarketplaceStatus{
		QueueLength:       m.queue.Len(),
		CapabilitySummary: m.registry.CapabilitySummary(),
	}
	status.TotalAgents, status.AvailableAgents = m.registry.Counts()

	current, capacity := m.registry.AggregateLoad()
	if capacity > 0 {
		status.SystemLoad = float64(current) / float64(capacity)
	}

	m.mu.Lock()
	for _, task := range m.tasks {
		switch task.Status {
		case types.TaskStatusPending:
			status.PendingTasks++
		case types.TaskStatusAssigned:
			status.AssignedTasks++
		case types.TaskStatusInProgress:
			status.InProgressTasks++
		}
	}
	for _, task := range m.completed {
		switch task.Status {
		case types.TaskStatusCompleted:
			status.CompletedTasks++
		case types.TaskStatusFailed:
			status.FailedTasks++
		}
	}
	m.mu.Unlock()

	if finished := status.CompletedTasks + status.FailedTasks; finished > 0 {
		status.SuccessRate = float64(status.CompletedTasks) / float64(finished)
	}
	return status
}

// assignment pairs a reserved task with its selected agent while the
// notification is dispatched.
type assignment struct {
	task    *types.Task
	agentID string
}

// ScheduleOnce runs one scheduling pass. Passes are serialized; calling
// this repeatedly is safe and idempotent. Assignment notifications go out
// after the scheduling lock is released, so message handlers never run
// under it.
func (m *Marketplace) ScheduleOnce() {
	start := time.Now()

	m.scheduleMu.Lock()
	assignments := m.schedulePass()
	m.scheduleMu.Unlock()

	for _, a := range assignments {
		m.dispatchAssignment(a)
	}
	m.collector.SchedulingPass(time.Since(start).Seconds())
	m.collector.QueueLength(m.queue.Len())
}

// schedulePass drains eligible work from the queue, reserving an agent for
// each task. Assignment notifications are dispatched by the caller after
// the pass so message handlers never run under the scheduling lock.
func (m *Marketplace) schedulePass() []assignment {
	var assignments []assignment

	for m.queue.Len() > 0 {
		if m.overloaded() {
			m.logger.Debug("scheduling deferred: system overloaded")
			break
		}

		task := m.queue.Pop()
		if task == nil {
			break
		}

		m.mu.Lock()
		if task.Status != types.TaskStatusPending {
			// Cancelled or already reassigned while queued.
			m.mu.Unlock()
			continue
		}
		if task.IsExpired(time.Now()) {
			m.failPendingLocked(task, "expired before assignment")
			m.mu.Unlock()
			continue
		}
		m.mu.Unlock()

		selected := m.selectAgent(task)
		if selected == nil {
			// No eligible agent; push back and stop the pass to avoid a
			// busy spin.
			m.queue.Push(task)
			break
		}

		if !m.reserveAgent(selected.AgentID, task.RequiredCapability) {
			m.queue.Push(task)
			break
		}

		now := time.Now()
		m.mu.Lock()
		task.Status = types.TaskStatusAssigned
		task.AssignedAgent = selected.AgentID
		task.AssignedAt = &now
		m.mu.Unlock()

		assignments = append(assignments, assignment{task: task, agentID: selected.AgentID})
		m.collector.TaskAssigned(m.currentStrategy().Name())
		m.logger.Info("task assigned",
			zap.String("task_id", task.TaskID),
			zap.String("agent_id", selected.AgentID),
			zap.String("strategy", m.currentStrategy().Name()),
		)
	}

	return assignments
}

// selectAgent picks an agent for the task via the active strategy,
// filtering out agents whose advertised cost exceeds the task's budget.
func (m *Marketplace) selectAgent(task *types.Task) *types.AgentProfile {
	candidates := m.registry.EligibleFor(task.RequiredCapability)
	if task.MaxCost > 0 {
		affordable := candidates[:0]
		for _, candidate := range candidates {
			if candidate.CostPerTask <= task.MaxCost {
				affordable = append(affordable, candidate)
			}
		}
		candidates = affordable
	}
	return m.currentStrategy().Select(task, candidates)
}

// reserveAgent increments the agent's task count if it still has headroom,
// flipping it to busy at capacity.
func (m *Marketplace) reserveAgent(agentID, capability string) bool {
	err := m.registry.Update(agentID, func(p *types.AgentProfile) error {
		if !p.IsAvailable() || !p.CanHandle(capability) {
			return errAgentSaturated
		}
		p.CurrentTasks++
		if p.CurrentTasks >= p.MaxConcurrentTasks {
			p.Status = types.AgentStatusBusy
		}
		return nil
	})
	return err == nil
}

// releaseAgentSlot decrements the agent's task count, flipping it back to
// idle when headroom returns.
func (m *Marketplace) releaseAgentSlot(agentID string) {
	err := m.registry.Update(agentID, func(p *types.AgentProfile) error {
		if p.CurrentTasks > 0 {
			p.CurrentTasks--
		}
		if p.Status == types.AgentStatusBusy && p.CurrentTasks < p.MaxConcurrentTasks {
			p.Status = types.AgentStatusIdle
		}
		return nil
	})
	if err != nil {
		m.logger.Debug("release for unknown agent", zap.String("agent_id", agentID))
	}
	m.collector.AgentCounts(m.registry.Counts())
}

// dispatchAssignment sends the signed task-assignment message. A failure
// to create or send the message rolls the assignment back; a message
// queued for an offline receiver is not a failure.
func (m *Marketplace) dispatchAssignment(a assignment) {
	m.mu.Lock()
	payload := map[string]any{
		"task_id":               a.task.TaskID,
		"task_type":             a.task.TaskType,
		"required_capability":   a.task.RequiredCapability,
		"priority":              int(a.task.Priority),
		"parameters":            a.task.Parameters,
		"estimated_duration_ms": a.task.EstimatedDuration.Milliseconds(),
	}
	if !a.task.Deadline.IsZero() {
		payload["deadline"] = a.task.Deadline.Format(time.RFC3339)
	}
	priority := a.task.Priority
	m.mu.Unlock()

	msg, err := m.router.CreateMessage(SchedulerID, a.agentID, types.MessageTypeTaskAssignment, payload, priority, 0)
	if err == nil {
		_, err = m.router.Send(context.Background(), msg)
	}
	if err == nil {
		return
	}

	// Roll back so the task returns to the queue and the agent's slot is
	// freed; assignment is atomic with respect to dispatch failure.
	m.logger.Error("assignment dispatch failed, rolling back",
		zap.String("task_id", a.task.TaskID),
		zap.String("agent_id", a.agentID),
		zap.Error(err),
	)

	m.mu.Lock()
	a.task.Status = types.TaskStatusPending
	a.task.AssignedAgent = ""
	a.task.AssignedAt = nil
	m.mu.Unlock()

	m.releaseAgentSlot(a.agentID)
	m.queue.Push(a.task)
}

// overloaded reports whether aggregate load exceeds the overload threshold.
func (m *Marketplace) overloaded() bool {
	current, capacity := m.registry.AggregateLoad()
	if capacity == 0 {
		return false
	}
	return float64(current)/float64(capacity) > m.config.OverloadThreshold
}

// CheckAgentHealth declares agents offline once their heartbeat is older
// than the timeout and returns their assigned tasks to the queue.
func (m *Marketplace) CheckAgentHealth() {
	now := time.Now()
	for _, profile := range m.registry.List() {
		if profile.Status == types.AgentStatusOffline {
			continue
		}
		if now.Sub(profile.LastHeartbeat) <= m.config.HeartbeatTimeout {
			continue
		}

		err := m.registry.Update(profile.AgentID, func(p *types.AgentProfile) error {
			p.Status = types.AgentStatusOffline
			p.CurrentTasks = 0
			return nil
		})
		if err != nil {
			continue
		}

		m.logger.Warn("agent declared offline: heartbeat timeout",
			zap.String("agent_id", profile.AgentID),
			zap.Time("last_heartbeat", profile.LastHeartbeat),
		)
		m.requeueAgentTasks(profile.AgentID, "heartbeat timeout")
		m.collector.AgentCounts(m.registry.Counts())
	}
}

// requeueAgentTasks returns an agent's in-flight tasks to the queue with
// an incremented retry count. Tasks out of retries fail terminally.
func (m *Marketplace) requeueAgentTasks(agentID, reason string) {
	var requeued []*types.Task

	m.mu.Lock()
	for _, task := range m.tasks {
		if task.AssignedAgent != agentID {
			continue
		}
		if task.Status != types.TaskStatusAssigned && task.Status != types.TaskStatusInProgress {
			continue
		}

		task.RetryCount++
		task.AssignedAgent = ""
		task.AssignedAt = nil
		if task.RetryCount > task.MaxRetries {
			m.failPendingLocked(task, "retries exhausted: "+reason)
			continue
		}
		task.Status = types.TaskStatusPending
		requeued = append(requeued, task)
	}
	m.mu.Unlock()

	for _, task := range requeued {
		m.queue.Push(task)
		m.logger.Info("task returned to queue",
			zap.String("task_id", task.TaskID),
			zap.String("reason", reason),
			zap.Int("retry_count", task.RetryCount),
		)
	}
}

// failPendingLocked terminally fails a task that never reached an agent.
// Callers must hold m.mu.
func (m *Marketplace) failPendingLocked(task *types.Task, reason string) {
	now := time.Now()
	task.Status = types.TaskStatusFailed
	task.ErrorMessage = reason
	task.AssignedAgent = ""
	task.CompletedAt = &now
	m.completed[task.TaskID] = task
	delete(m.tasks, task.TaskID)
	m.queue.Forget(task.TaskID)

	m.collector.TaskFinished(string(types.TaskStatusFailed))
	m.logger.Info("task failed",
		zap.String("task_id", task.TaskID),
		zap.String("reason", reason),
	)
}

// CleanupCompleted drops terminal tasks older than the retention window
// and returns how many were removed.
func (m *Marketplace) CleanupCompleted() int {
	cutoff := time.Now().Add(-m.config.CompletedRetention)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for taskID, task := range m.completed {
		if task.CompletedAt != nil && task.CompletedAt.Before(cutoff) {
			delete(m.completed, taskID)
			removed++
		}
	}
	return removed
}

// notifyCancellation tells the assigned agent its task was cancelled.
// Failures are logged; the cancellation itself already took effect.
func (m *Marketplace) notifyCancellation(agentID, taskID string) {
	payload := map[string]any{"action": "cancel", "task_id": taskID}
	msg, err := m.router.CreateMessage(SchedulerID, agentID, types.MessageTypeCoordination, payload, types.PriorityHigh, 0)
	if err == nil {
		_, err = m.router.Send(context.Background(), msg)
	}
	if err != nil {
		m.logger.Warn("cancellation notice not delivered",
			zap.String("task_id", taskID),
			zap.String("agent_id", agentID),
			zap.Error(err),
		)
	}
}
