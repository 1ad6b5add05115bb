package marketplace

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmarket/types"
)

// handleStatusUpdate processes an agent's status report: heartbeat re-arm,
// status and load reconciliation, performance-metric smoothing, and an
// optional piggybacked task-state transition.
func (m *Marketplace) handleStatusUpdate(_ context.Context, msg *types.AgentMessage) error {
	payload, ok := payloadMap(msg.Payload)
	if !ok {
		m.logger.Warn("status update with malformed payload", zap.String("sender_id", msg.SenderID))
		return nil
	}

	agentID := msg.SenderID
	reportedStatus, hasStatus := stringField(payload, "status")
	reportedTasks, hasTasks := intField(payload, "current_tasks")

	err := m.registry.Update(agentID, func(p *types.AgentProfile) error {
		p.LastHeartbeat = time.Now()

		if hasStatus {
			if status := types.AgentStatus(reportedStatus); status.Valid() {
				p.Status = status
			}
		}
		if hasTasks {
			// The agent's own count wins, but a skew beyond one task means
			// one side lost track of an assignment.
			if diff := reportedTasks - p.CurrentTasks; diff > 1 || diff < -1 {
				m.logger.Warn("agent load diverged from tracked load",
					zap.String("agent_id", agentID),
					zap.Int("reported", reportedTasks),
					zap.Int("tracked", p.CurrentTasks),
				)
			}
			p.CurrentTasks = reportedTasks
		}
		return nil
	})
	if err != nil {
		m.logger.Debug("status update from unknown agent", zap.String("agent_id", agentID))
		return nil
	}

	if reported, ok := payload["metrics"]; ok {
		if metricsMap, ok := payloadMap(reported); ok {
			m.smoothMetrics(agentID, metricsMap)
		}
	}

	if taskID, ok := stringField(payload, "task_id"); ok {
		m.applyTaskTransition(agentID, taskID, payload)
	}

	m.collector.AgentCounts(m.registry.Counts())
	return nil
}

// handleHeartbeat re-arms the agent's heartbeat. An offline agent sending a
// heartbeat comes back as idle.
func (m *Marketplace) handleHeartbeat(_ context.Context, msg *types.AgentMessage) error {
	agentID := msg.SenderID
	recovered := false

	err := m.registry.Update(agentID, func(p *types.AgentProfile) error {
		p.LastHeartbeat = time.Now()
		if p.Status == types.AgentStatusOffline {
			p.Status = types.AgentStatusIdle
			p.CurrentTasks = 0
			recovered = true
		}
		return nil
	})
	if err != nil {
		m.logger.Debug("heartbeat from unknown agent", zap.String("agent_id", agentID))
		return nil
	}

	if recovered {
		m.logger.Info("agent recovered from offline", zap.String("agent_id", agentID))
		m.collector.AgentCounts(m.registry.Counts())
		m.ScheduleOnce()
	}
	return nil
}

// handleResult finishes the reported task: success completes it with the
// carried result, anything else fails it.
func (m *Marketplace) handleResult(_ context.Context, msg *types.AgentMessage) error {
	payload, ok := payloadMap(msg.Payload)
	if !ok {
		m.logger.Warn("result message with malformed payload", zap.String("sender_id", msg.SenderID))
		return nil
	}
	taskID, ok := stringField(payload, "task_id")
	if !ok {
		m.logger.Warn("result message without task_id", zap.String("sender_id", msg.SenderID))
		return nil
	}

	success := true
	if v, ok := payload["success"].(bool); ok {
		success = v
	}

	if success {
		m.CompleteTask(taskID, payload["result"])
	} else {
		reason, _ := stringField(payload, "error")
		if reason == "" {
			reason = "agent reported failure"
		}
		m.FailTask(taskID, reason)
	}
	return nil
}

// handleError fails the task named in an error report.
func (m *Marketplace) handleError(_ context.Context, msg *types.AgentMessage) error {
	payload, ok := payloadMap(msg.Payload)
	if !ok {
		return nil
	}
	taskID, ok := stringField(payload, "task_id")
	if !ok {
		m.logger.Warn("error message without task_id", zap.String("sender_id", msg.SenderID))
		return nil
	}

	reason, _ := stringField(payload, "error")
	if reason == "" {
		reason = "agent reported error"
	}
	m.FailTask(taskID, reason)
	return nil
}

// applyTaskTransition applies a piggybacked task-state change from a status
// update. Only transitions for the task's own assigned agent are honored.
func (m *Marketplace) applyTaskTransition(agentID, taskID string, payload map[string]any) {
	state, ok := stringField(payload, "task_status")
	if !ok {
		return
	}

	switch types.TaskStatus(state) {
	case types.TaskStatusInProgress:
		m.mu.Lock()
		if task, ok := m.tasks[taskID]; ok &&
			task.AssignedAgent == agentID && task.Status == types.TaskStatusAssigned {
			task.Status = types.TaskStatusInProgress
		}
		m.mu.Unlock()
	case types.TaskStatusCompleted:
		m.CompleteTask(taskID, payload["result"])
	case types.TaskStatusFailed:
		reason, _ := stringField(payload, "error")
		if reason == "" {
			reason = "agent reported failure"
		}
		m.FailTask(taskID, reason)
	}
}

// smoothMetrics folds reported metric values into the agent's tracked set
// with exponential smoothing, then recomputes the performance rating as the
// clamped mean of all tracked metrics.
func (m *Marketplace) smoothMetrics(agentID string, reported map[string]any) {
	s := m.config.MetricSmoothing

	m.mu.Lock()
	tracked := m.perfMetrics[agentID]
	if tracked == nil {
		tracked = make(map[string]float64)
		m.perfMetrics[agentID] = tracked
	}
	for name, raw := range reported {
		value, ok := floatValue(raw)
		if !ok {
			continue
		}
		if old, exists := tracked[name]; exists {
			tracked[name] = s*old + (1-s)*value
		} else {
			tracked[name] = value
		}
	}
	var sum float64
	count := len(tracked)
	for _, value := range tracked {
		sum += value
	}
	m.mu.Unlock()

	if count == 0 {
		return
	}
	rating := types.ClampRating(sum / float64(count))

	err := m.registry.Update(agentID, func(p *types.AgentProfile) error {
		p.PerformanceRating = rating
		return nil
	})
	if err == nil {
		m.logger.Debug("performance rating updated",
			zap.String("agent_id", agentID),
			zap.Float64("rating", rating),
		)
	}
}

// payloadMap coerces a message payload into a map. Payloads that crossed an
// encrypt/decrypt cycle arrive as map[string]any from the JSON layer; ones
// built in-process may be any map-shaped value, so fall back to a JSON
// round trip.
func payloadMap(payload any) (map[string]any, bool) {
	switch v := payload.(type) {
	case map[string]any:
		return v, true
	case nil:
		return nil, false
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, false
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, false
	}
	return decoded, true
}

// stringField reads a string payload field.
func stringField(payload map[string]any, key string) (string, bool) {
	v, ok := payload[key].(string)
	return v, ok && v != ""
}

// intField reads a numeric payload field as an int. JSON decoding yields
// float64 for all numbers.
func intField(payload map[string]any, key string) (int, bool) {
	value, ok := floatValue(payload[key])
	if !ok {
		return 0, false
	}
	return int(value), true
}

// floatValue coerces the numeric types a payload field may carry.
func floatValue(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
