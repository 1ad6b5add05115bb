package types

import (
	"time"
)

// AgentStatus represents the availability status of a registered agent.
type AgentStatus string

const (
	// AgentStatusIdle indicates the agent has no tasks and is available.
	AgentStatusIdle AgentStatus = "idle"
	// AgentStatusBusy indicates the agent is at its concurrency capacity.
	AgentStatusBusy AgentStatus = "busy"
	// AgentStatusOverloaded indicates the agent reported load beyond capacity.
	AgentStatusOverloaded AgentStatus = "overloaded"
	// AgentStatusOffline indicates the agent missed heartbeats past the timeout.
	AgentStatusOffline AgentStatus = "offline"
	// AgentStatusMaintenance indicates the agent is temporarily withdrawn.
	AgentStatusMaintenance AgentStatus = "maintenance"
)

// Valid reports whether s is one of the defined statuses.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusIdle, AgentStatusBusy, AgentStatusOverloaded,
		AgentStatusOffline, AgentStatusMaintenance:
		return true
	default:
		return false
	}
}

// IsSchedulable reports whether an agent in this status may receive new tasks.
func (s AgentStatus) IsSchedulable() bool {
	switch s {
	case AgentStatusIdle, AgentStatusBusy:
		return true
	default:
		return false
	}
}

// Capability describes a named unit of work an agent can perform.
type Capability struct {
	// Name is the capability identifier tasks match against.
	Name string `json:"name"`

	// Category groups related capabilities.
	Category string `json:"category,omitempty"`

	// Version is the capability version string.
	Version string `json:"version,omitempty"`

	// Parameters holds capability-specific settings, opaque to the scheduler.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Rating bounds for performance and reliability scores.
const (
	MinRating = 1.0
	MaxRating = 5.0
)

// AgentProfile holds the identity, capabilities, and mutable scheduling
// state of a registered agent.
type AgentProfile struct {
	// AgentID is the unique agent identifier.
	AgentID string `json:"agent_id"`

	// Name is the human-readable agent name.
	Name string `json:"name"`

	// AgentType classifies the agent implementation.
	AgentType string `json:"agent_type,omitempty"`

	// Status is the current availability status.
	Status AgentStatus `json:"status"`

	// Capabilities is the ordered list of capabilities the agent declares.
	Capabilities []Capability `json:"capabilities"`

	// SpecializationAreas lists domains the agent is tuned for.
	SpecializationAreas []string `json:"specialization_areas,omitempty"`

	// CurrentTasks is the number of tasks currently assigned to the agent.
	CurrentTasks int `json:"current_tasks"`

	// MaxConcurrentTasks is the agent's concurrency capacity bound.
	MaxConcurrentTasks int `json:"max_concurrent_tasks"`

	// PerformanceRating is the agent's performance score in [1.0, 5.0].
	PerformanceRating float64 `json:"performance_rating"`

	// ReliabilityScore is the agent's reliability score in [1.0, 5.0].
	ReliabilityScore float64 `json:"reliability_score"`

	// CostPerTask is the agent's advertised cost per task.
	CostPerTask float64 `json:"cost_per_task,omitempty"`

	// RegisteredAt is when the agent was registered.
	RegisteredAt time.Time `json:"registered_at"`

	// LastHeartbeat is when the last heartbeat was received.
	LastHeartbeat time.Time `json:"last_heartbeat"`

	// Metadata contains additional agent metadata.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CanHandle reports whether the agent declares a capability with the
// given name.
func (p *AgentProfile) CanHandle(capability string) bool {
	for _, c := range p.Capabilities {
		if c.Name == capability {
			return true
		}
	}
	return false
}

// LoadRatio returns CurrentTasks / MaxConcurrentTasks, or 1.0 when the
// capacity bound is not positive.
func (p *AgentProfile) LoadRatio() float64 {
	if p.MaxConcurrentTasks <= 0 {
		return 1.0
	}
	return float64(p.CurrentTasks) / float64(p.MaxConcurrentTasks)
}

// IsAvailable reports whether the agent can accept one more task.
func (p *AgentProfile) IsAvailable() bool {
	return p.Status.IsSchedulable() && p.CurrentTasks < p.MaxConcurrentTasks
}

// Clone creates a deep copy of the profile.
func (p *AgentProfile) Clone() *AgentProfile {
	if p == nil {
		return nil
	}

	clone := *p

	if len(p.Capabilities) > 0 {
		clone.Capabilities = make([]Capability, len(p.Capabilities))
		copy(clone.Capabilities, p.Capabilities)
		for i, c := range p.Capabilities {
			if c.Parameters != nil {
				params := make(map[string]any, len(c.Parameters))
				for k, v := range c.Parameters {
					params[k] = v
				}
				clone.Capabilities[i].Parameters = params
			}
		}
	}

	if len(p.SpecializationAreas) > 0 {
		clone.SpecializationAreas = make([]string, len(p.SpecializationAreas))
		copy(clone.SpecializationAreas, p.SpecializationAreas)
	}

	if p.Metadata != nil {
		clone.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			clone.Metadata[k] = v
		}
	}

	return &clone
}

// ClampRating clamps a rating value into [MinRating, MaxRating].
func ClampRating(v float64) float64 {
	if v < MinRating {
		return MinRating
	}
	if v > MaxRating {
		return MaxRating
	}
	return v
}
