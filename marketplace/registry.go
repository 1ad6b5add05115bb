package marketplace

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmarket/types"
)

// Profile validation errors.
var (
	ErrProfileMissingID       = errors.New("agent profile missing agent_id")
	ErrProfileMissingName     = errors.New("agent profile missing name")
	ErrProfileNoCapabilities  = errors.New("agent profile has no capabilities")
	ErrProfileInvalidCapacity = errors.New("agent profile max_concurrent_tasks must be positive")
	ErrAgentNotFound          = errors.New("agent not found")
)

// Registry stores agent profiles and maintains a capability-name index for
// O(1) lookup of the agents that can serve a capability.
type Registry struct {
	mu sync.RWMutex

	// agents stores profiles by agent ID.
	agents map[string]*types.AgentProfile

	// order preserves registration order for round-robin selection and
	// deterministic tie-breaking.
	order []string

	// capabilityIndex maps capability name -> set of agent IDs.
	capabilityIndex map[string]map[string]struct{}

	logger *zap.Logger
}

// NewRegistry creates an empty agent registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		agents:          make(map[string]*types.AgentProfile),
		capabilityIndex: make(map[string]map[string]struct{}),
		logger:          logger.With(zap.String("component", "agent_registry")),
	}
}

// validateProfile checks the registration invariants.
func validateProfile(profile *types.AgentProfile) error {
	if profile == nil || profile.AgentID == "" {
		return ErrProfileMissingID
	}
	if profile.Name == "" {
		return ErrProfileMissingName
	}
	if len(profile.Capabilities) == 0 {
		return ErrProfileNoCapabilities
	}
	if profile.MaxConcurrentTasks <= 0 {
		return ErrProfileInvalidCapacity
	}
	return nil
}

// Register stores a profile. Re-registering an existing agent replaces its
// profile in place, preserving the original registration order and time.
func (r *Registry) Register(profile *types.AgentProfile) error {
	if err := validateProfile(profile); err != nil {
		return err
	}

	stored := profile.Clone()
	now := time.Now()
	if stored.Status == "" {
		stored.Status = types.AgentStatusIdle
	}
	if stored.PerformanceRating == 0 {
		stored.PerformanceRating = 3.0
	}
	if stored.ReliabilityScore == 0 {
		stored.ReliabilityScore = 3.0
	}
	stored.LastHeartbeat = now

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.agents[stored.AgentID]; ok {
		stored.RegisteredAt = existing.RegisteredAt
		r.removeFromIndexLocked(existing)
		r.logger.Info("agent profile replaced", zap.String("agent_id", stored.AgentID))
	} else {
		stored.RegisteredAt = now
		r.order = append(r.order, stored.AgentID)
		r.logger.Info("agent registered",
			zap.String("agent_id", stored.AgentID),
			zap.Int("capabilities", len(stored.Capabilities)),
			zap.Int("max_concurrent_tasks", stored.MaxConcurrentTasks),
		)
	}

	r.agents[stored.AgentID] = stored
	for _, capability := range stored.Capabilities {
		if r.capabilityIndex[capability.Name] == nil {
			r.capabilityIndex[capability.Name] = make(map[string]struct{})
		}
		r.capabilityIndex[capability.Name][stored.AgentID] = struct{}{}
	}

	return nil
}

// Remove deletes an agent, returning its last profile.
func (r *Registry) Remove(agentID string) (*types.AgentProfile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	profile, ok := r.agents[agentID]
	if !ok {
		return nil, false
	}

	r.removeFromIndexLocked(profile)
	delete(r.agents, agentID)
	for i, id := range r.order {
		if id == agentID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	r.logger.Info("agent unregistered", zap.String("agent_id", agentID))
	return profile, true
}

// Get returns a copy of an agent's profile.
func (r *Registry) Get(agentID string) (*types.AgentProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, ok := r.agents[agentID]
	if !ok {
		return nil, false
	}
	return profile.Clone(), true
}

// List returns copies of all profiles in registration order.
func (r *Registry) List() []*types.AgentProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profiles := make([]*types.AgentProfile, 0, len(r.order))
	for _, agentID := range r.order {
		if profile, ok := r.agents[agentID]; ok {
			profiles = append(profiles, profile.Clone())
		}
	}
	return profiles
}

// Update applies fn to the stored profile under the registry lock. The
// scheduler uses this for its check-then-assign step so capacity can never
// be exceeded by concurrent passes. A non-nil error from fn aborts the
// update and is returned as-is; fn must leave the profile unchanged in
// that case.
func (r *Registry) Update(agentID string, fn func(*types.AgentProfile) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	profile, ok := r.agents[agentID]
	if !ok {
		return ErrAgentNotFound
	}
	return fn(profile)
}

// EligibleFor returns copies of the agents that can accept a task with the
// given capability right now, in registration order.
func (r *Registry) EligibleFor(capability string) []*types.AgentProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates, ok := r.capabilityIndex[capability]
	if !ok {
		return nil
	}

	eligible := make([]*types.AgentProfile, 0, len(candidates))
	for _, agentID := range r.order {
		if _, has := candidates[agentID]; !has {
			continue
		}
		profile := r.agents[agentID]
		if profile.IsAvailable() {
			eligible = append(eligible, profile.Clone())
		}
	}
	return eligible
}

// FindForCapability returns copies of the agents declaring the capability,
// optionally filtered to those able to accept another task, sorted by
// performance rating descending.
func (r *Registry) FindForCapability(capability string, onlyAvailable bool) []*types.AgentProfile {
	r.mu.RLock()
	candidates := r.capabilityIndex[capability]
	found := make([]*types.AgentProfile, 0, len(candidates))
	for agentID := range candidates {
		profile := r.agents[agentID]
		if onlyAvailable && !profile.IsAvailable() {
			continue
		}
		found = append(found, profile.Clone())
	}
	r.mu.RUnlock()

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].PerformanceRating > found[j].PerformanceRating
	})
	return found
}

// AggregateLoad returns the summed current tasks and capacity across all
// agents.
func (r *Registry) AggregateLoad() (current, capacity int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, profile := range r.agents {
		current += profile.CurrentTasks
		capacity += profile.MaxConcurrentTasks
	}
	return current, capacity
}

// Counts returns the number of registered agents and how many can accept
// another task.
func (r *Registry) Counts() (registered, available int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	registered = len(r.agents)
	for _, profile := range r.agents {
		if profile.IsAvailable() {
			available++
		}
	}
	return registered, available
}

// CapabilitySummary returns the number of agents declaring each capability.
func (r *Registry) CapabilitySummary() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summary := make(map[string]int, len(r.capabilityIndex))
	for name, agents := range r.capabilityIndex {
		summary[name] = len(agents)
	}
	return summary
}

// removeFromIndexLocked removes an agent's capabilities from the index.
// Callers must hold r.mu.
func (r *Registry) removeFromIndexLocked(profile *types.AgentProfile) {
	for _, capability := range profile.Capabilities {
		if agents, ok := r.capabilityIndex[capability.Name]; ok {
			delete(agents, profile.AgentID)
			if len(agents) == 0 {
				delete(r.capabilityIndex, capability.Name)
			}
		}
	}
}
