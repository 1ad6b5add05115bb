package marketplace

import (
	"fmt"

	"github.com/BaSui01/agentmarket/types"
)

// Strategy names selectable via configuration.
const (
	// StrategyRoundRobin picks the first eligible agent in registration order.
	StrategyRoundRobin = "round_robin"
	// StrategyLeastLoaded picks the eligible agent with the lowest load ratio.
	StrategyLeastLoaded = "least_loaded"
	// StrategyPerformanceWeighted scores eligible agents on load, performance,
	// and reliability. This is the default.
	StrategyPerformanceWeighted = "performance_weighted"
)

// ScoreWeights are the performance_weighted scoring weights. They are a
// tunable policy, not a correctness requirement; the defaults reproduce the
// reference weighting.
type ScoreWeights struct {
	// Load weights (1 - loadRatio).
	Load float64 `json:"load" yaml:"load"`

	// Performance weights performance_rating / 5.
	Performance float64 `json:"performance" yaml:"performance"`

	// Reliability weights reliability_score / 5.
	Reliability float64 `json:"reliability" yaml:"reliability"`
}

// DefaultScoreWeights returns the reference 0.4/0.4/0.2 weighting.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{Load: 0.4, Performance: 0.4, Reliability: 0.2}
}

// Strategy selects an agent for a task from a list of eligible candidates.
// Candidates arrive pre-filtered (capable, schedulable, below capacity) in
// registration order; Select returns nil when the list is empty.
type Strategy interface {
	// Name returns the strategy's configuration name.
	Name() string

	// Select picks one candidate for the task.
	Select(task *types.Task, candidates []*types.AgentProfile) *types.AgentProfile
}

// NewStrategy creates a strategy by configuration name.
func NewStrategy(name string, weights ScoreWeights) (Strategy, error) {
	switch name {
	case StrategyRoundRobin:
		return roundRobinStrategy{}, nil
	case StrategyLeastLoaded:
		return leastLoadedStrategy{}, nil
	case StrategyPerformanceWeighted, "":
		return performanceWeightedStrategy{weights: weights}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

type roundRobinStrategy struct{}

func (roundRobinStrategy) Name() string { return StrategyRoundRobin }

func (roundRobinStrategy) Select(_ *types.Task, candidates []*types.AgentProfile) *types.AgentProfile {
	if len(candidates) == 0 {
		return nil
	}
	return candidates[0]
}

type leastLoadedStrategy struct{}

func (leastLoadedStrategy) Name() string { return StrategyLeastLoaded }

func (leastLoadedStrategy) Select(_ *types.Task, candidates []*types.AgentProfile) *types.AgentProfile {
	var best *types.AgentProfile
	for _, candidate := range candidates {
		if best == nil || candidate.LoadRatio() < best.LoadRatio() {
			best = candidate
		}
	}
	return best
}

type performanceWeightedStrategy struct {
	weights ScoreWeights
}

func (performanceWeightedStrategy) Name() string { return StrategyPerformanceWeighted }

func (s performanceWeightedStrategy) Select(_ *types.Task, candidates []*types.AgentProfile) *types.AgentProfile {
	var best *types.AgentProfile
	var bestScore float64

	// Strict > keeps the earlier-registered candidate on ties.
	for _, candidate := range candidates {
		score := s.score(candidate)
		if best == nil || score > bestScore {
			best = candidate
			bestScore = score
		}
	}
	return best
}

// score combines available headroom, performance rating, and reliability
// into a single value in [0, Load+Performance+Reliability].
func (s performanceWeightedStrategy) score(agent *types.AgentProfile) float64 {
	return s.weights.Load*(1-agent.LoadRatio()) +
		s.weights.Performance*(agent.PerformanceRating/types.MaxRating) +
		s.weights.Reliability*(agent.ReliabilityScore/types.MaxRating)
}
