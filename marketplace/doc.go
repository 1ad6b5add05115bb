// Package marketplace implements the task-distribution core: an agent
// registry with a capability index, a priority-ordered task queue, pluggable
// load-balancing strategies, and the scheduler that matches pending tasks to
// capable agents, detects failed agents via heartbeats, and reassigns
// orphaned work.
package marketplace
