package messaging

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmarket/types"
)

// Queue store errors.
var (
	ErrStoreClosed = errors.New("queue store is closed")
)

// defaultMaxQueueDepth bounds the per-agent offline queue. When the bound
// is reached the oldest queued message is dropped to make room.
const defaultMaxQueueDepth = 1000

// QueueStore holds messages queued for offline receivers until they are
// drained on reconnect.
type QueueStore interface {
	// Enqueue appends a message to the receiver's queue.
	Enqueue(ctx context.Context, agentID string, msg *types.AgentMessage) error

	// Drain atomically returns and clears the receiver's queued messages.
	Drain(ctx context.Context, agentID string) ([]*types.AgentMessage, error)

	// Depth returns the number of messages queued for the receiver.
	Depth(ctx context.Context, agentID string) (int, error)

	// Depths returns the queue depth for every receiver with queued messages.
	Depths(ctx context.Context) (map[string]int, error)

	// Close closes the store and releases resources.
	Close() error
}

// MemoryQueueStore is the in-memory implementation of QueueStore.
// Suitable for single-process deployments and testing.
type MemoryQueueStore struct {
	mu       sync.Mutex
	queues   map[string][]*types.AgentMessage
	maxDepth int
	closed   bool
	logger   *zap.Logger
}

// NewMemoryQueueStore creates an in-memory queue store. A maxDepth of zero
// or less uses the default bound.
func NewMemoryQueueStore(maxDepth int, logger *zap.Logger) *MemoryQueueStore {
	if maxDepth <= 0 {
		maxDepth = defaultMaxQueueDepth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryQueueStore{
		queues:   make(map[string][]*types.AgentMessage),
		maxDepth: maxDepth,
		logger:   logger.With(zap.String("component", "memory_queue_store")),
	}
}

// Enqueue appends a message to the receiver's queue, dropping the oldest
// queued message when the depth bound is reached.
func (s *MemoryQueueStore) Enqueue(ctx context.Context, agentID string, msg *types.AgentMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	queue := s.queues[agentID]
	if len(queue) >= s.maxDepth {
		dropped := queue[0]
		queue = queue[1:]
		s.logger.Warn("offline queue full, dropping oldest message",
			zap.String("agent_id", agentID),
			zap.String("dropped_message_id", dropped.MessageID),
		)
	}
	s.queues[agentID] = append(queue, msg)
	return nil
}

// Drain atomically returns and clears the receiver's queued messages.
func (s *MemoryQueueStore) Drain(ctx context.Context, agentID string) ([]*types.AgentMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	queue := s.queues[agentID]
	delete(s.queues, agentID)
	return queue, nil
}

// Depth returns the number of messages queued for the receiver.
func (s *MemoryQueueStore) Depth(ctx context.Context, agentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	return len(s.queues[agentID]), nil
}

// Depths returns the queue depth for every receiver with queued messages.
func (s *MemoryQueueStore) Depths(ctx context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	depths := make(map[string]int, len(s.queues))
	for agentID, queue := range s.queues {
		if len(queue) > 0 {
			depths[agentID] = len(queue)
		}
	}
	return depths, nil
}

// Close closes the store.
func (s *MemoryQueueStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.queues = make(map[string][]*types.AgentMessage)
	return nil
}

// Ensure MemoryQueueStore implements QueueStore.
var _ QueueStore = (*MemoryQueueStore)(nil)
