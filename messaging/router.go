package messaging

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmarket/internal/metrics"
	"github.com/BaSui01/agentmarket/types"
)

// Routing rejections. A signature or expiry failure is a hard rejection
// with no retry; the sender must re-sign and resend a fresh message. An
// offline receiver is not an error — the message is queued instead.
var (
	ErrSignatureRejected = errors.New("message signature rejected")
	ErrMessageExpired    = errors.New("message expired")
)

// Handler processes a delivered message. Handlers run synchronously in the
// sender's goroutine; a handler error or panic is isolated and logged
// without aborting delivery to the remaining handlers.
type Handler func(ctx context.Context, msg *types.AgentMessage) error

// RouterConfig holds configuration for the message router.
type RouterConfig struct {
	// MaxQueueDepth bounds each receiver's offline queue (default: 1000).
	MaxQueueDepth int `json:"max_queue_depth" yaml:"max_queue_depth"`

	// QueueBackend selects the offline queue store: "memory" or "redis".
	QueueBackend string `json:"queue_backend" yaml:"queue_backend"`

	// Redis configuration (only used when QueueBackend is "redis").
	Redis RedisConfig `json:"redis" yaml:"redis"`
}

// DefaultRouterConfig returns a RouterConfig with sensible defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		MaxQueueDepth: defaultMaxQueueDepth,
		QueueBackend:  "memory",
		Redis:         DefaultRedisConfig(),
	}
}

// ConnectionState is the registration state of an agent connection.
type ConnectionState string

const (
	// ConnectionActive indicates the agent is reachable for delivery.
	ConnectionActive ConnectionState = "active"
	// ConnectionInactive indicates the agent is registered but unreachable;
	// messages for it are queued.
	ConnectionInactive ConnectionState = "inactive"
)

// connection tracks one agent's registration with the router.
type connection struct {
	agentID     string
	state       ConnectionState
	connectedAt time.Time
	info        map[string]string
}

// DeliveryStats tracks per-sender delivery counters. AvgDeliveryTimeMs is
// a running mean over the delivered count.
type DeliveryStats struct {
	Sent              int64   `json:"sent"`
	Delivered         int64   `json:"delivered"`
	Failed            int64   `json:"failed"`
	AvgDeliveryTimeMs float64 `json:"avg_delivery_time_ms"`
}

// AgentStatusView is a read-only snapshot of one agent's connection state.
type AgentStatusView struct {
	AgentID     string            `json:"agent_id"`
	Registered  bool              `json:"registered"`
	State       ConnectionState   `json:"state,omitempty"`
	ConnectedAt time.Time         `json:"connected_at,omitempty"`
	Info        map[string]string `json:"info,omitempty"`
	QueueDepth  int               `json:"queue_depth"`
	Stats       DeliveryStats     `json:"stats"`
}

// SystemStatus is a read-only snapshot of the router as a whole.
type SystemStatus struct {
	RegisteredAgents int                       `json:"registered_agents"`
	ActiveAgents     int                       `json:"active_agents"`
	QueuedMessages   int                       `json:"queued_messages"`
	QueueDepths      map[string]int            `json:"queue_depths,omitempty"`
	TotalSent        int64                     `json:"total_sent"`
	TotalDelivered   int64                     `json:"total_delivered"`
	TotalFailed      int64                     `json:"total_failed"`
	HandlerCounts    map[types.MessageType]int `json:"handler_counts,omitempty"`
}

// Router delivers authenticated messages to type-keyed handlers, queues
// messages for unreachable receivers, and tracks per-sender delivery
// statistics.
type Router struct {
	messenger *SecureMessenger
	store     QueueStore
	collector *metrics.Collector
	logger    *zap.Logger

	mu    sync.RWMutex
	conns map[string]*connection
	stats map[string]*DeliveryStats

	handlerMu sync.RWMutex
	handlers  map[types.MessageType][]Handler

	defaultTTL int
}

// NewRouter creates a message router on top of the given messenger. A nil
// store uses an in-memory queue store with the default depth bound; a nil
// collector disables metrics.
func NewRouter(messenger *SecureMessenger, store QueueStore, collector *metrics.Collector, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = NewMemoryQueueStore(0, logger)
	}

	return &Router{
		messenger:  messenger,
		store:      store,
		collector:  collector,
		logger:     logger.With(zap.String("component", "message_router")),
		conns:      make(map[string]*connection),
		stats:      make(map[string]*DeliveryStats),
		handlers:   make(map[types.MessageType][]Handler),
		defaultTTL: messenger.config.DefaultTTL,
	}
}

// RegisterAgent marks the agent active and initializes its delivery stats.
// Re-registering is idempotent: the state resets to active while queued
// messages and accumulated stats are preserved.
func (r *Router) RegisterAgent(agentID string, info map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, exists := r.conns[agentID]; exists {
		conn.state = ConnectionActive
		conn.connectedAt = time.Now()
		if info != nil {
			conn.info = info
		}
		r.logger.Info("agent reconnected", zap.String("agent_id", agentID))
		return
	}

	r.conns[agentID] = &connection{
		agentID:     agentID,
		state:       ConnectionActive,
		connectedAt: time.Now(),
		info:        info,
	}
	if _, ok := r.stats[agentID]; !ok {
		r.stats[agentID] = &DeliveryStats{}
	}

	r.logger.Info("agent connection registered", zap.String("agent_id", agentID))
}

// UnregisterAgent marks the agent inactive. Queued messages and stats are
// preserved and remain inspectable. Returns false if the agent was never
// registered.
func (r *Router) UnregisterAgent(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.conns[agentID]
	if !exists {
		return false
	}
	conn.state = ConnectionInactive

	r.logger.Info("agent connection unregistered", zap.String("agent_id", agentID))
	return true
}

// RegisterHandler subscribes a handler for every delivered message of the
// given type. Multiple handlers per type are allowed and all are invoked.
func (r *Router) RegisterHandler(msgType types.MessageType, handler Handler) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	r.handlers[msgType] = append(r.handlers[msgType], handler)
}

// CreateMessage builds, encrypts, and signs a message ready for Send.
// A ttlSeconds of zero applies the messenger's default TTL; a negative
// value disables expiry.
func (r *Router) CreateMessage(sender, receiver string, msgType types.MessageType, payload any, priority types.Priority, ttlSeconds int) (*types.AgentMessage, error) {
	msg := types.NewAgentMessage(msgType, sender, receiver, payload)
	if priority != 0 {
		msg.Priority = priority
	}

	switch {
	case ttlSeconds > 0:
		msg.TTL = ttlSeconds
	case ttlSeconds == 0:
		msg.TTL = r.defaultTTL
	}

	if err := r.messenger.Encrypt(msg); err != nil {
		return nil, err
	}
	if err := r.messenger.Sign(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Send runs the delivery pipeline: verify signature, check expiry, queue
// for unreachable receivers, otherwise decrypt and dispatch to every
// handler registered for the message type. Returns true only on dispatch;
// a queued message returns (false, nil).
func (r *Router) Send(ctx context.Context, msg *types.AgentMessage) (bool, error) {
	if msg == nil {
		return false, types.ErrMessageMissingID
	}

	if !r.messenger.Verify(msg) {
		r.recordFailure(msg.SenderID)
		r.collector.MessageRejected("signature")
		r.logger.Warn("rejecting message with invalid signature",
			zap.String("message_id", msg.MessageID),
			zap.String("sender_id", msg.SenderID),
		)
		return false, types.NewError(types.ErrSignatureInvalid, "message signature rejected").
			WithCause(ErrSignatureRejected)
	}

	if r.messenger.IsExpired(msg) {
		r.recordFailure(msg.SenderID)
		r.collector.MessageRejected("expired")
		r.logger.Warn("rejecting expired message",
			zap.String("message_id", msg.MessageID),
			zap.String("sender_id", msg.SenderID),
			zap.Int("ttl_seconds", msg.TTL),
		)
		return false, types.NewError(types.ErrExpired, "message ttl elapsed").
			WithCause(ErrMessageExpired)
	}

	r.mu.RLock()
	conn, registered := r.conns[msg.ReceiverID]
	reachable := registered && conn.state == ConnectionActive
	r.mu.RUnlock()

	if !reachable {
		if err := r.store.Enqueue(ctx, msg.ReceiverID, msg); err != nil {
			r.recordFailure(msg.SenderID)
			r.logger.Error("failed to queue message for offline receiver",
				zap.String("message_id", msg.MessageID),
				zap.String("receiver_id", msg.ReceiverID),
				zap.Error(err),
			)
			return false, err
		}
		r.recordSent(msg.SenderID)
		r.collector.MessageQueued()
		r.logger.Debug("message queued for offline receiver",
			zap.String("message_id", msg.MessageID),
			zap.String("receiver_id", msg.ReceiverID),
		)
		return false, nil
	}

	start := time.Now()

	delivered := msg.Clone()
	delivered.RoutingPath = append(delivered.RoutingPath, "router")
	if delivered.IsEncrypted() {
		if err := r.messenger.Decrypt(delivered); err != nil {
			r.recordFailure(msg.SenderID)
			r.collector.MessageRejected("decrypt")
			r.logger.Error("failed to decrypt message",
				zap.String("message_id", msg.MessageID),
				zap.Error(err),
			)
			return false, types.NewError(types.ErrDecryptionFailed, "payload decryption failed").
				WithCause(err)
		}
	}

	r.dispatch(ctx, delivered)

	r.recordDelivery(msg.SenderID, time.Since(start))
	r.collector.MessageDelivered(string(msg.Type))
	return true, nil
}

// DrainQueue atomically returns and clears an agent's queued messages.
// Used when an agent reconnects. Messages come back in their encrypted,
// signed form.
func (r *Router) DrainQueue(ctx context.Context, agentID string) ([]*types.AgentMessage, error) {
	return r.store.Drain(ctx, agentID)
}

// AgentStatus returns a read-only snapshot of one agent's connection
// state, queue depth, and delivery stats.
func (r *Router) AgentStatus(ctx context.Context, agentID string) (*AgentStatusView, error) {
	depth, err := r.store.Depth(ctx, agentID)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	view := &AgentStatusView{
		AgentID:    agentID,
		QueueDepth: depth,
	}
	if conn, ok := r.conns[agentID]; ok {
		view.Registered = true
		view.State = conn.state
		view.ConnectedAt = conn.connectedAt
		view.Info = conn.info
	}
	if stats, ok := r.stats[agentID]; ok {
		view.Stats = *stats
	}
	return view, nil
}

// SystemStatus returns aggregate connection state, queue depths, delivery
// counters, and per-type handler counts.
func (r *Router) SystemStatus(ctx context.Context) (*SystemStatus, error) {
	depths, err := r.store.Depths(ctx)
	if err != nil {
		return nil, err
	}

	status := &SystemStatus{
		QueueDepths:   depths,
		HandlerCounts: make(map[types.MessageType]int),
	}
	for _, depth := range depths {
		status.QueuedMessages += depth
	}

	r.mu.RLock()
	status.RegisteredAgents = len(r.conns)
	for _, conn := range r.conns {
		if conn.state == ConnectionActive {
			status.ActiveAgents++
		}
	}
	for _, stats := range r.stats {
		status.TotalSent += stats.Sent
		status.TotalDelivered += stats.Delivered
		status.TotalFailed += stats.Failed
	}
	r.mu.RUnlock()

	r.handlerMu.RLock()
	for msgType, handlers := range r.handlers {
		status.HandlerCounts[msgType] = len(handlers)
	}
	r.handlerMu.RUnlock()

	return status, nil
}

// Messenger returns the underlying secure messenger.
func (r *Router) Messenger() *SecureMessenger {
	return r.messenger
}

// Close closes the router's queue store.
func (r *Router) Close() error {
	return r.store.Close()
}

// dispatch invokes every handler registered for the message type, isolating
// failures per handler.
func (r *Router) dispatch(ctx context.Context, msg *types.AgentMessage) {
	r.handlerMu.RLock()
	handlers := make([]Handler, len(r.handlers[msg.Type]))
	copy(handlers, r.handlers[msg.Type])
	r.handlerMu.RUnlock()

	for _, handler := range handlers {
		r.invoke(ctx, handler, msg)
	}
}

// invoke runs one handler, recovering panics and logging errors so a
// misbehaving handler cannot abort delivery to the rest.
func (r *Router) invoke(ctx context.Context, handler Handler, msg *types.AgentMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("message handler panicked",
				zap.String("message_id", msg.MessageID),
				zap.String("message_type", string(msg.Type)),
				zap.Any("panic", rec),
			)
		}
	}()

	if err := handler(ctx, msg); err != nil {
		r.logger.Warn("message handler returned error",
			zap.String("message_id", msg.MessageID),
			zap.String("message_type", string(msg.Type)),
			zap.Error(err),
		)
	}
}

// recordSent increments the sender's sent counter.
func (r *Router) recordSent(senderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senderStats(senderID).Sent++
}

// recordFailure increments the sender's failed counter.
func (r *Router) recordFailure(senderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senderStats(senderID).Failed++
}

// recordDelivery updates the sender's counters and the running mean of
// delivery time over the delivered count.
func (r *Router) recordDelivery(senderID string, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := r.senderStats(senderID)
	stats.Sent++
	stats.Delivered++

	ms := float64(elapsed.Microseconds()) / 1000.0
	stats.AvgDeliveryTimeMs += (ms - stats.AvgDeliveryTimeMs) / float64(stats.Delivered)
}

// senderStats returns the stats record for a sender, creating it on first
// use. Callers must hold r.mu.
func (r *Router) senderStats(senderID string) *DeliveryStats {
	stats, ok := r.stats[senderID]
	if !ok {
		stats = &DeliveryStats{}
		r.stats[senderID] = stats
	}
	return stats
}
