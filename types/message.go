package types

import (
	"time"

	"github.com/google/uuid"
)

// MessageType represents the type of an agent-to-agent message.
type MessageType string

const (
	// MessageTypeTaskAssignment carries a task assignment to an agent.
	MessageTypeTaskAssignment MessageType = "task_assignment"
	// MessageTypeStatusUpdate carries an agent's self-reported status.
	MessageTypeStatusUpdate MessageType = "status_update"
	// MessageTypeResult carries a task result.
	MessageTypeResult MessageType = "result"
	// MessageTypeError carries an error report.
	MessageTypeError MessageType = "error"
	// MessageTypeHeartbeat carries a periodic liveness signal.
	MessageTypeHeartbeat MessageType = "heartbeat"
	// MessageTypeDiscovery carries capability announcements.
	MessageTypeDiscovery MessageType = "discovery"
	// MessageTypeCoordination carries scheduler coordination signals.
	MessageTypeCoordination MessageType = "coordination"
	// MessageTypeDataTransfer carries bulk payload data.
	MessageTypeDataTransfer MessageType = "data_transfer"
)

// IsValid checks whether the message type is a known type.
func (t MessageType) IsValid() bool {
	switch t {
	case MessageTypeTaskAssignment, MessageTypeStatusUpdate, MessageTypeResult,
		MessageTypeError, MessageTypeHeartbeat, MessageTypeDiscovery,
		MessageTypeCoordination, MessageTypeDataTransfer:
		return true
	default:
		return false
	}
}

// String returns the string representation of the message type.
func (t MessageType) String() string {
	return string(t)
}

// AgentMessage is the signed, optionally encrypted envelope exchanged
// between agents and the marketplace.
type AgentMessage struct {
	// MessageID is the unique identifier of this message.
	MessageID string `json:"message_id"`

	// SenderID is the identifier of the sending party.
	SenderID string `json:"sender_id"`

	// ReceiverID is the identifier of the receiving party.
	ReceiverID string `json:"receiver_id"`

	// Type is the message type.
	Type MessageType `json:"message_type"`

	// Priority is the message priority (lower value first).
	Priority Priority `json:"priority"`

	// Payload contains the message data, opaque to the router.
	// After encryption it holds the base64 ciphertext string.
	Payload any `json:"payload,omitempty"`

	// Timestamp is when the message was created.
	Timestamp time.Time `json:"timestamp"`

	// TTL is the number of seconds after Timestamp the message remains
	// deliverable. Zero means no expiry.
	TTL int `json:"ttl,omitempty"`

	// Signature is the keyed MAC over the canonical message tuple,
	// hex encoded. Set at send time, verified at delivery time.
	Signature string `json:"signature,omitempty"`

	// EncryptionKeyID identifies the key used to encrypt the payload.
	// Empty means the payload is plaintext.
	EncryptionKeyID string `json:"encryption_key_id,omitempty"`

	// RoutingPath records the hops the message passed through.
	RoutingPath []string `json:"routing_path,omitempty"`
}

// NewAgentMessage creates a message with a generated ID and the current
// UTC timestamp.
func NewAgentMessage(msgType MessageType, sender, receiver string, payload any) *AgentMessage {
	return &AgentMessage{
		MessageID:  uuid.New().String(),
		SenderID:   sender,
		ReceiverID: receiver,
		Type:       msgType,
		Priority:   PriorityMedium,
		Payload:    payload,
		Timestamp:  time.Now().UTC(),
	}
}

// Validate checks that the message has all required fields.
func (m *AgentMessage) Validate() error {
	if m.MessageID == "" {
		return ErrMessageMissingID
	}
	if !m.Type.IsValid() {
		return ErrMessageInvalidType
	}
	if m.SenderID == "" {
		return ErrMessageMissingSender
	}
	if m.ReceiverID == "" {
		return ErrMessageMissingReceiver
	}
	if m.Timestamp.IsZero() {
		return ErrMessageMissingTimestamp
	}
	return nil
}

// IsExpired reports whether the message TTL has elapsed at the given time.
func (m *AgentMessage) IsExpired(now time.Time) bool {
	if m.TTL <= 0 {
		return false
	}
	return now.After(m.Timestamp.Add(time.Duration(m.TTL) * time.Second))
}

// IsEncrypted reports whether the payload has been replaced by ciphertext.
func (m *AgentMessage) IsEncrypted() bool {
	return m.EncryptionKeyID != ""
}

// Clone creates a copy of the message. The opaque payload is shared.
func (m *AgentMessage) Clone() *AgentMessage {
	if m == nil {
		return nil
	}

	clone := *m
	if len(m.RoutingPath) > 0 {
		clone.RoutingPath = make([]string, len(m.RoutingPath))
		copy(clone.RoutingPath, m.RoutingPath)
	}
	return &clone
}
