package messaging

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/pbkdf2"

	"github.com/BaSui01/agentmarket/types"
)

// Messenger errors. Security failures are reported to the caller, never
// swallowed; a failed message must not corrupt router state.
var (
	ErrEncryptFailed    = errors.New("payload encryption failed")
	ErrDecryptFailed    = errors.New("payload decryption failed")
	ErrMissingSecret    = errors.New("master secret is empty")
	ErrNotEncrypted     = errors.New("message payload is not encrypted")
	ErrAlreadyEncrypted = errors.New("message payload is already encrypted")

	// ErrUnknownKeyID is a decryption failure: the ciphertext was sealed
	// under a key this messenger does not hold.
	ErrUnknownKeyID = fmt.Errorf("%w: unknown encryption key id", ErrDecryptFailed)
)

// kdfSalt is the fixed salt for the password-based key derivation.
// Every messenger sharing a message space derives identical keys from the
// same master secret.
var kdfSalt = []byte("agentmarket-secure-messaging-v1")

const (
	// MinKDFIterations is the floor a validated configuration enforces for
	// the PBKDF2 iteration count.
	MinKDFIterations = 100_000

	defaultKDFIterations = MinKDFIterations
	derivedKeyLen        = 32
)

// MessengerConfig holds configuration for the secure messenger.
type MessengerConfig struct {
	// MasterSecret is the shared secret the payload encryption key and the
	// default signing key are derived from. Required.
	MasterSecret string `json:"master_secret" yaml:"master_secret"`

	// KDFIterations is the PBKDF2 iteration count (default: 100000).
	// Validated configurations reject values below MinKDFIterations.
	KDFIterations int `json:"kdf_iterations" yaml:"kdf_iterations"`

	// DefaultTTL is the TTL in seconds applied to created messages when the
	// caller does not set one. Zero means messages do not expire.
	DefaultTTL int `json:"default_ttl" yaml:"default_ttl"`
}

// DefaultMessengerConfig returns a MessengerConfig with sensible defaults.
// The master secret must still be supplied by the caller.
func DefaultMessengerConfig() MessengerConfig {
	return MessengerConfig{
		KDFIterations: defaultKDFIterations,
		DefaultTTL:    300,
	}
}

// SecureMessenger encrypts and decrypts message payloads with a key derived
// from a shared master secret, and signs and verifies messages with a keyed
// MAC. Per-agent signing keys are supported via RegisterAgentKey; senders
// without a registered key fall back to the master key.
type SecureMessenger struct {
	config MessengerConfig

	aead  cipher.AEAD
	keyID string

	masterKey []byte

	mu        sync.RWMutex
	agentKeys map[string][]byte

	logger *zap.Logger
}

// NewSecureMessenger creates a messenger from the given configuration.
func NewSecureMessenger(config MessengerConfig, logger *zap.Logger) (*SecureMessenger, error) {
	if config.MasterSecret == "" {
		return nil, ErrMissingSecret
	}
	if config.KDFIterations <= 0 {
		config.KDFIterations = defaultKDFIterations
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	key := deriveKey(config.MasterSecret, config.KDFIterations)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}

	sum := sha256.Sum256(key)

	return &SecureMessenger{
		config:    config,
		aead:      aead,
		keyID:     hex.EncodeToString(sum[:4]),
		masterKey: key,
		agentKeys: make(map[string][]byte),
		logger:    logger.With(zap.String("component", "secure_messenger")),
	}, nil
}

// deriveKey derives a symmetric key from a password using PBKDF2-SHA256
// with the fixed messenger salt.
func deriveKey(password string, iterations int) []byte {
	return pbkdf2.Key([]byte(password), kdfSalt, iterations, derivedKeyLen, sha256.New)
}

// RegisterAgentKey derives and stores a per-agent signing key. Messages
// from that sender are signed and verified with this key instead of the
// master key.
func (s *SecureMessenger) RegisterAgentKey(agentID, secret string) {
	key := deriveKey(secret, s.config.KDFIterations)

	s.mu.Lock()
	s.agentKeys[agentID] = key
	s.mu.Unlock()

	s.logger.Debug("agent signing key registered", zap.String("agent_id", agentID))
}

// signingKey returns the signing key for a sender, falling back to the
// master key.
func (s *SecureMessenger) signingKey(senderID string) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if key, ok := s.agentKeys[senderID]; ok {
		return key
	}
	return s.masterKey
}

// Encrypt serializes the message payload to canonical JSON and replaces it
// with base64(nonce || ciphertext), tagging the message with the key ID.
// Encrypting an already-encrypted message is an error.
func (s *SecureMessenger) Encrypt(msg *types.AgentMessage) error {
	if msg == nil {
		return ErrEncryptFailed
	}
	if msg.IsEncrypted() {
		return ErrAlreadyEncrypted
	}

	plaintext, err := json.Marshal(msg.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncryptFailed, err)
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("%w: %v", ErrEncryptFailed, err)
	}

	sealed := s.aead.Seal(nonce, nonce, plaintext, nil)

	msg.Payload = base64.StdEncoding.EncodeToString(sealed)
	msg.EncryptionKeyID = s.keyID
	return nil
}

// Decrypt is the inverse of Encrypt. It fails with ErrDecryptFailed when
// the ciphertext is malformed or was sealed under a different key; the
// failure affects only the single message.
func (s *SecureMessenger) Decrypt(msg *types.AgentMessage) error {
	if msg == nil || !msg.IsEncrypted() {
		return ErrNotEncrypted
	}
	if msg.EncryptionKeyID != s.keyID {
		return fmt.Errorf("%w: %q", ErrUnknownKeyID, msg.EncryptionKeyID)
	}

	encoded, ok := msg.Payload.(string)
	if !ok {
		return ErrDecryptFailed
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	if len(sealed) < s.aead.NonceSize() {
		return ErrDecryptFailed
	}

	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}

	var payload any
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}

	msg.Payload = payload
	msg.EncryptionKeyID = ""
	return nil
}

// Sign computes a MAC over the canonical message tuple with the sender's
// key and stores it hex encoded in the signature field. Sign after
// Encrypt so the signature covers the ciphertext and verification can
// precede decryption.
func (s *SecureMessenger) Sign(msg *types.AgentMessage) error {
	if msg == nil {
		return types.ErrMessageMissingID
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	mac, err := s.computeMAC(msg, s.signingKey(msg.SenderID))
	if err != nil {
		return err
	}
	msg.Signature = hex.EncodeToString(mac)
	return nil
}

// Verify recomputes the MAC with the sender's key and compares it to the
// stored signature in constant time. Any structural difference, including
// a missing signature, verifies as false. Verify never returns an error;
// a message that cannot be verified is simply not authentic.
func (s *SecureMessenger) Verify(msg *types.AgentMessage) bool {
	if msg == nil || msg.Signature == "" {
		return false
	}
	if msg.Validate() != nil {
		return false
	}

	claimed, err := hex.DecodeString(msg.Signature)
	if err != nil {
		return false
	}

	expected, err := s.computeMAC(msg, s.signingKey(msg.SenderID))
	if err != nil {
		return false
	}

	return hmac.Equal(claimed, expected)
}

// IsExpired reports whether the message TTL has elapsed.
func (s *SecureMessenger) IsExpired(msg *types.AgentMessage) bool {
	return msg != nil && msg.IsExpired(time.Now())
}

// computeMAC computes the HMAC-SHA256 over the canonical tuple
// (message_id | sender | receiver | type | unix timestamp | payload hash).
func (s *SecureMessenger) computeMAC(msg *types.AgentMessage, key []byte) ([]byte, error) {
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to hash payload: %w", err)
	}
	payloadSum := sha256.Sum256(payload)

	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s|%s|%s|%s|%d|%s",
		msg.MessageID,
		msg.SenderID,
		msg.ReceiverID,
		msg.Type,
		msg.Timestamp.Unix(),
		hex.EncodeToString(payloadSum[:]),
	)
	return mac.Sum(nil), nil
}
