package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentmarket/types"
)

// newTestMessenger builds a messenger with a reduced iteration count so the
// suite stays fast.
func newTestMessenger(t *testing.T, secret string) *SecureMessenger {
	t.Helper()
	m, err := NewSecureMessenger(MessengerConfig{
		MasterSecret:  secret,
		KDFIterations: 1000,
		DefaultTTL:    300,
	}, nil)
	require.NoError(t, err)
	return m
}

func newTestMessage(payload any) *types.AgentMessage {
	return types.NewAgentMessage(types.MessageTypeDataTransfer, "agent-a", "agent-b", payload)
}

func TestNewSecureMessenger_RequiresSecret(t *testing.T) {
	_, err := NewSecureMessenger(MessengerConfig{}, nil)
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestNewSecureMessenger_SameSecretSameKeyID(t *testing.T) {
	a := newTestMessenger(t, "shared-secret")
	b := newTestMessenger(t, "shared-secret")
	c := newTestMessenger(t, "different-secret")

	assert.Equal(t, a.keyID, b.keyID)
	assert.NotEqual(t, a.keyID, c.keyID)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	m := newTestMessenger(t, "secret")
	msg := newTestMessage(map[string]any{"action": "ping", "count": float64(3)})

	require.NoError(t, m.Encrypt(msg))
	assert.True(t, msg.IsEncrypted())
	ciphertext, ok := msg.Payload.(string)
	require.True(t, ok)
	assert.NotContains(t, ciphertext, "ping")

	require.NoError(t, m.Decrypt(msg))
	assert.False(t, msg.IsEncrypted())
	assert.Equal(t, map[string]any{"action": "ping", "count": float64(3)}, msg.Payload)
}

func TestEncrypt_Twice(t *testing.T) {
	m := newTestMessenger(t, "secret")
	msg := newTestMessage("payload")

	require.NoError(t, m.Encrypt(msg))
	assert.ErrorIs(t, m.Encrypt(msg), ErrAlreadyEncrypted)
}

func TestDecrypt_Plaintext(t *testing.T) {
	m := newTestMessenger(t, "secret")
	msg := newTestMessage("payload")

	assert.ErrorIs(t, m.Decrypt(msg), ErrNotEncrypted)
}

func TestDecrypt_WrongKey(t *testing.T) {
	a := newTestMessenger(t, "secret-a")
	b := newTestMessenger(t, "secret-b")

	msg := newTestMessage("confidential")
	require.NoError(t, a.Encrypt(msg))

	err := b.Decrypt(msg)
	assert.ErrorIs(t, err, ErrUnknownKeyID)
	// A key mismatch is a decryption failure like any other.
	assert.ErrorIs(t, err, ErrDecryptFailed)
	// Ciphertext is untouched on failure.
	assert.True(t, msg.IsEncrypted())
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	m := newTestMessenger(t, "secret")
	msg := newTestMessage("confidential")
	require.NoError(t, m.Encrypt(msg))

	msg.Payload = "not-valid-base64!!!"
	assert.ErrorIs(t, m.Decrypt(msg), ErrDecryptFailed)
}

func TestSignVerify(t *testing.T) {
	m := newTestMessenger(t, "secret")
	msg := newTestMessage(map[string]any{"k": "v"})

	require.NoError(t, m.Sign(msg))
	assert.NotEmpty(t, msg.Signature)
	assert.True(t, m.Verify(msg))
}

func TestVerify_TamperedField(t *testing.T) {
	m := newTestMessenger(t, "secret")

	tests := []struct {
		name   string
		mutate func(*types.AgentMessage)
	}{
		{"sender", func(msg *types.AgentMessage) { msg.SenderID = "impostor" }},
		{"receiver", func(msg *types.AgentMessage) { msg.ReceiverID = "elsewhere" }},
		{"payload", func(msg *types.AgentMessage) { msg.Payload = "swapped" }},
		{"timestamp", func(msg *types.AgentMessage) { msg.Timestamp = msg.Timestamp.Add(time.Minute) }},
		{"signature", func(msg *types.AgentMessage) { msg.Signature = "deadbeef" }},
		{"missing signature", func(msg *types.AgentMessage) { msg.Signature = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := newTestMessage(map[string]any{"k": "v"})
			require.NoError(t, m.Sign(msg))
			tt.mutate(msg)
			assert.False(t, m.Verify(msg))
		})
	}
}

func TestVerify_WrongKey(t *testing.T) {
	a := newTestMessenger(t, "secret-a")
	b := newTestMessenger(t, "secret-b")

	msg := newTestMessage("payload")
	require.NoError(t, a.Sign(msg))
	assert.False(t, b.Verify(msg))
}

func TestVerify_PerAgentKey(t *testing.T) {
	m := newTestMessenger(t, "master")
	m.RegisterAgentKey("agent-a", "agent-a-secret")

	msg := newTestMessage("payload")
	require.NoError(t, m.Sign(msg))
	assert.True(t, m.Verify(msg))

	// A verifier without the per-agent key falls back to the master key and
	// rejects the signature.
	other := newTestMessenger(t, "master")
	assert.False(t, other.Verify(msg))

	other.RegisterAgentKey("agent-a", "agent-a-secret")
	assert.True(t, other.Verify(msg))
}

func TestSignAfterEncrypt_VerifiesBeforeDecrypt(t *testing.T) {
	m := newTestMessenger(t, "secret")
	msg := newTestMessage(map[string]any{"k": "v"})

	require.NoError(t, m.Encrypt(msg))
	require.NoError(t, m.Sign(msg))

	// The signature covers the ciphertext, so verification works without
	// decrypting first.
	assert.True(t, m.Verify(msg))
	require.NoError(t, m.Decrypt(msg))
}

func TestIsExpired(t *testing.T) {
	m := newTestMessenger(t, "secret")

	fresh := newTestMessage("payload")
	fresh.TTL = 60
	assert.False(t, m.IsExpired(fresh))

	stale := newTestMessage("payload")
	stale.TTL = 1
	stale.Timestamp = time.Now().Add(-2 * time.Second)
	assert.True(t, m.IsExpired(stale))

	eternal := newTestMessage("payload")
	eternal.TTL = 0
	eternal.Timestamp = time.Now().Add(-24 * time.Hour)
	assert.False(t, m.IsExpired(eternal))
}
