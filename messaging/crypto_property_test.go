package messaging

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/agentmarket/types"
)

func genAgentID() *rapid.Generator[string] {
	return rapid.StringMatching(`[a-z][a-z0-9-]{2,30}`)
}

func genPayload() *rapid.Generator[any] {
	return rapid.Custom(func(t *rapid.T) any {
		switch rapid.IntRange(0, 3).Draw(t, "payloadKind") {
		case 0:
			return rapid.StringMatching(`[a-zA-Z0-9 ]{0,100}`).Draw(t, "stringPayload")
		case 1:
			return rapid.Float64Range(-1e10, 1e10).Draw(t, "numberPayload")
		case 2:
			return rapid.Bool().Draw(t, "boolPayload")
		default:
			n := rapid.IntRange(1, 5).Draw(t, "numKeys")
			m := make(map[string]any, n)
			for i := 0; i < n; i++ {
				key := rapid.StringMatching(`[a-z]{1,10}`).Draw(t, "key")
				m[key] = rapid.Float64Range(-1e6, 1e6).Draw(t, "value")
			}
			return m
		}
	})
}

// For any payload, encrypting and decrypting with the same messenger yields
// the JSON-equivalent payload back, and a signature made after encryption
// verifies before decryption.
func TestProperty_EncryptSignRoundTrip(t *testing.T) {
	messenger := newTestMessenger(t, "property-secret")

	rapid.Check(t, func(t *rapid.T) {
		payload := genPayload().Draw(t, "payload")
		msg := types.NewAgentMessage(
			types.MessageTypeDataTransfer,
			genAgentID().Draw(t, "sender"),
			genAgentID().Draw(t, "receiver"),
			payload,
		)

		require.NoError(t, messenger.Encrypt(msg))
		require.NoError(t, messenger.Sign(msg))

		if !messenger.Verify(msg) {
			t.Fatalf("freshly signed message failed verification")
		}
		require.NoError(t, messenger.Decrypt(msg))

		// Decryption goes through a JSON round trip, so compare canonical
		// JSON forms rather than Go values.
		expected, err := json.Marshal(payload)
		require.NoError(t, err)
		actual, err := json.Marshal(msg.Payload)
		require.NoError(t, err)
		if string(expected) != string(actual) {
			t.Fatalf("payload changed across round trip: %s != %s", expected, actual)
		}
	})
}

// Any mutation of a signed field invalidates the signature.
func TestProperty_SignatureDetectsTampering(t *testing.T) {
	messenger := newTestMessenger(t, "property-secret")

	rapid.Check(t, func(t *rapid.T) {
		msg := types.NewAgentMessage(
			types.MessageTypeDataTransfer,
			genAgentID().Draw(t, "sender"),
			genAgentID().Draw(t, "receiver"),
			genPayload().Draw(t, "payload"),
		)
		require.NoError(t, messenger.Sign(msg))

		suffix := rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "suffix")
		switch rapid.IntRange(0, 2).Draw(t, "field") {
		case 0:
			msg.SenderID += suffix
		case 1:
			msg.ReceiverID += suffix
		default:
			msg.Payload = map[string]any{"tampered": suffix}
		}

		if messenger.Verify(msg) {
			t.Fatalf("tampered message passed verification")
		}
	})
}
