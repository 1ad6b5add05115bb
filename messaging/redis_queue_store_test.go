package messaging

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentmarket/types"
)

func newTestRedisStore(t *testing.T, maxDepth int) *RedisQueueStore {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := NewRedisQueueStore(RedisConfig{
		Addr:      mr.Addr(),
		KeyPrefix: "test:",
	}, maxDepth)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisQueueStore_EnqueueDrain(t *testing.T) {
	store := newTestRedisStore(t, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		msg := types.NewAgentMessage(types.MessageTypeDataTransfer, "a", "b",
			map[string]any{"seq": float64(i)})
		require.NoError(t, store.Enqueue(ctx, "b", msg))
	}

	depth, err := store.Depth(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 3, depth)

	queued, err := store.Drain(ctx, "b")
	require.NoError(t, err)
	require.Len(t, queued, 3)
	// FIFO order survives the round trip.
	for i, msg := range queued {
		payload, ok := msg.Payload.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, float64(i), payload["seq"])
	}

	depth, err = store.Depth(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestRedisQueueStore_DrainEmpty(t *testing.T) {
	store := newTestRedisStore(t, 0)

	queued, err := store.Drain(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, queued)
}

func TestRedisQueueStore_TrimsToMaxDepth(t *testing.T) {
	store := newTestRedisStore(t, 2)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		msg := types.NewAgentMessage(types.MessageTypeDataTransfer, "a", "b",
			map[string]any{"seq": float64(i)})
		require.NoError(t, store.Enqueue(ctx, "b", msg))
	}

	queued, err := store.Drain(ctx, "b")
	require.NoError(t, err)
	require.Len(t, queued, 2)
	// Oldest entries were trimmed away.
	assert.Equal(t, float64(2), queued[0].Payload.(map[string]any)["seq"])
	assert.Equal(t, float64(3), queued[1].Payload.(map[string]any)["seq"])
}

func TestRedisQueueStore_Depths(t *testing.T) {
	store := newTestRedisStore(t, 0)
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, "agent-a",
		types.NewAgentMessage(types.MessageTypeDataTransfer, "x", "agent-a", "1")))
	require.NoError(t, store.Enqueue(ctx, "agent-b",
		types.NewAgentMessage(types.MessageTypeDataTransfer, "x", "agent-b", "2")))
	require.NoError(t, store.Enqueue(ctx, "agent-b",
		types.NewAgentMessage(types.MessageTypeDataTransfer, "x", "agent-b", "3")))

	depths, err := store.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"agent-a": 1, "agent-b": 2}, depths)
}

func TestRedisQueueStore_SignedMessagesSurviveRoundTrip(t *testing.T) {
	store := newTestRedisStore(t, 0)
	messenger := newTestMessenger(t, "redis-secret")
	ctx := context.Background()

	msg := types.NewAgentMessage(types.MessageTypeDataTransfer, "a", "b", map[string]any{"k": "v"})
	require.NoError(t, messenger.Encrypt(msg))
	require.NoError(t, messenger.Sign(msg))
	require.NoError(t, store.Enqueue(ctx, "b", msg))

	queued, err := store.Drain(ctx, "b")
	require.NoError(t, err)
	require.Len(t, queued, 1)

	restored := queued[0]
	assert.True(t, messenger.Verify(restored))
	require.NoError(t, messenger.Decrypt(restored))
	assert.Equal(t, map[string]any{"k": "v"}, restored.Payload)
}
