package agentmarket

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentmarket/config"
	"github.com/BaSui01/agentmarket/marketplace"
	"github.com/BaSui01/agentmarket/types"
)

func TestNew_RequiresMasterSecret(t *testing.T) {
	_, err := New()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "master_secret")
}

func TestNew_WiresSystem(t *testing.T) {
	cfg := config.Default()
	cfg.Security.MasterSecret = "facade-secret"

	sys, err := New(
		WithConfig(cfg),
		WithStrategy(marketplace.StrategyLeastLoaded),
		WithMetricsRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	require.NotNil(t, sys.Marketplace)
	require.NotNil(t, sys.Router)
	require.NotNil(t, sys.Messenger)

	require.NoError(t, sys.Start(context.Background()))
	t.Cleanup(func() { _ = sys.Stop() })

	assigned := make(chan string, 1)
	sys.Router.RegisterHandler(types.MessageTypeTaskAssignment,
		func(_ context.Context, msg *types.AgentMessage) error {
			assigned <- msg.ReceiverID
			return nil
		})

	ok := sys.Marketplace.RegisterAgent(&types.AgentProfile{
		AgentID:            "worker",
		Name:               "worker",
		Capabilities:       []types.Capability{{Name: "compute"}},
		MaxConcurrentTasks: 1,
	})
	require.True(t, ok)

	_, ok = sys.Marketplace.SubmitTask(&types.Task{
		TaskID:             "t1",
		TaskType:           "test",
		RequiredCapability: "compute",
		EstimatedDuration:  time.Second,
	})
	require.True(t, ok)

	select {
	case receiver := <-assigned:
		assert.Equal(t, "worker", receiver)
	case <-time.After(time.Second):
		t.Fatal("assignment was never delivered")
	}
}

func TestNew_MasterSecretOption(t *testing.T) {
	sys, err := New(
		WithMasterSecret("option-secret"),
		WithMetricsRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	require.NotNil(t, sys)
	require.NoError(t, sys.Stop())
}
