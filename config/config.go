package config

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmarket/marketplace"
	"github.com/BaSui01/agentmarket/messaging"
)

// Config is the complete marketplace configuration.
type Config struct {
	// Log configures the zap logger.
	Log LogConfig `yaml:"log"`

	// Security configures message encryption and signing.
	Security messaging.MessengerConfig `yaml:"security"`

	// Messaging configures the message router and offline queues.
	Messaging messaging.RouterConfig `yaml:"messaging"`

	// Marketplace configures the scheduler.
	Marketplace marketplace.Config `yaml:"marketplace"`

	// Metrics configures the Prometheus namespace.
	Metrics MetricsConfig `yaml:"metrics"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is json or console.
	Format string `yaml:"format"`

	// OutputPaths are zap output sinks (default stderr).
	OutputPaths []string `yaml:"output_paths"`
}

// MetricsConfig configures metric registration.
type MetricsConfig struct {
	// Enabled turns Prometheus instrumentation on.
	Enabled bool `yaml:"enabled"`

	// Namespace prefixes all metric names.
	Namespace string `yaml:"namespace"`
}

// Default returns the configuration defaults. The master secret has no
// default; it must come from the file or AGENTMARKET_SECURITY_MASTER_SECRET.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stderr"},
		},
		Security:    messaging.DefaultMessengerConfig(),
		Messaging:   messaging.DefaultRouterConfig(),
		Marketplace: marketplace.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "agentmarket",
		},
	}
}

// Validate checks the loaded configuration for values that cannot work.
func (c *Config) Validate() error {
	var errs []string

	if c.Security.MasterSecret == "" {
		errs = append(errs, "security.master_secret is required")
	}
	if c.Security.KDFIterations != 0 && c.Security.KDFIterations < messaging.MinKDFIterations {
		errs = append(errs, fmt.Sprintf("security.kdf_iterations must be at least %d", messaging.MinKDFIterations))
	}
	switch c.Messaging.QueueBackend {
	case "", "memory":
	case "redis":
		if c.Messaging.Redis.Addr == "" {
			errs = append(errs, "messaging.redis.addr is required for the redis backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown messaging.queue_backend %q", c.Messaging.QueueBackend))
	}
	if c.Marketplace.OverloadThreshold < 0 || c.Marketplace.OverloadThreshold > 1 {
		errs = append(errs, "marketplace.overload_threshold must be in [0, 1]")
	}
	if _, err := marketplace.NewStrategy(c.Marketplace.Strategy, c.Marketplace.Weights); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// BuildLogger constructs a zap logger from the log configuration.
func (c *LogConfig) BuildLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}

	var zc zap.Config
	if c.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = level
	if len(c.OutputPaths) > 0 {
		zc.OutputPaths = c.OutputPaths
	}
	return zc.Build()
}
