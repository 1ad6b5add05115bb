// Package agentmarket provides a top-level convenience entry point wiring
// the secure messenger, message router, and marketplace scheduler together.
//
// Usage:
//
//	import "github.com/BaSui01/agentmarket"
//
//	sys, err := agentmarket.New(agentmarket.WithMasterSecret(secret))
//	sys, err := agentmarket.New(
//	    agentmarket.WithConfigFile("agentmarket.yaml"),
//	    agentmarket.WithLogger(logger),
//	)
package agentmarket

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmarket/config"
	"github.com/BaSui01/agentmarket/internal/metrics"
	"github.com/BaSui01/agentmarket/marketplace"
	"github.com/BaSui01/agentmarket/messaging"
)

// Option configures the system created by [New].
type Option func(*options)

type options struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	store      messaging.QueueStore
	registerer prometheus.Registerer
}

// WithConfig uses a pre-built configuration instead of loading one.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithConfigFile loads configuration from a YAML file. Environment
// variables still override file values.
func WithConfigFile(path string) Option {
	return func(o *options) { o.configPath = path }
}

// WithLogger sets a custom zap logger. Defaults to one built from the log
// configuration.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMasterSecret sets the master secret without a config file.
func WithMasterSecret(secret string) Option {
	return func(o *options) {
		if o.cfg == nil {
			o.cfg = config.Default()
		}
		o.cfg.Security.MasterSecret = secret
	}
}

// WithStrategy sets the load-balancing strategy by name.
func WithStrategy(name string) Option {
	return func(o *options) {
		if o.cfg == nil {
			o.cfg = config.Default()
		}
		o.cfg.Marketplace.Strategy = name
	}
}

// WithQueueStore sets a pre-built offline queue store, overriding the
// configured backend.
func WithQueueStore(store messaging.QueueStore) Option {
	return func(o *options) { o.store = store }
}

// WithMetricsRegisterer sets the Prometheus registerer metrics register
// against. Defaults to the global registry when metrics are enabled.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// System bundles the wired messenger, router, and marketplace.
type System struct {
	Marketplace *marketplace.Marketplace
	Router      *messaging.Router
	Messenger   *messaging.SecureMessenger

	logger *zap.Logger
}

// New builds a fully wired system. At minimum a master secret must be
// provided, via configuration or [WithMasterSecret].
func New(opts ...Option) (*System, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	cfg := o.cfg
	if cfg == nil {
		loaded, err := config.NewLoader().WithConfigPath(o.configPath).Load()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := o.logger
	if logger == nil {
		built, err := cfg.Log.BuildLogger()
		if err != nil {
			return nil, err
		}
		logger = built
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		registerer := o.registerer
		if registerer == nil {
			registerer = prometheus.DefaultRegisterer
		}
		collector = metrics.NewCollector(cfg.Metrics.Namespace, registerer)
	}

	messenger, err := messaging.NewSecureMessenger(cfg.Security, logger)
	if err != nil {
		return nil, err
	}

	store := o.store
	if store == nil && cfg.Messaging.QueueBackend == "redis" {
		store, err = messaging.NewRedisQueueStore(cfg.Messaging.Redis, cfg.Messaging.MaxQueueDepth)
		if err != nil {
			return nil, err
		}
	}
	if store == nil {
		store = messaging.NewMemoryQueueStore(cfg.Messaging.MaxQueueDepth, logger)
	}

	router := messaging.NewRouter(messenger, store, collector, logger)

	market, err := marketplace.New(cfg.Marketplace, router, collector, logger)
	if err != nil {
		return nil, err
	}

	return &System{
		Marketplace: market,
		Router:      router,
		Messenger:   messenger,
		logger:      logger,
	}, nil
}

// Start launches the marketplace's background worker.
func (s *System) Start(ctx context.Context) error {
	return s.Marketplace.Start(ctx)
}

// Stop stops the background worker and closes the router's queue store.
func (s *System) Stop() error {
	return errors.Join(s.Marketplace.Stop(), s.Router.Close())
}
