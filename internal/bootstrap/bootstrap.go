// Package bootstrap wires the shared components every dataflow service
// (cmd/apiserver, cmd/orchestratord) starts from: configuration, logging,
// the database pool and repository layer, the process backend (in-memory
// or Redis, chosen by configuration), and the commit log built on top of
// them.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/flowcraft/dataflow/internal/commit"
	"github.com/flowcraft/dataflow/internal/condition"
	"github.com/flowcraft/dataflow/internal/config"
	"github.com/flowcraft/dataflow/internal/db"
	"github.com/flowcraft/dataflow/internal/logger"
	"github.com/flowcraft/dataflow/internal/ops"
	"github.com/flowcraft/dataflow/internal/process/local"
	"github.com/flowcraft/dataflow/internal/process/redisproc"
	"github.com/flowcraft/dataflow/internal/store"
	"github.com/flowcraft/dataflow/internal/store/migrations"
)

// Setup initializes every shared component for serviceName, in dependency
// order, registering cleanup for each as it succeeds so a partial failure
// still tears down whatever did start.
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	c := &Components{}

	var err error
	if options.customConfig != nil {
		c.Config = options.customConfig
	} else {
		c.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load config: %w", err)
		}
	}

	c.Logger = logger.New(c.Config.Service.LogLevel, c.Config.Service.LogFormat)
	c.Logger.Info("initializing service", "service", serviceName, "environment", c.Config.Service.Environment)

	c.Logger.Info("connecting to database")
	c.DB, err = db.New(ctx, c.Config, c.Logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect database: %w", err)
	}
	c.addCleanup(func() error {
		c.Logger.Info("closing database connection")
		c.DB.Close()
		return nil
	})

	if !options.skipMigrate {
		c.Logger.Info("applying schema migrations")
		if err := migrations.Apply(ctx, c.DB.Pool); err != nil {
			c.Shutdown(ctx)
			return nil, fmt.Errorf("bootstrap: apply migrations: %w", err)
		}
	}

	c.Store = store.New(c.DB)
	c.Evaluator = condition.NewEvaluator()

	if c.Config.Distributed() {
		c.Logger.Info("using distributed process backend", "redis_addr", c.Config.Redis.Addr)
		c.redis = redis.NewClient(&redis.Options{
			Addr:     c.Config.Redis.Addr,
			Password: c.Config.Redis.Password,
			DB:       c.Config.Redis.DB,
		})
		c.addCleanup(func() error {
			c.Logger.Info("closing redis connection")
			return c.redis.Close()
		})
		c.Registry = redisproc.NewRegistry(c.redis)
		c.Mailbox = redisproc.NewMailbox(c.redis)
	} else {
		c.Logger.Info("using in-memory process backend")
		c.Registry = local.NewRegistry()
		c.Mailbox = local.NewMailbox()
	}

	notifier := commit.NewMailboxNotifier(c.Mailbox)
	publisher := commit.NewMailboxPublisher(c.Mailbox)
	engine := ops.New(c.Store, notifier)
	c.Log = commit.New(c.Store, engine, c.Mailbox, publisher)

	c.Logger.Info("service initialization complete", "service", serviceName, "distributed", c.Config.Distributed())
	return c, nil
}

// MustSetup is like Setup but panics on error, for entrypoints that cannot
// recover from a failed startup.
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	c, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("bootstrap: setup %s: %v", serviceName, err))
	}
	return c
}
