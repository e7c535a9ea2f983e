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
	"github.com/flowcraft/dataflow/internal/process"
	"github.com/flowcraft/dataflow/internal/store"
)

// Components holds every shared dependency a dataflow service needs.
type Components struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        *db.DB
	Store     *store.Store
	Evaluator *condition.Evaluator
	Registry  process.Registry
	Mailbox   process.Mailbox
	Log       *commit.Log

	redis        *redis.Client
	cleanupFuncs []func() error
}

// addCleanup registers fn to run, in reverse order, on Shutdown.
func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}

// Shutdown releases every component Setup opened, in reverse order.
func (c *Components) Shutdown(ctx context.Context) error {
	c.Logger.Info("shutting down components")

	var errs []error
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			errs = append(errs, err)
			c.Logger.Error("cleanup error", "error", err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	c.Logger.Info("shutdown complete")
	return nil
}

// Health reports whether the database (and, if configured, Redis) is reachable.
func (c *Components) Health(ctx context.Context) error {
	if err := c.DB.Health(ctx); err != nil {
		return fmt.Errorf("database unhealthy: %w", err)
	}
	if c.redis != nil {
		if err := c.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis unhealthy: %w", err)
		}
	}
	return nil
}
