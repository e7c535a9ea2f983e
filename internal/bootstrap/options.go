package bootstrap

import "github.com/flowcraft/dataflow/internal/config"

// Option configures Setup.
type Option func(*options)

type options struct {
	customConfig *config.Config
	skipMigrate  bool
}

// WithConfig uses cfg instead of loading one from the environment.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.customConfig = cfg }
}

// WithoutMigrate skips running schema migrations at startup. Tests that
// manage their own database state typically set this.
func WithoutMigrate() Option {
	return func(o *options) { o.skipMigrate = true }
}

func defaultOptions() *options {
	return &options{}
}
