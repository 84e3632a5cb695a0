package loader

import (
	"relload/internal/batcher"
	"relload/internal/logging"
	"relload/internal/sqlutil"
)

type options struct {
	dialect     sqlutil.Dialect
	maxInClause int
	batcherOpts []batcher.Option
	logger      *logging.Logger
}

// Option configures a Session.
type Option func(*options)

// WithDialect selects the SQL dialect used to plan fetches. Defaults to mysql.
func WithDialect(d sqlutil.Dialect) Option {
	return func(o *options) {
		o.dialect = d
	}
}

// WithMaxInClause bounds the keys bound into one IN list.
func WithMaxInClause(n int) Option {
	return func(o *options) {
		o.maxInClause = n
	}
}

// WithBatcherOptions passes options to every batcher the session creates.
func WithBatcherOptions(opts ...batcher.Option) Option {
	return func(o *options) {
		o.batcherOpts = append(o.batcherOpts, opts...)
	}
}

// WithLogger sets the session logger.
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
