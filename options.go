package xcrud

import (
	"database/sql"
	"io"
	"log/slog"
)

// Option configures a Context.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	txOptions *sql.TxOptions
	dialect   *Dialect
}

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// WithLogger sets the logger statements, commits and rollbacks are
// reported to. By default nothing is logged.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTxOptions sets the isolation level and read-only flag of the
// context's transaction.
func WithTxOptions(opts *sql.TxOptions) Option {
	return func(o *options) { o.txOptions = opts }
}

// WithDialect overrides the dialect Open would pick from the driver name.
func WithDialect(d Dialect) Option {
	return func(o *options) { o.dialect = &d }
}
