// Package transfer moves data between CSV streams and database tables.
//
// Export streams a table or query through a server-side cursor; Import
// creates or appends to a table in independently committed batches.
package transfer

import (
	"github.com/koustreak/dbops/internal/logger"
	"github.com/koustreak/dbops/internal/query"
	"github.com/koustreak/dbops/internal/schema"
	"github.com/koustreak/dbops/internal/session"
)

const (
	// DefaultBatchSize is the number of CSV rows committed per import transaction.
	DefaultBatchSize = 1000

	// DefaultChunkSize is the number of rows fetched per cursor round trip.
	DefaultChunkSize = 1000
)

// Options tunes the pipeline. Zero values select the defaults.
type Options struct {
	BatchSize  int
	ChunkSize  int
	SampleSize int
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	return o
}

// Pipeline runs imports and exports over one session.
type Pipeline struct {
	sess   *session.Session
	exec   *query.Executor
	schema schema.Reader
	log    *logger.Logger
	opts   Options
}

// New creates a Pipeline. exec must be bound to sess's connection.
func New(sess *session.Session, exec *query.Executor, reader schema.Reader, log *logger.Logger, opts Options) *Pipeline {
	return &Pipeline{
		sess:   sess,
		exec:   exec,
		schema: reader,
		log:    logger.OrNop(log),
		opts:   opts.withDefaults(),
	}
}
