// Package engine wires the data-operation components over one session.
//
// An Engine is built per invocation: the CLI opens a dedicated connection,
// the HTTP service checks one out of its pool per request. Every component
// shares the session's single connection and runs strictly sequentially.
package engine

import (
	"context"
	"io"
	"time"

	"github.com/koustreak/dbops/internal/database"
	"github.com/koustreak/dbops/internal/errs"
	"github.com/koustreak/dbops/internal/filestore"
	"github.com/koustreak/dbops/internal/logger"
	"github.com/koustreak/dbops/internal/query"
	"github.com/koustreak/dbops/internal/schema"
	"github.com/koustreak/dbops/internal/search"
	"github.com/koustreak/dbops/internal/session"
	"github.com/koustreak/dbops/internal/stats"
	"github.com/koustreak/dbops/internal/transfer"
)

// Options tunes the components. Zero values select each component's defaults.
type Options struct {
	DefaultSchema string
	QueryLimit    int
	TopTables     int
	Search        search.Options
	Transfer      transfer.Options

	// Store serves s3:// locations; nil disables them.
	Store filestore.Store
	// PresignTTL is the lifetime of the download URL returned after an
	// export to object storage. Zero skips presigning.
	PresignTTL time.Duration
}

// Engine exposes every data operation over one session.
type Engine struct {
	sess     *session.Session
	exec     *query.Executor
	schema   *schema.Introspector
	search   *search.Engine
	transfer *transfer.Pipeline
	stats    *stats.Collector
	store    filestore.Store
	ttl      time.Duration
	log      *logger.Logger
}

// Open acquires a session through opener and builds an Engine on it.
// The caller must Close the engine.
func Open(ctx context.Context, opener database.Opener, cfg *database.Config, log *logger.Logger, opts Options) (*Engine, error) {
	sess, err := session.Acquire(ctx, opener, cfg, log)
	if err != nil {
		return nil, err
	}
	return New(sess, log, opts), nil
}

// Run opens an Engine, calls fn and releases the session whether fn
// succeeds, fails or the context is cancelled.
func Run(ctx context.Context, opener database.Opener, cfg *database.Config, log *logger.Logger, opts Options, fn func(*Engine) error) error {
	e, err := Open(ctx, opener, cfg, log, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.Close(context.WithoutCancel(ctx)); cerr != nil {
			e.log.WarnWith("failed to release session", cerr, nil)
		}
	}()
	return fn(e)
}

// New builds an Engine on an acquired session.
func New(sess *session.Session, log *logger.Logger, opts Options) *Engine {
	log = logger.OrNop(log)
	exec := query.New(sess.Querier(), log).WithDefaultLimit(opts.QueryLimit)
	reader := schema.NewIntrospector(exec, opts.DefaultSchema)

	return &Engine{
		sess:     sess,
		exec:     exec,
		schema:   reader,
		search:   search.New(exec, reader, log, opts.Search),
		transfer: transfer.New(sess, exec, reader, log, opts.Transfer),
		stats:    stats.New(exec, log, opts.TopTables),
		store:    opts.Store,
		ttl:      opts.PresignTTL,
		log:      log,
	}
}

// Close releases the session.
func (e *Engine) Close(ctx context.Context) error {
	return e.sess.Close(ctx)
}

// Ping verifies the session's connection is alive.
func (e *Engine) Ping(ctx context.Context) error {
	return e.sess.Ping(ctx)
}

// Schema returns the introspector.
func (e *Engine) Schema() schema.Reader {
	return e.schema
}

// --- schema discovery ---

// Schemas lists user schemas, excluding pg_* and information_schema.
func (e *Engine) Schemas(ctx context.Context) ([]string, error) {
	return e.schema.ListSchemas(ctx)
}

// Tables lists the base tables of schemaName, largest first.
func (e *Engine) Tables(ctx context.Context, schemaName string) ([]schema.TableSummary, error) {
	return e.schema.ListTables(ctx, schemaName)
}

// Describe resolves table and returns its columns, keys and indexes.
func (e *Engine) Describe(ctx context.Context, table, schemaName string) (*schema.Table, error) {
	return e.schema.DescribeTable(ctx, table, schemaName)
}

// Introspect describes every table of schemaName, or of every user schema
// when schemaName is empty.
func (e *Engine) Introspect(ctx context.Context, schemaName string) (*schema.Report, error) {
	return e.schema.Introspect(ctx, schemaName)
}

// --- querying ---

// Preview resolves table and returns its first limit rows with the exact row count.
func (e *Engine) Preview(ctx context.Context, table, schemaName string, limit int) (*query.Preview, error) {
	s, t, err := e.schema.Resolve(ctx, table, schemaName)
	if err != nil {
		return nil, err
	}
	return e.exec.Preview(ctx, s, t, limit)
}

// Query runs caller SQL with bound params and a row cap.
func (e *Engine) Query(ctx context.Context, sql string, params []any, limit int) (*query.Result, error) {
	return e.exec.Execute(ctx, sql, params, limit)
}

// Search returns a lazy stream of hits. The caller must Close it.
func (e *Engine) Search(ctx context.Context, term, schemaName string) (*search.Hits, error) {
	return e.search.Search(ctx, term, schemaName)
}

// Stats reads a point-in-time snapshot of the current database.
func (e *Engine) Stats(ctx context.Context) (*stats.Snapshot, error) {
	return e.stats.Snapshot(ctx)
}

// --- import / export ---

// ExportResult describes a finished export.
type ExportResult struct {
	Location string `json:"location" yaml:"location"`
	Rows     int64  `json:"rows" yaml:"rows"`
	URL      string `json:"url,omitempty" yaml:"url,omitempty"`
}

// ExportTo streams src as CSV into w.
func (e *Engine) ExportTo(ctx context.Context, src transfer.Source, w io.Writer) (int64, error) {
	return e.transfer.Export(ctx, src, w)
}

// Export writes src as CSV to dest, a local path, "-" or s3://bucket/key.
// The destination only becomes visible when the export succeeds.
func (e *Engine) Export(ctx context.Context, src transfer.Source, dest string) (*ExportResult, error) {
	loc, err := transfer.ParseLocation(dest)
	if err != nil {
		return nil, err
	}
	d, err := transfer.Create(ctx, loc, e.store)
	if err != nil {
		return nil, err
	}

	n, err := e.transfer.Export(ctx, src, d)
	if err != nil {
		d.Abort(err)
		return nil, err
	}
	if err := d.Commit(); err != nil {
		return nil, errs.Context(err, "export to "+loc.String()+" not saved")
	}

	res := &ExportResult{Location: loc.String(), Rows: n}
	if loc.IsRemote() && e.ttl > 0 {
		url, err := e.store.PresignGetURL(ctx, loc.Bucket, loc.Key, e.ttl)
		if err != nil {
			e.log.WarnWith("could not presign export URL", err, map[string]interface{}{"location": res.Location})
		} else {
			res.URL = url
		}
	}
	return res, nil
}

// ImportFrom loads the CSV stream r into table.
func (e *Engine) ImportFrom(ctx context.Context, r io.Reader, table, schemaName string) (*transfer.Report, error) {
	return e.transfer.Import(ctx, r, table, schemaName)
}

// Import loads the CSV at source, a local path, "-" or s3://bucket/key.
func (e *Engine) Import(ctx context.Context, source, table, schemaName string) (*transfer.Report, error) {
	rc, err := e.open(ctx, source)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return e.transfer.Import(ctx, rc, table, schemaName)
}

// Plan reports how source would be imported into table without writing.
func (e *Engine) Plan(ctx context.Context, source, table, schemaName string) (*transfer.Plan, error) {
	rc, err := e.open(ctx, source)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return e.transfer.BuildPlan(ctx, rc, table, schemaName)
}

func (e *Engine) open(ctx context.Context, source string) (io.ReadCloser, error) {
	loc, err := transfer.ParseLocation(source)
	if err != nil {
		return nil, err
	}
	return transfer.Open(ctx, loc, e.store)
}
