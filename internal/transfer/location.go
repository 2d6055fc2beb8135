package transfer

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/koustreak/dbops/internal/errs"
	"github.com/koustreak/dbops/internal/filestore"
)

// csvContentType is the MIME type of uploaded exports.
const csvContentType = "text/csv"

// Location is where CSV data is read from or written to: a local path,
// standard input/output ("-" or empty), or an object in a bucket.
type Location struct {
	Path   string
	Bucket string
	Key    string
}

// ParseLocation interprets s as s3://bucket/key, "-" or a local path.
func ParseLocation(s string) (Location, error) {
	if s == "" || s == "-" {
		return Location{Path: "-"}, nil
	}
	if strings.HasPrefix(s, filestore.Scheme) {
		bucket, key, ok := filestore.ParseURI(s)
		if !ok {
			return Location{}, errs.Newf(errs.ErrKindInvalidInput, "invalid object location %q, want s3://bucket/key", s)
		}
		return Location{Bucket: bucket, Key: key}, nil
	}
	return Location{Path: s}, nil
}

// IsRemote reports whether the location is served by object storage.
func (l Location) IsRemote() bool {
	return l.Bucket != ""
}

// IsStdio reports whether the location is standard input or output.
func (l Location) IsStdio() bool {
	return !l.IsRemote() && l.Path == "-"
}

func (l Location) String() string {
	if l.IsRemote() {
		return filestore.URI(l.Bucket, l.Key)
	}
	return l.Path
}

// Open returns a reader for a CSV source. store may be nil unless the
// location is remote.
func Open(ctx context.Context, l Location, store filestore.Store) (io.ReadCloser, error) {
	switch {
	case l.IsRemote():
		if store == nil {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "%s: object storage is not configured", l)
		}
		return store.GetObject(ctx, l.Bucket, l.Key)
	case l.IsStdio():
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(l.Path)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindIO, "failed to open "+l.Path, err)
	}
	return f, nil
}

// Destination receives an export. Commit makes the written data visible;
// Abort discards it. Exactly one of them must be called.
type Destination interface {
	io.Writer
	Commit() error
	Abort(cause error)
}

// Create opens a Destination for l. Local files are written to a temporary
// sibling and renamed on Commit; objects are streamed to the store and only
// complete on Commit.
func Create(ctx context.Context, l Location, store filestore.Store) (Destination, error) {
	switch {
	case l.IsRemote():
		if store == nil {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "%s: object storage is not configured", l)
		}
		return newUpload(ctx, l, store), nil
	case l.IsStdio():
		return stdoutDest{}, nil
	}

	dir, base := filepath.Split(l.Path)
	if dir == "" {
		dir = "."
	}
	f, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindIO, "failed to create "+l.Path, err)
	}
	return &fileDest{f: f, path: l.Path}, nil
}

type stdoutDest struct{}

func (stdoutDest) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdoutDest) Commit() error               { return nil }
func (stdoutDest) Abort(error)                 {}

type fileDest struct {
	f    *os.File
	path string
}

func (d *fileDest) Write(p []byte) (int, error) {
	return d.f.Write(p)
}

func (d *fileDest) Commit() error {
	if err := d.f.Close(); err != nil {
		_ = os.Remove(d.f.Name())
		return errs.Wrap(errs.ErrKindIO, "failed to write "+d.path, err)
	}
	if err := os.Rename(d.f.Name(), d.path); err != nil {
		_ = os.Remove(d.f.Name())
		return errs.Wrap(errs.ErrKindIO, "failed to write "+d.path, err)
	}
	return nil
}

func (d *fileDest) Abort(error) {
	_ = d.f.Close()
	_ = os.Remove(d.f.Name())
}

// upload streams writes through a pipe into Store.PutObject running in its
// own goroutine.
type upload struct {
	pw   *io.PipeWriter
	loc  Location
	done chan error
}

func newUpload(ctx context.Context, l Location, store filestore.Store) *upload {
	pr, pw := io.Pipe()
	u := &upload{pw: pw, loc: l, done: make(chan error, 1)}
	go func() {
		_, err := store.PutObject(ctx, l.Bucket, l.Key, pr, -1, csvContentType)
		// Unblock the writer if the upload stopped reading early.
		pr.CloseWithError(err)
		u.done <- err
	}()
	return u
}

func (u *upload) Write(p []byte) (int, error) {
	n, err := u.pw.Write(p)
	if err != nil {
		return n, errs.Wrap(errs.ErrKindIO, "failed to upload "+u.loc.String(), err)
	}
	return n, nil
}

func (u *upload) Commit() error {
	_ = u.pw.Close()
	return <-u.done
}

func (u *upload) Abort(cause error) {
	if cause == nil {
		cause = io.ErrUnexpectedEOF
	}
	_ = u.pw.CloseWithError(cause)
	<-u.done
}
