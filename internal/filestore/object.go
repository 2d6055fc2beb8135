package filestore

import (
	"io"
	"strings"
	"time"
)

// Scheme is the URI scheme that selects object storage for a location.
const Scheme = "s3://"

// ObjectInfo describes a single object stored in a bucket.
type ObjectInfo struct {
	// Key is the full object path within the bucket (e.g. "exports/people.csv").
	Key string

	// Size is the byte size of the object. -1 if unknown.
	Size int64

	// ContentType is the MIME type (e.g. "text/csv").
	ContentType string

	// ETag is the object's entity tag / hash, as returned by the backend.
	ETag string

	// LastModified is when the object was last written.
	LastModified time.Time
}

// Object is a streaming handle to an object's content.
// The caller MUST call Close() after reading to avoid resource leaks.
type Object interface {
	io.ReadCloser

	// Info returns the metadata for this object.
	Info() *ObjectInfo
}

// ParseURI splits "s3://bucket/key" into bucket and key. ok is false when
// s does not use the s3 scheme or lacks a bucket or key.
func ParseURI(s string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(s, Scheme)
	if !found {
		return "", "", false
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

// URI renders bucket and key as an s3:// location.
func URI(bucket, key string) string {
	return Scheme + bucket + "/" + key
}
