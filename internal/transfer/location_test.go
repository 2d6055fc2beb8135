package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/koustreak/dbops/internal/errs"
	"github.com/koustreak/dbops/internal/filestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore keeps objects in memory.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (m *memStore) Ping(context.Context) error { return nil }
func (m *memStore) Close() error               { return nil }

func (m *memStore) GetObject(_ context.Context, bucket, key string) (filestore.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, errs.New(errs.ErrKindNotFound, "no such key")
	}
	return memObject{Reader: bytes.NewReader(b), info: &filestore.ObjectInfo{Key: key, Size: int64(len(b))}}, nil
}

func (m *memStore) PutObject(_ context.Context, bucket, key string, r io.Reader, _ int64, contentType string) (*filestore.ObjectInfo, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindIO, "upload aborted", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = b
	return &filestore.ObjectInfo{Key: key, Size: int64(len(b)), ContentType: contentType}, nil
}

func (m *memStore) StatObject(context.Context, string, string) (*filestore.ObjectInfo, error) {
	return nil, errs.New(errs.ErrKindNotFound, "not implemented")
}

func (m *memStore) PresignGetURL(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	return "http://store/" + bucket + "/" + key, nil
}

type memObject struct {
	*bytes.Reader
	info *filestore.ObjectInfo
}

func (o memObject) Close() error                { return nil }
func (o memObject) Info() *filestore.ObjectInfo { return o.info }

func TestParseLocation(t *testing.T) {
	tests := []struct {
		in      string
		want    Location
		remote  bool
		stdio   bool
		wantErr bool
	}{
		{in: "", want: Location{Path: "-"}, stdio: true},
		{in: "-", want: Location{Path: "-"}, stdio: true},
		{in: "out/people.csv", want: Location{Path: "out/people.csv"}},
		{in: "s3://exports/people.csv", want: Location{Bucket: "exports", Key: "people.csv"}, remote: true},
		{in: "s3://exports", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLocation(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errs.IsInvalidInput(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.remote, got.IsRemote())
			assert.Equal(t, tt.stdio, got.IsStdio())
		})
	}
}

func TestCreate_LocalCommitAndAbort(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	ok := Location{Path: filepath.Join(dir, "ok.csv")}
	d, err := Create(ctx, ok, nil)
	require.NoError(t, err)
	_, err = io.WriteString(d, "id\n1\n")
	require.NoError(t, err)
	require.NoError(t, d.Commit())

	b, err := os.ReadFile(ok.Path)
	require.NoError(t, err)
	assert.Equal(t, "id\n1\n", string(b))

	failed := Location{Path: filepath.Join(dir, "failed.csv")}
	d, err = Create(ctx, failed, nil)
	require.NoError(t, err)
	_, _ = io.WriteString(d, "id\n")
	d.Abort(errors.New("export failed"))

	_, err = os.Stat(failed.Path)
	assert.True(t, os.IsNotExist(err))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must be removed")
}

func TestOpen_MissingLocalFile(t *testing.T) {
	_, err := Open(context.Background(), Location{Path: filepath.Join(t.TempDir(), "nope.csv")}, nil)
	require.Error(t, err)
	assert.True(t, errs.IsIO(err))
}

func TestRemoteRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	loc := Location{Bucket: "exports", Key: "people.csv"}

	d, err := Create(ctx, loc, store)
	require.NoError(t, err)
	_, err = io.WriteString(d, "id,name\n1,Ada\n")
	require.NoError(t, err)
	require.NoError(t, d.Commit())

	r, err := Open(ctx, loc, store)
	require.NoError(t, err)
	defer r.Close()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "id,name\n1,Ada\n", string(b))
}

func TestRemoteAbortDiscardsUpload(t *testing.T) {
	store := newMemStore()
	loc := Location{Bucket: "exports", Key: "partial.csv"}

	d, err := Create(context.Background(), loc, store)
	require.NoError(t, err)
	_, err = io.WriteString(d, "id\n")
	require.NoError(t, err)
	d.Abort(errors.New("cursor failed"))

	assert.Empty(t, store.objects)
}

func TestRemoteWithoutStore(t *testing.T) {
	_, err := Open(context.Background(), Location{Bucket: "b", Key: "k"}, nil)
	require.Error(t, err)
	assert.True(t, errs.IsInvalidInput(err))
	assert.True(t, strings.Contains(err.Error(), "s3://b/k"))
}
