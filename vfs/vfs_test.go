package vfs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartfile/client-go/api"
	"github.com/smartfile/client-go/smartfile"
)

// fakeServer is a minimal stand-in for the API, serving a fixed tree
// and counting every request by method and path.
type fakeServer struct {
	mu       sync.Mutex
	requests []string
	files    map[string]string // path -> content
}

func newFakeServer() *fakeServer {
	return &fakeServer{files: map[string]string{}}
}

func (s *fakeServer) record(r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.Method+" "+r.URL.Path)
	s.mu.Unlock()
}

func (s *fakeServer) count(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, req := range s.requests {
		if req == prefix || len(req) > len(prefix) && req[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func (s *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	switch {
	case r.Method == "PUT" && hasPrefix(r.URL.Path, "/api/2/path/data"):
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.files[r.URL.Path[len("/api/2/path/data"):]] = string(body)
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	case r.Method == "GET" && hasPrefix(r.URL.Path, "/api/2/path/data"):
		s.mu.Lock()
		content, ok := s.files[r.URL.Path[len("/api/2/path/data"):]]
		s.mu.Unlock()
		if !ok {
			http.Error(w, `{"detail":"Not found."}`, http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(content))
	case r.Method == "GET" && hasPrefix(r.URL.Path, "/api/2/path/info"):
		s.serveInfo(w, r)
	case r.Method == "POST" && r.URL.Path == "/api/2/path/oper/remove/":
		// always already gone, which callers must treat as success
		http.Error(w, `{"detail":"Not found."}`, http.StatusNotFound)
	case r.Method == "POST" && r.URL.Path == "/api/2/path/oper/rename/":
		_ = r.ParseForm()
		dst := r.PostForm.Get("dst")
		_ = json.NewEncoder(w).Encode(api.PathInfo{Name: dst, Path: dst, IsFile: true})
	default:
		http.Error(w, `{"detail":"Not found."}`, http.StatusNotFound)
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func (s *fakeServer) serveInfo(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path[len("/api/2/path/info"):]
	if r.URL.Query().Get("children") == "true" {
		dir := api.PathInfo{Name: path, Path: path, IsDir: true, Page: 1, Pages: 1}
		s.mu.Lock()
		for p := range s.files {
			if hasPrefix(p, path+"/") {
				dir.Children = append(dir.Children, api.PathInfo{
					Name: p[len(path)+1:], Path: p, IsFile: true,
					Size: int64(len(s.files[p])),
				})
			}
		}
		s.mu.Unlock()
		dir.Total = len(dir.Children)
		_ = json.NewEncoder(w).Encode(dir)
		return
	}
	s.mu.Lock()
	content, ok := s.files[path]
	s.mu.Unlock()
	if !ok {
		http.Error(w, `{"detail":"Not found."}`, http.StatusNotFound)
		return
	}
	_ = json.NewEncoder(w).Encode(api.PathInfo{
		Name: path, Path: path, IsFile: true, Size: int64(len(content)),
	})
}

func newTestVFS(t *testing.T, level CacheLevel) (*VFS, *fakeServer) {
	t.Helper()
	srv := newFakeServer()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	client, err := smartfile.NewClient(smartfile.Options{
		BaseURL:         ts.URL,
		PollMinInterval: time.Millisecond,
		PollMaxInterval: 2 * time.Millisecond,
		PollTimeout:     time.Second,
		HTTPClient:      ts.Client(),
	})
	require.NoError(t, err)
	return New(client, Options{CacheLevel: level}), srv
}

// A write through the facade is exactly one upload on close, and a
// subsequent read round-trips the content.
func TestWriteThenReadRoundTrip(t *testing.T) {
	fs, srv := newTestVFS(t, CacheOff)
	ctx := context.Background()

	fd, err := fs.Open(ctx, "/foo.txt", "w")
	require.NoError(t, err)
	n, err := fs.Write(fd, []byte("BODY"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	require.NoError(t, fs.Close(ctx, fd))

	assert.Equal(t, 1, srv.count("PUT /api/2/path/data/foo.txt"), "exactly one upload")
	assert.Equal(t, "BODY", srv.files["/foo.txt"])

	data, err := fs.ReadFile(ctx, "/foo.txt")
	require.NoError(t, err)
	assert.Equal(t, "BODY", string(data))
}

// With the cache off, every stat goes to the remote.
func TestStatCacheOffAlwaysFetches(t *testing.T) {
	fs, srv := newTestVFS(t, CacheOff)
	ctx := context.Background()
	srv.files["/foo.txt"] = "BODY"

	for i := 0; i < 3; i++ {
		info, err := fs.Stat(ctx, "/foo.txt")
		require.NoError(t, err)
		assert.Equal(t, int64(4), info.Size)
	}
	assert.Equal(t, 3, srv.count("GET /api/2/path/info/foo.txt"))
	assert.Equal(t, uint64(0), fs.CacheHits())
}

// A listing primes the cache so an immediately following stat of a
// child is served locally, once.
func TestListingPrimesStat(t *testing.T) {
	fs, srv := newTestVFS(t, CacheListing)
	ctx := context.Background()
	srv.files["/dir/a.txt"] = "A"
	srv.files["/dir/b.txt"] = "BB"

	entries, err := fs.ReadDir(ctx, "/dir")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	info, err := fs.Stat(ctx, "/dir/a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Size)
	assert.Equal(t, 0, srv.count("GET /api/2/path/info/dir/a.txt"), "stat must be served from the cache")
	assert.Equal(t, uint64(1), fs.CacheHits())

	// the entry was consumed, a second stat goes to the remote
	_, err = fs.Stat(ctx, "/dir/a.txt")
	require.NoError(t, err)
	assert.Equal(t, 1, srv.count("GET /api/2/path/info/dir/a.txt"))
}

// At the persistent level a stat result is reused and a write-close
// invalidates it.
func TestPersistentCacheInvalidatedByClose(t *testing.T) {
	fs, srv := newTestVFS(t, CachePersistent)
	ctx := context.Background()
	srv.files["/foo.txt"] = "BODY"

	_, err := fs.Stat(ctx, "/foo.txt")
	require.NoError(t, err)
	_, err = fs.Stat(ctx, "/foo.txt")
	require.NoError(t, err)
	assert.Equal(t, 1, srv.count("GET /api/2/path/info/foo.txt"))

	require.NoError(t, fs.WriteFile(ctx, "/foo.txt", []byte("LONGER BODY")))

	info, err := fs.Stat(ctx, "/foo.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(11), info.Size, "stale size must not survive the write")
	assert.Equal(t, 2, srv.count("GET /api/2/path/info/foo.txt"))
}

// A cached not-found is a hit, and Exists maps it to false.
func TestPersistentNegativeCaching(t *testing.T) {
	fs, srv := newTestVFS(t, CachePersistent)
	ctx := context.Background()

	ok, err := fs.Exists(ctx, "/ghost")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = fs.Exists(ctx, "/ghost")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, srv.count("GET /api/2/path/info/ghost"), "second answer comes from the negative entry")
}

// Removing something already gone succeeds, and the cache entry goes
// away regardless.
func TestUnlinkIdempotentAndInvalidates(t *testing.T) {
	fs, srv := newTestVFS(t, CachePersistent)
	ctx := context.Background()
	srv.files["/foo.txt"] = "BODY"

	_, err := fs.Stat(ctx, "/foo.txt")
	require.NoError(t, err)

	require.NoError(t, fs.Unlink(ctx, "/foo.txt"))

	delete(srv.files, "/foo.txt")
	_, err = fs.Stat(ctx, "/foo.txt")
	require.Error(t, err)
	assert.True(t, api.IsNotFound(err))
	assert.Equal(t, 2, srv.count("GET /api/2/path/info/foo.txt"), "unlink must drop the cached entry")
}

func TestRenameInvalidatesSourceAndPrimesDestination(t *testing.T) {
	fs, srv := newTestVFS(t, CachePersistent)
	ctx := context.Background()
	srv.files["/old.txt"] = "BODY"

	_, err := fs.Stat(ctx, "/old.txt")
	require.NoError(t, err)

	require.NoError(t, fs.Rename(ctx, "/old.txt", "/new.txt"))

	// destination was primed from the rename result
	info, err := fs.Stat(ctx, "/new.txt")
	require.NoError(t, err)
	assert.Equal(t, "/new.txt", info.Path)
	assert.Equal(t, 0, srv.count("GET /api/2/path/info/new.txt"))

	// source must not be answered from stale cache
	delete(srv.files, "/old.txt")
	_, err = fs.Stat(ctx, "/old.txt")
	require.Error(t, err)
	assert.True(t, api.IsNotFound(err))
}

func TestDescriptorLifecycle(t *testing.T) {
	fs, _ := newTestVFS(t, CacheOff)
	ctx := context.Background()

	_, err := fs.Read(99, make([]byte, 4))
	assert.ErrorIs(t, err, EBADF)

	fd, err := fs.Open(ctx, "/a.txt", "w")
	require.NoError(t, err)
	assert.Equal(t, 0, fd)
	require.NoError(t, fs.Close(ctx, fd))

	// closed descriptors are invalid, not reusable handles
	_, err = fs.Write(fd, []byte("x"))
	assert.ErrorIs(t, err, EBADF)

	// the freed slot is reused by the next open
	fd2, err := fs.Open(ctx, "/b.txt", "w")
	require.NoError(t, err)
	assert.Equal(t, 0, fd2)
	require.NoError(t, fs.CloseAbort(ctx, fd2))
}

// Two concurrent closes of the same descriptor: the losing close gets
// ECLOSED and must not clear the slot, which by then may be serving a
// descriptor opened after the winning close freed it.
func TestConcurrentDoubleCloseKeepsReusedSlot(t *testing.T) {
	fs, srv := newTestVFS(t, CacheOff)
	ctx := context.Background()

	fd, err := fs.Open(ctx, "/a.txt", "w")
	require.NoError(t, err)
	// a second closer resolves the descriptor...
	stale, err := fs.handle(fd)
	require.NoError(t, err)
	// ...but the first close wins the race and frees the slot
	require.NoError(t, fs.Close(ctx, fd))
	// which the next open immediately reuses
	fd2, err := fs.Open(ctx, "/b.txt", "w")
	require.NoError(t, err)
	require.Equal(t, fd, fd2)

	// the straggler finishes late: ECLOSED, and the reused slot stays
	assert.ErrorIs(t, fs.finishClose(ctx, stale, fd, true), ECLOSED)
	_, err = fs.Write(fd2, []byte("NEW"))
	require.NoError(t, err)
	require.NoError(t, fs.Close(ctx, fd2))
	assert.Equal(t, "NEW", srv.files["/b.txt"])
}

func TestCloseAbortDiscardsWrite(t *testing.T) {
	fs, srv := newTestVFS(t, CacheOff)
	ctx := context.Background()

	fd, err := fs.Open(ctx, "/foo.txt", "w")
	require.NoError(t, err)
	_, err = fs.Write(fd, []byte("BODY"))
	require.NoError(t, err)
	require.NoError(t, fs.CloseAbort(ctx, fd))

	assert.Equal(t, 0, srv.count("PUT /api/2/path/data/foo.txt"))
}

// WriteFile with no data still creates the remote file and terminates.
func TestWriteFileEmpty(t *testing.T) {
	fs, srv := newTestVFS(t, CacheOff)
	ctx := context.Background()

	require.NoError(t, fs.WriteFile(ctx, "/empty.txt", nil))
	assert.Equal(t, 1, srv.count("PUT /api/2/path/data/empty.txt"))
	assert.Equal(t, "", srv.files["/empty.txt"])
}

// WriteFile/ReadFile split transfers into chunks without corrupting
// the content.
func TestChunkedTransfers(t *testing.T) {
	fs, srv := newTestVFS(t, CacheOff)
	fs.opt.ChunkSize = 3
	ctx := context.Background()

	payload := []byte("0123456789")
	require.NoError(t, fs.WriteFile(ctx, "/chunky.txt", payload))
	assert.Equal(t, string(payload), srv.files["/chunky.txt"])

	data, err := fs.ReadFile(ctx, "/chunky.txt")
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestReadDirPagedSentinel(t *testing.T) {
	fs, srv := newTestVFS(t, CacheOff)
	ctx := context.Background()
	srv.files["/dir/a"] = "x"

	var pages, sentinels int
	err := fs.ReadDirPaged(ctx, "/dir", func(page *api.PathInfo) (bool, error) {
		if page == nil {
			sentinels++
		} else {
			pages++
		}
		return false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, pages)
	assert.Equal(t, 1, sentinels)
}

func TestStatMissingFile(t *testing.T) {
	fs, _ := newTestVFS(t, CacheOff)
	_, err := fs.Stat(context.Background(), "/nope")
	require.Error(t, err)
	assert.True(t, api.IsNotFound(err))
	assert.Equal(t, 404, api.StatusCodeOf(err))
}

func TestReadFileMissing(t *testing.T) {
	fs, _ := newTestVFS(t, CacheOff)
	_, err := fs.ReadFile(context.Background(), "/nope")
	require.Error(t, err)
	assert.True(t, api.IsNotFound(err), fmt.Sprintf("got %v", err))
}
