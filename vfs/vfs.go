// Package vfs presents filesystem-style semantics over the SmartFile
// API: a descriptor table for open files, a tiered stat cache, and
// directory operations with well-defined invalidation rules.
package vfs

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/smartfile/client-go/api"
	"github.com/smartfile/client-go/obs"
	"github.com/smartfile/client-go/smartfile"
)

// Options configures a VFS.
type Options struct {
	// CacheLevel controls stat cache retention, see CacheLevel.
	CacheLevel CacheLevel
	// ChunkSize is the transfer unit for ReadFile/WriteFile. Defaults
	// to 1 MiB.
	ChunkSize int
	Logger    obs.Logger
	Metrics   obs.Metrics
}

const defaultChunkSize = 1024 * 1024

// VFS is the filesystem facade over a SmartFile client.
//
// Any two public calls on the same VFS may be in flight concurrently;
// the stat cache and the descriptor table carry their own locking.
type VFS struct {
	client  *smartfile.Client
	opt     Options
	cache   *statCache
	log     obs.Logger
	metrics obs.Metrics

	handleMu sync.Mutex
	handles  []*FileProxy // index is the descriptor, nil is a free slot
}

// New creates a VFS on top of client.
func New(client *smartfile.Client, opt Options) *VFS {
	if opt.ChunkSize <= 0 {
		opt.ChunkSize = defaultChunkSize
	}
	if opt.Logger == nil {
		opt.Logger = obs.NopLogger()
	}
	if opt.Metrics == nil {
		opt.Metrics = obs.NopMetrics()
	}
	return &VFS{
		client:  client,
		opt:     opt,
		cache:   newStatCache(opt.CacheLevel, opt.Logger, opt.Metrics),
		log:     opt.Logger,
		metrics: opt.Metrics,
	}
}

// CacheHits returns the number of stats served from the cache.
func (fs *VFS) CacheHits() uint64 { return fs.cache.Hits() }

// observe records one finished operation.
func (fs *VFS) observe(name string, start time.Time, err error) {
	fs.metrics.ObserveOperation(name, obs.Outcome(err), time.Since(start))
}

// Stat returns the metadata for path, served from the cache when a
// positive or negative entry exists.
func (fs *VFS) Stat(ctx context.Context, path string) (info *api.PathInfo, err error) {
	defer func(start time.Time) { fs.observe("stat", start, err) }(time.Now())
	if cached, negative, ok := fs.cache.Get(path); ok {
		if negative {
			return nil, &api.Error{StatusCode: 404, Detail: "not found (cached)"}
		}
		return cached, nil
	}
	info, err = fs.client.Info(ctx, path)
	if err != nil {
		if api.IsNotFound(err) {
			fs.cache.PutNegative(path)
		}
		return nil, err
	}
	fs.cache.PutStat(info)
	return info, nil
}

// Exists reports whether path exists. A not-found answer is false, not
// an error; anything else propagates.
func (fs *VFS) Exists(ctx context.Context, path string) (ok bool, err error) {
	defer func(start time.Time) { fs.observe("exists", start, err) }(time.Now())
	_, statErr := fs.Stat(ctx, path)
	if statErr == nil {
		return true, nil
	}
	if api.IsNotFound(statErr) {
		return false, nil
	}
	return false, statErr
}

// primeListing feeds one listing page into the cache.
func (fs *VFS) primeListing(page *api.PathInfo) {
	for i := range page.Children {
		fs.cache.PutListing(&page.Children[i])
	}
	// the directory's own info, with the child-listing fields stripped
	fs.cache.PutStat(page)
}

// ReadDirPaged lists the directory incrementally, delivering each page
// to fn as it arrives and a final nil page once there are no more.
// Cached entries below the persistent level are cleared before the
// listing starts; every page primes the cache as it passes through.
func (fs *VFS) ReadDirPaged(ctx context.Context, path string, fn smartfile.ListPageFn) (err error) {
	defer func(start time.Time) { fs.observe("readdir", start, err) }(time.Now())
	fs.cache.BeforeListing()
	return fs.client.ListChildren(ctx, path, func(page *api.PathInfo) (bool, error) {
		if page != nil {
			fs.primeListing(page)
		}
		return fn(page)
	})
}

// ReadDir lists the whole directory, accumulating all pages before
// returning.
func (fs *VFS) ReadDir(ctx context.Context, path string) (entries []api.PathInfo, err error) {
	err = fs.ReadDirPaged(ctx, path, func(page *api.PathInfo) (bool, error) {
		if page != nil {
			entries = append(entries, page.Children...)
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Mkdir creates a directory and primes the cache with its info.
func (fs *VFS) Mkdir(ctx context.Context, path string) (info *api.PathInfo, err error) {
	defer func(start time.Time) { fs.observe("mkdir", start, err) }(time.Now())
	info, err = fs.client.Mkdir(ctx, path)
	if err != nil {
		return nil, err
	}
	fs.cache.PutStat(info)
	return info, nil
}

// Unlink removes a file. Removing a path which is already gone is a
// successful no-op; the cache entry goes away regardless.
func (fs *VFS) Unlink(ctx context.Context, path string) (err error) {
	defer func(start time.Time) { fs.observe("unlink", start, err) }(time.Now())
	_, err = fs.client.Remove(ctx, path)
	fs.cache.InvalidateTree(path)
	return err
}

// Rmdir removes a directory and invalidates its whole cached subtree.
func (fs *VFS) Rmdir(ctx context.Context, path string) (err error) {
	defer func(start time.Time) { fs.observe("rmdir", start, err) }(time.Now())
	_, err = fs.client.Remove(ctx, path)
	fs.cache.InvalidateTree(path)
	return err
}

// Rename renames src to dst, invalidating the source subtree and
// priming the destination from the returned info.
func (fs *VFS) Rename(ctx context.Context, src, dst string) (err error) {
	defer func(start time.Time) { fs.observe("rename", start, err) }(time.Now())
	info, err := fs.client.Rename(ctx, src, dst)
	fs.cache.InvalidateTree(src)
	if err != nil {
		return err
	}
	fs.cache.PutStat(info)
	return nil
}

// Copy copies src to dst. The bulk operation's result doesn't describe
// the destination object, so the destination is only invalidated,
// never primed.
func (fs *VFS) Copy(ctx context.Context, src, dst string) (err error) {
	defer func(start time.Time) { fs.observe("copy", start, err) }(time.Now())
	_, err = fs.client.Copy(ctx, src, dst)
	fs.cache.InvalidateTree(dst)
	return err
}

// Move moves src to dst, invalidating both subtrees. As with Copy the
// destination cannot be primed.
func (fs *VFS) Move(ctx context.Context, src, dst string) (err error) {
	defer func(start time.Time) { fs.observe("move", start, err) }(time.Now())
	_, err = fs.client.Move(ctx, src, dst)
	fs.cache.InvalidateTree(src)
	fs.cache.InvalidateTree(dst)
	return err
}

// Open opens path in the given mode ("r", "r+", "w", "w+") and returns
// a descriptor for it.
func (fs *VFS) Open(ctx context.Context, path, mode string) (fd int, err error) {
	defer func(start time.Time) { fs.observe("open", start, err) }(time.Now())
	proxy, err := newFileProxy(ctx, fs.client, path, mode, fs.log)
	if err != nil {
		return -1, err
	}
	fs.handleMu.Lock()
	defer fs.handleMu.Unlock()
	for i, h := range fs.handles {
		if h == nil {
			fs.handles[i] = proxy
			return i, nil
		}
	}
	fs.handles = append(fs.handles, proxy)
	return len(fs.handles) - 1, nil
}

// handle resolves a descriptor. Stale or unknown descriptors are an
// error, not undefined behaviour.
func (fs *VFS) handle(fd int) (*FileProxy, error) {
	fs.handleMu.Lock()
	defer fs.handleMu.Unlock()
	if fd < 0 || fd >= len(fs.handles) || fs.handles[fd] == nil {
		return nil, errors.Wrapf(EBADF, "descriptor %d", fd)
	}
	return fs.handles[fd], nil
}

// Close closes a descriptor, flushing writable handles to the remote.
// The table slot is only reusable after cleanup completes.
func (fs *VFS) Close(ctx context.Context, fd int) (err error) {
	defer func(start time.Time) { fs.observe("close", start, err) }(time.Now())
	return fs.closeHandle(ctx, fd, false)
}

// CloseAbort closes a descriptor discarding any written data.
func (fs *VFS) CloseAbort(ctx context.Context, fd int) (err error) {
	defer func(start time.Time) { fs.observe("close", start, err) }(time.Now())
	return fs.closeHandle(ctx, fd, true)
}

func (fs *VFS) closeHandle(ctx context.Context, fd int, abort bool) error {
	proxy, err := fs.handle(fd)
	if err != nil {
		return err
	}
	return fs.finishClose(ctx, proxy, fd, abort)
}

// finishClose closes an already-resolved proxy and frees its table
// slot. Two concurrent closes of the same fd race here: the loser gets
// ECLOSED from proxy.Close and must not touch the slot, which may
// already be serving an unrelated descriptor opened after the winner
// freed it.
func (fs *VFS) finishClose(ctx context.Context, proxy *FileProxy, fd int, abort bool) error {
	closeErr := proxy.Close(ctx, abort)
	if proxy.writable() && !abort {
		// remote content changed (or tried to), drop stale metadata
		fs.cache.Invalidate(proxy.Path())
	}
	fs.handleMu.Lock()
	if fd < len(fs.handles) && fs.handles[fd] == proxy {
		fs.handles[fd] = nil
	}
	fs.handleMu.Unlock()
	return closeErr
}

// Read reads from the descriptor's cursor. A short count is normal at
// end of file.
func (fs *VFS) Read(fd int, buf []byte) (n int, err error) {
	defer func(start time.Time) { fs.observe("read", start, err) }(time.Now())
	proxy, err := fs.handle(fd)
	if err != nil {
		return 0, err
	}
	return proxy.Read(buf)
}

// ReadAt reads from an explicit position without moving the cursor.
func (fs *VFS) ReadAt(fd int, buf []byte, position int64) (n int, err error) {
	defer func(start time.Time) { fs.observe("read", start, err) }(time.Now())
	proxy, err := fs.handle(fd)
	if err != nil {
		return 0, err
	}
	return proxy.ReadAt(buf, position)
}

// Write writes at the descriptor's cursor. Short writes are promoted
// to errors.
func (fs *VFS) Write(fd int, buf []byte) (n int, err error) {
	defer func(start time.Time) { fs.observe("write", start, err) }(time.Now())
	proxy, err := fs.handle(fd)
	if err != nil {
		return 0, err
	}
	return proxy.Write(buf)
}

// WriteAt writes at an explicit position without moving the cursor.
func (fs *VFS) WriteAt(fd int, buf []byte, position int64) (n int, err error) {
	defer func(start time.Time) { fs.observe("write", start, err) }(time.Now())
	proxy, err := fs.handle(fd)
	if err != nil {
		return 0, err
	}
	return proxy.WriteAt(buf, position)
}

// ReadFile reads the whole of path in ChunkSize pieces.
func (fs *VFS) ReadFile(ctx context.Context, path string) (data []byte, err error) {
	defer func(start time.Time) { fs.observe("readfile", start, err) }(time.Now())
	fd, err := fs.Open(ctx, path, "r")
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := fs.Close(ctx, fd); err == nil {
			err = closeErr
		}
	}()
	buf := make([]byte, fs.opt.ChunkSize)
	for {
		n, readErr := fs.Read(fd, buf)
		if readErr != nil {
			return nil, readErr
		}
		if n == 0 {
			break
		}
		data = append(data, buf[:n]...)
	}
	return data, nil
}

// WriteFile replaces path with data, streaming it in ChunkSize pieces.
// Zero-length input writes an empty file without looping forever.
func (fs *VFS) WriteFile(ctx context.Context, path string, data []byte) (err error) {
	defer func(start time.Time) { fs.observe("writefile", start, err) }(time.Now())
	fd, err := fs.Open(ctx, path, "w")
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := fs.Close(ctx, fd); err == nil {
			err = closeErr
		}
	}()
	for len(data) > 0 {
		chunk := len(data)
		if chunk > fs.opt.ChunkSize {
			chunk = fs.opt.ChunkSize
		}
		if _, err := fs.Write(fd, data[:chunk]); err != nil {
			return err
		}
		data = data[chunk:]
	}
	return nil
}
