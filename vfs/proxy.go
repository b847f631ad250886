package vfs

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/smartfile/client-go/obs"
	"github.com/smartfile/client-go/smartfile"
)

// fileMode is a parsed open mode.
type fileMode struct {
	read     bool
	write    bool
	truncate bool
}

// parseMode understands the fopen-style mode strings the facade
// accepts. Unknown modes are an invalid-argument error, not undefined
// behaviour.
func parseMode(mode string) (fileMode, error) {
	switch mode {
	case "r":
		return fileMode{read: true}, nil
	case "r+":
		return fileMode{read: true, write: true}, nil
	case "w":
		return fileMode{write: true, truncate: true}, nil
	case "w+":
		return fileMode{read: true, write: true, truncate: true}, nil
	}
	return fileMode{}, errors.Wrapf(EINVAL, "unsupported open mode %q", mode)
}

// proxy lifecycle states.
type proxyState int

const (
	proxyOpening proxyState = iota
	proxyReady
	proxyClosing
	proxyClosed
)

// stagingFile is what the proxy needs from its local staging file.
// *os.File satisfies it; tests substitute fakes to provoke short
// transfers.
type stagingFile interface {
	io.Reader
	io.Writer
	io.ReaderAt
	io.WriterAt
	io.Seeker
	io.Closer
	Name() string
}

// createStaging allocates the local staging file. Swapped out in tests.
var createStaging = func() (stagingFile, error) {
	return os.CreateTemp("", "smartfile-staging-")
}

// FileProxy backs one open remote file with a local staging file.
//
// For read-capable modes the remote object is downloaded in full
// before any read is permitted; write-capable proxies upload the full
// staged content on Close. Random access in between is local.
type FileProxy struct {
	mu      sync.Mutex
	client  *smartfile.Client
	log     obs.Logger
	path    string
	mode    fileMode
	staging stagingFile
	offset  int64 // cursor for Read/Write without explicit position
	state   proxyState
}

// newFileProxy opens a proxy for path. Read-capable modes stage a full
// download first. A missing remote object is tolerated for write-only
// mode, which starts from an empty staging file.
func newFileProxy(ctx context.Context, client *smartfile.Client, path, mode string, log obs.Logger) (*FileProxy, error) {
	parsed, err := parseMode(mode)
	if err != nil {
		return nil, err
	}
	staging, err := createStaging()
	if err != nil {
		return nil, errors.Wrap(err, "couldn't create staging file")
	}
	p := &FileProxy{
		client:  client,
		log:     log,
		path:    path,
		mode:    parsed,
		staging: staging,
		state:   proxyOpening,
	}
	if parsed.read && !parsed.truncate {
		if err := p.stage(ctx); err != nil {
			p.discardStaging()
			return nil, err
		}
	}
	p.state = proxyReady
	return p, nil
}

// stage downloads the full remote object into the staging file.
func (p *FileProxy) stage(ctx context.Context) (err error) {
	in, err := p.client.Download(ctx, p.path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := in.Close(); err == nil {
			err = closeErr
		}
	}()
	n, err := io.Copy(p.staging, in)
	if err != nil {
		return errors.Wrap(err, "staging download failed")
	}
	if _, err := p.staging.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "couldn't rewind staging file")
	}
	p.log.Debugf("proxy: staged %d bytes of %q", n, p.path)
	return nil
}

// Path returns the remote path this proxy is bound to.
func (p *FileProxy) Path() string { return p.path }

// writable reports whether the proxy's mode permits writes.
func (p *FileProxy) writable() bool { return p.mode.write }

// checkReady returns an error unless the proxy accepts I/O.
func (p *FileProxy) checkReady() error {
	switch p.state {
	case proxyReady:
		return nil
	case proxyClosing, proxyClosed:
		return ECLOSED
	default:
		return EBADF
	}
}

// ReadAt reads from the staging file at the given position. Fewer
// bytes than requested is not an error: callers must check the
// returned count.
func (p *FileProxy) ReadAt(buf []byte, position int64) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readAt(buf, position)
}

func (p *FileProxy) readAt(buf []byte, position int64) (int, error) {
	if err := p.checkReady(); err != nil {
		return 0, err
	}
	if !p.mode.read {
		return 0, errors.Wrapf(EBADF, "%q not open for reading", p.path)
	}
	n, err := p.staging.ReadAt(buf, position)
	if err == io.EOF {
		// short read, the count tells the story
		err = nil
	}
	return n, err
}

// Read reads from the current cursor, advancing it.
func (p *FileProxy) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.readAt(buf, p.offset)
	p.offset += int64(n)
	return n, err
}

// WriteAt writes to the staging file at the given position. A short
// write is a fatal local I/O error, unlike a short read.
func (p *FileProxy) WriteAt(buf []byte, position int64) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeAt(buf, position)
}

func (p *FileProxy) writeAt(buf []byte, position int64) (int, error) {
	if err := p.checkReady(); err != nil {
		return 0, err
	}
	if !p.mode.write {
		return 0, errors.Wrapf(EBADF, "%q not open for writing", p.path)
	}
	n, err := p.staging.WriteAt(buf, position)
	if err != nil {
		return n, errors.Wrap(err, EIO.Error())
	}
	if n < len(buf) {
		return n, errors.Wrapf(EIO, "short write to staging file (%d of %d bytes)", n, len(buf))
	}
	return n, nil
}

// Write writes at the current cursor, advancing it.
func (p *FileProxy) Write(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.writeAt(buf, p.offset)
	p.offset += int64(n)
	return n, err
}

// size returns the current staging file length.
func (p *FileProxy) size() (int64, error) {
	return p.staging.Seek(0, io.SeekEnd)
}

// discardStaging closes and deletes the staging file, logging rather
// than failing on cleanup problems.
func (p *FileProxy) discardStaging() {
	name := p.staging.Name()
	if err := p.staging.Close(); err != nil {
		p.log.Warnf("proxy: couldn't close staging file %q: %v", name, err)
	}
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		p.log.Warnf("proxy: couldn't remove staging file %q: %v", name, err)
	}
}

// Close finishes the proxy. For write-capable modes the full staging
// content is uploaded to the remote path first, unless abort is set.
// The staging file is deleted regardless of the upload outcome; an
// upload failure is still reported to the caller.
func (p *FileProxy) Close(ctx context.Context, abort bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == proxyClosed || p.state == proxyClosing {
		return ECLOSED
	}
	p.state = proxyClosing
	var uploadErr error
	if p.mode.write && !abort {
		uploadErr = p.upload(ctx)
	}
	p.discardStaging()
	p.state = proxyClosed
	return uploadErr
}

// upload flushes the whole staging file to the remote path.
func (p *FileProxy) upload(ctx context.Context) error {
	size, err := p.size()
	if err != nil {
		return errors.Wrap(err, "couldn't size staging file")
	}
	in := io.NewSectionReader(p.staging, 0, size)
	if err := p.client.Upload(ctx, p.path, in, size); err != nil {
		return errors.Wrapf(err, "upload of %q failed", p.path)
	}
	p.log.Debugf("proxy: uploaded %d bytes to %q", size, p.path)
	return nil
}
