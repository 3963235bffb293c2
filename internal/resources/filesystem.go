package resources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"

	"github.com/risevideo/risecast/pkg/server"
)

const fileReadChunkSize = 1 << 16

// Filesystem serves a local directory verbatim. If maxWritableSize is
// nonzero, private PUTs may write files up to that many bytes.
type Filesystem struct {
	server.BaseResource
	localPath       string
	index           string
	cacheKind       server.CacheKind
	maxWritableSize uint64
}

func NewFilesystem(localPath, index string, cacheKind server.CacheKind, public bool, maxWritableSize uint64) *Filesystem {
	return &Filesystem{
		BaseResource:    server.BaseResource{Public: public},
		localPath:       localPath,
		index:           index,
		cacheKind:       cacheKind,
		maxWritableSize: maxWritableSize,
	}
}

func (f *Filesystem) AllowNonEmptyPath() bool { return true }

func (f *Filesystem) Allows(t server.RequestType) bool {
	switch t {
	case server.RequestGet:
		return true
	case server.RequestPut:
		return f.maxWritableSize > 0
	}
	return false
}

func (f *Filesystem) MaxRequestLength(t server.RequestType) uint64 {
	if t == server.RequestPut {
		return f.maxWritableSize
	}
	return 0
}

// localFile maps the request path under the root. The Path parse rules
// already forbid traversal, so a simple join is safe.
func (f *Filesystem) localFile(p server.Path) string {
	rel := p.String()
	if rel == "" {
		rel = f.index
	}
	return filepath.Join(f.localPath, filepath.FromSlash(rel))
}

func (f *Filesystem) Serve(ctx context.Context, resp *server.Response, req *server.Request) error {
	switch req.Type() {
	case server.RequestGet:
		return f.serveGet(ctx, resp, req)
	case server.RequestPut:
		return f.servePut(ctx, resp, req)
	}
	return server.UnsupportedVerb(req.Type())
}

func (f *Filesystem) serveGet(ctx context.Context, resp *server.Response, req *server.Request) error {
	if err := req.ReadEmpty(ctx); err != nil {
		return err
	}
	name := f.localFile(req.Path())
	fh, err := os.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return server.NewError(server.ErrNotFound, "")
		}
		return fmt.Errorf("open %q: %w", name, err)
	}
	defer fh.Close()
	if info, err := fh.Stat(); err != nil || info.IsDir() {
		return server.NewError(server.ErrNotFound, "")
	}

	resp.SetCacheKind(f.cacheKind)
	if mimeType := mime.TypeByExtension(filepath.Ext(name)); mimeType != "" {
		resp.SetMimeType(mimeType)
	}
	for {
		buf := make([]byte, fileReadChunkSize)
		n, err := fh.Read(buf)
		if n > 0 {
			resp.Write(buf[:n])
			if err := resp.Flush(ctx, false); err != nil {
				return err
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %q: %w", name, err)
		}
	}
}

func (f *Filesystem) servePut(ctx context.Context, resp *server.Response, req *server.Request) error {
	resp.SetCacheKind(server.CacheNone)
	name := f.localFile(req.Path())
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return fmt.Errorf("create directory for %q: %w", name, err)
	}
	fh, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("create %q: %w", name, err)
	}
	defer fh.Close()
	for {
		chunk, err := req.ReadSome(ctx)
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			return nil
		}
		if _, err := fh.Write(chunk); err != nil {
			return fmt.Errorf("write %q: %w", name, err)
		}
	}
}
