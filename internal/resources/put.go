package resources

import (
	"context"
	"sync"

	"github.com/risevideo/risecast/pkg/server"
)

// Put is an opaque passthrough: a private PUT stores the body, later
// GETs replay it. It backs resources such as the DASH manifest, which
// the transcoder writes and clients read without the server caring
// about the contents.
type Put struct {
	server.BaseResource
	mimeType  string
	cacheKind server.CacheKind
	maxLength uint64

	mu   sync.Mutex
	data []byte
	put  bool
}

func NewPut(mimeType string, cacheKind server.CacheKind, maxLength uint64, public bool) *Put {
	return &Put{
		BaseResource: server.BaseResource{Public: public},
		mimeType:     mimeType,
		cacheKind:    cacheKind,
		maxLength:    maxLength,
	}
}

func (p *Put) Allows(t server.RequestType) bool {
	return t == server.RequestGet || t == server.RequestPut
}

func (p *Put) MaxRequestLength(t server.RequestType) uint64 {
	if t == server.RequestPut {
		return p.maxLength
	}
	return 0
}

func (p *Put) Serve(ctx context.Context, resp *server.Response, req *server.Request) error {
	switch req.Type() {
	case server.RequestGet:
		if err := req.ReadEmpty(ctx); err != nil {
			return err
		}
		p.mu.Lock()
		data, put := p.data, p.put
		p.mu.Unlock()
		if !put {
			return server.NewError(server.ErrNotFound, "")
		}
		resp.SetCacheKind(p.cacheKind)
		if p.mimeType != "" {
			resp.SetMimeType(p.mimeType)
		}
		resp.Write(data)
		return nil
	case server.RequestPut:
		resp.SetCacheKind(server.CacheNone)
		data, err := req.ReadAll(ctx)
		if err != nil {
			return err
		}
		p.mu.Lock()
		p.data = data
		p.put = true
		p.mu.Unlock()
		return nil
	}
	return server.UnsupportedVerb(req.Type())
}
