// Package resources provides the generic leaf resources the server
// mounts: constant content, opaque PUT-then-GET passthrough, always-
// error leaves, static directories and the backpressured stream/head
// pair used for separated ingest.
package resources

import (
	"context"

	"github.com/risevideo/risecast/pkg/server"
)

// Constant serves fixed content with a fixed MIME type and cache kind.
type Constant struct {
	server.BaseResource
	content   []byte
	mimeType  string
	cacheKind server.CacheKind
}

func NewConstant(content []byte, mimeType string, cacheKind server.CacheKind, public bool) *Constant {
	return &Constant{
		BaseResource: server.BaseResource{Public: public},
		content:      content,
		mimeType:     mimeType,
		cacheKind:    cacheKind,
	}
}

func (c *Constant) Allows(t server.RequestType) bool {
	return t == server.RequestGet
}

func (c *Constant) Serve(ctx context.Context, resp *server.Response, req *server.Request) error {
	if err := req.ReadEmpty(ctx); err != nil {
		return err
	}
	resp.SetCacheKind(c.cacheKind)
	resp.SetMimeType(c.mimeType)
	resp.Write(c.content)
	return nil
}
