package resources

import (
	"context"

	"github.com/risevideo/risecast/pkg/server"
)

// ErrorResource always fails with a fixed error. It backs the
// http.ephemeralWhenNotFound paths, where a "not found" must be
// cacheable only briefly because the resource may appear at any
// moment.
type ErrorResource struct {
	server.BaseResource
	err       server.Error
	cacheKind server.CacheKind
	verbs     map[server.RequestType]bool
}

func NewError(err server.Error, cacheKind server.CacheKind, public bool, verbs ...server.RequestType) *ErrorResource {
	allowed := make(map[server.RequestType]bool, len(verbs))
	for _, v := range verbs {
		allowed[v] = true
	}
	return &ErrorResource{
		BaseResource: server.BaseResource{Public: public},
		err:          err,
		cacheKind:    cacheKind,
		verbs:        allowed,
	}
}

func (e *ErrorResource) Allows(t server.RequestType) bool {
	return e.verbs[t]
}

func (e *ErrorResource) AllowNonEmptyPath() bool { return true }

func (e *ErrorResource) Serve(ctx context.Context, resp *server.Response, req *server.Request) error {
	resp.SetCacheKind(e.cacheKind)
	err := e.err
	return &err
}
