package server_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/risevideo/risecast/pkg/eventlog"
	"github.com/risevideo/risecast/pkg/server"
	"github.com/risevideo/risecast/pkg/server/servertest"
)

// literalResource serves a fixed string.
type literalResource struct {
	server.BaseResource
	content string
	cache   server.CacheKind
}

func (r *literalResource) Allows(t server.RequestType) bool {
	return t == server.RequestGet
}

func (r *literalResource) Serve(ctx context.Context, resp *server.Response, req *server.Request) error {
	if err := req.ReadEmpty(ctx); err != nil {
		return err
	}
	resp.SetCacheKind(r.cache)
	resp.SetMimeType("text/plain")
	resp.WriteString(r.content)
	return nil
}

// echoResource replays the request body, flushing between chunks.
type echoResource struct {
	server.BaseResource
}

func (r *echoResource) Allows(t server.RequestType) bool {
	return t == server.RequestPost
}

func (r *echoResource) MaxRequestLength(server.RequestType) uint64 {
	return 1 << 20
}

func (r *echoResource) Serve(ctx context.Context, resp *server.Response, req *server.Request) error {
	resp.SetCacheKind(server.CacheNone)
	for {
		chunk, err := req.ReadSome(ctx)
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			return nil
		}
		resp.Write(chunk)
		if err := resp.Flush(ctx, false); err != nil {
			return err
		}
	}
}

// failingResource returns a fixed error from Serve.
type failingResource struct {
	server.BaseResource
	err error
}

func (r *failingResource) Allows(server.RequestType) bool { return true }

func (r *failingResource) Serve(context.Context, *server.Response, *server.Request) error {
	return r.err
}

func newServer() *server.Server {
	return server.New(eventlog.NewMemoryLog(eventlog.LevelError, false))
}

func TestDispatchLiteral(t *testing.T) {
	srv := newServer()
	require.NoError(t, srv.AddResource(server.MustParsePath("Short"),
		&literalResource{BaseResource: server.BaseResource{Public: true}, content: "Cats are cute :D", cache: server.CacheFixed}))

	b := servertest.Do(context.Background(), srv, "Short", server.RequestGet, true, nil)
	assert.Equal(t, 200, b.Status())
	assert.Equal(t, "text/plain", b.Header("Content-Type"))
	assert.Equal(t, "public, max-age=600", b.Header("Cache-Control"))
	assert.Equal(t, "Cats are cute :D", string(b.Body()))
}

func TestDispatchEcho(t *testing.T) {
	srv := newServer()
	require.NoError(t, srv.AddResource(server.MustParsePath("Echo"), &echoResource{}))

	b := servertest.Do(context.Background(), srv, "Echo", server.RequestPost, false,
		servertest.NewBody([]byte("Kit"), []byte("ten")))
	assert.Equal(t, 200, b.Status())
	assert.Equal(t, "no-cache", b.Header("Cache-Control"))
	assert.Equal(t, "Kitten", string(b.Body()))
}

func TestDispatchErrors(t *testing.T) {
	srv := newServer()
	require.NoError(t, srv.AddResource(server.MustParsePath("private"),
		&literalResource{content: "secret", cache: server.CacheNone}))
	require.NoError(t, srv.AddResource(server.MustParsePath("public"),
		&literalResource{BaseResource: server.BaseResource{Public: true}, content: "hello", cache: server.CacheNone}))

	ctx := context.Background()

	// Public access to a private resource.
	b := servertest.Do(ctx, srv, "private", server.RequestGet, true, nil)
	assert.Equal(t, 403, b.Status())

	// Public non-GET.
	b = servertest.Do(ctx, srv, "public", server.RequestPost, true, nil)
	assert.Equal(t, 403, b.Status())

	// Missing resource.
	b = servertest.Do(ctx, srv, "nonexistent", server.RequestGet, true, nil)
	assert.Equal(t, 404, b.Status())

	// Directory traversal is rejected at the path level.
	b = servertest.Do(ctx, srv, "..", server.RequestGet, true, nil)
	assert.Equal(t, 403, b.Status())

	// Sub-path of a leaf that doesn't accept them.
	b = servertest.Do(ctx, srv, "public/extra", server.RequestGet, true, nil)
	assert.Equal(t, 404, b.Status())

	// Verb the resource doesn't allow.
	b = servertest.Do(ctx, srv, "private", server.RequestPut, false, nil)
	assert.Equal(t, 405, b.Status())
}

func TestDispatchErrorFunnel(t *testing.T) {
	srv := newServer()
	require.NoError(t, srv.AddResource(server.MustParsePath("conflict"),
		&failingResource{err: server.NewError(server.ErrConflict, "busy")}))
	require.NoError(t, srv.AddResource(server.MustParsePath("boom"),
		&failingResource{err: errors.New("unexpected")}))

	ctx := context.Background()

	b := servertest.Do(ctx, srv, "conflict", server.RequestGet, false, nil)
	assert.Equal(t, 409, b.Status())
	assert.Equal(t, "busy", string(b.Body()))
	assert.Equal(t, "text/plain", b.Header("Content-Type"))

	// Any other error type becomes an internal error, with no details
	// leaked to the client.
	b = servertest.Do(ctx, srv, "boom", server.RequestGet, false, nil)
	assert.Equal(t, 500, b.Status())
	assert.Empty(t, b.Body())
}

func TestTreeAddReplaceRemove(t *testing.T) {
	srv := newServer()
	ctx := context.Background()
	a := &literalResource{BaseResource: server.BaseResource{Public: true}, content: "a", cache: server.CacheNone}
	b := &literalResource{BaseResource: server.BaseResource{Public: true}, content: "b", cache: server.CacheNone}

	p := server.MustParsePath("x/y/z")
	require.NoError(t, srv.AddResource(p, a))
	require.Error(t, srv.AddResource(p, b), "add must reject an existing resource")
	require.NoError(t, srv.AddOrReplaceResource(p, b))

	resp := servertest.Do(ctx, srv, "x/y/z", server.RequestGet, true, nil)
	assert.Equal(t, "b", string(resp.Body()))

	// Removing an intermediate node is an error.
	require.Error(t, srv.RemoveResource(server.MustParsePath("x/y")))
	// Removing a missing node is an error.
	require.Error(t, srv.RemoveResource(server.MustParsePath("x/none")))

	require.NoError(t, srv.RemoveResource(p))
	resp = servertest.Do(ctx, srv, "x/y/z", server.RequestGet, true, nil)
	assert.Equal(t, 404, resp.Status())

	// The empty ancestors are pruned, so re-adding under x works from
	// scratch, and removing again fails.
	require.Error(t, srv.RemoveResource(p))
	require.NoError(t, srv.AddResource(p, a))
}

// blockingResource serves its body only after release is closed.
type blockingResource struct {
	server.BaseResource
	started chan struct{}
	release chan struct{}
	content string
}

func (r *blockingResource) Allows(t server.RequestType) bool { return t == server.RequestGet }

func (r *blockingResource) Serve(ctx context.Context, resp *server.Response, req *server.Request) error {
	close(r.started)
	select {
	case <-r.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	resp.SetCacheKind(server.CacheNone)
	resp.WriteString(r.content)
	return nil
}

func TestRemovalDoesNotBreakInFlightRequest(t *testing.T) {
	srv := newServer()
	r := &blockingResource{
		BaseResource: server.BaseResource{Public: true},
		started:      make(chan struct{}),
		release:      make(chan struct{}),
		content:      "still here",
	}
	p := server.MustParsePath("live")
	require.NoError(t, srv.AddResource(p, r))

	done := make(chan *servertest.Backend)
	go func() {
		done <- servertest.Do(context.Background(), srv, "live", server.RequestGet, true, nil)
	}()

	<-r.started
	require.NoError(t, srv.RemoveResource(p))
	close(r.release)

	b := <-done
	assert.Equal(t, 200, b.Status())
	assert.Equal(t, "still here", string(b.Body()))
}
