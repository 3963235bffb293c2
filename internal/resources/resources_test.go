package resources

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/risevideo/risecast/pkg/server"
	"github.com/risevideo/risecast/pkg/server/servertest"
)

func serveDirect(t *testing.T, r server.Resource, reqType server.RequestType,
	path string, body *servertest.Body) (*servertest.Backend, error) {
	t.Helper()
	backend := servertest.NewBackend()
	resp := server.NewResponse(backend, 600)
	if body == nil {
		body = servertest.NewBody()
	}
	req := server.NewRequest(server.MustParsePath(path), reqType, false, body)
	err := r.Serve(context.Background(), resp, req)
	if err == nil {
		err = resp.Flush(context.Background(), true)
	}
	return backend, err
}

func TestConstant(t *testing.T) {
	c := NewConstant([]byte("hello"), "text/plain", server.CacheIndefinite, true)
	b, err := serveDirect(t, c, server.RequestGet, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b.Body()))
	assert.Equal(t, "text/plain", b.Header("Content-Type"))
	assert.Contains(t, b.Header("Cache-Control"), "max-age=")
	assert.False(t, c.Allows(server.RequestPut))
}

func TestPutThenGet(t *testing.T) {
	p := NewPut("application/octet-stream", server.CacheNone, 1<<20, true)

	// GET before any PUT is not found.
	_, err := serveDirect(t, p, server.RequestGet, "", nil)
	require.Error(t, err)
	srvErr, ok := err.(*server.Error)
	require.True(t, ok)
	assert.Equal(t, server.ErrNotFound, srvErr.Kind)

	_, err = serveDirect(t, p, server.RequestPut, "", servertest.NewBody([]byte("abc"), []byte("def")))
	require.NoError(t, err)

	b, err := serveDirect(t, p, server.RequestGet, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(b.Body()))

	// A second PUT replaces the content.
	_, err = serveDirect(t, p, server.RequestPut, "", servertest.NewBody([]byte("xyz")))
	require.NoError(t, err)
	b, err = serveDirect(t, p, server.RequestGet, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "xyz", string(b.Body()))
}

func TestErrorResource(t *testing.T) {
	e := NewError(server.Error{Kind: server.ErrNotFound}, server.CacheEphemeral, true, server.RequestGet)
	_, err := serveDirect(t, e, server.RequestGet, "whatever", nil)
	require.Error(t, err)
	srvErr, ok := err.(*server.Error)
	require.True(t, ok)
	assert.Equal(t, server.ErrNotFound, srvErr.Kind)
	assert.True(t, e.Allows(server.RequestGet))
	assert.False(t, e.Allows(server.RequestPost))
}
