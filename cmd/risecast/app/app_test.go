package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/risevideo/risecast/internal/config"
	"github.com/risevideo/risecast/pkg/eventlog"
	"github.com/risevideo/risecast/pkg/server"
)

type literalResource struct {
	server.BaseResource
	content string
}

func (r *literalResource) Allows(t server.RequestType) bool {
	return t == server.RequestGet
}

func (r *literalResource) Serve(ctx context.Context, resp *server.Response, req *server.Request) error {
	if err := req.ReadEmpty(ctx); err != nil {
		return err
	}
	resp.SetCacheKind(server.CacheFixed)
	resp.SetMimeType("text/plain")
	resp.WriteString(r.content)
	return nil
}

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

func newTestServer(t *testing.T) (*httptest.Server, *server.Server) {
	t.Helper()
	elog := eventlog.NewMemoryLog(eventlog.LevelError, false)
	tree := server.New(elog)

	network := &config.Network{}
	httpCfg := &config.Http{CacheNonLiveTime: 600}
	router := chi.NewRouter()
	router.Handle("/*", NewAdapter(tree, network, httpCfg))

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts, tree
}

func TestShortStatic(t *testing.T) {
	ts, tree := newTestServer(t)
	require.NoError(t, tree.AddResource(server.MustParsePath("Short"),
		&literalResource{BaseResource: server.BaseResource{Public: true}, content: "Cats are cute :D"}))

	resp, err := http.Get(ts.URL + "/Short")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.Equal(t, "public, max-age=600", resp.Header.Get("Cache-Control"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Cats are cute :D", string(body))
}

func TestEchoChunked(t *testing.T) {
	ts, tree := newTestServer(t)
	require.NoError(t, tree.AddResource(server.MustParsePath("Echo"), &echoResource{}))

	// The loopback client is private, so POST is permitted.
	resp, err := http.Post(ts.URL+"/Echo", "application/octet-stream", strings.NewReader("Kitten"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Contains(t, resp.TransferEncoding, "chunked")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Kitten", string(body))
}

func TestDirectoryTraversalForbidden(t *testing.T) {
	ts, _ := newTestServer(t)

	// Build the request by hand so the client doesn't normalize the
	// path away.
	req, err := http.NewRequest(http.MethodGet, ts.URL, nil)
	require.NoError(t, err)
	req.URL.Path = "/.."
	req.URL.RawPath = "/.."
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestNotFound(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/nonexistent")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPublicMutationForbidden(t *testing.T) {
	elog := eventlog.NewMemoryLog(eventlog.LevelError, false)
	tree := server.New(elog)
	require.NoError(t, tree.AddResource(server.MustParsePath("Echo"), &echoResource{}))
	adapter := NewAdapter(tree, &config.Network{}, &config.Http{CacheNonLiveTime: 600})

	// A non-loopback source is public, and a public source may only GET.
	req := httptest.NewRequest(http.MethodPost, "/Echo", strings.NewReader("Kitten"))
	req.RemoteAddr = "203.0.113.9:4444"
	rec := httptest.NewRecorder()
	adapter.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
