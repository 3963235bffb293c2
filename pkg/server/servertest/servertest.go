// Package servertest provides in-memory request/response plumbing for
// exercising resources without HTTP.
package servertest

import (
	"context"
	"sync"

	"github.com/risevideo/risecast/pkg/server"
)

// Body replays a fixed byte stream in chunks.
type Body struct {
	mu        sync.Mutex
	chunks    [][]byte
	delivered int
}

// NewBody builds a body from chunks. Each chunk arrives from one
// ReadSome call, mirroring how the HTTP adapter chunks a wire body.
func NewBody(chunks ...[]byte) *Body {
	return &Body{chunks: chunks}
}

func (b *Body) ReadSome(ctx context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.delivered >= len(b.chunks) {
		return nil, nil
	}
	chunk := b.chunks[b.delivered]
	b.delivered++
	return chunk, nil
}

// Backend collects everything a response commits.
type Backend struct {
	mu      sync.Mutex
	status  int
	headers map[string]string
	body    []byte
	flushes int
}

func NewBackend() *Backend {
	return &Backend{}
}

func (b *Backend) WriteHeader(status int, headers map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = status
	b.headers = headers
	return nil
}

func (b *Backend) Write(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.body = append(b.body, p...)
	return nil
}

func (b *Backend) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushes++
	return nil
}

func (b *Backend) Status() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *Backend) Header(name string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.headers[name]
}

func (b *Backend) Body() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.body))
	copy(out, b.body)
	return out
}

func (b *Backend) Flushes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushes
}

// Do runs one request through the dispatcher and returns the backend.
func Do(ctx context.Context, srv *server.Server, path string, reqType server.RequestType,
	public bool, body *Body) *Backend {

	backend := NewBackend()
	resp := server.NewResponse(backend, 600)
	p, err := server.ParsePath(path)
	if err != nil {
		kind := server.ErrBadRequest
		if srvErr, ok := err.(*server.Error); ok {
			kind = srvErr.Kind
		}
		resp.SetErrorAndMessage(kind, "")
		_ = resp.Flush(ctx, true)
		return backend
	}
	if body == nil {
		body = NewBody()
	}
	req := server.NewRequest(p, reqType, public, body)
	srv.Serve(ctx, resp, req)
	return backend
}
