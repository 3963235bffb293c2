package app

import (
	"context"
	"io"
	"net/http"
	"net/netip"

	"github.com/risevideo/risecast/internal/config"
	"github.com/risevideo/risecast/pkg/server"
)

const bodyReadChunkSize = 1 << 16

// httpBody adapts an HTTP request body to the chunkwise reader the
// resource tree consumes.
type httpBody struct {
	r io.Reader
}

func (b *httpBody) ReadSome(ctx context.Context) ([]byte, error) {
	buf := make([]byte, bodyReadChunkSize)
	n, err := b.r.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == nil || err == io.EOF {
		return nil, nil
	}
	return nil, server.NewError(server.ErrInternal, "connection lost: "+err.Error())
}

// httpBackend adapts an HTTP response writer to the response backend.
type httpBackend struct {
	w http.ResponseWriter
}

func (b *httpBackend) WriteHeader(status int, headers map[string]string) error {
	for name, value := range headers {
		b.w.Header().Set(name, value)
	}
	b.w.WriteHeader(status)
	return nil
}

func (b *httpBackend) Write(p []byte) error {
	_, err := b.w.Write(p)
	return err
}

func (b *httpBackend) Flush() error {
	if f, ok := b.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// Adapter translates HTTP requests into resource-tree requests. It is
// mounted as the router's catch-all; everything the tree knows about
// is served through it.
type Adapter struct {
	tree            *server.Server
	privateNetworks []server.Address
	nonLiveTime     uint
	origin          *string
}

func NewAdapter(tree *server.Server, network *config.Network, httpCfg *config.Http) *Adapter {
	return &Adapter{
		tree:            tree,
		privateNetworks: network.PrivateNetworks,
		nonLiveTime:     httpCfg.CacheNonLiveTime,
		origin:          httpCfg.Origin,
	}
}

// isPublic classifies the request source. Loopback and configured
// private networks are private; everything else is public.
func (a *Adapter) isPublic(remoteAddr string) bool {
	addrPort, err := netip.ParseAddrPort(remoteAddr)
	if err != nil {
		return true
	}
	return !server.IsPrivate(addrPort.Addr(), a.privateNetworks)
}

func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if a.origin != nil {
		w.Header().Set("Access-Control-Allow-Origin", *a.origin)
	}

	var reqType server.RequestType
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		reqType = server.RequestGet
	case http.MethodPost:
		reqType = server.RequestPost
	case http.MethodPut:
		reqType = server.RequestPut
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusNoContent)
		return
	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	path, err := server.ParsePath(r.URL.Path)
	if err != nil {
		status := http.StatusBadRequest
		if srvErr, ok := err.(*server.Error); ok {
			status = srvErr.Kind.HTTPStatus()
		}
		http.Error(w, http.StatusText(status), status)
		return
	}

	req := server.NewRequest(path, reqType, a.isPublic(r.RemoteAddr), &httpBody{r: r.Body})
	resp := server.NewResponse(&httpBackend{w: w}, a.nonLiveTime)
	a.tree.Serve(r.Context(), resp, req)

	// A response that started but couldn't finish is unrecoverable:
	// drop the connection so the client sees truncation rather than a
	// clean end.
	if resp.WriteStarted() && !resp.Ended() {
		panic(http.ErrAbortHandler)
	}
}
