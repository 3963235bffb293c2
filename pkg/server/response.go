package server

import (
	"context"
)

// ResponseBackend is the wire side of a Response: typically an HTTP
// response writer, or an in-memory sink in tests.
type ResponseBackend interface {
	// WriteHeader commits the status line and headers. Called at most
	// once, before the first Write.
	WriteHeader(status int, headers map[string]string) error

	// Write sends body bytes towards the wire.
	Write(p []byte) error

	// Flush guarantees previously written bytes reach the wire.
	Flush() error
}

// Response accumulates header state and body bytes for one request.
// Header state may change only until the first body byte is committed
// by Flush; afterwards the response can only append and flush.
type Response struct {
	backend      ResponseBackend
	errKind      *ErrorKind
	cacheKind    CacheKind
	nonLiveTime  uint
	mimeType     string
	extraHeaders map[string]string
	queue        [][]byte
	writeStarted bool
	ended        bool
}

// NewResponse creates a response over a backend. nonLiveTime is the
// configured lifetime of CacheFixed responses, in seconds.
func NewResponse(backend ResponseBackend, nonLiveTime uint) *Response {
	return &Response{backend: backend, nonLiveTime: nonLiveTime}
}

func (r *Response) WriteStarted() bool { return r.writeStarted }
func (r *Response) Ended() bool        { return r.ended }

func (r *Response) mustBeMutable() {
	if r.writeStarted {
		panic("response header state changed after writing started")
	}
}

// SetErrorKind records the error kind the status line will carry.
func (r *Response) SetErrorKind(kind ErrorKind) {
	r.mustBeMutable()
	k := kind
	r.errKind = &k
}

func (r *Response) SetCacheKind(kind CacheKind) {
	r.mustBeMutable()
	r.cacheKind = kind
}

func (r *Response) SetMimeType(mimeType string) {
	r.mustBeMutable()
	r.mimeType = mimeType
}

func (r *Response) SetHeader(name, value string) {
	r.mustBeMutable()
	if r.extraHeaders == nil {
		r.extraHeaders = make(map[string]string)
	}
	r.extraHeaders[name] = value
}

// SetErrorAndMessage sets the error kind, sets the MIME type to
// text/plain iff msg is non-empty, and replaces the body with msg.
func (r *Response) SetErrorAndMessage(kind ErrorKind, msg string) {
	r.mustBeMutable()
	r.SetErrorKind(kind)
	r.queue = nil
	if msg != "" {
		r.SetMimeType("text/plain")
		r.queue = append(r.queue, []byte(msg))
	}
}

// Write queues body bytes. The bytes are not committed to the wire
// until the next Flush.
func (r *Response) Write(p []byte) {
	if r.ended {
		panic("write to ended response")
	}
	if len(p) == 0 {
		return
	}
	r.queue = append(r.queue, p)
}

func (r *Response) WriteString(s string) {
	r.Write([]byte(s))
}

func (r *Response) status() int {
	if r.errKind == nil {
		return 200
	}
	return r.errKind.HTTPStatus()
}

func (r *Response) headers() map[string]string {
	h := make(map[string]string, len(r.extraHeaders)+2)
	for k, v := range r.extraHeaders {
		h[k] = v
	}
	h["Cache-Control"] = r.cacheKind.CacheControl(r.nonLiveTime)
	if r.mimeType != "" {
		h["Content-Type"] = r.mimeType
	}
	return h
}

// Flush commits headers on first use and guarantees all previously
// written bytes reach the wire before returning. end seals the
// response; any subsequent write is a programming error.
func (r *Response) Flush(ctx context.Context, end bool) error {
	_ = ctx
	if r.ended {
		if end {
			return nil
		}
		panic("flush of ended response")
	}
	if !r.writeStarted {
		if err := r.backend.WriteHeader(r.status(), r.headers()); err != nil {
			return err
		}
		r.writeStarted = true
	}
	for _, chunk := range r.queue {
		if err := r.backend.Write(chunk); err != nil {
			return err
		}
	}
	r.queue = nil
	if err := r.backend.Flush(); err != nil {
		return err
	}
	if end {
		r.ended = true
	}
	return nil
}
