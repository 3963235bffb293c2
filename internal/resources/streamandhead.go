package resources

import (
	"context"
	"sync"

	"github.com/risevideo/risecast/pkg/server"
	"github.com/risevideo/risecast/pkg/syncx"
)

// StreamAndHead accepts a single live PUT (the ingest) and exposes two
// GET paths: "stream" replays the whole body live with backpressure,
// and "head" serves only the first headSize bytes for late-joining
// probers.
type StreamAndHead struct {
	server.BaseResource
	streamPath server.Path
	headPath   server.Path
	bufferSize uint64
	headSize   uint64

	pushEvent *syncx.Event
	popEvent  *syncx.Event

	mu                 sync.Mutex
	head               []byte
	buffer             [][]byte
	bufferUsed         uint64
	ended              bool
	streamPutConnected bool
	streamGetConnected bool
}

func NewStreamAndHead(streamPath server.Path, bufferSize uint64, headPath server.Path, headSize uint64) *StreamAndHead {
	return &StreamAndHead{
		streamPath: streamPath,
		headPath:   headPath,
		bufferSize: bufferSize,
		headSize:   headSize,
		pushEvent:  syncx.NewEvent(),
		popEvent:   syncx.NewEvent(),
	}
}

func (s *StreamAndHead) AllowNonEmptyPath() bool { return true }

func (s *StreamAndHead) Allows(t server.RequestType) bool {
	return t == server.RequestGet || t == server.RequestPut
}

func (s *StreamAndHead) MaxRequestLength(t server.RequestType) uint64 {
	if t == server.RequestPut {
		return server.NoMaxLength
	}
	return 0
}

// isHead routes to the correct sub-resource based on the path.
func (s *StreamAndHead) isHead(p server.Path) (bool, error) {
	if p.Equal(s.streamPath) {
		return false, nil
	}
	if s.headSize > 0 && p.Equal(s.headPath) {
		return true, nil
	}
	msg := "stream not requested"
	if s.headSize > 0 {
		msg = "neither stream nor head requested"
	}
	return false, server.NewError(server.ErrNotFound, msg)
}

func (s *StreamAndHead) Serve(ctx context.Context, resp *server.Response, req *server.Request) error {
	head, err := s.isHead(req.Path())
	if err != nil {
		return err
	}
	resp.SetCacheKind(server.CacheNone)
	switch req.Type() {
	case server.RequestGet:
		if head {
			return s.getHead(ctx, resp)
		}
		return s.getStream(ctx, resp)
	case server.RequestPut:
		if head {
			return server.NewError(server.ErrUnsupportedType, "cannot put the stream head")
		}
		return s.put(ctx, req)
	}
	return server.UnsupportedVerb(req.Type())
}

func (s *StreamAndHead) put(ctx context.Context, req *server.Request) error {
	/* Only one client at a time. */
	s.mu.Lock()
	if s.streamPutConnected {
		s.mu.Unlock()
		return server.NewError(server.ErrConflict, "client already connected")
	}
	s.streamPutConnected = true
	s.mu.Unlock()

	for {
		chunk, err := req.ReadSome(ctx)
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			break
		}

		s.mu.Lock()

		// Append to the head if we don't have it all yet.
		if uint64(len(s.head)) < s.headSize {
			take := min(s.headSize-uint64(len(s.head)), uint64(len(chunk)))
			s.head = append(s.head, chunk[:take]...)
		}

		// Wait for space in the buffer. The writer may always enqueue
		// into an empty buffer, so inputs larger than the buffer don't
		// deadlock.
		for s.bufferUsed > 0 && s.bufferUsed+uint64(len(chunk)) > s.bufferSize {
			pop := s.popEvent.Waiter()
			s.mu.Unlock()
			if err := syncx.WaitOn(ctx, pop); err != nil {
				return err
			}
			s.mu.Lock()
		}

		s.bufferUsed += uint64(len(chunk))
		s.buffer = append(s.buffer, chunk)
		s.mu.Unlock()

		// Anything waiting for more data can have it now.
		s.pushEvent.NotifyAll()
	}

	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	s.pushEvent.NotifyAll()
	return nil
}

func (s *StreamAndHead) getStream(ctx context.Context, resp *server.Response) error {
	/* Only one client at a time. */
	s.mu.Lock()
	if s.streamGetConnected {
		s.mu.Unlock()
		return server.NewError(server.ErrConflict, "client already connected")
	}
	s.streamGetConnected = true
	s.mu.Unlock()

	/* Keep serving for as long as we can. */
	for {
		push := s.pushEvent.Waiter()
		s.mu.Lock()
		if len(s.buffer) == 0 {
			if s.ended {
				s.mu.Unlock()
				return nil
			}
			s.mu.Unlock()
			if err := syncx.WaitOn(ctx, push); err != nil {
				return err
			}
			continue
		}
		chunk := s.buffer[0]
		s.buffer = s.buffer[1:]
		s.bufferUsed -= uint64(len(chunk))
		s.mu.Unlock()

		// There's now more room in the buffer.
		s.popEvent.NotifyAll()

		// Flush so the client receives data in a timely manner.
		resp.Write(chunk)
		if err := resp.Flush(ctx, false); err != nil {
			return err
		}
	}
}

func (s *StreamAndHead) getHead(ctx context.Context, resp *server.Response) error {
	/* Keep returning more data from the head until either the entire
	   expected head has been emitted, or the entire received head has
	   been emitted and no more is expected. */
	sent := uint64(0)
	for {
		push := s.pushEvent.Waiter()
		s.mu.Lock()
		have := uint64(len(s.head))
		ended := s.ended
		var chunk []byte
		if sent < have {
			chunk = s.head[sent:have]
		}
		s.mu.Unlock()

		if chunk != nil {
			sent = have
			resp.Write(chunk)
			if err := resp.Flush(ctx, false); err != nil {
				return err
			}
			continue
		}
		if sent >= s.headSize || ended {
			return nil
		}
		if err := syncx.WaitOn(ctx, push); err != nil {
			return err
		}
	}
}
