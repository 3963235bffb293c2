package dash

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/risevideo/risecast/pkg/eventlog"
	"github.com/risevideo/risecast/pkg/server"
	"github.com/risevideo/risecast/pkg/syncx"
)

// SegmentState is the lifecycle of a segment resource.
type SegmentState int

const (
	// SegmentPrePublished means the resource exists but no PUT byte
	// has arrived yet (the pre-availability window).
	SegmentPrePublished SegmentState = iota

	// SegmentPublishing means the transcoder's PUT is in progress.
	SegmentPublishing

	// SegmentCompleted means the PUT body ended.
	SegmentCompleted

	// SegmentExpired means the coordinator garbage-collected it.
	SegmentExpired
)

// segmentCoordinator is what a Segment needs of its coordinator.
type segmentCoordinator interface {
	notifySegmentStart(streamIndex, segmentIndex uint)
}

// Segment is the per-segment resource: it accepts exactly one PUT from
// the transcoder and fans every body chunk into its interleave. When
// segments are exposed, the chunks are also retained for GETs.
type Segment struct {
	server.BaseResource
	log         *eventlog.Context
	coordinator segmentCoordinator

	streamIndex       uint
	segmentIndex      uint
	interleave        *Interleave
	indexInInterleave int

	event *syncx.Event

	mu        sync.Mutex
	state     SegmentState
	cacheKind server.CacheKind
	data      [][]byte
	putTaken  bool
	created   time.Time
}

func NewSegment(log *eventlog.Log, expose bool, coordinator segmentCoordinator,
	streamIndex, segmentIndex uint, interleave *Interleave,
	interleaveIndex uint, indexInInterleave int) *Segment {

	s := &Segment{
		BaseResource:      server.BaseResource{Public: expose},
		log:               log.Context("segment"),
		coordinator:       coordinator,
		streamIndex:       streamIndex,
		segmentIndex:      segmentIndex,
		interleave:        interleave,
		indexInInterleave: indexInInterleave,
		event:             syncx.NewEvent(),
		cacheKind:         server.CacheFixed,
		created:           time.Now(),
	}
	s.log.Info("new", fmt.Sprintf(`{"streamIndex":%d,"segmentIndex":%d,"interleaveIndex":%d,"indexInInterleave":%d}`,
		streamIndex, segmentIndex, interleaveIndex, indexInInterleave))
	return s
}

func (s *Segment) Allows(t server.RequestType) bool {
	switch t {
	case server.RequestGet:
		return s.Public
	case server.RequestPut:
		return true
	}
	return false
}

func (s *Segment) MaxRequestLength(t server.RequestType) uint64 {
	if t == server.RequestPut {
		return server.NoMaxLength
	}
	return 0
}

// State returns the lifecycle state.
func (s *Segment) State() SegmentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Age is the time since the segment resource was created.
func (s *Segment) Age() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.created)
}

// setCacheKind is called by the coordinator when a successor
// supersedes this segment.
func (s *Segment) setCacheKind(kind server.CacheKind) {
	s.mu.Lock()
	s.cacheKind = kind
	s.mu.Unlock()
}

// expire marks the segment garbage-collected.
func (s *Segment) expire() {
	s.mu.Lock()
	s.state = SegmentExpired
	s.mu.Unlock()
}

func (s *Segment) Serve(ctx context.Context, resp *server.Response, req *server.Request) error {
	switch req.Type() {
	case server.RequestGet:
		return s.serveGet(ctx, resp, req)
	case server.RequestPut:
		return s.servePut(ctx, resp, req)
	}
	return server.UnsupportedVerb(req.Type())
}

func (s *Segment) servePut(ctx context.Context, resp *server.Response, req *server.Request) error {
	/* Exactly one PUT is permitted. */
	s.mu.Lock()
	if s.putTaken {
		s.mu.Unlock()
		return server.NewError(server.ErrConflict, "segment already has a writer")
	}
	s.putTaken = true
	s.mu.Unlock()

	resp.SetCacheKind(server.CacheNone)

	for first := true; ; first = false {
		chunk, err := req.ReadSome(ctx)
		if err != nil {
			return err
		}

		// The first chunk arms the pre-availability timer for the next
		// segment.
		if first {
			s.mu.Lock()
			s.state = SegmentPublishing
			s.mu.Unlock()
			s.coordinator.notifySegmentStart(s.streamIndex, s.segmentIndex)
			s.log.Info("start", fmt.Sprintf("stream %d segment %d", s.streamIndex, s.segmentIndex))
		}

		// Hand the data over to the interleave. An empty chunk ends
		// the substream there too.
		s.interleave.AddStreamData(chunk, s.indexInInterleave)

		// Retain the data if it's GETtable, and wake any readers.
		isEmpty := len(chunk) == 0
		if s.Public {
			s.mu.Lock()
			s.data = append(s.data, chunk)
			s.mu.Unlock()
			s.event.NotifyAll()
		}

		if isEmpty {
			break
		}
	}

	s.mu.Lock()
	s.state = SegmentCompleted
	s.mu.Unlock()
	return nil
}

func (s *Segment) serveGet(ctx context.Context, resp *server.Response, req *server.Request) error {
	if err := req.ReadEmpty(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	resp.SetCacheKind(s.cacheKind)
	s.mu.Unlock()

	/* Stream retained chunks, waiting for more until the end-of-body
	   marker. */
	for i := 0; ; {
		waiter := s.event.Waiter()
		s.mu.Lock()
		if i == len(s.data) {
			s.mu.Unlock()
			if err := syncx.WaitOn(ctx, waiter); err != nil {
				return err
			}
			continue
		}
		chunk := s.data[i]
		i++
		s.mu.Unlock()

		if len(chunk) == 0 {
			return nil
		}
		resp.Write(chunk)
		if err := resp.Flush(ctx, false); err != nil {
			return err
		}
	}
}
