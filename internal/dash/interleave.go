// Package dash owns the per-channel live resources: the interleave
// multiplexer, the segment resources that fan into it, and the
// coordinator that manages their lifecycle.
package dash

import (
	"context"
	"sync"
	"time"

	"github.com/risevideo/risecast/pkg/eventlog"
	"github.com/risevideo/risecast/pkg/rise"
	"github.com/risevideo/risecast/pkg/server"
	"github.com/risevideo/risecast/pkg/syncx"
)

// Interleave is one multiplexed output byte-stream, shared by several
// substream writers and at most one reader.
type Interleave struct {
	server.BaseResource
	log *eventlog.Context

	mu sync.Mutex

	// numRemainingStreams counts the substreams that haven't finished.
	numRemainingStreams int

	// timestampIntervalMs is rise.TimestampDisabled to disable
	// timestamp injection, which is useful for testing.
	timestampIntervalMs uint32

	// lastTimestamp is monotonic: the zero value makes the first chunk
	// carry a timestamp.
	lastTimestamp time.Time

	// chunks is append-only: every emitted chunk, framed.
	chunks     [][]byte
	totalBytes uint64

	reading bool
	event   *syncx.Event
}

func NewInterleave(log *eventlog.Log, numStreams int, timestampIntervalMs uint32) *Interleave {
	return &Interleave{
		BaseResource:        server.BaseResource{Public: true},
		log:                 log.Context("interleave"),
		numRemainingStreams: numStreams,
		timestampIntervalMs: timestampIntervalMs,
		event:               syncx.NewEvent(),
	}
}

func (il *Interleave) Allows(t server.RequestType) bool {
	return t == server.RequestGet
}

// timestamp decides whether this chunk gets a timestamp, per the
// monotonic interval rule, and returns it (UTC microseconds) if so.
// Callers hold il.mu.
func (il *Interleave) timestamp() *uint64 {
	if il.timestampIntervalMs == rise.TimestampDisabled {
		return nil
	}
	now := time.Now()
	if !il.lastTimestamp.IsZero() && now.Sub(il.lastTimestamp) < time.Duration(il.timestampIntervalMs)*time.Millisecond {
		return nil
	}
	il.lastTimestamp = now
	ts := uint64(now.UnixMicro())
	return &ts
}

func (il *Interleave) appendChunk(streamIndex int, payload []byte) {
	chunk := rise.AppendChunk(nil, streamIndex, payload, il.timestamp())
	il.chunks = append(il.chunks, chunk)
	il.totalBytes += uint64(len(chunk))
	il.event.NotifyAll()
}

// AddStreamData appends data to a substream. An empty chunk ends the
// substream; even then a frame goes into the interleave so the client
// knows it ended.
func (il *Interleave) AddStreamData(data []byte, streamIndex int) {
	il.mu.Lock()
	defer il.mu.Unlock()
	if streamIndex > rise.MaxDataStreamIndex || il.numRemainingStreams == 0 {
		return
	}
	if len(data) == 0 {
		il.numRemainingStreams--
	}
	il.appendChunk(streamIndex, data)
}

// AddControlChunk appends a control chunk whose first payload byte is
// the control type.
func (il *Interleave) AddControlChunk(controlType byte, payload []byte) {
	il.mu.Lock()
	defer il.mu.Unlock()
	if il.numRemainingStreams == 0 {
		return
	}
	body := make([]byte, 0, len(payload)+1)
	body = append(body, controlType)
	body = append(body, payload...)
	il.appendChunk(rise.ControlStreamIndex, body)
}

// Terminal reports whether every substream has ended.
func (il *Interleave) Terminal() bool {
	il.mu.Lock()
	defer il.mu.Unlock()
	return il.numRemainingStreams == 0
}

// TotalBytes is the framed size of everything emitted so far.
func (il *Interleave) TotalBytes() uint64 {
	il.mu.Lock()
	defer il.mu.Unlock()
	return il.totalBytes
}

// Serve streams every chunk, in emission order, until the interleave
// is terminal. At most one concurrent reader is permitted.
func (il *Interleave) Serve(ctx context.Context, resp *server.Response, req *server.Request) error {
	if err := req.ReadEmpty(ctx); err != nil {
		return err
	}

	il.mu.Lock()
	if il.reading {
		il.mu.Unlock()
		return server.NewError(server.ErrConflict, "interleave already has a reader")
	}
	il.reading = true
	il.mu.Unlock()
	defer func() {
		il.mu.Lock()
		il.reading = false
		il.mu.Unlock()
	}()

	resp.SetCacheKind(server.CacheNone)

	for i := 0; ; {
		waiter := il.event.Waiter()
		il.mu.Lock()
		if i == len(il.chunks) {
			if il.numRemainingStreams == 0 {
				il.mu.Unlock()
				return nil
			}
			il.mu.Unlock()
			if err := syncx.WaitOn(ctx, waiter); err != nil {
				return err
			}
			continue
		}
		chunk := il.chunks[i]
		i++
		il.mu.Unlock()

		resp.Write(chunk)
		if err := resp.Flush(ctx, false); err != nil {
			return err
		}
	}
}
