package dash

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/risevideo/risecast/pkg/eventlog"
	"github.com/risevideo/risecast/pkg/rise"
	"github.com/risevideo/risecast/pkg/server"
	"github.com/risevideo/risecast/pkg/server/servertest"
)

func testLog() *eventlog.Log {
	return eventlog.NewMemoryLog(eventlog.LevelError, false)
}

func getInterleave(t *testing.T, il *Interleave) *servertest.Backend {
	t.Helper()
	backend := servertest.NewBackend()
	resp := server.NewResponse(backend, 600)
	req := server.NewRequest(server.Path{}, server.RequestGet, true, servertest.NewBody())
	require.NoError(t, il.Serve(context.Background(), resp, req))
	require.NoError(t, resp.Flush(context.Background(), true))
	return backend
}

func TestInterleaveSingleSubstream(t *testing.T) {
	il := NewInterleave(testLog(), 1, rise.TimestampDisabled)
	il.AddStreamData([]byte{0x5a, 0xa5, 0x55, 0xaa, 0x33, 0xcc}, 0)
	il.AddStreamData(nil, 0)
	require.True(t, il.Terminal())

	b := getInterleave(t, il)
	assert.Equal(t, []byte{0x00, 0x06, 0x5a, 0xa5, 0x55, 0xaa, 0x33, 0xcc, 0x00, 0x00}, b.Body())
	assert.Equal(t, "no-cache", b.Header("Cache-Control"))
}

func TestInterleaveControlChunk(t *testing.T) {
	il := NewInterleave(testLog(), 1, rise.TimestampDisabled)
	il.AddStreamData([]byte{0x5a, 0xa5, 0x55, 0xaa, 0x33, 0xcc}, 0)
	il.AddControlChunk(rise.ControlDiscard, []byte{0x5a, 0xa5, 0x55, 0xaa, 0x33, 0xcc})
	il.AddStreamData(nil, 0)

	b := getInterleave(t, il)
	want := []byte{
		0x00, 0x06, 0x5a, 0xa5, 0x55, 0xaa, 0x33, 0xcc,
		0x1f, 0x07, 0xff, 0x5a, 0xa5, 0x55, 0xaa, 0x33, 0xcc,
		0x00, 0x00,
	}
	assert.Equal(t, want, b.Body())
}

func TestInterleaveRoundTrip(t *testing.T) {
	il := NewInterleave(testLog(), 2, rise.TimestampDisabled)
	il.AddStreamData([]byte("video0"), 0)
	il.AddStreamData([]byte("audio0"), 1)
	il.AddStreamData([]byte("video1"), 0)
	il.AddStreamData(nil, 0)
	il.AddStreamData(nil, 1)

	b := getInterleave(t, il)
	chunks, err := rise.DecodeAll(bytes.NewReader(b.Body()))
	require.NoError(t, err)
	require.Len(t, chunks, 5)

	// Chunks interleave in enqueue order, and each substream ends with
	// exactly one zero-length chunk as its last chunk.
	assert.Equal(t, "video0", string(chunks[0].Payload))
	assert.Equal(t, 0, chunks[0].StreamIndex)
	assert.Equal(t, "audio0", string(chunks[1].Payload))
	assert.Equal(t, 1, chunks[1].StreamIndex)
	assert.Equal(t, "video1", string(chunks[2].Payload))
	assert.True(t, chunks[3].IsEndOfStream())
	assert.Equal(t, 0, chunks[3].StreamIndex)
	assert.True(t, chunks[4].IsEndOfStream())
	assert.Equal(t, 1, chunks[4].StreamIndex)
}

func TestInterleaveTimestamps(t *testing.T) {
	// A very large interval: only the first chunk gets a timestamp.
	il := NewInterleave(testLog(), 1, 1000000)
	before := uint64(time.Now().UnixMicro())
	il.AddStreamData([]byte("one"), 0)
	il.AddStreamData([]byte("two"), 0)
	il.AddStreamData(nil, 0)
	after := uint64(time.Now().UnixMicro())

	b := getInterleave(t, il)
	chunks, err := rise.DecodeAll(bytes.NewReader(b.Body()))
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	require.True(t, chunks[0].HasTimestamp)
	assert.GreaterOrEqual(t, chunks[0].Timestamp, before)
	assert.LessOrEqual(t, chunks[0].Timestamp, after)
	assert.False(t, chunks[1].HasTimestamp)
	assert.False(t, chunks[2].HasTimestamp)
}

func TestInterleaveTimestampInterval(t *testing.T) {
	// Zero interval: every chunk gets a timestamp.
	il := NewInterleave(testLog(), 1, 0)
	il.AddStreamData([]byte("one"), 0)
	il.AddStreamData([]byte("two"), 0)
	il.AddStreamData(nil, 0)

	b := getInterleave(t, il)
	chunks, err := rise.DecodeAll(bytes.NewReader(b.Body()))
	require.NoError(t, err)
	for i, c := range chunks {
		assert.True(t, c.HasTimestamp, "chunk %d", i)
	}
}

func TestInterleaveSecondReaderConflicts(t *testing.T) {
	il := NewInterleave(testLog(), 1, rise.TimestampDisabled)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	firstDone := make(chan error)
	go func() {
		resp := server.NewResponse(servertest.NewBackend(), 600)
		req := server.NewRequest(server.Path{}, server.RequestGet, true, servertest.NewBody())
		firstDone <- il.Serve(ctx, resp, req)
	}()

	// Wait for the first reader to register.
	require.Eventually(t, func() bool {
		il.mu.Lock()
		defer il.mu.Unlock()
		return il.reading
	}, time.Second, time.Millisecond)

	resp := server.NewResponse(servertest.NewBackend(), 600)
	req := server.NewRequest(server.Path{}, server.RequestGet, true, servertest.NewBody())
	err := il.Serve(context.Background(), resp, req)
	require.Error(t, err)
	srvErr, ok := err.(*server.Error)
	require.True(t, ok)
	assert.Equal(t, server.ErrConflict, srvErr.Kind)

	cancel()
	<-firstDone
}

func TestInterleaveLiveReader(t *testing.T) {
	// A reader that joins before the data arrives receives it all.
	il := NewInterleave(testLog(), 1, rise.TimestampDisabled)
	done := make(chan *servertest.Backend)
	go func() {
		backend := servertest.NewBackend()
		resp := server.NewResponse(backend, 600)
		req := server.NewRequest(server.Path{}, server.RequestGet, true, servertest.NewBody())
		_ = il.Serve(context.Background(), resp, req)
		_ = resp.Flush(context.Background(), true)
		done <- backend
	}()

	time.Sleep(10 * time.Millisecond)
	il.AddStreamData([]byte("live"), 0)
	il.AddStreamData(nil, 0)

	b := <-done
	chunks, err := rise.DecodeAll(bytes.NewReader(b.Body()))
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "live", string(chunks[0].Payload))
	assert.True(t, chunks[1].IsEndOfStream())
}
