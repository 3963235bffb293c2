package instance

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/risevideo/risecast/internal/config"
	"github.com/risevideo/risecast/internal/media"
	"github.com/risevideo/risecast/pkg/eventlog"
	"github.com/risevideo/risecast/pkg/server"
	"github.com/risevideo/risecast/pkg/server/servertest"
)

type fakeTranscoder struct {
	mu     sync.Mutex
	killed bool
}

func (f *fakeTranscoder) Kill(ctx context.Context) error {
	f.mu.Lock()
	f.killed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTranscoder) isKilled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.killed
}

type fakeLaunches struct {
	mu          sync.Mutex
	transcoders map[string]*fakeTranscoder
}

func (f *fakeLaunches) launcher(ctx context.Context, elog *eventlog.Log, cfg *config.Root,
	channel *config.Channel, basePath string) (Transcoder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr := &fakeTranscoder{}
	f.transcoders[channel.Source.URL] = tr
	return tr, nil
}

func testProbe(ctx context.Context, url string, arguments []string) (media.SourceInfo, error) {
	return media.SourceInfo{
		Video: &media.VideoStreamInfo{Width: 1920, Height: 1080, FrameRateNumerator: 25, FrameRateDenominator: 1},
		Audio: &media.AudioStreamInfo{SampleRate: 48000},
	}, nil
}

func newTestState(t *testing.T) (*State, *server.Server, *fakeLaunches) {
	t.Helper()
	elog := eventlog.NewMemoryLog(eventlog.LevelError, false)
	srv := server.New(elog)
	launches := &fakeLaunches{transcoders: make(map[string]*fakeTranscoder)}
	state := New(context.Background(), elog, srv, testProbe, launches.launcher)
	t.Cleanup(func() { state.Close(context.Background()) })
	return state, srv, launches
}

func mustParse(t *testing.T, jsonStr string) *config.Root {
	t.Helper()
	cfg, err := config.FromJSON(jsonStr)
	require.NoError(t, err)
	return cfg
}

const baseConfig = `{
	"channels": {
		"tv/main": {"source": {"url": "rtsp://example/one"}}
	}
}`

func TestApplyConfigurationStartsChannels(t *testing.T) {
	state, srv, launches := newTestState(t)
	ctx := context.Background()

	require.NoError(t, state.ApplyConfiguration(ctx, mustParse(t, baseConfig)))

	// The channel's info.json is reachable.
	b := servertest.Do(ctx, srv, "tv/main/info.json", server.RequestGet, true, nil)
	assert.Equal(t, 200, b.Status())

	// The channel index lists it.
	b = servertest.Do(ctx, srv, "channelIndex.json", server.RequestGet, true, nil)
	require.Equal(t, 200, b.Status())
	assert.Contains(t, string(b.Body()), "/tv/main/info.json")

	// The transcoder runs and the source URL is in use.
	launches.mu.Lock()
	require.Len(t, launches.transcoders, 1)
	launches.mu.Unlock()
	_, inUse := state.InUseUrls()["rtsp://example/one"]
	assert.True(t, inUse)
}

func TestApplyConfigurationRemovesChannel(t *testing.T) {
	state, srv, launches := newTestState(t)
	ctx := context.Background()

	require.NoError(t, state.ApplyConfiguration(ctx, mustParse(t, baseConfig)))
	require.NoError(t, state.ApplyConfiguration(ctx, mustParse(t, `{"channels": {}}`)))

	launches.mu.Lock()
	tr := launches.transcoders["rtsp://example/one"]
	launches.mu.Unlock()
	require.NotNil(t, tr)
	assert.True(t, tr.isKilled())

	b := servertest.Do(ctx, srv, "tv/main/info.json", server.RequestGet, true, nil)
	assert.Equal(t, 404, b.Status())
	assert.Empty(t, state.InUseUrls())
}

func TestApplyConfigurationKeepsUnchangedChannel(t *testing.T) {
	state, _, launches := newTestState(t)
	ctx := context.Background()

	require.NoError(t, state.ApplyConfiguration(ctx, mustParse(t, baseConfig)))
	launches.mu.Lock()
	first := launches.transcoders["rtsp://example/one"]
	launches.mu.Unlock()

	// The same channel again: differs only by (fresh) uid, so the
	// transcoder keeps running.
	require.NoError(t, state.ApplyConfiguration(ctx, mustParse(t, baseConfig)))
	assert.False(t, first.isKilled())

	// A real change restarts it.
	changed := `{"channels": {"tv/main": {"source": {"url": "rtsp://example/one"}, "name": "Renamed"}}}`
	require.NoError(t, state.ApplyConfiguration(ctx, mustParse(t, changed)))
	assert.True(t, first.isKilled())
}

func TestApplyConfigurationRejectsImmutableChanges(t *testing.T) {
	state, _, _ := newTestState(t)
	ctx := context.Background()

	require.NoError(t, state.ApplyConfiguration(ctx, mustParse(t, baseConfig)))

	changedPort := `{
		"channels": {"tv/main": {"source": {"url": "rtsp://example/one"}}},
		"network": {"port": 9999}
	}`
	err := state.ApplyConfiguration(ctx, mustParse(t, changedPort))
	require.Error(t, err)
	var badReplacement *BadConfigurationReplacementError
	require.ErrorAs(t, err, &badReplacement)
	assert.Equal(t, "network.port", badReplacement.Field)

	// The active configuration is untouched.
	assert.EqualValues(t, 8080, state.ActiveConfig().Network.Port)
}

func TestApplyConfigurationSeparatedIngest(t *testing.T) {
	state, srv, _ := newTestState(t)
	ctx := context.Background()

	listenCfg := `{"channels": {"tv/main": {
		"source": {"url": "rtmp://localhost:1935/live", "listen": true}
	}}}`
	require.NoError(t, state.ApplyConfiguration(ctx, mustParse(t, listenCfg)))

	// The ingest stream endpoint exists and accepts a private PUT.
	b := servertest.Do(ctx, srv, "ingest/__listen__/0/stream", server.RequestPut, false,
		servertest.NewBody([]byte("media")))
	assert.Equal(t, 200, b.Status())

	// The rewritten URL is what's in use.
	_, inUse := state.InUseUrls()["ingest_http://localhost:8080/ingest/__listen__/0"]
	assert.True(t, inUse)
}

func TestInUseUrlsMatchesActiveChannels(t *testing.T) {
	state, _, _ := newTestState(t)
	ctx := context.Background()

	cfg := `{"channels": {
		"a": {"source": {"url": "rtsp://example/a"}},
		"b": {"source": {"url": "rtsp://example/b"}}
	}}`
	require.NoError(t, state.ApplyConfiguration(ctx, mustParse(t, cfg)))

	inUse := state.InUseUrls()
	assert.Len(t, inUse, 2)
	_, okA := inUse["rtsp://example/a"]
	_, okB := inUse["rtsp://example/b"]
	assert.True(t, okA)
	assert.True(t, okB)
}
