package ffmpeg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/risevideo/risecast/internal/config"
	"github.com/risevideo/risecast/internal/media"
)

func TestTranslateIngestURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8080/ingest/x/probe",
		translateIngestURL("ingest_http://localhost:8080/ingest/x", true))
	assert.Equal(t, "http://localhost:8080/ingest/x/stream",
		translateIngestURL("ingest_http://localhost:8080/ingest/x", false))
	assert.Equal(t, "rtsp://cam/1", translateIngestURL("rtsp://cam/1", true))
}

func TestParseFrameRate(t *testing.T) {
	num, den, err := parseFrameRate("30000/1001")
	require.NoError(t, err)
	assert.EqualValues(t, 30000, num)
	assert.EqualValues(t, 1001, den)

	num, den, err = parseFrameRate("25")
	require.NoError(t, err)
	assert.EqualValues(t, 25, num)
	assert.EqualValues(t, 1, den)

	_, _, err = parseFrameRate("x/y")
	assert.Error(t, err)
	_, _, err = parseFrameRate("25/0")
	assert.Error(t, err)
}

func TestProbeCache(t *testing.T) {
	c := NewProbeCache()
	info := media.SourceInfo{Video: &media.VideoStreamInfo{Width: 640, Height: 480}}

	_, ok := c.Get("url", nil)
	assert.False(t, ok)
	assert.False(t, c.Contains("url"))

	c.Insert(info, "url", []string{"-f", "lavfi"})
	got, ok := c.Get("url", []string{"-f", "lavfi"})
	require.True(t, ok)
	assert.EqualValues(t, 640, got.Video.Width)
	assert.True(t, c.Contains("url"))

	// Different arguments are a different cache entry.
	_, ok = c.Get("url", nil)
	assert.False(t, ok)
}

func uintPtr(v uint) *uint { return &v }

func testChannel() *config.Channel {
	preset := config.PresetFaster
	return &config.Channel{
		Source: config.Source{URL: "rtsp://cam/1", Latency: uintPtr(0)},
		Qualities: []config.Quality{{
			Video: config.VideoQuality{
				Width:                   uintPtr(1280),
				Height:                  uintPtr(720),
				FrameRate:               config.FrameRate{Type: config.FrameRateFps, Numerator: 25, Denominator: 1},
				Bitrate:                 uintPtr(2000),
				MinBitrate:              uintPtr(300),
				Crf:                     25,
				RateControlBufferLength: uintPtr(750),
				Codec:                   media.VideoH264,
				H26xPreset:              &preset,
				Gop:                     uintPtr(25),
			},
			Audio: config.AudioQuality{
				SampleRate: uintPtr(48000),
				Bitrate:    64,
				Codec:      media.AudioAAC,
			},
		}},
		Dash: config.Dash{SegmentDuration: 1000, PreAvailabilityTime: 500},
		UID:  "uid1",
	}
}

func TestArguments(t *testing.T) {
	network := &config.Network{Port: 8080}
	args := Arguments(testChannel(), network, "tv/main/uid1")
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-i rtsp://cam/1")
	assert.Contains(t, joined, "scale=1280:720")
	assert.Contains(t, joined, "fps=25/1")
	assert.Contains(t, joined, "-c:v:0 libx264")
	assert.Contains(t, joined, "-preset:v:0 faster")
	assert.Contains(t, joined, "-maxrate:v:0 2000k")
	assert.Contains(t, joined, "-minrate:v:0 300k")
	assert.Contains(t, joined, "-bufsize:v:0 1500k")
	assert.Contains(t, joined, "-g:v:0 25")
	assert.Contains(t, joined, "-c:a:1 aac")
	assert.Contains(t, joined, "-ar:a:1 48000")
	assert.Contains(t, joined, "-f dash")
	assert.Contains(t, joined, "-method PUT")
	assert.Contains(t, joined, "http://localhost:8080/tv/main/uid1/manifest.mpd")
}

func TestArgumentsLoopAndIngest(t *testing.T) {
	ch := testChannel()
	ch.Source.URL = "ingest_http://localhost:8080/ingest/__listen__/0"
	ch.Source.Loop = true
	args := Arguments(ch, &config.Network{Port: 8080}, "tv/main/uid1")
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-stream_loop -1")
	assert.Contains(t, joined, "-i http://localhost:8080/ingest/__listen__/0/stream")
}
