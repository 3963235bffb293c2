package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/risevideo/risecast/internal/media"
	"github.com/risevideo/risecast/pkg/eventlog"
)

func TestFromJSONMinimal(t *testing.T) {
	cfg, err := FromJSON(`{
		"channels": {
			"tv/main": {
				"source": {"url": "rtsp://example/stream"}
			}
		}
	}`)
	require.NoError(t, err)
	require.Contains(t, cfg.Channels, "tv/main")
	ch := cfg.Channels["tv/main"]
	assert.Equal(t, "rtsp://example/stream", ch.Source.URL)
	assert.EqualValues(t, 15000, ch.Dash.SegmentDuration)
	assert.EqualValues(t, 4000, ch.Dash.PreAvailabilityTime)
	assert.EqualValues(t, 90, ch.History.HistoryLength)
	assert.EqualValues(t, 8080, cfg.Network.Port)
	assert.EqualValues(t, 32768, cfg.Network.TransitBufferSize)
	assert.EqualValues(t, 600, cfg.Http.CacheNonLiveTime)
	assert.True(t, cfg.Features.ChannelIndex)
	require.NotNil(t, cfg.Http.Origin)
	assert.Equal(t, "*", *cfg.Http.Origin)
}

func TestFromJSONUnknownKeyIsFatal(t *testing.T) {
	_, err := FromJSON(`{"unknownTopLevel": 1}`)
	require.Error(t, err)
	parseErr, ok := err.(*ParseError)
	require.True(t, ok)
	assert.Equal(t, "unknownTopLevel", parseErr.Key)

	_, err = FromJSON(`{
		"channels": {"tv": {"source": {"url": "x", "bogusKey": true}}}
	}`)
	require.Error(t, err)
	parseErr, ok = err.(*ParseError)
	require.True(t, ok)
	assert.Contains(t, parseErr.Key, "bogusKey")
}

func TestFromJSONQuality(t *testing.T) {
	cfg, err := FromJSON(`{
		"channels": {
			"tv": {
				"source": {"url": "x"},
				"qualities": [{
					"video": {"width": 1280, "frameRate": "half+", "codec": "h265", "crf": 30},
					"audio": {"codec": "opus", "bitrate": 96},
					"targetLatency": 3000
				}]
			}
		}
	}`)
	require.NoError(t, err)
	q := cfg.Channels["tv"].Qualities[0]
	require.NotNil(t, q.Video.Width)
	assert.EqualValues(t, 1280, *q.Video.Width)
	assert.Nil(t, q.Video.Height)
	assert.Equal(t, FrameRate{Type: FrameRateFraction23, Numerator: 1, Denominator: 2}, q.Video.FrameRate)
	assert.Equal(t, media.VideoH265, q.Video.Codec)
	assert.EqualValues(t, 30, q.Video.Crf)
	assert.Equal(t, media.AudioOpus, q.Audio.Codec)
	assert.EqualValues(t, 96, q.Audio.Bitrate)
	assert.EqualValues(t, 3000, q.TargetLatency)
	// Defaults for the rest.
	assert.EqualValues(t, 100, q.InterleaveTimestampInterval)
}

func TestFrameRateForms(t *testing.T) {
	cfg, err := FromJSON(`{
		"channels": {
			"a": {"source": {"url": "u1"}, "qualities": [{"video": {"frameRate": "half"}}]},
			"b": {"source": {"url": "u2"}, "qualities": [{"video": {"frameRate": [2, 3]}}]}
		}
	}`)
	require.NoError(t, err)
	assert.Equal(t, FrameRate{Type: FrameRateFraction, Numerator: 1, Denominator: 2},
		cfg.Channels["a"].Qualities[0].Video.FrameRate)
	assert.Equal(t, FrameRate{Type: FrameRateFraction, Numerator: 2, Denominator: 3},
		cfg.Channels["b"].Qualities[0].Video.FrameRate)

	_, err = FromJSON(`{"channels": {"a": {"source": {"url": "u"},
		"qualities": [{"video": {"frameRate": "double"}}]}}}`)
	assert.Error(t, err)

	_, err = FromJSON(`{"channels": {"a": {"source": {"url": "u"},
		"qualities": [{"video": {"frameRate": [1, 2, 3]}}]}}}`)
	assert.Error(t, err)
}

func TestDirectoryShorthand(t *testing.T) {
	cfg, err := FromJSON(`{
		"directories": {
			"static": "/srv/static",
			"ui": {"localPath": "/srv/ui", "index": "index.html", "ephemeral": true}
		}
	}`)
	require.NoError(t, err)
	assert.Equal(t, "/srv/static", cfg.Directories["static"].LocalPath)
	assert.Equal(t, "/srv/ui", cfg.Directories["ui"].LocalPath)
	assert.Equal(t, "index.html", cfg.Directories["ui"].Index)
	assert.True(t, cfg.Directories["ui"].Ephemeral)
}

func TestNetworkAndLog(t *testing.T) {
	cfg, err := FromJSON(`{
		"network": {"port": 9000, "privateNetworks": "10.0.0.0/8", "transitBufferSize": 16384},
		"log": {"level": "warning", "path": "/tmp/x.log"}
	}`)
	require.NoError(t, err)
	assert.EqualValues(t, 9000, cfg.Network.Port)
	require.Len(t, cfg.Network.PrivateNetworks, 1)
	assert.EqualValues(t, 16384, cfg.Network.TransitBufferSize)
	assert.Equal(t, eventlog.LevelWarning, cfg.Log.Level)
	assert.Equal(t, "/tmp/x.log", cfg.Log.Path)

	_, err = FromJSON(`{"log": {"level": "noisy"}}`)
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	// Pre-availability must be strictly smaller than the duration.
	_, err := FromJSON(`{"channels": {"a": {"source": {"url": "u"},
		"dash": {"segmentDuration": 1000, "preAvailabilityTime": 1000}}}}`)
	assert.Error(t, err)

	// Two channels sharing a source URL.
	_, err = FromJSON(`{"channels": {
		"a": {"source": {"url": "same"}},
		"b": {"source": {"url": "same"}}
	}}`)
	assert.Error(t, err)

	// Source URL is required.
	_, err = FromJSON(`{"channels": {"a": {"source": {"arguments": []}}}}`)
	assert.Error(t, err)
}

func TestSeparatedIngestSources(t *testing.T) {
	cfg, err := FromJSON(`{
		"separatedIngestSources": {
			"studio": {"url": "rtmp://0.0.0.0:1935/live", "arguments": ["-listen", "1"]}
		}
	}`)
	require.NoError(t, err)
	src := cfg.SeparatedIngestSources["studio"]
	require.NotNil(t, src)
	assert.Equal(t, "rtmp://0.0.0.0:1935/live", src.URL)
	assert.EqualValues(t, 1<<24, src.BufferSize)
	assert.EqualValues(t, 5000000, src.ProbeSize)
}
