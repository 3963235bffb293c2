package dash

import (
	"encoding/json"

	"github.com/risevideo/risecast/internal/config"
	"github.com/risevideo/risecast/internal/resources"
	"github.com/risevideo/risecast/pkg/server"
)

type liveInfoAngle struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

type liveInfoBufferCtrl struct {
	ExtraBuffer     uint `json:"extraBuffer"`
	InitialBuffer   uint `json:"initialBuffer"`
	SeekBuffer      uint `json:"seekBuffer"`
	MinimumInitTime uint `json:"minimumInitTime"`
}

type liveInfoVideoConfig struct {
	Codec      string             `json:"codec"`
	Bitrate    uint               `json:"bitrate"`
	Width      uint               `json:"width"`
	Height     uint               `json:"height"`
	BufferCtrl liveInfoBufferCtrl `json:"bufferCtrl"`
}

type liveInfoAudioConfig struct {
	Codec   string `json:"codec"`
	Bitrate uint   `json:"bitrate"`
}

type liveInfo struct {
	Angles               []liveInfoAngle       `json:"angles"`
	SegmentDuration      uint                  `json:"segmentDuration"`
	SegmentPreavailable  uint                  `json:"segmentPreavailability"`
	VideoConfigs         []liveInfoVideoConfig `json:"videoConfigs"`
	AudioConfigs         []liveInfoAudioConfig `json:"audioConfigs"`
	AvMap                [][2]*uint            `json:"avMap"`
}

// LiveInfo renders the channel's info.json: what a client needs to
// start playing, including the per-quality buffer control settings the
// resolver computed.
func LiveInfo(channel *config.Channel, basePath server.Path) ([]byte, error) {
	info := liveInfo{
		Angles: []liveInfoAngle{{
			Name: "Main",
			Path: basePath.Join(server.MustParsePath("manifest.mpd")).String(),
		}},
		SegmentDuration:     channel.Dash.SegmentDuration,
		SegmentPreavailable: channel.Dash.PreAvailabilityTime,
		VideoConfigs:        make([]liveInfoVideoConfig, 0, len(channel.Qualities)),
		AudioConfigs:        make([]liveInfoAudioConfig, 0, len(channel.Qualities)),
		AvMap:               make([][2]*uint, 0, len(channel.Qualities)),
	}

	videoIndex := uint(0)
	audioIndex := uint(len(channel.Qualities))
	for i := range channel.Qualities {
		q := &channel.Qualities[i]
		info.VideoConfigs = append(info.VideoConfigs, liveInfoVideoConfig{
			Codec:   string(q.Video.Codec),
			Bitrate: *q.Video.Bitrate,
			Width:   *q.Video.Width,
			Height:  *q.Video.Height,
			BufferCtrl: liveInfoBufferCtrl{
				ExtraBuffer:     *q.ClientBufferControl.ExtraBuffer,
				InitialBuffer:   *q.ClientBufferControl.InitialBuffer,
				SeekBuffer:      *q.ClientBufferControl.SeekBuffer,
				MinimumInitTime: *q.ClientBufferControl.MinimumInitTime,
			},
		})

		v := videoIndex
		videoIndex++
		var a *uint
		if q.Audio.Enabled() {
			info.AudioConfigs = append(info.AudioConfigs, liveInfoAudioConfig{
				Codec:   string(q.Audio.Codec),
				Bitrate: q.Audio.Bitrate,
			})
			idx := audioIndex
			audioIndex++
			a = &idx
		}
		vi := v
		info.AvMap = append(info.AvMap, [2]*uint{&vi, a})
	}
	return json.Marshal(info)
}

func newInfoResource(info []byte) server.Resource {
	return resources.NewConstant(info, "application/json", server.CacheEphemeral, true)
}

func newManifestResource() server.Resource {
	return resources.NewPut("application/dash+xml", server.CacheEphemeral, 1<<20, true)
}
