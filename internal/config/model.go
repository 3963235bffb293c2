// Package config holds the declarative server configuration: the
// strict JSON codec, the default resolver and the latency allocator.
package config

import (
	"github.com/risevideo/risecast/internal/media"
	"github.com/risevideo/risecast/pkg/eventlog"
	"github.com/risevideo/risecast/pkg/server"
)

// Source is the channels.source key.
type Source struct {
	URL       string
	Arguments []string
	Listen    bool
	Loop      bool
	Timestamp bool
	Latency   *uint // ms
}

// FrameRateType states how a FrameRate value is to be interpreted.
type FrameRateType int

const (
	// FrameRateFps means the value is a rate in frames per second.
	// This is the only form left after filling in defaults.
	FrameRateFps FrameRateType = iota

	// FrameRateFraction means the value multiplies the source rate.
	FrameRateFraction

	// FrameRateFraction23 is FrameRateFraction, except that the source
	// rate is kept when a reduction would land below 23 fps.
	FrameRateFraction23
)

// FrameRate is the channels.qualities.video.frameRate key. In JSON it
// is a single value ("half", "half+" or [num, den]); it is a composite
// here.
type FrameRate struct {
	Type        FrameRateType
	Numerator   uint
	Denominator uint
}

// DefaultFrameRate is the value used when the key is absent: the
// source frame rate, unchanged.
func DefaultFrameRate() FrameRate {
	return FrameRate{Type: FrameRateFraction, Numerator: 1, Denominator: 1}
}

// H26xPreset is the channels.qualities.video.h26xPreset key.
type H26xPreset string

const (
	PresetUltrafast H26xPreset = "ultrafast"
	PresetSuperfast H26xPreset = "superfast"
	PresetVeryfast  H26xPreset = "veryfast"
	PresetFaster    H26xPreset = "faster"
	PresetFast      H26xPreset = "fast"
	PresetMedium    H26xPreset = "medium"
	PresetSlow      H26xPreset = "slow"
	PresetSlower    H26xPreset = "slower"
	PresetVeryslow  H26xPreset = "veryslow"
	PresetPlacebo   H26xPreset = "placebo"
)

// VideoQuality is the channels.qualities.video key.
type VideoQuality struct {
	Width                   *uint
	Height                  *uint
	FrameRate               FrameRate
	Bitrate                 *uint // kbit/s, maximum rate
	MinBitrate              *uint // kbit/s
	Crf                     uint
	RateControlBufferLength *uint // ms
	Codec                   media.VideoCodec
	H26xPreset              *H26xPreset
	VpXSpeed                uint
	Gop                     *uint // frames
}

// AudioQuality is the channels.qualities.audio key.
type AudioQuality struct {
	SampleRate *uint
	Bitrate    uint // kbit/s
	Codec      media.AudioCodec
}

// Enabled reports whether this quality actually has audio.
func (a AudioQuality) Enabled() bool {
	return a.SampleRate != nil && a.Codec != media.AudioNone
}

// ClientBufferControl is the channels.qualities.clientBufferControl key.
// All values are in milliseconds.
type ClientBufferControl struct {
	MinBuffer       *uint
	ExtraBuffer     *uint
	InitialBuffer   *uint
	SeekBuffer      *uint
	MinimumInitTime *uint
}

// Quality is an element of the channels.qualities key.
type Quality struct {
	Video                       VideoQuality
	Audio                       AudioQuality
	TargetLatency               uint // ms
	MinInterleaveRate           *uint
	MinInterleaveWindow         *uint
	InterleaveTimestampInterval uint // ms
	ClientBufferControl         ClientBufferControl
}

// Dash is the channels.dash key.
type Dash struct {
	SegmentDuration     uint // ms
	Expose              bool
	PreAvailabilityTime uint // ms
}

// ChannelFfmpeg is the channels.ffmpeg key.
type ChannelFfmpeg struct {
	FilterZmq string
}

// History is the channels.history key.
type History struct {
	HistoryLength     uint // seconds
	PersistentStorage string
}

// Channel is an element of the channels key.
type Channel struct {
	Source    Source
	Qualities []Quality
	Dash      Dash
	History   History
	Ffmpeg    ChannelFfmpeg
	Name      string
	UID       string
}

// Network is the network key.
type Network struct {
	Port              uint16
	PublicPort        uint16
	PrivateNetworks   []server.Address
	TransitLatency    uint // ms
	TransitJitter     uint // ms
	TransitBufferSize uint // bytes
}

// Http is the http key.
type Http struct {
	Origin                *string
	CacheNonLiveTime      uint // seconds
	EphemeralWhenNotFound []string
}

// Directory is an element of the directories key.
type Directory struct {
	LocalPath       string
	Index           string
	Secure          bool
	Ephemeral       bool
	MaxWritableSize uint64 // MiB
}

// Log is the log key.
type Log struct {
	Path  string
	Print *bool
	Level eventlog.Level
}

// Features is the features key.
type Features struct {
	ChannelIndex bool
}

// SeparatedIngestSource is an element of the separatedIngestSources
// key.
type SeparatedIngestSource struct {
	URL       string
	Arguments []string
	Path      string
	BufferSize uint64
	ProbeSize  uint64
}

// Root is the root of the configuration.
type Root struct {
	Channels               map[string]*Channel
	Directories            map[string]Directory
	Network                Network
	Http                   Http
	Log                    Log
	Features               Features
	SeparatedIngestSources map[string]*SeparatedIngestSource

	// JSONRepresentation is the JSON this object was decoded from. It
	// is not kept in sync with later mutation.
	JSONRepresentation string
}

func defaultOrigin() *string {
	s := "*"
	return &s
}

// NewRoot returns a root with the static defaults filled in. This is
// the starting point for FromJSON.
func NewRoot() *Root {
	return &Root{
		Channels:    make(map[string]*Channel),
		Directories: make(map[string]Directory),
		Network: Network{
			Port:              8080,
			TransitLatency:    50,
			TransitJitter:     200,
			TransitBufferSize: 32768,
		},
		Http: Http{
			Origin:           defaultOrigin(),
			CacheNonLiveTime: 600,
		},
		Log:                    Log{Level: eventlog.LevelInfo},
		Features:               Features{ChannelIndex: true},
		SeparatedIngestSources: make(map[string]*SeparatedIngestSource),
	}
}

func newChannel() *Channel {
	return &Channel{
		Dash: Dash{
			SegmentDuration:     15000,
			PreAvailabilityTime: 4000,
		},
		History: History{HistoryLength: 90},
	}
}

func newQuality() Quality {
	return Quality{
		Video: VideoQuality{
			FrameRate: DefaultFrameRate(),
			Crf:       25,
			Codec:     media.VideoH264,
			VpXSpeed:  8,
		},
		Audio: AudioQuality{
			Bitrate: 64,
			Codec:   media.AudioAAC,
		},
		TargetLatency:               2000,
		InterleaveTimestampInterval: 100,
	}
}

func newSeparatedIngestSource() *SeparatedIngestSource {
	return &SeparatedIngestSource{
		BufferSize: 1 << 24,
		ProbeSize:  5000000, // ffmpeg's default
	}
}
