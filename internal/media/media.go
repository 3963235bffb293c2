// Package media describes the intrinsic properties of a media source as
// returned by a prober, plus codec capability tables.
package media

// VideoStreamInfo describes the video stream of a source.
type VideoStreamInfo struct {
	Width                uint `json:"width"`
	Height               uint `json:"height"`
	FrameRateNumerator   uint `json:"-"`
	FrameRateDenominator uint `json:"-"`
}

// AudioStreamInfo describes the audio stream of a source.
type AudioStreamInfo struct {
	SampleRate uint `json:"sampleRate"`
}

// SourceInfo is what a probe function returns for a source URL.
type SourceInfo struct {
	Video *VideoStreamInfo `json:"video,omitempty"`
	Audio *AudioStreamInfo `json:"audio,omitempty"`
}
