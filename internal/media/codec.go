package media

// VideoCodec enumerates the supported video codecs.
type VideoCodec string

const (
	VideoH264 VideoCodec = "h264"
	VideoH265 VideoCodec = "h265"
	VideoVP8  VideoCodec = "vp8"
	VideoVP9  VideoCodec = "vp9"
	VideoAV1  VideoCodec = "av1"
)

// AudioCodec enumerates the supported audio codecs. AudioNone means the
// quality has no audio at all.
type AudioCodec string

const (
	AudioNone AudioCodec = "none"
	AudioAAC  AudioCodec = "aac"
	AudioOpus AudioCodec = "opus"
)

var aacSampleRates = []uint{7350, 8000, 11025, 12000, 16000, 22050, 24000, 32000, 44100, 48000, 64000, 88200, 96000}

var opusSampleRates = []uint{8000, 12000, 16000, 24000, 48000}

// SupportedSampleRates returns the sample rates a codec supports, in
// ascending order.
func SupportedSampleRates(codec AudioCodec) []uint {
	switch codec {
	case AudioAAC:
		return aacSampleRates
	case AudioOpus:
		return opusSampleRates
	}
	return nil
}
