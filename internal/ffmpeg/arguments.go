package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/risevideo/risecast/internal/config"
	"github.com/risevideo/risecast/internal/media"
)

// Arguments synthesizes the ffmpeg command line for one channel: read
// the source, encode every quality with the resolved rate-control
// settings, and PUT DASH segments to the server's per-channel upload
// paths.
func Arguments(channel *config.Channel, network *config.Network, basePath string) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "repeat+level+info",
	}

	/* Input. */
	if channel.Source.Loop {
		args = append(args, "-stream_loop", "-1")
	}
	args = append(args, "-re")
	args = append(args, channel.Source.Arguments...)
	args = append(args, "-i", translateIngestURL(channel.Source.URL, false))

	/* Split the video input once per quality. */
	numQualities := len(channel.Qualities)
	var filter strings.Builder
	fmt.Fprintf(&filter, "[0:v]split=%d", numQualities)
	for i := 0; i < numQualities; i++ {
		fmt.Fprintf(&filter, "[vin%d]", i)
	}
	for i, q := range channel.Qualities {
		fmt.Fprintf(&filter, ";[vin%d]scale=%d:%d", i, *q.Video.Width, *q.Video.Height)
		if q.Video.FrameRate.Type == config.FrameRateFps {
			fmt.Fprintf(&filter, ",fps=%d/%d", q.Video.FrameRate.Numerator, q.Video.FrameRate.Denominator)
		}
		if channel.Source.Timestamp {
			filter.WriteString(",drawtext=text='%{gmtime}':x=8:y=8")
		}
		if channel.Ffmpeg.FilterZmq != "" && i == 0 {
			fmt.Fprintf(&filter, ",zmq=bind_address='%s'", channel.Ffmpeg.FilterZmq)
		}
		fmt.Fprintf(&filter, "[v%d]", i)
	}
	args = append(args, "-filter_complex", filter.String())

	/* Stream mapping and per-quality encoder settings. */
	for i, q := range channel.Qualities {
		args = append(args, "-map", fmt.Sprintf("[v%d]", i))
		args = append(args, videoEncoderArgs(i, &q)...)
	}
	for i, q := range channel.Qualities {
		if !q.Audio.Enabled() {
			continue
		}
		args = append(args, "-map", "0:a:0")
		args = append(args, audioEncoderArgs(numQualities+i, &q.Audio)...)
	}

	/* DASH output, streamed to the server over HTTP PUT. */
	args = append(args,
		"-f", "dash",
		"-seg_duration", fmt.Sprintf("%.3f", float64(channel.Dash.SegmentDuration)/1000.0),
		"-streaming", "1",
		"-ldash", "1",
		"-use_timeline", "0",
		"-use_template", "1",
		"-frag_type", "every_frame",
		"-utc_timing_url", "https://time.akamai.com/?iso",
		"-method", "PUT",
		fmt.Sprintf("http://localhost:%d/%s/manifest.mpd", network.Port, basePath),
	)
	return args
}

func videoEncoderArgs(streamIndex int, q *config.Quality) []string {
	v := &q.Video
	s := func(format string, a ...any) string { return fmt.Sprintf(format, a...) }

	args := []string{
		s("-c:v:%d", streamIndex),
	}
	switch v.Codec {
	case media.VideoH264:
		args = append(args, "libx264")
	case media.VideoH265:
		args = append(args, "libx265")
	case media.VideoVP8:
		args = append(args, "libvpx")
	case media.VideoVP9:
		args = append(args, "libvpx-vp9")
	case media.VideoAV1:
		args = append(args, "libaom-av1")
	}

	switch v.Codec {
	case media.VideoH264, media.VideoH265:
		if v.H26xPreset != nil {
			args = append(args, s("-preset:v:%d", streamIndex), string(*v.H26xPreset))
		}
		args = append(args, s("-tune:v:%d", streamIndex), "zerolatency")
	case media.VideoVP8, media.VideoVP9, media.VideoAV1:
		args = append(args, s("-speed:v:%d", streamIndex), s("%d", v.VpXSpeed))
	}

	args = append(args,
		s("-crf:v:%d", streamIndex), s("%d", v.Crf),
		s("-maxrate:v:%d", streamIndex), s("%dk", *v.Bitrate),
		s("-minrate:v:%d", streamIndex), s("%dk", *v.MinBitrate),
		s("-bufsize:v:%d", streamIndex), s("%dk", bufsizeKbit(q)),
		s("-g:v:%d", streamIndex), s("%d", *v.Gop),
		s("-forced-idr:v:%d", streamIndex), "1",
	)
	return args
}

// bufsizeKbit converts the rate-control buffer length from time to
// bits at the maximum rate.
func bufsizeKbit(q *config.Quality) uint {
	return *q.Video.Bitrate * *q.Video.RateControlBufferLength / 1000
}

func audioEncoderArgs(streamIndex int, a *config.AudioQuality) []string {
	s := func(format string, args ...any) string { return fmt.Sprintf(format, args...) }
	codec := "aac"
	if a.Codec == media.AudioOpus {
		codec = "libopus"
	}
	return []string{
		s("-c:a:%d", streamIndex), codec,
		s("-ar:a:%d", streamIndex), s("%d", *a.SampleRate),
		s("-b:a:%d", streamIndex), s("%dk", a.Bitrate),
	}
}
