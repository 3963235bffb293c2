// Package ffmpeg wraps the external transcoder tooling: ffprobe as the
// default probe function, the ffmpeg subprocess per channel, and the
// argument synthesis that connects it to the server's ingest surface.
package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/risevideo/risecast/internal/media"
)

// ingest_http:// URLs point at this server's separated-ingest surface.
// They resolve to plain http:// with either the stream or the probe
// endpoint, depending on who is asking.
func translateIngestURL(url string, forProbe bool) string {
	rest, ok := strings.CutPrefix(url, "ingest_http://")
	if !ok {
		return url
	}
	endpoint := "stream"
	if forProbe {
		endpoint = "probe"
	}
	return "http://" + rest + "/" + endpoint
}

type ffprobeStream struct {
	CodecType  string `json:"codec_type"`
	Width      uint   `json:"width"`
	Height     uint   `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
	SampleRate string `json:"sample_rate"`
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
}

func parseFrameRate(s string) (num, den uint, err error) {
	parts := strings.SplitN(s, "/", 2)
	n, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("parse frame rate %q: %w", s, err)
	}
	d := uint64(1)
	if len(parts) == 2 {
		d, err = strconv.ParseUint(parts[1], 10, 32)
		if err != nil || d == 0 {
			return 0, 0, fmt.Errorf("parse frame rate %q", s)
		}
	}
	return uint(n), uint(d), nil
}

// Ffprobe probes a source URL with the ffprobe binary and returns the
// properties of its first video and audio streams.
func Ffprobe(ctx context.Context, url string, arguments []string) (media.SourceInfo, error) {
	args := []string{"-v", "error", "-of", "json", "-show_streams"}
	args = append(args, arguments...)
	args = append(args, translateIngestURL(url, true))

	cmd := exec.CommandContext(ctx, "ffprobe", args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return media.SourceInfo{}, fmt.Errorf("ffprobe %q: %w: %s", url, err, strings.TrimSpace(stderr.String()))
	}

	var probed ffprobeOutput
	if err := json.Unmarshal(out, &probed); err != nil {
		return media.SourceInfo{}, fmt.Errorf("ffprobe %q: parse output: %w", url, err)
	}

	var info media.SourceInfo
	for _, s := range probed.Streams {
		switch s.CodecType {
		case "video":
			if info.Video != nil {
				continue
			}
			num, den, err := parseFrameRate(s.RFrameRate)
			if err != nil {
				return media.SourceInfo{}, fmt.Errorf("ffprobe %q: %w", url, err)
			}
			info.Video = &media.VideoStreamInfo{
				Width:                s.Width,
				Height:               s.Height,
				FrameRateNumerator:   num,
				FrameRateDenominator: den,
			}
		case "audio":
			if info.Audio != nil {
				continue
			}
			sr, err := strconv.ParseUint(s.SampleRate, 10, 32)
			if err != nil {
				return media.SourceInfo{}, fmt.Errorf("ffprobe %q: parse sample rate %q", url, s.SampleRate)
			}
			info.Audio = &media.AudioStreamInfo{SampleRate: uint(sr)}
		}
	}
	if info.Video == nil {
		return media.SourceInfo{}, fmt.Errorf("ffprobe %q: no video stream", url)
	}
	return info, nil
}
