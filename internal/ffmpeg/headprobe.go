package ffmpeg

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/risevideo/risecast/internal/media"
)

// ProbeMP4Head extracts source properties from the head of an
// fMP4/CMAF ingest: the init segment's moov box carries resolution and
// sample rate, and the track timing gives the frame rate when a moof
// with more than one sample is present. This avoids shelling out to
// ffprobe for sources whose head the server already holds.
func ProbeMP4Head(head []byte) (media.SourceInfo, error) {
	f, err := mp4.DecodeFile(bytes.NewReader(head), mp4.WithDecodeMode(mp4.DecModeLazyMdat))
	if err != nil {
		return media.SourceInfo{}, fmt.Errorf("decode mp4 head: %w", err)
	}
	if f.Init == nil || f.Init.Moov == nil {
		return media.SourceInfo{}, errors.New("mp4 head has no init segment")
	}

	var info media.SourceInfo
	for _, trak := range f.Init.Moov.Traks {
		if trak.Mdia == nil || trak.Mdia.Minf == nil || trak.Mdia.Minf.Stbl == nil ||
			trak.Mdia.Minf.Stbl.Stsd == nil || len(trak.Mdia.Minf.Stbl.Stsd.Children) == 0 {
			continue
		}
		switch entry := trak.Mdia.Minf.Stbl.Stsd.Children[0].(type) {
		case *mp4.VisualSampleEntryBox:
			if info.Video != nil {
				continue
			}
			num, den := frameRateFromTrack(f, trak)
			info.Video = &media.VideoStreamInfo{
				Width:                uint(entry.Width),
				Height:               uint(entry.Height),
				FrameRateNumerator:   num,
				FrameRateDenominator: den,
			}
		case *mp4.AudioSampleEntryBox:
			if info.Audio != nil {
				continue
			}
			info.Audio = &media.AudioStreamInfo{SampleRate: uint(entry.SampleRate)}
		}
	}
	if info.Video == nil {
		return media.SourceInfo{}, errors.New("mp4 head has no video track")
	}
	return info, nil
}

// frameRateFromTrack derives the frame rate from the first media
// fragment's sample durations. Heads that end before the first video
// fragment fall back to 25 fps.
func frameRateFromTrack(f *mp4.File, trak *mp4.TrakBox) (num, den uint) {
	timescale := uint(trak.Mdia.Mdhd.Timescale)
	trackID := trak.Tkhd.TrackID
	for _, seg := range f.Segments {
		for _, frag := range seg.Fragments {
			if frag.Moof == nil || frag.Moof.Traf == nil {
				continue
			}
			traf := frag.Moof.Traf
			if traf.Tfhd == nil || traf.Tfhd.TrackID != trackID || traf.Trun == nil {
				continue
			}
			dur := uint(0)
			if traf.Tfhd.HasDefaultSampleDuration() {
				dur = uint(traf.Tfhd.DefaultSampleDuration)
			}
			if dur == 0 && len(traf.Trun.Samples) > 0 {
				dur = uint(traf.Trun.Samples[0].Dur)
			}
			if dur > 0 && timescale > 0 {
				g := gcd(timescale, dur)
				return timescale / g, dur / g
			}
		}
	}
	return 25, 1
}

func gcd(a, b uint) uint {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
