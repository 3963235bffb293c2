package config

import (
	"context"
	"errors"

	"github.com/risevideo/risecast/internal/media"
)

// getInProportion scales a known value by the ratio formed by its
// counterparts, with half-up rounding. It is used to keep the source
// aspect ratio when only one of width/height is configured.
func getInProportion(known, knownCounterpart, unknownCounterpart uint) uint {
	return (known*unknownCounterpart + knownCounterpart/2) / knownCounterpart
}

func gcd(a, b uint) uint {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func calculateVideoResolution(v *VideoQuality, info *media.VideoStreamInfo) {
	switch {
	/* No resolution at all. */
	case v.Width == nil && v.Height == nil:
		w, h := info.Width, info.Height
		v.Width, v.Height = &w, &h

	/* Calculate the height to be proportional to the given width. */
	case v.Width != nil && v.Height == nil:
		h := getInProportion(*v.Width, info.Width, info.Height)
		v.Height = &h

	/* Calculate the width to be proportional to the given height. */
	case v.Width == nil && v.Height != nil:
		w := getInProportion(*v.Height, info.Height, info.Width)
		v.Width = &w
	}
}

func calculateVideoFrameRate(frameRate *FrameRate, info *media.VideoStreamInfo, minFps uint) {
	/* Figure out if the fraction reduces the frame rate. */
	reducesFps := frameRate.Numerator < frameRate.Denominator

	/* Multiply the fraction by the real frame rate. */
	frameRate.Numerator *= info.FrameRateNumerator
	frameRate.Denominator *= info.FrameRateDenominator

	/* Don't reduce the frame rate below the minimum if we're not allowed to. */
	// The integer division may round down, but only when the unrounded
	// result would be less than the next integer anyway.
	if reducesFps && frameRate.Numerator/frameRate.Denominator < minFps {
		frameRate.Numerator = info.FrameRateNumerator
		frameRate.Denominator = info.FrameRateDenominator
	}

	/* Simplify the fraction. */
	g := gcd(frameRate.Numerator, frameRate.Denominator)
	frameRate.Numerator /= g
	frameRate.Denominator /= g

	/* The frame rate is now in FPS. */
	frameRate.Type = FrameRateFps
}

// eraseIfNotEmpty removes the elements matching fn, unless that would
// leave the list empty.
func eraseIfNotEmpty(list []uint, fn func(uint) bool) []uint {
	kept := make([]uint, 0, len(list))
	for _, v := range list {
		if !fn(v) {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		return list
	}
	return kept
}

func calculateAudioSampleRate(info *media.AudioStreamInfo, codec media.AudioCodec) uint {
	/* Condition 1: compatible sample rates. */
	sampleRates := media.SupportedSampleRates(codec)

	/* Condition 2: sample rate <= 48 kHz. */
	sampleRates = eraseIfNotEmpty(sampleRates, func(sr uint) bool { return sr > 48000 })

	/* Condition 3: sample rate <= input sample rate. */
	sampleRates = eraseIfNotEmpty(sampleRates, func(sr uint) bool { return sr > info.SampleRate })

	/* Condition 4: the input rate is an integer multiple, and >= 32 kHz.
	   This, e.g., chooses 48000 from an original of 96000. */
	sampleRates = eraseIfNotEmpty(sampleRates, func(sr uint) bool {
		return sr < 32000 || info.SampleRate%sr != 0
	})

	/* Condition 5: the highest sample rate of those remaining. */
	return sampleRates[len(sampleRates)-1]
}

// fillInQualitiesFromProbe fills in the properties of each quality that
// derive from the probed media source. The probe runs lazily, at most
// once for the whole list.
func fillInQualitiesFromProbe(ctx context.Context, qualities []Quality, source *Source, probe ProbeFunc) error {
	var info *media.SourceInfo
	ensure := func() error {
		if info != nil {
			return nil
		}
		si, err := probe(ctx, source.URL, source.Arguments)
		if err != nil {
			return err
		}
		if si.Video == nil {
			return errors.New("media source has no video")
		}
		info = &si
		return nil
	}

	for i := range qualities {
		q := &qualities[i]

		// The resolution.
		if q.Video.Width == nil || q.Video.Height == nil {
			if err := ensure(); err != nil {
				return err
			}
			calculateVideoResolution(&q.Video, info.Video)
		}

		// The frame rate, if it's only expressed as a fraction.
		switch q.Video.FrameRate.Type {
		case FrameRateFps:
		case FrameRateFraction:
			if err := ensure(); err != nil {
				return err
			}
			calculateVideoFrameRate(&q.Video.FrameRate, info.Video, 0)
		case FrameRateFraction23:
			if err := ensure(); err != nil {
				return err
			}
			calculateVideoFrameRate(&q.Video.FrameRate, info.Video, 23)
		}

		// The audio sample rate.
		if q.Audio.Codec != media.AudioNone && q.Audio.SampleRate == nil {
			if err := ensure(); err != nil {
				return err
			}
			if info.Audio == nil {
				return errors.New(`media source has no audio, but quality audio codec is not "none"`)
			}
			sr := calculateAudioSampleRate(info.Audio, q.Audio.Codec)
			q.Audio.SampleRate = &sr
		}
	}
	return nil
}
