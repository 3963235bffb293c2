package config

import (
	"math"
)

// getVideoRateJitter is the jitter the CDN buffer introduces from the
// difference between the minimum and maximum video rates, in seconds.
func getVideoRateJitter(q *Quality, cfg *Root) float64 {
	minVideoRateLatency := getVideoRateLatencyContribution(float64(*q.Video.MinBitrate)*125, q, cfg)
	maxVideoRateLatency := getVideoRateLatencyContribution(float64(*q.Video.Bitrate)*125, q, cfg)
	return minVideoRateLatency - maxVideoRateLatency
}

// fillInQuality fills in the derived parameters of one quality. The
// frame rate must already have been resolved to fps form.
func fillInQuality(q *Quality, cfg *Root, channel *Channel) error {
	/* Set the GOP size to one GOP per segment. */
	if q.Video.Gop == nil {
		gop := (q.Video.FrameRate.Numerator*channel.Dash.SegmentDuration + 500) /
			(q.Video.FrameRate.Denominator * 1000)
		q.Video.Gop = &gop
	}

	/* Allocate the latency budget. This also sets the maximum video
	   bitrate. */
	if err := allocateLatency(q, cfg, channel); err != nil {
		return err
	}

	/* Figure out how much jitter we expect the client to see. */
	expectedClientSideJitter := uint(math.Round(
		getVideoRateJitter(q, cfg)*1000 + // CDN jitter from varying bitrate.
			float64(*q.Video.RateControlBufferLength) + // Encoder might emit all of this at once.
			float64(cfg.Network.TransitJitter))) // Intrinsic network jitter.

	/* Calculate the interleave window, so we know some statistical
	   properties of the minimum interleave rate. */
	if q.MinInterleaveWindow == nil {
		window := min(*q.Video.RateControlBufferLength/2, 250)
		q.MinInterleaveWindow = &window
	}

	/* Set the client buffer control parameters based on the jitter
	   they have to deal with. */
	// The time to wait before seeking, from the timestamp rate and
	// interleave window.
	if q.ClientBufferControl.MinimumInitTime == nil {
		initTime := max(q.InterleaveTimestampInterval*16, *q.MinInterleaveWindow*4)
		q.ClientBufferControl.MinimumInitTime = &initTime
	}

	// The extra buffer margin applies to the minimum too.
	expectedClientSideJitterBuffer := expectedClientSideJitter + *q.ClientBufferControl.ExtraBuffer

	// The minimum buffer doesn't need to include the interleave
	// window, because that's accounted for when calculating the
	// minimum interleave rate.
	if q.ClientBufferControl.MinBuffer == nil {
		minBuffer := expectedClientSideJitterBuffer
		q.ClientBufferControl.MinBuffer = &minBuffer
	}

	if q.ClientBufferControl.InitialBuffer == nil {
		initialBuffer := expectedClientSideJitterBuffer
		q.ClientBufferControl.InitialBuffer = &initialBuffer
	}

	// By default, set the seek buffer to the extra buffer. This is the
	// one part that doesn't try to fully account for jitter.
	if q.ClientBufferControl.SeekBuffer == nil {
		seekBuffer := uint(max(int(*q.ClientBufferControl.MinBuffer)-int(expectedClientSideJitter),
			int(*q.ClientBufferControl.ExtraBuffer)))
		q.ClientBufferControl.SeekBuffer = &seekBuffer
	}

	/* Calculate a minimum interleave rate, in kbit/s. */
	if q.MinInterleaveRate == nil {
		interleaveRateLatency :=
			(float64(q.TargetLatency)-float64(*q.MinInterleaveWindow)-float64(*q.ClientBufferControl.ExtraBuffer))/1000.0 -
				getExplicitLatencySources(cfg, channel)
		if interleaveRateLatency <= 0 {
			return &LatencyError{Reason: "no latency remains for the minimum interleave rate"}
		}
		interleaveRate := float64(cfg.Network.TransitBufferSize) / interleaveRateLatency
		rate := uint(math.Round(interleaveRate * 8.0 / 1000.0))
		q.MinInterleaveRate = &rate
	}
	return nil
}
