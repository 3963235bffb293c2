package config

import (
	"math"
)

// maxVideoEncoderRateRangeRatio is the maximum ratio between the video
// encoder's minimum and maximum bit rates. Keeping the minimum rate
// below the maximum leaves the rate-control algorithm room to work.
const maxVideoEncoderRateRangeRatio = 0.75

// latencyEpsilon absorbs the rounding error of converting to integer
// configuration values (10 ms).
const latencyEpsilon = 1e-2

// getExplicitLatencySources returns latency sources that are explicit
// or intrinsic to the source, in seconds.
func getExplicitLatencySources(cfg *Root, channel *Channel) float64 {
	return float64(*channel.Source.Latency+cfg.Network.TransitLatency+cfg.Network.TransitJitter) / 1000.0
}

// getAudioRate returns the audio rate in bytes per second, accounting
// for there possibly being no audio at all.
func getAudioRate(aq *AudioQuality) float64 {
	if aq.Enabled() {
		return float64(aq.Bitrate) * 125
	}
	return 0.0
}

// getVideoRateLatencyContribution is the contribution of the combined
// video and audio bit rates to the latency: the time the transit
// buffer takes to drain at that rate.
func getVideoRateLatencyContribution(videoRate float64, q *Quality, cfg *Root) float64 {
	return float64(cfg.Network.TransitBufferSize) / (videoRate + getAudioRate(&q.Audio))
}

// getMinVideoRateForLatency returns the minimum video bit rate that
// would be needed to target a given latency, and the latency actually
// contributed by that rate.
func getMinVideoRateForLatency(latency float64, q *Quality, cfg *Root) (rate, rateLatency float64) {
	rate = float64(cfg.Network.TransitBufferSize)/latency - getAudioRate(&q.Audio)
	rateLatency = latency
	if rate < 0 {
		rate = 0
		rateLatency = getVideoRateLatencyContribution(rate, q, cfg)
	}
	return rate, rateLatency
}

// parameterConstraints describes the value range and latency range of
// one adjustable parameter.
type parameterConstraints struct {
	minValue    float64
	maxValue    float64
	targetValue float64

	// minLatency may correspond to maxValue rather than minValue, for
	// parameters where a higher value lowers latency.
	minLatency float64
	maxLatency float64

	fixed bool
}

func constraintsFromLatency(minLatency, maxLatency float64) parameterConstraints {
	return parameterConstraints{
		minValue: minLatency, maxValue: maxLatency,
		minLatency: minLatency, maxLatency: maxLatency,
	}
}

func constraintsFromFixed(value, latency float64) parameterConstraints {
	return parameterConstraints{
		minValue: value, maxValue: value,
		minLatency: latency, maxLatency: latency,
		fixed: true,
	}
}

// getMaxVideoRateConstraints constrains the maximum video rate, in
// bytes per second.
func getMaxVideoRateConstraints(q *Quality) parameterConstraints {
	/* Handle the case where this parameter is set in the configuration. */
	if q.Video.Bitrate != nil {
		return constraintsFromFixed(float64(*q.Video.Bitrate)*125, 0)
	}

	/* A reference rate (in bytes per second) we would choose as a
	   target for a reference set of video parameters. */
	const refRate = 3e6 / 8
	const refWidth = 1920
	const refHeight = 1080
	const refFrameRate = (25 + 30) / 2.0
	const refCrf = 25

	/* Scale the reference rate according to the actual parameters. */
	// Resolution scaling sits between linear in side length and linear
	// in pixel count.
	resolutionScale := math.Pow(float64(*q.Video.Width**q.Video.Height)/(refWidth*refHeight), 0.75)

	// Sub-linear scaling for frame rate: human vision is less
	// sensitive to high frequencies.
	frameRateScale := math.Sqrt(float64(q.Video.FrameRate.Numerator) /
		(float64(q.Video.FrameRate.Denominator) * refFrameRate))

	// CRF approximately doubles the bitrate when 6 is subtracted.
	crfScale := math.Pow(2.0, float64(refCrf-int(q.Video.Crf))/6.0)

	targetRate := refRate * resolutionScale * frameRateScale * crfScale
	return parameterConstraints{
		minValue:    targetRate / 2.0,
		maxValue:    targetRate * 2.0,
		targetValue: targetRate,
	}
}

// getMinVideoRateConstraints constrains the minimum video rate, in
// bytes per second. maxRate is the maximum value of the maximum video
// rate.
func getMinVideoRateConstraints(q *Quality, cfg *Root, latencyBudget, maxRate float64) (parameterConstraints, error) {
	/* Handle the case where this parameter is set in the configuration. */
	if q.Video.MinBitrate != nil {
		rate := float64(*q.Video.MinBitrate) * 125
		return constraintsFromFixed(rate, getVideoRateLatencyContribution(rate, q, cfg)), nil
	}

	/* The maximum value for the minimum rate follows from the maximum
	   value for the maximum rate. */
	maxRate *= maxVideoEncoderRateRangeRatio
	minLatency := getVideoRateLatencyContribution(maxRate, q, cfg)

	// If even the maximum rate doesn't fit in the budget, the latency
	// target is obviously unachievable.
	if latencyBudget-minLatency < 0 {
		return parameterConstraints{}, &LatencyError{Reason: "the minimum bitrate would be unreasonable"}
	}

	/* The minimum rate follows from the CDN buffer. */
	minRate, maxLatency := getMinVideoRateForLatency(latencyBudget, q, cfg)

	// Cope with floating point rounding.
	minRate = math.Min(minRate, maxRate)
	minLatency = math.Min(minLatency, maxLatency)

	return parameterConstraints{
		minValue: minRate, maxValue: maxRate,
		minLatency: minLatency, maxLatency: maxLatency,
	}, nil
}

// latencyParameter indexes the adjustable parameters.
type latencyParameter int

const (
	paramMinBitRate latencyParameter = iota
	paramRateControlBufferLength
	paramClientExtraBuffer
)

// fixCondition is the condition under which a pass fixes a parameter.
type fixCondition int

const (
	// condIfFixed fixes parameters that are explicit in the
	// configuration, removing their latency from the budget.
	condIfFixed fixCondition = iota

	// condLowLatency fixes parameters whose default allocation would
	// fall below their minimum latency contribution; they're clamped
	// to that extremum.
	condLowLatency

	// condHighLatency is symmetric: the default allocation overshoots
	// the maximum latency contribution.
	condHighLatency

	// condIfNotFixed gives everything still adjustable its default
	// share of the remaining budget.
	condIfNotFixed
)

// latencyBudget tracks the remaining budget and the relative shares of
// the parameters that are still adjustable. Fixing a parameter zeroes
// its share and subtracts its latency.
type latencyBudget struct {
	budget   float64
	relative [3]float64
}

func newLatencyBudget(latency float64) *latencyBudget {
	return &latencyBudget{budget: latency, relative: [3]float64{1.0, 1.0, 0.25}}
}

// absoluteBudget is the default latency allocation for a parameter
// given the remaining budget and relative shares.
func (b *latencyBudget) absoluteBudget(param latencyParameter) float64 {
	sum := 0.0
	for _, r := range b.relative {
		sum += r
	}
	return b.relative[param] * b.budget / sum
}

func (b *latencyBudget) remove(param latencyParameter, latency float64) {
	b.relative[param] = 0
	b.budget -= latency
}

// fixParameter runs one pass condition for one parameter.
// higherValueLowerLatency is true for the minimum bit rate, where a
// higher value drains the transit buffer faster. valueForLatency
// converts an allocated latency to the parameter value; scaleFactor
// converts from SI+byte units to the configuration's units.
func (b *latencyBudget) fixParameter(higherValueLowerLatency bool, condition fixCondition,
	param latencyParameter, constraints *parameterConstraints, configValue **uint,
	scaleFactor float64, valueForLatency func(float64) float64) {

	/* Handle already fixed parameters. */
	if constraints.fixed {
		if condition == condIfFixed {
			b.remove(param, constraints.maxLatency)
		}
		return
	}
	if condition == condIfFixed {
		return
	}

	/* Figure out the latency of the default allocation. */
	defaultLatency := b.absoluteBudget(param)

	var value, latency float64
	switch condition {
	case condLowLatency:
		if defaultLatency > constraints.minLatency {
			return
		}
		// Clamp to the minimum-latency extremum.
		latency = constraints.minLatency
		if higherValueLowerLatency {
			value = constraints.maxValue
		} else {
			value = constraints.minValue
		}
	case condHighLatency:
		if defaultLatency < constraints.maxLatency {
			return
		}
		latency = constraints.maxLatency
		if higherValueLowerLatency {
			value = constraints.minValue
		} else {
			value = constraints.maxValue
		}
	case condIfNotFixed:
		latency = defaultLatency
		value = valueForLatency(defaultLatency)
	}

	/* Fix the parameter and remove it from the budget. */
	constraints.minValue = value
	constraints.maxValue = value
	constraints.fixed = true
	v := uint(math.Round(value * scaleFactor))
	*configValue = &v
	b.remove(param, latency)
}

// allocateLatency fills in the missing bitrate and buffer settings of
// a quality that share the latency budget: the maximum video bitrate,
// the minimum video bitrate, the encoder's rate-control buffer length
// and the client's extra buffer.
func allocateLatency(q *Quality, cfg *Root, channel *Channel) error {
	/* Figure out what the latency budget is, in seconds. */
	budget := float64(q.TargetLatency)/1000.0 - getExplicitLatencySources(cfg, channel)
	if budget < 0 {
		return &LatencyError{Reason: "the explicit latency sources exceed it"}
	}
	lb := newLatencyBudget(budget)

	/* Calculate the value constraints for each parameter. */
	// Maximum/average rate in bytes per second.
	maxVideoRateConstraints := getMaxVideoRateConstraints(q)

	// Minimum video rate in bytes per second.
	minVideoRateConstraints, err := getMinVideoRateConstraints(q, cfg, budget, maxVideoRateConstraints.maxValue)
	if err != nil {
		return err
	}

	// Encoder rate control buffer length, in seconds of latency.
	rateControlBufferLengthConstraints := constraintsFromLatency(0.25, 2.0)
	if q.Video.RateControlBufferLength != nil {
		l := float64(*q.Video.RateControlBufferLength) / 1000.0
		rateControlBufferLengthConstraints = constraintsFromFixed(l, l)
	}

	// Client extra buffer. Jitter from the CDN buffer's response to
	// the rate range is absorbed by the latency of its response to
	// the minimum rate, so it doesn't appear here.
	clientExtraBufferConstraints := constraintsFromLatency(0.1, 10.0)
	if q.ClientBufferControl.ExtraBuffer != nil {
		l := float64(*q.ClientBufferControl.ExtraBuffer) / 1000.0
		clientExtraBufferConstraints = constraintsFromFixed(l, l)
	}

	/* The sum of the minimum latencies must fit in the budget. */
	if minVideoRateConstraints.minLatency+rateControlBufferLengthConstraints.minLatency+
		clientExtraBufferConstraints.minLatency > budget {
		return &LatencyError{Reason: "the sum of the set and minimum reasonable default latencies exceed it"}
	}

	/* Allocate the latency budget, in four passes in this exact order. */
	identity := func(l float64) float64 { return l }
	for _, condition := range []fixCondition{condIfFixed, condLowLatency, condHighLatency, condIfNotFixed} {
		lb.fixParameter(true, condition, paramMinBitRate, &minVideoRateConstraints,
			&q.Video.MinBitrate, 1.0/125.0, func(latency float64) float64 {
				rate, _ := getMinVideoRateForLatency(latency, q, cfg)
				return rate
			})
		lb.fixParameter(false, condition, paramRateControlBufferLength,
			&rateControlBufferLengthConstraints, &q.Video.RateControlBufferLength, 1000.0, identity)
		lb.fixParameter(false, condition, paramClientExtraBuffer,
			&clientExtraBufferConstraints, &q.ClientBufferControl.ExtraBuffer, 1000.0, identity)
	}

	if lb.budget < -latencyEpsilon {
		return &LatencyError{Reason: "the allocated latencies exceed it"}
	}

	/* Choose a maximum video bitrate: the target rate, subject to not
	   over-constraining the encoder's rate range. */
	maxVideoRate := math.Max(maxVideoRateConstraints.targetValue,
		minVideoRateConstraints.maxValue/maxVideoEncoderRateRangeRatio)
	if q.Video.Bitrate == nil {
		bitrate := uint(math.Round(maxVideoRate / 125.0))
		q.Video.Bitrate = &bitrate
	}
	return nil
}
