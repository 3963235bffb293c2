package config

import "encoding/json"

// The JSON rendering is used by the control API to report the resolved
// configuration. Optional values are emitted only when they are set;
// every other key is always emitted with its current value.

func put[T comparable](m map[string]any, key string, v, zero T) {
	if v != zero {
		m[key] = v
	}
}

func putPtr[T any](m map[string]any, key string, v *T) {
	if v != nil {
		m[key] = *v
	}
}

func (s *Source) toJSON() map[string]any {
	m := map[string]any{"url": s.URL}
	if len(s.Arguments) > 0 {
		m["arguments"] = s.Arguments
	}
	put(m, "listen", s.Listen, false)
	put(m, "loop", s.Loop, false)
	put(m, "timestamp", s.Timestamp, false)
	putPtr(m, "latency", s.Latency)
	return m
}

func (f FrameRate) toJSON() any {
	switch f.Type {
	case FrameRateFraction, FrameRateFraction23:
		if f.Numerator == 1 && f.Denominator == 2 {
			if f.Type == FrameRateFraction23 {
				return "half+"
			}
			return "half"
		}
	}
	return []uint{f.Numerator, f.Denominator}
}

func (v *VideoQuality) toJSON() map[string]any {
	m := map[string]any{
		"frameRate": v.FrameRate.toJSON(),
		"crf":       v.Crf,
		"codec":     string(v.Codec),
		"vpXSpeed":  v.VpXSpeed,
	}
	putPtr(m, "width", v.Width)
	putPtr(m, "height", v.Height)
	putPtr(m, "bitrate", v.Bitrate)
	putPtr(m, "minBitrate", v.MinBitrate)
	putPtr(m, "rateControlBufferLength", v.RateControlBufferLength)
	putPtr(m, "gop", v.Gop)
	if v.H26xPreset != nil {
		m["h26xPreset"] = string(*v.H26xPreset)
	}
	return m
}

func (a *AudioQuality) toJSON() map[string]any {
	m := map[string]any{
		"bitrate": a.Bitrate,
		"codec":   string(a.Codec),
	}
	putPtr(m, "sampleRate", a.SampleRate)
	return m
}

func (c *ClientBufferControl) toJSON() map[string]any {
	m := map[string]any{}
	putPtr(m, "minBuffer", c.MinBuffer)
	putPtr(m, "extraBuffer", c.ExtraBuffer)
	putPtr(m, "initialBuffer", c.InitialBuffer)
	putPtr(m, "seekBuffer", c.SeekBuffer)
	putPtr(m, "minimumInitTime", c.MinimumInitTime)
	return m
}

func (q *Quality) toJSON() map[string]any {
	m := map[string]any{
		"video":                       q.Video.toJSON(),
		"audio":                       q.Audio.toJSON(),
		"targetLatency":               q.TargetLatency,
		"interleaveTimestampInterval": q.InterleaveTimestampInterval,
		"clientBufferControl":         q.ClientBufferControl.toJSON(),
	}
	putPtr(m, "minInterleaveRate", q.MinInterleaveRate)
	putPtr(m, "minInterleaveWindow", q.MinInterleaveWindow)
	return m
}

func (c *Channel) toJSON() map[string]any {
	qualities := make([]any, 0, len(c.Qualities))
	for i := range c.Qualities {
		qualities = append(qualities, c.Qualities[i].toJSON())
	}
	m := map[string]any{
		"source":    c.Source.toJSON(),
		"qualities": qualities,
		"dash": map[string]any{
			"segmentDuration":     c.Dash.SegmentDuration,
			"expose":              c.Dash.Expose,
			"preAvailabilityTime": c.Dash.PreAvailabilityTime,
		},
		"history": map[string]any{
			"historyLength":     c.History.HistoryLength,
			"persistentStorage": c.History.PersistentStorage,
		},
	}
	put(m, "name", c.Name, "")
	put(m, "uid", c.UID, "")
	return m
}

// ToJSON renders the configuration as a JSON string.
func (r *Root) ToJSON() (string, error) {
	channels := make(map[string]any, len(r.Channels))
	for path, ch := range r.Channels {
		channels[path] = ch.toJSON()
	}
	directories := make(map[string]any, len(r.Directories))
	for path, dir := range r.Directories {
		directories[path] = map[string]any{
			"localPath":       dir.LocalPath,
			"index":           dir.Index,
			"secure":          dir.Secure,
			"ephemeral":       dir.Ephemeral,
			"maxWritableSize": dir.MaxWritableSize,
		}
	}
	networks := make([]string, 0, len(r.Network.PrivateNetworks))
	for _, n := range r.Network.PrivateNetworks {
		networks = append(networks, n.String())
	}
	httpObj := map[string]any{
		"cacheNonLiveTime":      r.Http.CacheNonLiveTime,
		"ephemeralWhenNotFound": r.Http.EphemeralWhenNotFound,
	}
	putPtr(httpObj, "origin", r.Http.Origin)
	logObj := map[string]any{
		"path":  r.Log.Path,
		"level": r.Log.Level.String(),
	}
	putPtr(logObj, "print", r.Log.Print)
	ingests := make(map[string]any, len(r.SeparatedIngestSources))
	for name, src := range r.SeparatedIngestSources {
		ingests[name] = map[string]any{
			"url":        src.URL,
			"arguments":  src.Arguments,
			"path":       src.Path,
			"bufferSize": src.BufferSize,
			"probeSize":  src.ProbeSize,
		}
	}
	m := map[string]any{
		"channels":    channels,
		"directories": directories,
		"network": map[string]any{
			"port":              r.Network.Port,
			"publicPort":        r.Network.PublicPort,
			"privateNetworks":   networks,
			"transitLatency":    r.Network.TransitLatency,
			"transitJitter":     r.Network.TransitJitter,
			"transitBufferSize": r.Network.TransitBufferSize,
		},
		"http": httpObj,
		"log":  logObj,
		"features": map[string]any{
			"channelIndex": r.Features.ChannelIndex,
		},
		"separatedIngestSources": ingests,
	}
	out, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
