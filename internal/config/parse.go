package config

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/risevideo/risecast/internal/media"
	"github.com/risevideo/risecast/pkg/eventlog"
	"github.com/risevideo/risecast/pkg/server"
)

// objectDeserializer reads fields out of one JSON object while
// recording every key that was asked for. finish rejects any key that
// was never read, so unknown keys are fatal and name themselves.
type objectDeserializer struct {
	keyPath string
	fields  map[string]json.RawMessage
	seen    map[string]bool
}

func newObjectDeserializer(raw json.RawMessage, keyPath string) (*objectDeserializer, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, parseError(keyPath, "value is not an object")
	}
	return &objectDeserializer{keyPath: keyPath, fields: fields, seen: make(map[string]bool)}, nil
}

func (d *objectDeserializer) childPath(key string) string {
	if d.keyPath == "" {
		return key
	}
	return d.keyPath + "." + key
}

// take marks the key as seen and returns its raw value.
func (d *objectDeserializer) take(key string) (json.RawMessage, bool) {
	d.seen[key] = true
	raw, ok := d.fields[key]
	return raw, ok
}

// field decodes the key into dst if present. dst may be a pointer to a
// pointer for optional values.
func (d *objectDeserializer) field(key string, dst any) error {
	raw, ok := d.take(key)
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return parseError(d.childPath(key), "%s", err.Error())
	}
	return nil
}

// requiredField is field, but the key must be present.
func (d *objectDeserializer) requiredField(key string, dst any) error {
	if _, ok := d.fields[key]; !ok {
		return parseError(d.childPath(key), "required key is missing")
	}
	return d.field(key, dst)
}

// finish rejects any key that was never taken.
func (d *objectDeserializer) finish() error {
	unseen := make([]string, 0)
	for key := range d.fields {
		if !d.seen[key] {
			unseen = append(unseen, key)
		}
	}
	if len(unseen) == 0 {
		return nil
	}
	sort.Strings(unseen)
	return parseError(d.childPath(unseen[0]), "unknown key")
}

func parseStringEnum(raw json.RawMessage, keyPath string, allowed []string) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", parseError(keyPath, "value is not a string")
	}
	for _, a := range allowed {
		if s == a {
			return s, nil
		}
	}
	return "", parseError(keyPath, "unknown value %q (allowed: %s)", s, strings.Join(allowed, ", "))
}

func parseSource(raw json.RawMessage, keyPath string, out *Source) error {
	d, err := newObjectDeserializer(raw, keyPath)
	if err != nil {
		return err
	}
	if err := d.requiredField("url", &out.URL); err != nil {
		return err
	}
	if err := d.field("arguments", &out.Arguments); err != nil {
		return err
	}
	if err := d.field("listen", &out.Listen); err != nil {
		return err
	}
	if err := d.field("loop", &out.Loop); err != nil {
		return err
	}
	if err := d.field("timestamp", &out.Timestamp); err != nil {
		return err
	}
	if err := d.field("latency", &out.Latency); err != nil {
		return err
	}
	return d.finish()
}

func parseFrameRate(raw json.RawMessage, keyPath string, out *FrameRate) error {
	/* Handle the case where it's a string. */
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch s {
		case "half":
			*out = FrameRate{Type: FrameRateFraction, Numerator: 1, Denominator: 2}
		case "half+":
			*out = FrameRate{Type: FrameRateFraction23, Numerator: 1, Denominator: 2}
		default:
			return parseError(keyPath, "unknown string value %q", s)
		}
		return nil
	}

	/* Otherwise, it should be an array with two values. */
	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil {
		return parseError(keyPath, "value is not a string or array")
	}
	if len(pair) != 2 {
		return parseError(keyPath, "value is an array, but not of length 2")
	}
	var num, den uint
	if err := json.Unmarshal(pair[0], &num); err != nil {
		return parseError(keyPath, "array element has incorrect type: %s", err.Error())
	}
	if err := json.Unmarshal(pair[1], &den); err != nil {
		return parseError(keyPath, "array element has incorrect type: %s", err.Error())
	}
	if den == 0 {
		return parseError(keyPath, "frame rate denominator is zero")
	}
	// An explicit pair is a fraction of the source rate, like "half".
	*out = FrameRate{Type: FrameRateFraction, Numerator: num, Denominator: den}
	return nil
}

func parseVideoQuality(raw json.RawMessage, keyPath string, out *VideoQuality) error {
	d, err := newObjectDeserializer(raw, keyPath)
	if err != nil {
		return err
	}
	if err := d.field("width", &out.Width); err != nil {
		return err
	}
	if err := d.field("height", &out.Height); err != nil {
		return err
	}
	if fr, ok := d.take("frameRate"); ok {
		if err := parseFrameRate(fr, d.childPath("frameRate"), &out.FrameRate); err != nil {
			return err
		}
	}
	if err := d.field("bitrate", &out.Bitrate); err != nil {
		return err
	}
	if err := d.field("minBitrate", &out.MinBitrate); err != nil {
		return err
	}
	if err := d.field("crf", &out.Crf); err != nil {
		return err
	}
	if err := d.field("rateControlBufferLength", &out.RateControlBufferLength); err != nil {
		return err
	}
	if raw, ok := d.take("codec"); ok {
		s, err := parseStringEnum(raw, d.childPath("codec"), []string{"h264", "h265", "vp8", "vp9", "av1"})
		if err != nil {
			return err
		}
		out.Codec = media.VideoCodec(s)
	}
	if raw, ok := d.take("h26xPreset"); ok {
		s, err := parseStringEnum(raw, d.childPath("h26xPreset"), []string{
			"ultrafast", "superfast", "veryfast", "faster", "fast",
			"medium", "slow", "slower", "veryslow", "placebo"})
		if err != nil {
			return err
		}
		p := H26xPreset(s)
		out.H26xPreset = &p
	}
	if err := d.field("vpXSpeed", &out.VpXSpeed); err != nil {
		return err
	}
	if err := d.field("gop", &out.Gop); err != nil {
		return err
	}
	return d.finish()
}

func parseAudioQuality(raw json.RawMessage, keyPath string, out *AudioQuality) error {
	d, err := newObjectDeserializer(raw, keyPath)
	if err != nil {
		return err
	}
	if err := d.field("sampleRate", &out.SampleRate); err != nil {
		return err
	}
	if err := d.field("bitrate", &out.Bitrate); err != nil {
		return err
	}
	if raw, ok := d.take("codec"); ok {
		s, err := parseStringEnum(raw, d.childPath("codec"), []string{"none", "aac", "opus"})
		if err != nil {
			return err
		}
		out.Codec = media.AudioCodec(s)
	}
	return d.finish()
}

func parseClientBufferControl(raw json.RawMessage, keyPath string, out *ClientBufferControl) error {
	d, err := newObjectDeserializer(raw, keyPath)
	if err != nil {
		return err
	}
	if err := d.field("minBuffer", &out.MinBuffer); err != nil {
		return err
	}
	if err := d.field("extraBuffer", &out.ExtraBuffer); err != nil {
		return err
	}
	if err := d.field("initialBuffer", &out.InitialBuffer); err != nil {
		return err
	}
	if err := d.field("seekBuffer", &out.SeekBuffer); err != nil {
		return err
	}
	if err := d.field("minimumInitTime", &out.MinimumInitTime); err != nil {
		return err
	}
	return d.finish()
}

func parseQuality(raw json.RawMessage, keyPath string, out *Quality) error {
	d, err := newObjectDeserializer(raw, keyPath)
	if err != nil {
		return err
	}
	if raw, ok := d.take("video"); ok {
		if err := parseVideoQuality(raw, d.childPath("video"), &out.Video); err != nil {
			return err
		}
	}
	if raw, ok := d.take("audio"); ok {
		if err := parseAudioQuality(raw, d.childPath("audio"), &out.Audio); err != nil {
			return err
		}
	}
	if err := d.field("targetLatency", &out.TargetLatency); err != nil {
		return err
	}
	if err := d.field("minInterleaveRate", &out.MinInterleaveRate); err != nil {
		return err
	}
	if err := d.field("minInterleaveWindow", &out.MinInterleaveWindow); err != nil {
		return err
	}
	if err := d.field("interleaveTimestampInterval", &out.InterleaveTimestampInterval); err != nil {
		return err
	}
	if raw, ok := d.take("clientBufferControl"); ok {
		if err := parseClientBufferControl(raw, d.childPath("clientBufferControl"), &out.ClientBufferControl); err != nil {
			return err
		}
	}
	return d.finish()
}

func parseDash(raw json.RawMessage, keyPath string, out *Dash) error {
	d, err := newObjectDeserializer(raw, keyPath)
	if err != nil {
		return err
	}
	if err := d.field("segmentDuration", &out.SegmentDuration); err != nil {
		return err
	}
	if err := d.field("expose", &out.Expose); err != nil {
		return err
	}
	if err := d.field("preAvailabilityTime", &out.PreAvailabilityTime); err != nil {
		return err
	}
	return d.finish()
}

func parseHistory(raw json.RawMessage, keyPath string, out *History) error {
	d, err := newObjectDeserializer(raw, keyPath)
	if err != nil {
		return err
	}
	if err := d.field("historyLength", &out.HistoryLength); err != nil {
		return err
	}
	if err := d.field("persistentStorage", &out.PersistentStorage); err != nil {
		return err
	}
	return d.finish()
}

func parseChannel(raw json.RawMessage, keyPath string, out *Channel) error {
	d, err := newObjectDeserializer(raw, keyPath)
	if err != nil {
		return err
	}
	if raw, ok := d.take("source"); ok {
		if err := parseSource(raw, d.childPath("source"), &out.Source); err != nil {
			return err
		}
	} else {
		return parseError(d.childPath("source"), "required key is missing")
	}
	if raws, ok := d.take("qualities"); ok {
		var items []json.RawMessage
		if err := json.Unmarshal(raws, &items); err != nil {
			return parseError(d.childPath("qualities"), "value is not an array")
		}
		for _, item := range items {
			q := newQuality()
			if err := parseQuality(item, d.childPath("qualities"), &q); err != nil {
				return err
			}
			out.Qualities = append(out.Qualities, q)
		}
	}
	if raw, ok := d.take("dash"); ok {
		if err := parseDash(raw, d.childPath("dash"), &out.Dash); err != nil {
			return err
		}
	}
	if raw, ok := d.take("history"); ok {
		if err := parseHistory(raw, d.childPath("history"), &out.History); err != nil {
			return err
		}
	}
	if err := d.field("name", &out.Name); err != nil {
		return err
	}
	if err := d.field("uid", &out.UID); err != nil {
		return err
	}
	return d.finish()
}

func parseDirectory(raw json.RawMessage, keyPath string, out *Directory) error {
	/* Deserialize the short-hand form. */
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		out.LocalPath = s
		return nil
	}

	/* Deserialize the long form. */
	d, err := newObjectDeserializer(raw, keyPath)
	if err != nil {
		return err
	}
	if err := d.requiredField("localPath", &out.LocalPath); err != nil {
		return err
	}
	if err := d.field("index", &out.Index); err != nil {
		return err
	}
	if err := d.field("secure", &out.Secure); err != nil {
		return err
	}
	if err := d.field("ephemeral", &out.Ephemeral); err != nil {
		return err
	}
	if err := d.field("maxWritableSize", &out.MaxWritableSize); err != nil {
		return err
	}
	return d.finish()
}

func parseAddressList(raw json.RawMessage, keyPath string, out *[]server.Address) error {
	appendOne := func(s string) error {
		a, err := server.ParseAddress(s)
		if err != nil {
			return parseError(keyPath, "%s", err.Error())
		}
		*out = append(*out, a)
		return nil
	}

	// A single string is shorthand for a one-element list.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return appendOne(s)
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return parseError(keyPath, "value is not a string or array of strings")
	}
	for _, s := range list {
		if err := appendOne(s); err != nil {
			return err
		}
	}
	return nil
}

func parseNetwork(raw json.RawMessage, keyPath string, out *Network) error {
	d, err := newObjectDeserializer(raw, keyPath)
	if err != nil {
		return err
	}
	if err := d.field("port", &out.Port); err != nil {
		return err
	}
	if err := d.field("publicPort", &out.PublicPort); err != nil {
		return err
	}
	if raw, ok := d.take("privateNetworks"); ok {
		if err := parseAddressList(raw, d.childPath("privateNetworks"), &out.PrivateNetworks); err != nil {
			return err
		}
	}
	if err := d.field("transitLatency", &out.TransitLatency); err != nil {
		return err
	}
	if err := d.field("transitJitter", &out.TransitJitter); err != nil {
		return err
	}
	if err := d.field("transitBufferSize", &out.TransitBufferSize); err != nil {
		return err
	}
	return d.finish()
}

func parseHttp(raw json.RawMessage, keyPath string, out *Http) error {
	d, err := newObjectDeserializer(raw, keyPath)
	if err != nil {
		return err
	}
	if err := d.field("origin", &out.Origin); err != nil {
		return err
	}
	if err := d.field("cacheNonLiveTime", &out.CacheNonLiveTime); err != nil {
		return err
	}
	if err := d.field("ephemeralWhenNotFound", &out.EphemeralWhenNotFound); err != nil {
		return err
	}
	return d.finish()
}

func parseLog(raw json.RawMessage, keyPath string, out *Log) error {
	d, err := newObjectDeserializer(raw, keyPath)
	if err != nil {
		return err
	}
	if err := d.field("path", &out.Path); err != nil {
		return err
	}
	if err := d.field("print", &out.Print); err != nil {
		return err
	}
	if raw, ok := d.take("level"); ok {
		s, err := parseStringEnum(raw, d.childPath("level"), []string{"debug", "info", "warning", "error", "fatal"})
		if err != nil {
			return err
		}
		out.Level, _ = eventlog.ParseLevel(s)
	}
	return d.finish()
}

func parseFeatures(raw json.RawMessage, keyPath string, out *Features) error {
	d, err := newObjectDeserializer(raw, keyPath)
	if err != nil {
		return err
	}
	if err := d.field("channelIndex", &out.ChannelIndex); err != nil {
		return err
	}
	return d.finish()
}

func parseSeparatedIngestSource(raw json.RawMessage, keyPath string, out *SeparatedIngestSource) error {
	d, err := newObjectDeserializer(raw, keyPath)
	if err != nil {
		return err
	}
	if err := d.requiredField("url", &out.URL); err != nil {
		return err
	}
	if err := d.field("arguments", &out.Arguments); err != nil {
		return err
	}
	if err := d.field("path", &out.Path); err != nil {
		return err
	}
	if err := d.field("bufferSize", &out.BufferSize); err != nil {
		return err
	}
	if err := d.field("probeSize", &out.ProbeSize); err != nil {
		return err
	}
	return d.finish()
}

// FromJSON loads a configuration from a JSON formatted string. Parsing
// is strict: unknown keys are fatal and name themselves in the error.
func FromJSON(jsonString string) (*Root, error) {
	root := NewRoot()
	d, err := newObjectDeserializer(json.RawMessage(jsonString), "")
	if err != nil {
		return nil, err
	}
	if raws, ok := d.take("channels"); ok {
		var chans map[string]json.RawMessage
		if err := json.Unmarshal(raws, &chans); err != nil {
			return nil, parseError("channels", "value is not an object")
		}
		for path, raw := range chans {
			ch := newChannel()
			if err := parseChannel(raw, d.childPath("channels")+"."+path, ch); err != nil {
				return nil, err
			}
			root.Channels[path] = ch
		}
	}
	if raws, ok := d.take("directories"); ok {
		var dirs map[string]json.RawMessage
		if err := json.Unmarshal(raws, &dirs); err != nil {
			return nil, parseError("directories", "value is not an object")
		}
		for path, raw := range dirs {
			var dir Directory
			if err := parseDirectory(raw, "directories."+path, &dir); err != nil {
				return nil, err
			}
			root.Directories[path] = dir
		}
	}
	if raw, ok := d.take("network"); ok {
		if err := parseNetwork(raw, "network", &root.Network); err != nil {
			return nil, err
		}
	}
	if raw, ok := d.take("http"); ok {
		if err := parseHttp(raw, "http", &root.Http); err != nil {
			return nil, err
		}
	}
	if raw, ok := d.take("log"); ok {
		if err := parseLog(raw, "log", &root.Log); err != nil {
			return nil, err
		}
	}
	if raw, ok := d.take("features"); ok {
		if err := parseFeatures(raw, "features", &root.Features); err != nil {
			return nil, err
		}
	}
	if raws, ok := d.take("separatedIngestSources"); ok {
		var srcs map[string]json.RawMessage
		if err := json.Unmarshal(raws, &srcs); err != nil {
			return nil, parseError("separatedIngestSources", "value is not an object")
		}
		for name, raw := range srcs {
			src := newSeparatedIngestSource()
			if err := parseSeparatedIngestSource(raw, "separatedIngestSources."+name, src); err != nil {
				return nil, err
			}
			root.SeparatedIngestSources[name] = src
		}
	}
	if err := d.finish(); err != nil {
		return nil, err
	}
	root.JSONRepresentation = jsonString
	if err := root.validate(); err != nil {
		return nil, err
	}
	return root, nil
}

// validate performs the structural checks that parsing alone cannot.
func (r *Root) validate() error {
	urls := make(map[string]string)
	for path, ch := range r.Channels {
		if _, err := server.ParsePath(path); err != nil {
			return parseError("channels."+path, "invalid channel path: %s", err.Error())
		}
		if ch.Source.URL == "" {
			return parseError("channels."+path+".source.url", "source URL is empty")
		}
		if ch.Dash.PreAvailabilityTime >= ch.Dash.SegmentDuration {
			return parseError("channels."+path+".dash.preAvailabilityTime",
				"pre-availability time must be strictly smaller than the segment duration")
		}
		if prev, ok := urls[ch.Source.URL]; ok && !ch.Source.Listen {
			return parseError("channels."+path+".source.url",
				"source URL already used by channel %q", prev)
		}
		urls[ch.Source.URL] = path
	}
	return nil
}
