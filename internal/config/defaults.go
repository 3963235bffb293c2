package config

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/risevideo/risecast/internal/media"
)

// ProbeFunc returns the intrinsic properties of a source. The resolver
// calls it at most once per (url, arguments) pair per resolution.
type ProbeFunc func(ctx context.Context, url string, arguments []string) (media.SourceInfo, error)

const uidAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// generateUID derives a unique ID from the current time. This is
// useful for URLs that might otherwise conflict with stale versions in
// a cache.
func generateUID() string {
	ms := uint64(time.Now().UnixMilli())
	var b []byte
	for ms > 0 {
		b = append(b, uidAlphabet[ms%uint64(len(uidAlphabet))])
		ms /= uint64(len(uidAlphabet))
	}
	return string(b)
}

// sanitizePathToFilename keeps only safe characters and no path
// separators.
func sanitizePathToFilename(path string) string {
	var b strings.Builder
	for _, c := range path {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// sortedChannelPaths gives a deterministic iteration order over the
// channels.
func sortedChannelPaths(cfg *Root) []string {
	paths := make([]string, 0, len(cfg.Channels))
	for path := range cfg.Channels {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// FillInInitialDefaults sets up separated ingests for channels that
// listen for their source rather than connecting to it.
//
//   - The ingest:// protocol refers to an element of
//     Root.SeparatedIngestSources. It implicitly points at this server.
//   - Sources that listen for connections can't be probed directly
//     (the connection would have to be re-established for the
//     transcoder), so they're accessed by separated ingest.
//   - All ingest:// URLs, including manually specified ones, become
//     ingest_http:// URLs in FillInDefaults.
func FillInInitialDefaults(cfg *Root) {
	id := 0
	for _, path := range sortedChannelPaths(cfg) {
		channel := cfg.Channels[path]
		if !channel.Source.Listen {
			continue
		}

		name := fmt.Sprintf("__listen__/%d", id)
		id++

		ingest := newSeparatedIngestSource()
		ingest.URL = channel.Source.URL
		ingest.Arguments = append(channel.Source.Arguments, "-listen", "1")
		cfg.SeparatedIngestSources[name] = ingest

		channel.Source.URL = "ingest://" + name
		channel.Source.Arguments = nil
		channel.Source.Listen = false
	}
}

// FillInDefaults fills in every derived field of the configuration,
// probing sources as needed.
func FillInDefaults(ctx context.Context, probe ProbeFunc, cfg *Root) error {
	/* Fill in some simple defaults. */
	if cfg.Log.Print == nil {
		// By default, print if and only if we're not logging to a file.
		print := cfg.Log.Path == ""
		cfg.Log.Print = &print
	}

	/* Fill in the channels. */
	for _, path := range sortedChannelPaths(cfg) {
		channel := cfg.Channels[path]

		// Replace ingest:// URLs with ingest_http:// URLs.
		if rest, ok := strings.CutPrefix(channel.Source.URL, "ingest://"); ok {
			channel.Source.URL = fmt.Sprintf("ingest_http://localhost:%d/ingest/%s", cfg.Network.Port, rest)
		}

		// If there are no qualities, add one to be filled in from the
		// probed source.
		if len(channel.Qualities) == 0 {
			channel.Qualities = append(channel.Qualities, newQuality())
		}

		// Fill in the information we get from the prober. This is done
		// first because a lot of other defaults are based on it.
		if err := fillInQualitiesFromProbe(ctx, channel.Qualities, &channel.Source, probe); err != nil {
			return err
		}

		// Prerequisites for the latency allocator.
		if channel.Source.Latency == nil {
			latency := uint(0)
			channel.Source.Latency = &latency
		}

		// Other per-channel parameters.
		if channel.UID == "" {
			channel.UID = generateUID()
		}
		if channel.Ffmpeg.FilterZmq == "" {
			channel.Ffmpeg.FilterZmq = "ipc:///tmp/rise-ffmpeg-zmq_" + sanitizePathToFilename(path+"_"+channel.UID)
		}

		// The remaining parameters of each quality.
		for i := range channel.Qualities {
			if err := fillInQuality(&channel.Qualities[i], cfg, channel); err != nil {
				return fmt.Errorf("channel %q: %w", path, err)
			}
		}
	}

	/* Fill in the compute trade-off. */
	fillInCompute(cfg)
	return nil
}
