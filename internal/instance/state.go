// Package instance is the top-level state machine: it owns the active
// configuration, the server's resource tree, the running channels and
// their transcoders, and applies configuration replacements.
package instance

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/risevideo/risecast/internal/config"
	"github.com/risevideo/risecast/internal/dash"
	"github.com/risevideo/risecast/internal/ffmpeg"
	"github.com/risevideo/risecast/internal/media"
	"github.com/risevideo/risecast/internal/resources"
	"github.com/risevideo/risecast/pkg/eventlog"
	"github.com/risevideo/risecast/pkg/server"
	"github.com/risevideo/risecast/pkg/syncx"
)

// BadConfigurationReplacementError rejects a change to a field that can
// only change by restarting the process.
type BadConfigurationReplacementError struct {
	Field string
}

func (e *BadConfigurationReplacementError) Error() string {
	return "this configuration field cannot be changed at runtime: " + e.Field
}

// Transcoder is the channel's child process, as far as the state
// machine cares: something that can be killed and waited for.
type Transcoder interface {
	Kill(ctx context.Context) error
}

// TranscoderLauncher starts the transcoder for one channel. basePath
// is the uid-substituted live path the transcoder should PUT to.
type TranscoderLauncher func(ctx context.Context, elog *eventlog.Log, cfg *config.Root,
	channel *config.Channel, basePath string) (Transcoder, error)

// FfmpegLauncher launches a real ffmpeg child with synthesized
// arguments.
func FfmpegLauncher(ctx context.Context, elog *eventlog.Log, cfg *config.Root,
	channel *config.Channel, basePath string) (Transcoder, error) {
	return ffmpeg.NewProcess(ctx, elog, "ffmpeg", ffmpeg.Arguments(channel, &cfg.Network, basePath))
}

// channelState lives only while its configuration entry exists.
type channelState struct {
	config     *config.Channel
	dash       *dash.Resources
	transcoder Transcoder
}

// State applies configurations and runs channels.
type State struct {
	ctx      context.Context
	mutex    *syncx.Mutex
	elog     *eventlog.Log
	log      *eventlog.Context
	server   *server.Server
	probe    config.ProbeFunc
	launcher TranscoderLauncher

	performingStartup bool
	active            *config.Root
	requested         *config.Root
	channels          map[string]*channelState
	ingests           map[string]server.Path

	urlMu     sync.Mutex
	inUseUrls map[string]struct{}
}

func New(ctx context.Context, elog *eventlog.Log, srv *server.Server,
	probe config.ProbeFunc, launcher TranscoderLauncher) *State {
	return &State{
		ctx:               ctx,
		mutex:             syncx.NewMutex(),
		elog:              elog,
		log:               elog.Context("instance"),
		server:            srv,
		probe:             probe,
		launcher:          launcher,
		performingStartup: true,
		channels:          make(map[string]*channelState),
		ingests:           make(map[string]server.Path),
		inUseUrls:         make(map[string]struct{}),
	}
}

// ActiveConfig is the currently applied, fully resolved configuration.
func (s *State) ActiveConfig() *config.Root { return s.active }

// RequestedConfig is the configuration as last successfully requested.
func (s *State) RequestedConfig() *config.Root { return s.requested }

// Server returns the resource tree.
func (s *State) Server() *server.Server { return s.server }

// InUseUrls is the set of source URLs the active channels consume.
// Probing one of these would disturb an active transcoder.
func (s *State) InUseUrls() map[string]struct{} {
	s.urlMu.Lock()
	defer s.urlMu.Unlock()
	out := make(map[string]struct{}, len(s.inUseUrls))
	for url := range s.inUseUrls {
		out[url] = struct{}{}
	}
	return out
}

// Channels returns the active channel paths and names, for the channel
// index.
func (s *State) Channels() map[string]string {
	out := make(map[string]string)
	if s.active == nil {
		return out
	}
	for path, ch := range s.active.Channels {
		out[path] = ch.Name
	}
	return out
}

// Interleave exposes a channel's live interleave for the control API.
func (s *State) Interleave(channelPath string, index uint) (*dash.Interleave, bool) {
	ch, ok := s.channels[channelPath]
	if !ok {
		return nil, false
	}
	return ch.dash.Interleave(index)
}

// ChannelControlChunk injects a control chunk into every live
// interleave of a channel.
func (s *State) ChannelControlChunk(channelPath string, controlType byte, payload []byte) bool {
	ch, ok := s.channels[channelPath]
	if !ok {
		return false
	}
	ch.dash.ControlChunk(controlType, payload)
	return true
}

// ChannelPts approximates a channel's live position in milliseconds.
func (s *State) ChannelPts(channelPath string) (int64, bool) {
	ch, ok := s.channels[channelPath]
	if !ok {
		return 0, false
	}
	return ch.dash.Pts(), true
}

// ChannelZmqAddress is the ffmpeg filter-control endpoint of a
// channel.
func (s *State) ChannelZmqAddress(channelPath string) (string, bool) {
	ch, ok := s.channels[channelPath]
	if !ok {
		return "", false
	}
	return ch.config.Ffmpeg.FilterZmq, true
}

func (s *State) configCannotChange(changed bool, name string) error {
	if !s.performingStartup && changed {
		return &BadConfigurationReplacementError{Field: name}
	}
	return nil
}

// ApplyConfiguration resolves newCfg and makes it the active
// configuration, starting and stopping channels as needed. Concurrent
// calls serialize on the instance mutex.
func (s *State) ApplyConfiguration(ctx context.Context, newCfg *config.Root) error {
	guard, err := s.mutex.Lock(ctx)
	if err != nil {
		return err
	}
	defer guard.Unlock()

	/* Fill in the blanks, recording the URLs the new configuration
	   consumes and probing each source at most once. */
	config.FillInInitialDefaults(newCfg)

	newInUseUrls := make(map[string]struct{})
	probeCache := ffmpeg.NewProbeCache()
	probeFn := func(ctx context.Context, url string, arguments []string) (media.SourceInfo, error) {
		// The new and old URLs are in use at the same time, briefly.
		s.urlMu.Lock()
		s.inUseUrls[url] = struct{}{}
		s.urlMu.Unlock()
		newInUseUrls[url] = struct{}{}
		if info, ok := probeCache.Get(url, arguments); ok {
			return info, nil
		}
		info, err := s.probe(ctx, url, arguments)
		if err != nil {
			return media.SourceInfo{}, err
		}
		probeCache.Insert(info, url, arguments)
		return info, nil
	}
	if err := config.FillInDefaults(ctx, probeFn, newCfg); err != nil {
		return err
	}
	for _, ch := range newCfg.Channels {
		newInUseUrls[ch.Source.URL] = struct{}{}
	}

	/* Reject changes to startup-only fields before any mutation. */
	if s.active != nil {
		cantChange := func(changed bool, name string) error {
			return s.configCannotChange(changed, name)
		}
		if err := cantChange(s.active.Network.Port != newCfg.Network.Port, "network.port"); err != nil {
			return err
		}
		if err := cantChange(s.active.Network.PublicPort != newCfg.Network.PublicPort, "network.publicPort"); err != nil {
			return err
		}
		if err := cantChange(!stringSlicesEqual(s.active.Http.EphemeralWhenNotFound, newCfg.Http.EphemeralWhenNotFound),
			"http.ephemeralWhenNotFound"); err != nil {
			return err
		}
		if err := cantChange(!s.active.Features.Equal(newCfg.Features), "features"); err != nil {
			return err
		}
		if !s.active.Log.Equal(newCfg.Log) {
			if err := cantChange(s.active.Log.Path != newCfg.Log.Path, "log.path"); err != nil {
				return err
			}
		}
		if err := cantChange(!s.active.DirectoriesEqual(newCfg), "directories"); err != nil {
			return err
		}
	}

	/* Reconfigure the logger. */
	if s.active == nil || !s.active.Log.Equal(newCfg.Log) {
		print := true
		if newCfg.Log.Print != nil {
			print = *newCfg.Log.Print
		}
		s.elog.Reconfigure(newCfg.Log.Level, print)
	}

	/* The static resources only mount once, at startup. */
	if s.performingStartup {
		if err := s.addStaticResources(newCfg); err != nil {
			return err
		}
	}

	/* Reconcile the separated ingest mounts. */
	if err := s.reconcileIngests(newCfg); err != nil {
		return err
	}

	/* Delete channels that are simply gone, or that changed by more
	   than their uid-derived fields. */
	for path, state := range s.channels {
		newChannel, stillExists := newCfg.Channels[path]
		if stillExists && newChannel.DiffersByUidOnly(state.config) {
			continue
		}
		s.log.Info("channel", "stopping "+path)
		if err := state.transcoder.Kill(ctx); err != nil {
			s.log.Error("channel", fmt.Sprintf("stopping transcoder for %s: %s", path, err))
		}
		state.dash.Close()
		delete(s.channels, path)
	}

	/* Move the configuration into the active slot. */
	s.active = newCfg

	/* Start streaming. */
	s.urlMu.Lock()
	s.inUseUrls = newInUseUrls
	s.urlMu.Unlock()

	paths := make([]string, 0, len(newCfg.Channels))
	for path := range newCfg.Channels {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		if _, running := s.channels[path]; running {
			continue
		}
		channelCfg := newCfg.Channels[path]
		dashResources, err := dash.New(s.ctx, s.elog, channelCfg, path, s.server)
		if err != nil {
			return fmt.Errorf("channel %q: %w", path, err)
		}
		transcoder, err := s.launcher(s.ctx, s.elog, newCfg, channelCfg, dashResources.BasePath().String())
		if err != nil {
			dashResources.Close()
			return fmt.Errorf("channel %q: launch transcoder: %w", path, err)
		}
		s.channels[path] = &channelState{
			config:     channelCfg,
			dash:       dashResources,
			transcoder: transcoder,
		}
		s.log.Info("channel", "started "+path)
	}

	/* Record success. */
	s.requested = newCfg
	s.performingStartup = false
	return nil
}

// Close stops every channel.
func (s *State) Close(ctx context.Context) {
	guard, err := s.mutex.Lock(ctx)
	if err != nil {
		return
	}
	defer guard.Unlock()
	for path, state := range s.channels {
		if err := state.transcoder.Kill(ctx); err != nil {
			s.log.Error("channel", fmt.Sprintf("stopping transcoder for %s: %s", path, err))
		}
		state.dash.Close()
		delete(s.channels, path)
	}
}

func (s *State) addStaticResources(cfg *config.Root) error {
	/* Directories served verbatim. */
	for path, directory := range cfg.Directories {
		p, err := server.ParsePath(path)
		if err != nil {
			return fmt.Errorf("directory path %q: %w", path, err)
		}
		cacheKind := server.CacheFixed
		if directory.Ephemeral {
			cacheKind = server.CacheEphemeral
		}
		fsResource := resources.NewFilesystem(directory.LocalPath, directory.Index, cacheKind,
			!directory.Secure, directory.MaxWritableSize<<20)
		if err := s.server.AddResource(p, fsResource); err != nil {
			return err
		}
	}

	/* Paths whose absence is expected to be brief get an ephemeral 404
	   rather than a cacheable one. */
	for _, path := range cfg.Http.EphemeralWhenNotFound {
		p, err := server.ParsePath(path)
		if err != nil {
			return fmt.Errorf("ephemeralWhenNotFound path %q: %w", path, err)
		}
		errResource := resources.NewError(server.Error{Kind: server.ErrNotFound}, server.CacheEphemeral,
			true, server.RequestGet)
		if err := s.server.AddResource(p, errResource); err != nil {
			return err
		}
	}

	/* The channel index. */
	if cfg.Features.ChannelIndex {
		p := server.MustParsePath("channelIndex.json")
		if err := s.server.AddResource(p, newChannelsIndexResource(s)); err != nil {
			return err
		}
	}
	return nil
}

// reconcileIngests mounts a stream-and-head resource per separated
// ingest source, and unmounts those that are gone.
func (s *State) reconcileIngests(cfg *config.Root) error {
	for name, path := range s.ingests {
		if _, still := cfg.SeparatedIngestSources[name]; still {
			continue
		}
		if err := s.server.RemoveResource(path); err != nil {
			s.log.Error("ingest", err.Error())
		}
		delete(s.ingests, name)
	}
	for name, ingest := range cfg.SeparatedIngestSources {
		if _, mounted := s.ingests[name]; mounted {
			continue
		}
		p, err := server.MustParsePath("ingest").JoinString(name)
		if err != nil {
			return fmt.Errorf("ingest name %q: %w", name, err)
		}
		sh := resources.NewStreamAndHead(server.MustParsePath("stream"), ingest.BufferSize,
			server.MustParsePath("probe"), ingest.ProbeSize)
		if err := s.server.AddResource(p, sh); err != nil {
			return err
		}
		s.ingests[name] = p
	}
	return nil
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
