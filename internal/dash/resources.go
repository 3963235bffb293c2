package dash

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/risevideo/risecast/internal/config"
	"github.com/risevideo/risecast/pkg/eventlog"
	"github.com/risevideo/risecast/pkg/server"
)

const gcInterval = time.Second

type segKey struct {
	stream  uint
	segment uint
}

type interleaveKey struct {
	index   uint
	segment uint
}

type segmentEntry struct {
	segment *Segment
	path    server.Path
}

type interleaveEntry struct {
	interleave *Interleave
	path       server.Path
	cancel     context.CancelFunc
}

// Resources coordinates the live resources of one channel: the segment
// resources the transcoder PUTs to, the interleaves they fan into, and
// the surrounding metadata resources.
type Resources struct {
	ctx     context.Context
	cancel  context.CancelFunc
	elog    *eventlog.Log
	log     *eventlog.Context
	channel *config.Channel
	server  *server.Server

	channelPath server.Path
	basePath    server.Path
	started     time.Time

	wg sync.WaitGroup

	mu          sync.Mutex
	segments    map[segKey]*segmentEntry
	interleaves map[interleaveKey]*interleaveEntry
	latest      map[uint]uint // per stream: highest created segment index
}

// New creates the per-channel resources and publishes them on the
// server: info.json, the manifest passthrough, and the first segment
// of every stream.
func New(ctx context.Context, elog *eventlog.Log, channel *config.Channel,
	channelPath string, srv *server.Server) (*Resources, error) {

	chPath, err := server.ParsePath(channelPath)
	if err != nil {
		return nil, fmt.Errorf("channel path: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	r := &Resources{
		ctx:         ctx,
		cancel:      cancel,
		elog:        elog,
		log:         elog.Context("dash"),
		channel:     channel,
		server:      srv,
		channelPath: chPath,
		basePath:    chPath.Join(server.MustParsePath(channel.UID)),
		started:     time.Now(),
		segments:    make(map[segKey]*segmentEntry),
		interleaves: make(map[interleaveKey]*interleaveEntry),
		latest:      make(map[uint]uint),
	}

	/* The live info and the manifest passthrough. */
	info, err := LiveInfo(channel, r.basePath)
	if err != nil {
		cancel()
		return nil, err
	}
	infoPath := chPath.Join(server.MustParsePath("info.json"))
	if err := srv.AddOrReplaceResource(infoPath, newInfoResource(info)); err != nil {
		cancel()
		return nil, err
	}
	manifestPath := r.basePath.Join(server.MustParsePath("manifest.mpd"))
	if err := srv.AddOrReplaceResource(manifestPath, newManifestResource()); err != nil {
		cancel()
		return nil, err
	}

	/* The first segment of each stream exists from the start. */
	numQualities := uint(len(channel.Qualities))
	for i := uint(0); i < numQualities; i++ {
		if err := r.createSegment(i, 0); err != nil {
			r.Close()
			return nil, err
		}
		if channel.Qualities[i].Audio.Enabled() {
			if err := r.createSegment(i+numQualities, 0); err != nil {
				r.Close()
				return nil, err
			}
		}
	}

	r.wg.Add(1)
	go r.gcLoop()
	return r, nil
}

// BasePath is the channel's uid-substituted live path.
func (r *Resources) BasePath() server.Path {
	return r.basePath
}

// Pts approximates the live stream position: milliseconds since the
// channel's resources came up.
func (r *Resources) Pts() int64 {
	return time.Since(r.started).Milliseconds()
}

// ControlChunk injects a control chunk into the live interleave of
// every quality.
func (r *Resources) ControlChunk(controlType byte, payload []byte) {
	r.mu.Lock()
	latest := make(map[uint]*interleaveEntry)
	latestSeg := make(map[uint]uint)
	for key, entry := range r.interleaves {
		if best, ok := latestSeg[key.index]; !ok || key.segment >= best {
			latest[key.index] = entry
			latestSeg[key.index] = key.segment
		}
	}
	r.mu.Unlock()
	for _, entry := range latest {
		entry.interleave.AddControlChunk(controlType, payload)
	}
}

// Interleave returns the live interleave for an interleave index, if
// one exists. The newest segment wins.
func (r *Resources) Interleave(index uint) (*Interleave, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *Interleave
	var bestSeg uint
	for key, entry := range r.interleaves {
		if key.index == index && (best == nil || key.segment >= bestSeg) {
			best = entry.interleave
			bestSeg = key.segment
		}
	}
	return best, best != nil
}

// quality maps a stream index back to its quality and whether the
// stream is the audio half.
func (r *Resources) quality(streamIndex uint) (*config.Quality, bool) {
	numQualities := uint(len(r.channel.Qualities))
	if streamIndex < numQualities {
		return &r.channel.Qualities[streamIndex], false
	}
	return &r.channel.Qualities[streamIndex-numQualities], true
}

func (r *Resources) segmentPath(streamIndex, segmentIndex uint) server.Path {
	return r.basePath.Join(server.MustParsePath(
		fmt.Sprintf("chunk-stream%d-%09d.m4s", streamIndex, segmentIndex)))
}

func (r *Resources) interleavePath(interleaveIndex, segmentIndex uint) server.Path {
	return r.basePath.Join(server.MustParsePath(
		fmt.Sprintf("interleave%d-%09d.rise", interleaveIndex, segmentIndex)))
}

// createSegment mints the segment resource for (streamIndex,
// segmentIndex), wiring it into the interleave for its quality and
// creating that interleave if this is its first substream. The
// predecessor's caching drops to ephemeral once it's superseded.
func (r *Resources) createSegment(streamIndex, segmentIndex uint) error {
	q, isAudio := r.quality(streamIndex)
	numQualities := uint(len(r.channel.Qualities))
	interleaveIndex := streamIndex % numQualities

	r.mu.Lock()
	defer r.mu.Unlock()

	key := segKey{stream: streamIndex, segment: segmentIndex}
	if _, exists := r.segments[key]; exists {
		return nil
	}

	/* Get or create the interleave segment. */
	ilKey := interleaveKey{index: interleaveIndex, segment: segmentIndex}
	entry, ok := r.interleaves[ilKey]
	if !ok {
		numStreams := 1
		if q.Audio.Enabled() {
			numStreams = 2
		}
		il := NewInterleave(r.elog, numStreams, uint32(q.InterleaveTimestampInterval))
		path := r.interleavePath(interleaveIndex, segmentIndex)
		if err := r.server.AddResource(path, il); err != nil {
			return err
		}
		entry = &interleaveEntry{interleave: il, path: path}
		if q.MinInterleaveRate != nil && *q.MinInterleaveRate > 0 {
			var pctx context.Context
			pctx, entry.cancel = context.WithCancel(r.ctx)
			window := uint(250)
			if q.MinInterleaveWindow != nil {
				window = *q.MinInterleaveWindow
			}
			r.wg.Add(1)
			go r.runPacer(pctx, il, *q.MinInterleaveRate, window)
		}
		r.interleaves[ilKey] = entry
	}

	/* Add the new segment. */
	indexInInterleave := 0
	if isAudio {
		indexInInterleave = 1
	}
	seg := NewSegment(r.elog, r.channel.Dash.Expose, r, streamIndex, segmentIndex,
		entry.interleave, interleaveIndex, indexInInterleave)
	path := r.segmentPath(streamIndex, segmentIndex)
	if err := r.server.AddResource(path, seg); err != nil {
		return err
	}
	r.segments[key] = &segmentEntry{segment: seg, path: path}
	if latest, ok := r.latest[streamIndex]; !ok || segmentIndex > latest {
		r.latest[streamIndex] = segmentIndex
	}

	/* The superseded predecessor is now only briefly cacheable. */
	if segmentIndex > 0 {
		if prev, ok := r.segments[segKey{stream: streamIndex, segment: segmentIndex - 1}]; ok {
			prev.segment.setCacheKind(server.CacheEphemeral)
		}
	}
	return nil
}

// notifySegmentStart implements the pre-availability scheduler: when
// segment i starts receiving data, segment i+1 is created after
// segmentDuration - preAvailabilityTime.
func (r *Resources) notifySegmentStart(streamIndex, segmentIndex uint) {
	delay := time.Duration(r.channel.Dash.SegmentDuration-r.channel.Dash.PreAvailabilityTime) * time.Millisecond
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-r.ctx.Done():
			return
		case <-timer.C:
		}
		if err := r.createSegment(streamIndex, segmentIndex+1); err != nil {
			r.log.Error("preavailability",
				fmt.Sprintf("creating pre-available segment %d for stream %d: %s", segmentIndex+1, streamIndex, err))
		}
	}()
}

// gcLoop removes segments whose age exceeds the channel's retention.
// Requests already in flight keep their resource alive through the
// dispatcher's strong reference.
func (r *Resources) gcLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.gcSegments()
		}
	}
}

func (r *Resources) gcSegments() {
	retention := time.Duration(r.channel.History.HistoryLength) * time.Second

	r.mu.Lock()
	var expiredSegs []segKey
	for key, entry := range r.segments {
		// Never collect the newest segment of a stream, whatever its
		// age: it's the live edge.
		if key.segment == r.latest[key.stream] {
			continue
		}
		if entry.segment.Age() > retention {
			expiredSegs = append(expiredSegs, key)
		}
	}
	var removedSegs []*segmentEntry
	liveInterleaveSegments := make(map[uint]bool)
	for _, key := range expiredSegs {
		removedSegs = append(removedSegs, r.segments[key])
		delete(r.segments, key)
	}
	for key := range r.segments {
		liveInterleaveSegments[key.segment] = true
	}
	var removedIls []*interleaveEntry
	for key, entry := range r.interleaves {
		if !liveInterleaveSegments[key.segment] {
			removedIls = append(removedIls, entry)
			delete(r.interleaves, key)
		}
	}
	r.mu.Unlock()

	for _, entry := range removedSegs {
		entry.segment.expire()
		if err := r.server.RemoveResource(entry.path); err != nil {
			r.log.Error("gc", err.Error())
		}
	}
	for _, entry := range removedIls {
		if entry.cancel != nil {
			entry.cancel()
		}
		if err := r.server.RemoveResource(entry.path); err != nil {
			r.log.Error("gc", err.Error())
		}
	}
}

// Close tears down every published resource and stops the background
// work. In-flight requests complete against the removed resources.
func (r *Resources) Close() {
	r.cancel()

	r.mu.Lock()
	segs := make([]*segmentEntry, 0, len(r.segments))
	for _, entry := range r.segments {
		segs = append(segs, entry)
	}
	ils := make([]*interleaveEntry, 0, len(r.interleaves))
	for _, entry := range r.interleaves {
		ils = append(ils, entry)
	}
	r.segments = make(map[segKey]*segmentEntry)
	r.interleaves = make(map[interleaveKey]*interleaveEntry)
	r.mu.Unlock()

	for _, entry := range segs {
		entry.segment.expire()
		_ = r.server.RemoveResource(entry.path)
	}
	for _, entry := range ils {
		_ = r.server.RemoveResource(entry.path)
	}
	_ = r.server.RemoveResource(r.channelPath.Join(server.MustParsePath("info.json")))
	_ = r.server.RemoveResource(r.basePath.Join(server.MustParsePath("manifest.mpd")))

	r.wg.Wait()
}
