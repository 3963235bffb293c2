package api

import (
	"context"
	"encoding/json"

	"golang.org/x/sync/errgroup"

	"github.com/risevideo/risecast/internal/config"
	"github.com/risevideo/risecast/internal/instance"
	"github.com/risevideo/risecast/internal/media"
	"github.com/risevideo/risecast/pkg/server"
)

const maxProbeRequestLength = 1 << 12 // 4 kiB

type probeSource struct {
	URL       string   `json:"url"`
	Arguments []string `json:"arguments"`
}

// ProbeResource probes a list of candidate sources in parallel and
// returns what they contain. Sources already consumed by an active
// transcoder are not re-probed: for some source types a second reader
// is destructive.
type ProbeResource struct {
	server.BaseResource
	state *instance.State
	probe config.ProbeFunc
}

func NewProbeResource(state *instance.State, probe config.ProbeFunc) *ProbeResource {
	return &ProbeResource{state: state, probe: probe}
}

func (p *ProbeResource) Allows(t server.RequestType) bool {
	return t == server.RequestGet || t == server.RequestPost
}

func (p *ProbeResource) MaxRequestLength(server.RequestType) uint64 {
	return maxProbeRequestLength
}

func (p *ProbeResource) Serve(ctx context.Context, resp *server.Response, req *server.Request) error {
	resp.SetCacheKind(server.CacheNone)

	body, err := req.ReadAll(ctx)
	if err != nil {
		return err
	}
	var sources []probeSource
	if err := json.Unmarshal(body, &sources); err != nil {
		return server.NewError(server.ErrBadRequest, err.Error())
	}

	inUse := p.state.InUseUrls()
	results := make([]media.SourceInfo, len(sources))

	group, groupCtx := errgroup.WithContext(ctx)
	for i, source := range sources {
		if _, active := inUse[source.URL]; active {
			// An empty result: the source exists but can't be probed
			// right now.
			continue
		}
		group.Go(func() error {
			// A source that can't be probed just comes back empty.
			if info, err := p.probe(groupCtx, source.URL, source.Arguments); err == nil {
				results[i] = info
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	out, err := json.Marshal(results)
	if err != nil {
		return err
	}
	resp.SetMimeType("application/json")
	resp.Write(out)
	return nil
}
