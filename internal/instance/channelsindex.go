package instance

import (
	"context"
	"encoding/json"

	"github.com/risevideo/risecast/pkg/server"
)

// channelsIndexResource serves channelIndex.json: a mapping from each
// channel's info.json path to its display name (or null).
type channelsIndexResource struct {
	server.BaseResource
	state *State
}

func newChannelsIndexResource(state *State) *channelsIndexResource {
	return &channelsIndexResource{
		BaseResource: server.BaseResource{Public: true},
		state:        state,
	}
}

func (c *channelsIndexResource) Allows(t server.RequestType) bool {
	return t == server.RequestGet
}

func (c *channelsIndexResource) Serve(ctx context.Context, resp *server.Response, req *server.Request) error {
	if err := req.ReadEmpty(ctx); err != nil {
		return err
	}
	resp.SetCacheKind(server.CacheEphemeral)

	index := make(map[string]*string)
	for path, name := range c.state.Channels() {
		p, err := server.ParsePath(path)
		if err != nil {
			continue
		}
		key := "/" + p.Join(server.MustParsePath("info.json")).String()
		if name == "" {
			index[key] = nil
		} else {
			n := name
			index[key] = &n
		}
	}
	body, err := json.Marshal(index)
	if err != nil {
		return err
	}
	resp.SetMimeType("application/json")
	resp.Write(body)
	return nil
}
