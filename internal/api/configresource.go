// Package api is the private control plane, served through the
// resource tree so it inherits the public/private permission gate.
package api

import (
	"context"

	"github.com/risevideo/risecast/internal/config"
	"github.com/risevideo/risecast/internal/instance"
	"github.com/risevideo/risecast/pkg/server"
)

const maxConfigRequestLength = 1 << 20

// ConfigResource reads back the requested configuration and accepts
// replacements. A replacement is applied but not persisted to disk.
type ConfigResource struct {
	server.BaseResource
	state *instance.State
}

func NewConfigResource(state *instance.State) *ConfigResource {
	return &ConfigResource{state: state}
}

func (c *ConfigResource) Allows(t server.RequestType) bool {
	return t == server.RequestGet || t == server.RequestPost || t == server.RequestPut
}

func (c *ConfigResource) MaxRequestLength(t server.RequestType) uint64 {
	if t == server.RequestPost || t == server.RequestPut {
		return maxConfigRequestLength
	}
	return 0
}

func (c *ConfigResource) Serve(ctx context.Context, resp *server.Response, req *server.Request) error {
	switch req.Type() {
	case server.RequestGet:
		if err := req.ReadEmpty(ctx); err != nil {
			return err
		}
		requested := c.state.RequestedConfig()
		if requested == nil {
			return server.NewError(server.ErrNotFound, "no configuration applied yet")
		}
		resp.SetCacheKind(server.CacheNone)
		resp.SetMimeType("application/json")
		resp.WriteString(requested.JSONRepresentation)
		return nil

	case server.RequestPost, server.RequestPut:
		body, err := req.ReadAllString(ctx)
		if err != nil {
			return err
		}
		newCfg, err := config.FromJSON(body)
		if err != nil {
			return server.NewError(server.ErrBadRequest, err.Error())
		}
		if err := c.state.ApplyConfiguration(ctx, newCfg); err != nil {
			return server.NewError(server.ErrBadRequest, err.Error())
		}
		resp.SetCacheKind(server.CacheNone)
		return nil
	}
	return server.UnsupportedVerb(req.Type())
}

// FullConfigResource reads back the active configuration with every
// resolved default filled in.
type FullConfigResource struct {
	server.BaseResource
	state *instance.State
}

func NewFullConfigResource(state *instance.State) *FullConfigResource {
	return &FullConfigResource{state: state}
}

func (f *FullConfigResource) Allows(t server.RequestType) bool {
	return t == server.RequestGet
}

func (f *FullConfigResource) Serve(ctx context.Context, resp *server.Response, req *server.Request) error {
	if err := req.ReadEmpty(ctx); err != nil {
		return err
	}
	active := f.state.ActiveConfig()
	if active == nil {
		return server.NewError(server.ErrNotFound, "no configuration applied yet")
	}
	body, err := active.ToJSON()
	if err != nil {
		return err
	}
	resp.SetCacheKind(server.CacheNone)
	resp.SetMimeType("application/json")
	resp.WriteString(body)
	return nil
}
