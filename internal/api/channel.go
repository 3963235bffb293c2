package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/risevideo/risecast/internal/ffmpeg"
	"github.com/risevideo/risecast/internal/instance"
	"github.com/risevideo/risecast/pkg/eventlog"
	"github.com/risevideo/risecast/pkg/rise"
	"github.com/risevideo/risecast/pkg/server"
)

const maxChannelRequestLength = 1 << 16

// ChannelResource handles the per-channel control operations under
// /api/channel/<ch>/...: blanking, interjections and user data chunks.
type ChannelResource struct {
	server.BaseResource
	elog  *eventlog.Log
	state *instance.State
}

func NewChannelResource(elog *eventlog.Log, state *instance.State) *ChannelResource {
	return &ChannelResource{elog: elog, state: state}
}

func (c *ChannelResource) AllowNonEmptyPath() bool { return true }

func (c *ChannelResource) Allows(t server.RequestType) bool {
	return t == server.RequestPost
}

func (c *ChannelResource) MaxRequestLength(server.RequestType) uint64 {
	return maxChannelRequestLength
}

// splitOperation separates <channelpath...>/<op> (or
// <channelpath...>/data/<kind>) and checks the channel exists.
func (c *ChannelResource) splitOperation(p server.Path) (channelPath, op, kind string, err error) {
	parts := make([]string, 0, p.Len())
	for i := 0; i < p.Len(); i++ {
		parts = append(parts, p.At(i))
	}
	if len(parts) < 2 {
		return "", "", "", server.NewError(server.ErrNotFound, "")
	}
	last := parts[len(parts)-1]
	switch last {
	case "blank", "interjection":
		op = last
		channelPath = strings.Join(parts[:len(parts)-1], "/")
	default:
		if len(parts) < 3 || parts[len(parts)-2] != "data" {
			return "", "", "", server.NewError(server.ErrNotFound, "")
		}
		op = "data"
		kind = last
		channelPath = strings.Join(parts[:len(parts)-2], "/")
	}
	if _, ok := c.state.Channels()[channelPath]; !ok {
		return "", "", "", server.NewError(server.ErrNotFound, "no such channel: "+channelPath)
	}
	return channelPath, op, kind, nil
}

func (c *ChannelResource) Serve(ctx context.Context, resp *server.Response, req *server.Request) error {
	channelPath, op, kind, err := c.splitOperation(req.Path())
	if err != nil {
		return err
	}
	resp.SetCacheKind(server.CacheNone)

	switch op {
	case "blank":
		return c.serveBlank(ctx, req, channelPath)
	case "interjection":
		return c.serveInterjection(ctx, req, channelPath)
	case "data":
		return c.serveData(ctx, req, channelPath, kind)
	}
	return server.NewError(server.ErrNotFound, "")
}

// serveBlank switches the channel's blanking filters via the
// transcoder's filter-control socket.
func (c *ChannelResource) serveBlank(ctx context.Context, req *server.Request, channelPath string) error {
	body, err := req.ReadAll(ctx)
	if err != nil {
		return err
	}
	var request struct {
		Blank *bool `json:"blank"`
	}
	if err := json.Unmarshal(body, &request); err != nil || request.Blank == nil {
		return server.NewError(server.ErrBadRequest, "expected object with boolean key \"blank\"")
	}
	address, ok := c.state.ChannelZmqAddress(channelPath)
	if !ok || address == "" {
		return server.NewError(server.ErrNotFound, "channel has no filter control address")
	}
	arg := "0"
	if *request.Blank {
		arg = "1"
	}
	return ffmpeg.ZmqSend(ctx, c.elog, address, []ffmpeg.FilterCommand{
		{Target: "vblank", Command: "enable", Arg: arg},
		{Target: "ablank", Command: "enable", Arg: arg},
	})
}

type interjectionRequest struct {
	Duration                          *uint           `json:"duration"`
	DurationWindow                    uint            `json:"durationWindow"`
	Delay                             uint            `json:"delay"`
	DelayWindow                       *uint           `json:"delayWindow"`
	Blank                             *bool           `json:"blank"`
	SetURL                            *string         `json:"setUrl"`
	MaxSelectTime                     uint            `json:"maxSelectTime"`
	MinSelectTime                     uint            `json:"minSelectTime"`
	MainStreamFallbackInitial         *bool           `json:"mainStreamFallbackInitial"`
	MainStreamFallbackSubsequent      *bool           `json:"mainStreamFallbackSubsequent"`
	PlayingInterjectionPriorityTime   *uint           `json:"playingInterjectionPriorityTime"`
	InterjectionSelectionPriorityTime *uint           `json:"interjectionSelectionPriorityTime"`
	MainStreamWarmUpTime              uint            `json:"mainStreamWarmUpTime"`
	Other                             json.RawMessage `json:"other"`
}

// serveInterjection tells the clients, via a control chunk, to play an
// interjection set within a PTS window relative to the live position.
func (c *ChannelResource) serveInterjection(ctx context.Context, req *server.Request, channelPath string) error {
	body, err := req.ReadAll(ctx)
	if err != nil {
		return err
	}
	request := interjectionRequest{
		DurationWindow:       2000,
		Delay:                5000,
		MaxSelectTime:        3000,
		MinSelectTime:        1000,
		MainStreamWarmUpTime: 3000,
	}
	if err := json.Unmarshal(body, &request); err != nil {
		return server.NewError(server.ErrBadRequest, err.Error())
	}
	if request.Duration == nil || request.SetURL == nil {
		return server.NewError(server.ErrBadRequest, "duration and setUrl are required")
	}
	if *request.Duration < request.DurationWindow {
		return server.NewError(server.ErrBadRequest, "duration window is longer than the duration")
	}
	if request.MaxSelectTime <= request.MinSelectTime {
		return server.NewError(server.ErrBadRequest, "select time window is empty")
	}

	/* Fill in the dependent defaults. */
	if request.DelayWindow == nil {
		w := *request.Duration - request.DurationWindow
		request.DelayWindow = &w
	}
	blank := true
	if request.Blank != nil {
		blank = *request.Blank
	}
	if request.MainStreamFallbackInitial == nil {
		v := !blank
		request.MainStreamFallbackInitial = &v
	}
	if request.MainStreamFallbackSubsequent == nil {
		request.MainStreamFallbackSubsequent = request.MainStreamFallbackInitial
	}

	pts, ok := c.state.ChannelPts(channelPath)
	if !ok {
		return server.NewError(server.ErrNotFound, "")
	}

	message := map[string]any{
		"type":                              "interject",
		"setUrl":                            *request.SetURL,
		"maxSelectTime":                     request.MaxSelectTime,
		"minSelectTime":                     request.MinSelectTime,
		"minPlayStartPts":                   pts + int64(request.Delay),
		"maxPlayStartPts":                   pts + int64(request.Delay) + int64(*request.DelayWindow),
		"minPlayEndPts":                     pts + int64(*request.Duration) - int64(request.DurationWindow),
		"maxPlayEndPts":                     pts + int64(*request.Duration),
		"mainStreamFallbackInitial":         *request.MainStreamFallbackInitial,
		"mainStreamFallbackSubsequent":      *request.MainStreamFallbackSubsequent,
		"playingInterjectionPriorityTime":   request.PlayingInterjectionPriorityTime,
		"interjectionSelectionPriorityTime": request.InterjectionSelectionPriorityTime,
		"mainStreamWarmUpTime":              request.MainStreamWarmUpTime,
	}
	if len(request.Other) > 0 {
		message["other"] = request.Other
	}
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}
	c.state.ChannelControlChunk(channelPath, rise.ControlUserJSONObject, payload)
	return nil
}

// serveData forwards user data to the clients as a control chunk. The
// kind selects the control type; JSON payloads are validated and
// compacted first.
func (c *ChannelResource) serveData(ctx context.Context, req *server.Request, channelPath, kind string) error {
	body, err := req.ReadAll(ctx)
	if err != nil {
		return err
	}
	var controlType byte
	switch kind {
	case "json":
		controlType = rise.ControlUserJSONObject
		if !json.Valid(body) {
			return server.NewError(server.ErrBadRequest, "body is not valid JSON")
		}
		var compacted bytes.Buffer
		if err := json.Compact(&compacted, body); err != nil {
			return server.NewError(server.ErrBadRequest, err.Error())
		}
		body = compacted.Bytes()
	case "binary":
		controlType = rise.ControlUserBinaryData
	case "string":
		controlType = rise.ControlUserString
	default:
		return server.NewError(server.ErrNotFound, fmt.Sprintf("unknown data kind %q", kind))
	}
	c.state.ChannelControlChunk(channelPath, controlType, body)
	return nil
}
