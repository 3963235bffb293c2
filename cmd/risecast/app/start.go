package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/risevideo/risecast/internal/api"
	"github.com/risevideo/risecast/internal/config"
	"github.com/risevideo/risecast/internal/ffmpeg"
	"github.com/risevideo/risecast/internal/instance"
	"github.com/risevideo/risecast/pkg/eventlog"
	"github.com/risevideo/risecast/pkg/logging"
	"github.com/risevideo/risecast/pkg/server"
)

// App is the assembled server: the chi router hosting the resource
// tree adapter, and the instance state behind it.
type App struct {
	Router *chi.Mux
	Cfg    *ServerConfig
	Config *config.Root
	State  *instance.State
	Log    *eventlog.Log
}

// newEventLog creates the event log the configuration asks for.
func newEventLog(cfg *config.Log) (*eventlog.Log, error) {
	print := cfg.Path == ""
	if cfg.Print != nil {
		print = *cfg.Print
	}
	if cfg.Path == "" {
		return eventlog.NewMemoryLog(cfg.Level, print), nil
	}
	return eventlog.NewFileLog(cfg.Path, cfg.Level, print)
}

// SetupServer parses the configuration file, builds the resource tree
// and instance state, applies the initial configuration, and wires up
// the router and middleware.
func SetupServer(ctx context.Context, cfg *ServerConfig) (*App, error) {
	raw, err := os.ReadFile(cfg.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}
	root, err := config.FromJSON(string(raw))
	if err != nil {
		return nil, err
	}

	elog, err := newEventLog(&root.Log)
	if err != nil {
		return nil, err
	}

	tree := server.New(elog)
	state := instance.New(ctx, elog, tree, ffmpeg.Ffprobe, instance.FfmpegLauncher)

	/* The control plane lives in the tree so it gets the private-only
	   permission gate. */
	if err := tree.AddResource(server.MustParsePath("api/config"), api.NewConfigResource(state)); err != nil {
		return nil, err
	}
	if err := tree.AddResource(server.MustParsePath("api/config/full"), api.NewFullConfigResource(state)); err != nil {
		return nil, err
	}
	if err := tree.AddResource(server.MustParsePath("api/probe"), api.NewProbeResource(state, ffmpeg.Ffprobe)); err != nil {
		return nil, err
	}
	if err := tree.AddResource(server.MustParsePath("api/channel"), api.NewChannelResource(elog, state)); err != nil {
		return nil, err
	}

	/* Apply the initial configuration: resolve defaults, mount static
	   resources, start channels and transcoders. */
	if err := state.ApplyConfiguration(ctx, root); err != nil {
		return nil, err
	}

	logger := slog.Default()
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logging.SlogMiddleWare(logger))
	r.Use(middleware.Recoverer)
	r.Use(NewPrometheusMiddleware())
	if cfg.TimeoutS > 0 {
		r.Use(middleware.Timeout(time.Duration(cfg.TimeoutS) * time.Second))
	}
	if cfg.MaxRequests > 0 {
		r.Use(httprate.LimitByIP(cfg.MaxRequests, time.Minute))
	}

	r.Mount("/metrics", promhttp.Handler())
	r.MethodFunc("GET", "/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("true"))
	})

	adapter := NewAdapter(tree, &root.Network, &root.Http)
	r.Handle("/*", adapter)

	logger.Info("risecast starting", "port", root.Network.Port, "channels", len(root.Channels))
	return &App{
		Router: r,
		Cfg:    cfg,
		Config: root,
		State:  state,
		Log:    elog,
	}, nil
}
