// Package injector assembles the server from its configuration.
package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/crdtsync/internal/config"
	"github.com/zeusync/crdtsync/internal/core/observability/log"
	"github.com/zeusync/crdtsync/internal/core/scene"
	"github.com/zeusync/crdtsync/internal/core/storage/sqlite"
	"github.com/zeusync/crdtsync/internal/server"
)

// App is everything the serve command runs.
type App struct {
	Config config.Config
	Logger *log.Logger
	Hub    *scene.Hub
	Server *server.Server
}

var ProviderSet = wire.NewSet(
	ProvideLogger,
	ProvideSnapshots,
	ProvideHub,
	ProvideServer,
	wire.Struct(new(App), "*"),
)

func ProvideLogger(cfg config.Config) *log.Logger {
	return log.NewWithConfig(cfg.LoggerConfig())
}

// ProvideSnapshots opens the snapshot database, or returns nil when
// persistence is disabled.
func ProvideSnapshots(cfg config.Config) (*sqlite.Store, func(), error) {
	if cfg.Snapshot.Path == "" {
		return nil, func() {}, nil
	}
	store, err := sqlite.Open(cfg.Snapshot.Path)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

func ProvideHub(cfg config.Config, logger *log.Logger, snapshots *sqlite.Store) *scene.Hub {
	var opts []scene.HubOption
	if cfg.Pool.Shared {
		opts = append(opts, scene.WithSharedPool())
	}
	if snapshots != nil {
		opts = append(opts, scene.WithSnapshots(snapshots))
	}
	return scene.NewHub(cfg.SceneConfig(), logger, opts...)
}

func ProvideServer(cfg config.Config, hub *scene.Hub, snapshots *sqlite.Store, logger *log.Logger) *server.Server {
	var opts []server.Option
	if snapshots != nil {
		opts = append(opts, server.WithSnapshots(snapshots))
	}
	return server.New(server.Config{
		Addr:         cfg.Server.Addr,
		ReadLimit:    cfg.Server.ReadLimit,
		WriteTimeout: cfg.Server.WriteTimeout,
		SendQueue:    cfg.Server.SendQueue,
		Token:        cfg.Server.Token,
	}, hub, logger, opts...)
}
