// Package daemon composes a profile's room runtime with fx: config, logger,
// lock, cache, clients, metrics, the room and its status server.
package daemon

import (
	"context"
	"fmt"

	"github.com/matheus3301/roomsync/internal/bus"
	"github.com/matheus3301/roomsync/internal/config"
	"github.com/matheus3301/roomsync/internal/lock"
	"github.com/matheus3301/roomsync/internal/logging"
	"github.com/matheus3301/roomsync/internal/metrics"
	"github.com/matheus3301/roomsync/internal/profile"
	"github.com/matheus3301/roomsync/internal/push"
	"github.com/matheus3301/roomsync/internal/room"
	"github.com/matheus3301/roomsync/internal/roomapi"
	"github.com/matheus3301/roomsync/internal/store"
	"github.com/matheus3301/roomsync/internal/voice"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string // optional override for testing; empty = use default
	ListenAddr string // optional TCP address; overrides metrics.addr
	Console    bool   // also log to stderr
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideLock,
			provideStore,
			provideRegistry,
			provideMetrics,
			provideRoom,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile, "roomd"), p.Profile, p.Console)
}

func provideConfig(p Params, logger *zap.Logger) (*config.Profile, error) {
	cfg, err := profile.Load(p.Profile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", p.Profile, err)
	}
	logger.Info("profile loaded",
		zap.String("base_url", cfg.Server.BaseURL),
		zap.Int64("room_id", cfg.Room.ID),
		zap.Bool("push", cfg.Server.PushURL != ""),
		zap.Bool("microphone", cfg.Voice.SourceFile != ""))
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore takes the lock so the cache is only opened by its owner.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.CachePath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func provideMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

func provideRoom(p Params, cfg *config.Profile, db *store.DB, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *room.Room {
	deps := room.Deps{
		API:     roomapi.NewClient(cfg.Server.BaseURL, cfg.Server.Token, logger.Named("roomapi")),
		DB:      db,
		Bus:     b,
		Metrics: m,
		Logger:  logger,
	}
	if cfg.Server.PushURL != "" {
		deps.Push = push.NewClient(cfg.Server.PushURL, cfg.Server.Token, b, logger.Named("push"))
	}
	if cfg.Voice.SourceFile != "" {
		deps.Microphone = voice.NewFileMicrophone(cfg.Voice.SourceFile)
	}
	return room.New(room.ConfigFromProfile(cfg, profile.PreviewDir(p.Profile)), deps)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, r *room.Room, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// The room outlives the start hook's deadline.
			if err := r.Open(context.Background()); err != nil {
				return err
			}

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("status server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			if err := r.Close(); err != nil {
				logger.Warn("error closing room", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
