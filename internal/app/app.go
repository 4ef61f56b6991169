package app

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/tarotroom-backend/internal/data/db"
	httpapi "github.com/yungbote/tarotroom-backend/internal/http"
	"github.com/yungbote/tarotroom-backend/internal/observability"
	"github.com/yungbote/tarotroom-backend/internal/platform/logger"
	"github.com/yungbote/tarotroom-backend/internal/realtime"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Redis    *goredis.Client
	Server   *httpapi.Server
	Cfg      Config
	Metrics  *observability.Metrics
	Repos    Repos
	Services Services
	SSEHub   *realtime.SSEHub

	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New() (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "tarotroom-backend",
		Environment: cfg.Env,
		Version:     cfg.Version,
	})
	metrics := observability.Init(log, cfg.MetricsEnabled)

	theDB, err := openDB(log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}
	if err := db.AutoMigrateAll(theDB); err != nil {
		log.Sync()
		return nil, fmt.Errorf("automigrate: %w", err)
	}

	bus, presence, rdb, err := wireRealtime(log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}
	ssehub := realtime.NewSSEHub(log)

	reposet := wireRepos(theDB, log)
	serviceset, err := wireServices(theDB, log, cfg, metrics, reposet, bus, presence, ssehub)
	if err != nil {
		_ = bus.Close()
		log.Sync()
		return nil, err
	}
	handlerset := wireHandlers(log, theDB, rdb, serviceset, ssehub)
	server := httpapi.NewServer(httpapi.RouterConfig{
		Log:                handlerset.Log,
		Metrics:            metrics,
		CORSOrigins:        cfg.CORSOrigins,
		ServiceName:        "tarotroom-backend",
		IdentityMiddleware: handlerset.Identity,
		SessionHandler:     handlerset.Session,
		HealthHandler:      handlerset.Health,
	})

	return &App{
		Log:          log,
		DB:           theDB,
		Redis:        rdb,
		Server:       server,
		Cfg:          cfg,
		Metrics:      metrics,
		Repos:        reposet,
		Services:     serviceset,
		SSEHub:       ssehub,
		otelShutdown: otelShutdown,
	}, nil
}

func openDB(log *logger.Logger, cfg Config) (*gorm.DB, error) {
	switch cfg.DBDriver {
	case "sqlite":
		svc, err := db.NewSQLiteService(log, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
		return svc.DB(), nil
	default:
		svc, err := db.NewPostgresService(log, cfg.Postgres.toDB())
		if err != nil {
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		return svc.DB(), nil
	}
}

// Start launches background collectors.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.Metrics != nil {
		a.Metrics.StartServer(ctx, a.Log, a.Cfg.MetricsAddr)
		a.Metrics.StartPostgresCollector(ctx, a.Log, a.DB, a.Cfg.MetricsScrapeInterval)
		if a.Redis != nil {
			a.Metrics.StartRedisCollector(ctx, a.Log, a.Redis, a.Cfg.MetricsScrapeInterval)
		}
	}
}

func (a *App) Run() error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("HTTP server listening", "port", a.Cfg.Port)
	return a.Server.Run(":" + a.Cfg.Port)
}

// Close leaves every live participant session, then stops the server and
// releases connections.
func (a *App) Close() {
	if a == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil {
			a.Log.Warn("http shutdown failed", "error", err)
		}
	}
	if a.Services.Sessions != nil {
		a.Services.Sessions.Close(ctx)
	}
	if a.Services.Bus != nil {
		if err := a.Services.Bus.Close(); err != nil {
			a.Log.Warn("bus close failed", "error", err)
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
