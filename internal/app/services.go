package app

import (
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	redisclient "github.com/yungbote/tarotroom-backend/internal/clients/redis"
	"github.com/yungbote/tarotroom-backend/internal/collab"
	"github.com/yungbote/tarotroom-backend/internal/data/aggregates"
	"github.com/yungbote/tarotroom-backend/internal/observability"
	"github.com/yungbote/tarotroom-backend/internal/platform/logger"
	"github.com/yungbote/tarotroom-backend/internal/realtime"
	"github.com/yungbote/tarotroom-backend/internal/realtime/bus"
	"github.com/yungbote/tarotroom-backend/internal/services"
)

type Services struct {
	Identity    services.IdentityService
	Records     services.SessionRecords
	Sessions    services.SessionService
	Coordinator *collab.SyncCoordinator
	Transport   *realtime.Transport
	Bus         realtime.Bus
}

// wireRealtime picks the Redis bus when REDIS_ADDR is set and the in-process
// bus otherwise. The in-process bus only reaches participants on this instance.
func wireRealtime(log *logger.Logger, cfg Config) (realtime.Bus, realtime.PresenceStore, *goredis.Client, error) {
	if cfg.RedisAddr == "" {
		log.Warn("REDIS_ADDR not set; using in-process realtime bus")
		return realtime.NewMemoryBus(), realtime.NewMemoryPresence(), nil, nil
	}
	rdb, err := redisclient.NewClient(log, redisclient.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init redis: %w", err)
	}
	b, err := bus.NewRedisBus(log, rdb, cfg.RedisChannelPrefix)
	if err != nil {
		_ = rdb.Close()
		return nil, nil, nil, fmt.Errorf("init redis bus: %w", err)
	}
	p, err := bus.NewRedisPresence(log, rdb, cfg.RedisChannelPrefix, cfg.PresenceTTL)
	if err != nil {
		_ = b.Close()
		_ = rdb.Close()
		return nil, nil, nil, fmt.Errorf("init redis presence: %w", err)
	}
	return b, p, rdb, nil
}

func wireServices(
	db *gorm.DB,
	log *logger.Logger,
	cfg Config,
	metrics *observability.Metrics,
	reposet Repos,
	b realtime.Bus,
	presence realtime.PresenceStore,
	ssehub *realtime.SSEHub,
) (Services, error) {
	log.Info("Wiring services...")

	timing, err := collab.LoadTiming(cfg.SyncTimingFile)
	if err != nil {
		return Services{}, fmt.Errorf("load sync timing: %w", err)
	}

	transport := realtime.NewTransport(log, b, presence, realtime.WithMetrics(metrics))
	hosts := aggregates.NewSessionHostAggregate(aggregates.SessionHostAggregateDeps{
		Base: aggregates.BaseDeps{
			DB:       db,
			Log:      log,
			Observer: aggregates.NewMetricsObserver(metrics),
		},
		Sessions:     reposet.Sessions,
		Participants: reposet.Participants,
	})
	records := services.NewSessionRecords(db, log, reposet.Sessions, reposet.Participants, hosts, transport, nil)

	coordinator, err := collab.NewSyncCoordinator(collab.Deps{
		Log:          log,
		Records:      records,
		Hosts:        records,
		Participants: services.NewParticipantTable(log, reposet.Participants, nil),
		Viewports:    services.NewViewportTable(reposet.Viewports, nil),
		Transport:    transport,
		Timing:       timing,
		Metrics:      metrics,
	})
	if err != nil {
		return Services{}, fmt.Errorf("init sync coordinator: %w", err)
	}

	return Services{
		Identity:    services.NewIdentityService(log, cfg.JWTSecretKey),
		Records:     records,
		Sessions:    services.NewSessionService(log, records, coordinator, ssehub, nil),
		Coordinator: coordinator,
		Transport:   transport,
		Bus:         b,
	}, nil
}
