package app

import (
	"context"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	httpH "github.com/yungbote/tarotroom-backend/internal/http/handlers"
	httpMW "github.com/yungbote/tarotroom-backend/internal/http/middleware"
	"github.com/yungbote/tarotroom-backend/internal/platform/logger"
	"github.com/yungbote/tarotroom-backend/internal/realtime"
)

type Handlers struct {
	Log      *logger.Logger
	Identity *httpMW.IdentityMiddleware
	Session  *httpH.SessionHandler
	Health   *httpH.HealthHandler
}

func wireHandlers(log *logger.Logger, db *gorm.DB, rdb *goredis.Client, serviceset Services, ssehub *realtime.SSEHub) Handlers {
	log.Info("Wiring handlers...")
	deps := map[string]httpH.Pinger{
		"db": httpH.PingFunc(func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}),
	}
	if rdb != nil {
		deps["redis"] = httpH.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}
	return Handlers{
		Log:      log,
		Identity: httpMW.NewIdentityMiddleware(log, serviceset.Identity),
		Session:  httpH.NewSessionHandler(log, serviceset.Sessions, ssehub),
		Health:   httpH.NewHealthHandler(deps),
	}
}
