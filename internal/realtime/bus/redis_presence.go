package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/tarotroom-backend/internal/platform/logger"
	"github.com/yungbote/tarotroom-backend/internal/realtime"
)

// redisPresence keeps one hash per session: field = participant id, value = entry JSON.
// The hash expires ttl after the last Track so abandoned sessions clean themselves up.
type redisPresence struct {
	log    *logger.Logger
	rdb    goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisPresence(log *logger.Logger, rdb goredis.UniversalClient, prefix string, ttl time.Duration) (realtime.PresenceStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if prefix == "" {
		prefix = "tarotroom"
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &redisPresence{
		log:    log.With("service", "RedisPresence"),
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
	}, nil
}

func (p *redisPresence) key(sessionID uuid.UUID) string {
	return fmt.Sprintf("%s:presence:%s", p.prefix, sessionID)
}

func (p *redisPresence) Track(ctx context.Context, sessionID, participantID uuid.UUID, entry json.RawMessage) error {
	key := p.key(sessionID)
	pipe := p.rdb.TxPipeline()
	pipe.HSet(ctx, key, participantID.String(), []byte(entry))
	pipe.Expire(ctx, key, p.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis presence track: %w", err)
	}
	return nil
}

func (p *redisPresence) Untrack(ctx context.Context, sessionID, participantID uuid.UUID) error {
	if err := p.rdb.HDel(ctx, p.key(sessionID), participantID.String()).Err(); err != nil {
		return fmt.Errorf("redis presence untrack: %w", err)
	}
	return nil
}

func (p *redisPresence) Snapshot(ctx context.Context, sessionID uuid.UUID) (map[uuid.UUID]json.RawMessage, error) {
	raw, err := p.rdb.HGetAll(ctx, p.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis presence snapshot: %w", err)
	}
	out := make(map[uuid.UUID]json.RawMessage, len(raw))
	for field, val := range raw {
		id, err := uuid.Parse(field)
		if err != nil {
			p.log.Warn("bad presence field", "field", field, "error", err)
			continue
		}
		out[id] = json.RawMessage(val)
	}
	return out, nil
}
