package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/tarotroom-backend/internal/platform/logger"
	"github.com/yungbote/tarotroom-backend/internal/realtime"
)

// redisBus maps every topic onto a Redis pub/sub channel under prefix.
// Each Subscribe opens its own PubSub connection so PUBLISH receiver counts
// equal the number of live subscriptions across all instances.
type redisBus struct {
	log    *logger.Logger
	rdb    goredis.UniversalClient
	prefix string

	mu   sync.Mutex
	subs map[*redisSubscription]struct{}
}

func NewRedisBus(log *logger.Logger, rdb goredis.UniversalClient, prefix string) (realtime.Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "tarotroom"
	}
	return &redisBus{
		log:    log.With("service", "RedisBus"),
		rdb:    rdb,
		prefix: prefix,
		subs:   make(map[*redisSubscription]struct{}),
	}, nil
}

func (b *redisBus) channel(topic string) string {
	return b.prefix + ":" + topic
}

func (b *redisBus) Publish(ctx context.Context, env realtime.Envelope) (int, error) {
	if strings.TrimSpace(env.Topic) == "" {
		return 0, fmt.Errorf("publish: empty topic")
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return 0, err
	}
	n, err := b.rdb.Publish(ctx, b.channel(env.Topic), raw).Result()
	if err != nil {
		return 0, fmt.Errorf("redis publish: %w", err)
	}
	return int(n), nil
}

func (b *redisBus) Subscribe(ctx context.Context, topic string, fn realtime.Handler) (realtime.Subscription, error) {
	if fn == nil {
		return nil, fmt.Errorf("subscribe: handler required")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("subscribe: empty topic")
	}
	ps := b.rdb.Subscribe(ctx, b.channel(topic))
	// ensures the subscription is registered before Publish can count it
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{bus: b, topic: topic, ps: ps, cancel: cancel}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		ch := ps.Channel()
		for {
			select {
			case <-runCtx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var env realtime.Envelope
				if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
					b.log.Warn("bad redis envelope", "channel", m.Channel, "error", err)
					continue
				}
				fn(env)
			}
		}
	}()
	return sub, nil
}

// Close ends every subscription opened through this bus. The client stays open.
func (b *redisBus) Close() error {
	b.mu.Lock()
	subs := make([]*redisSubscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	for _, s := range subs {
		_ = s.Close()
	}
	return nil
}

type redisSubscription struct {
	bus    *redisBus
	topic  string
	ps     *goredis.PubSub
	cancel context.CancelFunc
	once   sync.Once
	err    error
}

func (s *redisSubscription) Topic() string { return s.topic }

func (s *redisSubscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.err = s.ps.Close()
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
	})
	return s.err
}
