package bus

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/tarotroom-backend/internal/platform/logger"
	"github.com/yungbote/tarotroom-backend/internal/realtime"
)

func redisForTest(t *testing.T) *goredis.Client {
	t.Helper()
	addr := strings.TrimSpace(os.Getenv("TEST_REDIS_ADDR"))
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisBusPublishCountsSubscribers(t *testing.T) {
	rdb := redisForTest(t)
	ctx := context.Background()
	b, err := NewRedisBus(logger.Nop(), rdb, "test-"+uuid.NewString())
	if err != nil {
		t.Fatalf("NewRedisBus: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	topic := realtime.Topic(uuid.New(), realtime.ChannelBroadcast)
	env, _ := realtime.NewEnvelope(topic, realtime.TypeSessionUpdate, uuid.Nil, map[string]int{"n": 1}, time.Now())

	n, err := b.Publish(ctx, env)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if n != 0 {
		t.Fatalf("receivers without subscribers: want=0 got=%d", n)
	}

	got := make(chan realtime.Envelope, 1)
	sub, err := b.Subscribe(ctx, topic, func(e realtime.Envelope) { got <- e })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	n, err = b.Publish(ctx, env)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if n != 1 {
		t.Fatalf("receivers: want=1 got=%d", n)
	}
	select {
	case e := <-got:
		if e.Type != realtime.TypeSessionUpdate {
			t.Fatalf("type: want=%s got=%s", realtime.TypeSessionUpdate, e.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for envelope")
	}

	_ = sub.Close()
	n, _ = b.Publish(ctx, env)
	if n != 0 {
		t.Fatalf("receivers after close: want=0 got=%d", n)
	}
}

func TestRedisPresenceTrackSnapshotUntrack(t *testing.T) {
	rdb := redisForTest(t)
	ctx := context.Background()
	p, err := NewRedisPresence(logger.Nop(), rdb, "test-"+uuid.NewString(), time.Minute)
	if err != nil {
		t.Fatalf("NewRedisPresence: %v", err)
	}
	sessionID, a, b := uuid.New(), uuid.New(), uuid.New()
	_ = p.Track(ctx, sessionID, a, json.RawMessage(`{"name":"a"}`))
	_ = p.Track(ctx, sessionID, b, json.RawMessage(`{"name":"b"}`))
	snap, err := p.Snapshot(ctx, sessionID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap) != 2 || string(snap[a]) != `{"name":"a"}` {
		t.Fatalf("snapshot: got=%v", snap)
	}
	_ = p.Untrack(ctx, sessionID, a)
	snap, _ = p.Snapshot(ctx, sessionID)
	if _, ok := snap[a]; ok || len(snap) != 1 {
		t.Fatalf("after untrack: got=%v", snap)
	}
}
