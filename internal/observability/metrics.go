package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/tarotroom-backend/internal/platform/logger"
)

// Delivery outcomes for a session update.
const (
	DeliveryPersisted = "persisted"
	DeliveryRelayed   = "relayed"
	DeliveryDropped   = "dropped"
	DeliveryNone      = "none"
)

type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge

	sessionWrites    *HistogramVec
	sessionConflicts *CounterVec
	sessionRetries   *CounterVec

	updates        *CounterVec
	droppedFields  *CounterVec
	hostOps        *CounterVec
	presenceWrites *CounterVec
	viewportFlush  *CounterVec
	joinStage      *HistogramVec
	liveSessions   *Gauge
	publishes      *CounterVec

	redisUp   *Gauge
	redisPing *Gauge
	dbStats   *GaugeVec
}

var (
	initOnce sync.Once
	instance *Metrics
)

// Init returns the process-wide metrics registry, or nil when metrics are disabled.
// Every method on *Metrics is safe to call on nil.
func Init(log *logger.Logger, enabled bool) *Metrics {
	if !enabled {
		return nil
	}
	initOnce.Do(func() {
		instance = New()
		if log != nil {
			log.Info("metrics initialized")
		}
	})
	return instance
}

// New builds an unregistered metrics set; tests use it directly.
func New() *Metrics {
	stageBuckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10}
	return &Metrics{
		apiRequests: NewCounterVec("tr_api_requests_total", "Total API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec(
			"tr_api_request_duration_seconds",
			"API request latency in seconds by method/route/status.",
			[]string{"method", "route", "status"},
			[]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		),
		apiInflight:      NewGauge("tr_api_inflight_requests", "In-flight API requests."),
		sessionWrites:    NewHistogramVec("tr_session_write_duration_seconds", "Transactional session writes by operation/status.", []string{"op", "status"}, nil),
		sessionConflicts: NewCounterVec("tr_session_write_conflicts_total", "Version compare-and-set conflicts by operation.", []string{"op"}),
		sessionRetries:   NewCounterVec("tr_session_write_retries_total", "Retried session writes by operation.", []string{"op"}),
		updates:          NewCounterVec("tr_sync_updates_total", "Session updates by delivery outcome.", []string{"delivery"}),
		droppedFields:    NewCounterVec("tr_sync_fields_dropped_total", "Fields removed by authority resolution.", []string{"field"}),
		hostOps:          NewCounterVec("tr_host_operations_total", "Host authority operations by outcome.", []string{"op", "status"}),
		presenceWrites:   NewCounterVec("tr_presence_writes_total", "Outbound presence writes by mode.", []string{"mode"}),
		viewportFlush:    NewCounterVec("tr_viewport_flushes_total", "Viewport flushes by status.", []string{"status"}),
		joinStage:        NewHistogramVec("tr_join_stage_seconds", "Time from join to each sync stage.", []string{"stage"}, stageBuckets),
		liveSessions:     NewGauge("tr_live_participant_sessions", "Participant sessions currently joined on this instance."),
		publishes:        NewCounterVec("tr_transport_publish_total", "Transport publishes by channel/status.", []string{"channel", "status"}),
		redisUp:          NewGauge("tr_redis_up", "Redis availability (1=up)."),
		redisPing:        NewGauge("tr_redis_ping_seconds", "Redis ping latency in seconds."),
		dbStats:          NewGaugeVec("tr_db_pool", "Database pool stats.", []string{"stat"}),
	}
}

type prometheusWriter interface {
	WritePrometheus(w io.Writer) error
}

func (m *Metrics) all() []prometheusWriter {
	return []prometheusWriter{
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.sessionWrites, m.sessionConflicts, m.sessionRetries,
		m.updates, m.droppedFields, m.hostOps, m.presenceWrites, m.viewportFlush,
		m.joinStage, m.liveSessions, m.publishes,
		m.redisUp, m.redisPing, m.dbStats,
	}
}

func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", m.WriteHTTP)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, pw := range m.all() {
		if err := pw.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route, status)
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) ObserveSessionWrite(op, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.sessionWrites.Observe(dur.Seconds(), op, status)
}

func (m *Metrics) IncSessionWriteConflict(op string) {
	if m == nil {
		return
	}
	m.sessionConflicts.Inc(op)
}

func (m *Metrics) IncSessionWriteRetry(op string) {
	if m == nil {
		return
	}
	m.sessionRetries.Inc(op)
}

// ObserveUpdate counts one applyUpdate call and every field the resolver removed from it.
func (m *Metrics) ObserveUpdate(delivery string, dropped []string) {
	if m == nil {
		return
	}
	m.updates.Inc(delivery)
	for _, f := range dropped {
		m.droppedFields.Inc(f)
	}
}

func (m *Metrics) ObserveHostOp(op, status string) {
	if m == nil {
		return
	}
	m.hostOps.Inc(op, status)
}

func (m *Metrics) IncPresenceWrite(mode string) {
	if m == nil {
		return
	}
	m.presenceWrites.Inc(mode)
}

func (m *Metrics) IncViewportFlush(status string) {
	if m == nil {
		return
	}
	m.viewportFlush.Inc(status)
}

func (m *Metrics) ObserveJoinStage(stage string, sinceJoin time.Duration) {
	if m == nil {
		return
	}
	m.joinStage.Observe(sinceJoin.Seconds(), stage)
}

func (m *Metrics) LiveSessionInc() {
	if m == nil {
		return
	}
	m.liveSessions.Inc()
}

func (m *Metrics) LiveSessionDec() {
	if m == nil {
		return
	}
	m.liveSessions.Dec()
}

func (m *Metrics) IncPublish(channel string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.publishes.Inc(channel, status)
}

// UpdateCount exposes the delivery counter for assertions.
func (m *Metrics) UpdateCount(delivery string) float64 {
	if m == nil {
		return 0
	}
	return m.updates.Value(delivery)
}

func (m *Metrics) APIRequestCount(method, route, status string) float64 {
	if m == nil {
		return 0
	}
	return m.apiRequests.Value(method, route, status)
}

func (m *Metrics) DroppedFieldCount(field string) float64 {
	if m == nil {
		return 0
	}
	return m.droppedFields.Value(field)
}

// StartPostgresCollector samples the gorm pool stats every interval.
func (m *Metrics) StartPostgresCollector(ctx context.Context, log *logger.Logger, db *gorm.DB, interval time.Duration) {
	if m == nil || db == nil {
		return
	}
	if log == nil {
		log = logger.Nop()
	}
	go every(ctx, interval, func() {
		sqlDB, err := db.DB()
		if err != nil {
			log.Warn("metrics: db stats unavailable", "error", err)
			return
		}
		stats := sqlDB.Stats()
		m.dbStats.Set(float64(stats.OpenConnections), "open_connections")
		m.dbStats.Set(float64(stats.InUse), "in_use")
		m.dbStats.Set(float64(stats.Idle), "idle")
		m.dbStats.Set(float64(stats.WaitCount), "wait_count")
		m.dbStats.Set(stats.WaitDuration.Seconds(), "wait_duration_seconds")
		m.dbStats.Set(float64(stats.MaxOpenConnections), "max_open_connections")
	})
}

// StartRedisCollector pings the shared client every interval. The client is
// owned by the caller.
func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb redis.UniversalClient, interval time.Duration) {
	if m == nil || rdb == nil {
		return
	}
	if log == nil {
		log = logger.Nop()
	}
	go every(ctx, interval, func() {
		start := time.Now()
		if err := rdb.Ping(ctx).Err(); err != nil {
			m.redisUp.Set(0)
			log.Warn("metrics: redis ping failed", "error", err)
			return
		}
		m.redisUp.Set(1)
		m.redisPing.Set(time.Since(start).Seconds())
	})
}

func every(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
