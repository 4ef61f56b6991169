package aggregates

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	domainagg "github.com/yungbote/tarotroom-backend/internal/domain/aggregates"
	"github.com/yungbote/tarotroom-backend/internal/platform/dbctx"
	"github.com/yungbote/tarotroom-backend/internal/platform/logger"
)

// TxRunner runs fn inside one database transaction. Returning an error from fn
// rolls the transaction back.
type TxRunner func(ctx context.Context, fn func(dbc dbctx.Context) error) error

// GormTx runs aggregate writes in gorm transactions on db.
func GormTx(db *gorm.DB) TxRunner {
	return func(ctx context.Context, fn func(dbc dbctx.Context) error) error {
		if db == nil {
			return domainagg.NewError(domainagg.CodeInternal, "aggregate.tx", "transaction runner has nil db", nil)
		}
		return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(dbctx.Context{Ctx: ctx, Tx: tx})
		})
	}
}

type BaseDeps struct {
	DB       *gorm.DB
	Log      *logger.Logger
	Tx       TxRunner
	Observer WriteObserver
	// Now is the aggregate clock; tests pin it.
	Now func() time.Time
}

func (d BaseDeps) withDefaults() BaseDeps {
	if d.Tx == nil {
		d.Tx = GormTx(d.DB)
	}
	if d.Observer == nil {
		d.Observer = discardObserver{}
	}
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	return d
}

// executeWrite runs one attempt of an aggregate write and reports it.
func executeWrite(ctx context.Context, deps BaseDeps, op string, attempt int, fn func(dbc dbctx.Context) error) error {
	start := time.Now()
	deps = deps.withDefaults()
	op = strings.TrimSpace(op)
	if op == "" {
		op = "aggregate.write"
	}
	err := MapError(op, deps.Tx(ctx, fn))
	deps.Observer.ObserveWrite(WriteReport{
		Op:       op,
		Status:   writeStatus(err),
		Attempt:  attempt,
		Duration: time.Since(start),
	})
	return err
}

// executeWriteWithRetry re-runs fn in a fresh transaction while it loses
// version races, at most attempts times.
func executeWriteWithRetry(ctx context.Context, deps BaseDeps, op string, attempts int, fn func(dbc dbctx.Context) error) error {
	attempts = max(attempts, 1)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = executeWrite(ctx, deps, op, attempt, fn)
		if !domainagg.IsCode(err, domainagg.CodeConflict) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func writeStatus(err error) string {
	if err == nil {
		return "success"
	}
	if code := domainagg.CodeOf(err); code != "" {
		return string(code)
	}
	if code := domainagg.CodeOf(MapError("aggregate.status", err)); code != "" {
		return string(code)
	}
	return "failure"
}
