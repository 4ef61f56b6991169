package aggregates

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/tarotroom-backend/internal/data/repos"
	repotest "github.com/yungbote/tarotroom-backend/internal/data/repos/testutil"
	domainagg "github.com/yungbote/tarotroom-backend/internal/domain/aggregates"
	types "github.com/yungbote/tarotroom-backend/internal/domain/session"
	"github.com/yungbote/tarotroom-backend/internal/platform/dbctx"
)

type hostFixture struct {
	db       *gorm.DB
	agg      domainagg.SessionHostAggregate
	observer *spyObserver
	sessions repos.ReadingSessionRepo
	racing   *racingSessions
	session  *types.ReadingSession
	now      time.Time
}

func newHostFixture(t *testing.T) *hostFixture {
	t.Helper()
	db := repotest.DB(t)
	ctx := context.Background()
	log := repotest.Logger(t)

	f := &hostFixture{
		db:       db,
		observer: &spyObserver{},
		sessions: repos.NewReadingSessionRepo(db, log),
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.racing = &racingSessions{ReadingSessionRepo: f.sessions}
	f.session = repotest.SeedSession(t, ctx, db, "user-host")
	repotest.SeedParticipant(t, ctx, db, f.session.ID, types.Identity{UserID: "user-host"}, types.RoleHost)
	repotest.SeedParticipant(t, ctx, db, f.session.ID, types.Identity{UserID: "user-42"}, types.RoleParticipant)
	repotest.SeedParticipant(t, ctx, db, f.session.ID, types.Identity{UserID: "user-7"}, types.RoleReader)
	repotest.SeedParticipant(t, ctx, db, f.session.ID, types.Identity{AnonymousID: "anon-1"}, types.RoleParticipant)

	f.agg = NewSessionHostAggregate(SessionHostAggregateDeps{
		Base: BaseDeps{
			DB:       db,
			Observer: f.observer,
			Now:      func() time.Time { return f.now },
		},
		Sessions:     f.racing,
		Participants: repos.NewParticipantRepo(db, log),
	})
	return f
}

func (f *hostFixture) reload(t *testing.T) *types.ReadingSession {
	t.Helper()
	row, err := f.sessions.GetByID(dbctx.Context{Ctx: context.Background()}, f.session.ID)
	if err != nil || row == nil {
		t.Fatalf("reload session: row=%v err=%v", row, err)
	}
	return row
}

func (f *hostFixture) transfer(caller, target string, at time.Time) (domainagg.SessionHostResult, error) {
	return f.agg.TransferHost(context.Background(), domainagg.TransferHostInput{
		SessionID:    f.session.ID,
		CallerUserID: caller,
		TargetUserID: target,
		Cooldown:     60 * time.Second,
		At:           at,
	})
}

// racingSessions simulates a concurrent committed writer by bumping the row
// version right after each of the next `races` reads.
type racingSessions struct {
	repos.ReadingSessionRepo
	races int
}

func (r *racingSessions) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ReadingSession, error) {
	row, err := r.ReadingSessionRepo.GetByID(dbc, id)
	if err != nil || row == nil || r.races == 0 {
		return row, err
	}
	r.races--
	if err := dbc.Tx.WithContext(dbc.Ctx).
		Model(&types.ReadingSession{}).
		Where("id = ?", id).
		Update("version", gorm.Expr("version + 1")).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func TestSessionHostTransferThenCooldown(t *testing.T) {
	f := newHostFixture(t)

	res, err := f.transfer("user-host", "user-42", f.now)
	if err != nil {
		t.Fatalf("TransferHost: %v", err)
	}
	if !res.Changed || res.HostUserID != "user-42" || res.Version != 1 {
		t.Fatalf("TransferHost result: %+v", res)
	}
	row := f.reload(t)
	hist, _ := row.History()
	if row.Host() != "user-42" || len(hist) != 1 || hist[0].Type != domainagg.TransferManual || hist[0].From != "user-host" {
		t.Fatalf("after transfer: host=%q history=%+v", row.Host(), hist)
	}
	if row.OriginalHost() != "user-host" {
		t.Fatalf("original host changed: %q", row.OriginalHost())
	}

	_, err = f.transfer("user-42", "user-7", f.now.Add(10*time.Second))
	if !errors.Is(err, domainagg.ErrTransferCooldown) {
		t.Fatalf("second transfer: want cooldown got=%v", err)
	}
	if !domainagg.IsCode(err, domainagg.CodePreconditionFailed) {
		t.Fatalf("second transfer code: got=%q", domainagg.CodeOf(err))
	}
	if row := f.reload(t); row.Host() != "user-42" || row.Version != 1 {
		t.Fatalf("cooldown must leave state unchanged: host=%q version=%d", row.Host(), row.Version)
	}

	if _, err := f.transfer("user-42", "user-7", f.now.Add(61*time.Second)); err != nil {
		t.Fatalf("transfer after cooldown: %v", err)
	}
}

func TestSessionHostTransferRejectsBadTargets(t *testing.T) {
	f := newHostFixture(t)

	cases := []struct {
		name   string
		caller string
		target string
		want   error
	}{
		{"anonymous target", "user-host", "anon-1", domainagg.ErrTransferTargetAnonymous},
		{"absent target", "user-host", "user-gone", domainagg.ErrTransferTargetAbsent},
		{"non-host caller", "user-42", "user-7", domainagg.ErrNotCurrentHost},
		{"empty target", "user-host", "", domainagg.ErrTransferTargetAnonymous},
	}
	for _, tc := range cases {
		_, err := f.transfer(tc.caller, tc.target, f.now)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: want=%v got=%v", tc.name, tc.want, err)
		}
	}
	if row := f.reload(t); row.Host() != "user-host" || row.Version != 0 {
		t.Fatalf("rejected transfers must not write: host=%q version=%d", row.Host(), row.Version)
	}
}

func TestSessionHostOfferAcceptAndReject(t *testing.T) {
	f := newHostFixture(t)
	ctx := context.Background()

	if _, err := f.agg.OfferHost(ctx, domainagg.OfferHostInput{
		SessionID: f.session.ID, CallerUserID: "user-host", TargetUserID: "user-42", TTL: 30 * time.Second, At: f.now,
	}); err != nil {
		t.Fatalf("OfferHost: %v", err)
	}
	pending, _ := f.reload(t).Pending()
	if pending == nil || pending.ToUserID != "user-42" || pending.FromUserID != "user-host" {
		t.Fatalf("pending: %+v", pending)
	}

	_, err := f.agg.TransferHost(ctx, domainagg.TransferHostInput{
		SessionID: f.session.ID, CallerUserID: "user-7", ViaPendingOffer: true, Type: domainagg.TransferAutoReaderJoin, At: f.now,
	})
	if !errors.Is(err, domainagg.ErrNoPendingOffer) {
		t.Fatalf("accept by non-target: want no pending offer got=%v", err)
	}

	res, err := f.agg.TransferHost(ctx, domainagg.TransferHostInput{
		SessionID: f.session.ID, CallerUserID: "user-42", ViaPendingOffer: true, Type: domainagg.TransferAutoReaderJoin,
		Cooldown: 60 * time.Second, At: f.now.Add(5 * time.Second),
	})
	if err != nil || res.HostUserID != "user-42" {
		t.Fatalf("accept: res=%+v err=%v", res, err)
	}
	row := f.reload(t)
	if p, _ := row.Pending(); p != nil {
		t.Fatalf("accept must clear pending, got %+v", p)
	}
	if last := row.LastTransfer(); last == nil || last.Type != domainagg.TransferAutoReaderJoin {
		t.Fatalf("last transfer: %+v", last)
	}

	// new host offers back, target rejects
	if _, err := f.agg.OfferHost(ctx, domainagg.OfferHostInput{
		SessionID: f.session.ID, CallerUserID: "user-42", TargetUserID: "user-7", TTL: 30 * time.Second, At: f.now,
	}); err != nil {
		t.Fatalf("OfferHost back: %v", err)
	}
	if _, err := f.agg.RejectOffer(ctx, domainagg.RejectOfferInput{SessionID: f.session.ID, CallerUserID: "user-host"}); !errors.Is(err, domainagg.ErrNotOfferParty) {
		t.Fatalf("reject by outsider: want not offer party got=%v", err)
	}
	res, err = f.agg.RejectOffer(ctx, domainagg.RejectOfferInput{SessionID: f.session.ID, CallerUserID: "user-7"})
	if err != nil || !res.Changed {
		t.Fatalf("RejectOffer: res=%+v err=%v", res, err)
	}
	row = f.reload(t)
	if p, _ := row.Pending(); p != nil || row.Host() != "user-42" {
		t.Fatalf("after reject: pending=%+v host=%q", p, row.Host())
	}
}

func TestSessionHostExpiredOfferCannotBeAccepted(t *testing.T) {
	f := newHostFixture(t)
	ctx := context.Background()
	if _, err := f.agg.OfferHost(ctx, domainagg.OfferHostInput{
		SessionID: f.session.ID, CallerUserID: "user-host", TargetUserID: "user-42", TTL: 30 * time.Second, At: f.now,
	}); err != nil {
		t.Fatalf("OfferHost: %v", err)
	}
	_, err := f.agg.TransferHost(ctx, domainagg.TransferHostInput{
		SessionID: f.session.ID, CallerUserID: "user-42", ViaPendingOffer: true, At: f.now.Add(31 * time.Second),
	})
	if !errors.Is(err, domainagg.ErrNoPendingOffer) {
		t.Fatalf("expired accept: want no pending offer got=%v", err)
	}
}

func TestSessionHostReclaimBypassesCooldown(t *testing.T) {
	f := newHostFixture(t)
	ctx := context.Background()
	if _, err := f.transfer("user-host", "user-42", f.now); err != nil {
		t.Fatalf("TransferHost: %v", err)
	}

	_, err := f.agg.ReclaimHost(ctx, domainagg.ReclaimHostInput{SessionID: f.session.ID, CallerUserID: "user-42", At: f.now})
	if !errors.Is(err, domainagg.ErrNotOriginalHost) {
		t.Fatalf("reclaim by non-founder: want not original host got=%v", err)
	}

	res, err := f.agg.ReclaimHost(ctx, domainagg.ReclaimHostInput{SessionID: f.session.ID, CallerUserID: "user-host", At: f.now.Add(time.Second)})
	if err != nil || !res.Changed || res.HostUserID != "user-host" {
		t.Fatalf("ReclaimHost: res=%+v err=%v", res, err)
	}
	hist, _ := f.reload(t).History()
	if len(hist) != 2 || hist[1].Type != domainagg.TransferAutoReclaim || hist[1].From != "user-42" {
		t.Fatalf("history after reclaim: %+v", hist)
	}

	res, err = f.agg.ReclaimHost(ctx, domainagg.ReclaimHostInput{SessionID: f.session.ID, CallerUserID: "user-host", At: f.now.Add(2 * time.Second)})
	if err != nil || res.Changed {
		t.Fatalf("reclaim while already host: want unchanged success got res=%+v err=%v", res, err)
	}
}

func TestSessionHostConcurrentWriterLosesCAS(t *testing.T) {
	f := newHostFixture(t)
	f.racing.races = 1

	_, err := f.transfer("user-host", "user-42", f.now)
	if !errors.Is(err, domainagg.ErrHostConflict) || !domainagg.IsCode(err, domainagg.CodeConflict) {
		t.Fatalf("raced transfer: want host conflict got=%v", err)
	}
	if got := f.observer.conflicts(); got != 1 {
		t.Fatalf("observed conflicts: want=1 got=%d", got)
	}
	if row := f.reload(t); row.Host() != "user-host" {
		t.Fatalf("lost CAS must not change host: %q", row.Host())
	}
}

func TestSessionHostReclaimRetriesLostCAS(t *testing.T) {
	f := newHostFixture(t)
	ctx := context.Background()
	if _, err := f.transfer("user-host", "user-42", f.now); err != nil {
		t.Fatalf("TransferHost: %v", err)
	}

	f.racing.races = 2
	res, err := f.agg.ReclaimHost(ctx, domainagg.ReclaimHostInput{SessionID: f.session.ID, CallerUserID: "user-host", At: f.now})
	if err != nil || res.HostUserID != "user-host" {
		t.Fatalf("reclaim with two lost races: res=%+v err=%v", res, err)
	}

	if _, err := f.transfer("user-host", "user-42", f.now.Add(2*time.Minute)); err != nil {
		t.Fatalf("TransferHost again: %v", err)
	}
	f.racing.races = 3
	_, err = f.agg.ReclaimHost(ctx, domainagg.ReclaimHostInput{SessionID: f.session.ID, CallerUserID: "user-host", At: f.now, MaxAttempts: 3})
	if !errors.Is(err, domainagg.ErrHostConflict) {
		t.Fatalf("reclaim exhausting retries: want host conflict got=%v", err)
	}
}

func TestSessionHostEndSession(t *testing.T) {
	f := newHostFixture(t)
	ctx := context.Background()

	if _, err := f.agg.EndSession(ctx, domainagg.EndSessionInput{SessionID: f.session.ID, CallerUserID: "user-42"}); !errors.Is(err, domainagg.ErrNotCurrentHost) {
		t.Fatalf("end by guest: want not host got=%v", err)
	}
	res, err := f.agg.EndSession(ctx, domainagg.EndSessionInput{SessionID: f.session.ID, CallerUserID: "user-host"})
	if err != nil || !res.Changed {
		t.Fatalf("EndSession: res=%+v err=%v", res, err)
	}
	if f.reload(t).IsActive {
		t.Fatalf("session should be inactive")
	}
	_, err = f.transfer("user-host", "user-42", f.now)
	if !errors.Is(err, domainagg.ErrSessionClosed) || !domainagg.IsCode(err, domainagg.CodePreconditionFailed) {
		t.Fatalf("transfer on ended session: want closed got=%v", err)
	}
}

func TestSessionHostClearPendingFor(t *testing.T) {
	f := newHostFixture(t)
	ctx := context.Background()
	if _, err := f.agg.OfferHost(ctx, domainagg.OfferHostInput{
		SessionID: f.session.ID, CallerUserID: "user-host", TargetUserID: "user-42", TTL: time.Minute, At: f.now,
	}); err != nil {
		t.Fatalf("OfferHost: %v", err)
	}
	res, err := f.agg.ClearPendingFor(ctx, domainagg.ClearPendingInput{SessionID: f.session.ID, UserID: "user-7"})
	if err != nil || res.Changed {
		t.Fatalf("clear for non-target: res=%+v err=%v", res, err)
	}
	res, err = f.agg.ClearPendingFor(ctx, domainagg.ClearPendingInput{SessionID: f.session.ID, UserID: "user-42"})
	if err != nil || !res.Changed {
		t.Fatalf("clear for target: res=%+v err=%v", res, err)
	}
}
