package syncclient

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"vocabsync/internal/cache"
	"vocabsync/internal/caldate"
	"vocabsync/internal/handlers"
	"vocabsync/internal/middleware/ratelimit"
	"vocabsync/internal/models"
	"vocabsync/internal/services"
	"vocabsync/internal/store"
	"vocabsync/internal/syncqueue"
)

// harness runs the real API in-process behind an outage switch, so the
// client's offline path can be exercised without a network.
type harness struct {
	client *Client
	queue  *syncqueue.Queue
	stats  *services.StatsService
	now    *time.Time
	down   *atomic.Bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	db, err := sql.Open("sqlite", filepath.Join(dir, "server.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	st := store.New(db, "sqlite")
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	now := time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)
	cal, err := caldate.NewWithClock("UTC", func() time.Time { return now })
	if err != nil {
		t.Fatalf("new calendar: %v", err)
	}

	log := zap.NewNop()
	stats := services.NewStatsService(st, cal, log)
	h := handlers.NewHandler(stats, ratelimit.NewRateLimiter(), cache.New(nil), log, db.Ping)

	var down atomic.Bool
	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if down.Load() {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "simulated outage")
			}
			return next(c)
		}
	})
	h.Register(e)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	// Zero backoff keeps the test clock-free; the schedule itself is
	// covered by the syncqueue tests.
	queue, err := syncqueue.Open(filepath.Join(dir, "queue.db"),
		syncqueue.Policy{MaxRetries: 3, Backoff: []time.Duration{0, 0, 0}}, log)
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() {
		_ = queue.Close()
	})

	return &harness{
		client: New(srv.URL, "u1", queue, cal, log),
		queue:  queue,
		stats:  stats,
		now:    &now,
		down:   &down,
	}
}

func TestSubmitResultDeliversImmediately(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	result, err := h.client.SubmitResult(ctx, 10, 6, 15.0)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Version != 1 || result.TotalCount != 10 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Resolution == ResolutionOptimistic {
		t.Fatalf("online submit must return the authoritative value")
	}

	n, err := h.client.PendingCount(ctx)
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected empty queue, got %d", n)
	}
}

func TestSubmitResultQueuesDuringOutage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.down.Store(true)
	result, err := h.client.SubmitResult(ctx, 10, 6, 15.0)
	if err != nil {
		t.Fatalf("offline submit must succeed optimistically: %v", err)
	}
	if result.Resolution != ResolutionOptimistic {
		t.Fatalf("expected optimistic result, got %+v", result)
	}
	if result.TotalCount != 10 || result.CorrectCount != 6 {
		t.Fatalf("optimistic totals wrong: %+v", result)
	}
	if result.Version != 0 {
		t.Fatalf("speculative entry must keep the last confirmed version: %+v", result)
	}

	n, _ := h.client.PendingCount(ctx)
	if n != 1 {
		t.Fatalf("expected 1 queued item, got %d", n)
	}

	// Recovery: replay drains the queue and the local view turns
	// authoritative.
	h.down.Store(false)
	res, err := h.client.ProcessPending(ctx)
	if err != nil {
		t.Fatalf("process pending: %v", err)
	}
	if res.Succeeded != 1 || res.Failed != 0 {
		t.Fatalf("unexpected replay result: %+v", res)
	}

	sum, ok := h.client.Summary("2026-02-14")
	if !ok {
		t.Fatalf("missing local summary")
	}
	if sum.Version != 1 || sum.TotalCount != 10 || sum.Resolution == ResolutionOptimistic {
		t.Fatalf("expected authoritative summary after replay: %+v", sum)
	}

	n, _ = h.client.PendingCount(ctx)
	if n != 0 {
		t.Fatalf("queue not drained, count %d", n)
	}
}

func TestQueuedBatchForElapsedDayIsRejectedPermanently(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var lost []models.PendingSyncItem
	h.queue.OnPermanentFailure = func(item models.PendingSyncItem, err error) {
		lost = append(lost, item)
	}

	h.down.Store(true)
	if _, err := h.client.SubmitResult(ctx, 10, 6, 15.0); err != nil {
		t.Fatalf("offline submit: %v", err)
	}

	// The outage outlives the day. After canonical midnight the batch's
	// date is frozen server-side; the replay must drop it, not smear it
	// into the new day.
	*h.now = h.now.Add(24 * time.Hour)
	if _, err := h.stats.FreezePast(ctx); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	h.down.Store(false)

	res, err := h.client.ProcessPending(ctx)
	if err != nil {
		t.Fatalf("process pending: %v", err)
	}
	if res.Failed != 1 || res.Succeeded != 0 {
		t.Fatalf("expected permanent failure, got %+v", res)
	}
	if len(lost) != 1 || lost[0].Date != "2026-02-14" {
		t.Fatalf("loss not surfaced: %+v", lost)
	}

	// The new day must be untouched.
	if _, found, err := h.stats.Summary(ctx, "u1", "2026-02-15"); err != nil || found {
		t.Fatalf("replayed batch leaked into the new day: found=%v err=%v", found, err)
	}
}

func TestSubmitResultSurfacesValidationDirectly(t *testing.T) {
	h := newHarness(t)

	if _, err := h.client.SubmitResult(context.Background(), 5, 6, 1.0); err == nil {
		t.Fatalf("expected validation error")
	}
	n, _ := h.client.PendingCount(context.Background())
	if n != 0 {
		t.Fatalf("caller bugs must not be queued, count %d", n)
	}
}

func TestRefreshReconcilesStaleLocalView(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Another device writes twice behind this client's back.
	otherQueue, err := syncqueue.Open(filepath.Join(t.TempDir(), "other.db"), syncqueue.DefaultPolicy(), zap.NewNop())
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	defer otherQueue.Close()
	other := New(h.client.baseURL, "u1", otherQueue, h.client.cal, zap.NewNop())
	if _, err := other.SubmitResult(ctx, 10, 6, 15.0); err != nil {
		t.Fatalf("other device submit: %v", err)
	}
	if _, err := other.SubmitResult(ctx, 10, 9, 27.0); err != nil {
		t.Fatalf("other device submit: %v", err)
	}

	if err := h.client.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	sum, ok := h.client.Summary("2026-02-14")
	if !ok {
		t.Fatalf("missing summary after refresh")
	}
	if sum.TotalCount != 20 || sum.CorrectCount != 15 || sum.Version != 2 {
		t.Fatalf("stale view after refresh: %+v", sum)
	}
	if sum.ConflictDetected {
		t.Fatalf("no local entry existed, adoption must be clean: %+v", sum)
	}
}
