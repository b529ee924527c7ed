package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"vocabsync/internal/models"
)

// scriptedSyncer fails a fixed number of deliveries, then succeeds.
type scriptedSyncer struct {
	failuresLeft int
	err          error
	delivered    []models.PendingSyncItem
}

func (s *scriptedSyncer) Deliver(_ context.Context, item models.PendingSyncItem) (models.SyncResult, error) {
	if s.failuresLeft > 0 {
		s.failuresLeft--
		return models.SyncResult{}, s.err
	}
	s.delivered = append(s.delivered, item)
	return models.SyncResult{
		Date:         item.Date,
		TotalCount:   item.TestCount,
		CorrectCount: item.CorrectCount,
		TotalPoints:  item.Points,
		Version:      1,
	}, nil
}

func openTestQueue(t *testing.T) (*Queue, *time.Time) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	q, err := Open(path, DefaultPolicy(), zap.NewNop())
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() {
		_ = q.Close()
	})
	now := time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }
	return q, &now
}

func enqueueOne(t *testing.T, q *Queue) models.PendingSyncItem {
	t.Helper()
	ctx := context.Background()
	if err := q.Enqueue(ctx, "2026-02-14", 10, 6, 15.0, 1, "connection refused"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	items, err := q.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	return items[0]
}

func TestEnqueueAndCount(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()

	item := enqueueOne(t, q)
	if item.ID == "" || item.RetryCount != 0 || item.LastError != "connection refused" {
		t.Fatalf("unexpected item: %+v", item)
	}

	n, err := q.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected count 1, got %d", n)
	}
}

func TestQueueSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	q, err := Open(path, DefaultPolicy(), zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := q.Enqueue(ctx, "2026-02-14", 1, 1, 1.0, 0, "timeout"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path, DefaultPolicy(), zap.NewNop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	n, err := reopened.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected item to survive reopen, got count %d", n)
	}
}

func TestProcessPendingHonorsBackoff(t *testing.T) {
	q, now := openTestQueue(t)
	ctx := context.Background()
	enqueueOne(t, q)

	syncer := &scriptedSyncer{}

	// Half a second after creation: not yet eligible, left untouched.
	*now = now.Add(500 * time.Millisecond)
	res, err := q.ProcessPending(ctx, syncer)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Succeeded != 0 || res.Failed != 0 || len(syncer.delivered) != 0 {
		t.Fatalf("item attempted before backoff elapsed: %+v", res)
	}

	// Exactly at the 1s boundary: eligible.
	*now = now.Add(500 * time.Millisecond)
	res, err = q.ProcessPending(ctx, syncer)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Succeeded != 1 || len(syncer.delivered) != 1 {
		t.Fatalf("item not attempted at backoff boundary: %+v", res)
	}

	n, _ := q.Count(ctx)
	if n != 0 {
		t.Fatalf("delivered item not removed, count %d", n)
	}
}

func TestProcessPendingRetriesThenSucceeds(t *testing.T) {
	q, now := openTestQueue(t)
	ctx := context.Background()
	enqueueOne(t, q)

	syncer := &scriptedSyncer{failuresLeft: 1, err: errors.New("network down")}

	*now = now.Add(time.Second)
	res, err := q.ProcessPending(ctx, syncer)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Succeeded != 0 || res.Failed != 0 {
		t.Fatalf("retryable failure miscounted: %+v", res)
	}

	items, _ := q.List(ctx)
	if len(items) != 1 || items[0].RetryCount != 1 || items[0].LastError != "network down" {
		t.Fatalf("failure not recorded: %+v", items)
	}

	// Next window (5s after creation): retry succeeds and the item goes.
	*now = now.Add(4 * time.Second)
	res, err = q.ProcessPending(ctx, syncer)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Succeeded != 1 {
		t.Fatalf("expected delivery on retry: %+v", res)
	}
	n, _ := q.Count(ctx)
	if n != 0 {
		t.Fatalf("expected empty queue, count %d", n)
	}
}

func TestProcessPendingDropsAfterRetryBudget(t *testing.T) {
	q, now := openTestQueue(t)
	ctx := context.Background()
	enqueueOne(t, q)

	var lost []models.PendingSyncItem
	q.OnPermanentFailure = func(item models.PendingSyncItem, err error) {
		lost = append(lost, item)
	}

	syncer := &scriptedSyncer{failuresLeft: 10, err: errors.New("still down")}

	// Walk through all three backoff windows: 1s, 5s, 15s.
	var last Result
	for _, offset := range []time.Duration{time.Second, 5 * time.Second, 15 * time.Second} {
		*now = now.Add(offset)
		res, err := q.ProcessPending(ctx, syncer)
		if err != nil {
			t.Fatalf("process: %v", err)
		}
		last = res
	}

	if last.Failed != 1 {
		t.Fatalf("expected permanent failure on third attempt, got %+v", last)
	}
	if len(lost) != 1 || lost[0].RetryCount != 3 {
		t.Fatalf("permanent-failure callback missing or wrong: %+v", lost)
	}
	n, _ := q.Count(ctx)
	if n != 0 {
		t.Fatalf("dropped item still queued, count %d", n)
	}
}

func TestProcessPendingDropsPermanentRejectionImmediately(t *testing.T) {
	q, now := openTestQueue(t)
	ctx := context.Background()
	enqueueOne(t, q)

	syncer := &scriptedSyncer{
		failuresLeft: 10,
		err:          fmt.Errorf("%w 2026-02-14", models.ErrFrozenDate),
	}

	*now = now.Add(time.Second)
	res, err := q.ProcessPending(ctx, syncer)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Failed != 1 {
		t.Fatalf("frozen-date rejection must drop on first attempt: %+v", res)
	}
	n, _ := q.Count(ctx)
	if n != 0 {
		t.Fatalf("expected empty queue, count %d", n)
	}
}

func TestProcessPendingSkipsWhileBusy(t *testing.T) {
	q, now := openTestQueue(t)
	ctx := context.Background()
	enqueueOne(t, q)
	*now = now.Add(time.Second)

	q.busy.Store(true)
	syncer := &scriptedSyncer{}
	res, err := q.ProcessPending(ctx, syncer)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Succeeded != 0 || len(syncer.delivered) != 0 {
		t.Fatalf("overlapping run was not skipped: %+v", res)
	}
	q.busy.Store(false)

	res, err = q.ProcessPending(ctx, syncer)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Succeeded != 1 {
		t.Fatalf("expected delivery once unblocked: %+v", res)
	}
}

func TestProcessPendingMixedBatch(t *testing.T) {
	q, now := openTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "2026-02-14", 10, 6, 15.0, 1, "timeout"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// Second item created a minute later stays outside its backoff window.
	*now = now.Add(time.Minute)
	if err := q.Enqueue(ctx, "2026-02-14", 5, 5, 12.5, 1, "timeout"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	syncer := &scriptedSyncer{}
	res, err := q.ProcessPending(ctx, syncer)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Succeeded != 1 {
		t.Fatalf("expected only the aged item delivered: %+v", res)
	}
	n, _ := q.Count(ctx)
	if n != 1 {
		t.Fatalf("expected young item still queued, count %d", n)
	}
}
