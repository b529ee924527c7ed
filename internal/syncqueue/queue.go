// Package syncqueue is the client-side holding area for test-result
// batches that failed to reach the server. Items persist in an embedded
// SQLite database so they survive restarts, and are replayed with bounded
// exponential backoff.
package syncqueue

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"vocabsync/internal/models"
)

// Syncer delivers one pending batch to the aggregation authority.
type Syncer interface {
	Deliver(ctx context.Context, item models.PendingSyncItem) (models.SyncResult, error)
}

// Policy bounds the retry behavior. The defaults are not load-bearing and
// may be tuned.
type Policy struct {
	MaxRetries int
	Backoff    []time.Duration
}

// DefaultPolicy retries three times, 1s/5s/15s after item creation.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		Backoff:    []time.Duration{time.Second, 5 * time.Second, 15 * time.Second},
	}
}

func (p Policy) delay(retryCount int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	if retryCount >= len(p.Backoff) {
		retryCount = len(p.Backoff) - 1
	}
	return p.Backoff[retryCount]
}

// Result reports one ProcessPending pass.
type Result struct {
	Succeeded int
	Failed    int
}

// Queue is a single-writer, single-reader durable queue. ProcessPending
// runs are serialized by a busy flag: an overlapping call returns
// immediately instead of double-submitting items mid-removal.
type Queue struct {
	db     *sql.DB
	policy Policy
	log    *zap.Logger
	busy   atomic.Bool

	// now is replaceable in tests.
	now func() time.Time

	// OnPermanentFailure is called when an item exhausts its retry budget
	// or hits a non-retryable rejection. This is the explicit data-loss
	// boundary; callers must surface it to the user.
	OnPermanentFailure func(item models.PendingSyncItem, err error)
}

// Open opens or creates the queue database at path.
func Open(path string, policy Policy, log *zap.Logger) (*Queue, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	q := &Queue{db: db, policy: policy, log: log, now: time.Now}
	if err := q.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return q, nil
}

func (q *Queue) Close() error {
	return q.db.Close()
}

func (q *Queue) migrate() error {
	_, err := q.db.Exec(`CREATE TABLE IF NOT EXISTS pending_sync_items (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		test_count INTEGER NOT NULL,
		correct_count INTEGER NOT NULL,
		points REAL NOT NULL,
		expected_version INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		retry_count INTEGER NOT NULL,
		last_error TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("migrate queue: %w", err)
	}
	return nil
}

// Enqueue persists a new pending item. The id is generated; retry_count
// starts at zero; timestamp is the creation instant that gates retries.
func (q *Queue) Enqueue(ctx context.Context, date string, testCount, correctCount int, points float64, expectedVersion int64, lastError string) error {
	item := models.PendingSyncItem{
		ID:              uuid.NewString(),
		Date:            date,
		TestCount:       testCount,
		CorrectCount:    correctCount,
		Points:          points,
		ExpectedVersion: expectedVersion,
		Timestamp:       q.now(),
		LastError:       lastError,
	}
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO pending_sync_items (id, date, test_count, correct_count, points, expected_version, timestamp, retry_count, last_error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		item.ID, item.Date, item.TestCount, item.CorrectCount, item.Points,
		item.ExpectedVersion, item.Timestamp.UTC().Format(time.RFC3339Nano), item.LastError,
	)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	q.log.Info("queued test result for later delivery",
		zap.String("id", item.ID), zap.String("date", item.Date))
	return nil
}

// Count returns the number of currently pending items.
func (q *Queue) Count(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_sync_items`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

// List returns all pending items, oldest first.
func (q *Queue) List(ctx context.Context) ([]models.PendingSyncItem, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, date, test_count, correct_count, points, expected_version, timestamp, retry_count, last_error
		 FROM pending_sync_items ORDER BY timestamp ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var items []models.PendingSyncItem
	for rows.Next() {
		var item models.PendingSyncItem
		var ts string
		if err := rows.Scan(&item.ID, &item.Date, &item.TestCount, &item.CorrectCount,
			&item.Points, &item.ExpectedVersion, &ts, &item.RetryCount, &item.LastError); err != nil {
			return nil, fmt.Errorf("list pending: %w", err)
		}
		if t, perr := time.Parse(time.RFC3339Nano, ts); perr == nil {
			item.Timestamp = t
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return items, nil
}

// ProcessPending attempts delivery of every eligible item. An item is
// eligible once now >= timestamp + backoff(retry_count); others stay
// queued untouched. On success the item is removed (only after confirmed
// delivery, so a lost response is safe to replay). On failure retry_count
// is bumped and last_error recorded; hitting the retry budget, or a
// permanent rejection (validation, frozen date), drops the item for good.
func (q *Queue) ProcessPending(ctx context.Context, syncer Syncer) (Result, error) {
	var res Result
	if !q.busy.CompareAndSwap(false, true) {
		// Another pass is still running; skip instead of overlapping.
		return res, nil
	}
	defer q.busy.Store(false)

	items, err := q.List(ctx)
	if err != nil {
		return res, err
	}

	now := q.now()
	for _, item := range items {
		if now.Before(item.Timestamp.Add(q.policy.delay(item.RetryCount))) {
			continue
		}

		_, err := syncer.Deliver(ctx, item)
		if err == nil {
			if derr := q.remove(ctx, item.ID); derr != nil {
				return res, derr
			}
			res.Succeeded++
			continue
		}

		item.RetryCount++
		item.LastError = err.Error()

		if models.IsPermanent(err) || item.RetryCount >= q.policy.MaxRetries {
			if derr := q.remove(ctx, item.ID); derr != nil {
				return res, derr
			}
			res.Failed++
			q.log.Error("dropping test result after delivery failure",
				zap.String("id", item.ID),
				zap.String("date", item.Date),
				zap.Int("retry_count", item.RetryCount),
				zap.Error(err))
			if q.OnPermanentFailure != nil {
				q.OnPermanentFailure(item, err)
			}
			continue
		}

		if uerr := q.markFailed(ctx, item); uerr != nil {
			return res, uerr
		}
		q.log.Warn("delivery failed, will retry",
			zap.String("id", item.ID),
			zap.Int("retry_count", item.RetryCount),
			zap.Error(err))
	}
	return res, nil
}

func (q *Queue) remove(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM pending_sync_items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove pending: %w", err)
	}
	return nil
}

func (q *Queue) markFailed(ctx context.Context, item models.PendingSyncItem) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE pending_sync_items SET retry_count = ?, last_error = ? WHERE id = ?`,
		item.RetryCount, item.LastError, item.ID)
	if err != nil {
		return fmt.Errorf("update pending: %w", err)
	}
	return nil
}
