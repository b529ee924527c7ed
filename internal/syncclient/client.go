// Package syncclient is the device-side half of the stats protocol: it
// applies optimistic local updates, delivers result batches to the sync
// API, falls back to the offline queue on transient failures, and
// reconciles local summaries against server fetches.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"vocabsync/internal/caldate"
	"vocabsync/internal/models"
	"vocabsync/internal/reconcile"
	"vocabsync/internal/syncqueue"
)

// ResolutionOptimistic tags a locally applied value not yet confirmed by
// the server. The version on such an entry is the last server version the
// client saw, keeping speculative and authoritative state distinguishable.
const ResolutionOptimistic = "optimistic"

// Client talks to one user's sync API endpoint.
type Client struct {
	baseURL string
	userID  string
	http    *http.Client
	queue   *syncqueue.Queue
	cal     *caldate.Calendar
	log     *zap.Logger

	mu    sync.Mutex
	local map[string]models.SyncResult
}

func New(baseURL, userID string, queue *syncqueue.Queue, cal *caldate.Calendar, log *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		userID:  userID,
		http:    &http.Client{Timeout: 15 * time.Second},
		queue:   queue,
		cal:     cal,
		log:     log,
		local:   make(map[string]models.SyncResult),
	}
}

// SubmitResult records one completed test session. The local summary is
// updated optimistically first, then delivery is attempted; a transient
// delivery failure parks the batch in the offline queue and still reports
// success to the caller. Validation and frozen-date rejections are
// returned directly.
func (c *Client) SubmitResult(ctx context.Context, testCount, correctCount int, points float64) (models.SyncResult, error) {
	if testCount < 0 || correctCount < 0 || correctCount > testCount || points < 0 {
		return models.SyncResult{}, fmt.Errorf("%w: count=%d correct=%d points=%g",
			models.ErrValidation, testCount, correctCount, points)
	}

	date := c.cal.Today()
	expectedVersion := c.versionFor(date)

	optimistic, err := c.applyOptimistic(date, testCount, correctCount, points)
	if err != nil {
		return models.SyncResult{}, err
	}

	_, offsetSecs := time.Now().Zone()
	req := models.SyncRequest{
		TestCount:           testCount,
		CorrectCount:        correctCount,
		Points:              points,
		ClientDate:          date,
		TimezoneOffsetHours: offsetSecs / 3600,
		ExpectedVersion:     expectedVersion,
	}

	result, err := c.deliver(ctx, req)
	if err == nil {
		c.applyAuthoritative(result)
		return result, nil
	}
	if models.IsPermanent(err) {
		return models.SyncResult{}, err
	}

	// Transient: park the batch for replay. The session "succeeds"
	// optimistically; PendingCount exposes the deferred delivery.
	c.log.Warn("delivery failed, queuing for retry", zap.String("date", date), zap.Error(err))
	if qerr := c.queue.Enqueue(ctx, date, testCount, correctCount, points, expectedVersion, err.Error()); qerr != nil {
		return models.SyncResult{}, qerr
	}
	return optimistic, nil
}

// Deliver implements syncqueue.Syncer for queued batches. The item's date
// travels as an explicit test_date so that a batch replayed after its day
// elapsed is rejected by the server's freeze guard instead of polluting a
// later date.
func (c *Client) Deliver(ctx context.Context, item models.PendingSyncItem) (models.SyncResult, error) {
	_, offsetSecs := time.Now().Zone()
	result, err := c.deliver(ctx, models.SyncRequest{
		TestCount:           item.TestCount,
		CorrectCount:        item.CorrectCount,
		Points:              item.Points,
		ClientDate:          c.cal.Today(),
		TimezoneOffsetHours: offsetSecs / 3600,
		ExpectedVersion:     item.ExpectedVersion,
		TestDate:            item.Date,
	})
	if err != nil {
		return result, err
	}
	c.applyAuthoritative(result)
	return result, nil
}

func (c *Client) deliver(ctx context.Context, req models.SyncRequest) (models.SyncResult, error) {
	var result models.SyncResult

	body, err := json.Marshal(req)
	if err != nil {
		return result, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sync", bytes.NewReader(body))
	if err != nil {
		return result, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-User-Id", c.userID)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return result, fmt.Errorf("sync request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return result, fmt.Errorf("decode sync response: %w", err)
		}
		return result, nil
	case resp.StatusCode == http.StatusBadRequest:
		return result, fmt.Errorf("%w: %s", models.ErrValidation, readBody(resp.Body))
	case resp.StatusCode == http.StatusConflict:
		return result, fmt.Errorf("%w: %s", models.ErrFrozenDate, readBody(resp.Body))
	default:
		return result, fmt.Errorf("sync rejected with status %d", resp.StatusCode)
	}
}

func readBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return string(b)
}

// Refresh fetches the server's summaries and reconciles the local view.
func (c *Client) Refresh(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/stats/summaries", nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("X-User-Id", c.userID)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("fetch summaries: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch summaries: status %d", resp.StatusCode)
	}

	var server []models.DailySummary
	if err := json.NewDecoder(resp.Body).Decode(&server); err != nil {
		return fmt.Errorf("decode summaries: %w", err)
	}

	c.mu.Lock()
	c.local = reconcile.Resolve(c.local, server)
	c.mu.Unlock()
	return nil
}

// ProcessPending replays the offline queue once.
func (c *Client) ProcessPending(ctx context.Context) (syncqueue.Result, error) {
	return c.queue.ProcessPending(ctx, c)
}

// PendingCount is the queue depth, for UI display.
func (c *Client) PendingCount(ctx context.Context) (int, error) {
	return c.queue.Count(ctx)
}

// Start replays the queue immediately (session start) and then on every
// tick while ctx lives. The queue itself never acts autonomously.
func (c *Client) Start(ctx context.Context, interval time.Duration) {
	go func() {
		c.replay(ctx)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.replay(ctx)
			}
		}
	}()
}

func (c *Client) replay(ctx context.Context) {
	res, err := c.queue.ProcessPending(ctx, c)
	if err != nil {
		c.log.Error("queue replay failed", zap.Error(err))
		return
	}
	if res.Succeeded > 0 || res.Failed > 0 {
		c.log.Info("queue replay finished",
			zap.Int("succeeded", res.Succeeded), zap.Int("failed", res.Failed))
	}
}

// Summary returns the client's current view for a date.
func (c *Client) Summary(date string) (models.SyncResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.local[date]
	return s, ok
}

// Summaries returns a copy of the client's current view.
func (c *Client) Summaries() map[string]models.SyncResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]models.SyncResult, len(c.local))
	for k, v := range c.local {
		out[k] = v
	}
	return out
}

func (c *Client) versionFor(date string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.local[date]; ok {
		return s.Version
	}
	return 0
}

// applyOptimistic folds a session into the local view before the server
// confirms it. Past dates are refused; historical days are immutable on
// the client too, though the server's guard remains authoritative.
func (c *Client) applyOptimistic(date string, testCount, correctCount int, points float64) (models.SyncResult, error) {
	if c.cal.IsPast(date) {
		return models.SyncResult{}, fmt.Errorf("%w %s", models.ErrFrozenDate, date)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.local[date]
	cur.Date = date
	cur.TotalCount += testCount
	cur.CorrectCount += correctCount
	cur.TotalPoints += points
	cur.Resolution = ResolutionOptimistic
	c.local[date] = cur
	return cur, nil
}

// applyAuthoritative replaces the speculative entry with the server's
// recomputed summary.
func (c *Client) applyAuthoritative(result models.SyncResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local[result.Date] = result
}
