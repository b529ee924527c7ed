package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"vocabsync/internal/caldate"
	"vocabsync/internal/metrics"
	"vocabsync/internal/models"
	"vocabsync/internal/store"
)

// StatsService is the aggregation authority: it owns all writes to the
// test log and the daily summaries.
type StatsService struct {
	store *store.Store
	cal   *caldate.Calendar
	log   *zap.Logger
}

func NewStatsService(st *store.Store, cal *caldate.Calendar, log *zap.Logger) *StatsService {
	return &StatsService{store: st, cal: cal, log: log}
}

// RecordAndSync ingests one completed test session for userID and returns
// the recomputed summary.
//
// The server's canonical date is authoritative for bucketing. A differing
// client_date is logged and counted, never trusted. An explicit test_date
// naming an elapsed day is rejected with models.ErrFrozenDate; a future
// one with models.ErrValidation.
//
// expected_version enables conflict detection: when it is >= 0 and differs
// from the pre-write version, the result is flagged conflict-resolved. No
// data is lost either way — the summary is recomputed from the full log,
// which absorbs concurrent writers. Pass -1 to skip the check.
func (s *StatsService) RecordAndSync(ctx context.Context, userID string, req models.SyncRequest) (models.SyncResult, error) {
	var result models.SyncResult

	if req.TestCount < 0 || req.CorrectCount < 0 || req.CorrectCount > req.TestCount || req.Points < 0 {
		return result, fmt.Errorf("%w: count=%d correct=%d points=%g",
			models.ErrValidation, req.TestCount, req.CorrectCount, req.Points)
	}

	serverDate := s.cal.Today()

	targetDate := serverDate
	if req.TestDate != "" {
		if !caldate.Valid(req.TestDate) {
			return result, fmt.Errorf("%w: bad test_date %q", models.ErrValidation, req.TestDate)
		}
		if s.cal.IsPast(req.TestDate) {
			metrics.FrozenRejectionsTotal.Inc()
			return result, fmt.Errorf("%w %s", models.ErrFrozenDate, req.TestDate)
		}
		if req.TestDate != serverDate {
			return result, fmt.Errorf("%w: test_date %q is in the future", models.ErrValidation, req.TestDate)
		}
		targetDate = req.TestDate
	}

	if req.ClientDate != "" && req.ClientDate != serverDate {
		// Diagnostic only: the client's local midnight disagrees with the
		// canonical zone. Bucketing stays on the server date.
		metrics.TimezoneMismatchTotal.Inc()
		s.log.Warn("client date differs from canonical date",
			zap.String("user_id", userID),
			zap.String("client_date", req.ClientDate),
			zap.String("server_date", serverDate),
			zap.Int("timezone_offset_hours", req.TimezoneOffsetHours))
	}

	summary, err := s.store.IngestResult(ctx, models.TestRecord{
		UserID:         userID,
		TestDate:       targetDate,
		TestCount:      req.TestCount,
		CorrectCount:   req.CorrectCount,
		Points:         req.Points,
		TimezoneOffset: req.TimezoneOffsetHours,
		CreatedAt:      time.Now(),
	})
	if err != nil {
		return result, err
	}

	result = models.SyncResult{
		Date:         summary.Date,
		TotalCount:   summary.TotalCount,
		CorrectCount: summary.CorrectCount,
		TotalPoints:  summary.TotalPoints,
		Version:      summary.Version,
	}

	preVersion := summary.Version - 1
	if req.ExpectedVersion >= 0 && req.ExpectedVersion != preVersion {
		result.ConflictDetected = true
		result.Resolution = "merged"
		metrics.ConflictsResolvedTotal.Inc()
		s.log.Info("version conflict absorbed by recompute",
			zap.String("user_id", userID),
			zap.String("date", summary.Date),
			zap.Int64("expected_version", req.ExpectedVersion),
			zap.Int64("pre_write_version", preVersion))
	}
	return result, nil
}

// Summary returns a single day's summary for the user.
func (s *StatsService) Summary(ctx context.Context, userID, date string) (models.DailySummary, bool, error) {
	return s.store.GetSummary(ctx, userID, date)
}

// Summaries returns the user's summaries in [from, to]; empty bounds are
// open.
func (s *StatsService) Summaries(ctx context.Context, userID, from, to string) ([]models.DailySummary, error) {
	return s.store.ListSummaries(ctx, userID, from, to)
}

// FreezePast finalizes every summary whose date is behind the canonical
// today. Once frozen, a day's stats are immutable.
func (s *StatsService) FreezePast(ctx context.Context) (int64, error) {
	frozen, err := s.store.FreezeBefore(ctx, s.cal.Today(), time.Now())
	if err != nil {
		return 0, err
	}
	if frozen > 0 {
		metrics.SummariesFrozenTotal.Add(float64(frozen))
		s.log.Info("froze historical summaries", zap.Int64("rows", frozen))
	}
	return frozen, nil
}
