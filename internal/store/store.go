// Package store persists the append-only test log and the versioned daily
// summaries. All SQL here runs unchanged on MySQL (production) and SQLite
// (tests, local runs); only the bootstrap DDL is per-driver.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"vocabsync/internal/models"
)

// Store wraps SQL access to test records and daily summaries.
type Store struct {
	db     *sql.DB
	driver string
}

// New wraps an open connection. driver must match the one the connection
// was opened with ("mysql" or "sqlite").
func New(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	var stmts []string
	if s.driver == "mysql" {
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS test_records (
				id BIGINT AUTO_INCREMENT PRIMARY KEY,
				user_id VARCHAR(64) NOT NULL,
				test_date CHAR(10) NOT NULL,
				test_count INT NOT NULL,
				correct_count INT NOT NULL,
				points DOUBLE NOT NULL,
				timezone_offset INT NOT NULL,
				created_at VARCHAR(35) NOT NULL,
				INDEX idx_test_records_user_date (user_id, test_date)
			)`,
			`CREATE TABLE IF NOT EXISTS daily_summaries (
				user_id VARCHAR(64) NOT NULL,
				date CHAR(10) NOT NULL,
				total_count INT NOT NULL,
				correct_count INT NOT NULL,
				total_points DOUBLE NOT NULL,
				version BIGINT NOT NULL,
				updated_at VARCHAR(35) NOT NULL,
				is_frozen TINYINT(1) NOT NULL DEFAULT 0,
				PRIMARY KEY (user_id, date)
			)`,
		}
	} else {
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS test_records (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id TEXT NOT NULL,
				test_date TEXT NOT NULL,
				test_count INTEGER NOT NULL,
				correct_count INTEGER NOT NULL,
				points REAL NOT NULL,
				timezone_offset INTEGER NOT NULL,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_test_records_user_date ON test_records(user_id, test_date)`,
			`CREATE TABLE IF NOT EXISTS daily_summaries (
				user_id TEXT NOT NULL,
				date TEXT NOT NULL,
				total_count INTEGER NOT NULL,
				correct_count INTEGER NOT NULL,
				total_points REAL NOT NULL,
				version INTEGER NOT NULL,
				updated_at TEXT NOT NULL,
				is_frozen INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (user_id, date)
			)`,
		}
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// IngestResult appends one test record and recomputes the summary for
// (user, date) from the full log, all in one transaction. The recompute
// makes ingestion idempotent under replays and convergent under concurrent
// writers: two devices landing in any order both end up summed in. The
// returned summary carries the post-write version.
//
// Returns models.ErrFrozenDate without writing anything if the summary row
// is already frozen.
func (s *Store) IngestResult(ctx context.Context, rec models.TestRecord) (models.DailySummary, error) {
	var summary models.DailySummary

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return summary, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var frozen bool
	err = tx.QueryRowContext(ctx,
		`SELECT is_frozen FROM daily_summaries WHERE user_id = ? AND date = ?`,
		rec.UserID, rec.TestDate,
	).Scan(&frozen)
	if err != nil && err != sql.ErrNoRows {
		return summary, fmt.Errorf("check frozen: %w", err)
	}
	if frozen {
		return summary, fmt.Errorf("%w %s", models.ErrFrozenDate, rec.TestDate)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO test_records (user_id, test_date, test_count, correct_count, points, timezone_offset, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.TestDate, rec.TestCount, rec.CorrectCount, rec.Points,
		rec.TimezoneOffset, rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return summary, fmt.Errorf("append record: %w", err)
	}

	totalCount, correctCount, totalPoints, err := sumRecords(ctx, tx, rec.UserID, rec.TestDate)
	if err != nil {
		return summary, err
	}

	updatedAt := rec.CreatedAt.UTC().Format(time.RFC3339Nano)
	res, err := tx.ExecContext(ctx,
		`UPDATE daily_summaries
		 SET total_count = ?, correct_count = ?, total_points = ?, version = version + 1, updated_at = ?
		 WHERE user_id = ? AND date = ?`,
		totalCount, correctCount, totalPoints, updatedAt, rec.UserID, rec.TestDate,
	)
	if err != nil {
		return summary, fmt.Errorf("update summary: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return summary, fmt.Errorf("update summary: %w", err)
	}
	if affected == 0 {
		// First record of the day. A concurrent writer may win the insert
		// race on the primary key; fall back to the update once.
		_, insErr := tx.ExecContext(ctx,
			`INSERT INTO daily_summaries (user_id, date, total_count, correct_count, total_points, version, updated_at, is_frozen)
			 VALUES (?, ?, ?, ?, ?, 1, ?, 0)`,
			rec.UserID, rec.TestDate, totalCount, correctCount, totalPoints, updatedAt,
		)
		if insErr != nil {
			res, err = tx.ExecContext(ctx,
				`UPDATE daily_summaries
				 SET total_count = ?, correct_count = ?, total_points = ?, version = version + 1, updated_at = ?
				 WHERE user_id = ? AND date = ?`,
				totalCount, correctCount, totalPoints, updatedAt, rec.UserID, rec.TestDate,
			)
			if err != nil {
				return summary, fmt.Errorf("upsert summary: %w", err)
			}
			if affected, err = res.RowsAffected(); err != nil || affected == 0 {
				return summary, fmt.Errorf("upsert summary after insert race: %w", insErr)
			}
		}
	}

	summary, _, err = summaryInTx(ctx, tx, rec.UserID, rec.TestDate)
	if err != nil {
		return summary, err
	}

	if err := tx.Commit(); err != nil {
		return summary, fmt.Errorf("commit: %w", err)
	}
	return summary, nil
}

// SumRecords re-derives the three totals for (user, date) straight from
// the log, outside any transaction. Used to verify summary consistency.
func (s *Store) SumRecords(ctx context.Context, userID, date string) (totalCount, correctCount int, totalPoints float64, err error) {
	return sumRecords(ctx, s.db, userID, date)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func sumRecords(ctx context.Context, q queryer, userID, date string) (totalCount, correctCount int, totalPoints float64, err error) {
	err = q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(test_count), 0), COALESCE(SUM(correct_count), 0), COALESCE(SUM(points), 0)
		 FROM test_records WHERE user_id = ? AND test_date = ?`,
		userID, date,
	).Scan(&totalCount, &correctCount, &totalPoints)
	if err != nil {
		err = fmt.Errorf("sum records: %w", err)
	}
	return
}

// GetSummary returns the summary for (user, date). The second return is
// false when no row exists.
func (s *Store) GetSummary(ctx context.Context, userID, date string) (models.DailySummary, bool, error) {
	return summaryInTx(ctx, s.db, userID, date)
}

func summaryInTx(ctx context.Context, q queryer, userID, date string) (models.DailySummary, bool, error) {
	var sum models.DailySummary
	var updatedAt string
	err := q.QueryRowContext(ctx,
		`SELECT user_id, date, total_count, correct_count, total_points, version, updated_at, is_frozen
		 FROM daily_summaries WHERE user_id = ? AND date = ?`,
		userID, date,
	).Scan(&sum.UserID, &sum.Date, &sum.TotalCount, &sum.CorrectCount, &sum.TotalPoints,
		&sum.Version, &updatedAt, &sum.IsFrozen)
	if err == sql.ErrNoRows {
		return sum, false, nil
	}
	if err != nil {
		return sum, false, fmt.Errorf("get summary: %w", err)
	}
	if t, perr := time.Parse(time.RFC3339Nano, updatedAt); perr == nil {
		sum.UpdatedAt = t
	}
	return sum, true, nil
}

// ListSummaries returns a user's summaries in [from, to], ascending by
// date. Empty bounds are open.
func (s *Store) ListSummaries(ctx context.Context, userID, from, to string) ([]models.DailySummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, date, total_count, correct_count, total_points, version, updated_at, is_frozen
		 FROM daily_summaries
		 WHERE user_id = ? AND (? = '' OR date >= ?) AND (? = '' OR date <= ?)
		 ORDER BY date ASC`,
		userID, from, from, to, to,
	)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	var result []models.DailySummary
	for rows.Next() {
		var sum models.DailySummary
		var updatedAt string
		if err := rows.Scan(&sum.UserID, &sum.Date, &sum.TotalCount, &sum.CorrectCount,
			&sum.TotalPoints, &sum.Version, &updatedAt, &sum.IsFrozen); err != nil {
			return nil, fmt.Errorf("list summaries: %w", err)
		}
		if t, perr := time.Parse(time.RFC3339Nano, updatedAt); perr == nil {
			sum.UpdatedAt = t
		}
		result = append(result, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	return result, nil
}

// ListRecords returns the raw log rows for (user, date) in insertion order.
func (s *Store) ListRecords(ctx context.Context, userID, date string) ([]models.TestRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, test_date, test_count, correct_count, points, timezone_offset, created_at
		 FROM test_records WHERE user_id = ? AND test_date = ? ORDER BY id ASC`,
		userID, date,
	)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var result []models.TestRecord
	for rows.Next() {
		var rec models.TestRecord
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.TestDate, &rec.TestCount,
			&rec.CorrectCount, &rec.Points, &rec.TimezoneOffset, &createdAt); err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}
		if t, perr := time.Parse(time.RFC3339Nano, createdAt); perr == nil {
			rec.CreatedAt = t
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return result, nil
}

// FreezeBefore marks every unfrozen summary with date < today as frozen,
// across all users. Returns the number of rows frozen. The transition is
// one-way; nothing ever clears the flag.
func (s *Store) FreezeBefore(ctx context.Context, today string, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE daily_summaries SET is_frozen = 1, updated_at = ?
		 WHERE date < ? AND is_frozen = 0`,
		now.UTC().Format(time.RFC3339Nano), today,
	)
	if err != nil {
		return 0, fmt.Errorf("freeze summaries: %w", err)
	}
	return res.RowsAffected()
}
