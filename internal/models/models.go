package models

import (
	"time"
)

// TestRecord is one row in the append-only test log. Records are created by
// the aggregator on successful ingest and never mutated or deleted; the
// daily summaries are always re-derivable from this log.
type TestRecord struct {
	ID             int64     `json:"id" db:"id"`
	UserID         string    `json:"user_id" db:"user_id"`
	TestDate       string    `json:"test_date" db:"test_date"`
	TestCount      int       `json:"test_count" db:"test_count"`
	CorrectCount   int       `json:"correct_count" db:"correct_count"`
	Points         float64   `json:"points" db:"points"`
	TimezoneOffset int       `json:"timezone_offset" db:"timezone_offset"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// DailySummary is the versioned per-(user, date) rollup derived from the
// test log. Version increments on every successful write; IsFrozen flips
// true exactly once, when the canonical day advances past Date.
type DailySummary struct {
	UserID       string    `json:"user_id" db:"user_id"`
	Date         string    `json:"date" db:"date"`
	TotalCount   int       `json:"total_count" db:"total_count"`
	CorrectCount int       `json:"correct_count" db:"correct_count"`
	TotalPoints  float64   `json:"total_points" db:"total_points"`
	Version      int64     `json:"version" db:"version"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
	IsFrozen     bool      `json:"is_frozen" db:"is_frozen"`
}

// SyncRequest is the body of POST /sync: one completed test session.
// ClientDate is diagnostic only and never trusted for bucketing. TestDate
// is optional; when set it names the target day explicitly (replay path)
// and is rejected if that day has already elapsed.
type SyncRequest struct {
	TestCount           int     `json:"test_count"`
	CorrectCount        int     `json:"correct_count"`
	Points              float64 `json:"points"`
	ClientDate          string  `json:"client_date,omitempty"`
	TimezoneOffsetHours int     `json:"timezone_offset_hours"`
	ExpectedVersion     int64   `json:"expected_version"`
	TestDate            string  `json:"test_date,omitempty"`
}

// SyncResult is returned after a successful ingest. ConflictDetected is
// informational: the totals already include every concurrent writer's
// records, so a conflict is a resolved condition, not a failure.
type SyncResult struct {
	Date             string  `json:"date"`
	TotalCount       int     `json:"total_count"`
	CorrectCount     int     `json:"correct_count"`
	TotalPoints      float64 `json:"total_points"`
	Version          int64   `json:"version"`
	ConflictDetected bool    `json:"conflict_detected"`
	Resolution       string  `json:"resolution,omitempty"`
}

// PendingSyncItem is one undelivered result batch held client-side only.
type PendingSyncItem struct {
	ID              string    `json:"id" db:"id"`
	Date            string    `json:"date" db:"date"`
	TestCount       int       `json:"test_count" db:"test_count"`
	CorrectCount    int       `json:"correct_count" db:"correct_count"`
	Points          float64   `json:"points" db:"points"`
	ExpectedVersion int64     `json:"expected_version" db:"expected_version"`
	Timestamp       time.Time `json:"timestamp" db:"timestamp"`
	RetryCount      int       `json:"retry_count" db:"retry_count"`
	LastError       string    `json:"last_error" db:"last_error"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Database  string `json:"database"`
	Redis     string `json:"redis"`
}
