// Package reconcile merges client-held daily summaries with freshly
// fetched server summaries. Pure functions, no I/O; callers run Resolve
// after every fetch.
package reconcile

import (
	"vocabsync/internal/models"
)

// ResolutionMerged marks an entry whose local and server versions
// disagreed and whose fields were max-merged.
const ResolutionMerged = "merged"

// Resolve compares the local summaries against the server's and returns
// the reconciled view, keyed by date.
//
// Per server summary: absent locally, or versions equal — adopt the server
// value. Versions differ — merge by taking the max of each field
// independently, plus the max version, and flag the row. The max merge is
// deliberately conservative: it can only overcount, never lose a
// concurrent writer's data.
//
// Local-only dates (optimistic entries the server has not confirmed yet)
// pass through untouched.
func Resolve(local map[string]models.SyncResult, server []models.DailySummary) map[string]models.SyncResult {
	out := make(map[string]models.SyncResult, len(local)+len(server))
	for date, l := range local {
		out[date] = l
	}

	for _, srv := range server {
		adopted := models.SyncResult{
			Date:         srv.Date,
			TotalCount:   srv.TotalCount,
			CorrectCount: srv.CorrectCount,
			TotalPoints:  srv.TotalPoints,
			Version:      srv.Version,
		}

		l, ok := out[srv.Date]
		if !ok || l.Version == srv.Version {
			out[srv.Date] = adopted
			continue
		}

		out[srv.Date] = models.SyncResult{
			Date:             srv.Date,
			TotalCount:       maxInt(l.TotalCount, srv.TotalCount),
			CorrectCount:     maxInt(l.CorrectCount, srv.CorrectCount),
			TotalPoints:      maxFloat(l.TotalPoints, srv.TotalPoints),
			Version:          maxInt64(l.Version, srv.Version),
			ConflictDetected: true,
			Resolution:       ResolutionMerged,
		}
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
