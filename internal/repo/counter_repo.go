// Package repo implements the data persistence layer for gateway entities,
// backed by GORM. This file provides the fixed-window rate-limit counter.
//
// The consume operation is deliberately built from single conditional SQL
// statements (insert-if-absent, reset-if-stale, increment-while-below-limit)
// so that concurrent requests for the same key can never both pass a
// read-then-write gap and undercount. Statements that lose a race affect
// zero rows and the caller retries against fresh state.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/credentia/go-verify-gateway/internal/domain"
)

// ErrCounterContended indicates the consume loop exhausted its retries while
// racing other writers. Callers treat it like any other store failure.
var ErrCounterContended = errors.New("rate limit counter contended")

// casAttempts bounds the optimistic retry loop. Contention on a single key is
// short-lived; three passes over fresh state are enough in practice.
const casAttempts = 3

// CounterDecision is the outcome of consuming one request against a counter.
type CounterDecision struct {
	Allowed   bool
	Remaining int
	ResetTime time.Time
}

// ConsumeCounter atomically records one request against the fixed-window
// counter for key and reports whether it fits within max per window.
//
// Semantics:
//   - No live row: a row {count:1, windowStart:now} is created; allowed.
//   - Row with an elapsed window (now - windowStart >= window): the row is
//     reset in place to {count:1, windowStart:now}; allowed.
//   - Row with count >= max: denied; the count is NOT incremented and
//     ResetTime reports when the window ends.
//   - Otherwise: count is incremented while still below max, in one
//     conditional statement.
//
// Stale rows are only ever overwritten, never deleted.
func ConsumeCounter(ctx context.Context, db *gorm.DB, key string, max int, window time.Duration, now time.Time) (CounterDecision, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		var row domain.RateLimitCounter
		err := db.WithContext(ctx).First(&row, "key = ?", key).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			res := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&domain.RateLimitCounter{
				Key:         key,
				Count:       1,
				WindowStart: now,
				UpdatedAt:   now,
			})
			if res.Error != nil {
				return CounterDecision{}, res.Error
			}
			if res.RowsAffected == 1 {
				return CounterDecision{Allowed: true, Remaining: max - 1, ResetTime: now.Add(window)}, nil
			}
			// Lost the insert race; re-read.
			continue

		case err != nil:
			return CounterDecision{}, err

		case now.Sub(row.WindowStart) >= window:
			// Window elapsed: supersede the stale row, guarded by the old
			// window start so only one racer wins the reset.
			res := db.WithContext(ctx).Model(&domain.RateLimitCounter{}).
				Where("key = ? AND window_start = ?", key, row.WindowStart).
				Updates(map[string]any{"count": 1, "window_start": now, "updated_at": now})
			if res.Error != nil {
				return CounterDecision{}, res.Error
			}
			if res.RowsAffected == 1 {
				return CounterDecision{Allowed: true, Remaining: max - 1, ResetTime: now.Add(window)}, nil
			}
			continue

		case row.Count >= max:
			return CounterDecision{
				Allowed:   false,
				Remaining: 0,
				ResetTime: row.WindowStart.Add(window),
			}, nil

		default:
			// Increment while still below the ceiling. RETURNING yields the
			// post-increment count so Remaining is exact even under races.
			var newCount int
			res := db.WithContext(ctx).Raw(
				`UPDATE rate_limit_counters
				    SET count = count + 1, updated_at = ?
				  WHERE key = ? AND window_start = ? AND count < ?
				  RETURNING count`,
				now, key, row.WindowStart, max,
			).Scan(&newCount)
			if res.Error != nil {
				return CounterDecision{}, res.Error
			}
			if res.RowsAffected == 1 {
				return CounterDecision{
					Allowed:   true,
					Remaining: max - newCount,
					ResetTime: row.WindowStart.Add(window),
				}, nil
			}
			// Either the window rolled over or the ceiling was reached by a
			// concurrent racer; re-read.
			continue
		}
	}
	return CounterDecision{}, ErrCounterContended
}

// GetCounter returns the counter row for key, or ErrNotFound.
func GetCounter(ctx context.Context, db *gorm.DB, key string) (*domain.RateLimitCounter, error) {
	var row domain.RateLimitCounter
	err := db.WithContext(ctx).First(&row, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// PurgeStaleCounters deletes counters whose window ended before cutoff.
// Stale rows are harmless (they are overwritten on next use); this exists so
// an operator can reclaim space on long-lived deployments.
func PurgeStaleCounters(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("window_start < ?", cutoff).
		Delete(&domain.RateLimitCounter{})
	return res.RowsAffected, res.Error
}
