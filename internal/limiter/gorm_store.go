package limiter

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/credentia/go-verify-gateway/internal/repo"
)

// GormStore persists window counters in the gateway's SQL database. Multiple
// gateway instances sharing the database share quotas.
type GormStore struct {
	DB *gorm.DB
}

// NewGormStore returns a CounterStore backed by db.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

// Consume delegates to the repository's atomic fixed-window consume.
func (s *GormStore) Consume(ctx context.Context, key string, max int, window time.Duration, now time.Time) (repo.CounterDecision, error) {
	return repo.ConsumeCounter(ctx, s.DB, key, max, window, now)
}
