// Package limiter enforces "at most N operations per identity per fixed
// window" per route family, backed by a shared counter store so concurrent
// gateway instances cooperate on the same quota.
//
// The store contract is a single consume call: implementations must record
// the request and report the decision atomically (conditional SQL update for
// the GORM store, INCR for the Redis store). There is deliberately no
// read-then-write seam for callers to misuse.
//
// Store failure policy: when the counter store is unreachable the limiter
// fails open by default (the request is allowed), matching the historical
// behavior of the system this gateway fronts. The policy is configurable per
// deployment and every occurrence is logged as a security-relevant event and
// counted in metrics, never silently ignored.
package limiter

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/credentia/go-verify-gateway/internal/config"
	"github.com/credentia/go-verify-gateway/internal/repo"
)

var (
	// denials counts requests rejected because a window quota was exhausted.
	denials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_denials_total",
			Help: "Total number of requests denied by the fixed-window rate limiter.",
		},
		[]string{"route"},
	)

	// storeFailures counts counter-store errors (the fail-open/fail-closed path).
	storeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_store_failures_total",
			Help: "Total number of rate limit counter store failures.",
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(denials, storeFailures)
}

// Decision is the outcome of checking one request against a route quota.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetTime time.Time

	// FailedOpen is true when the store was unreachable and policy let the
	// request through anyway.
	FailedOpen bool
}

// CounterStore records one request against the counter for key and reports
// the decision. Implementations must be safe for concurrent use across
// processes sharing the same backing store.
type CounterStore interface {
	Consume(ctx context.Context, key string, max int, window time.Duration, now time.Time) (repo.CounterDecision, error)
}

// Limiter applies one route's fixed-window quota using a shared store.
type Limiter struct {
	store      CounterStore
	route      config.RouteLimit
	failClosed bool

	now func() time.Time // test seam
}

// New constructs a Limiter for one route quota. failClosed selects the
// policy applied when the store is unreachable.
func New(store CounterStore, route config.RouteLimit, failClosed bool) *Limiter {
	return &Limiter{
		store:      store,
		route:      route,
		failClosed: failClosed,
		now:        time.Now,
	}
}

// Check consumes one request for identity against this route's quota.
//
// The counter key is "<keyPrefix>:<identity>". Store errors never propagate:
// they resolve to an allow or deny per the configured policy, with the
// failure logged and counted either way.
func (l *Limiter) Check(ctx context.Context, identity string) Decision {
	now := l.now().UTC()
	key := l.route.KeyPrefix + ":" + identity

	dec, err := l.store.Consume(ctx, key, l.route.MaxRequests, l.route.Window, now)
	if err != nil {
		storeFailures.WithLabelValues(l.route.KeyPrefix).Inc()
		log.Error().
			Err(err).
			Str("route", l.route.KeyPrefix).
			Str("key", key).
			Bool("fail_closed", l.failClosed).
			Msg("rate limit store unreachable")

		if l.failClosed {
			return Decision{
				Allowed:   false,
				Limit:     l.route.MaxRequests,
				Remaining: 0,
				ResetTime: now.Add(l.route.Window),
			}
		}
		// Fail open: treat the miss as "no live counter" and allow.
		return Decision{
			Allowed:    true,
			Limit:      l.route.MaxRequests,
			Remaining:  l.route.MaxRequests - 1,
			ResetTime:  now.Add(l.route.Window),
			FailedOpen: true,
		}
	}

	if !dec.Allowed {
		denials.WithLabelValues(l.route.KeyPrefix).Inc()
	}
	return Decision{
		Allowed:   dec.Allowed,
		Limit:     l.route.MaxRequests,
		Remaining: dec.Remaining,
		ResetTime: dec.ResetTime,
	}
}
