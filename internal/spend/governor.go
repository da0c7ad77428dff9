package spend

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/purpose-labs/coach-gateway/internal/models"
)

const (
	snapshotKey = "spend:snapshot"
	snapshotTTL = 30 * time.Second

	aggregateReadTimeout = 5 * time.Second

	warnFraction = 0.8
)

// Aggregates is the durable store's spend-telemetry read surface.
type Aggregates interface {
	GetMonthlySpend(ctx context.Context) (float64, error)
	GetDailySpend(ctx context.Context) (float64, error)
}

// Result is the outcome of a spending-cap check. When the aggregate
// read fails the governor fails open: Allowed is true and the spend
// figures are zero, making the availability tradeoff explicit here
// rather than in the caller.
type Result struct {
	Allowed    bool
	SpentMonth float64
	SpentDay   float64
}

type Governor struct {
	repo         Aggregates
	cache        *redis.Client
	dailyLimit   float64
	monthlyLimit float64
	group        singleflight.Group
	logger       *zap.Logger
}

// NewGovernor builds a spending governor. cache may be nil, in which
// case every check reads the aggregates directly.
func NewGovernor(repo Aggregates, cache *redis.Client, dailyLimit, monthlyLimit float64, logger *zap.Logger) *Governor {
	return &Governor{
		repo:         repo,
		cache:        cache,
		dailyLimit:   dailyLimit,
		monthlyLimit: monthlyLimit,
		logger:       logger,
	}
}

// Check compares month-to-date and day-to-date spend against the
// configured ceilings. It never returns an error: a failed telemetry
// read is logged and mapped to an allow.
func (g *Governor) Check(ctx context.Context) Result {
	snap, ok := g.snapshot(ctx)
	if !ok {
		return Result{Allowed: true}
	}

	if snap.Month >= warnFraction*g.monthlyLimit {
		g.logger.Warn("monthly spend approaching limit",
			zap.Float64("spent", snap.Month),
			zap.Float64("limit", g.monthlyLimit))
	}
	if snap.Day >= warnFraction*g.dailyLimit {
		g.logger.Warn("daily spend approaching limit",
			zap.Float64("spent", snap.Day),
			zap.Float64("limit", g.dailyLimit))
	}

	return Result{
		Allowed:    snap.Month < g.monthlyLimit && snap.Day < g.dailyLimit,
		SpentMonth: snap.Month,
		SpentDay:   snap.Day,
	}
}

// snapshot returns the current spend figures, serving from the Redis
// cache when possible and collapsing concurrent aggregate reads into
// one. The second return is false when the read failed and the caller
// must fail open.
func (g *Governor) snapshot(ctx context.Context) (models.SpendSnapshot, bool) {
	if g.cache != nil {
		if raw, err := g.cache.Get(ctx, snapshotKey).Result(); err == nil {
			var snap models.SpendSnapshot
			if err := json.Unmarshal([]byte(raw), &snap); err == nil {
				return snap, true
			}
		}
	}

	v, err, _ := g.group.Do(snapshotKey, func() (interface{}, error) {
		// Collapsed callers share the leader's read; detach it from the
		// leader's cancellation so one dropped request cannot blind the
		// rest into failing open.
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), aggregateReadTimeout)
		defer cancel()

		month, err := g.repo.GetMonthlySpend(readCtx)
		if err != nil {
			return nil, err
		}
		day, err := g.repo.GetDailySpend(readCtx)
		if err != nil {
			return nil, err
		}
		return models.SpendSnapshot{Month: month, Day: day}, nil
	})
	if err != nil {
		g.logger.Warn("spend aggregate read failed, failing open", zap.Error(err))
		return models.SpendSnapshot{}, false
	}

	snap := v.(models.SpendSnapshot)

	if g.cache != nil {
		if raw, err := json.Marshal(snap); err == nil {
			if err := g.cache.Set(ctx, snapshotKey, raw, snapshotTTL).Err(); err != nil {
				g.logger.Debug("spend snapshot cache write failed", zap.Error(err))
			}
		}
	}

	return snap, true
}
