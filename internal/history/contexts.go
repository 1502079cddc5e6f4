package history

import (
	"context"
	"log/slog"
	"time"

	"repscore/internal/cache"
	"repscore/internal/score"
)

const aggregateKeyPrefix = "aggregate:"

// AggregateSource returns the authoritative aggregate of a user.
type AggregateSource interface {
	Aggregate(ctx context.Context, userID string) (Aggregate, error)
}

var _ AggregateSource = (*ResultsRepository)(nil)

// CachedContexts serves user contexts from aggregates held in the cache
// layer and falls back to the source on a miss. The context is derived from
// the aggregate at read time, so a hit and a miss agree.
//
// Recording a result folds it into the cached aggregate, or reloads the
// aggregate from the source when none is cached. It must sit after the
// source in the audit chain.
type CachedContexts struct {
	source  AggregateSource
	backend cache.Backend
	ttl     time.Duration
	now     func() time.Time
}

func NewCachedContexts(source AggregateSource, backend cache.Backend, ttl time.Duration) *CachedContexts {
	return &CachedContexts{source: source, backend: backend, ttl: ttl, now: time.Now}
}

func (cc *CachedContexts) UserContext(ctx context.Context, userID string) (score.UserContext, error) {
	agg, err := cc.aggregate(ctx, userID)
	if err != nil {
		return score.UserContext{}, err
	}
	return agg.Context(cc.now()), nil
}

func (cc *CachedContexts) Record(ctx context.Context, result score.Result) {
	if result.Status != score.StatusOK || result.UserID == "" {
		return
	}
	key := aggregateKeyPrefix + result.UserID

	var agg Aggregate
	if cache.GetJSON(ctx, cc.backend, key, &agg) {
		agg.Apply(result.CalculatedAt, result.TotalPoints)
		cache.SetJSON(ctx, cc.backend, key, agg, cc.ttl)
		return
	}
	// The source has already recorded the result.
	if _, err := cc.load(ctx, result.UserID); err != nil {
		slog.Debug("Unable to reload user aggregate", "user", result.UserID, "error", err)
	}
}

func (cc *CachedContexts) aggregate(ctx context.Context, userID string) (Aggregate, error) {
	var agg Aggregate
	if cache.GetJSON(ctx, cc.backend, aggregateKeyPrefix+userID, &agg) {
		return agg, nil
	}
	return cc.load(ctx, userID)
}

func (cc *CachedContexts) load(ctx context.Context, userID string) (Aggregate, error) {
	agg, err := cc.source.Aggregate(ctx, userID)
	if err != nil {
		return Aggregate{}, err
	}
	cache.SetJSON(ctx, cc.backend, aggregateKeyPrefix+userID, agg, cc.ttl)
	return agg, nil
}
