package score

import (
	"context"

	"repscore/internal/catalog"
	"repscore/internal/condition"
)

// SnapshotSource yields the live definitions generation.
type SnapshotSource interface {
	Snapshot() *catalog.Snapshot
}

// ContextProvider supplies aggregate user state when the caller did not
// attach a UserContext to the input.
type ContextProvider interface {
	UserContext(ctx context.Context, userID string) (UserContext, error)
}

// AuditSink receives every result the engine produces.
type AuditSink interface {
	Record(ctx context.Context, result Result)
}

// AchievementChecker evaluates achievements after a successful calculation.
// CheckAsync must not block the caller.
type AchievementChecker interface {
	CheckAsync(userID string, frame condition.Frame, points float64)
}

// Observer is notified of every finished calculation.
type Observer interface {
	ObserveCalculation(result Result)
}

// AuditSinks fans a result out to several sinks in order.
type AuditSinks []AuditSink

func (s AuditSinks) Record(ctx context.Context, result Result) {
	for _, sink := range s {
		sink.Record(ctx, result)
	}
}
