package achievement

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"

	"repscore/internal/catalog"
	"repscore/internal/condition"
)

const defaultCheckTimeout = 5 * time.Second

// Unlock is emitted the first time a user satisfies an achievement.
type Unlock struct {
	UserID        string    `json:"userId"`
	AchievementID string    `json:"achievementId"`
	Name          string    `json:"name,omitempty"`
	Category      string    `json:"category"`
	Reward        float64   `json:"reward"`
	UnlockedAt    time.Time `json:"unlockedAt"`
}

// Emitter publishes unlock events.
type Emitter interface {
	Emit(ctx context.Context, unlock Unlock)
}

// Emitters fans an unlock out to several emitters in order.
type Emitters []Emitter

func (es Emitters) Emit(ctx context.Context, unlock Unlock) {
	for _, e := range es {
		e.Emit(ctx, unlock)
	}
}

// SnapshotSource yields the live definitions generation.
type SnapshotSource interface {
	Snapshot() *catalog.Snapshot
}

// Tracker evaluates achievement conditions against user aggregate state and
// emits each unlock exactly once per user, as decided by the UnlockStore.
type Tracker struct {
	store   SnapshotSource
	unlocks UnlockStore
	emitter Emitter
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewTracker creates a tracker. A nil emitter drops unlock events after
// they are recorded.
func NewTracker(store SnapshotSource, unlocks UnlockStore, emitter Emitter) *Tracker {
	if emitter == nil {
		emitter = Emitters{}
	}
	return &Tracker{
		store:   store,
		unlocks: unlocks,
		emitter: emitter,
		timeout: defaultCheckTimeout,
	}
}

// PostCalculationFrame extends a calculation frame with the totals the user
// has after the calculation: the awarded points are added to total_points,
// the workout count grows by one and calculation_points holds the award.
func PostCalculationFrame(frame condition.Frame, points float64) condition.Frame {
	return frame.Merge(condition.Frame{
		condition.TotalPoints:       condition.Number(frame[condition.TotalPoints].Num + points),
		condition.TotalWorkouts:     condition.Number(frame[condition.TotalWorkouts].Num + 1),
		condition.CalculationPoints: condition.Number(points),
	})
}

// Check evaluates every enabled achievement against frame and returns the
// unlocks that are new for userID. Already unlocked achievements are
// skipped. Evaluation problems of single achievements are logged; unlock
// store failures are returned combined.
func (t *Tracker) Check(ctx context.Context, userID string, frame condition.Frame) ([]Unlock, error) {
	snap := t.store.Snapshot()

	var unlocked []Unlock
	var errs error
	for _, a := range snap.Achievements() {
		if !a.Enabled {
			continue
		}
		ok, err := a.Matches(frame)
		if err != nil {
			slog.Warn("Achievement evaluation failed", "achievement", a.ID, "user", userID, "error", err)
			continue
		}
		if !ok {
			continue
		}

		isNew, err := t.unlocks.MarkUnlocked(ctx, userID, a.ID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("mark %s unlocked: %w", a.ID, err))
			continue
		}
		if !isNew {
			continue
		}

		unlock := Unlock{
			UserID:        userID,
			AchievementID: a.ID,
			Name:          a.Name,
			Category:      a.Category,
			Reward:        a.Reward,
			UnlockedAt:    time.Now().UTC(),
		}
		t.emitter.Emit(ctx, unlock)
		unlocked = append(unlocked, unlock)
	}

	return unlocked, errs
}

// CheckAsync runs Check on the post-calculation frame in the background.
// It returns immediately; Close waits for pending checks.
func (t *Tracker) CheckAsync(userID string, frame condition.Frame, points float64) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		slog.Warn("Achievement check dropped, tracker closed", "user", userID)
		return
	}
	t.wg.Add(1)
	t.mu.Unlock()

	post := PostCalculationFrame(frame, points)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()

		unlocked, err := t.Check(ctx, userID, post)
		if err != nil {
			slog.Error("Achievement check failed", "user", userID, "error", err)
		}
		for _, u := range unlocked {
			slog.Info("Achievement unlocked", "user", userID, "achievement", u.AchievementID, "reward", u.Reward)
		}
	}()
}

// Unlocked lists the achievements userID has unlocked.
func (t *Tracker) Unlocked(ctx context.Context, userID string) ([]string, error) {
	return t.unlocks.Unlocked(ctx, userID)
}

// Close stops accepting checks and waits for running ones to finish.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.wg.Wait()
}
