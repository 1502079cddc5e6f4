package history

import (
	"time"

	"repscore/internal/score"
)

// Aggregate is the running, time-independent state of a user. Everything
// that depends on the current time is derived by Context.
type Aggregate struct {
	TotalPoints   float64   `json:"totalPoints"`
	TotalWorkouts int       `json:"totalWorkouts"`
	LastAt        time.Time `json:"lastAt"`
	SessionCount  int       `json:"sessionCount"`
	StreakDays    int       `json:"streakDays"`
}

// Apply folds a successful calculation made at at into the aggregate.
func (a *Aggregate) Apply(at time.Time, points float64) {
	a.TotalPoints += points
	a.TotalWorkouts++

	if a.LastAt.IsZero() {
		a.SessionCount = 1
		a.StreakDays = 1
	} else {
		if at.Sub(a.LastAt) <= sessionGap {
			a.SessionCount++
		} else {
			a.SessionCount = 1
		}
		switch days := daysBetween(a.LastAt, at); {
		case days == 1:
			a.StreakDays++
		case days > 1:
			a.StreakDays = 1
		}
	}
	if at.After(a.LastAt) {
		a.LastAt = at
	}
}

// Context derives the user context as of now. The session count and the
// streak lapse when the user has been inactive for too long.
func (a Aggregate) Context(now time.Time) score.UserContext {
	now = now.UTC()
	uc := score.UserContext{
		WorkoutHour:   now.Hour(),
		TotalPoints:   a.TotalPoints,
		TotalWorkouts: a.TotalWorkouts,
	}
	if a.LastAt.IsZero() {
		return uc
	}
	if now.Sub(a.LastAt) <= sessionGap {
		uc.SessionExerciseCount = a.SessionCount
	}
	if daysBetween(a.LastAt, now) <= 1 {
		uc.StreakDays = a.StreakDays
	}
	return uc
}

// daysBetween counts calendar days (UTC) from a to b.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
