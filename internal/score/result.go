package score

import (
	"time"

	"repscore/internal/condition"
)

// Status of a calculation.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Error and warning codes carried in Result.
const (
	ErrUnknownExercise     = "unknown_exercise"
	ErrInvalidInput        = "invalid_input"
	ErrOverflow            = ErrInvalidInput + ":overflow"
	WarnRuleEvaluation     = "rule_evaluation_failed"
	WarnContextUnavailable = "user_context_unavailable"
)

// UserContext is the aggregate state of the user logging the activity.
type UserContext struct {
	StreakDays           int     `json:"streakDays"`
	SessionExerciseCount int     `json:"sessionExerciseCount"`
	WorkoutHour          int     `json:"workoutHour"`
	TotalPoints          float64 `json:"totalPoints"`
	TotalWorkouts        int     `json:"totalWorkouts"`
}

// Input is one logged activity. Nil metrics are absent and contribute
// nothing; a nil UserContext is resolved through the ContextProvider when
// UserID is set.
type Input struct {
	UserID           string       `json:"userId,omitempty"`
	ExerciseKey      string       `json:"exercise"`
	Reps             *int         `json:"reps,omitempty"`
	Sets             *int         `json:"sets,omitempty"`
	WeightKg         *float64     `json:"weightKg,omitempty"`
	DistanceKm       *float64     `json:"distanceKm,omitempty"`
	DurationSeconds  *float64     `json:"durationSeconds,omitempty"`
	IsPersonalRecord *bool        `json:"isPersonalRecord,omitempty"`
	UserContext      *UserContext `json:"userContext,omitempty"`
}

// Frame builds the condition frame: user context first, then input fields,
// so input values win on a name collision. Absent fields read as 0/false.
func (in Input) Frame(uc UserContext) condition.Frame {
	ctxFrame := condition.Frame{
		condition.StreakDays:           condition.Number(float64(uc.StreakDays)),
		condition.SessionExerciseCount: condition.Number(float64(uc.SessionExerciseCount)),
		condition.WorkoutHour:          condition.Number(float64(uc.WorkoutHour)),
		condition.TotalPoints:          condition.Number(uc.TotalPoints),
		condition.TotalWorkouts:        condition.Number(float64(uc.TotalWorkouts)),
	}

	inputFrame := condition.Frame{
		condition.Reps:             condition.Number(float64(deref(in.Reps))),
		condition.Sets:             condition.Number(float64(deref(in.Sets))),
		condition.WeightKg:         condition.Number(deref(in.WeightKg)),
		condition.DistanceKm:       condition.Number(deref(in.DistanceKm)),
		condition.DurationSeconds:  condition.Number(deref(in.DurationSeconds)),
		condition.IsPersonalRecord: condition.Bool(deref(in.IsPersonalRecord)),
	}

	return ctxFrame.Merge(inputFrame)
}

// MetricTerm is one additive metric contribution:
// Points = Scale * Amount * Multiplier, where Scale is the exercise base
// points for reps and sets and 1 otherwise. Duration Amount is in minutes.
type MetricTerm struct {
	Metric     string  `json:"metric"`
	Amount     float64 `json:"amount"`
	Scale      float64 `json:"scale"`
	Multiplier float64 `json:"multiplier"`
	Points     float64 `json:"points"`
}

// AppliedRule records a rule that fired and the running total around it.
type AppliedRule struct {
	RuleID string  `json:"ruleId"`
	Value  float64 `json:"value"`
	Before float64 `json:"before"`
	After  float64 `json:"after"`
}

// Breakdown itemises every step from base points to the final total.
type Breakdown struct {
	Base        float64       `json:"base"`
	Metrics     []MetricTerm  `json:"metrics"`
	Subtotal    float64       `json:"subtotal"`
	Bonuses     []AppliedRule `json:"bonuses"`
	Multipliers []AppliedRule `json:"multipliers"`
	Unclamped   float64       `json:"unclamped"`
	Clamped     float64       `json:"clamped"`
	Precision   int           `json:"precision"`
	Rounding    string        `json:"rounding"`
	Total       float64       `json:"total"`
}

// Result is the outcome of one calculation.
type Result struct {
	ID                string     `json:"id"`
	UserID            string     `json:"userId,omitempty"`
	ExerciseKey       string     `json:"exercise"`
	TotalPoints       float64    `json:"totalPoints"`
	Breakdown         *Breakdown `json:"breakdown,omitempty"`
	AppliedRules      []string   `json:"appliedRules"`
	Status            Status     `json:"status"`
	Errors            []string   `json:"errors"`
	Warnings          []string   `json:"warnings"`
	CalculationTimeMs float64    `json:"calculationTimeMs"`
	ConfigGeneration  uint64     `json:"configGeneration"`
	CalculatedAt      time.Time  `json:"calculatedAt"`
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
