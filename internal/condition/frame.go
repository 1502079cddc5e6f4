package condition

import (
	"maps"
	"strconv"
)

// Kind is the type of a condition variable.
type Kind int

const (
	KindNumber Kind = iota
	KindBool
)

func (k Kind) String() string {
	if k == KindBool {
		return "bool"
	}
	return "number"
}

// Identifiers usable in rule conditions.
const (
	Reps                 = "reps"
	Sets                 = "sets"
	WeightKg             = "weight_kg"
	DistanceKm           = "distance_km"
	DurationSeconds      = "duration_seconds"
	IsPersonalRecord     = "is_personal_record"
	StreakDays           = "streak_days"
	SessionExerciseCount = "session_exercise_count"
	WorkoutHour          = "workout_hour"
	TotalPoints          = "total_points"
	TotalWorkouts        = "total_workouts"

	// CalculationPoints is only visible to achievement conditions: the
	// points of the calculation that triggered the check.
	CalculationPoints = "calculation_points"
)

// Allowlist maps every identifier a condition may reference to its kind.
type Allowlist map[string]Kind

// RuleIdentifiers is the variable set of bonus and multiplier rules.
var RuleIdentifiers = Allowlist{
	Reps:                 KindNumber,
	Sets:                 KindNumber,
	WeightKg:             KindNumber,
	DistanceKm:           KindNumber,
	DurationSeconds:      KindNumber,
	IsPersonalRecord:     KindBool,
	StreakDays:           KindNumber,
	SessionExerciseCount: KindNumber,
	WorkoutHour:          KindNumber,
	TotalPoints:          KindNumber,
	TotalWorkouts:        KindNumber,
}

// AchievementIdentifiers extends RuleIdentifiers with post-calculation totals.
var AchievementIdentifiers = RuleIdentifiers.With(CalculationPoints, KindNumber)

// With returns a copy of the allowlist that also contains name.
func (a Allowlist) With(name string, kind Kind) Allowlist {
	out := maps.Clone(a)
	if out == nil {
		out = make(Allowlist, 1)
	}
	out[name] = kind
	return out
}

// Value is a number or a boolean bound to a frame variable.
type Value struct {
	Kind Kind
	Num  float64
	Bool bool
}

// Number builds a numeric value.
func Number(v float64) Value {
	return Value{Kind: KindNumber, Num: v}
}

// Bool builds a boolean value.
func Bool(v bool) Value {
	return Value{Kind: KindBool, Bool: v}
}

func (v Value) String() string {
	if v.Kind == KindBool {
		return strconv.FormatBool(v.Bool)
	}
	return strconv.FormatFloat(v.Num, 'g', -1, 64)
}

// Frame holds the named variables a condition is evaluated against.
// Variables missing from the frame read as 0 or false.
type Frame map[string]Value

// Merge returns a new frame with the variables of other laid over f.
func (f Frame) Merge(other Frame) Frame {
	out := make(Frame, len(f)+len(other))
	maps.Copy(out, f)
	maps.Copy(out, other)
	return out
}
