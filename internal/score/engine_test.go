package score

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repscore/internal/catalog"
	"repscore/internal/condition"
)

func ptr[T any](v T) *T {
	return &v
}

var squat = catalog.ExerciseRecord{
	Key:        "squat",
	Category:   "strength",
	BasePoints: 10,
	Multipliers: catalog.Multipliers{
		Reps:   1.0,
		Sets:   5.0,
		Weight: 0.1,
	},
}

var running = catalog.ExerciseRecord{
	Key:         "running",
	BasePoints:  5,
	Multipliers: catalog.Multipliers{Distance: 10, Duration: 0.5},
}

func newStore(t *testing.T, doc catalog.Document) *catalog.Store {
	t.Helper()
	store := catalog.NewStore(&catalog.StaticSource{Document: doc})
	_, err := store.Reload(context.Background())
	require.NoError(t, err)
	return store
}

func scenarioA(t *testing.T) *catalog.Store {
	return newStore(t, catalog.Document{
		Exercises: []catalog.ExerciseRecord{squat, running},
		Rules: []catalog.RuleRecord{
			{ID: "heavy_lift", Type: "bonus", Condition: "weight_kg >= 50", Value: 30},
			{ID: "heavy_multiplier", Type: "multiplier", Condition: "weight_kg >= 50", Value: 1.5},
		},
	})
}

func squatInput() Input {
	return Input{
		ExerciseKey: "squat",
		Reps:        ptr(10),
		Sets:        ptr(3),
		WeightKg:    ptr(50.0),
	}
}

func TestEngine_ScenarioA_Formula(t *testing.T) {
	engine := NewEngine(scenarioA(t), WithPrecision(1))

	result := engine.Calculate(context.Background(), squatInput())

	require.Equal(t, StatusOK, result.Status)
	bd := result.Breakdown
	require.NotNil(t, bd)
	assert.Equal(t, 10.0, bd.Base)
	assert.Equal(t, []MetricTerm{
		{Metric: "reps", Amount: 10, Scale: 10, Multiplier: 1, Points: 100},
		{Metric: "sets", Amount: 3, Scale: 10, Multiplier: 5, Points: 150},
		{Metric: "weight", Amount: 50, Scale: 1, Multiplier: 0.1, Points: 5},
		{Metric: "distance", Amount: 0, Scale: 1, Multiplier: 0, Points: 0},
		{Metric: "duration", Amount: 0, Scale: 1, Multiplier: 0, Points: 0},
	}, bd.Metrics)
	assert.Equal(t, 265.0, bd.Subtotal)
	assert.Equal(t, []AppliedRule{{RuleID: "heavy_lift", Value: 30, Before: 265, After: 295}}, bd.Bonuses)
	assert.Equal(t, []AppliedRule{{RuleID: "heavy_multiplier", Value: 1.5, Before: 295, After: 442.5}}, bd.Multipliers)
	assert.Equal(t, 442.5, bd.Unclamped)
	assert.Equal(t, 442.5, result.TotalPoints, "one decimal keeps the half")
	assert.Equal(t, []string{"heavy_lift", "heavy_multiplier"}, result.AppliedRules)
	assert.Equal(t, uint64(1), result.ConfigGeneration)
	assert.NotEmpty(t, result.ID)
}

func TestEngine_ScenarioA_Rounding(t *testing.T) {
	engine := NewEngine(scenarioA(t))

	result := engine.Calculate(context.Background(), squatInput())

	require.Equal(t, StatusOK, result.Status)
	assert.Equal(t, 442.5, result.Breakdown.Clamped)
	assert.Equal(t, 443.0, result.TotalPoints, "442.5 rounds half up to 443")
	assert.Equal(t, RoundingHalfUp, result.Breakdown.Rounding)
	assert.Equal(t, 0, result.Breakdown.Precision)
}

func TestEngine_BreakdownReconstructsTotal(t *testing.T) {
	engine := NewEngine(scenarioA(t), WithPrecision(2))
	result := engine.Calculate(context.Background(), squatInput())
	bd := result.Breakdown

	total := bd.Base
	for _, m := range bd.Metrics {
		assert.Equal(t, m.Scale*m.Amount*m.Multiplier, m.Points)
		total += m.Points
	}
	require.Equal(t, bd.Subtotal, total)
	for _, b := range bd.Bonuses {
		require.Equal(t, total, b.Before)
		total += b.Value
		require.Equal(t, total, b.After)
	}
	for _, m := range bd.Multipliers {
		require.Equal(t, total, m.Before)
		total *= m.Value
		require.Equal(t, total, m.After)
	}
	assert.Equal(t, bd.Unclamped, total)
	assert.Equal(t, result.TotalPoints, roundHalfUp(math.Max(total, 0), bd.Precision))
}

func TestEngine_ScenarioB_UnknownExercise(t *testing.T) {
	engine := NewEngine(scenarioA(t))

	result := engine.Calculate(context.Background(), Input{ExerciseKey: "deadlift", Reps: ptr(5)})

	assert.Equal(t, StatusError, result.Status)
	assert.Equal(t, 0.0, result.TotalPoints)
	assert.Equal(t, []string{ErrUnknownExercise}, result.Errors)
	assert.Nil(t, result.Breakdown)
	assert.Empty(t, result.AppliedRules)
}

func TestEngine_ScenarioC_InvalidRuleExcluded(t *testing.T) {
	store := newStore(t, catalog.Document{
		Exercises: []catalog.ExerciseRecord{squat},
		Rules: []catalog.RuleRecord{
			{ID: "bogus", Type: "bonus", Condition: "foo >= 10", Value: 1000},
			{ID: "heavy_lift", Type: "bonus", Condition: "weight_kg >= 50", Value: 30},
		},
	})
	engine := NewEngine(store)

	result := engine.Calculate(context.Background(), squatInput())

	assert.Equal(t, StatusOK, result.Status)
	assert.Equal(t, 295.0, result.TotalPoints)
	assert.Equal(t, []string{"heavy_lift"}, result.AppliedRules)
	assert.Empty(t, result.Warnings)
}

func TestEngine_Determinism(t *testing.T) {
	engine := NewEngine(scenarioA(t), WithPrecision(3))
	in := squatInput()
	in.DurationSeconds = ptr(95.0)

	first := engine.Calculate(context.Background(), in)
	for i := 0; i < 50; i++ {
		next := engine.Calculate(context.Background(), in)
		assert.Equal(t, first.TotalPoints, next.TotalPoints)
		assert.Equal(t, first.Breakdown, next.Breakdown)
		assert.Equal(t, first.AppliedRules, next.AppliedRules)
	}
}

func TestEngine_NonNegative(t *testing.T) {
	cases := map[string][]catalog.RuleRecord{
		"negative bonus": {
			{ID: "penalty", Type: "bonus", Condition: "true", Value: -10000},
		},
		"negative multiplier": {
			{ID: "flip", Type: "multiplier", Condition: "true", Value: -3},
		},
		"zeroing multiplier after bonus": {
			{ID: "penalty", Type: "bonus", Condition: "true", Value: -300},
			{ID: "half", Type: "multiplier", Condition: "true", Value: 0.5},
		},
	}
	for name, rules := range cases {
		t.Run(name, func(t *testing.T) {
			store := newStore(t, catalog.Document{
				Exercises: []catalog.ExerciseRecord{squat},
				Rules:     rules,
			})

			result := NewEngine(store).Calculate(context.Background(), squatInput())

			assert.Equal(t, StatusOK, result.Status)
			assert.Negative(t, result.Breakdown.Unclamped)
			assert.Equal(t, 0.0, result.Breakdown.Clamped)
			assert.Equal(t, 0.0, result.TotalPoints)
		})
	}
}

func TestEngine_MultipliersCompose(t *testing.T) {
	store := newStore(t, catalog.Document{
		Exercises: []catalog.ExerciseRecord{{Key: "plank", BasePoints: 100}},
		Rules: []catalog.RuleRecord{
			{ID: "a", Type: "multiplier", Condition: "true", Value: 1.5},
			{ID: "b", Type: "multiplier", Condition: "true", Value: 1.2},
		},
	})
	engine := NewEngine(store, WithPrecision(2))

	result := engine.Calculate(context.Background(), Input{ExerciseKey: "plank"})

	assert.InDelta(t, 180.0, result.TotalPoints, 1e-9, "1.5x and 1.2x combine to 1.8x, not max 1.5x or sum 1.7x")
	assert.Len(t, result.Breakdown.Multipliers, 2)
}

func TestEngine_EqualPriorityUsesIDTieBreak(t *testing.T) {
	records := []catalog.RuleRecord{
		{ID: "zeta", Type: "bonus", Condition: "true", Value: 1, Priority: ptr(1)},
		{ID: "alpha", Type: "bonus", Condition: "true", Value: 2, Priority: ptr(1)},
		{ID: "first", Type: "bonus", Condition: "true", Value: 3, Priority: ptr(0)},
		{ID: "m2", Type: "multiplier", Condition: "true", Value: 2},
		{ID: "m1", Type: "multiplier", Condition: "true", Value: 3},
	}
	reversed := make([]catalog.RuleRecord, len(records))
	for i := range records {
		reversed[len(records)-1-i] = records[i]
	}

	calc := func(rules []catalog.RuleRecord) Result {
		store := newStore(t, catalog.Document{
			Exercises: []catalog.ExerciseRecord{{Key: "plank", BasePoints: 10}},
			Rules:     rules,
		})
		return NewEngine(store).Calculate(context.Background(), Input{ExerciseKey: "plank"})
	}

	a, b := calc(records), calc(reversed)
	assert.Equal(t, []string{"first", "alpha", "zeta", "m1", "m2"}, a.AppliedRules)
	assert.Equal(t, a.AppliedRules, b.AppliedRules)
	assert.Equal(t, a.Breakdown, b.Breakdown)
	assert.Equal(t, 96.0, a.TotalPoints)
}

func TestEngine_MissingFieldsAreZero(t *testing.T) {
	store := newStore(t, catalog.Document{
		Exercises: []catalog.ExerciseRecord{running},
		Rules: []catalog.RuleRecord{
			{ID: "no_reps", Type: "bonus", Condition: "reps == 0 && is_personal_record == false", Value: 1},
		},
	})
	engine := NewEngine(store, WithPrecision(2))

	result := engine.Calculate(context.Background(), Input{ExerciseKey: "running", DurationSeconds: ptr(90.0)})

	require.Equal(t, StatusOK, result.Status)
	// 5 + 1.5 minutes * 0.5 + 1
	assert.Equal(t, 6.75, result.TotalPoints)
	assert.Equal(t, []string{"no_reps"}, result.AppliedRules)
}

func TestEngine_UserContextDrivesRules(t *testing.T) {
	store := newStore(t, catalog.Document{
		Exercises: []catalog.ExerciseRecord{running},
		Rules: []catalog.RuleRecord{
			{ID: "streak", Type: "multiplier", Condition: "streak_days >= 7", Value: 2},
			{ID: "early_bird", Type: "bonus", Condition: "workout_hour < 7 && workout_hour >= 4", Value: 5},
		},
	})
	engine := NewEngine(store)

	result := engine.Calculate(context.Background(), Input{
		ExerciseKey: "running",
		DistanceKm:  ptr(5.0),
		UserContext: &UserContext{StreakDays: 10, WorkoutHour: 6},
	})

	// (5 + 50 + 5) * 2
	assert.Equal(t, 120.0, result.TotalPoints)
	assert.Equal(t, []string{"early_bird", "streak"}, result.AppliedRules)
}

func TestEngine_InvalidInput(t *testing.T) {
	engine := NewEngine(scenarioA(t))

	result := engine.Calculate(context.Background(), Input{ExerciseKey: "squat", Reps: ptr(-5), WeightKg: ptr(math.NaN())})

	assert.Equal(t, StatusError, result.Status)
	assert.Equal(t, []string{"invalid_input:reps", "invalid_input:weightKg"}, result.Errors)
	assert.Equal(t, 0.0, result.TotalPoints)
}

func TestEngine_InputOutOfRange(t *testing.T) {
	engine := NewEngine(scenarioA(t))

	result := engine.Calculate(context.Background(), Input{ExerciseKey: "squat", Reps: ptr(10), WeightKg: ptr(1e308)})

	assert.Equal(t, StatusError, result.Status)
	assert.Equal(t, []string{"invalid_input:weightKg"}, result.Errors)
	assert.Nil(t, result.Breakdown)
	_, err := json.Marshal(result)
	assert.NoError(t, err)
}

func TestEngine_Overflow(t *testing.T) {
	huge := catalog.ExerciseRecord{Key: "huge", BasePoints: 1, Multipliers: catalog.Multipliers{Weight: 1e300}}

	cases := []struct {
		name  string
		rules []catalog.RuleRecord
		in    Input
	}{
		{
			name: "metric term",
			in:   Input{ExerciseKey: "huge", WeightKg: ptr(1e9)},
		},
		{
			name: "multiplier",
			rules: []catalog.RuleRecord{
				{ID: "double", Type: "multiplier", Condition: "weight_kg > 0", Value: 1e300},
			},
			in: Input{ExerciseKey: "huge", WeightKg: ptr(10.0)},
		},
		{
			name: "zero multiplier after overflow",
			rules: []catalog.RuleRecord{
				{ID: "a_double", Type: "multiplier", Condition: "weight_kg > 0", Value: 1e300},
				{ID: "b_zero", Type: "multiplier", Condition: "weight_kg > 0", Value: 0},
			},
			in: Input{ExerciseKey: "huge", WeightKg: ptr(10.0)},
		},
		{
			name: "bonus",
			rules: []catalog.RuleRecord{
				{ID: "big", Type: "bonus", Condition: "weight_kg > 0", Value: math.MaxFloat64},
				{ID: "bigger", Type: "bonus", Condition: "weight_kg > 0", Value: math.MaxFloat64},
			},
			in: Input{ExerciseKey: "huge", WeightKg: ptr(1.0)},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine := NewEngine(newStore(t, catalog.Document{
				Exercises: []catalog.ExerciseRecord{huge},
				Rules:     tc.rules,
			}))

			result := engine.Calculate(context.Background(), tc.in)

			assert.Equal(t, StatusError, result.Status)
			assert.Equal(t, []string{ErrOverflow}, result.Errors)
			assert.Zero(t, result.TotalPoints)
			assert.Nil(t, result.Breakdown)
			assert.Empty(t, result.AppliedRules)

			_, err := json.Marshal(result)
			assert.NoError(t, err)
		})
	}
}

func TestEvaluate_NonFinite(t *testing.T) {
	store := newStore(t, catalog.Document{
		Exercises: []catalog.ExerciseRecord{{Key: "squat", BasePoints: 10, Multipliers: catalog.Multipliers{Weight: 10}}},
		Rules: []catalog.RuleRecord{
			{ID: "double", Type: "multiplier", Condition: "weight_kg > 0", Value: 2},
		},
	})
	snap := store.Snapshot()
	exercise, ok := snap.Exercise("squat")
	require.True(t, ok)

	in := Input{ExerciseKey: "squat", WeightKg: ptr(1e308)}
	_, _, _, err := Evaluate(snap, exercise, in, in.Frame(UserContext{}), 0)

	assert.ErrorIs(t, err, ErrNonFinite)
}

func TestEvaluate_RuleFailureIsWarning(t *testing.T) {
	store := scenarioA(t)
	snap := store.Snapshot()
	exercise, ok := snap.Exercise("squat")
	require.True(t, ok)

	in := squatInput()
	frame := in.Frame(UserContext{})
	frame[condition.WeightKg] = condition.Bool(true)

	bd, applied, warnings, err := Evaluate(snap, exercise, in, frame, 0)
	require.NoError(t, err)

	assert.Empty(t, applied)
	assert.Equal(t, []string{"rule_evaluation_failed:heavy_lift", "rule_evaluation_failed:heavy_multiplier"}, warnings)
	assert.Equal(t, 265.0, bd.Total)
}

func TestRoundHalfUp(t *testing.T) {
	cases := []struct {
		v         float64
		precision int
		want      float64
	}{
		{442.5, 0, 443},
		{442.4999, 0, 442},
		{0.5, 0, 1},
		{1.5, 0, 2},
		{2.5, 0, 3},
		{442.5, 1, 442.5},
		{1.005, 2, 1.01},
		{1.004, 2, 1.0},
		{0, 0, 0},
		{123.456, 2, 123.46},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, roundHalfUp(c.v, c.precision), "roundHalfUp(%v, %d)", c.v, c.precision)
	}
}

func TestInput_FrameInputWins(t *testing.T) {
	in := Input{Reps: ptr(12), IsPersonalRecord: ptr(true)}
	frame := in.Frame(UserContext{StreakDays: 3, TotalPoints: 1500})

	assert.Equal(t, condition.Number(12), frame[condition.Reps])
	assert.Equal(t, condition.Bool(true), frame[condition.IsPersonalRecord])
	assert.Equal(t, condition.Number(3), frame[condition.StreakDays])
	assert.Equal(t, condition.Number(1500), frame[condition.TotalPoints])
	assert.Equal(t, condition.Number(0), frame[condition.Sets])
}

type stubProvider struct {
	uc    UserContext
	err   error
	calls int
}

func (sp *stubProvider) UserContext(context.Context, string) (UserContext, error) {
	sp.calls++
	return sp.uc, sp.err
}

func TestEngine_ContextProvider(t *testing.T) {
	store := newStore(t, catalog.Document{
		Exercises: []catalog.ExerciseRecord{running},
		Rules:     []catalog.RuleRecord{{ID: "veteran", Type: "bonus", Condition: "total_workouts >= 100", Value: 10}},
	})
	provider := &stubProvider{uc: UserContext{TotalWorkouts: 150}}
	engine := NewEngine(store, WithContextProvider(provider))

	result := engine.Calculate(context.Background(), Input{UserID: "u1", ExerciseKey: "running"})
	assert.Equal(t, 15.0, result.TotalPoints)
	assert.Equal(t, 1, provider.calls)

	result = engine.Calculate(context.Background(), Input{UserID: "u1", ExerciseKey: "running", UserContext: &UserContext{}})
	assert.Equal(t, 5.0, result.TotalPoints, "explicit context wins over provider")
	assert.Equal(t, 1, provider.calls)

	result = engine.Calculate(context.Background(), Input{ExerciseKey: "running"})
	assert.Equal(t, 5.0, result.TotalPoints, "anonymous input uses empty context")
	assert.Equal(t, 1, provider.calls)
}

func TestEngine_ContextProviderFailure(t *testing.T) {
	store := newStore(t, catalog.Document{Exercises: []catalog.ExerciseRecord{running}})
	engine := NewEngine(store, WithContextProvider(&stubProvider{err: errors.New("down")}))

	result := engine.Calculate(context.Background(), Input{UserID: "u1", ExerciseKey: "running"})

	assert.Equal(t, StatusOK, result.Status)
	assert.Equal(t, 5.0, result.TotalPoints)
	assert.Equal(t, []string{WarnContextUnavailable}, result.Warnings)
}

type recorder struct {
	mu       sync.Mutex
	results  []Result
	observed int
	checks   []float64
}

func (r *recorder) Record(_ context.Context, result Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func (r *recorder) ObserveCalculation(Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observed++
}

func (r *recorder) CheckAsync(_ string, frame condition.Frame, points float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks = append(r.checks, points)
}

func TestEngine_Collaborators(t *testing.T) {
	rec := &recorder{}
	engine := NewEngine(scenarioA(t),
		WithAuditSink(AuditSinks{rec}),
		WithObserver(rec),
		WithAchievements(rec),
	)

	in := squatInput()
	in.UserID = "u1"
	engine.Calculate(context.Background(), in)
	engine.Calculate(context.Background(), Input{UserID: "u1", ExerciseKey: "nope"})
	engine.Calculate(context.Background(), squatInput())

	assert.Len(t, rec.results, 3, "every result is audited")
	assert.Equal(t, 3, rec.observed)
	assert.Equal(t, []float64{443}, rec.checks, "achievements only for successful user calculations")
}

func TestEngine_CalculateBulk(t *testing.T) {
	engine := NewEngine(scenarioA(t), WithBulkParallelism(2))

	inputs := []Input{
		squatInput(),
		{ExerciseKey: "unknown"},
		{ExerciseKey: "running", DistanceKm: ptr(1.0)},
		{ExerciseKey: "squat", Sets: ptr(-1)},
		{ExerciseKey: "SQUAT"},
	}
	results := engine.CalculateBulk(context.Background(), inputs)

	require.Len(t, results, len(inputs))
	assert.Equal(t, 443.0, results[0].TotalPoints)
	assert.Equal(t, StatusError, results[1].Status)
	assert.Equal(t, 15.0, results[2].TotalPoints)
	assert.Equal(t, StatusError, results[3].Status)
	assert.Equal(t, StatusOK, results[4].Status)
	assert.Equal(t, "squat", results[4].ExerciseKey)
	assert.Equal(t, 10.0, results[4].TotalPoints)
}

func TestEngine_CalculateBulkEmpty(t *testing.T) {
	engine := NewEngine(scenarioA(t))
	assert.Empty(t, engine.CalculateBulk(context.Background(), nil))
}

type switchingSource struct {
	snapshots []*catalog.Snapshot
	calls     int
}

func (ss *switchingSource) Snapshot() *catalog.Snapshot {
	s := ss.snapshots[min(ss.calls, len(ss.snapshots)-1)]
	ss.calls++
	return s
}

func TestEngine_ReadsSnapshotOncePerCalculation(t *testing.T) {
	first := scenarioA(t).Snapshot()
	second := newStore(t, catalog.Document{Exercises: []catalog.ExerciseRecord{squat}}).Snapshot()
	source := &switchingSource{snapshots: []*catalog.Snapshot{first, second}}

	result := NewEngine(source).Calculate(context.Background(), squatInput())

	assert.Equal(t, 1, source.calls)
	assert.Equal(t, 443.0, result.TotalPoints)
}
