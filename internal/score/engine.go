package score

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"repscore/internal/catalog"
	"repscore/internal/condition"
)

const (
	defaultBulkParallelism = 8

	// MaxMetricValue bounds every metric of an Input.
	MaxMetricValue = 1e9
)

// ErrNonFinite is returned by Evaluate when an intermediate value leaves
// the finite range.
var ErrNonFinite = errors.New("calculation is not finite")

// Engine turns logged activities into scored results using the live
// definitions snapshot. It is stateless between calls and safe for
// concurrent use; each call reads the snapshot exactly once, so a reload
// never affects a calculation already in flight.
type Engine struct {
	store           SnapshotSource
	precision       int
	bulkParallelism int

	contexts     ContextProvider
	audit        AuditSink
	achievements AchievementChecker
	observer     Observer
}

// Option configures an Engine.
type Option func(*Engine)

// WithPrecision sets the number of decimal places of TotalPoints.
func WithPrecision(precision int) Option {
	return func(e *Engine) {
		e.precision = min(max(precision, 0), MaxPrecision)
	}
}

// WithBulkParallelism bounds the number of concurrent calculations of
// CalculateBulk.
func WithBulkParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.bulkParallelism = n
		}
	}
}

func WithContextProvider(p ContextProvider) Option {
	return func(e *Engine) {
		e.contexts = p
	}
}

func WithAuditSink(sink AuditSink) Option {
	return func(e *Engine) {
		e.audit = sink
	}
}

func WithAchievements(checker AchievementChecker) Option {
	return func(e *Engine) {
		e.achievements = checker
	}
}

func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// NewEngine creates an engine over store.
func NewEngine(store SnapshotSource, opts ...Option) *Engine {
	e := &Engine{
		store:           store,
		bulkParallelism: defaultBulkParallelism,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Calculate scores a single activity. Every failure is reported inside the
// result; Calculate never returns an error and never panics on bad input.
func (e *Engine) Calculate(ctx context.Context, in Input) Result {
	start := time.Now()
	snap := e.store.Snapshot()

	result := Result{
		ID:               uuid.NewString(),
		UserID:           in.UserID,
		ExerciseKey:      catalog.NormalizeKey(in.ExerciseKey),
		Status:           StatusOK,
		AppliedRules:     []string{},
		Errors:           []string{},
		Warnings:         []string{},
		ConfigGeneration: snap.Generation,
		CalculatedAt:     start.UTC(),
	}

	var frame condition.Frame
	exercise, found := snap.Exercise(in.ExerciseKey)
	problems := validateInput(in)
	switch {
	case !found:
		result.Status = StatusError
		result.Errors = append(result.Errors, ErrUnknownExercise)
	case len(problems) > 0:
		result.Status = StatusError
		result.Errors = append(result.Errors, problems...)
	default:
		uc := e.resolveContext(ctx, in, &result)
		frame = in.Frame(uc)
		breakdown, applied, warnings, err := Evaluate(snap, exercise, in, frame, e.precision)
		result.Warnings = append(result.Warnings, warnings...)
		if err != nil {
			slog.Warn("Calculation overflow", "exercise", exercise.Key, "error", err)
			result.Status = StatusError
			result.Errors = append(result.Errors, ErrOverflow)
			break
		}
		result.Breakdown = &breakdown
		result.TotalPoints = breakdown.Total
		result.AppliedRules = append(result.AppliedRules, applied...)
	}

	result.CalculationTimeMs = float64(time.Since(start).Microseconds()) / 1000

	if e.audit != nil {
		e.audit.Record(ctx, result)
	}
	if e.observer != nil {
		e.observer.ObserveCalculation(result)
	}
	if e.achievements != nil && result.Status == StatusOK && result.UserID != "" {
		e.achievements.CheckAsync(result.UserID, frame, result.TotalPoints)
	}

	return result
}

// CalculateBulk scores every input independently and returns results in
// input order. One failing item never affects its siblings.
func (e *Engine) CalculateBulk(ctx context.Context, inputs []Input) []Result {
	results := make([]Result, len(inputs))

	var g errgroup.Group
	g.SetLimit(e.bulkParallelism)
	for i := range inputs {
		g.Go(func() error {
			results[i] = e.Calculate(ctx, inputs[i])
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (e *Engine) resolveContext(ctx context.Context, in Input, result *Result) UserContext {
	if in.UserContext != nil {
		return *in.UserContext
	}
	if in.UserID == "" || e.contexts == nil {
		return UserContext{}
	}

	uc, err := e.contexts.UserContext(ctx, in.UserID)
	if err != nil {
		slog.Warn("User context unavailable", "user", in.UserID, "error", err)
		result.Warnings = append(result.Warnings, WarnContextUnavailable)
		return UserContext{}
	}
	return uc
}

// Evaluate performs the deterministic arithmetic of a calculation:
//
//	subtotal = base + reps + sets + weight + distance + duration terms
//	subtotal += value         for each matching bonus, priority then id
//	subtotal *= value         for each matching multiplier, same order
//	total = roundHalfUp(max(subtotal, 0), precision)
//
// Multipliers compose multiplicatively. A rule whose condition cannot be
// evaluated is skipped and reported as a warning. Every step must stay
// finite, otherwise Evaluate stops with ErrNonFinite.
func Evaluate(snap *catalog.Snapshot, exercise catalog.Exercise, in Input, frame condition.Frame, precision int) (Breakdown, []string, []string, error) {
	base := exercise.BasePoints
	m := exercise.Multipliers

	bd := Breakdown{
		Base:        base,
		Precision:   precision,
		Rounding:    RoundingHalfUp,
		Bonuses:     []AppliedRule{},
		Multipliers: []AppliedRule{},
	}
	bd.Metrics = []MetricTerm{
		metricTerm("reps", float64(deref(in.Reps)), base, m.Reps),
		metricTerm("sets", float64(deref(in.Sets)), base, m.Sets),
		metricTerm("weight", deref(in.WeightKg), 1, m.Weight),
		metricTerm("distance", deref(in.DistanceKm), 1, m.Distance),
		metricTerm("duration", deref(in.DurationSeconds)/60, 1, m.Duration),
	}

	applied := []string{}
	warnings := []string{}

	subtotal := base
	for _, term := range bd.Metrics {
		subtotal += term.Points
		if !finite(subtotal) {
			return Breakdown{}, nil, warnings, fmt.Errorf("%w: metric %s", ErrNonFinite, term.Metric)
		}
	}
	bd.Subtotal = subtotal

	for _, rule := range snap.ActiveRules(catalog.RuleBonus) {
		ok, err := rule.Matches(frame)
		if err != nil {
			slog.Warn("Rule evaluation failed", "rule", rule.ID, "error", err)
			warnings = append(warnings, WarnRuleEvaluation+":"+rule.ID)
			continue
		}
		if !ok {
			continue
		}
		before := subtotal
		subtotal += rule.Value
		if !finite(subtotal) {
			return Breakdown{}, nil, warnings, fmt.Errorf("%w: bonus %s", ErrNonFinite, rule.ID)
		}
		bd.Bonuses = append(bd.Bonuses, AppliedRule{RuleID: rule.ID, Value: rule.Value, Before: before, After: subtotal})
		applied = append(applied, rule.ID)
	}

	for _, rule := range snap.ActiveRules(catalog.RuleMultiplier) {
		ok, err := rule.Matches(frame)
		if err != nil {
			slog.Warn("Rule evaluation failed", "rule", rule.ID, "error", err)
			warnings = append(warnings, WarnRuleEvaluation+":"+rule.ID)
			continue
		}
		if !ok {
			continue
		}
		before := subtotal
		subtotal *= rule.Value
		if !finite(subtotal) {
			return Breakdown{}, nil, warnings, fmt.Errorf("%w: multiplier %s", ErrNonFinite, rule.ID)
		}
		bd.Multipliers = append(bd.Multipliers, AppliedRule{RuleID: rule.ID, Value: rule.Value, Before: before, After: subtotal})
		applied = append(applied, rule.ID)
	}

	bd.Unclamped = subtotal
	bd.Clamped = math.Max(subtotal, 0)
	bd.Total = roundHalfUp(bd.Clamped, precision)

	return bd, applied, warnings, nil
}

func metricTerm(metric string, amount, scale, multiplier float64) MetricTerm {
	return MetricTerm{
		Metric:     metric,
		Amount:     amount,
		Scale:      scale,
		Multiplier: multiplier,
		Points:     scale * amount * multiplier,
	}
}

// validateInput rejects negative, non-finite and out-of-range metrics.
func validateInput(in Input) []string {
	var problems []string
	check := func(name string, v float64) {
		if !finite(v) || v < 0 || v > MaxMetricValue {
			problems = append(problems, fmt.Sprintf("%s:%s", ErrInvalidInput, name))
		}
	}
	check("reps", float64(deref(in.Reps)))
	check("sets", float64(deref(in.Sets)))
	check("weightKg", deref(in.WeightKg))
	check("distanceKm", deref(in.DistanceKm))
	check("durationSeconds", deref(in.DurationSeconds))
	return problems
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
