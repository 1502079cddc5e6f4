package catalog

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"repscore/internal/condition"
)

const (
	defaultPriority = 100
	defaultCategory = "general"
)

// ConfigurationError is returned when a definitions set fails validation.
// Err combines every problem found; the whole set is rejected.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Problems lists the individual validation failures.
func (e *ConfigurationError) Problems() []string {
	errs := multierr.Errors(e.Err)
	problems := make([]string, 0, len(errs))
	for _, err := range errs {
		problems = append(problems, err.Error())
	}
	return problems
}

// ReloadReport summarises a successful reload.
type ReloadReport struct {
	Generation           uint64 `json:"generation"`
	Exercises            int    `json:"exercises"`
	Rules                int    `json:"rules"`
	DisabledRules        int    `json:"disabledRules"`
	Achievements         int    `json:"achievements"`
	DisabledAchievements int    `json:"disabledAchievements"`
}

// Store serves the current definitions snapshot and swaps it atomically on
// reload. Readers call Snapshot once per operation; reloads are serialized.
type Store struct {
	source  Source
	current atomic.Pointer[Snapshot]

	// reloadMu serializes reloads and guards generation.
	reloadMu   sync.Mutex
	generation uint64

	// onReload is called with the outcome of every reload attempt.
	onReload func(ReloadReport, error)
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithReloadHook registers fn to observe reload outcomes.
func WithReloadHook(fn func(ReloadReport, error)) StoreOption {
	return func(s *Store) {
		s.onReload = fn
	}
}

// NewStore creates a Store reading from source. The store serves an empty
// generation-0 snapshot until the first successful Reload.
func NewStore(source Source, opts ...StoreOption) *Store {
	s := &Store{source: source}
	for _, opt := range opts {
		opt(s)
	}
	s.current.Store(emptySnapshot())
	return s
}

// Snapshot returns the live definitions. The returned value is immutable.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Generation returns the generation of the live snapshot.
func (s *Store) Generation() uint64 {
	return s.Snapshot().Generation
}

func (s *Store) Exercise(key string) (Exercise, bool) {
	return s.Snapshot().Exercise(key)
}

func (s *Store) Exercises() []Exercise {
	return s.Snapshot().Exercises()
}

func (s *Store) Rules(ruleType RuleType) []Rule {
	return s.Snapshot().Rules(ruleType)
}

func (s *Store) Achievements() []Achievement {
	return s.Snapshot().Achievements()
}

// Reload loads every definition from the source, validates the whole set
// and, only if it is valid, publishes it as the next generation. On any
// error the previous snapshot keeps serving.
func (s *Store) Reload(ctx context.Context) (report ReloadReport, err error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	defer func() {
		if s.onReload != nil {
			s.onReload(report, err)
		}
	}()

	exercises, err := s.source.LoadExercises(ctx)
	if err != nil {
		return ReloadReport{}, fmt.Errorf("load exercises: %w", err)
	}
	rules, err := s.source.LoadRules(ctx)
	if err != nil {
		return ReloadReport{}, fmt.Errorf("load rules: %w", err)
	}
	achievements, err := s.source.LoadAchievements(ctx)
	if err != nil {
		return ReloadReport{}, fmt.Errorf("load achievements: %w", err)
	}

	staged, err := build(exercises, rules, achievements)
	if err != nil {
		slog.Warn("Definitions rejected", "error", err, "generation", s.generation)
		return ReloadReport{}, err
	}

	s.generation++
	staged.Generation = s.generation
	staged.LoadedAt = time.Now().UTC()
	s.current.Store(staged)

	report = staged.report()
	for _, r := range staged.rules {
		if r.DisabledReason != "" {
			slog.Warn("Rule disabled", "rule", r.ID, "reason", r.DisabledReason)
		}
	}
	slog.Info("Definitions loaded",
		"generation", report.Generation,
		"exercises", report.Exercises,
		"rules", report.Rules,
		"disabled_rules", report.DisabledRules,
		"achievements", report.Achievements,
	)

	return report, nil
}

// NormalizeKey returns the lookup form of an exercise key.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// build validates raw records into a staging snapshot. Structural problems
// are collected and returned together; condition compile failures only
// disable the affected definition.
func build(exercises []ExerciseRecord, rules []RuleRecord, achievements []AchievementRecord) (*Snapshot, error) {
	var errs error
	snap := &Snapshot{
		exercises: make(map[string]Exercise, len(exercises)),
	}

	for i, rec := range exercises {
		key := NormalizeKey(rec.Key)
		if key == "" {
			errs = multierr.Append(errs, fmt.Errorf("exercises[%d]: key must be specified", i))
			continue
		}
		if _, dup := snap.exercises[key]; dup {
			errs = multierr.Append(errs, fmt.Errorf("exercises[%d]: duplicate key %q", i, key))
			continue
		}
		if !finite(rec.BasePoints) || rec.BasePoints < 0 {
			errs = multierr.Append(errs, fmt.Errorf("exercise %q: base_points must be a non-negative number", key))
			continue
		}
		m := rec.Multipliers
		if !allFinite(m.Reps, m.Sets, m.Weight, m.Distance, m.Duration) ||
			m.Reps < 0 || m.Sets < 0 || m.Weight < 0 || m.Distance < 0 || m.Duration < 0 {
			errs = multierr.Append(errs, fmt.Errorf("exercise %q: multipliers must be non-negative numbers", key))
			continue
		}
		category := strings.TrimSpace(rec.Category)
		if category == "" {
			category = defaultCategory
		}
		snap.exercises[key] = Exercise{
			Key:         key,
			Names:       rec.Names,
			Category:    category,
			BasePoints:  rec.BasePoints,
			Multipliers: m,
		}
		snap.exerciseKeys = append(snap.exerciseKeys, key)
	}
	slices.Sort(snap.exerciseKeys)

	ruleIDs := make(map[string]bool, len(rules))
	for i, rec := range rules {
		id := strings.TrimSpace(rec.ID)
		if id == "" {
			errs = multierr.Append(errs, fmt.Errorf("rules[%d]: id must be specified", i))
			continue
		}
		if ruleIDs[id] {
			errs = multierr.Append(errs, fmt.Errorf("rules[%d]: duplicate id %q", i, id))
			continue
		}
		ruleIDs[id] = true

		ruleType := RuleType(strings.ToLower(strings.TrimSpace(rec.Type)))
		if ruleType != RuleBonus && ruleType != RuleMultiplier {
			errs = multierr.Append(errs, fmt.Errorf("rule %q: unsupported type %q", id, rec.Type))
			continue
		}
		if !finite(rec.Value) {
			errs = multierr.Append(errs, fmt.Errorf("rule %q: value must be a finite number", id))
			continue
		}

		rule := Rule{
			ID:        id,
			Type:      ruleType,
			Condition: rec.Condition,
			Value:     rec.Value,
			Priority:  defaultPriority,
			Enabled:   true,
		}
		if rec.Priority != nil {
			rule.Priority = *rec.Priority
		}
		if rec.Enabled != nil {
			rule.Enabled = *rec.Enabled
		}

		expr, err := condition.Parse(rec.Condition, condition.RuleIdentifiers)
		if err != nil {
			rule.Enabled = false
			rule.DisabledReason = fmt.Sprintf("invalid condition: %s", err)
		} else {
			rule.expr = expr
			rule.Variables = condition.Identifiers(expr)
		}
		snap.rules = append(snap.rules, rule)
	}
	slices.SortFunc(snap.rules, compareRules)

	achievementIDs := make(map[string]bool, len(achievements))
	for i, rec := range achievements {
		id := strings.TrimSpace(rec.ID)
		if id == "" {
			errs = multierr.Append(errs, fmt.Errorf("achievements[%d]: id must be specified", i))
			continue
		}
		if achievementIDs[id] {
			errs = multierr.Append(errs, fmt.Errorf("achievements[%d]: duplicate id %q", i, id))
			continue
		}
		achievementIDs[id] = true

		if !finite(rec.Reward) || rec.Reward < 0 {
			errs = multierr.Append(errs, fmt.Errorf("achievement %q: reward must be a non-negative number", id))
			continue
		}

		achievement := Achievement{
			ID:        id,
			Name:      rec.Name,
			Condition: rec.Condition,
			Reward:    rec.Reward,
			Category:  strings.TrimSpace(rec.Category),
			Enabled:   true,
		}
		if achievement.Category == "" {
			achievement.Category = defaultCategory
		}
		if rec.Enabled != nil {
			achievement.Enabled = *rec.Enabled
		}

		expr, err := condition.Parse(rec.Condition, condition.AchievementIdentifiers)
		if err != nil {
			achievement.Enabled = false
			achievement.DisabledReason = fmt.Sprintf("invalid condition: %s", err)
		} else {
			achievement.expr = expr
			achievement.Variables = condition.Identifiers(expr)
		}
		snap.achievements = append(snap.achievements, achievement)
	}
	slices.SortFunc(snap.achievements, func(a, b Achievement) int {
		return cmp.Compare(a.ID, b.ID)
	})

	if errs != nil {
		return nil, &ConfigurationError{Err: errs}
	}

	for _, r := range snap.rules {
		if !r.Enabled {
			continue
		}
		switch r.Type {
		case RuleBonus:
			snap.bonuses = append(snap.bonuses, r)
		case RuleMultiplier:
			snap.multipliers = append(snap.multipliers, r)
		}
	}

	return snap, nil
}

// compareRules orders rules by type, then priority ascending, then id.
// Declaration order never influences the result.
func compareRules(a, b Rule) int {
	return cmp.Or(
		cmp.Compare(a.Type, b.Type),
		cmp.Compare(a.Priority, b.Priority),
		cmp.Compare(a.ID, b.ID),
	)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func allFinite(values ...float64) bool {
	for _, v := range values {
		if !finite(v) {
			return false
		}
	}
	return true
}
