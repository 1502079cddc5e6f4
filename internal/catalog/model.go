package catalog

import (
	"errors"

	"repscore/internal/condition"
)

// RuleType selects how a rule changes the running total.
type RuleType string

const (
	// RuleBonus adds Value to the running total.
	RuleBonus RuleType = "bonus"
	// RuleMultiplier multiplies the running total by Value.
	RuleMultiplier RuleType = "multiplier"
)

// ErrNotCompiled is returned when a definition is evaluated without a
// compiled condition, which only happens for disabled definitions.
var ErrNotCompiled = errors.New("condition not compiled")

// Multipliers are the per-metric weights of an exercise.
type Multipliers struct {
	Reps     float64 `json:"reps" yaml:"reps"`
	Sets     float64 `json:"sets" yaml:"sets"`
	Weight   float64 `json:"weight" yaml:"weight"`
	Distance float64 `json:"distance" yaml:"distance"`
	Duration float64 `json:"duration" yaml:"duration"`
}

// Exercise is a validated exercise definition.
type Exercise struct {
	Key         string            `json:"key"`
	Names       map[string]string `json:"names,omitempty"`
	Category    string            `json:"category"`
	BasePoints  float64           `json:"basePoints"`
	Multipliers Multipliers       `json:"multipliers"`
}

// Rule is a validated bonus or multiplier rule. A rule whose condition did
// not compile is kept with Enabled=false and the reason recorded.
type Rule struct {
	ID             string   `json:"id"`
	Type           RuleType `json:"type"`
	Condition      string   `json:"condition"`
	Value          float64  `json:"value"`
	Priority       int      `json:"priority"`
	Enabled        bool     `json:"enabled"`
	DisabledReason string   `json:"disabledReason,omitempty"`
	Variables      []string `json:"variables,omitempty"`

	expr condition.Expr
}

// Matches evaluates the rule condition against frame.
func (r Rule) Matches(frame condition.Frame) (bool, error) {
	if r.expr == nil {
		return false, ErrNotCompiled
	}
	return r.expr.Eval(frame)
}

// Achievement is a validated achievement definition.
type Achievement struct {
	ID             string   `json:"id"`
	Name           string   `json:"name,omitempty"`
	Condition      string   `json:"condition"`
	Reward         float64  `json:"reward"`
	Category       string   `json:"category"`
	Enabled        bool     `json:"enabled"`
	DisabledReason string   `json:"disabledReason,omitempty"`
	Variables      []string `json:"variables,omitempty"`

	expr condition.Expr
}

// Matches evaluates the achievement condition against frame.
func (a Achievement) Matches(frame condition.Frame) (bool, error) {
	if a.expr == nil {
		return false, ErrNotCompiled
	}
	return a.expr.Eval(frame)
}

// ExerciseRecord is a raw exercise definition as supplied by a Source.
type ExerciseRecord struct {
	Key         string            `yaml:"key"`
	Names       map[string]string `yaml:"names"`
	Category    string            `yaml:"category"`
	BasePoints  float64           `yaml:"base_points"`
	Multipliers Multipliers       `yaml:"multipliers"`
}

// RuleRecord is a raw rule definition. Pointer fields are optional.
type RuleRecord struct {
	ID        string  `yaml:"id"`
	Type      string  `yaml:"type"`
	Condition string  `yaml:"condition"`
	Value     float64 `yaml:"value"`
	Priority  *int    `yaml:"priority"`
	Enabled   *bool   `yaml:"enabled"`
}

// AchievementRecord is a raw achievement definition.
type AchievementRecord struct {
	ID        string  `yaml:"id"`
	Name      string  `yaml:"name"`
	Condition string  `yaml:"condition"`
	Reward    float64 `yaml:"reward"`
	Category  string  `yaml:"category"`
	Enabled   *bool   `yaml:"enabled"`
}
