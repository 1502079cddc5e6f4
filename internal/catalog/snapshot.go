package catalog

import (
	"slices"
	"time"
)

// Snapshot is one immutable generation of definitions. Slices returned by
// its accessors are copies; rules are ordered by priority then id.
type Snapshot struct {
	Generation uint64
	LoadedAt   time.Time

	exercises    map[string]Exercise
	exerciseKeys []string
	rules        []Rule
	bonuses      []Rule
	multipliers  []Rule
	achievements []Achievement
}

func emptySnapshot() *Snapshot {
	return &Snapshot{exercises: map[string]Exercise{}}
}

// Exercise looks up an exercise by key, ignoring case and surrounding space.
func (s *Snapshot) Exercise(key string) (Exercise, bool) {
	e, ok := s.exercises[NormalizeKey(key)]
	return e, ok
}

// Exercises returns all exercises sorted by key.
func (s *Snapshot) Exercises() []Exercise {
	out := make([]Exercise, 0, len(s.exerciseKeys))
	for _, key := range s.exerciseKeys {
		out = append(out, s.exercises[key])
	}
	return out
}

// Rules returns every rule of ruleType, disabled ones included. An empty
// ruleType returns all rules.
func (s *Snapshot) Rules(ruleType RuleType) []Rule {
	if ruleType == "" {
		return slices.Clone(s.rules)
	}
	var out []Rule
	for _, r := range s.rules {
		if r.Type == ruleType {
			out = append(out, r)
		}
	}
	return out
}

// ActiveRules returns the enabled rules of ruleType in application order.
// The returned slice must not be modified.
func (s *Snapshot) ActiveRules(ruleType RuleType) []Rule {
	switch ruleType {
	case RuleBonus:
		return s.bonuses
	case RuleMultiplier:
		return s.multipliers
	default:
		return nil
	}
}

// Achievements returns all achievements sorted by id.
func (s *Snapshot) Achievements() []Achievement {
	return slices.Clone(s.achievements)
}

func (s *Snapshot) report() ReloadReport {
	r := ReloadReport{
		Generation:   s.Generation,
		Exercises:    len(s.exercises),
		Rules:        len(s.rules),
		Achievements: len(s.achievements),
	}
	for _, rule := range s.rules {
		if !rule.Enabled {
			r.DisabledRules++
		}
	}
	for _, a := range s.achievements {
		if !a.Enabled {
			r.DisabledAchievements++
		}
	}
	return r
}
