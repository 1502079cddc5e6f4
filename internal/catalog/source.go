package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Source supplies raw definitions to the Store.
type Source interface {
	LoadExercises(ctx context.Context) ([]ExerciseRecord, error)
	LoadRules(ctx context.Context) ([]RuleRecord, error)
	LoadAchievements(ctx context.Context) ([]AchievementRecord, error)
}

// Document is the declarative layout of a definitions file:
//
//	exercises:
//	  - key: squat
//	    names: {en: Squat}
//	    category: strength
//	    base_points: 10
//	    multipliers: {reps: 1.0, sets: 5.0, weight: 0.1}
//	rules:
//	  - id: heavy_lift
//	    type: bonus
//	    condition: "weight_kg >= 50"
//	    value: 30
//	    priority: 10
//	achievements:
//	  - id: first_workout
//	    condition: "total_workouts >= 1"
//	    reward: 50
type Document struct {
	Exercises    []ExerciseRecord    `yaml:"exercises"`
	Rules        []RuleRecord        `yaml:"rules"`
	Achievements []AchievementRecord `yaml:"achievements"`
}

// ParseDocument decodes a YAML definitions document. Unknown fields are
// rejected so that typos do not silently fall back to defaults.
func ParseDocument(content []byte) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ConfigurationError{Err: fmt.Errorf("decode definitions: %w", err)}
	}
	return &doc, nil
}

// FileSource reads definitions from a YAML file on every load.
type FileSource struct {
	path string
}

// NewFileSource creates a Source backed by the YAML file at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Path returns the definitions file location.
func (fs *FileSource) Path() string {
	return fs.path
}

func (fs *FileSource) read(ctx context.Context) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content, err := os.ReadFile(fs.path)
	if err != nil {
		return nil, fmt.Errorf("read definitions: %w", err)
	}
	return ParseDocument(content)
}

func (fs *FileSource) LoadExercises(ctx context.Context) ([]ExerciseRecord, error) {
	doc, err := fs.read(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Exercises, nil
}

func (fs *FileSource) LoadRules(ctx context.Context) ([]RuleRecord, error) {
	doc, err := fs.read(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Rules, nil
}

func (fs *FileSource) LoadAchievements(ctx context.Context) ([]AchievementRecord, error) {
	doc, err := fs.read(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Achievements, nil
}

// StaticSource serves a fixed document. It is handy for embedding
// definitions and in tests.
type StaticSource struct {
	Document Document
}

func (ss *StaticSource) LoadExercises(context.Context) ([]ExerciseRecord, error) {
	return ss.Document.Exercises, nil
}

func (ss *StaticSource) LoadRules(context.Context) ([]RuleRecord, error) {
	return ss.Document.Rules, nil
}

func (ss *StaticSource) LoadAchievements(context.Context) ([]AchievementRecord, error) {
	return ss.Document.Achievements, nil
}
