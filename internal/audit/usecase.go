package audit

import (
	"context"
	"log/slog"

	"repscore/internal/achievement"
	"repscore/internal/score"
)

// Sink persists the audit trail of calculations and unlocks.
type Sink interface {
	score.AuditSink
	achievement.Emitter
	Close() error
}

var (
	_ Sink = (*JSONSink)(nil)
	_ Sink = discardSink{}
)

// NewSink opens the JSON lines audit trail at file. Without a file the
// trail is disabled, which is logged once at startup.
func NewSink(file string, maxSize, maxBackups int) Sink {
	if file == "" {
		slog.Warn("Audit trail disabled, set audit.file to keep calculation records")
		return discardSink{}
	}
	return NewJSONSink(file, maxSize, maxBackups)
}

type discardSink struct{}

func (discardSink) Record(context.Context, score.Result) {}

func (discardSink) Emit(context.Context, achievement.Unlock) {}

func (discardSink) Close() error {
	return nil
}
