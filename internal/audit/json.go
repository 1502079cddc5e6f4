package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"

	"repscore/internal/achievement"
	"repscore/internal/score"
)

const timeLayout = "2006-01-02 15:04:05"

// jsonlHandler is a slog handler that writes each record as one flat JSON
// object per line: the record time, the message as "event" and every
// attribute at the top level. The log level is omitted.
type jsonlHandler struct {
	out io.Writer
}

func newJSONLHandler(out io.Writer) *jsonlHandler {
	return &jsonlHandler{out: out}
}

func (h *jsonlHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, r.NumAttrs()+2)
	attrs["time"] = r.Time.UTC().Format(timeLayout)
	attrs["event"] = r.Message

	r.Attrs(func(a slog.Attr) bool {
		if a.Key != "" && a.Value.Any() != nil {
			attrs[a.Key] = a.Value.Any()
		}
		return true
	})

	data, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	_, err = h.out.Write(append(data, '\n'))
	return err
}

func (h *jsonlHandler) WithAttrs([]slog.Attr) slog.Handler {
	panic("WithAttrs is not supported by jsonlHandler")
}

func (h *jsonlHandler) WithGroup(string) slog.Handler {
	panic("WithGroup is not supported by jsonlHandler")
}

func (h *jsonlHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

// JSONSink is the audit trail: every calculation result and every
// achievement unlock is appended as a JSON line to a rotating file.
// It is safe for concurrent use.
type JSONSink struct {
	writer io.WriteCloser
	logger *slog.Logger
}

// NewJSONSink writes to file, rotating it after maxSize MB and keeping
// maxBackups compressed old files.
func NewJSONSink(file string, maxSize, maxBackups int) *JSONSink {
	return newJSONSink(&lumberjack.Logger{
		Filename:   file,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		Compress:   true,
	})
}

func newJSONSink(w io.WriteCloser) *JSONSink {
	return &JSONSink{
		writer: w,
		logger: slog.New(newJSONLHandler(w)),
	}
}

// Record appends a calculation result.
func (s *JSONSink) Record(ctx context.Context, result score.Result) {
	s.logger.InfoContext(ctx, "calculation", "result", result)
}

// Emit appends an achievement unlock.
func (s *JSONSink) Emit(ctx context.Context, unlock achievement.Unlock) {
	s.logger.InfoContext(ctx, "achievement_unlocked", "unlock", unlock)
}

// Close flushes and closes the underlying file.
func (s *JSONSink) Close() error {
	return s.writer.Close()
}
