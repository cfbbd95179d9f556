package dieselframe

import (
	"io"

	"golang.org/x/exp/slog"
)

// NewLogger returns a text logger writing records at or above level to w.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func orDiscard(log *slog.Logger) *slog.Logger {
	if log == nil {
		return discardLogger()
	}
	return log
}
