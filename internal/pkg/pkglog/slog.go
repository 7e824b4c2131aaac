package pkglog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const serviceName = "gouploader"

//nolint:gochecknoglobals // shared by the default logger and SetLevel
var level = new(slog.LevelVar)

// InitLogging configures the default slog logger for the application.
//
// The logger writes JSON to stdout and normalizes a few common fields to make
// logs easier to query (for example, "ts" and "severity").
func InitLogging() {
	slog.SetDefault(New(os.Stdout))
}

// New builds the application logger writing JSON records to w.
func New(w io.Writer) *slog.Logger {
	jsonHandler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		AddSource:   true,
		ReplaceAttr: replaceAttr,
	})

	return slog.New(&contextHandler{Handler: jsonHandler})
}

// SetLevel changes the minimum level of every logger built by this package.
// Unknown values leave the level untouched.
func SetLevel(value string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return
	}
	level.Set(l)
}

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.TimeKey:
		a.Key = "ts"
	case slog.LevelKey:
		a.Key = "severity"
	case slog.SourceKey:
		if src, ok := a.Value.Any().(*slog.Source); ok {
			if strings.Contains(src.File, "/internal/") {
				relPath := filepath.Join("internal", strings.SplitAfter(src.File, "/internal/")[1])
				return slog.Attr{
					Key:   "file",
					Value: slog.StringValue(fmt.Sprintf("%s:%d", relPath, src.Line)),
				}
			}
			return slog.Attr{}
		}
	}
	return a
}

type contextHandler struct {
	slog.Handler
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if cID := GetCorrelationID(ctx); cID != "" && cID != "[invalid_chain_id]" {
		r.AddAttrs(slog.String("_cID", cID))
	}
	r.AddAttrs(slog.String("service", serviceName))

	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}
