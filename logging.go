package agentworld

import (
	"context"
	"log/slog"
	"os"
)

// nopLogger discards all output. Used wherever a logger was not configured.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// bridgeLogEnabled reports whether the compact LLM/tool bridge log is on
// (LOG_LLM_TOOL_BRIDGE=1). The bridge log is a debugging aid that prints one
// line per LLM call and tool dispatch.
func bridgeLogEnabled() bool {
	return os.Getenv("LOG_LLM_TOOL_BRIDGE") == "1"
}
