// Package meter provides Meter implementations.
package meter

import (
	"log/slog"

	"github.com/promptforge/promptforge"
)

// LogMeter logs service events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ promptforge.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnRequest(e promptforge.RequestEvent) {
	m.Logger.Info("request",
		"op", e.Operation,
		"user", e.UserID,
		"framework", e.Framework,
		"model", e.Model,
		"request_id", e.RequestID,
	)
}

func (m *LogMeter) OnResult(e promptforge.ResultEvent) {
	if e.Success {
		m.Logger.Info("result",
			"op", e.Operation,
			"user", e.UserID,
			"framework", e.Framework,
			"model", e.Model,
			"duration_ms", e.Duration.Milliseconds(),
			"prompt_tokens", e.Usage.PromptTokens,
			"completion_tokens", e.Usage.CompletionTokens,
		)
	} else {
		m.Logger.Warn("result_error",
			"op", e.Operation,
			"user", e.UserID,
			"framework", e.Framework,
			"model", e.Model,
			"duration_ms", e.Duration.Milliseconds(),
			"error", e.Error,
		)
	}
}
