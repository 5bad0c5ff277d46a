package push

import (
	"context"

	"medtrack/internal/types"
)

// LogSender implements types.PushSender by logging instead of sending. Used
// when no gateway is configured (local runs).
type LogSender struct {
	logger types.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger types.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, deviceToken string, payload map[string]any) error {
	suffix := deviceToken
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	s.logger.Info("stub: push send",
		"token_suffix", suffix,
		"title", payload[types.PayloadTitle],
	)
	return nil
}
