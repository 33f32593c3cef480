package mailer

import (
	"context"

	"go.uber.org/zap"
)

// LogTransport writes messages to the log instead of delivering them. It is
// meant for local development, where the links have to be read from the log.
type LogTransport struct {
	logger *zap.Logger
}

// NewLogTransport creates a log transport
func NewLogTransport(logger *zap.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Send(_ context.Context, msg *Message) error {
	t.logger.Info("outbound email",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Text),
	)
	return nil
}

func (t *LogTransport) Close() error {
	return nil
}
