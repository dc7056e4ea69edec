package notifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/vigil/internal/models"
)

// LogNotifier writes notifications to the log instead of delivering them.
// It stands in for channels that have no transport configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notifier")}
}

// Name returns "log".
func (l *LogNotifier) Name() string {
	return "log"
}

// Send logs the notification.
func (l *LogNotifier) Send(_ context.Context, item *models.QueueItem) error {
	l.logger.Info("notification",
		zap.String("id", item.ID),
		zap.String("channel", string(item.NotificationType)),
		zap.String("recipient", recipientKey(item)),
		zap.String("priority", string(item.Priority)),
		zap.String("subject", item.Subject))
	return nil
}

// Close is a no-op.
func (l *LogNotifier) Close() error {
	return nil
}
