package engine

import "go.uber.org/zap"

// Notifier is a best-effort fire-and-forget message sink
type Notifier interface {
	Send(text string)
}

// LogNotifier writes notifications to the structured log
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier backed by the logger
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notifier")}
}

// Send logs the notification text
func (n *LogNotifier) Send(text string) {
	n.logger.Info("Notification", zap.String("text", text))
}

// NopNotifier drops every notification
type NopNotifier struct{}

func (NopNotifier) Send(string) {}
