package notifier

import (
	"io"

	"github.com/hive-corporation/cticollector/internal/config"
	"github.com/hive-corporation/cticollector/internal/core/ports"
	"github.com/hive-corporation/cticollector/internal/logger"
)

// FromConfig returns the configured notifiers and a closer for any
// connections they hold. NATS connection failures are logged, not fatal.
func FromConfig(cfg config.Config) ([]ports.Notifier, io.Closer) {
	var notifiers []ports.Notifier
	closers := closerFunc(func() error { return nil })

	if cfg.SlackBotToken != "" {
		notifiers = append(notifiers, NewSlackNotifier(cfg.SlackBotToken, cfg.SlackChannel, cfg.SlackMention))
		logger.Log().Info("✅ Slack notifier enabled")
	} else {
		logger.Log().Info("⚠️  Slack notifier disabled (no SLACK_BOT_TOKEN)")
	}

	if cfg.NATSURL != "" {
		n, nc, err := ConnectNATS(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			logger.Log().WithError(err).Warn("⚠️  NATS notifier disabled")
		} else {
			notifiers = append(notifiers, n)
			closers = func() error {
				nc.Close()
				return nil
			}
			logger.Log().Infof("✅ NATS notifier publishing on %s.*", cfg.NATSSubject)
		}
	}

	return notifiers, closers
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
