package monitor

import "github.com/sirupsen/logrus"

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts to the logger at warn level.
type LogSink struct {
	Log *logrus.Logger
}

func (s LogSink) Send(message string) error {
	s.Log.WithField("alert", true).Warn(message)
	return nil
}
