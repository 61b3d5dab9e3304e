package prometheus

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var logMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "log_entries_total",
	Help: "Count of log messages emitted, by level and package prefix.",
}, []string{"level", "prefix"})

// LogrusCollector is a logrus hook counting emitted log entries so that
// operators can alert on warning and error rates per package.
type LogrusCollector struct{}

// NewLogrusCollector returns a hook ready to be attached via logrus.AddHook.
func NewLogrusCollector() *LogrusCollector {
	return &LogrusCollector{}
}

// Fire is called on every log call.
func (*LogrusCollector) Fire(entry *logrus.Entry) error {
	prefix := "global"
	if v, ok := entry.Data["prefix"]; ok {
		s, ok := v.(string)
		if !ok {
			return errors.New("prefix is not a string")
		}
		prefix = s
	}
	logMessagesTotal.WithLabelValues(entry.Level.String(), prefix).Inc()
	return nil
}

// Levels returns the log levels the hook counts.
func (*LogrusCollector) Levels() []logrus.Level {
	return []logrus.Level{logrus.InfoLevel, logrus.WarnLevel, logrus.ErrorLevel}
}
