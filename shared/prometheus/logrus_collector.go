package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// LogrusCollector is a logrus hook to collect log counters.
type LogrusCollector struct {
	counterVec *prometheus.CounterVec
}

var (
	supportedLevels = []logrus.Level{logrus.DebugLevel, logrus.InfoLevel, logrus.WarnLevel, logrus.ErrorLevel}
	prefixKey       = "prefix"
	defaultprefix   = "global"
)

// NewLogrusCollector register internal metrics and return a logrus hook to collect log counters.
// This function can be called only once, if more than one call is made an error will be thrown
// by the prometheus register.
func NewLogrusCollector() *LogrusCollector {
	counterVec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "log_entries_total",
		Help: "Total number of log messages.",
	}, []string{"level", prefixKey})
	prometheus.MustRegister(counterVec)
	return &LogrusCollector{
		counterVec: counterVec,
	}
}

// Fire is called on every log call.
func (hook *LogrusCollector) Fire(entry *logrus.Entry) error {
	prefix := defaultprefix
	if prefixValue, ok := entry.Data[prefixKey]; ok {
		var isString bool
		prefix, isString = prefixValue.(string)
		if !isString {
			prefix = defaultprefix
		}
	}
	hook.counterVec.WithLabelValues(entry.Level.String(), prefix).Inc()
	return nil
}

// Levels return a slice of levels supported by this hook.
func (hook *LogrusCollector) Levels() []logrus.Level {
	return supportedLevels
}
