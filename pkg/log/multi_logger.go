package log

// MultiLogger fans events out to several loggers. Nil entries are skipped.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger returns a MultiLogger over the given loggers.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	kept := make([]Logger, 0, len(loggers))
	for _, l := range loggers {
		if l != nil {
			kept = append(kept, l)
		}
	}
	return &MultiLogger{loggers: kept}
}

// Log forwards the event to every logger in order.
func (m *MultiLogger) Log(event Event) {
	for _, l := range m.loggers {
		l.Log(event)
	}
}

var _ Logger = (*MultiLogger)(nil)
