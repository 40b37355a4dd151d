package pubsub

import (
	"github.com/ThreeDotsLabs/watermill"

	"github.com/trezcool/campus/core"
)

// loggerAdapter routes watermill logs to the app logger.
type loggerAdapter struct {
	logger core.Logger
	fields watermill.LogFields
}

func NewLoggerAdapter(logger core.Logger) watermill.LoggerAdapter {
	return &loggerAdapter{logger: logger}
}

func (l *loggerAdapter) extras(fields watermill.LogFields) map[string]interface{} {
	all := l.fields.Add(fields)
	extras := make(map[string]interface{}, len(all))
	for k, v := range all {
		extras[k] = v
	}
	return extras
}

func (l *loggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	l.logger.Error(msg, err, l.extras(fields))
}

func (l *loggerAdapter) Info(msg string, fields watermill.LogFields) {
	l.logger.Info(msg, l.extras(fields))
}

func (l *loggerAdapter) Debug(msg string, fields watermill.LogFields) {
	l.logger.Debug(msg, l.extras(fields))
}

func (l *loggerAdapter) Trace(msg string, fields watermill.LogFields) {}

func (l *loggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &loggerAdapter{logger: l.logger, fields: l.fields.Add(fields)}
}
