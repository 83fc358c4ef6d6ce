package ingest

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// watermillLogger bridges Watermill's logging interface onto zerolog.
type watermillLogger struct {
	log zerolog.Logger
}

func (w watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.event(w.log.Error().Err(err), msg, fields)
}

func (w watermillLogger) Info(msg string, fields watermill.LogFields) {
	w.event(w.log.Info(), msg, fields)
}

func (w watermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.event(w.log.Debug(), msg, fields)
}

func (w watermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.event(w.log.Trace(), msg, fields)
}

func (w watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	ctx := w.log.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return watermillLogger{ctx.Logger()}
}

func (w watermillLogger) event(e *zerolog.Event, msg string, fields watermill.LogFields) {
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	e.Msg(msg)
}
