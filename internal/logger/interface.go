package logger

import (
	"codeberg.org/mutker/sawctl/internal/errors"
	"github.com/rs/zerolog"
)

// Logger is handed to every component at construction. With returns the
// same sink tagged with another component name.
type Logger interface {
	Debug() *LogEvent
	Info() *LogEvent
	Warn() *LogEvent
	Error() *LogEvent
	ErrorWithCode(err errors.Error) *LogEvent
	With(component string) Logger
}

// LogEvent is a pending entry; fields chain on the embedded event.
type LogEvent struct {
	*zerolog.Event
}

func (e *LogEvent) Msg(msg string) {
	e.Event.Msg(msg)
}

func (e *LogEvent) Send() {
	e.Event.Send()
}
