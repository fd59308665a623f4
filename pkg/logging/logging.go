// Package logging implements the ambient structured logger used across the
// sender/receiver reactor (SPEC_FULL.md §9 "ambient stack": logging must
// never block the reactor thread). It is grounded on the teacher's
// pkg/logger/logger.go (leveled, colored console output, a package-level
// default logger, Section/Banner helpers for cmd entrypoints) but replaces
// its ad hoc fmt.Sprintf/log.Println plumbing with github.com/rs/zerolog,
// and adds the bounded ring + drain goroutine the teacher never needed
// because raknet's logging call sites were never on a latency-sensitive
// hot path.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors the teacher's LevelDebug..LevelError ladder.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

type entry struct {
	level  zerolog.Level
	msg    string
	fields map[string]interface{}
}

const ringCapacity = 4096

// Logger enqueues formatted log entries onto a bounded ring and drains them
// from a dedicated goroutine, so a reactor hot path (peer state transition,
// decode failure, window overrun) never blocks on I/O (SPEC_FULL.md §9).
// Under sustained overflow, a new entry that finds the ring full is dropped
// and a running drop counter is folded into the next successfully logged
// line — spec.md's own "drop silently, count it" policy applied to the
// logger itself.
type Logger struct {
	zl      zerolog.Logger
	ring    chan entry
	dropped uint64
	closed  chan struct{}
	done    chan struct{}
}

// New builds a Logger writing to stderr at the given minimum level.
func New(level Level) *Logger {
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level.zerolog()).
		With().Timestamp().Logger()

	l := &Logger{
		zl:     zl,
		ring:   make(chan entry, ringCapacity),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go l.drain()
	return l
}

func (l *Logger) drain() {
	defer close(l.done)
	for {
		select {
		case e := <-l.ring:
			l.emit(e)
		case <-l.closed:
			for {
				select {
				case e := <-l.ring:
					l.emit(e)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) emit(e entry) {
	ev := l.zl.WithLevel(e.level)
	for k, v := range e.fields {
		ev = ev.Interface(k, v)
	}
	if d := l.dropped; d > 0 {
		ev = ev.Uint64("dropped", d)
		l.dropped = 0
	}
	ev.Msg(e.msg)
}

func (l *Logger) enqueue(e entry) {
	select {
	case l.ring <- e:
	default:
		l.dropped++
	}
}

// Debug, Info, Warn, Error enqueue a structured log line. fields must be an
// even-length, alternating key/value list (zerolog map convention).
func (l *Logger) Debug(msg string, fields ...interface{}) { l.log(zerolog.DebugLevel, msg, fields) }
func (l *Logger) Info(msg string, fields ...interface{})  { l.log(zerolog.InfoLevel, msg, fields) }
func (l *Logger) Warn(msg string, fields ...interface{})  { l.log(zerolog.WarnLevel, msg, fields) }
func (l *Logger) Error(msg string, fields ...interface{}) { l.log(zerolog.ErrorLevel, msg, fields) }

func (l *Logger) log(level zerolog.Level, msg string, kv []interface{}) {
	var fields map[string]interface{}
	if len(kv) > 0 {
		fields = make(map[string]interface{}, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			key, ok := kv[i].(string)
			if !ok {
				continue
			}
			fields[key] = kv[i+1]
		}
	}
	l.enqueue(entry{level: level, msg: msg, fields: fields})
}

// Close drains any queued entries synchronously and stops the background
// goroutine (spec.md §5 "Cancellation": resources release cleanly on
// Destroy).
func (l *Logger) Close() {
	close(l.closed)
	<-l.done
}

// Section prints an unadorned banner-style section header, used by
// cmd/ristsender and cmd/ristreceiver at startup (adapted from the
// teacher's pkg/logger.Section, stripped of ANSI color since it now runs
// ahead of the structured logger being configured).
func Section(title string) {
	border := "==============================================================="
	os.Stderr.WriteString("\n" + border + "\n " + title + "\n" + border + "\n\n")
}
