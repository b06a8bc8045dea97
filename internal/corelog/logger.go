// Package corelog is the connection handler's logging surface. It follows
// the flag-gated, color-coded style of the sewing-machine tools in this
// codebase family rather than a structured logging library, since a STOMP
// connection's log lines are read by a human watching a terminal far more
// often than they are shipped to a log aggregator.
package corelog

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

var (
	WarnEnabled  = true
	InfoEnabled  = true
	DebugEnabled = false
	TraceEnabled = false
)

// Logger prefixes every line with the session it belongs to, the way a
// broker's connection log always identifies which connection is talking.
type Logger struct {
	sessionID string
}

// New returns a Logger scoped to a connection. sessionID may be empty
// before the CONNECTED frame has assigned one.
func New(sessionID string) *Logger {
	return &Logger{sessionID: sessionID}
}

// WithSession returns a copy of l scoped to sessionID, used once the
// AUTHENTICATING->OPEN transition assigns the real session id.
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{sessionID: sessionID}
}

func (l *Logger) prefix() string {
	if l.sessionID == "" {
		return "[-]"
	}
	return "[" + l.sessionID + "]"
}

func (l *Logger) Info(format string, args ...interface{}) {
	if !InfoEnabled {
		return
	}
	color.New(color.FgGreen).Printf(l.prefix()+" "+format+"\n", args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	if !WarnEnabled {
		return
	}
	color.New(color.FgHiMagenta).Printf(l.prefix()+" WARN: "+format+"\n", args...)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if !DebugEnabled {
		return
	}
	color.New(color.FgCyan, color.Faint).Printf(l.prefix()+" "+format+"\n", args...)
}

func (l *Logger) Trace(format string, args ...interface{}) {
	if !TraceEnabled {
		return
	}
	color.New(color.FgCyan, color.Faint).Printf(l.prefix()+" TRACE: "+format+"\n", args...)
}

// Error always prints, in the manner of the teacher's Panicf: it never
// stops the process, since a connection error is scoped to one connection.
func (l *Logger) Error(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, l.prefix()+" ERROR: "+format+"\n", args...)
}
