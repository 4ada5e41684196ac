// Package pxlog is a thin prefixed wrapper around the standard log
// package, matching the teacher's habit of plain log.Printf calls tagged
// with a component name rather than a structured logging framework.
package pxlog

import "log"

// Logger prefixes every line with a subsystem tag.
type Logger struct {
	prefix string
}

// New returns a Logger that prefixes messages with "<component>: ".
func New(component string) Logger {
	return Logger{prefix: component + ": "}
}

func (l Logger) Printf(format string, args ...any) {
	log.Printf(l.prefix+format, args...)
}

func (l Logger) Println(args ...any) {
	log.Print(append([]any{l.prefix}, args...)...)
}
