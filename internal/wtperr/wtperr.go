// Package wtperr defines the typed error categories used across the simulator's
// loops, per the propagation policy: loops log and continue except for Internal
// errors against a poisoned bank lock, or a NetworkError at bind time.
package wtperr

import "fmt"

// Category distinguishes how a loop should react to an error.
type Category int

const (
	Config Category = iota
	Network
	Client
	SimWarn
	Internal
)

func (c Category) String() string {
	switch c {
	case Config:
		return "ConfigError"
	case Network:
		return "NetworkError"
	case Client:
		return "ClientError"
	case SimWarn:
		return "SimulationWarn"
	case Internal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error is a categorized error with an optional wrapped cause.
type Error struct {
	Cat Category
	Msg string
	Err error
}

func New(cat Category, msg string) *Error {
	return &Error{Cat: cat, Msg: msg}
}

func Wrap(cat Category, msg string, err error) *Error {
	return &Error{Cat: cat, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Cat, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Cat, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Fatal reports whether an error of this category should terminate the process
// rather than be logged and continue. NetworkError is fatal only at bind time,
// which callers signal by using this category exclusively for bind failures.
func Fatal(err error) bool {
	var e *Error
	for err != nil {
		if ce, ok := err.(*Error); ok {
			e = ce
			break
		}
		break
	}
	if e == nil {
		return false
	}
	return e.Cat == Config || e.Cat == Network
}
