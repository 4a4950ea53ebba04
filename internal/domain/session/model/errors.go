// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"errors"
	"fmt"
)

// ErrorClass is the closed failure taxonomy of the session core.
type ErrorClass string

const (
	ClassNotFound        ErrorClass = "not_found"
	ClassInvalidArgument ErrorClass = "invalid_argument"
	ClassSpawnFailure    ErrorClass = "spawn_failure"
	ClassChannelFailure  ErrorClass = "channel_failure"
	ClassTimeout         ErrorClass = "timeout"
	ClassUpstreamFailure ErrorClass = "upstream_failure"
)

// Error is a classified failure. Op names the failing operation.
type Error struct {
	Class ErrorClass
	Op    string
	Err   error
}

// Sentinels for errors.Is matching by class.
var (
	ErrNotFound        = &Error{Class: ClassNotFound}
	ErrInvalidArgument = &Error{Class: ClassInvalidArgument}
	ErrSpawnFailure    = &Error{Class: ClassSpawnFailure}
	ErrChannelFailure  = &Error{Class: ClassChannelFailure}
	ErrTimeout         = &Error{Class: ClassTimeout}
	ErrUpstreamFailure = &Error{Class: ClassUpstreamFailure}
)

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Class, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Class, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Class)
	default:
		return string(e.Class)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same class, so callers can compare against
// the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Class == e.Class
}

// Errorf builds a classified error with a formatted cause.
func Errorf(class ErrorClass, op, format string, args ...any) *Error {
	return &Error{Class: class, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies an existing error. A nil err yields nil.
func Wrap(class ErrorClass, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: class, Op: op, Err: err}
}

// ClassOf returns the class of the first *Error in err's chain, or "".
func ClassOf(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}
