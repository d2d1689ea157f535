// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package errors wraps pkg/errors and includes some custom features such as
// error codes.
package errors

import (
	"github.com/pkg/errors"
)

// Code is an error code which can be used to check against a given error. For
// example, see the Is() method.
type Code string

// Error codes raised by the monitoring subsystem.
const (
	ErrUncoded Code = "Uncoded"

	// ErrMapFailed means the shared memory region could not be created
	// or attached.
	ErrMapFailed Code = "MapFailed"

	// ErrVersionMismatch means the region carries an incompatible
	// layout version.
	ErrVersionMismatch Code = "VersionMismatch"

	// ErrMonTableExhausted means the region needed to grow and could
	// not.
	ErrMonTableExhausted Code = "MonTableExhausted"

	// ErrMutexCorrupt means the cross-process region mutex returned an
	// unrecoverable error.
	ErrMutexCorrupt Code = "MutexCorrupt"

	// ErrBadDump means a truncated or malformed record was found while
	// reading a snapshot.
	ErrBadDump Code = "BadDump"

	// ErrLockTimeout means the monitor lock could not be obtained within
	// the engine's wait semantics.
	ErrLockTimeout Code = "LockTimeout"
)

func New(code Code, message string) error {
	return errors.WithStack(codedError{
		Code:    code,
		Message: message,
	})
}

func Newf(code Code, format string, args ...interface{}) error {
	return errors.WithStack(codedError{
		Code:    code,
		Message: errors.Errorf(format, args...).Error(),
	})
}

func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

func Cause(err error) error {
	return errors.Cause(err)
}

func Errorf(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

// Is is a fork of the Is() method from `pkg/errors` which takes as its target
// an error Code instead of an error.
func Is(err error, target Code) bool {
	match := codedError{
		Code: target,
	}
	return errors.Is(err, match)
}

func Unwrap(err error) error {
	return errors.Unwrap(err)
}

func WithMessage(err error, message string) error {
	return errors.WithMessage(err, message)
}

func WithMessagef(err error, format string, args ...interface{}) error {
	return errors.WithMessagef(err, format, args...)
}

func WithStack(err error) error {
	return errors.WithStack(err)
}

func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

func Wrapf(err error, fmt string, args ...interface{}) error {
	return errors.Wrapf(err, fmt, args...)
}

// codedError is the fundamental type used by this package to provide coded
// errors.
type codedError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (ce codedError) Error() string {
	return ce.Message
}

func (ce codedError) Is(err error) bool {
	if e, ok := err.(codedError); ok && ce.Code == e.Code {
		return true
	}
	return false
}
