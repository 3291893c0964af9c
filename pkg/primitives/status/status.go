// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package status defines the error categories returned by the primitives engine.
//
// Errors are wrapped (github.com/pkg/errors) around one of the sentinel errors below, so callers can
// test them with errors.Is, or get the category with CodeOf.
package status

import (
	"github.com/pkg/errors"
)

var (
	// ErrUnimplemented is returned when the requested type combination, post-op chain or ISA has no
	// kernel. The caller is expected to fall back to another implementation.
	ErrUnimplemented = errors.New("unimplemented")

	// ErrInvalidArgument is returned for malformed descriptors or tensor views.
	ErrInvalidArgument = errors.New("invalid arguments")

	// ErrResourceExhausted is returned when the scratchpad is too small or exceeds the configured limit.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrRuntime is returned when a worker fails during execution.
	ErrRuntime = errors.New("runtime error")
)

// Code is the category of an error.
type Code int

const (
	Success Code = iota
	Unimplemented
	InvalidArguments
	OutOfMemory
	RuntimeError
)

// String implements fmt.Stringer.
func (c Code) String() string {
	switch c {
	case Success:
		return "success"
	case Unimplemented:
		return "unimplemented"
	case InvalidArguments:
		return "invalid_arguments"
	case OutOfMemory:
		return "out_of_memory"
	case RuntimeError:
		return "runtime_error"
	}
	return "unknown"
}

// CodeOf returns the category of err. Errors not wrapping one of the sentinels are RuntimeError.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, ErrUnimplemented):
		return Unimplemented
	case errors.Is(err, ErrInvalidArgument):
		return InvalidArguments
	case errors.Is(err, ErrResourceExhausted):
		return OutOfMemory
	}
	return RuntimeError
}

// Unimplementedf returns an error wrapping ErrUnimplemented with the formatted message.
func Unimplementedf(format string, args ...any) error {
	return errors.Wrapf(ErrUnimplemented, format, args...)
}

// InvalidArgumentf returns an error wrapping ErrInvalidArgument with the formatted message.
func InvalidArgumentf(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidArgument, format, args...)
}

// ResourceExhaustedf returns an error wrapping ErrResourceExhausted with the formatted message.
func ResourceExhaustedf(format string, args ...any) error {
	return errors.Wrapf(ErrResourceExhausted, format, args...)
}
