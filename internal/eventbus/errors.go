// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package eventbus

import (
	"github.com/samber/oops"

	"github.com/holomush/plugbus/pkg/plugin"
)

// Error codes for bus failures.
const (
	CodeBusClosed      = "BUS_CLOSED"
	CodeInvalidPattern = "INVALID_PATTERN"
	CodeNilHandler     = "NIL_HANDLER"
	CodeHandlerPanic   = "HANDLER_PANIC"
)

// ErrBusClosed is returned when publishing after Close.
func ErrBusClosed(key plugin.Key) error {
	return oops.Code(CodeBusClosed).
		With("key", key.String()).
		Errorf("event bus is closed")
}

// ErrInvalidPattern reports a glob subscription that does not compile.
func ErrInvalidPattern(pattern string, cause error) error {
	return oops.Code(CodeInvalidPattern).
		With("pattern", pattern).
		Wrapf(cause, "invalid subscription pattern %q", pattern)
}

// ErrNilHandler reports a registration without a handler.
func ErrNilHandler(target string) error {
	return oops.Code(CodeNilHandler).
		With("target", target).
		Errorf("handler for %s is nil", target)
}

// ErrHandlerPanic converts a recovered panic into a handler failure.
func ErrHandlerPanic(handler string, key plugin.Key, recovered any) error {
	return oops.Code(CodeHandlerPanic).
		With("handler", handler).
		With("key", key.String()).
		Errorf("handler panicked: %v", recovered)
}
