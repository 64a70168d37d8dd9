// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"github.com/samber/oops"
)

// Error codes shared by plugins and the host.
const (
	CodeDeserialization      = "DESERIALIZATION_FAILED"
	CodeInitializationFailed = "INITIALIZATION_FAILED"
	CodeExecution            = "EXECUTION_ERROR"
	CodeInvalidKey           = "INVALID_KEY"
	CodeInvalidPlayerID      = "INVALID_PLAYER_ID"
	CodePayloadEncoding      = "PAYLOAD_ENCODING_FAILED"
)

// ErrDeserialization reports a payload that did not match the handler's type.
func ErrDeserialization(key Key, cause error) error {
	return oops.Code(CodeDeserialization).
		With("key", key.String()).
		Wrapf(cause, "decode payload for %s", key.String())
}

// ErrInitializationFailed reports a plugin that could not start. The host
// treats it as fatal to that plugin only.
func ErrInitializationFailed(pluginName string, cause error) error {
	return Classify(CodeInitializationFailed, cause, "plugin %s failed to initialize", pluginName)
}

// ErrExecution reports a failure inside a handler or shutdown hook.
func ErrExecution(pluginName string, cause error) error {
	return Classify(CodeExecution, cause, "plugin %s execution failed", pluginName)
}

// Classify wraps cause under code with "plugin" context. A cause that
// already carries an oops code is flattened to text so that code stays the
// reported one; its code is kept as "cause_code" and its context copied.
func Classify(code string, cause error, format, pluginName string) error {
	b := oops.Code(code).With("plugin", pluginName)

	oopsErr, ok := oops.AsOops(cause)
	if !ok {
		return b.Wrapf(cause, format, pluginName)
	}
	inner, _ := oopsErr.Code().(string)
	if inner == "" {
		return b.Wrapf(cause, format, pluginName)
	}
	for k, v := range oopsErr.Context() {
		b = b.With(k, v)
	}
	return b.With("plugin", pluginName).
		With("cause_code", inner).
		Errorf(format+": %s", pluginName, oopsErr.Error())
}
