// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugins

import (
	"github.com/samber/oops"
)

// Error codes for plugin host failures.
const (
	CodeManifestInvalid = "MANIFEST_INVALID"
	CodeIncompatible    = "PLUGIN_INCOMPATIBLE"
	CodeDuplicatePlugin = "DUPLICATE_PLUGIN"
	CodeNotLoaded       = "PLUGIN_NOT_LOADED"
	CodeHostClosed      = "HOST_CLOSED"
)

func manifestError(field string) oops.OopsErrorBuilder {
	return oops.Code(CodeManifestInvalid).With("field", field)
}

// ErrNotLoaded reports an operation on a plugin the host does not know.
func ErrNotLoaded(name string) error {
	return oops.Code(CodeNotLoaded).
		With("plugin", name).
		Errorf("plugin %s is not loaded", name)
}

// ErrHostClosed reports an operation on a closed host.
func ErrHostClosed(name string) error {
	return oops.Code(CodeHostClosed).
		With("plugin", name).
		Errorf("plugin host is closed")
}
