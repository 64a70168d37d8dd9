// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package lua runs scripted plugins in sandboxed gopher-lua states.
package lua

import (
	"context"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
)

// library is a Lua standard library allowed in the sandbox.
type library struct {
	name string
	open lua.LGFunction
}

// sandboxLibraries are the libraries plugins may use: base, table, string
// and math. os, io, debug and package are never opened.
func sandboxLibraries() []library {
	return []library{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
}

// blockedGlobals are base functions that reach the filesystem or compile
// arbitrary code.
var blockedGlobals = []string{"dofile", "loadfile", "loadstring", "load", "require"}

// StateFactory creates sandboxed Lua states.
type StateFactory struct {
	libraries []library
}

// NewStateFactory creates a new state factory.
func NewStateFactory() *StateFactory {
	return &StateFactory{
		libraries: sandboxLibraries(),
	}
}

// NewState creates a fresh sandboxed state bound to ctx: the VM stops with
// an error once ctx is done.
func (f *StateFactory) NewState(ctx context.Context) (*lua.LState, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})

	for _, lib := range f.libraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, oops.In("lua").With("library", lib.name).Wrapf(err, "open library")
		}
	}

	for _, name := range blockedGlobals {
		L.SetGlobal(name, lua.LNil)
	}

	if ctx != nil {
		L.SetContext(ctx)
	}
	return L, nil
}
