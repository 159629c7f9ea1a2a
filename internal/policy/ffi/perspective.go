// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package ffi

import (
	"context"

	"github.com/aranya-project/aranya/internal/policy/compile"
	"github.com/aranya-project/aranya/internal/policy/machine"
	"github.com/aranya-project/aranya/internal/policy/types"
)

// PerspectiveModule exposes the executing command's graph position
// (§4.F): its parent and its own id, read straight off the CommandContext
// the VM threads through every FFI call.
type PerspectiveModule struct{}

func (PerspectiveModule) Name() string { return "perspective" }

func (PerspectiveModule) Functions() []machine.FFIFunction {
	return []machine.FFIFunction{
		{Name: "parent_id", Args: nil, Color: compile.ColorPure},
		{Name: "head_id", Args: nil, Color: compile.ColorPure},
	}
}

func (PerspectiveModule) Call(_ context.Context, proc string, args []types.Value, cmdCtx machine.CommandContext) (types.Value, error) {
	if len(args) != 0 {
		return types.Value{}, ffiError(proc, "perspective procedures take no arguments")
	}
	switch proc {
	case "parent_id":
		return types.IDValue(cmdCtx.ParentID), nil
	case "head_id":
		return types.IDValue(cmdCtx.CommandID), nil
	default:
		return types.Value{}, ffiError(proc, "unknown perspective procedure")
	}
}
