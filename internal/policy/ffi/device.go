// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package ffi

import (
	"context"

	"github.com/aranya-project/aranya/internal/policy/compile"
	"github.com/aranya-project/aranya/internal/policy/machine"
	"github.com/aranya-project/aranya/internal/policy/types"
)

// DeviceModule exposes the executing device's own identity (§4.F): the
// author field on CommandContext is the identity of whichever device is
// currently running the VM, whether it is authoring a new command or
// evaluating one it received.
type DeviceModule struct{}

func (DeviceModule) Name() string { return "device" }

func (DeviceModule) Functions() []machine.FFIFunction {
	return []machine.FFIFunction{
		{Name: "user_id", Args: nil, Color: compile.ColorPure},
	}
}

func (DeviceModule) Call(_ context.Context, proc string, args []types.Value, cmdCtx machine.CommandContext) (types.Value, error) {
	if len(args) != 0 {
		return types.Value{}, ffiError(proc, "device procedures take no arguments")
	}
	if proc != "user_id" {
		return types.Value{}, ffiError(proc, "unknown device procedure")
	}
	return types.IDValue(cmdCtx.Author), nil
}
