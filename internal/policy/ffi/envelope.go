// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

// Package ffi provides the built-in FFI modules §4.F names as "well-known":
// envelope, perspective, device, crypto, and idam. Each implements
// machine.FFIModule and is registered into a machine.FFIRegistry by
// NewDefaultRegistry.
package ffi

import (
	"context"

	"github.com/aranya-project/aranya/internal/policy/compile"
	"github.com/aranya-project/aranya/internal/policy/machine"
	"github.com/aranya-project/aranya/internal/policy/types"
)

// EnvelopeType names the struct shape a serialized command envelope takes
// once opened into a policy-visible value: an id, the author's id, and the
// parent command id(s) it was built against (§6 "Command envelope").
const EnvelopeType = "Envelope"

// EnvelopeModule implements envelope.id/envelope.author_id (§4.F).
type EnvelopeModule struct{}

func (EnvelopeModule) Name() string { return "envelope" }

func (EnvelopeModule) Functions() []machine.FFIFunction {
	envelopeArg := []types.VType{{Kind: types.KindStruct, Name: EnvelopeType}}
	return []machine.FFIFunction{
		{Name: "id", Args: envelopeArg, Color: compile.ColorPure},
		{Name: "author_id", Args: envelopeArg, Color: compile.ColorPure},
	}
}

func (EnvelopeModule) Call(_ context.Context, proc string, args []types.Value, _ machine.CommandContext) (types.Value, error) {
	if len(args) != 1 || args[0].Kind != types.KindStruct {
		return types.Value{}, ffiError(proc, "envelope procedures take exactly one Envelope struct argument")
	}
	env := args[0].Struct
	switch proc {
	case "id":
		v, ok := env.Get("id")
		if !ok {
			return types.Value{}, ffiError(proc, "envelope has no id field")
		}
		return v, nil
	case "author_id":
		v, ok := env.Get("author_id")
		if !ok {
			return types.Value{}, ffiError(proc, "envelope has no author_id field")
		}
		return v, nil
	default:
		return types.Value{}, ffiError(proc, "unknown envelope procedure")
	}
}
