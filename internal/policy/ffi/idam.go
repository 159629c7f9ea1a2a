// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package ffi

import (
	"context"

	"github.com/aranya-project/aranya/internal/crypto/idam"
	"github.com/aranya-project/aranya/internal/policy/compile"
	"github.com/aranya-project/aranya/internal/policy/machine"
	"github.com/aranya-project/aranya/internal/policy/types"
)

// BindingType names the struct shape bind_device returns and unbind_device
// consumes: a device's group membership record plus the key ids it entitles.
const BindingType = "Binding"

// IdamModule implements the `idam` well-known module (§4.F/§4.G): device
// membership binding and the stable key-id derivations other modules and
// policy bodies reference when writing facts.
type IdamModule struct{}

func (IdamModule) Name() string { return "idam" }

func (IdamModule) Functions() []machine.FFIFunction {
	id, bytesT := vid(), vbytes()
	bindingT := types.VType{Kind: types.KindStruct, Name: BindingType}
	return []machine.FFIFunction{
		{Name: "bind_device", Args: []types.VType{id, id, bytesT, bytesT}, Color: compile.ColorPure},
		{Name: "unbind_device", Args: []types.VType{bindingT, id, id}, Color: compile.ColorPure},
		{Name: "encryption_key_id", Args: []types.VType{bytesT}, Color: compile.ColorPure},
		{Name: "signing_key_id", Args: []types.VType{bytesT}, Color: compile.ColorPure},
	}
}

func (IdamModule) Call(_ context.Context, proc string, args []types.Value, _ machine.CommandContext) (types.Value, error) {
	switch proc {
	case "bind_device":
		return bindDevice(args)
	case "unbind_device":
		return unbindDevice(args)
	case "encryption_key_id":
		if len(args) != 1 {
			return types.Value{}, ffiError(proc, "expects 1 argument")
		}
		return types.IDValue(idam.EncryptionKeyID(args[0].Bytes)), nil
	case "signing_key_id":
		if len(args) != 1 {
			return types.Value{}, ffiError(proc, "expects 1 argument")
		}
		return types.IDValue(idam.SigningKeyID(args[0].Bytes)), nil
	default:
		return types.Value{}, ffiError(proc, "unknown idam procedure")
	}
}

func bindDevice(args []types.Value) (types.Value, error) {
	const proc = "bind_device"
	if len(args) != 4 {
		return types.Value{}, ffiError(proc, "expects 4 arguments")
	}
	binding, err := idam.BindDevice(args[0].ID, args[1].ID, args[2].Bytes, args[3].Bytes)
	if err != nil {
		return types.Value{}, err
	}
	fields := types.NewFieldMap()
	fields.Set("group_id", types.IDValue(binding.GroupID))
	fields.Set("device_id", types.IDValue(binding.DeviceID))
	fields.Set("enc_key_id", types.IDValue(binding.EncKeyID))
	fields.Set("sign_key_id", types.IDValue(binding.SignKeyID))
	fields.Set("enc_pub_key", types.BytesValue(binding.EncPubKey))
	fields.Set("sign_pub_key", types.BytesValue(binding.SignPubKey))
	return types.Value{Kind: types.KindStruct, Struct: &types.StructValue{Name: BindingType, Fields: fields}}, nil
}

func unbindDevice(args []types.Value) (types.Value, error) {
	const proc = "unbind_device"
	if len(args) != 3 || args[0].Kind != types.KindStruct {
		return types.Value{}, ffiError(proc, "expects a Binding struct and two ids")
	}
	binding, err := structToBinding(args[0].Struct)
	if err != nil {
		return types.Value{}, err
	}
	if err := idam.UnbindDevice(binding, args[1].ID, args[2].ID); err != nil {
		return types.Value{}, err
	}
	return types.BoolValue(true), nil
}

func structToBinding(s *types.StructValue) (idam.Binding, error) {
	groupID, ok := s.Get("group_id")
	if !ok {
		return idam.Binding{}, ffiError("unbind_device", "binding missing group_id field")
	}
	deviceID, ok := s.Get("device_id")
	if !ok {
		return idam.Binding{}, ffiError("unbind_device", "binding missing device_id field")
	}
	return idam.Binding{GroupID: groupID.ID, DeviceID: deviceID.ID}, nil
}
