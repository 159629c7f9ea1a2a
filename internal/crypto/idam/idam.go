// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

// Package idam implements the identity-binding operations backing the
// policy `idam` FFI module (§4.F/§4.G), grounded on
// crates/crypto/src/idam.rs's key-id derivation and on the device/group
// membership model crates/aranya-core's idam/ directory builds around it.
package idam

import (
	cryptoutil "github.com/aranya-project/aranya/internal/crypto"
	"github.com/aranya-project/aranya/internal/policy/types"
	"github.com/samber/oops"
)

// EncryptionKeyID derives the stable id for a user's public encryption
// key, matching idam.rs's encryption_key_id.
func EncryptionKeyID(pubKey []byte) types.ID {
	h := cryptoutil.Hash([]byte("EncryptionKeyId"), pubKey)
	return types.ID(h)
}

// SigningKeyID derives the stable id for a user's public signing key,
// matching idam.rs's signing_key_id.
func SigningKeyID(pubKey []byte) types.ID {
	h := cryptoutil.Hash([]byte("SigningKeyId"), pubKey)
	return types.ID(h)
}

// Binding records a device's membership in a group: its identity plus the
// key ids that entitle it to participate in that group's channels.
type Binding struct {
	GroupID    types.ID
	DeviceID   types.ID
	EncKeyID   types.ID
	SignKeyID  types.ID
	EncPubKey  []byte
	SignPubKey []byte
}

// BindDevice validates a device's public key material and produces the
// Binding record the `idam` FFI module's bind_device call persists as a
// fact. It is the VM-facing surface only — the policy body that calls it
// is responsible for writing (or not writing) the resulting binding to the
// fact DB via `create`.
func BindDevice(groupID, deviceID types.ID, encPubKey, signPubKey []byte) (Binding, error) {
	if len(encPubKey) != cryptoutil.KeySize {
		return Binding{}, oops.Code(string(cryptoutil.KindInvalidSize)).
			Errorf("encryption public key must be %d bytes, got %d", cryptoutil.KeySize, len(encPubKey))
	}
	if len(signPubKey) == 0 {
		return Binding{}, oops.Code(string(cryptoutil.KindInvalidSize)).Errorf("signing public key must not be empty")
	}
	return Binding{
		GroupID:    groupID,
		DeviceID:   deviceID,
		EncKeyID:   EncryptionKeyID(encPubKey),
		SignKeyID:  SigningKeyID(signPubKey),
		EncPubKey:  encPubKey,
		SignPubKey: signPubKey,
	}, nil
}

// UnbindDevice validates that a previously-produced Binding really does
// belong to the group/device pair being revoked before the caller deletes
// its fact; it exists to give the `idam` FFI module a symmetric
// bind/unbind pair rather than letting unbind skip validation entirely.
func UnbindDevice(existing Binding, groupID, deviceID types.ID) error {
	if existing.GroupID != groupID || existing.DeviceID != deviceID {
		return oops.Code(string(cryptoutil.KindPolicyViolation)).
			Errorf("binding does not match group/device being unbound")
	}
	return nil
}
