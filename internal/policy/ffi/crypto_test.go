// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package ffi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aranya-project/aranya/internal/config"
	cryptoutil "github.com/aranya-project/aranya/internal/crypto"
	"github.com/aranya-project/aranya/internal/policy/machine"
	"github.com/aranya-project/aranya/internal/policy/types"
)

func TestNewCryptoModule_RejectsUnsupportedCipherSuite(t *testing.T) {
	cfg := config.Defaults()
	cfg.CipherSuite = "made-up-suite"
	_, err := NewCryptoModule(nil, cfg)
	require.Error(t, err)
}

func TestNewCryptoModule_NilCfgFallsBackToDefaults(t *testing.T) {
	mod, err := NewCryptoModule(nil, nil)
	require.NoError(t, err)
	require.NotNil(t, mod)
}

// TestCryptoModule_DeriveAndOpenBidiChannelAgree exercises derive_bidi_channel/
// open_bidi_channel through the FFI surface with two modules built from
// Configs sharing a ChannelLabelSpace: both sides must fold the same label
// offset so they agree on the channel's SealKey/OpenKey pair.
func TestCryptoModule_DeriveAndOpenBidiChannelAgree(t *testing.T) {
	cfg := config.Defaults()
	authorMod, err := NewCryptoModule(nil, cfg)
	require.NoError(t, err)
	peerMod, err := NewCryptoModule(nil, cfg)
	require.NoError(t, err)

	authorSK, authorPK, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)
	peerSK, peerPK, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)

	parentCmdID := types.ID{0x01}
	authorID := types.ID{0xA1}
	peerID := types.ID{0xB2}
	const label = int64(7)

	deriveArgs := []types.Value{
		types.IDValue(parentCmdID),
		types.BytesValue(authorSK[:]),
		types.IDValue(authorID),
		types.BytesValue(peerPK[:]),
		types.IDValue(peerID),
		types.Int64(label),
	}
	derived, err := authorMod.Call(context.Background(), "derive_bidi_channel", deriveArgs, machine.CommandContext{})
	require.NoError(t, err)
	require.Equal(t, types.KindStruct, derived.Kind)

	encap, ok := derived.Struct.Get("encap")
	require.True(t, ok)
	ciphertext, ok := derived.Struct.Get("ciphertext")
	require.True(t, ok)
	authorSealKey, ok := derived.Struct.Get("seal_key")
	require.True(t, ok)
	authorOpenKey, ok := derived.Struct.Get("open_key")
	require.True(t, ok)

	openArgs := []types.Value{
		types.IDValue(parentCmdID),
		types.BytesValue(authorPK[:]),
		encap,
		ciphertext,
		types.BytesValue(peerSK[:]),
		types.IDValue(authorID),
		types.IDValue(peerID),
		types.Int64(label),
	}
	opened, err := peerMod.Call(context.Background(), "open_bidi_channel", openArgs, machine.CommandContext{})
	require.NoError(t, err)

	peerSealKey, ok := opened.Struct.Get("seal_key")
	require.True(t, ok)
	peerOpenKey, ok := opened.Struct.Get("open_key")
	require.True(t, ok)

	// The peer's seal key is the author's open key and vice versa.
	assert.Equal(t, authorOpenKey.Bytes, peerSealKey.Bytes)
	assert.Equal(t, authorSealKey.Bytes, peerOpenKey.Bytes)
}

// TestCryptoModule_DifferentLabelSpacesDisagree confirms ChannelLabelSpace
// reaches the module: two modules configured with different label spaces
// must not hold the same label offset.
func TestCryptoModule_DifferentLabelSpacesDisagree(t *testing.T) {
	cfgA := config.Defaults()
	cfgB := config.Defaults()
	cfgB.ChannelLabelSpace = "a-different-deployment"

	modA, err := NewCryptoModule(nil, cfgA)
	require.NoError(t, err)
	modB, err := NewCryptoModule(nil, cfgB)
	require.NoError(t, err)

	assert.NotEqual(t, modA.labelSpace, modB.labelSpace)
}
