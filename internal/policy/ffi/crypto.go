// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package ffi

import (
	"context"
	"encoding/binary"
	"log/slog"

	"github.com/samber/oops"

	"github.com/aranya-project/aranya/internal/config"
	cryptoutil "github.com/aranya-project/aranya/internal/crypto"
	"github.com/aranya-project/aranya/internal/crypto/channels"
	"github.com/aranya-project/aranya/internal/crypto/groupkey"
	"github.com/aranya-project/aranya/internal/policy/compile"
	"github.com/aranya-project/aranya/internal/policy/machine"
	"github.com/aranya-project/aranya/internal/policy/types"
	"github.com/aranya-project/aranya/pkg/errutil"
)

// BidiChannelType/WrappedGroupKeyType name the struct shapes the crypto
// module's procedures return — there is no dedicated "channel" or
// "group key" VType, so §4.G's outputs are surfaced as ordinary policy
// structs the calling policy source can destructure with `.field`.
const (
	BidiChannelType     = "BidiChannel"
	WrappedGroupKeyType = "WrappedGroupKey"
)

// CryptoModule implements the `crypto` well-known module (§4.F/§4.G):
// channel derivation, group-key lifecycle, message encryption, and the
// change-id hash chain. It holds the one engine a client uses to wrap/
// unwrap raw key material for fact-DB storage, plus the channel label
// space cfg selects (§A.3); cfg's cipher suite is only checked when the
// module is constructed and is not stored.
type CryptoModule struct {
	engine     groupkey.Engine
	labelSpace uint32
	logger     *slog.Logger
}

// NewCryptoModule returns a CryptoModule backed by a fresh in-process
// wrapping engine; a deployment wiring a real keystore constructs its own
// groupkey.Engine and passes it here instead. cfg.CipherSuite is validated
// against the one suite this build implements (deriveBidiChannel/
// openBidiChannel always run X25519+HKDF-SHA256+ChaCha20-Poly1305; cfg
// exists so a future second suite has somewhere to plug in without
// touching every call site). cfg.ChannelLabelSpace is folded into every
// channel's label so two deployments sharing a transport never derive
// colliding channel keys even if a policy body reuses the same numeric
// label.
func NewCryptoModule(engine groupkey.Engine, cfg *config.Config) (*CryptoModule, error) {
	if cfg == nil {
		cfg = config.Defaults()
	}
	if cfg.CipherSuite != config.CipherSuiteX25519ChaCha20Poly1305SHA256 {
		return nil, oops.Code(KindFFIBadArgument).With("cipher_suite", cfg.CipherSuite).
			Errorf("crypto module only implements %q", config.CipherSuiteX25519ChaCha20Poly1305SHA256)
	}
	space := cryptoutil.Hash([]byte("ChannelLabelSpace"), []byte(cfg.ChannelLabelSpace))
	return &CryptoModule{
		engine:     engine,
		labelSpace: binary.BigEndian.Uint32(space[:4]),
		logger:     slog.Default().With("ffi_module", "crypto"),
	}, nil
}

func (*CryptoModule) Name() string { return "crypto" }

func (*CryptoModule) Functions() []machine.FFIFunction {
	id, bytesT, intT, strT := vid(), vbytes(), vint(), vstring()
	return []machine.FFIFunction{
		{Name: "derive_bidi_channel", Args: []types.VType{id, bytesT, id, bytesT, id, intT}, Color: compile.ColorPure},
		{Name: "open_bidi_channel", Args: []types.VType{id, bytesT, bytesT, bytesT, bytesT, id, id, intT}, Color: compile.ColorPure},
		{Name: "generate_group_key", Args: nil, Color: compile.ColorPure},
		{Name: "seal_group_key", Args: []types.VType{bytesT, bytesT, id}, Color: compile.ColorPure},
		{Name: "unseal_group_key", Args: []types.VType{bytesT, bytesT, id}, Color: compile.ColorPure},
		{Name: "encrypt_message", Args: []types.VType{bytesT, bytesT, id, bytesT, strT}, Color: compile.ColorPure},
		{Name: "decrypt_message", Args: []types.VType{bytesT, bytesT, id, bytesT, strT}, Color: compile.ColorPure},
		{Name: "change_id", Args: []types.VType{id, id}, Color: compile.ColorPure},
	}
}

func vid() types.VType     { return types.VType{Kind: types.KindID} }
func vbytes() types.VType  { return types.VType{Kind: types.KindBytes} }
func vint() types.VType    { return types.VType{Kind: types.KindInt} }
func vstring() types.VType { return types.VType{Kind: types.KindString} }

func (m *CryptoModule) Call(_ context.Context, proc string, args []types.Value, _ machine.CommandContext) (types.Value, error) {
	switch proc {
	case "derive_bidi_channel":
		return m.deriveBidiChannel(args)
	case "open_bidi_channel":
		return m.openBidiChannel(args)
	case "generate_group_key":
		return m.generateGroupKey()
	case "seal_group_key":
		return m.sealGroupKey(args)
	case "unseal_group_key":
		return m.unsealGroupKey(args)
	case "encrypt_message":
		return m.encryptMessage(args)
	case "decrypt_message":
		return m.decryptMessage(args)
	case "change_id":
		return m.changeID(args)
	default:
		return types.Value{}, ffiError(proc, "unknown crypto procedure")
	}
}

func key32(proc, field string, v types.Value) ([32]byte, error) {
	var out [32]byte
	if v.Kind != types.KindBytes || len(v.Bytes) != 32 {
		return out, ffiError(proc, "%s must be exactly 32 bytes", field)
	}
	copy(out[:], v.Bytes)
	return out, nil
}

// label folds the policy-supplied numeric label into this module's
// configured label space, so the same label value never collides across
// deployments that happen to share a network.
func (m *CryptoModule) label(l int64) uint32 {
	return uint32(l) ^ m.labelSpace
}

func (m *CryptoModule) deriveBidiChannel(args []types.Value) (types.Value, error) {
	const proc = "derive_bidi_channel"
	if len(args) != 6 {
		return types.Value{}, ffiError(proc, "expects 6 arguments")
	}
	ourSK, err := key32(proc, "our_sk", args[1])
	if err != nil {
		return types.Value{}, err
	}
	theirPK, err := key32(proc, "their_pk", args[3])
	if err != nil {
		return types.Value{}, err
	}
	result, err := channels.Derive(args[0].ID, ourSK, args[2].ID, theirPK, args[4].ID, m.label(args[5].Int))
	if err != nil {
		errutil.LogError(m.logger, "bidi channel derivation failed", err)
		return types.Value{}, err
	}
	fields := types.NewFieldMap()
	fields.Set("channel_id", types.IDValue(result.Channel.ID))
	fields.Set("seal_key", types.BytesValue(result.Channel.SealKey[:]))
	fields.Set("open_key", types.BytesValue(result.Channel.OpenKey[:]))
	fields.Set("encap", types.BytesValue(result.Encap))
	fields.Set("ciphertext", types.BytesValue(result.Ciphertext))
	return types.Value{Kind: types.KindStruct, Struct: &types.StructValue{Name: BidiChannelType, Fields: fields}}, nil
}

func (m *CryptoModule) openBidiChannel(args []types.Value) (types.Value, error) {
	const proc = "open_bidi_channel"
	if len(args) != 8 {
		return types.Value{}, ffiError(proc, "expects 8 arguments")
	}
	theirPKAsAuthor, err := key32(proc, "their_pk_as_author", args[1])
	if err != nil {
		return types.Value{}, err
	}
	ourSK, err := key32(proc, "our_sk", args[4])
	if err != nil {
		return types.Value{}, err
	}
	ch, err := channels.Open(args[0].ID, theirPKAsAuthor, args[2].Bytes, args[3].Bytes, ourSK, args[5].ID, args[6].ID, m.label(args[7].Int))
	if err != nil {
		errutil.LogError(m.logger, "bidi channel open failed", err)
		return types.Value{}, err
	}
	fields := types.NewFieldMap()
	fields.Set("channel_id", types.IDValue(ch.ID))
	fields.Set("seal_key", types.BytesValue(ch.SealKey[:]))
	fields.Set("open_key", types.BytesValue(ch.OpenKey[:]))
	return types.Value{Kind: types.KindStruct, Struct: &types.StructValue{Name: BidiChannelType, Fields: fields}}, nil
}

func (m *CryptoModule) generateGroupKey() (types.Value, error) {
	wrapped, err := groupkey.Generate(m.engine)
	if err != nil {
		return types.Value{}, err
	}
	return wrappedGroupKeyValue(wrapped), nil
}

func wrappedGroupKeyValue(w groupkey.Wrapped) types.Value {
	fields := types.NewFieldMap()
	fields.Set("key_id", types.IDValue(w.KeyID))
	fields.Set("wrap", types.BytesValue(w.Wrap))
	return types.Value{Kind: types.KindStruct, Struct: &types.StructValue{Name: WrappedGroupKeyType, Fields: fields}}
}

func (m *CryptoModule) sealGroupKey(args []types.Value) (types.Value, error) {
	const proc = "seal_group_key"
	if len(args) != 3 {
		return types.Value{}, ffiError(proc, "expects 3 arguments")
	}
	sealKey, err := key32(proc, "seal_key", args[1])
	if err != nil {
		return types.Value{}, err
	}
	sealed, err := groupkey.Seal(m.engine, groupkey.Wrapped{Wrap: args[0].Bytes}, sealKey, args[2].ID)
	if err != nil {
		errutil.LogError(m.logger, "group key seal failed", err)
		return types.Value{}, err
	}
	return types.BytesValue(sealed.Ciphertext), nil
}

func (m *CryptoModule) unsealGroupKey(args []types.Value) (types.Value, error) {
	const proc = "unseal_group_key"
	if len(args) != 3 {
		return types.Value{}, ffiError(proc, "expects 3 arguments")
	}
	openKey, err := key32(proc, "open_key", args[1])
	if err != nil {
		return types.Value{}, err
	}
	wrapped, err := groupkey.Unseal(m.engine, groupkey.Sealed{Ciphertext: args[0].Bytes}, openKey, args[2].ID)
	if err != nil {
		errutil.LogError(m.logger, "group key unseal failed", err)
		return types.Value{}, err
	}
	return wrappedGroupKeyValue(wrapped), nil
}

func (m *CryptoModule) encryptMessage(args []types.Value) (types.Value, error) {
	if len(args) != 5 {
		return types.Value{}, ffiError("encrypt_message", "expects 5 arguments")
	}
	ctx := groupkey.MessageContext{CommandName: args[4].Str, ParentID: args[2].ID, Author: args[3].Bytes}
	ct, err := groupkey.EncryptMessage(m.engine, groupkey.Wrapped{Wrap: args[0].Bytes}, args[1].Bytes, ctx)
	if err != nil {
		return types.Value{}, err
	}
	return types.BytesValue(ct), nil
}

func (m *CryptoModule) decryptMessage(args []types.Value) (types.Value, error) {
	if len(args) != 5 {
		return types.Value{}, ffiError("decrypt_message", "expects 5 arguments")
	}
	ctx := groupkey.MessageContext{CommandName: args[4].Str, ParentID: args[2].ID, Author: args[3].Bytes}
	pt, err := groupkey.DecryptMessage(m.engine, groupkey.Wrapped{Wrap: args[0].Bytes}, args[1].Bytes, ctx)
	if err != nil {
		return types.Value{}, err
	}
	return types.BytesValue(pt), nil
}

func (m *CryptoModule) changeID(args []types.Value) (types.Value, error) {
	if len(args) != 2 {
		return types.Value{}, ffiError("change_id", "expects 2 arguments")
	}
	return types.IDValue(groupkey.ChangeID(args[0].ID, args[1].ID)), nil
}
