// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

// Package groupkey implements §4.G's group-key lifecycle: generation,
// engine-wrapped storage, peer-to-peer sealing over a bidi channel, and
// per-message encryption under a command-scoped context. Grounded on
// crates/crypto/src/idam.rs's generate_group_key/seal_group_key/
// unseal_group_key/encrypt_message/decrypt_message/compute_change_id.
package groupkey

import (
	"crypto/rand"
	"io"

	cryptoutil "github.com/aranya-project/aranya/internal/crypto"
	"github.com/aranya-project/aranya/internal/policy/types"
	"github.com/samber/oops"
	"golang.org/x/crypto/chacha20poly1305"
)

// Overhead is the number of bytes EncryptMessage adds to a plaintext; there
// is no transmitted nonce (it is derived from the message's context), so
// overhead is exactly the AEAD authentication tag.
const Overhead = chacha20poly1305.Overhead

// Engine wraps and unwraps raw key material for local storage (§4.G:
// "Keystore access is read-only from the VM's perspective; secret unwrap
// is performed by the engine FFI"). A real deployment backs this with a
// hardware keystore or an encrypted-at-rest local one; LocalEngine below
// is the in-process reference implementation.
type Engine interface {
	WrapKey(raw []byte) (wrapped []byte, err error)
	UnwrapKey(wrapped []byte) (raw []byte, err error)
}

// LocalEngine wraps keys with a single master AEAD key held in memory.
// It is the engine a single-process client uses when no external keystore
// is configured.
type LocalEngine struct {
	masterKey []byte
}

// NewLocalEngine returns an Engine backed by a freshly generated master
// key; callers that need the key to survive process restarts should
// persist it through a real keystore instead.
func NewLocalEngine() (*LocalEngine, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, oops.Code("WrapFailure").Errorf("generate engine master key: %w", err)
	}
	return &LocalEngine{masterKey: key}, nil
}

func (e *LocalEngine) WrapKey(raw []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(e.masterKey)
	if err != nil {
		return nil, oops.Code("WrapFailure").Errorf("aead init: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, oops.Code("WrapFailure").Errorf("sample nonce: %w", err)
	}
	return append(nonce, aead.Seal(nil, nonce, raw, nil)...), nil
}

func (e *LocalEngine) UnwrapKey(wrapped []byte) ([]byte, error) {
	if len(wrapped) < chacha20poly1305.NonceSize {
		return nil, oops.Code("InvalidSize").Errorf("wrapped key too short")
	}
	aead, err := chacha20poly1305.New(e.masterKey)
	if err != nil {
		return nil, oops.Code("WrapFailure").Errorf("aead init: %w", err)
	}
	nonce, ct := wrapped[:chacha20poly1305.NonceSize], wrapped[chacha20poly1305.NonceSize:]
	raw, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, oops.Code("InvalidCiphertext").Errorf("unwrap key: %w", err)
	}
	return raw, nil
}

// Wrapped is the GroupKey struct expected by the fact DB: a stable id plus
// its engine-wrapped byte form (the shape persisted as a fact value).
type Wrapped struct {
	KeyID types.ID
	Wrap  []byte
}

// Generate creates a new group key and returns it wrapped for fact-DB
// storage.
func Generate(eng Engine) (Wrapped, error) {
	raw := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return Wrapped{}, oops.Code("WrapFailure").Errorf("generate group key: %w", err)
	}
	wrap, err := eng.WrapKey(raw)
	if err != nil {
		return Wrapped{}, err
	}
	h := cryptoutil.Hash([]byte("GroupKeyId"), raw)
	return Wrapped{KeyID: types.ID(h), Wrap: wrap}, nil
}

// Sealed is the wire form of a group key sealed to a peer over an already
// established bidi channel (the channel's own encap was exchanged during
// channels.Derive/Open, so Sealed carries only the ciphertext).
type Sealed struct {
	Ciphertext []byte
}

// Seal unwraps a stored group key and encrypts it under the given bidi
// channel's SealKey, bound to groupID so ciphertexts aren't replayable
// across groups.
func Seal(eng Engine, wrapped Wrapped, sealKey [32]byte, groupID types.ID) (Sealed, error) {
	raw, err := eng.UnwrapKey(wrapped.Wrap)
	if err != nil {
		return Sealed{}, err
	}
	ct, err := sealWithKey(sealKey, groupID, raw)
	if err != nil {
		return Sealed{}, err
	}
	return Sealed{Ciphertext: ct}, nil
}

// Unseal decrypts a group key sealed with Seal using the recipient's
// OpenKey for the same channel, then re-wraps it for local storage.
func Unseal(eng Engine, sealed Sealed, openKey [32]byte, groupID types.ID) (Wrapped, error) {
	raw, err := openWithKey(openKey, groupID, sealed.Ciphertext)
	if err != nil {
		return Wrapped{}, err
	}
	wrap, err := eng.WrapKey(raw)
	if err != nil {
		return Wrapped{}, err
	}
	h := cryptoutil.Hash([]byte("GroupKeyId"), raw)
	return Wrapped{KeyID: types.ID(h), Wrap: wrap}, nil
}

func sealWithKey(key [32]byte, aad types.ID, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, oops.Code("WrapFailure").Errorf("aead init: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	return aead.Seal(nil, nonce, plaintext, aad[:]), nil
}

func openWithKey(key [32]byte, aad types.ID, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, oops.Code("WrapFailure").Errorf("aead init: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	pt, err := aead.Open(nil, nonce, ciphertext, aad[:])
	if err != nil {
		return nil, oops.Code("InvalidCiphertext").Errorf("unseal group key: %w", err)
	}
	return pt, nil
}

// MessageContext binds a message's encryption to the command it travels
// with, matching idam.rs's Context{label, parent, author}.
type MessageContext struct {
	CommandName string
	ParentID    types.ID
	Author      []byte // serialized verifying key
}

func (c MessageContext) bytes() []byte {
	var b []byte
	b = append(b, []byte(c.CommandName)...)
	b = append(b, 0)
	b = append(b, c.ParentID[:]...)
	b = append(b, c.Author...)
	return b
}

// EncryptMessage derives a one-time message key from the group key and
// context (so a zero nonce is safe — the context makes every derived key
// unique) and seals plaintext under it.
func EncryptMessage(eng Engine, wrapped Wrapped, plaintext []byte, ctx MessageContext) ([]byte, error) {
	raw, err := eng.UnwrapKey(wrapped.Wrap)
	if err != nil {
		return nil, err
	}
	msgKey, err := cryptoutil.Expand(raw, ctx.bytes(), chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(msgKey)
	if err != nil {
		return nil, oops.Code("WrapFailure").Errorf("aead init: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	return aead.Seal(nil, nonce, plaintext, nil), nil
}

// DecryptMessage is EncryptMessage's inverse.
func DecryptMessage(eng Engine, wrapped Wrapped, ciphertext []byte, ctx MessageContext) ([]byte, error) {
	raw, err := eng.UnwrapKey(wrapped.Wrap)
	if err != nil {
		return nil, err
	}
	msgKey, err := cryptoutil.Expand(raw, ctx.bytes(), chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(msgKey)
	if err != nil {
		return nil, oops.Code("WrapFailure").Errorf("aead init: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	pt, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, oops.Code("InvalidCiphertext").Errorf("decrypt message: %w", err)
	}
	return pt, nil
}

// ChangeID computes §4.G's running hash chain: change_id' =
// H(current_change_id || new_event_id).
func ChangeID(current, newEvent types.ID) types.ID {
	h := cryptoutil.Hash(current[:], newEvent[:])
	return types.ID(h)
}
