// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

// Package channels derives the bidirectional per-pair encryption channels
// described in spec §4.G, grounded on the key-agreement shape of
// crates/crypto/src/idam.rs's EncryptionKey channel setup. A bidi channel
// produces a SealKey (for encrypting to the peer) and an OpenKey (for
// decrypting the peer's traffic); internal/crypto/groupkey uses these keys
// to seal and open group keys between two members.
package channels

import (
	"crypto/rand"
	"encoding/binary"
	"io"

	cryptoutil "github.com/aranya-project/aranya/internal/crypto"
	"github.com/aranya-project/aranya/internal/policy/types"
	"github.com/samber/oops"
)

// suiteID/engineID identify the concrete algorithm choices this build uses
// (X25519 + HKDF-SHA256 + ChaCha20-Poly1305); folded into the info binding
// the same way §4.G's H(...) construction names a `suite_id`.
var (
	suiteID  = []byte("X25519-HKDFSHA256-CHACHA20POLY1305")
	engineID = []byte("aranya-go")
)

// Channel is a derived bidirectional channel: an opaque stable ID plus the
// two directional AEAD keys.
type Channel struct {
	ID      types.ID
	SealKey [32]byte
	OpenKey [32]byte
}

// info computes §4.G's H("ApsChannelKeys", suite_id, engine_id,
// parent_cmd_id, sender_id, receiver_id, i2osp(label, 4)).
func info(parentCmdID types.ID, senderID, receiverID types.ID, label uint32) []byte {
	var labelBytes [4]byte
	binary.BigEndian.PutUint32(labelBytes[:], label)
	h := cryptoutil.Hash(
		[]byte("ApsChannelKeys"),
		suiteID,
		engineID,
		parentCmdID[:],
		senderID[:],
		receiverID[:],
		labelBytes[:],
	)
	return h[:]
}

// wrapLabel is the order-independent label used only to transmit root_sk
// from author to peer; both sides must compute the identical bytes
// regardless of which end they are, so the member ids are sorted rather
// than following the sender/receiver ordering info() uses.
func wrapLabel(parentCmdID types.ID, a, b types.ID, label uint32) []byte {
	first, second := a, b
	if string(b[:]) < string(a[:]) {
		first, second = b, a
	}
	var labelBytes [4]byte
	binary.BigEndian.PutUint32(labelBytes[:], label)
	h := cryptoutil.Hash([]byte("ApsChannelRootWrap"), parentCmdID[:], first[:], second[:], labelBytes[:])
	return h[:]
}

// DerivedBidi is the author-side output of Derive: the channel itself plus
// the encapsulated root key material the peer needs to open its half.
type DerivedBidi struct {
	Channel    Channel
	Encap      []byte
	Ciphertext []byte
}

// Derive runs the author side of bidi channel setup (§4.G): it samples a
// fresh root channel key, seals it to the peer's public encryption key, and
// derives the SealKey/OpenKey pair from the shared DH secret plus that root
// key. ourID == theirID is rejected as same_user_id.
func Derive(parentCmdID types.ID, ourSK [32]byte, ourID types.ID, theirPK [32]byte, theirID types.ID, label uint32) (*DerivedBidi, error) {
	if ourID == theirID {
		return nil, oops.Code("same_user_id").Errorf("channel endpoints must be distinct users")
	}
	var rootSK [32]byte
	if _, err := io.ReadFull(rand.Reader, rootSK[:]); err != nil {
		return nil, oops.Code("WrapFailure").Errorf("sample root channel key: %w", err)
	}

	encap, ciphertext, err := cryptoutil.SealTo(rootSK, theirPK, wrapLabel(parentCmdID, ourID, theirID, label), rootSK[:])
	if err != nil {
		return nil, err
	}

	ch, err := deriveKeys(parentCmdID, ourSK, theirPK, ourID, theirID, label, rootSK, true)
	if err != nil {
		return nil, err
	}
	ch.ID = channelID(encap)
	return &DerivedBidi{Channel: *ch, Encap: encap, Ciphertext: ciphertext}, nil
}

// Open runs the peer side of bidi channel setup: recovers the author's root
// key from the encapsulated material and derives the same SealKey/OpenKey
// pair (swapped relative to the author, since the peer seals in the
// opposite direction).
func Open(parentCmdID types.ID, theirPKAsAuthor [32]byte, encap, ciphertext []byte, ourSK [32]byte, theirID, ourID types.ID, label uint32) (*Channel, error) {
	if ourID == theirID {
		return nil, oops.Code("same_user_id").Errorf("channel endpoints must be distinct users")
	}
	rootSK, err := cryptoutil.OpenFrom(ourSK, encap, wrapLabel(parentCmdID, theirID, ourID, label), ciphertext)
	if err != nil {
		return nil, err
	}
	var root [32]byte
	copy(root[:], rootSK)

	ch, err := deriveKeys(parentCmdID, ourSK, theirPKAsAuthor, ourID, theirID, label, root, false)
	if err != nil {
		return nil, err
	}
	ch.ID = channelID(encap)
	return ch, nil
}

// deriveKeys computes the shared DH secret and expands it, alongside
// root, into the two directional traffic keys. isAuthor selects which of
// the two expanded subkeys becomes this side's SealKey vs OpenKey: the
// author-to-peer subkey is always the author's seal key and the peer's
// open key, and vice versa for the peer-to-author subkey.
func deriveKeys(parentCmdID types.ID, ourSK [32]byte, theirPK [32]byte, ourID, theirID types.ID, label uint32, root [32]byte, isAuthor bool) (*Channel, error) {
	shared, err := cryptoutil.DH(ourSK, theirPK)
	if err != nil {
		return nil, err
	}
	var ikm []byte
	ikm = append(ikm, shared[:]...)
	ikm = append(ikm, root[:]...)

	var authorID, peerID types.ID
	if isAuthor {
		authorID, peerID = ourID, theirID
	} else {
		authorID, peerID = theirID, ourID
	}
	authorToPeer, err := cryptoutil.Expand(ikm, info(parentCmdID, authorID, peerID, label), 32)
	if err != nil {
		return nil, err
	}
	peerToAuthor, err := cryptoutil.Expand(ikm, info(parentCmdID, peerID, authorID, label), 32)
	if err != nil {
		return nil, err
	}

	ch := &Channel{}
	if isAuthor {
		copy(ch.SealKey[:], authorToPeer)
		copy(ch.OpenKey[:], peerToAuthor)
	} else {
		copy(ch.SealKey[:], peerToAuthor)
		copy(ch.OpenKey[:], authorToPeer)
	}
	return ch, nil
}

func channelID(encap []byte) types.ID {
	h := cryptoutil.Hash(encap, []byte("BidiChannelId"))
	return types.ID(h)
}
