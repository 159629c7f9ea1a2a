// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

// Package crypto holds the shared key-agreement and AEAD primitives that
// internal/crypto/channels, internal/crypto/groupkey, and
// internal/crypto/idam build on (§4.G). There is no HPKE implementation in
// the dependency set this module draws from, so the suite is composed
// directly from golang.org/x/crypto's X25519, HKDF, and ChaCha20-Poly1305 —
// an authenticated-DH-plus-AEAD construction in the same spirit as HPKE's
// auth mode rather than a byte-for-byte RFC 9180 implementation.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/samber/oops"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the length in bytes of every X25519 scalar/point in this
// suite.
const KeySize = 32

// ErrorKind tags the machine-readable failure modes crypto primitives can
// raise; §4.G requires these fold into machine errors "with a kind that
// preserves provenance".
type ErrorKind string

const (
	KindInvalidSize       ErrorKind = "InvalidSize"
	KindInvalidCiphertext ErrorKind = "InvalidCiphertext"
	KindDecodeFailure     ErrorKind = "DecodeFailure"
	KindWrapFailure       ErrorKind = "WrapFailure"
	KindSameUserID        ErrorKind = "SameUserId"
	KindPolicyViolation   ErrorKind = "PolicyViolation"
)

func oopsErr(kind ErrorKind, format string, args ...any) error {
	return oops.Code(string(kind)).Errorf(format, args...)
}

// GenerateKeyPair samples a fresh X25519 private/public keypair.
func GenerateKeyPair() (priv, pub [KeySize]byte, err error) {
	if _, err = io.ReadFull(rand.Reader, priv[:]); err != nil {
		return priv, pub, oopsErr(KindWrapFailure, "generate key pair: %w", err)
	}
	p, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return priv, pub, oopsErr(KindWrapFailure, "derive public key: %w", err)
	}
	copy(pub[:], p)
	return priv, pub, nil
}

// DH computes the X25519 shared point between a scalar and a point. It is
// symmetric: DH(a, B) == DH(b, A) for keypairs (a, A) and (b, B) — the
// property every derivation in this package relies on to let both sides of
// a channel independently arrive at the same secret.
func DH(scalar, point [KeySize]byte) ([KeySize]byte, error) {
	var out [KeySize]byte
	s, err := curve25519.X25519(scalar[:], point[:])
	if err != nil {
		return out, oopsErr(KindWrapFailure, "x25519: %w", err)
	}
	copy(out[:], s)
	return out, nil
}

// Expand derives length bytes of key material from ikm using HKDF-SHA256
// under the given info label; salt is always nil (the secret itself already
// carries all entropy the derivation needs).
func Expand(ikm, info []byte, length int) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, nil, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, oopsErr(KindWrapFailure, "hkdf expand: %w", err)
	}
	return out, nil
}

// seal AEAD-encrypts plaintext under key, associated with aad, using a
// zero nonce — safe here because every key this package hands to seal is
// single-use (freshly derived per channel/message context, never reused
// across calls).
func seal(key, nonce, aad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, oopsErr(KindWrapFailure, "aead init: %w", err)
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

func open(key, nonce, aad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, oopsErr(KindWrapFailure, "aead init: %w", err)
	}
	pt, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, oopsErr(KindInvalidCiphertext, "aead open: %w", err)
	}
	return pt, nil
}

// zeroNonce is reused wherever a key is guaranteed single-message; the
// comment at each call site states why that guarantee holds there.
var zeroNonce = make([]byte, chacha20poly1305.NonceSize)

// SealTo is a one-shot authenticated encryption to a recipient's public
// key: ephemeral X25519 keyed from the given seed plus a direct DH with
// the recipient, in the manner of HPKE's base-mode encapsulation. Returns
// the ephemeral public key (encap) and ciphertext.
func SealTo(seed [KeySize]byte, recipientPub [KeySize]byte, label, plaintext []byte) (encap, ciphertext []byte, err error) {
	ephPriv, ephPub, err := deriveDeterministicKeyPair(seed)
	if err != nil {
		return nil, nil, err
	}
	shared, err := DH(ephPriv, recipientPub)
	if err != nil {
		return nil, nil, err
	}
	key, err := Expand(shared[:], label, chacha20poly1305.KeySize)
	if err != nil {
		return nil, nil, err
	}
	// zeroNonce is safe: key comes from a DH with an ephemeral key derived
	// from seed, and the only caller (channels.Derive) samples a fresh seed
	// for every call.
	ct, err := seal(key, zeroNonce, nil, plaintext)
	if err != nil {
		return nil, nil, err
	}
	return ephPub[:], ct, nil
}

// OpenFrom is the recipient-side inverse of SealTo: given its own private
// key and the sender's encap value, recovers the shared secret via the
// symmetric DH property and decrypts.
func OpenFrom(recipientPriv [KeySize]byte, encap []byte, label, ciphertext []byte) ([]byte, error) {
	if len(encap) != KeySize {
		return nil, oopsErr(KindInvalidSize, "encap must be %d bytes, got %d", KeySize, len(encap))
	}
	var ephPub [KeySize]byte
	copy(ephPub[:], encap)
	shared, err := DH(recipientPriv, ephPub)
	if err != nil {
		return nil, err
	}
	key, err := Expand(shared[:], label, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	// zeroNonce matches SealTo: the key is specific to the sender's
	// single-use ephemeral key carried in encap.
	return open(key, zeroNonce, nil, ciphertext)
}

// deriveDeterministicKeyPair turns a 32-byte seed into an X25519 keypair,
// giving SealTo's encapsulation the deterministic-from-seed property §4.G
// asks of channel setup (the seed is the caller's root_sk).
func deriveDeterministicKeyPair(seed [KeySize]byte) (priv, pub [KeySize]byte, err error) {
	expanded, err := Expand(seed[:], []byte("aranya channel ephemeral key"), KeySize)
	if err != nil {
		return priv, pub, err
	}
	copy(priv[:], expanded)
	p, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return priv, pub, oopsErr(KindWrapFailure, "derive ephemeral public key: %w", err)
	}
	copy(pub[:], p)
	return priv, pub, nil
}

// Hash is SHA-256, used wherever §4.G specifies H(...).
func Hash(parts ...[]byte) [32]byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
