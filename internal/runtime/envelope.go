// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package runtime

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/samber/oops"

	cryptoutil "github.com/aranya-project/aranya/internal/crypto"
	"github.com/aranya-project/aranya/internal/policy/types"
)

// Envelope is §6's "command envelope (serialized)": the opaque byte string
// passed between clients during sync/session_receive. It carries the
// command id, its parent id(s), the author's id, the command's name and
// field payload, and an optional sealed group key (toEnvelope leaves it
// nil; Encode/Decode carry whatever a caller puts there).
//
// Two clients given the same inputs must produce byte-identical envelopes
// (§6); Encode/Decode implement a small fixed binary format rather than
// gob/json specifically so field order and integer width are pinned
// independent of Go's encoding/gob version or map iteration order.
type Envelope struct {
	ID          types.ID
	ParentIDs   []types.ID
	Author      types.ID
	Name        string
	Fields      *types.FieldMap
	SealedGroup []byte // optional; toEnvelope leaves it nil

	// Signature authenticates Author over ID. Real asymmetric
	// signature verification needs a keystore-backed signing scheme this
	// build does not implement (§1 scope note: keystore layout is
	// external); this is a deterministic stand-in so Envelope equality
	// and the determinism property in §6 are still testable.
	Signature [32]byte
}

// computeCommandID derives §6's command id: a content hash over the
// command's name, its declared fields, its parent ids, and its author,
// so two clients computing the same publish produce the same id.
func computeCommandID(name string, fields *types.FieldMap, parentIDs []types.ID, author types.ID) types.ID {
	var buf bytes.Buffer
	buf.WriteString(name)
	buf.WriteByte(0)
	encodeFieldMap(&buf, fields)
	for _, p := range parentIDs {
		buf.Write(p[:])
	}
	buf.Write(author[:])
	return types.ID(cryptoutil.Hash([]byte("CommandId"), buf.Bytes()))
}

func sign(id, author types.ID) [32]byte {
	return cryptoutil.Hash([]byte("CommandSig"), id[:], author[:])
}

// Encode serializes e deterministically.
func (e *Envelope) Encode() []byte {
	var buf bytes.Buffer
	buf.Write(e.ID[:])
	writeUvarint(&buf, uint64(len(e.ParentIDs)))
	for _, p := range e.ParentIDs {
		buf.Write(p[:])
	}
	buf.Write(e.Author[:])
	writeString(&buf, e.Name)
	encodeFieldMap(&buf, e.Fields)
	writeBytes(&buf, e.SealedGroup)
	buf.Write(e.Signature[:])
	return buf.Bytes()
}

// DecodeEnvelope is Encode's inverse.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	r := bytes.NewReader(data)
	e := &Envelope{}
	if _, err := io.ReadFull(r, e.ID[:]); err != nil {
		return nil, envelopeErr("read id: %w", err)
	}
	n, err := readUvarint(r)
	if err != nil {
		return nil, envelopeErr("read parent count: %w", err)
	}
	e.ParentIDs = make([]types.ID, n)
	for i := range e.ParentIDs {
		if _, err := io.ReadFull(r, e.ParentIDs[i][:]); err != nil {
			return nil, envelopeErr("read parent %d: %w", i, err)
		}
	}
	if _, err := io.ReadFull(r, e.Author[:]); err != nil {
		return nil, envelopeErr("read author: %w", err)
	}
	e.Name, err = readString(r)
	if err != nil {
		return nil, envelopeErr("read name: %w", err)
	}
	e.Fields, err = decodeFieldMap(r)
	if err != nil {
		return nil, envelopeErr("read fields: %w", err)
	}
	e.SealedGroup, err = readBytes(r)
	if err != nil {
		return nil, envelopeErr("read sealed group: %w", err)
	}
	if _, err := io.ReadFull(r, e.Signature[:]); err != nil {
		return nil, envelopeErr("read signature: %w", err)
	}
	return e, nil
}

func envelopeErr(format string, args ...any) error {
	return oops.Code(KindInvalidEnvelope).Errorf(format, args...)
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func readUvarint(r *bytes.Reader) (uint64, error) {
	v, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, err
	}
	return v, nil
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUvarint(buf, uint64(len(b)))
	buf.Write(b)
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

func writeString(buf *bytes.Buffer, s string) {
	writeBytes(buf, []byte(s))
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// valueKind tags encoded values with a stable wire byte independent of
// types.Kind's own iota ordering, so a future reordering of the VM's Kind
// enum can't silently change the wire format.
type valueKind byte

const (
	wireInt valueKind = iota
	wireBool
	wireString
	wireBytes
	wireID
	wireStruct
	wireOptionalNone
	wireOptionalSome
)

func encodeValue(buf *bytes.Buffer, v types.Value) {
	switch v.Kind {
	case types.KindInt:
		buf.WriteByte(byte(wireInt))
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], uint64(v.Int))
		buf.Write(tmp[:])
	case types.KindBool:
		buf.WriteByte(byte(wireBool))
		if v.Bool {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case types.KindString:
		buf.WriteByte(byte(wireString))
		writeString(buf, v.Str)
	case types.KindBytes:
		buf.WriteByte(byte(wireBytes))
		writeBytes(buf, v.Bytes)
	case types.KindID:
		buf.WriteByte(byte(wireID))
		buf.Write(v.ID[:])
	case types.KindStruct:
		buf.WriteByte(byte(wireStruct))
		writeString(buf, v.Struct.Name)
		encodeFieldMap(buf, v.Struct.Fields)
	case types.KindOptional:
		if v.Inner == nil {
			buf.WriteByte(byte(wireOptionalNone))
			return
		}
		buf.WriteByte(byte(wireOptionalSome))
		encodeValue(buf, *v.Inner)
	default:
		buf.WriteByte(byte(wireOptionalNone))
	}
}

func decodeValue(r *bytes.Reader) (types.Value, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return types.Value{}, err
	}
	switch valueKind(tag) {
	case wireInt:
		var tmp [8]byte
		if _, err := io.ReadFull(r, tmp[:]); err != nil {
			return types.Value{}, err
		}
		return types.Int64(int64(binary.BigEndian.Uint64(tmp[:]))), nil
	case wireBool:
		b, err := r.ReadByte()
		if err != nil {
			return types.Value{}, err
		}
		return types.BoolValue(b != 0), nil
	case wireString:
		s, err := readString(r)
		if err != nil {
			return types.Value{}, err
		}
		return types.StringValue(s), nil
	case wireBytes:
		b, err := readBytes(r)
		if err != nil {
			return types.Value{}, err
		}
		return types.BytesValue(b), nil
	case wireID:
		var id types.ID
		if _, err := io.ReadFull(r, id[:]); err != nil {
			return types.Value{}, err
		}
		return types.IDValue(id), nil
	case wireStruct:
		name, err := readString(r)
		if err != nil {
			return types.Value{}, err
		}
		fields, err := decodeFieldMap(r)
		if err != nil {
			return types.Value{}, err
		}
		return types.Value{Kind: types.KindStruct, Struct: &types.StructValue{Name: name, Fields: fields}}, nil
	case wireOptionalSome:
		inner, err := decodeValue(r)
		if err != nil {
			return types.Value{}, err
		}
		return types.Some(inner), nil
	case wireOptionalNone:
		return types.None, nil
	default:
		return types.Value{}, envelopeErr("unknown value tag %d", tag)
	}
}

func encodeFieldMap(buf *bytes.Buffer, fm *types.FieldMap) {
	if fm == nil {
		writeUvarint(buf, 0)
		return
	}
	writeUvarint(buf, uint64(fm.Len()))
	for pair := fm.Oldest(); pair != nil; pair = pair.Next() {
		writeString(buf, pair.Key)
		encodeValue(buf, pair.Value)
	}
}

func decodeFieldMap(r *bytes.Reader) (*types.FieldMap, error) {
	n, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	fm := types.NewFieldMap()
	for i := uint64(0); i < n; i++ {
		key, err := readString(r)
		if err != nil {
			return nil, err
		}
		val, err := decodeValue(r)
		if err != nil {
			return nil, err
		}
		fm.Set(key, val)
	}
	return fm, nil
}
