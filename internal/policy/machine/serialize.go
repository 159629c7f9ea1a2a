// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package machine

import (
	"encoding/binary"
	"fmt"

	"github.com/aranya-project/aranya/internal/policy/types"
)

// marshalValue/unmarshalValue implement `serialize`/`deserialize` (§4.A):
// a small self-describing tag-length-value encoding good enough for
// round-tripping any Value across an FFI or envelope boundary. It is not a
// wire format shared with other implementations — crypto and envelope
// payloads use their own encodings.
const (
	tagInt byte = iota
	tagBool
	tagString
	tagBytes
	tagID
	tagStruct
	tagEnum
	tagOptionalSome
	tagOptionalNone
)

func marshalValue(v types.Value) []byte {
	var buf []byte
	switch v.Kind {
	case types.KindInt:
		buf = append(buf, tagInt)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(v.Int))
	case types.KindBool:
		buf = append(buf, tagBool)
		if v.Bool {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case types.KindString:
		buf = append(buf, tagString)
		buf = appendLenPrefixed(buf, []byte(v.Str))
	case types.KindBytes:
		buf = append(buf, tagBytes)
		buf = appendLenPrefixed(buf, v.Bytes)
	case types.KindID:
		buf = append(buf, tagID)
		buf = append(buf, v.ID[:]...)
	case types.KindStruct:
		buf = append(buf, tagStruct)
		buf = appendLenPrefixed(buf, []byte(v.Struct.Name))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(v.Struct.Fields.Len()))
		for pair := v.Struct.Fields.Oldest(); pair != nil; pair = pair.Next() {
			buf = appendLenPrefixed(buf, []byte(pair.Key))
			fieldBytes := marshalValue(pair.Value)
			buf = appendLenPrefixed(buf, fieldBytes)
		}
	case types.KindEnum:
		buf = append(buf, tagEnum)
		buf = appendLenPrefixed(buf, []byte(v.Enum.Type))
		buf = appendLenPrefixed(buf, []byte(v.Enum.Variant))
	case types.KindOptional:
		if v.Inner == nil {
			buf = append(buf, tagOptionalNone)
		} else {
			buf = append(buf, tagOptionalSome)
			buf = append(buf, marshalValue(*v.Inner)...)
		}
	default:
		buf = append(buf, tagOptionalNone)
	}
	return buf
}

func appendLenPrefixed(buf, data []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(data)))
	return append(buf, data...)
}

func readLenPrefixed(b []byte) ([]byte, []byte, error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("truncated length prefix")
	}
	n := binary.LittleEndian.Uint32(b)
	b = b[4:]
	if uint32(len(b)) < n {
		return nil, nil, fmt.Errorf("truncated payload")
	}
	return b[:n], b[n:], nil
}

func unmarshalValue(b []byte) (types.Value, []byte, error) {
	if len(b) == 0 {
		return types.Value{}, nil, fmt.Errorf("empty buffer")
	}
	tag, rest := b[0], b[1:]
	switch tag {
	case tagInt:
		if len(rest) < 8 {
			return types.Value{}, nil, fmt.Errorf("truncated int")
		}
		return types.Int64(int64(binary.LittleEndian.Uint64(rest))), rest[8:], nil
	case tagBool:
		if len(rest) < 1 {
			return types.Value{}, nil, fmt.Errorf("truncated bool")
		}
		return types.BoolValue(rest[0] != 0), rest[1:], nil
	case tagString:
		data, rest, err := readLenPrefixed(rest)
		if err != nil {
			return types.Value{}, nil, err
		}
		return types.StringValue(string(data)), rest, nil
	case tagBytes:
		data, rest, err := readLenPrefixed(rest)
		if err != nil {
			return types.Value{}, nil, err
		}
		cp := make([]byte, len(data))
		copy(cp, data)
		return types.BytesValue(cp), rest, nil
	case tagID:
		if len(rest) < 32 {
			return types.Value{}, nil, fmt.Errorf("truncated id")
		}
		var id types.ID
		copy(id[:], rest[:32])
		return types.IDValue(id), rest[32:], nil
	case tagStruct:
		nameBytes, rest, err := readLenPrefixed(rest)
		if err != nil {
			return types.Value{}, nil, err
		}
		if len(rest) < 4 {
			return types.Value{}, nil, fmt.Errorf("truncated struct field count")
		}
		count := binary.LittleEndian.Uint32(rest)
		rest = rest[4:]
		fields := types.NewFieldMap()
		for i := uint32(0); i < count; i++ {
			var keyBytes, fieldBytes []byte
			keyBytes, rest, err = readLenPrefixed(rest)
			if err != nil {
				return types.Value{}, nil, err
			}
			fieldBytes, rest, err = readLenPrefixed(rest)
			if err != nil {
				return types.Value{}, nil, err
			}
			fv, _, err := unmarshalValue(fieldBytes)
			if err != nil {
				return types.Value{}, nil, err
			}
			fields.Set(string(keyBytes), fv)
		}
		return types.Value{Kind: types.KindStruct, Struct: &types.StructValue{Name: string(nameBytes), Fields: fields}}, rest, nil
	case tagEnum:
		typeBytes, rest, err := readLenPrefixed(rest)
		if err != nil {
			return types.Value{}, nil, err
		}
		variantBytes, rest, err := readLenPrefixed(rest)
		if err != nil {
			return types.Value{}, nil, err
		}
		return types.Value{Kind: types.KindEnum, Enum: &types.EnumValue{Type: string(typeBytes), Variant: string(variantBytes)}}, rest, nil
	case tagOptionalSome:
		inner, rest, err := unmarshalValue(rest)
		if err != nil {
			return types.Value{}, nil, err
		}
		return types.Some(inner), rest, nil
	case tagOptionalNone:
		return types.None, rest, nil
	default:
		return types.Value{}, nil, fmt.Errorf("unknown value tag %d", tag)
	}
}
