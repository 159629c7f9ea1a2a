// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

// Package types defines the runtime value model and type system shared by
// the policy language front-end, compiler, and virtual machine.
package types

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Kind tags the variant a Value or VType currently holds.
type Kind uint8

// Kind constants enumerate every Value/VType variant. Bind is a
// machine-internal sentinel ("any") used only inside fact key tuples; it
// never appears as a VType.
const (
	KindInt Kind = iota
	KindBool
	KindString
	KindBytes
	KindID
	KindStruct
	KindEnum
	KindFact
	KindOptional
	KindNone
	KindBind
)

var kindStrings = [...]string{
	"int", "bool", "string", "bytes", "id", "struct", "enum", "fact", "optional", "none", "bind",
}

func (k Kind) String() string {
	if int(k) < len(kindStrings) {
		return kindStrings[k]
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// ID is a 32-byte content address.
type ID [32]byte

func (id ID) String() string {
	return fmt.Sprintf("%x", [32]byte(id))
}

// VType is the static type of a Value: String | Bytes | Int | Bool | Id |
// Struct(name) | Enum(name) | Optional(VType). The parser rejects
// Optional(Optional(_)) before it ever reaches this type.
type VType struct {
	Kind Kind
	Name string // Struct/Enum type name; empty otherwise
	Elem *VType // element type for Kind == KindOptional
}

// String renders the type the way policy source would spell it.
func (t VType) String() string {
	switch t.Kind {
	case KindStruct:
		return "struct " + t.Name
	case KindEnum:
		return "enum " + t.Name
	case KindOptional:
		if t.Elem == nil {
			return "optional"
		}
		return "optional " + t.Elem.String()
	default:
		return t.Kind.String()
	}
}

// Equal reports whether two types are structurally identical.
func (t VType) Equal(other VType) bool {
	if t.Kind != other.Kind || t.Name != other.Name {
		return false
	}
	if t.Kind == KindOptional {
		if (t.Elem == nil) != (other.Elem == nil) {
			return false
		}
		if t.Elem != nil {
			return t.Elem.Equal(*other.Elem)
		}
	}
	return true
}

// FieldMap is the ordered String -> Value map backing struct literals and
// fact key/value tuples. Field order is significant for deterministic
// serialization and for matching the source's declared field order.
type FieldMap = orderedmap.OrderedMap[string, Value]

// NewFieldMap returns an empty, ready-to-use FieldMap.
func NewFieldMap() *FieldMap {
	return orderedmap.New[string, Value]()
}

// StructValue is a named, ordered field tuple.
type StructValue struct {
	Name   string
	Fields *FieldMap
}

// Get returns a field by name.
func (s *StructValue) Get(name string) (Value, bool) {
	return s.Fields.Get(name)
}

// EnumValue identifies one variant of a declared enum type.
type EnumValue struct {
	Type    string
	Variant string
}

// FactValue is a fact literal: a name plus an ordered key tuple and an
// optional ordered value tuple. A key field may hold the Bind sentinel
// ("any") when used in query position; Bind in the value tuple, or in key
// position for create/update/delete, is a compile error enforced upstream.
type FactValue struct {
	Name string
	Key  *FieldMap
	Val  *FieldMap // nil when the fact literal carries no value fields
}

// Value is a tagged runtime value. Equality is structural (see Equal).
// Integers are two's complement i64; arithmetic overflow must be detected
// by the caller (the VM), never wrapped silently.
type Value struct {
	Kind   Kind
	Int    int64
	Bool   bool
	Str    string
	Bytes  []byte
	ID     ID
	Struct *StructValue
	Enum   *EnumValue
	Fact   *FactValue
	Inner  *Value // Kind == KindOptional: the wrapped Some(value)
}

// Bind is the "any" sentinel usable only in fact key tuples.
var Bind = Value{Kind: KindBind}

// None is the empty optional value.
var None = Value{Kind: KindNone}

// Int64 constructs an Int value.
func Int64(v int64) Value { return Value{Kind: KindInt, Int: v} }

// BoolValue constructs a Bool value.
func BoolValue(v bool) Value { return Value{Kind: KindBool, Bool: v} }

// StringValue constructs a String value.
func StringValue(v string) Value { return Value{Kind: KindString, Str: v} }

// BytesValue constructs a Bytes value. The slice is not copied.
func BytesValue(v []byte) Value { return Value{Kind: KindBytes, Bytes: v} }

// IDValue constructs an Id value.
func IDValue(v ID) Value { return Value{Kind: KindID, ID: v} }

// Some wraps v as an Optional(Value).
func Some(v Value) Value {
	return Value{Kind: KindOptional, Inner: &v}
}

// IsSome reports whether v is a present Optional.
func (v Value) IsSome() bool { return v.Kind == KindOptional }

// IsNone reports whether v is the absent-optional sentinel.
func (v Value) IsNone() bool { return v.Kind == KindNone }

// TypeOf returns the static type of a Value. Panics on KindBind/KindNone,
// which have no standalone VType (None only appears wrapped as part of an
// Optional type context known to the caller).
func (v Value) TypeOf() VType {
	switch v.Kind {
	case KindInt, KindBool, KindString, KindBytes, KindID:
		return VType{Kind: v.Kind}
	case KindStruct:
		return VType{Kind: KindStruct, Name: v.Struct.Name}
	case KindEnum:
		return VType{Kind: KindEnum, Name: v.Enum.Type}
	case KindOptional:
		inner := v.Inner.TypeOf()
		return VType{Kind: KindOptional, Elem: &inner}
	default:
		panic(fmt.Sprintf("types: TypeOf called on %s value", v.Kind))
	}
}

// Equal reports whether two values are structurally equal. Differing kinds
// are never equal; the VM's Eq opcode pushes Equal's result, so Eq on
// mismatched kinds yields false.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindInt:
		return v.Int == other.Int
	case KindBool:
		return v.Bool == other.Bool
	case KindString:
		return v.Str == other.Str
	case KindBytes:
		if len(v.Bytes) != len(other.Bytes) {
			return false
		}
		for i := range v.Bytes {
			if v.Bytes[i] != other.Bytes[i] {
				return false
			}
		}
		return true
	case KindID:
		return v.ID == other.ID
	case KindStruct:
		return structsEqual(v.Struct, other.Struct)
	case KindEnum:
		return v.Enum.Type == other.Enum.Type && v.Enum.Variant == other.Enum.Variant
	case KindFact:
		return factsEqual(v.Fact, other.Fact)
	case KindOptional:
		return v.Inner.Equal(*other.Inner)
	case KindNone, KindBind:
		return true
	default:
		return false
	}
}

func structsEqual(a, b *StructValue) bool {
	if a.Name != b.Name || a.Fields.Len() != b.Fields.Len() {
		return false
	}
	for pair := a.Fields.Oldest(); pair != nil; pair = pair.Next() {
		bv, ok := b.Fields.Get(pair.Key)
		if !ok || !pair.Value.Equal(bv) {
			return false
		}
	}
	return true
}

func fieldMapEqual(a, b *FieldMap) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Len() != b.Len() {
		return false
	}
	for pair := a.Oldest(); pair != nil; pair = pair.Next() {
		bv, ok := b.Get(pair.Key)
		if !ok || !pair.Value.Equal(bv) {
			return false
		}
	}
	return true
}

func factsEqual(a, b *FactValue) bool {
	if a.Name != b.Name {
		return false
	}
	return fieldMapEqual(a.Key, b.Key) && fieldMapEqual(a.Val, b.Val)
}
