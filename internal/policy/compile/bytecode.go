// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

// Package compile lowers a parsed policy AST (internal/policy/lang) into a
// flat, labeled bytecode program executed by internal/policy/machine.
package compile

import (
	"github.com/aranya-project/aranya/internal/policy/lang"
	"github.com/aranya-project/aranya/internal/policy/types"
)

// Op names every bytecode opcode (§3).
type Op uint8

const (
	OpConst Op = iota
	OpDef
	OpGet
	OpStructNew
	OpStructSet
	OpStructGet
	OpFactNew
	OpFactKeySet
	OpFactValueSet
	OpQuery
	OpExists
	OpCreate
	OpUpdate
	OpDelete
	OpEmit
	OpEffect
	OpReturn
	OpCall
	OpJump
	OpBranch
	OpDup
	OpSwap
	OpAdd
	OpSub
	OpEq
	OpNot
	OpAnd
	OpOr
	OpGt
	OpLt
	OpPanic
	OpExit
	// QueryStart/QueryNext/QueryEnd are the supplemented trio lowering the
	// `map` statement (SPEC_FULL.md §C.2) to multi-row fact iteration.
	OpQueryStart
	OpQueryNext
	OpQueryEnd
	// OpUnwrap pops an Optional value and pushes its wrapped Inner value;
	// it is not itself one of §4.C's "selected" lowering rules, but `unwrap`
	// and `check_unwrap` both need it after their None-check sequence
	// (there is no other way to turn Option<T> into T on the stack).
	OpUnwrap
	// OpSomeWrap, OpSerialize, OpDeserialize, OpFfiCall, and OpPublish are
	// further additions beyond the 32 core opcodes: §4.A's grammar gives
	// `Some(...)`/`serialize(...)`/`deserialize(...)`/FFI calls/`publish`
	// expression and statement forms, but §3's opcode list has no operator
	// for constructing an Optional, converting to/from bytes, dispatching
	// to a foreign module, or sealing+emitting a command — each needs one.
	OpSomeWrap
	OpSerialize
	OpDeserialize
	OpFfiCall
	OpPublish
)

var opNames = [...]string{
	"Const", "Def", "Get", "StructNew", "StructSet", "StructGet",
	"FactNew", "FactKeySet", "FactValueSet", "Query", "Exists",
	"Create", "Update", "Delete", "Emit", "Effect", "Return", "Call",
	"Jump", "Branch", "Dup", "Swap", "Add", "Sub", "Eq", "Not", "And",
	"Or", "Gt", "Lt", "Panic", "Exit", "QueryStart", "QueryNext", "QueryEnd",
	"Unwrap", "SomeWrap", "Serialize", "Deserialize", "FfiCall", "Publish",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return "Unknown"
}

// LabelKind distinguishes the three label namespaces a bytecode address may
// be entered through.
type LabelKind uint8

const (
	LabelAction LabelKind = iota
	LabelCommand
	LabelTemporary
)

// Target is a jump/call destination: a symbolic name before linking, a
// resolved instruction address after.
type Target struct {
	Name     string
	Resolved bool
	Addr     int
}

// Unresolved constructs a not-yet-linked Target.
func Unresolved(name string) Target { return Target{Name: name} }

// PanicReason distinguishes the machine error an OpPanic instruction raises.
// It rides in Instr.N since OpPanic takes no other operand.
type PanicReason int

const (
	// ReasonPanic is an explicit policy panic or a failed `unwrap`.
	ReasonPanic PanicReason = iota
	// ReasonCheckFailed is a failed `check`/`debug_assert`/`check_unwrap`.
	ReasonCheckFailed
)

// Instr is one bytecode instruction. Only the fields relevant to Op are
// populated; the rest are zero. Span carries the originating AST node's
// source range for diagnostics (§4.E failure semantics).
type Instr struct {
	Op     Op
	Value  types.Value // OpConst
	N      int         // OpDup, OpSwap, OpPanic (PanicReason)
	Target Target      // OpCall, OpJump, OpBranch
	Span   lang.Span
}

// Label records where a named entry point or temporary landing pad lives in
// progmem.
type Label struct {
	Name string
	Kind LabelKind
	Addr int
}

// Color is a function's call-site discipline: pure functions are
// expression-callable and typed, finish functions are statement-only and
// untyped (§4.C signature table).
type Color uint8

const (
	ColorPure Color = iota
	ColorFinish
)

// FunctionSignature is the arity/color contract checked at every call site.
// ArgNames parallels Args and lets the machine bind a call's popped
// arguments to the callee's named locals (Call(addr) itself carries no
// binding prologue — see DESIGN.md's dynamic-locals decision).
type FunctionSignature struct {
	Name     string
	Args     []types.VType
	ArgNames []string
	Color    Color
	Returns  types.VType // meaningful only when Color == ColorPure
}

// StructDef and FactDef mirror the AST's declarations, retained on Machine
// for runtime field-name/type validation (struct member get/set, fact
// shape checks).
type StructDef struct {
	Name   string
	Fields []lang.FieldDef
}

type FactDef struct {
	Name      string
	Immutable bool
	Key       []lang.FieldDef
	Value     []lang.FieldDef
}

type EffectDef struct {
	Name   string
	Fields []lang.FieldDef
}

type EnumDef struct {
	Name     string
	Variants []string
}

// CommandMeta records a command's static shape and the label names of its
// compiled phases. A phase label is empty when the source command carried
// no corresponding block (the VM treats a missing phase as a no-op).
type CommandMeta struct {
	Name          string
	Fields        []lang.FieldDef
	Origin        []lang.FieldDef // nil if the command carries no origin block
	AttributesLbl string          // label of the compiled attributes-struct builder, or ""
	PolicyLbl     string
	RecallLbl     string
	SealLbl       string
	OpenLbl       string
}

// ActionMeta records an action's declared parameter list, letting a host
// bind positional call arguments to named locals before entering its label
// (actions are entered directly, never through OpCall, so they carry no
// call-convention Def sequence of their own).
type ActionMeta struct {
	Name string
	Args []lang.FieldDef
}

// Machine is the immutable, linked output of Compile. Every OpCall/OpJump/
// OpBranch target in Progmem is resolved; OpFfiCall targets keep only their
// "module::function" name (Resolved == false) and are dispatched by name at
// run time.
type Machine struct {
	Progmem    []Instr
	Labels     map[string]Label
	Signatures map[string]FunctionSignature
	Structs    map[string]StructDef
	Facts      map[string]FactDef
	Effects    map[string]EffectDef
	Enums      map[string]EnumDef
	Commands   map[string]CommandMeta
	Actions    map[string]ActionMeta
}
