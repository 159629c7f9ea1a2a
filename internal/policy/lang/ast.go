// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package lang

import "github.com/aranya-project/aranya/internal/policy/types"

// Span is a byte-range locator into the original policy source, adjusted
// by a chunk offset so fragments recovered from Markdown extraction keep
// correct absolute positions (§6).
type Span struct {
	Start int
	End   int
}

// Offset shifts the span by a chunk's start offset, used when a fenced
// Markdown block is spliced into a larger concatenated source buffer.
func (s Span) Offset(by int) Span {
	return Span{Start: s.Start + by, End: s.End + by}
}

// Node is embedded by every AST node to carry its source span.
type Node struct {
	Span Span
}

// Program is the parsed top level: a sequence of definitions.
type Program struct {
	Version int // Parse does not read front matter and leaves this 0; ExtractMarkdown reports the declared policy-version
	Uses    []*UseImport
	Facts   []*FactDef
	Structs []*StructDef
	Enums   []*EnumDef
	Effects []*EffectDef
	Globals []*LetStmt
	Actions []*ActionDef
	Commands []*CommandDef
	Functions []*FunctionDef
	FinishFunctions []*FinishFunctionDef
}

// UseImport is a `use ident` FFI module import.
type UseImport struct {
	Node
	Module string
}

// FieldDef is a named, typed field appearing in a fact/struct/effect/
// function-argument list.
type FieldDef struct {
	Node
	Name  string
	Type  types.VType
	Dynamic bool // effect fields only
}

// FactDef declares a fact: name, immutability, ordered key/value fields.
type FactDef struct {
	Node
	Name      string
	Immutable bool
	Key       []FieldDef
	Value     []FieldDef
}

// StructDef declares a struct type.
type StructDef struct {
	Node
	Name   string
	Fields []FieldDef
}

// EnumDef declares an enum type with unique variant names.
type EnumDef struct {
	Node
	Name     string
	Variants []string
}

// EffectDef declares an effect (a struct-shaped value emitted via `emit`).
type EffectDef struct {
	Node
	Name   string
	Fields []FieldDef
}

// ActionDef declares a top-level action: an entry point invoked by a
// runtime client, lowered to an `Action` label.
type ActionDef struct {
	Node
	Name string
	Args []FieldDef
	Body []Stmt
}

// FunctionDef declares a pure function: must return on every path.
type FunctionDef struct {
	Node
	Name    string
	Args    []FieldDef
	Returns types.VType
	Body    []Stmt
}

// FinishFunctionDef declares a finish function: effectful, callable only
// from inside a `finish { … }` block, never returns a value.
type FinishFunctionDef struct {
	Node
	Name string
	Args []FieldDef
	Body []Stmt
}

// OriginBlock records which parent perspective a command was authored
// against (supplemented feature, grounded on original_source/'s
// crates/crypto/src/aps/bidi.rs parent/perspective bookkeeping).
type OriginBlock struct {
	Node
	Fields []FieldDef
}

// CommandDef declares a command: attributes, fields, and the policy/
// recall/seal/open blocks that gate it.
type CommandDef struct {
	Node
	Name       string
	Attributes []FieldAssign
	Fields     []FieldDef
	Origin     *OriginBlock // nil if the command carries no origin block
	Policy     []Stmt
	Recall     []Stmt
	Seal       []Stmt
	Open       []Stmt
}

// Stmt is the interface implemented by every statement-form AST node.
type Stmt interface {
	stmtNode()
	span() Span
}

func (n Node) stmtNode() {}
func (n Node) span() Span { return n.Span }

// LetStmt binds the result of an expression to a name (global or local).
type LetStmt struct {
	Node
	Name string
	Expr Expr
}

// CheckStmt asserts an expression is true; failure raises CheckFailed.
type CheckStmt struct {
	Node
	Expr Expr
}

// DebugAssertStmt is check's debug-mode-only twin (supplemented feature):
// compiled like check in debug builds, compiled to nothing in release.
type DebugAssertStmt struct {
	Node
	Expr Expr
}

// PublishStmt seals and emits a command instance onto the graph.
type PublishStmt struct {
	Node
	Expr Expr
}

// ReturnStmt returns a value from a pure function.
type ReturnStmt struct {
	Node
	Expr Expr
}

// EmitStmt appends a struct value to the pending effects list.
type EmitStmt struct {
	Node
	Expr Expr
}

// FinishBlockStmt is a `finish { … }` block: a nested sequence of
// finish-statements (fact writes, finish-function calls, emits).
type FinishBlockStmt struct {
	Node
	Body []Stmt
}

// IfStmt is `if c then { … } else if … else { … }`; ElseIfs is empty for a
// plain if/else, Else is nil if there is no else branch.
type IfStmt struct {
	Node
	Cond    Expr
	Then    []Stmt
	ElseIfs []ElseIfClause
	Else    []Stmt
}

// ElseIfClause is one `else if` arm of an IfStmt.
type ElseIfClause struct {
	Cond Expr
	Body []Stmt
}

// WhenStmt is sugar for `if cond then { body } else {}` (Open Question
// resolution: see DESIGN.md).
type WhenStmt struct {
	Node
	Cond Expr
	Body []Stmt
}

// MatchArm is one arm of a match statement: a literal pattern (Int,
// String, Bool, EnumReference) or the default wildcard (Pattern == nil).
type MatchArm struct {
	Pattern Expr // nil for the default arm
	Body    []Stmt
}

// MatchStmt dispatches on equality against a series of literal patterns.
type MatchStmt struct {
	Node
	Expr Expr
	Arms []MatchArm
}

// MapStmt iterates every fact matching a key pattern (supplemented
// feature), running Body once per match with the fact's fields bound
// under BindName.
type MapStmt struct {
	Node
	Fact     *FactLit
	BindName string
	Body     []Stmt
}

// CreateStmt creates a fact.
type CreateStmt struct {
	Node
	Fact *FactLit
}

// UpdateStmt updates an existing fact's value fields.
type UpdateStmt struct {
	Node
	Fact *FactLit
	To   []FieldAssign
}

// FieldAssign is one `name: expr` pair in an `update ... to { ... }` body
// or a struct literal.
type FieldAssign struct {
	Name string
	Expr Expr
}

// DeleteStmt deletes a fact by key.
type DeleteStmt struct {
	Node
	Fact *FactLit
}

// ExprStmt is a bare function/action call used as a statement.
type ExprStmt struct {
	Node
	Expr Expr
}

// Expr is the interface implemented by every expression-form AST node.
type Expr interface {
	exprNode()
	span() Span
}

func (n Node) exprNode() {}

// IntLit is an integer literal, already folded for a leading unary minus.
type IntLit struct {
	Node
	Value int64
}

// StringLit is a string literal with escapes already decoded.
type StringLit struct {
	Node
	Value string
}

// BoolLit is `true`/`false`.
type BoolLit struct {
	Node
	Value bool
}

// NoneLit is the literal `None`.
type NoneLit struct{ Node }

// Ident is a bare identifier reference (local, global, or field binding).
type Ident struct {
	Node
	Name string
}

// EnumRef is `EnumType::Variant`.
type EnumRef struct {
	Node
	Type    string
	Variant string
}

// StructLit is a `StructName { field: expr, ... }` literal.
type StructLit struct {
	Node
	Type   string
	Fields []FieldAssign
}

// FactLit is a `FactName[key: expr, ...] => {value: expr, ...}` literal;
// Values is nil when no `=>` clause is present. A key expr may be the
// bare identifier `?` desugared by the parser into BindExpr.
type FactLit struct {
	Node
	Name   string
	Keys   []FieldAssign
	Values []FieldAssign
}

// BindExpr is the `?` wildcard usable only inside a FactLit's Keys.
type BindExpr struct{ Node }

// QueryExpr is `query F[...]`, producing Option<Struct>.
type QueryExpr struct {
	Node
	Fact *FactLit
}

// ExistsExpr is `exists F[...]`, producing Bool.
type ExistsExpr struct {
	Node
	Fact *FactLit
}

// SomeExpr is `Some(expr)`, wrapping expr as a present Optional.
type SomeExpr struct {
	Node
	Expr Expr
}

// SerializeExpr is `serialize(expr)`.
type SerializeExpr struct {
	Node
	Expr Expr
}

// DeserializeExpr is `deserialize(expr)`.
type DeserializeExpr struct {
	Node
	Expr Expr
}

// CallExpr is a function or FFI `module::func` call.
type CallExpr struct {
	Node
	Module string // empty for a same-policy function call
	Name   string
	Args   []Expr
}

// FieldAccessExpr is `.field` member access.
type FieldAccessExpr struct {
	Node
	Recv  Expr
	Field string
}

// UnaryExpr is a prefix `-`, `!`, `unwrap`, or `check_unwrap` application.
type UnaryExpr struct {
	Node
	Op   string
	Expr Expr
}

// BinaryExpr is a strictly binary infix application; a left-associative
// chain `A + B + C` parses as BinaryExpr{Add, BinaryExpr{Add, A, B}, C}.
type BinaryExpr struct {
	Node
	Op    string
	Left  Expr
	Right Expr
}

// IsSomeExpr/IsNoneExpr are the postfix `is Some`/`is None` operators.
type IsSomeExpr struct {
	Node
	Expr Expr
}

type IsNoneExpr struct {
	Node
	Expr Expr
}

var (
	_ Stmt = (*LetStmt)(nil)
	_ Stmt = (*CheckStmt)(nil)
	_ Stmt = (*DebugAssertStmt)(nil)
	_ Stmt = (*PublishStmt)(nil)
	_ Stmt = (*ReturnStmt)(nil)
	_ Stmt = (*EmitStmt)(nil)
	_ Stmt = (*FinishBlockStmt)(nil)
	_ Stmt = (*IfStmt)(nil)
	_ Stmt = (*WhenStmt)(nil)
	_ Stmt = (*MatchStmt)(nil)
	_ Stmt = (*MapStmt)(nil)
	_ Stmt = (*CreateStmt)(nil)
	_ Stmt = (*UpdateStmt)(nil)
	_ Stmt = (*DeleteStmt)(nil)
	_ Stmt = (*ExprStmt)(nil)

	_ Expr = (*IntLit)(nil)
	_ Expr = (*StringLit)(nil)
	_ Expr = (*BoolLit)(nil)
	_ Expr = (*NoneLit)(nil)
	_ Expr = (*Ident)(nil)
	_ Expr = (*EnumRef)(nil)
	_ Expr = (*StructLit)(nil)
	_ Expr = (*FactLit)(nil)
	_ Expr = (*BindExpr)(nil)
	_ Expr = (*QueryExpr)(nil)
	_ Expr = (*ExistsExpr)(nil)
	_ Expr = (*SomeExpr)(nil)
	_ Expr = (*SerializeExpr)(nil)
	_ Expr = (*DeserializeExpr)(nil)
	_ Expr = (*CallExpr)(nil)
	_ Expr = (*FieldAccessExpr)(nil)
	_ Expr = (*UnaryExpr)(nil)
	_ Expr = (*BinaryExpr)(nil)
	_ Expr = (*IsSomeExpr)(nil)
	_ Expr = (*IsNoneExpr)(nil)
)
