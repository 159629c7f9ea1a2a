// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

// Package lang implements the policy language front end: a
// participle-lexed, hand-written Pratt parser that turns UTF-8 policy
// source into an AST of byte-ranged nodes.
package lang

import "github.com/alecthomas/participle/v2/lexer"

// tokKind names a lexical token category. participle's Simple lexer
// assigns each rule an integer id at runtime; tokKind wraps the rule name
// so the parser can switch on a stable Go type instead of magic strings.
type tokKind string

const (
	tokString     tokKind = "String"
	tokInt        tokKind = "Int"
	tokIdent      tokKind = "Ident"
	tokOpAnd      tokKind = "OpAnd"
	tokOpOr       tokKind = "OpOr"
	tokOpEq       tokKind = "OpEq"
	tokOpNe       tokKind = "OpNe"
	tokOpGe       tokKind = "OpGe"
	tokOpLe       tokKind = "OpLe"
	tokOpGt       tokKind = "OpGt"
	tokOpLt       tokKind = "OpLt"
	tokBang       tokKind = "Bang"
	tokPlus       tokKind = "Plus"
	tokMinus      tokKind = "Minus"
	tokDot        tokKind = "Dot"
	tokComma      tokKind = "Comma"
	tokSemi       tokKind = "Semi"
	tokColon      tokKind = "Colon"
	tokAssign     tokKind = "Assign"
	tokLParen     tokKind = "LParen"
	tokRParen     tokKind = "RParen"
	tokLBrace     tokKind = "LBrace"
	tokRBrace     tokKind = "RBrace"
	tokLBracket   tokKind = "LBracket"
	tokRBracket   tokKind = "RBracket"
	tokArrow      tokKind = "Arrow" // =>
	tokDColon     tokKind = "DColon"
	tokQuestion   tokKind = "Question"
	tokEOF        tokKind = "EOF"
	tokWhitespace tokKind = "whitespace"
	tokLineCmt    tokKind = "LineComment"
	tokBlockCmt   tokKind = "BlockComment"
)

// policyLexer defines the token grammar shared by the lexer and the
// hand-written Pratt parser below. Order matters: longer patterns must
// precede shorter ones that share a prefix, exactly as in the teacher's
// DSL lexer (internal/access/policy/dsl/ast.go in the pack).
var policyLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: string(tokBlockCmt), Pattern: `/\*([^*]|\*[^/])*\*/`},
	{Name: string(tokLineCmt), Pattern: `//[^\n]*`},
	{Name: string(tokString), Pattern: `"(\\.|[^"\\])*"`},
	{Name: string(tokInt), Pattern: `[0-9]+`},
	{Name: string(tokOpAnd), Pattern: `&&`},
	{Name: string(tokOpOr), Pattern: `\|\|`},
	{Name: string(tokOpEq), Pattern: `==`},
	{Name: string(tokOpNe), Pattern: `!=`},
	{Name: string(tokOpGe), Pattern: `>=`},
	{Name: string(tokOpLe), Pattern: `<=`},
	{Name: string(tokArrow), Pattern: `=>`},
	{Name: string(tokOpGt), Pattern: `>`},
	{Name: string(tokOpLt), Pattern: `<`},
	{Name: string(tokBang), Pattern: `!`},
	{Name: string(tokAssign), Pattern: `=`},
	{Name: string(tokPlus), Pattern: `\+`},
	{Name: string(tokMinus), Pattern: `-`},
	{Name: string(tokDot), Pattern: `\.`},
	{Name: string(tokComma), Pattern: `,`},
	{Name: string(tokSemi), Pattern: `;`},
	{Name: string(tokDColon), Pattern: `::`},
	{Name: string(tokColon), Pattern: `:`},
	{Name: string(tokQuestion), Pattern: `\?`},
	{Name: string(tokLParen), Pattern: `\(`},
	{Name: string(tokRParen), Pattern: `\)`},
	{Name: string(tokLBrace), Pattern: `\{`},
	{Name: string(tokRBrace), Pattern: `\}`},
	{Name: string(tokLBracket), Pattern: `\[`},
	{Name: string(tokRBracket), Pattern: `\]`},
	{Name: string(tokIdent), Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
	{Name: string(tokWhitespace), Pattern: `\s+`},
})

// reservedWords is the 51-word reserved set; none may be used as an
// identifier (fact, struct, enum, field, function, or binding name).
var reservedWords = map[string]bool{
	"action": true, "bool": true, "bytes": true, "check": true, "check_unwrap": true,
	"command": true, "create": true, "debug_assert": true, "delete": true,
	"deserialize": true, "dynamic": true, "effect": true, "else": true, "emit": true,
	"enum": true, "envelope": true, "exists": true, "fact": true, "false": true,
	"fields": true, "finish": true, "function": true, "id": true, "if": true,
	"immutable": true, "int": true, "is": true, "let": true, "match": true,
	"None": true, "open": true, "optional": true, "origin": true, "policy": true,
	"publish": true, "query": true, "recall": true, "return": true, "seal": true,
	"serialize": true, "Some": true, "string": true, "struct": true, "then": true,
	"this": true, "to": true, "true": true, "unwrap": true, "update": true,
	"use": true, "when": true,
}

// IsReservedWord reports whether word is in the 51-word reserved set.
func IsReservedWord(word string) bool {
	return reservedWords[word]
}
