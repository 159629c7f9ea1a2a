// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package lang

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aranya-project/aranya/pkg/errutil"
)

func TestParseFactDefinition(t *testing.T) {
	src := `fact Balance[user id]=>{amount int}`
	prog, err := Parse(src)
	require.NoError(t, err)
	require.Len(t, prog.Facts, 1)
	f := prog.Facts[0]
	assert.Equal(t, "Balance", f.Name)
	assert.False(t, f.Immutable)
	require.Len(t, f.Key, 1)
	assert.Equal(t, "user", f.Key[0].Name)
	require.Len(t, f.Value, 1)
	assert.Equal(t, "amount", f.Value[0].Name)
}

func TestParseImmutableFact(t *testing.T) {
	prog, err := Parse(`immutable fact Root[root id]`)
	require.NoError(t, err)
	require.Len(t, prog.Facts, 1)
	assert.True(t, prog.Facts[0].Immutable)
}

func TestParseActionAndArithmetic(t *testing.T) {
	src := `action transfer(amount int) {
		let total = amount + 1 + 2
		check total > 0
		publish Transfer{amount: total}
	}`
	prog, err := Parse(src)
	require.NoError(t, err)
	require.Len(t, prog.Actions, 1)
	a := prog.Actions[0]
	assert.Equal(t, "transfer", a.Name)
	require.Len(t, a.Body, 3)

	let, ok := a.Body[0].(*LetStmt)
	require.True(t, ok)
	// `A + B + C` must produce Add(Add(A,B),C): a left-leaning tree.
	outer, ok := let.Expr.(*BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "+", outer.Op)
	inner, ok := outer.Left.(*BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "+", inner.Op)
	_, ok = inner.Left.(*Ident)
	assert.True(t, ok)
}

func TestParseCommandWithOriginAndFinish(t *testing.T) {
	src := `command Transfer {
		fields { amount int }
		origin { parent_id id }
		policy {
			check amount > 0
			finish {
				emit Sent{amount: amount}
			}
		}
		recall {
			finish {}
		}
	}`
	prog, err := Parse(src)
	require.NoError(t, err)
	require.Len(t, prog.Commands, 1)
	cmd := prog.Commands[0]
	require.NotNil(t, cmd.Origin)
	require.Len(t, cmd.Origin.Fields, 1)
	require.Len(t, cmd.Policy, 2)
	_, ok := cmd.Policy[1].(*FinishBlockStmt)
	assert.True(t, ok)
}

func TestParseMatchStatement(t *testing.T) {
	src := `action pick(x int) {
		match x {
			1 => { check true }
			_ => { check false }
		}
	}`
	prog, err := Parse(src)
	require.NoError(t, err)
	m, ok := prog.Actions[0].Body[0].(*MatchStmt)
	require.True(t, ok)
	require.Len(t, m.Arms, 2)
	assert.Nil(t, m.Arms[1].Pattern)
}

func TestParseMapStatement(t *testing.T) {
	src := `action sweep() {
		map Balance[user: ?] {
			delete Balance[user: this.user]
		}
	}`
	prog, err := Parse(src)
	require.NoError(t, err)
	mp, ok := prog.Actions[0].Body[0].(*MapStmt)
	require.True(t, ok)
	assert.Equal(t, "Balance", mp.Fact.Name)
	_, isBind := mp.Fact.Keys[0].Expr.(*BindExpr)
	assert.True(t, isBind)
}

func TestReservedIdentifierRejected(t *testing.T) {
	_, err := Parse(`struct check { x int }`)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, string(KindReservedIdentifier))
}

func TestIntegerOverflowIsParseError(t *testing.T) {
	_, err := Parse(`let x = 99999999999999999999`)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, string(KindInvalidNumber))
}

func TestMinInt64Folds(t *testing.T) {
	prog, err := Parse(`let x = -9223372036854775808`)
	require.NoError(t, err)
	lit, ok := prog.Globals[0].Expr.(*IntLit)
	require.True(t, ok)
	assert.Equal(t, int64(-9223372036854775808), lit.Value)
}

func TestStringEscapes(t *testing.T) {
	prog, err := Parse(`let x = "a\nb\x41\\c"`)
	require.NoError(t, err)
	lit, ok := prog.Globals[0].Expr.(*StringLit)
	require.True(t, ok)
	assert.Equal(t, "a\nbA\\c", lit.Value)
}

func TestUnknownEscapeIsParseError(t *testing.T) {
	_, err := Parse(`let x = "\q"`)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, string(KindInvalidString))
}

func TestIsSomeIsNonePostfix(t *testing.T) {
	prog, err := Parse(`function f(x optional int) bool {
		return x is Some
	}`)
	require.NoError(t, err)
	ret, ok := prog.Functions[0].Body[0].(*ReturnStmt)
	require.True(t, ok)
	_, ok = ret.Expr.(*IsSomeExpr)
	assert.True(t, ok)
}

func TestFfiCallParsesModuleAndName(t *testing.T) {
	prog, err := Parse(`action a() {
		check crypto::verify(1)
	}`)
	require.NoError(t, err)
	chk, ok := prog.Actions[0].Body[0].(*CheckStmt)
	require.True(t, ok)
	call, ok := chk.Expr.(*CallExpr)
	require.True(t, ok)
	assert.Equal(t, "crypto", call.Module)
	assert.Equal(t, "verify", call.Name)
}

func TestEnumReference(t *testing.T) {
	prog, err := Parse(`enum Color { Red, Green, Blue }
	action a() {
		let c = Color::Red
	}`)
	require.NoError(t, err)
	require.Len(t, prog.Enums, 1)
	let, ok := prog.Actions[0].Body[0].(*LetStmt)
	require.True(t, ok)
	ref, ok := let.Expr.(*EnumRef)
	require.True(t, ok)
	assert.Equal(t, "Color", ref.Type)
	assert.Equal(t, "Red", ref.Variant)
}

func TestNestedOptionalRejected(t *testing.T) {
	_, err := Parse(`function f(x optional optional int) int { return 1 }`)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, string(KindInvalidType))
}

func TestDuplicateFactKeyFieldRejected(t *testing.T) {
	_, err := Parse(`fact F[a int, a int]`)
	require.Error(t, err)
}

func TestExistsExpression(t *testing.T) {
	prog, err := Parse(`function f() bool {
		return exists Balance[user: this.user]
	}`)
	require.NoError(t, err)
	ret := prog.Functions[0].Body[0].(*ReturnStmt)
	_, ok := ret.Expr.(*ExistsExpr)
	assert.True(t, ok)
}
