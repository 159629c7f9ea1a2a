// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package compile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aranya-project/aranya/internal/policy/lang"
	"github.com/aranya-project/aranya/pkg/errutil"
)

func compileSrc(t *testing.T, src string) *Machine {
	t.Helper()
	prog, err := lang.Parse(src)
	require.NoError(t, err, "parse")
	m, err := Compile(prog, Options{})
	require.NoError(t, err, "compile")
	return m
}

func TestCompile_NoUnresolvedTargets(t *testing.T) {
	m := compileSrc(t, `
		action transfer(amount int) {
			let total = amount + 1
			check total > 0
			publish Sent{amount: total}
		}
	`)
	for _, instr := range m.Progmem {
		switch instr.Op {
		case OpCall, OpJump, OpBranch:
			assert.True(t, instr.Target.Resolved, "target %q left unresolved", instr.Target.Name)
		}
	}
}

func TestCompile_PureFunctionMustReturnOnEveryPath(t *testing.T) {
	_, err := Compile(mustParse(t, `
		function f(x int) int {
			if x > 0 then {
				return x
			}
		}
	`), Options{})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, string(KindNoReturn))
}

func TestCompile_PureFunctionReturningOnEveryPathSucceeds(t *testing.T) {
	_, err := Compile(mustParse(t, `
		function f(x int) int {
			if x > 0 then {
				return x
			} else {
				return 0
			}
		}
	`), Options{})
	require.NoError(t, err)
}

func TestCompile_MatchAllArmsMustTerminateForNoReturn(t *testing.T) {
	_, err := Compile(mustParse(t, `
		function classify(x int) int {
			match x {
				1 => { return 1 }
				_ => { return 0 }
			}
		}
	`), Options{})
	require.NoError(t, err)
}

func TestCompile_PureFunctionCallFromFinishBlockRejected(t *testing.T) {
	_, err := Compile(mustParse(t, `
		function double(x int) int {
			return x + x
		}
		command C {
			fields { amount int }
			policy {
				finish {
					double(1)
				}
			}
		}
	`), Options{})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, string(KindInvalidElement))
}

func TestCompile_FinishFunctionCallInExpressionRejected(t *testing.T) {
	_, err := Compile(mustParse(t, `
		finish function bump(x int) {
			check x > 0
		}
		function f() int {
			return bump(1)
		}
	`), Options{})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, string(KindInvalidElement))
}

func TestCompile_FinishFunctionCallOutsideFinishBlockRejected(t *testing.T) {
	_, err := Compile(mustParse(t, `
		finish function bump(x int) {
			check x > 0
		}
		command C {
			fields { amount int }
			policy {
				bump(1)
			}
		}
	`), Options{})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, string(KindInvalidElement))
}

func TestCompile_DuplicateFunctionRejected(t *testing.T) {
	_, err := Compile(mustParse(t, `
		function f() int { return 1 }
		function f() int { return 2 }
	`), Options{})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, string(KindAlreadyDefined))
}

func TestCompile_DuplicateCommandRejected(t *testing.T) {
	_, err := Compile(mustParse(t, `
		command C {
			fields { amount int }
			policy { check true }
		}
		command C {
			fields { amount int }
			policy { check true }
		}
	`), Options{})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, string(KindAlreadyDefined))
}

func TestCompile_MatchArmNonLiteralPatternRejected(t *testing.T) {
	_, err := Compile(mustParse(t, `
		action pick(x int, y int) {
			match x {
				y => { check true }
				_ => { check false }
			}
		}
	`), Options{})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, string(KindInvalidType))
}

func TestCompile_UnknownFunctionCallRejected(t *testing.T) {
	_, err := Compile(mustParse(t, `
		function f() int {
			return g()
		}
	`), Options{})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, string(KindNotDefined))
}

func TestCompile_WrongArityCallRejected(t *testing.T) {
	_, err := Compile(mustParse(t, `
		function f(x int) int { return x }
		function g() int { return f() }
	`), Options{})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, string(KindBadArgument))
}

func TestCompile_UpdateOnImmutableFactRejected(t *testing.T) {
	_, err := Compile(mustParse(t, `
		immutable fact Root[root id]=>{owner id}
		action rotate(root id, owner id) {
			update Root[root: root] to { owner: owner }
		}
	`), Options{})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, string(KindBadArgument))
}

func TestCompile_BindInUpdateToClauseRejected(t *testing.T) {
	_, err := Compile(mustParse(t, `
		fact Balance[user id]=>{amount int}
		action sweep(user id) {
			update Balance[user: user] to { amount: ? }
		}
	`), Options{})
	require.Error(t, err)
}

func TestCompile_LeftAssociativeArithmeticLowersInOrder(t *testing.T) {
	m := compileSrc(t, `
		action a(x int) {
			let total = x + 1 + 2
		}
	`)
	var ops []Op
	for _, instr := range m.Progmem {
		ops = append(ops, instr.Op)
	}
	// Const("x"), Get, Const(1), Add, Const(2), Add, Const("total"), Def, Exit
	require.GreaterOrEqual(t, len(ops), 7)
	addCount := 0
	for _, op := range ops {
		if op == OpAdd {
			addCount++
		}
	}
	assert.Equal(t, 2, addCount)
}

func TestCompile_GreaterEqualLowersToDupSwapSequence(t *testing.T) {
	m := compileSrc(t, `
		action a(x int, y int) {
			check x >= y
		}
	`)
	var ops []Op
	for _, instr := range m.Progmem {
		ops = append(ops, instr.Op)
	}
	assert.Contains(t, ops, OpDup)
	assert.Contains(t, ops, OpSwap)
	assert.Contains(t, ops, OpGt)
	assert.Contains(t, ops, OpEq)
	assert.Contains(t, ops, OpOr)
}

func TestCompile_CommandPhasesGetDistinctLabels(t *testing.T) {
	m := compileSrc(t, `
		command Transfer {
			fields { amount int }
			policy {
				check amount > 0
			}
			recall {
				check true
			}
		}
	`)
	meta, ok := m.Commands["Transfer"]
	require.True(t, ok)
	assert.NotEmpty(t, meta.PolicyLbl)
	assert.NotEmpty(t, meta.RecallLbl)
	assert.Empty(t, meta.SealLbl)
	assert.Empty(t, meta.OpenLbl)
	assert.Empty(t, meta.AttributesLbl)

	_, hasPolicy := m.Labels[meta.PolicyLbl]
	assert.True(t, hasPolicy)
	_, hasRecall := m.Labels[meta.RecallLbl]
	assert.True(t, hasRecall)
}

func TestCompile_CommandAttributesBlockCompiles(t *testing.T) {
	m := compileSrc(t, `
		command Transfer {
			attributes {
				priority: 1
			}
			fields { amount int }
			policy {
				check amount > 0
			}
		}
	`)
	meta, ok := m.Commands["Transfer"]
	require.True(t, ok)
	assert.NotEmpty(t, meta.AttributesLbl)
}

func mustParse(t *testing.T, src string) *lang.Program {
	t.Helper()
	prog, err := lang.Parse(src)
	require.NoError(t, err)
	return prog
}
