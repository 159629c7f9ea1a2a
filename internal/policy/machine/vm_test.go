// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package machine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aranya-project/aranya/internal/policy/compile"
	"github.com/aranya-project/aranya/internal/policy/factdb"
	"github.com/aranya-project/aranya/internal/policy/lang"
	"github.com/aranya-project/aranya/internal/policy/types"
	"github.com/aranya-project/aranya/pkg/errutil"
)

func buildVM(t *testing.T, src string) (*VM, *factdb.Store) {
	t.Helper()
	prog, err := lang.Parse(src)
	require.NoError(t, err, "parse")
	m, err := compile.Compile(prog, compile.Options{})
	require.NoError(t, err, "compile")
	store := factdb.New()
	return New(m, store, NewFFIRegistry(), NewMetrics(), nil), store
}

func TestVM_ActionArithmeticAndEffect(t *testing.T) {
	vm, _ := buildVM(t, `
		effect Sent { amount int }
		action transfer(amount int) {
			let total = amount + 1
			check total > 0
			emit Sent{amount: total}
		}
	`)
	res, err := vm.RunAction(context.Background(), "transfer", []types.Value{types.Int64(5)}, CommandContext{})
	require.NoError(t, err)
	require.Len(t, res.Effects, 1)
	assert.Equal(t, "Sent", res.Effects[0].Name)
	amt, ok := res.Effects[0].Fields.Get("amount")
	require.True(t, ok)
	assert.Equal(t, int64(6), amt.Int)
}

func TestVM_CheckFailureRaisesCheckFailed(t *testing.T) {
	vm, _ := buildVM(t, `
		action boom() {
			check false
		}
	`)
	_, err := vm.RunAction(context.Background(), "boom", nil, CommandContext{})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, string(KindCheckFailed))
}

func TestVM_CreateThenQueryRoundtrips(t *testing.T) {
	vm, store := buildVM(t, `
		fact Balance[user id]=>{amount int}
		action openBalance(user id, amount int) {
			create Balance[user: user]=>{amount: amount}
		}
	`)
	userID := types.ID{1}
	res, err := vm.RunAction(context.Background(), "openBalance", []types.Value{types.IDValue(userID), types.Int64(42)}, CommandContext{})
	require.NoError(t, err)
	assert.Empty(t, res.Effects)

	snap := store.Snapshot()
	key := types.NewFieldMap()
	key.Set("user", types.IDValue(userID))
	fv, ok := snap.Query("Balance", key)
	require.True(t, ok)
	amt, ok := fv.Val.Get("amount")
	require.True(t, ok)
	assert.Equal(t, int64(42), amt.Int)
}

func TestVM_DuplicateCreateRollsBackWholeTransaction(t *testing.T) {
	vm, store := buildVM(t, `
		fact Balance[user id]=>{amount int}
		action openTwice(user id) {
			create Balance[user: user]=>{amount: 1}
			create Balance[user: user]=>{amount: 2}
		}
	`)
	userID := types.ID{2}
	_, err := vm.RunAction(context.Background(), "openTwice", []types.Value{types.IDValue(userID)}, CommandContext{})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, string(KindFactAlreadyExists))

	key := types.NewFieldMap()
	key.Set("user", types.IDValue(userID))
	_, ok := store.Snapshot().Query("Balance", key)
	assert.False(t, ok, "first create must not have committed once the second failed")
}

func TestVM_PureFunctionCallReturnsValue(t *testing.T) {
	vm, _ := buildVM(t, `
		effect Doubled { value int }
		function double(x int) int {
			return x + x
		}
		action run(x int) {
			emit Doubled{value: double(x)}
		}
	`)
	res, err := vm.RunAction(context.Background(), "run", []types.Value{types.Int64(21)}, CommandContext{})
	require.NoError(t, err)
	require.Len(t, res.Effects, 1)
	v, ok := res.Effects[0].Fields.Get("value")
	require.True(t, ok)
	assert.Equal(t, int64(42), v.Int)
}

func TestVM_FinishFunctionWritesFactAsStatement(t *testing.T) {
	vm, store := buildVM(t, `
		fact Balance[user id]=>{amount int}
		finish function credit(user id, amount int) {
			create Balance[user: user]=>{amount: amount}
		}
		action openBalance(user id, amount int) {
			finish {
				credit(user, amount)
			}
		}
	`)
	userID := types.ID{3}
	_, err := vm.RunAction(context.Background(), "openBalance", []types.Value{types.IDValue(userID), types.Int64(7)}, CommandContext{})
	require.NoError(t, err)

	key := types.NewFieldMap()
	key.Set("user", types.IDValue(userID))
	fv, ok := store.Snapshot().Query("Balance", key)
	require.True(t, ok)
	amt, _ := fv.Val.Get("amount")
	assert.Equal(t, int64(7), amt.Int)
}

func TestVM_GreaterEqualComparison(t *testing.T) {
	vm, _ := buildVM(t, `
		effect Checked { ok bool }
		action run(x int, y int) {
			emit Checked{ok: x >= y}
		}
	`)
	res, err := vm.RunAction(context.Background(), "run", []types.Value{types.Int64(5), types.Int64(5)}, CommandContext{})
	require.NoError(t, err)
	ok, _ := res.Effects[0].Fields.Get("ok")
	assert.True(t, ok.Bool)

	res2, err := vm.RunAction(context.Background(), "run", []types.Value{types.Int64(4), types.Int64(5)}, CommandContext{})
	require.NoError(t, err)
	ok2, _ := res2.Effects[0].Fields.Get("ok")
	assert.False(t, ok2.Bool)
}

func TestVM_MapIteratesAllMatchingFacts(t *testing.T) {
	vm, _ := buildVM(t, `
		fact Balance[user id]=>{amount int}
		effect Seen { amount int }
		action openMany(first id, second id) {
			create Balance[user: first]=>{amount: 1}
			create Balance[user: second]=>{amount: 2}
			map Balance[user: ?] {
				emit Seen{amount: this.amount}
			}
		}
	`)
	res, err := vm.RunAction(context.Background(), "openMany", []types.Value{types.IDValue(types.ID{1}), types.IDValue(types.ID{2})}, CommandContext{})
	require.NoError(t, err)
	assert.Len(t, res.Effects, 2)
}

func TestVM_CommandPolicyGatesOnCheck(t *testing.T) {
	vm, _ := buildVM(t, `
		command Transfer {
			fields { amount int }
			policy {
				check amount > 0
			}
		}
	`)
	fields := types.NewFieldMap()
	fields.Set("amount", types.Int64(10))
	_, err := vm.RunCommandPolicy(context.Background(), "Transfer", fields, nil, CommandContext{})
	require.NoError(t, err)

	badFields := types.NewFieldMap()
	badFields.Set("amount", types.Int64(-1))
	_, err = vm.RunCommandPolicy(context.Background(), "Transfer", badFields, nil, CommandContext{})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, string(KindCheckFailed))
}
