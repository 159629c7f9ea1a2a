// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package factdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aranya-project/aranya/internal/policy/types"
)

func fieldMap(pairs ...any) *types.FieldMap {
	fm := types.NewFieldMap()
	for i := 0; i < len(pairs); i += 2 {
		fm.Set(pairs[i].(string), pairs[i+1].(types.Value))
	}
	return fm
}

func TestTransaction_CreateThenCommitIsVisible(t *testing.T) {
	store := New()
	tx := store.Begin()
	key := fieldMap("user", types.StringValue("alice"))
	val := fieldMap("amount", types.Int64(10))
	require.NoError(t, tx.Create("Balance", key, val))
	tx.Commit()

	snap := store.Snapshot()
	fv, ok := snap.Query("Balance", key)
	require.True(t, ok)
	assert.Equal(t, int64(10), mustGet(fv.Val, "amount").Int)
}

func TestTransaction_UncommittedWritesNotVisibleToOtherSnapshot(t *testing.T) {
	store := New()
	tx := store.Begin()
	key := fieldMap("user", types.StringValue("alice"))
	require.NoError(t, tx.Create("Balance", key, fieldMap("amount", types.Int64(10))))

	snap := store.Snapshot()
	_, ok := snap.Query("Balance", key)
	assert.False(t, ok)
}

func TestTransaction_DuplicateCreateRejected(t *testing.T) {
	store := New()
	key := fieldMap("user", types.StringValue("alice"))
	tx1 := store.Begin()
	require.NoError(t, tx1.Create("Balance", key, fieldMap("amount", types.Int64(10))))
	tx1.Commit()

	tx2 := store.Begin()
	err := tx2.Create("Balance", key, fieldMap("amount", types.Int64(20)))
	require.Error(t, err)
}

func TestTransaction_UpdateRequiresExistingFact(t *testing.T) {
	store := New()
	tx := store.Begin()
	key := fieldMap("user", types.StringValue("alice"))
	err := tx.Update("Balance", key, fieldMap("amount", types.Int64(5)))
	require.Error(t, err)
}

func TestTransaction_UpdateThenCommitReplacesValue(t *testing.T) {
	store := New()
	key := fieldMap("user", types.StringValue("alice"))
	tx1 := store.Begin()
	require.NoError(t, tx1.Create("Balance", key, fieldMap("amount", types.Int64(10))))
	tx1.Commit()

	tx2 := store.Begin()
	require.NoError(t, tx2.Update("Balance", key, fieldMap("amount", types.Int64(99))))
	tx2.Commit()

	fv, ok := store.Snapshot().Query("Balance", key)
	require.True(t, ok)
	assert.Equal(t, int64(99), mustGet(fv.Val, "amount").Int)
}

func TestTransaction_DeleteThenCommitRemovesFact(t *testing.T) {
	store := New()
	key := fieldMap("user", types.StringValue("alice"))
	tx1 := store.Begin()
	require.NoError(t, tx1.Create("Balance", key, fieldMap("amount", types.Int64(10))))
	tx1.Commit()

	tx2 := store.Begin()
	require.NoError(t, tx2.Delete("Balance", key))
	tx2.Commit()

	_, ok := store.Snapshot().Query("Balance", key)
	assert.False(t, ok)
}

func TestTransaction_RollbackDiscardsWrites(t *testing.T) {
	store := New()
	key := fieldMap("user", types.StringValue("alice"))
	tx := store.Begin()
	require.NoError(t, tx.Create("Balance", key, fieldMap("amount", types.Int64(10))))
	tx.Rollback()
	tx.Commit() // no-op: write-set was cleared

	_, ok := store.Snapshot().Query("Balance", key)
	assert.False(t, ok)
}

func TestTransaction_QueryWithBindWildcardMatchesAny(t *testing.T) {
	store := New()
	tx1 := store.Begin()
	require.NoError(t, tx1.Create("Balance", fieldMap("user", types.StringValue("alice")), fieldMap("amount", types.Int64(10))))
	tx1.Commit()

	tx2 := store.Begin()
	fv, ok := tx2.Query("Balance", fieldMap("user", types.Bind))
	require.True(t, ok)
	assert.Equal(t, "alice", mustGet(fv.Key, "user").Str)
}

func TestTransaction_AllReturnsEveryMatch(t *testing.T) {
	store := New()
	tx1 := store.Begin()
	require.NoError(t, tx1.Create("Balance", fieldMap("user", types.StringValue("alice")), fieldMap("amount", types.Int64(1))))
	require.NoError(t, tx1.Create("Balance", fieldMap("user", types.StringValue("bob")), fieldMap("amount", types.Int64(2))))
	tx1.Commit()

	tx2 := store.Begin()
	all := tx2.All("Balance", fieldMap("user", types.Bind))
	assert.Len(t, all, 2)
}

func mustGet(fm *types.FieldMap, name string) types.Value {
	v, _ := fm.Get(name)
	return v
}
