// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aranya-project/aranya/internal/policy/compile"
	"github.com/aranya-project/aranya/internal/policy/ffi"
	"github.com/aranya-project/aranya/internal/policy/lang"
	"github.com/aranya-project/aranya/internal/policy/types"
	"github.com/aranya-project/aranya/pkg/errutil"
)

// stepPolicy is a small fixture mirroring §8's "basic arithmetic action
// chain" shape: each step publishes a command whose policy block emits an
// effect carrying the value the action was called with, so a chain of
// actions produces an observable, ordered effect log without requiring a
// `map`/`query` round trip inside a finish block.
const stepPolicy = `
	effect StuffHappened { x int }
	command Step {
		fields { x int }
		policy {
			finish {
				emit StuffHappened{x: x}
			}
		}
	}
	action step(x int) {
		publish Step{x: x}
	}
`

func buildModel(t *testing.T, src string) *Model {
	t.Helper()
	prog, err := lang.Parse(src)
	require.NoError(t, err, "parse")
	m, err := compile.Compile(prog, compile.Options{})
	require.NoError(t, err, "compile")
	reg, err := ffi.NewDefaultRegistry(nil, nil)
	require.NoError(t, err, "ffi registry")
	return NewModel(m, reg, nil)
}

func TestModel_ActionChainExtendsHeadAndEmits(t *testing.T) {
	model := buildModel(t, stepPolicy)
	clientA := NewProxyClientID()
	authorA := types.ID{0xA}
	require.NoError(t, model.AddClient(clientA, authorA))

	graphID := NewProxyGraphID()
	effects, err := model.NewGraph(context.Background(), clientA, graphID, ActionCall{Name: "step", Args: []types.Value{types.Int64(3)}})
	require.NoError(t, err)
	require.Len(t, effects, 1)
	x, _ := effects[0].Fields.Get("x")
	assert.Equal(t, int64(3), x.Int)

	effects, err = model.Action(context.Background(), clientA, graphID, ActionCall{Name: "step", Args: []types.Value{types.Int64(9)}})
	require.NoError(t, err)
	require.Len(t, effects, 1)
	x, _ = effects[0].Fields.Get("x")
	assert.Equal(t, int64(9), x.Int)
}

func TestModel_DuplicateClientRejected(t *testing.T) {
	model := buildModel(t, stepPolicy)
	id := NewProxyClientID()
	require.NoError(t, model.AddClient(id, types.ID{1}))
	err := model.AddClient(id, types.ID{2})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, KindDuplicateClient)
}

func TestModel_DuplicateGraphRejected(t *testing.T) {
	model := buildModel(t, stepPolicy)
	clientA := NewProxyClientID()
	require.NoError(t, model.AddClient(clientA, types.ID{1}))
	graphID := NewProxyGraphID()
	ctx := context.Background()
	_, err := model.NewGraph(ctx, clientA, graphID, ActionCall{Name: "step", Args: []types.Value{types.Int64(1)}})
	require.NoError(t, err)
	_, err = model.NewGraph(ctx, clientA, graphID, ActionCall{Name: "step", Args: []types.Value{types.Int64(1)}})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, KindDuplicateGraph)
}

func TestModel_SyncTransfersCommandsAndIsIdempotent(t *testing.T) {
	model := buildModel(t, stepPolicy)
	ctx := context.Background()
	clientA, clientB := NewProxyClientID(), NewProxyClientID()
	require.NoError(t, model.AddClient(clientA, types.ID{0xA}))
	require.NoError(t, model.AddClient(clientB, types.ID{0xB}))

	graphID := NewProxyGraphID()
	_, err := model.NewGraph(ctx, clientA, graphID, ActionCall{Name: "step", Args: []types.Value{types.Int64(1)}})
	require.NoError(t, err)
	_, err = model.Action(ctx, clientA, graphID, ActionCall{Name: "step", Args: []types.Value{types.Int64(2)}})
	require.NoError(t, err)

	report, err := model.Sync(ctx, graphID, clientA, clientB)
	require.NoError(t, err)
	assert.Len(t, report.Applied, 2)
	assert.Empty(t, report.Rejected)

	// Replaying is idempotent: nothing new to transfer.
	report2, err := model.Sync(ctx, graphID, clientA, clientB)
	require.NoError(t, err)
	assert.Empty(t, report2.Applied)
	assert.Empty(t, report2.Rejected)
}

func TestModel_SessionActionsAreIsolatedFromGraph(t *testing.T) {
	model := buildModel(t, stepPolicy)
	ctx := context.Background()
	clientA := NewProxyClientID()
	require.NoError(t, model.AddClient(clientA, types.ID{0xA}))
	graphID := NewProxyGraphID()
	_, err := model.NewGraph(ctx, clientA, graphID, ActionCall{Name: "step", Args: []types.Value{types.Int64(1)}})
	require.NoError(t, err)

	envelopes, effects, err := model.SessionActions(ctx, clientA, graphID, []ActionCall{
		{Name: "step", Args: []types.Value{types.Int64(100)}},
	})
	require.NoError(t, err)
	require.Len(t, effects, 1)
	require.Len(t, envelopes, 1)

	// The session's command never reached the persistent graph: syncing
	// to a fresh client transfers only the one on-graph step, not the
	// session's x:100 step.
	clientC := NewProxyClientID()
	require.NoError(t, model.AddClient(clientC, types.ID{0xC}))
	report, err := model.Sync(ctx, graphID, clientA, clientC)
	require.NoError(t, err)
	assert.Len(t, report.Applied, 1)
}
