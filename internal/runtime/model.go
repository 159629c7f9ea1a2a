// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/aranya-project/aranya/internal/config"
	"github.com/aranya-project/aranya/internal/policy/compile"
	"github.com/aranya-project/aranya/internal/policy/machine"
	"github.com/aranya-project/aranya/internal/policy/types"
	"github.com/aranya-project/aranya/pkg/errutil"
)

// ActionCall names an action invocation: the entry point and its
// positional arguments (§4.H "action(client_id, graph_id, action)").
type ActionCall struct {
	Name string
	Args []types.Value
}

// SyncReport is sync's outcome: which commands from src were newly applied
// to dst, and which were rejected by dst's own policy (a Panic/CheckFailed
// during open/policy rejects only that command per the resolved open
// question in SPEC_FULL.md §D, not the whole transfer).
type SyncReport struct {
	Applied  []types.ID
	Rejected []types.ID
}

// Model owns every client in a test or process (§4.H). Clients execute
// independently and in parallel; Model only serializes the bookkeeping
// operations (add/lookup) that touch its own client map, never a client's
// own VM execution.
type Model struct {
	program *compile.Machine
	ffi     *machine.FFIRegistry
	cfg     *config.Config
	logger  *slog.Logger

	mu      sync.Mutex
	clients map[ProxyClientID]*ClientState
}

// NewModel returns a Model running program against ffi for every client it
// creates. cfg governs Sync's per-call batch size and the session overlay's
// fact cap (§A.3); a nil cfg falls back to config's package defaults rather
// than forcing every caller to build a full Config just to get a Model.
func NewModel(program *compile.Machine, ffi *machine.FFIRegistry, cfg *config.Config) *Model {
	if cfg == nil {
		cfg = config.Defaults()
	}
	return &Model{
		program: program,
		ffi:     ffi,
		cfg:     cfg,
		logger:  slog.Default(),
		clients: map[ProxyClientID]*ClientState{},
	}
}

// AddClient registers a fresh client identified by id, authoring commands
// as authorID.
func (m *Model) AddClient(id ProxyClientID, authorID types.ID) error {
	return m.AddClientWith(id, NewClientState(id, authorID, m.program, m.ffi))
}

// AddClientWith registers a caller-constructed ClientState (§4.H
// "add_client_with"), rejecting a duplicate id (§8 scenario 5).
func (m *Model) AddClientWith(id ProxyClientID, cs *ClientState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.clients[id]; exists {
		return errDuplicateClient(id)
	}
	m.clients[id] = cs
	return nil
}

func (m *Model) client(id ProxyClientID) (*ClientState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs, ok := m.clients[id]
	if !ok {
		return nil, errClientNotFound(id)
	}
	return cs, nil
}

// NewGraph creates graphID on clientID and runs initAction, which is
// expected to publish the graph's root command (§4.H).
func (m *Model) NewGraph(ctx context.Context, clientID ProxyClientID, graphID ProxyGraphID, initAction ActionCall) ([]machine.Effect, error) {
	cs, err := m.client(clientID)
	if err != nil {
		return nil, err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if _, exists := cs.graphs[graphID]; exists {
		return nil, errDuplicateGraph(graphID)
	}
	g := newGraphState()
	cs.graphs[graphID] = g
	return m.runAction(ctx, cs, g, initAction)
}

// Action runs call against clientID's view of graphID, returning the
// effects produced by the action itself and by every command it publishes,
// in emission order (§4.H).
func (m *Model) Action(ctx context.Context, clientID ProxyClientID, graphID ProxyGraphID, call ActionCall) ([]machine.Effect, error) {
	cs, err := m.client(clientID)
	if err != nil {
		return nil, err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	g, ok := cs.graph(graphID)
	if !ok {
		return nil, errGraphNotFound(graphID)
	}
	return m.runAction(ctx, cs, g, call)
}

// runAction executes call's action body then publishes every command it
// asked to publish, in order, appending each to g. Caller holds cs.mu.
func (m *Model) runAction(ctx context.Context, cs *ClientState, g *graphState, call ActionCall) ([]machine.Effect, error) {
	vm := cs.vmFor(g)
	cmdCtx := machine.CommandContext{Author: cs.AuthorID}
	if g.hasHead {
		cmdCtx.ParentID = g.head
	}
	result, err := vm.RunAction(ctx, call.Name, call.Args, cmdCtx)
	if err != nil {
		return nil, err
	}
	effects := append([]machine.Effect{}, result.Effects...)
	for _, pub := range result.Published {
		more, err := m.publishCommand(ctx, cs, g, vm, pub)
		if err != nil {
			return nil, err
		}
		effects = append(effects, more...)
	}
	return effects, nil
}

// publishCommand runs a published command's seal phase, assigns it a
// content-addressed id, runs its policy phase against the author's own
// graph (self-acceptance, so the author's view stays consistent with what
// it will hand a peer during sync), and appends the accepted record.
func (m *Model) publishCommand(ctx context.Context, cs *ClientState, g *graphState, vm *machine.VM, pub machine.PublishedCommand) ([]machine.Effect, error) {
	parentIDs := g.parents()
	var parentID types.ID
	if len(parentIDs) > 0 {
		parentID = parentIDs[0]
	}
	cmdCtx := machine.CommandContext{Author: cs.AuthorID, ParentID: parentID}

	sealResult, err := vm.RunCommandSeal(ctx, pub.Name, pub.Fields, nil, cmdCtx)
	if err != nil {
		return nil, err
	}

	id := computeCommandID(pub.Name, pub.Fields, parentIDs, cs.AuthorID)
	cmdCtx.CommandID = id

	policyResult, err := vm.RunCommandPolicy(ctx, pub.Name, pub.Fields, nil, cmdCtx)
	if err != nil {
		return nil, err
	}

	g.append(&CommandRecord{ID: id, ParentIDs: parentIDs, Name: pub.Name, Author: cs.AuthorID, Fields: pub.Fields})

	effects := append([]machine.Effect{}, sealResult.Effects...)
	effects = append(effects, policyResult.Effects...)
	return effects, nil
}

// toEnvelope serializes rec deterministically (§6), computing the
// signature stand-in over its already-assigned id.
func toEnvelope(rec *CommandRecord) *Envelope {
	return &Envelope{
		ID:        rec.ID,
		ParentIDs: rec.ParentIDs,
		Author:    rec.Author,
		Name:      rec.Name,
		Fields:    rec.Fields,
		Signature: sign(rec.ID, rec.Author),
	}
}

// Sync transfers every command reachable from src's head that dst does not
// yet have, in topological order, replaying each through dst's own
// open->policy->commit path (§4.H). It is idempotent: a command dst
// already has is skipped without re-running its policy.
func (m *Model) Sync(ctx context.Context, graphID ProxyGraphID, srcClientID, dstClientID ProxyClientID) (*SyncReport, error) {
	srcCS, err := m.client(srcClientID)
	if err != nil {
		return nil, err
	}
	dstCS, err := m.client(dstClientID)
	if err != nil {
		return nil, err
	}

	srcCS.mu.Lock()
	srcGraph, ok := srcCS.graph(graphID)
	srcCS.mu.Unlock()
	if !ok {
		return nil, errGraphNotFound(graphID)
	}

	dstCS.mu.Lock()
	defer dstCS.mu.Unlock()
	dstGraph, ok := dstCS.graph(graphID)
	if !ok {
		dstGraph = newGraphState()
		dstCS.graphs[graphID] = dstGraph
	}

	missing := srcGraph.ancestorsMissingFrom(dstGraph)
	if len(missing) > m.cfg.SyncBatchSize {
		missing = missing[:m.cfg.SyncBatchSize]
	}
	m.logger.DebugContext(ctx, "sync starting", "graph", string(graphID), "src", string(srcClientID),
		"dst", string(dstClientID), "batch_size", len(missing))
	report := &SyncReport{}

	backoff := retry.WithMaxRetries(3, retry.NewConstant(10*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		for _, rec := range missing {
			if dstGraph.has(rec.ID) {
				continue // idempotent replay
			}
			env := toEnvelope(rec)
			_, applied, err := m.applyEnvelope(ctx, dstCS, dstGraph, env)
			if err != nil {
				return err
			}
			if applied {
				report.Applied = append(report.Applied, rec.ID)
			} else {
				report.Rejected = append(report.Rejected, rec.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.DebugContext(ctx, "sync finished", "graph", string(graphID), "applied", len(report.Applied), "rejected", len(report.Rejected))
	return report, nil
}

// applyEnvelope runs a received envelope through open then policy; a
// failure in either rejects only this command (SPEC_FULL.md §D), recorded
// by the caller rather than returned as a hard error.
func (m *Model) applyEnvelope(ctx context.Context, cs *ClientState, g *graphState, env *Envelope) ([]machine.Effect, bool, error) {
	vm := cs.vmFor(g)
	var parentID types.ID
	if len(env.ParentIDs) > 0 {
		parentID = env.ParentIDs[0]
	}
	cmdCtx := machine.CommandContext{Author: env.Author, ParentID: parentID, CommandID: env.ID}

	openResult, err := vm.RunCommandOpen(ctx, env.Name, env.Fields, nil, cmdCtx)
	if err != nil {
		errutil.LogError(m.logger, "command rejected during open", err)
		return nil, false, nil
	}
	policyResult, err := vm.RunCommandPolicy(ctx, env.Name, env.Fields, nil, cmdCtx)
	if err != nil {
		errutil.LogError(m.logger, "command rejected during policy", err)
		return nil, false, nil
	}
	g.append(&CommandRecord{ID: env.ID, ParentIDs: env.ParentIDs, Name: env.Name, Author: env.Author, Fields: env.Fields})
	effects := append(append([]machine.Effect{}, openResult.Effects...), policyResult.Effects...)
	return effects, true, nil
}
