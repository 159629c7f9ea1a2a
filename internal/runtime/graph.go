// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package runtime

import (
	"github.com/aranya-project/aranya/internal/policy/factdb"
	"github.com/aranya-project/aranya/internal/policy/types"
)

// CommandRecord is one accepted node in a client's view of a graph: the
// command's identity, its parent edge(s), and the field payload its policy
// block was run against. Stored independently of the fact-DB state so sync
// can walk graph structure without touching committed facts.
type CommandRecord struct {
	ID        types.ID
	ParentIDs []types.ID
	Name      string
	Author    types.ID
	Fields    *types.FieldMap
}

// graphState is one client's local view of one graph: its own fact store
// (§5: "a client owns its interior state exclusively") plus the command DAG
// built up by publish and sync.
type graphState struct {
	store    *factdb.Store
	head     types.ID
	hasHead  bool
	commands map[types.ID]*CommandRecord
	order    []types.ID // append order, for Session.Observe's command log
}

func newGraphState() *graphState {
	return &graphState{
		store:    factdb.New(),
		commands: map[types.ID]*CommandRecord{},
	}
}

// clone returns an independent copy of g: a fresh store seeded with g's
// currently committed facts, and the same head/command DAG. Used to give a
// Session its isolated overlay (§4.H: "writes are visible within the
// session only; they never reach the persistent graph").
func (g *graphState) clone() *graphState {
	store := factdb.New()
	tx := store.Begin()
	for _, fv := range g.store.Snapshot().AllFacts() {
		_ = tx.Create(fv.Name, fv.Key, fv.Val)
	}
	tx.Commit()

	commands := make(map[types.ID]*CommandRecord, len(g.commands))
	for id, rec := range g.commands {
		commands[id] = rec
	}
	return &graphState{
		store:    store,
		head:     g.head,
		hasHead:  g.hasHead,
		commands: commands,
		order:    append([]types.ID(nil), g.order...),
	}
}

func (g *graphState) parents() []types.ID {
	if !g.hasHead {
		return nil
	}
	return []types.ID{g.head}
}

func (g *graphState) append(rec *CommandRecord) {
	g.commands[rec.ID] = rec
	g.order = append(g.order, rec.ID)
	g.head = rec.ID
	g.hasHead = true
}

func (g *graphState) has(id types.ID) bool {
	_, ok := g.commands[id]
	return ok
}

// ancestorsMissingFrom returns every command reachable from g's head that
// dst does not yet have, in topological (parent-before-child) order —
// sync's transfer set (§4.H).
func (g *graphState) ancestorsMissingFrom(dst *graphState) []*CommandRecord {
	if !g.hasHead {
		return nil
	}
	var missing []*CommandRecord
	visited := map[types.ID]bool{}
	var visit func(id types.ID)
	visit = func(id types.ID) {
		if visited[id] || dst.has(id) {
			return
		}
		visited[id] = true
		rec, ok := g.commands[id]
		if !ok {
			return
		}
		for _, p := range rec.ParentIDs {
			visit(p)
		}
		missing = append(missing, rec)
	}
	visit(g.head)
	return missing
}
