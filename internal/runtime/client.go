// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package runtime

import (
	"log/slog"
	"sync"

	"github.com/aranya-project/aranya/internal/policy/compile"
	"github.com/aranya-project/aranya/internal/policy/machine"
	"github.com/aranya-project/aranya/internal/policy/types"
)

// ClientState is one client's owned state (§4.H): a compiled policy
// program and FFI registry shared read-only with every other client
// running the same policy, its own author identity, and exclusive
// ownership of its graphs — each graph carries its own fact store, so two
// clients never share mutable state outside of an explicit Sync.
type ClientState struct {
	ID       ProxyClientID
	AuthorID types.ID

	program *compile.Machine
	ffi     *machine.FFIRegistry
	metrics *machine.Metrics
	logger  *slog.Logger

	// mu serializes every operation against this client (§5: "A client
	// owns its interior state exclusively; concurrent actions on the same
	// client are serialized"). Different clients run fully in parallel.
	mu     sync.Mutex
	graphs map[ProxyGraphID]*graphState
}

// NewClientState returns a client bound to program/ffi, identified as
// authorID in every command it publishes or receives. Every VM it builds
// logs through slog.Default() (internal/logging.SetDefault's install
// point), tagged with this client's id so multi-client traces stay
// attributable to one client's own graph state.
func NewClientState(id ProxyClientID, authorID types.ID, program *compile.Machine, ffi *machine.FFIRegistry) *ClientState {
	return &ClientState{
		ID:       id,
		AuthorID: authorID,
		program:  program,
		ffi:      ffi,
		metrics:  machine.NewMetrics(),
		logger:   slog.Default().With("client_id", string(id)),
		graphs:   map[ProxyGraphID]*graphState{},
	}
}

func (c *ClientState) vmFor(g *graphState) *machine.VM {
	return machine.New(c.program, g.store, c.ffi, c.metrics, c.logger)
}

func (c *ClientState) graph(id ProxyGraphID) (*graphState, bool) {
	g, ok := c.graphs[id]
	return g, ok
}
