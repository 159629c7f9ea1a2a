// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

// Package runtime implements spec §4.H's runtime model: a Model owning
// multiple single-threaded Clients, each with one or more Graphs (a
// command DAG backed by its own fact store), plus the ephemeral Session
// overlay used for off-graph action/receive sequences.
package runtime

import (
	"github.com/oklog/ulid/v2"
)

// ProxyClientID and ProxyGraphID are opaque test-facing identifiers (§4.H:
// "Clients are identified in tests by an opaque ProxyClientId; graphs by
// ProxyGraphId"), distinct from the content-addressed 32-byte types.ID used
// inside the fact/command graph itself. ULIDs give callers a monotonic,
// sortable id without requiring a central counter.
type ProxyClientID string

// ProxyGraphID identifies one command graph within a client.
type ProxyGraphID string

// NewProxyClientID mints a fresh client id.
func NewProxyClientID() ProxyClientID {
	return ProxyClientID(ulid.Make().String())
}

// NewProxyGraphID mints a fresh graph id.
func NewProxyGraphID() ProxyGraphID {
	return ProxyGraphID(ulid.Make().String())
}
