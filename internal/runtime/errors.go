// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package runtime

import "github.com/samber/oops"

// Error kinds surfaced by the runtime layer, mirroring §8 scenario 5's
// DuplicateClient and the graph/session lookup failures the model API
// implies.
const (
	KindDuplicateClient = "DuplicateClient"
	KindDuplicateGraph  = "DuplicateGraph"
	KindClientNotFound  = "ClientNotFound"
	KindGraphNotFound   = "GraphNotFound"
	KindInvalidEnvelope = "InvalidEnvelope"
	KindSessionFull     = "SessionFactLimitExceeded"
)

func errDuplicateClient(id ProxyClientID) error {
	return oops.Code(KindDuplicateClient).With("client_id", string(id)).Errorf("client %q already exists", id)
}

func errDuplicateGraph(id ProxyGraphID) error {
	return oops.Code(KindDuplicateGraph).With("graph_id", string(id)).Errorf("graph %q already exists", id)
}

func errClientNotFound(id ProxyClientID) error {
	return oops.Code(KindClientNotFound).With("client_id", string(id)).Errorf("client %q not found", id)
}

func errGraphNotFound(id ProxyGraphID) error {
	return oops.Code(KindGraphNotFound).With("graph_id", string(id)).Errorf("graph %q not found", id)
}

func errSessionFull(limit, have int) error {
	return oops.Code(KindSessionFull).With("limit", limit).With("have", have).
		Errorf("session overlay holds %d facts, at its configured limit of %d", have, limit)
}
