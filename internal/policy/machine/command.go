// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package machine

import "github.com/aranya-project/aranya/internal/policy/types"

// CommandState names where a command instance sits in the state machine
// §4.E describes: open -> policy -> recall? -> commit, with seal as the
// author's inverse path taken on publish rather than receipt.
type CommandState int

const (
	StateOpen CommandState = iota
	StatePolicy
	StateRecall
	StateSeal
	StateCommitted
	StateRejected
)

func (s CommandState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StatePolicy:
		return "policy"
	case StateRecall:
		return "recall"
	case StateSeal:
		return "seal"
	case StateCommitted:
		return "committed"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Effect is one emitted value (`emit`), queued for the host to observe
// once the command or action that produced it commits.
type Effect struct {
	Name   string
	Fields *types.FieldMap
}

// PublishedCommand is the value an author-side `publish` statement
// produces: the named command's fields, ready for the runtime layer above
// the machine to seal into a signed envelope and append to the graph.
// Sealing itself (HPKE channel/group-key cryptography) is out of this
// package's scope — see internal/crypto.
type PublishedCommand struct {
	Name   string
	Fields *types.FieldMap
}

// Result is everything one machine run (an action or a command phase)
// produced: any emitted effects, any commands the run asked to publish,
// and — for a pure-function entry point invoked directly, which the
// runtime never does, only Call from within a program does — a return
// value is never surfaced here; RunAction/RunCommandPhase return only
// side effects, matching §4.E ("an action or command's phases are
// effectful entry points, not expressions").
type Result struct {
	Effects   []Effect
	Published []PublishedCommand
	State     CommandState
}
