// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package machine

import (
	"github.com/aranya-project/aranya/internal/policy/compile"
	"github.com/aranya-project/aranya/internal/policy/types"
)

// frame is one call-frame's named-locals environment. The compiler never
// builds a static scope table (DESIGN.md's "dynamic name-keyed locals"
// decision) — every Def/Get resolves against the top frame's map at
// runtime instead.
type frame struct {
	returnPC int
	locals   map[string]types.Value
	// result is the color of the function this frame is executing;
	// OpReturn consults it to know whether to pop and re-push a value
	// (ColorPure) or simply unwind (ColorFinish).
	result compile.Color
}

func newFrame(returnPC int, result compile.Color) *frame {
	return &frame{returnPC: returnPC, locals: make(map[string]types.Value), result: result}
}

func (f *frame) def(name string, v types.Value) { f.locals[name] = v }

func (f *frame) get(name string) (types.Value, bool) {
	v, ok := f.locals[name]
	return v, ok
}
