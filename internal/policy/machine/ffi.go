// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package machine

import (
	"context"

	"github.com/aranya-project/aranya/internal/policy/compile"
	"github.com/aranya-project/aranya/internal/policy/factdb"
	"github.com/aranya-project/aranya/internal/policy/types"
)

// CommandContext is the read-only execution context an FFI module sees on
// every call (§4.F): the command currently executing, its parent (if any),
// the author's identity, and a read-only view of the fact database as it
// stands mid-transaction (read-your-writes, matching query/exists/map).
type CommandContext struct {
	CommandID types.ID
	ParentID  types.ID
	Author    types.ID
	Facts     FactReader
}

// FactReader is the subset of factdb.Transaction an FFI module is allowed
// to see — queries only, never writes, so a module can look up fact state
// without being able to corrupt the command's write-set. The built-in
// modules in internal/policy/ffi do not read it.
type FactReader interface {
	Query(name string, key *types.FieldMap) (*types.FactValue, bool)
	Exists(name string, key *types.FieldMap) bool
	All(name string, key *types.FieldMap) []*types.FactValue
}

var _ FactReader = (*factdb.Transaction)(nil)

// FFIFunction is one procedure a module exposes.
type FFIFunction struct {
	Name  string
	Args  []types.VType
	Color compile.Color
}

// FFIModule is a named, linkable foreign-function module (§4.F's
// well-known modules: envelope, perspective, device, crypto, idam).
type FFIModule interface {
	Name() string
	Functions() []FFIFunction
	Call(ctx context.Context, proc string, args []types.Value, cmdCtx CommandContext) (types.Value, error)
}

// FFIRegistry links `module::proc` call targets to a registered module's
// native implementation, resolved at call time rather than at compile-time
// linking (the compile package never sees FFI module signatures).
type FFIRegistry struct {
	modules map[string]FFIModule
	sigs    map[string]map[string]FFIFunction
}

// NewFFIRegistry returns an empty registry.
func NewFFIRegistry() *FFIRegistry {
	return &FFIRegistry{
		modules: map[string]FFIModule{},
		sigs:    map[string]map[string]FFIFunction{},
	}
}

// Register adds a module, indexing its declared functions by name.
func (r *FFIRegistry) Register(m FFIModule) {
	r.modules[m.Name()] = m
	sig := make(map[string]FFIFunction, len(m.Functions()))
	for _, fn := range m.Functions() {
		sig[fn.Name] = fn
	}
	r.sigs[m.Name()] = sig
}

// Module returns a registered module by name, for introspection (e.g.
// rendering its stable wire schema).
func (r *FFIRegistry) Module(name string) (FFIModule, bool) {
	m, ok := r.modules[name]
	return m, ok
}

// ModuleNames returns every registered module's name in no particular
// order; callers that need a stable order (e.g. wire schema generation)
// must sort the result themselves.
func (r *FFIRegistry) ModuleNames() []string {
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	return names
}

// Lookup resolves a module::proc signature for arity/color validation.
func (r *FFIRegistry) Lookup(module, proc string) (FFIFunction, bool) {
	sig, ok := r.sigs[module]
	if !ok {
		return FFIFunction{}, false
	}
	fn, ok := sig[proc]
	return fn, ok
}

// Call dispatches to the named module's procedure.
func (r *FFIRegistry) Call(ctx context.Context, module, proc string, args []types.Value, cmdCtx CommandContext) (types.Value, error) {
	m, ok := r.modules[module]
	if !ok {
		return types.Value{}, oopsFfiNotFound(module, proc)
	}
	return m.Call(ctx, proc, args, cmdCtx)
}
