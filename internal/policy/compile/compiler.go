// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package compile

import (
	"fmt"

	"github.com/aranya-project/aranya/internal/policy/lang"
	"github.com/aranya-project/aranya/internal/policy/types"
)

// Options configures a single Compile invocation.
type Options struct {
	// DebugMode controls whether `debug_assert` lowers to check-equivalent
	// bytecode or is dropped entirely (SPEC_FULL.md §C.1).
	DebugMode bool
}

// compiler accumulates a single compilation's state: emitted progmem,
// resolved/unresolved labels, and the definition tables carried onto the
// final Machine.
type compiler struct {
	opts Options

	progmem []Instr
	labels  map[string]Label

	signatures map[string]FunctionSignature
	structs    map[string]StructDef
	facts      map[string]FactDef
	effects    map[string]EffectDef
	enums      map[string]EnumDef
	commands   map[string]CommandMeta
	actions    map[string]ActionMeta

	tempCounter int
}

// Compile lowers a parsed Program into a linked Machine (§4.C).
func Compile(prog *lang.Program, opts Options) (*Machine, error) {
	c := &compiler{
		opts:       opts,
		labels:     map[string]Label{},
		signatures: map[string]FunctionSignature{},
		structs:    map[string]StructDef{},
		facts:      map[string]FactDef{},
		effects:    map[string]EffectDef{},
		enums:      map[string]EnumDef{},
		commands:   map[string]CommandMeta{},
		actions:    map[string]ActionMeta{},
	}

	// Compilation order (§4.C): effects -> struct defs -> pure functions ->
	// finish functions -> commands -> actions.
	for _, e := range prog.Effects {
		if _, dup := c.effects[e.Name]; dup {
			return nil, newCompileError(KindAlreadyDefined, e.Span, "effect %q already defined", e.Name)
		}
		c.effects[e.Name] = EffectDef{Name: e.Name, Fields: e.Fields}
	}
	for _, s := range prog.Structs {
		if _, dup := c.structs[s.Name]; dup {
			return nil, newCompileError(KindAlreadyDefined, s.Span, "struct %q already defined", s.Name)
		}
		c.structs[s.Name] = StructDef{Name: s.Name, Fields: s.Fields}
	}
	for _, e := range prog.Enums {
		if _, dup := c.enums[e.Name]; dup {
			return nil, newCompileError(KindAlreadyDefined, e.Span, "enum %q already defined", e.Name)
		}
		c.enums[e.Name] = EnumDef{Name: e.Name, Variants: e.Variants}
	}
	for _, f := range prog.Facts {
		if _, dup := c.facts[f.Name]; dup {
			return nil, newCompileError(KindAlreadyDefined, f.Span, "fact %q already defined", f.Name)
		}
		c.facts[f.Name] = FactDef{Name: f.Name, Immutable: f.Immutable, Key: f.Key, Value: f.Value}
	}

	// Signature table (populated before any body is lowered, so forward
	// references between functions/commands/actions resolve).
	for _, fn := range prog.Functions {
		if err := c.defineSignature(fn.Name, fn.Span, FunctionSignature{
			Name: fn.Name, Args: fieldTypes(fn.Args), ArgNames: fieldNames(fn.Args), Color: ColorPure, Returns: fn.Returns,
		}); err != nil {
			return nil, err
		}
	}
	for _, ff := range prog.FinishFunctions {
		if err := c.defineSignature(ff.Name, ff.Span, FunctionSignature{
			Name: ff.Name, Args: fieldTypes(ff.Args), ArgNames: fieldNames(ff.Args), Color: ColorFinish,
		}); err != nil {
			return nil, err
		}
	}

	for _, fn := range prog.Functions {
		if err := c.compileFunction(fn); err != nil {
			return nil, err
		}
	}
	for _, ff := range prog.FinishFunctions {
		if err := c.compileFinishFunction(ff); err != nil {
			return nil, err
		}
	}
	for _, cmd := range prog.Commands {
		if err := c.compileCommand(cmd); err != nil {
			return nil, err
		}
	}
	for _, a := range prog.Actions {
		if err := c.compileAction(a); err != nil {
			return nil, err
		}
	}

	if err := c.resolveTargets(); err != nil {
		return nil, err
	}

	return &Machine{
		Progmem:    c.progmem,
		Labels:     c.labels,
		Signatures: c.signatures,
		Structs:    c.structs,
		Facts:      c.facts,
		Effects:    c.effects,
		Enums:      c.enums,
		Commands:   c.commands,
		Actions:    c.actions,
	}, nil
}

func fieldTypes(fields []lang.FieldDef) []types.VType {
	out := make([]types.VType, len(fields))
	for i, f := range fields {
		out[i] = f.Type
	}
	return out
}

func fieldNames(fields []lang.FieldDef) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Name
	}
	return out
}

func (c *compiler) defineSignature(name string, span lang.Span, sig FunctionSignature) error {
	if _, dup := c.signatures[name]; dup {
		return newCompileError(KindAlreadyDefined, span, "function %q already defined", name)
	}
	c.signatures[name] = sig
	return nil
}

// emit appends an instruction and returns its address.
func (c *compiler) emit(i Instr) int {
	c.progmem = append(c.progmem, i)
	return len(c.progmem) - 1
}

func (c *compiler) pc() int { return len(c.progmem) }

// defineLabel records name as pointing at the current program counter.
func (c *compiler) defineLabel(name string, kind LabelKind) error {
	if _, dup := c.labels[name]; dup {
		return newCompileError(KindAlreadyDefined, lang.Span{}, "label %q already defined", name)
	}
	c.labels[name] = Label{Name: name, Kind: kind, Addr: c.pc()}
	return nil
}

// newTemp returns a fresh temporary label name unique within this
// compilation, removed from the final view by resolveTargets (temporary
// labels are not retained for host lookup, only for internal branching).
func (c *compiler) newTemp(prefix string) string {
	c.tempCounter++
	return fmt.Sprintf("$%s%d", prefix, c.tempCounter)
}

// resolveTargets is the final linker pass (§3 Invariants, §4.C): every
// Call/Jump/Branch target in progmem must resolve to a defined label, or
// compilation fails with BadTarget. OpFfiCall targets name a
// "module::function" pair and are left unresolved. Once every address is
// resolved, the $-prefixed temporary labels are dropped from the table.
func (c *compiler) resolveTargets() error {
	for idx, instr := range c.progmem {
		switch instr.Op {
		case OpCall, OpJump, OpBranch:
			if instr.Target.Resolved {
				continue
			}
			lbl, ok := c.labels[instr.Target.Name]
			if !ok {
				return newCompileError(KindBadTarget, instr.Span, "unresolved branch target %q", instr.Target.Name)
			}
			c.progmem[idx].Target = Target{Name: instr.Target.Name, Resolved: true, Addr: lbl.Addr}
		}
	}
	for name := range c.labels {
		if len(name) > 0 && name[0] == '$' {
			delete(c.labels, name)
		}
	}
	return nil
}
