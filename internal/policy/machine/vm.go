// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

// Package machine is the stack-based bytecode virtual machine that
// executes a compile.Machine program against a fact database, producing
// effects and published command instances (§4.D/§4.E).
package machine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/aranya-project/aranya/internal/policy/compile"
	"github.com/aranya-project/aranya/internal/policy/factdb"
	"github.com/aranya-project/aranya/internal/policy/lang"
	"github.com/aranya-project/aranya/internal/policy/types"
	"github.com/aranya-project/aranya/pkg/errutil"
)

// VM binds a linked program to the fact store and FFI modules it runs
// against. One VM is shared by every action/command invocation for a given
// policy instance; each invocation gets its own exec (call stack, value
// stack, transaction).
type VM struct {
	m       *compile.Machine
	store   *factdb.Store
	ffi     *FFIRegistry
	metrics *Metrics
	logger  *slog.Logger
}

// New returns a VM ready to run m's actions and commands against store,
// dispatching FFI calls through ffi. A nil logger falls back to
// slog.Default(), matching internal/logging.SetDefault's install point.
func New(m *compile.Machine, store *factdb.Store, ffi *FFIRegistry, metrics *Metrics, logger *slog.Logger) *VM {
	if metrics == nil {
		metrics = NewMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VM{m: m, store: store, ffi: ffi, metrics: metrics, logger: logger}
}

// queryIter is QueryStart/QueryNext/QueryEnd's iteration state, kept off
// the value stack since it is not itself a Value the language can observe.
type queryIter struct {
	facts []*types.FactValue
	idx   int
}

// exec is one run's mutable state: value stack, call frames, open
// transaction, and accumulated effects/publishes.
type exec struct {
	vm     *VM
	ctx    context.Context
	stack  []types.Value
	frames []*frame
	tx     *factdb.Transaction
	cmdCtx CommandContext

	effects    []Effect
	published  []PublishedCommand
	queryStack []*queryIter

	pc int
}

func (vm *VM) newExec(ctx context.Context, cmdCtx CommandContext) *exec {
	tx := vm.store.Begin()
	cmdCtx.Facts = tx
	return &exec{
		vm:     vm,
		ctx:    ctx,
		tx:     tx,
		cmdCtx: cmdCtx,
		frames: []*frame{newFrame(-1, compile.ColorFinish)},
	}
}

func (e *exec) top() *frame { return e.frames[len(e.frames)-1] }

func (e *exec) push(v types.Value) { e.stack = append(e.stack, v) }

func (e *exec) pop(instr compile.Instr) (types.Value, error) {
	if len(e.stack) == 0 {
		return types.Value{}, newMachineError(KindStackUnderflow, e.pc, instr.Span, "stack underflow")
	}
	v := e.stack[len(e.stack)-1]
	e.stack = e.stack[:len(e.stack)-1]
	return v, nil
}

func (e *exec) peek(n int, instr compile.Instr) (types.Value, error) {
	idx := len(e.stack) - 1 - n
	if idx < 0 {
		return types.Value{}, newMachineError(KindStackUnderflow, e.pc, instr.Span, "stack underflow on peek(%d)", n)
	}
	return e.stack[idx], nil
}

func (e *exec) popString(instr compile.Instr) (string, error) {
	v, err := e.pop(instr)
	if err != nil {
		return "", err
	}
	return requireString(e.pc, instr, v)
}

func cloneFieldMap(fm *types.FieldMap) *types.FieldMap {
	out := types.NewFieldMap()
	if fm == nil {
		return out
	}
	for pair := fm.Oldest(); pair != nil; pair = pair.Next() {
		out.Set(pair.Key, pair.Value)
	}
	return out
}

func mergeFieldMaps(maps ...*types.FieldMap) *types.FieldMap {
	out := types.NewFieldMap()
	for _, fm := range maps {
		if fm == nil {
			continue
		}
		for pair := fm.Oldest(); pair != nil; pair = pair.Next() {
			out.Set(pair.Key, pair.Value)
		}
	}
	return out
}

// RunAction binds args positionally to the action's declared parameters
// and executes its body to completion, returning any emitted effects and
// published commands. The action's write-set commits only if it runs to
// OpExit without error (§4.E transaction semantics).
func (vm *VM) RunAction(ctx context.Context, name string, args []types.Value, cmdCtx CommandContext) (Result, error) {
	start := time.Now()
	meta, ok := vm.m.Actions[name]
	if !ok {
		return Result{}, newMachineError(KindBadState, 0, lang.Span{}, "action %q is not defined", name)
	}
	if len(args) != len(meta.Args) {
		return Result{}, newMachineError(KindBadState, 0, lang.Span{}, "action %q expects %d argument(s), got %d", name, len(meta.Args), len(args))
	}
	lbl, ok := vm.m.Labels[name]
	if !ok {
		return Result{}, newMachineError(KindBadState, 0, lang.Span{}, "action %q has no entry label", name)
	}

	vm.logger.DebugContext(ctx, "action run starting", "action", name, "arg_count", len(args))

	e := vm.newExec(ctx, cmdCtx)
	for i, arg := range meta.Args {
		e.top().def(arg.Name, args[i])
	}
	e.pc = lbl.Addr
	if err := e.run(); err != nil {
		vm.metrics.observeRun("action", name, time.Since(start), err)
		errutil.LogError(vm.logger, "action rejected", err)
		return Result{}, err
	}
	e.tx.Commit()
	vm.metrics.observeRun("action", name, time.Since(start), nil)
	vm.logger.DebugContext(ctx, "action run committed", "action", name, "effects", len(e.effects), "published", len(e.published))
	return Result{Effects: e.effects, Published: e.published, State: StateCommitted}, nil
}

// runPhase is shared by the four command-phase entry points: bind the
// command's fields (and origin fields, if any) under the implicit `this`
// local, run the phase's bytecode, and commit or discard the transaction.
func (vm *VM) runPhase(ctx context.Context, lbl, cmdName, phase string, fields, origin *types.FieldMap, cmdCtx CommandContext) (Result, error) {
	start := time.Now()
	if lbl == "" {
		return Result{State: StateCommitted}, nil
	}
	label, ok := vm.m.Labels[lbl]
	if !ok {
		return Result{}, newMachineError(KindBadState, 0, lang.Span{}, "command phase label %q not found", lbl)
	}
	vm.logger.DebugContext(ctx, "command phase starting", "command", cmdName, "phase", phase)
	e := vm.newExec(ctx, cmdCtx)
	thisFields := mergeFieldMaps(fields, origin)
	e.top().def("this", types.Value{Kind: types.KindStruct, Struct: &types.StructValue{Name: cmdName, Fields: thisFields}})
	// Command bodies reach their own fields through bare identifiers
	// (`check amount > 0`), not only through `this.amount`, so every
	// field is also bound as its own named local in this frame.
	for pair := thisFields.Oldest(); pair != nil; pair = pair.Next() {
		e.top().def(pair.Key, pair.Value)
	}
	e.pc = label.Addr
	if err := e.run(); err != nil {
		vm.metrics.observeRun("command."+phase, cmdName, time.Since(start), err)
		errutil.LogError(vm.logger, "command "+phase+" rejected", err)
		return Result{}, err
	}
	e.tx.Commit()
	vm.metrics.observeRun("command."+phase, cmdName, time.Since(start), nil)
	vm.logger.DebugContext(ctx, "command phase committed", "command", cmdName, "phase", phase, "effects", len(e.effects))
	return Result{Effects: e.effects, Published: e.published, State: StateCommitted}, nil
}

// RunCommandPolicy evaluates a received command's policy block: the gate
// that decides whether the command is accepted onto the graph.
func (vm *VM) RunCommandPolicy(ctx context.Context, cmdName string, fields, origin *types.FieldMap, cmdCtx CommandContext) (Result, error) {
	meta, ok := vm.m.Commands[cmdName]
	if !ok {
		return Result{}, newMachineError(KindBadState, 0, lang.Span{}, "command %q is not defined", cmdName)
	}
	return vm.runPhase(ctx, meta.PolicyLbl, cmdName, "policy", fields, origin, cmdCtx)
}

// RunCommandRecall evaluates the compensating `recall` block when a
// previously-accepted command is later rejected by a branch merge.
func (vm *VM) RunCommandRecall(ctx context.Context, cmdName string, fields, origin *types.FieldMap, cmdCtx CommandContext) (Result, error) {
	meta, ok := vm.m.Commands[cmdName]
	if !ok {
		return Result{}, newMachineError(KindBadState, 0, lang.Span{}, "command %q is not defined", cmdName)
	}
	return vm.runPhase(ctx, meta.RecallLbl, cmdName, "recall", fields, origin, cmdCtx)
}

// RunCommandSeal runs the author-side `seal` block that prepares a
// command's fields for envelope construction prior to publish.
func (vm *VM) RunCommandSeal(ctx context.Context, cmdName string, fields, origin *types.FieldMap, cmdCtx CommandContext) (Result, error) {
	meta, ok := vm.m.Commands[cmdName]
	if !ok {
		return Result{}, newMachineError(KindBadState, 0, lang.Span{}, "command %q is not defined", cmdName)
	}
	return vm.runPhase(ctx, meta.SealLbl, cmdName, "seal", fields, origin, cmdCtx)
}

// RunCommandOpen runs the recipient-side `open` block, the inverse of
// seal, run when unwrapping a received envelope.
func (vm *VM) RunCommandOpen(ctx context.Context, cmdName string, fields, origin *types.FieldMap, cmdCtx CommandContext) (Result, error) {
	meta, ok := vm.m.Commands[cmdName]
	if !ok {
		return Result{}, newMachineError(KindBadState, 0, lang.Span{}, "command %q is not defined", cmdName)
	}
	return vm.runPhase(ctx, meta.OpenLbl, cmdName, "open", fields, origin, cmdCtx)
}

// CommandAttributes evaluates a command's attributes block, letting a
// caller read a command's attributes without running its policy gate.
func (vm *VM) CommandAttributes(ctx context.Context, cmdName string, cmdCtx CommandContext) (*types.StructValue, error) {
	meta, ok := vm.m.Commands[cmdName]
	if !ok || meta.AttributesLbl == "" {
		return nil, nil
	}
	label := vm.m.Labels[meta.AttributesLbl]
	e := vm.newExec(ctx, cmdCtx)
	e.frames = append(e.frames, newFrame(-1, compile.ColorPure))
	e.pc = label.Addr
	if err := e.run(); err != nil {
		return nil, err
	}
	if len(e.stack) == 0 {
		return nil, newMachineError(KindBadState, e.pc, lang.Span{}, "attributes block produced no value")
	}
	v := e.stack[len(e.stack)-1]
	return requireStruct(e.pc, compile.Instr{}, v)
}

// run executes from e.pc until an OpExit (successful completion) or an
// error (the caller discards the transaction, matching the all-or-nothing
// commit rule).
func (e *exec) run() error {
	for {
		if e.pc < 0 || e.pc >= len(e.vm.m.Progmem) {
			return newMachineError(KindBadState, e.pc, lang.Span{}, "program counter %d out of range", e.pc)
		}
		instr := e.vm.m.Progmem[e.pc]
		advance := true

		if e.vm.logger.Enabled(e.ctx, slog.LevelDebug) {
			e.vm.logger.DebugContext(e.ctx, "opcode step", "pc", e.pc, "op", instr.Op.String())
		}

		switch instr.Op {
		case compile.OpExit:
			return nil

		case compile.OpConst:
			e.push(instr.Value)

		case compile.OpDef:
			name, err := e.popString(instr)
			if err != nil {
				return err
			}
			val, err := e.pop(instr)
			if err != nil {
				return err
			}
			e.top().def(name, val)

		case compile.OpGet:
			name, err := e.popString(instr)
			if err != nil {
				return err
			}
			val, ok := e.top().get(name)
			if !ok {
				return newMachineError(KindBadState, e.pc, instr.Span, "undefined local %q", name)
			}
			e.push(val)

		case compile.OpStructNew:
			name, err := e.popString(instr)
			if err != nil {
				return err
			}
			e.push(types.Value{Kind: types.KindStruct, Struct: &types.StructValue{Name: name, Fields: types.NewFieldMap()}})

		case compile.OpStructSet:
			name, err := e.popString(instr)
			if err != nil {
				return err
			}
			val, err := e.pop(instr)
			if err != nil {
				return err
			}
			sv0, err := e.pop(instr)
			if err != nil {
				return err
			}
			sv, err := requireStruct(e.pc, instr, sv0)
			if err != nil {
				return err
			}
			fields := cloneFieldMap(sv.Fields)
			fields.Set(name, val)
			e.push(types.Value{Kind: types.KindStruct, Struct: &types.StructValue{Name: sv.Name, Fields: fields}})

		case compile.OpStructGet:
			name, err := e.popString(instr)
			if err != nil {
				return err
			}
			sv0, err := e.pop(instr)
			if err != nil {
				return err
			}
			sv, err := requireStruct(e.pc, instr, sv0)
			if err != nil {
				return err
			}
			fv, ok := sv.Get(name)
			if !ok {
				return newMachineError(KindInvalidStructMember, e.pc, instr.Span, "struct %q has no field %q", sv.Name, name)
			}
			e.push(fv)

		case compile.OpFactNew:
			name, err := e.popString(instr)
			if err != nil {
				return err
			}
			e.push(types.Value{Kind: types.KindFact, Fact: &types.FactValue{Name: name, Key: types.NewFieldMap(), Val: types.NewFieldMap()}})

		case compile.OpFactKeySet:
			name, err := e.popString(instr)
			if err != nil {
				return err
			}
			val, err := e.pop(instr)
			if err != nil {
				return err
			}
			fv0, err := e.pop(instr)
			if err != nil {
				return err
			}
			fv, err := requireFact(e.pc, instr, fv0)
			if err != nil {
				return err
			}
			key := cloneFieldMap(fv.Key)
			key.Set(name, val)
			e.push(types.Value{Kind: types.KindFact, Fact: &types.FactValue{Name: fv.Name, Key: key, Val: fv.Val}})

		case compile.OpFactValueSet:
			name, err := e.popString(instr)
			if err != nil {
				return err
			}
			val, err := e.pop(instr)
			if err != nil {
				return err
			}
			fv0, err := e.pop(instr)
			if err != nil {
				return err
			}
			fv, err := requireFact(e.pc, instr, fv0)
			if err != nil {
				return err
			}
			value := cloneFieldMap(fv.Val)
			value.Set(name, val)
			e.push(types.Value{Kind: types.KindFact, Fact: &types.FactValue{Name: fv.Name, Key: fv.Key, Val: value}})

		case compile.OpQuery:
			fv0, err := e.pop(instr)
			if err != nil {
				return err
			}
			fv, err := requireFact(e.pc, instr, fv0)
			if err != nil {
				return err
			}
			found, ok := e.tx.Query(fv.Name, fv.Key)
			if !ok {
				e.push(types.None)
			} else {
				e.push(types.Some(types.Value{Kind: types.KindStruct, Struct: &types.StructValue{Name: fv.Name, Fields: found.Val}}))
			}

		case compile.OpExists:
			fv0, err := e.pop(instr)
			if err != nil {
				return err
			}
			fv, err := requireFact(e.pc, instr, fv0)
			if err != nil {
				return err
			}
			e.push(types.BoolValue(e.tx.Exists(fv.Name, fv.Key)))

		case compile.OpCreate:
			fv0, err := e.pop(instr)
			if err != nil {
				return err
			}
			fv, err := requireFact(e.pc, instr, fv0)
			if err != nil {
				return err
			}
			if err := e.tx.Create(fv.Name, fv.Key, fv.Val); err != nil {
				return newMachineError(KindFactAlreadyExists, e.pc, instr.Span, "fact %q: %v", fv.Name, err)
			}

		case compile.OpUpdate:
			newFv0, err := e.pop(instr)
			if err != nil {
				return err
			}
			selFv0, err := e.pop(instr)
			if err != nil {
				return err
			}
			newFv, err := requireFact(e.pc, instr, newFv0)
			if err != nil {
				return err
			}
			selFv, err := requireFact(e.pc, instr, selFv0)
			if err != nil {
				return err
			}
			existing, ok := e.tx.Query(selFv.Name, selFv.Key)
			if !ok {
				return newMachineError(KindFactNotFound, e.pc, instr.Span, "fact %q not found", selFv.Name)
			}
			if selFv.Val != nil {
				for pair := selFv.Val.Oldest(); pair != nil; pair = pair.Next() {
					ev, ok := existing.Val.Get(pair.Key)
					if !ok || !ev.Equal(pair.Value) {
						return newMachineError(KindFactNotFound, e.pc, instr.Span, "fact %q does not match filter", selFv.Name)
					}
				}
			}
			if err := e.tx.Update(selFv.Name, selFv.Key, newFv.Val); err != nil {
				return newMachineError(KindFactNotFound, e.pc, instr.Span, "fact %q: %v", selFv.Name, err)
			}

		case compile.OpDelete:
			fv0, err := e.pop(instr)
			if err != nil {
				return err
			}
			fv, err := requireFact(e.pc, instr, fv0)
			if err != nil {
				return err
			}
			if err := e.tx.Delete(fv.Name, fv.Key); err != nil {
				return newMachineError(KindFactNotFound, e.pc, instr.Span, "fact %q: %v", fv.Name, err)
			}

		case compile.OpEmit, compile.OpEffect:
			v, err := e.pop(instr)
			if err != nil {
				return err
			}
			sv, err := requireStruct(e.pc, instr, v)
			if err != nil {
				return err
			}
			if _, ok := e.vm.m.Effects[sv.Name]; !ok {
				return newMachineError(KindInvalidStructMember, e.pc, instr.Span, "%q is not a declared effect", sv.Name)
			}
			e.effects = append(e.effects, Effect{Name: sv.Name, Fields: sv.Fields})

		case compile.OpPublish:
			v, err := e.pop(instr)
			if err != nil {
				return err
			}
			sv, err := requireStruct(e.pc, instr, v)
			if err != nil {
				return err
			}
			if _, ok := e.vm.m.Commands[sv.Name]; !ok {
				return newMachineError(KindInvalidStructMember, e.pc, instr.Span, "%q is not a declared command", sv.Name)
			}
			e.published = append(e.published, PublishedCommand{Name: sv.Name, Fields: sv.Fields})

		case compile.OpReturn:
			done, err := e.doReturn(instr)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			advance = false

		case compile.OpCall:
			if err := e.doCall(instr); err != nil {
				return err
			}
			advance = false

		case compile.OpFfiCall:
			if err := e.doFfiCall(instr); err != nil {
				return err
			}

		case compile.OpJump:
			e.pc = instr.Target.Addr
			advance = false

		case compile.OpBranch:
			v, err := e.pop(instr)
			if err != nil {
				return err
			}
			cond, err := requireBool(e.pc, instr, v)
			if err != nil {
				return err
			}
			if cond {
				e.pc = instr.Target.Addr
				advance = false
			}

		case compile.OpDup:
			v, err := e.peek(instr.N, instr)
			if err != nil {
				return err
			}
			e.push(v)

		case compile.OpSwap:
			top := len(e.stack) - 1
			other := top - instr.N
			if other < 0 {
				return newMachineError(KindStackUnderflow, e.pc, instr.Span, "stack underflow on swap(%d)", instr.N)
			}
			e.stack[top], e.stack[other] = e.stack[other], e.stack[top]

		case compile.OpAdd:
			a, b, err := e.popIntPair(instr)
			if err != nil {
				return err
			}
			sum, err := addInt64(e.pc, instr, a, b)
			if err != nil {
				return err
			}
			e.push(types.Int64(sum))

		case compile.OpSub:
			a, b, err := e.popIntPair(instr)
			if err != nil {
				return err
			}
			diff, err := subInt64(e.pc, instr, a, b)
			if err != nil {
				return err
			}
			e.push(types.Int64(diff))

		case compile.OpEq:
			b, err := e.pop(instr)
			if err != nil {
				return err
			}
			a, err := e.pop(instr)
			if err != nil {
				return err
			}
			e.push(types.BoolValue(a.Equal(b)))

		case compile.OpNot:
			v, err := e.pop(instr)
			if err != nil {
				return err
			}
			b, err := requireBool(e.pc, instr, v)
			if err != nil {
				return err
			}
			e.push(types.BoolValue(!b))

		case compile.OpAnd:
			b0, err := e.pop(instr)
			if err != nil {
				return err
			}
			a0, err := e.pop(instr)
			if err != nil {
				return err
			}
			a, err := requireBool(e.pc, instr, a0)
			if err != nil {
				return err
			}
			b, err := requireBool(e.pc, instr, b0)
			if err != nil {
				return err
			}
			e.push(types.BoolValue(a && b))

		case compile.OpOr:
			b0, err := e.pop(instr)
			if err != nil {
				return err
			}
			a0, err := e.pop(instr)
			if err != nil {
				return err
			}
			a, err := requireBool(e.pc, instr, a0)
			if err != nil {
				return err
			}
			b, err := requireBool(e.pc, instr, b0)
			if err != nil {
				return err
			}
			e.push(types.BoolValue(a || b))

		case compile.OpGt:
			a, b, err := e.popIntPair(instr)
			if err != nil {
				return err
			}
			e.push(types.BoolValue(a > b))

		case compile.OpLt:
			a, b, err := e.popIntPair(instr)
			if err != nil {
				return err
			}
			e.push(types.BoolValue(a < b))

		case compile.OpPanic:
			return newMachineError(panicReasonKind(compile.PanicReason(instr.N)), e.pc, instr.Span, "policy panic")

		case compile.OpSomeWrap:
			v, err := e.pop(instr)
			if err != nil {
				return err
			}
			e.push(types.Some(v))

		case compile.OpUnwrap:
			v, err := e.pop(instr)
			if err != nil {
				return err
			}
			inner, err := requireOptional(e.pc, instr, v)
			if err != nil {
				return err
			}
			e.push(inner)

		case compile.OpSerialize:
			v, err := e.pop(instr)
			if err != nil {
				return err
			}
			e.push(types.BytesValue(encodeSerialized(v)))

		case compile.OpDeserialize:
			v, err := e.pop(instr)
			if err != nil {
				return err
			}
			b, err := func() ([]byte, error) {
				if v.Kind != types.KindBytes {
					return nil, newMachineError(KindInvalidType, e.pc, instr.Span, "expected bytes, got %s", v.Kind)
				}
				return v.Bytes, nil
			}()
			if err != nil {
				return err
			}
			out, err := decodeSerialized(b)
			if err != nil {
				return newMachineError(KindInvalidType, e.pc, instr.Span, "deserialize: %v", err)
			}
			e.push(out)

		case compile.OpQueryStart:
			fv0, err := e.pop(instr)
			if err != nil {
				return err
			}
			fv, err := requireFact(e.pc, instr, fv0)
			if err != nil {
				return err
			}
			e.queryStack = append(e.queryStack, &queryIter{facts: e.tx.All(fv.Name, fv.Key)})

		case compile.OpQueryNext:
			if len(e.queryStack) == 0 {
				return newMachineError(KindBadState, e.pc, instr.Span, "QueryNext with no open query")
			}
			it := e.queryStack[len(e.queryStack)-1]
			bindName := instr.Value.Str
			if it.idx >= len(it.facts) {
				e.push(types.BoolValue(false))
			} else {
				fv := it.facts[it.idx]
				it.idx++
				e.top().def(bindName, types.Value{Kind: types.KindStruct, Struct: &types.StructValue{Name: fv.Name, Fields: mergeFieldMaps(fv.Key, fv.Val)}})
				e.push(types.BoolValue(true))
			}

		case compile.OpQueryEnd:
			if len(e.queryStack) == 0 {
				return newMachineError(KindBadState, e.pc, instr.Span, "QueryEnd with no open query")
			}
			e.queryStack = e.queryStack[:len(e.queryStack)-1]

		default:
			return newMachineError(KindBadState, e.pc, instr.Span, "unhandled opcode %s", instr.Op)
		}

		if advance {
			e.pc++
		}
	}
}

func (e *exec) popIntPair(instr compile.Instr) (int64, int64, error) {
	bv, err := e.pop(instr)
	if err != nil {
		return 0, 0, err
	}
	av, err := e.pop(instr)
	if err != nil {
		return 0, 0, err
	}
	a, err := requireInt(e.pc, instr, av)
	if err != nil {
		return 0, 0, err
	}
	b, err := requireInt(e.pc, instr, bv)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

// doCall implements the §4.E call convention: args sit on the stack in
// source order pre-call; the callee pops them in reverse and Defs them
// into a fresh frame's locals under the signature's declared names.
func (e *exec) doCall(instr compile.Instr) error {
	name := instr.Target.Name
	sig, ok := e.vm.m.Signatures[name]
	if !ok {
		return newMachineError(KindBadState, e.pc, instr.Span, "call to undefined function %q", name)
	}
	args := make([]types.Value, len(sig.ArgNames))
	for i := len(args) - 1; i >= 0; i-- {
		v, err := e.pop(instr)
		if err != nil {
			return err
		}
		args[i] = v
	}
	fr := newFrame(e.pc+1, sig.Color)
	for i, n := range sig.ArgNames {
		fr.def(n, args[i])
	}
	e.frames = append(e.frames, fr)
	e.pc = instr.Target.Addr
	return nil
}

// doReturn pops the current frame. A pure function's return value sits on
// top of the stack when OpReturn executes (emitted right before it by
// ReturnStmt's lowering); a finish function's OpReturn is emitted with no
// preceding value push, so nothing is popped or re-pushed for it. A
// negative returnPC (only ever set up by CommandAttributes's synthetic
// frame) signals the caller to stop running rather than resume bytecode.
func (e *exec) doReturn(instr compile.Instr) (bool, error) {
	if len(e.frames) < 2 {
		return false, newMachineError(KindBadState, e.pc, instr.Span, "return with no active call frame")
	}
	fr := e.frames[len(e.frames)-1]
	var result types.Value
	var hasResult bool
	if fr.result == compile.ColorPure {
		v, err := e.pop(instr)
		if err != nil {
			return false, err
		}
		result, hasResult = v, true
	}
	e.frames = e.frames[:len(e.frames)-1]
	if fr.returnPC < 0 {
		if hasResult {
			e.push(result)
		}
		return true, nil
	}
	e.pc = fr.returnPC
	if hasResult {
		e.push(result)
	}
	return false, nil
}

// doFfiCall dispatches module::proc, resolved at call time against the
// registry rather than the compile-time label table (§4.F).
func (e *exec) doFfiCall(instr compile.Instr) error {
	module, proc, ok := strings.Cut(instr.Target.Name, "::")
	if !ok {
		return newMachineError(KindFfiProcedureNotDefined, e.pc, instr.Span, "malformed ffi target %q", instr.Target.Name)
	}
	sig, ok := e.vm.ffi.Lookup(module, proc)
	if !ok {
		return newMachineError(KindFfiProcedureNotDefined, e.pc, instr.Span, "ffi procedure %s::%s is not registered", module, proc)
	}
	args := make([]types.Value, len(sig.Args))
	for i := len(args) - 1; i >= 0; i-- {
		v, err := e.pop(instr)
		if err != nil {
			return err
		}
		args[i] = v
	}
	result, err := e.vm.ffi.Call(e.ctx, module, proc, args, e.cmdCtx)
	if err != nil {
		return newMachineError(KindFfiProcedureNotDefined, e.pc, instr.Span, "ffi call %s::%s: %v", module, proc, err)
	}
	if sig.Color == compile.ColorPure {
		e.push(result)
	}
	return nil
}

// encodeSerialized/decodeSerialized back `serialize`/`deserialize`.
// Ordering within a FieldMap and Enum identity both need to round-trip,
// so this is a small self-describing tagged encoding, not CBOR/JSON (no
// struct/fact schema is available to a generic (de)serializer here).
func encodeSerialized(v types.Value) []byte {
	return marshalValue(v)
}

func decodeSerialized(b []byte) (types.Value, error) {
	v, _, err := unmarshalValue(b)
	return v, err
}
