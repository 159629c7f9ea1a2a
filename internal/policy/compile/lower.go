// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package compile

import (
	"github.com/aranya-project/aranya/internal/policy/lang"
	"github.com/aranya-project/aranya/internal/policy/types"
)

// lowerCtx threads the color-discipline state (§4.C signature table,
// §8 "color discipline" testable property) through statement/expression
// lowering without a full static scope table — named locals are resolved
// dynamically by the machine's Def/Get opcodes.
type lowerCtx struct {
	pure     bool // inside a pure function body: no fact writes, no publish
	inFinish bool // inside a finish block/finish function: finish calls legal
}

func (c *compiler) compileFunction(fn *lang.FunctionDef) error {
	if err := c.defineLabel(fn.Name, LabelTemporary); err != nil {
		return err
	}
	ctx := lowerCtx{pure: true}
	for _, s := range fn.Body {
		if err := c.lowerStmt(ctx, s); err != nil {
			return err
		}
	}
	if !terminatesAllPaths(fn.Body) {
		return newCompileError(KindNoReturn, fn.Span, "function %q does not return on every path", fn.Name)
	}
	return nil
}

func (c *compiler) compileFinishFunction(ff *lang.FinishFunctionDef) error {
	if err := c.defineLabel(ff.Name, LabelTemporary); err != nil {
		return err
	}
	ctx := lowerCtx{inFinish: true}
	for _, s := range ff.Body {
		if err := c.lowerStmt(ctx, s); err != nil {
			return err
		}
	}
	c.emit(Instr{Op: OpReturn, Span: ff.Span})
	return nil
}

func (c *compiler) compileAction(a *lang.ActionDef) error {
	if _, dup := c.actions[a.Name]; dup {
		return newCompileError(KindAlreadyDefined, a.Span, "action %q already defined", a.Name)
	}
	if err := c.defineLabel(a.Name, LabelAction); err != nil {
		return err
	}
	ctx := lowerCtx{}
	for _, s := range a.Body {
		if err := c.lowerStmt(ctx, s); err != nil {
			return err
		}
	}
	c.emit(Instr{Op: OpExit, Span: a.Span})
	c.actions[a.Name] = ActionMeta{Name: a.Name, Args: a.Args}
	return nil
}

func (c *compiler) compileCommand(cmd *lang.CommandDef) error {
	meta := CommandMeta{Name: cmd.Name, Fields: cmd.Fields}
	if cmd.Origin != nil {
		meta.Origin = cmd.Origin.Fields
	}

	if len(cmd.Attributes) > 0 {
		lbl := cmd.Name + "#attributes"
		if err := c.defineLabel(lbl, LabelTemporary); err != nil {
			return err
		}
		c.emit(Instr{Op: OpConst, Value: types.StringValue(cmd.Name + "Attributes"), Span: cmd.Span})
		c.emit(Instr{Op: OpStructNew, Span: cmd.Span})
		for _, attr := range cmd.Attributes {
			if err := c.lowerExpr(lowerCtx{}, attr.Expr); err != nil {
				return err
			}
			c.emit(Instr{Op: OpConst, Value: types.StringValue(attr.Name), Span: cmd.Span})
			c.emit(Instr{Op: OpStructSet, Span: cmd.Span})
		}
		c.emit(Instr{Op: OpReturn, Span: cmd.Span})
		meta.AttributesLbl = lbl
	}

	phase := func(name string, body []lang.Stmt) (string, error) {
		if len(body) == 0 {
			return "", nil
		}
		lbl := cmd.Name + "#" + name
		if err := c.defineLabel(lbl, LabelCommand); err != nil {
			return "", err
		}
		ctx := lowerCtx{inFinish: false}
		for _, s := range body {
			if err := c.lowerStmt(ctx, s); err != nil {
				return "", err
			}
		}
		c.emit(Instr{Op: OpExit, Span: cmd.Span})
		return lbl, nil
	}

	var err error
	if meta.PolicyLbl, err = phase("policy", cmd.Policy); err != nil {
		return err
	}
	if meta.RecallLbl, err = phase("recall", cmd.Recall); err != nil {
		return err
	}
	if meta.SealLbl, err = phase("seal", cmd.Seal); err != nil {
		return err
	}
	if meta.OpenLbl, err = phase("open", cmd.Open); err != nil {
		return err
	}

	if _, dup := c.commands[cmd.Name]; dup {
		return newCompileError(KindAlreadyDefined, cmd.Span, "command %q already defined", cmd.Name)
	}
	c.commands[cmd.Name] = meta
	return nil
}

// --- statements ---

func (c *compiler) lowerStmt(ctx lowerCtx, stmt lang.Stmt) error {
	switch s := stmt.(type) {
	case *lang.LetStmt:
		if err := c.lowerExpr(ctx, s.Expr); err != nil {
			return err
		}
		c.emit(Instr{Op: OpConst, Value: types.StringValue(s.Name), Span: s.Span})
		c.emit(Instr{Op: OpDef, Span: s.Span})
		return nil

	case *lang.CheckStmt:
		return c.lowerCheck(ctx, s.Expr, s.Span, ReasonCheckFailed)

	case *lang.DebugAssertStmt:
		if !c.opts.DebugMode {
			return nil
		}
		return c.lowerCheck(ctx, s.Expr, s.Span, ReasonCheckFailed)

	case *lang.PublishStmt:
		if ctx.pure {
			return newCompileError(KindInvalidElement, s.Span, "publish is not allowed in a pure function")
		}
		if err := c.lowerExpr(ctx, s.Expr); err != nil {
			return err
		}
		c.emit(Instr{Op: OpPublish, Span: s.Span})
		return nil

	case *lang.ReturnStmt:
		if !ctx.pure {
			return newCompileError(KindInvalidElement, s.Span, "return is only valid inside a pure function")
		}
		if err := c.lowerExpr(ctx, s.Expr); err != nil {
			return err
		}
		c.emit(Instr{Op: OpReturn, Span: s.Span})
		return nil

	case *lang.EmitStmt:
		if err := c.lowerExpr(ctx, s.Expr); err != nil {
			return err
		}
		c.emit(Instr{Op: OpEmit, Span: s.Span})
		return nil

	case *lang.FinishBlockStmt:
		if ctx.pure {
			return newCompileError(KindInvalidElement, s.Span, "finish block is not allowed in a pure function")
		}
		inner := lowerCtx{inFinish: true}
		for _, st := range s.Body {
			if err := c.lowerStmt(inner, st); err != nil {
				return err
			}
		}
		return nil

	case *lang.IfStmt:
		return c.lowerIfChain(ctx, s.Cond, s.Then, s.ElseIfs, s.Else, s.Span)

	case *lang.WhenStmt:
		return c.lowerIfChain(ctx, s.Cond, s.Body, nil, nil, s.Span)

	case *lang.MatchStmt:
		return c.lowerMatch(ctx, s)

	case *lang.MapStmt:
		return c.lowerMap(ctx, s)

	case *lang.CreateStmt:
		if ctx.pure {
			return newCompileError(KindInvalidElement, s.Span, "create is not allowed in a pure function")
		}
		if err := c.buildFactLiteral(ctx, s.Fact, false); err != nil {
			return err
		}
		c.emit(Instr{Op: OpCreate, Span: s.Span})
		return nil

	case *lang.UpdateStmt:
		if ctx.pure {
			return newCompileError(KindInvalidElement, s.Span, "update is not allowed in a pure function")
		}
		if fd, ok := c.facts[s.Fact.Name]; ok && fd.Immutable {
			return newCompileError(KindBadArgument, s.Span, "fact %q is immutable", s.Fact.Name)
		}
		if err := c.buildFactLiteral(ctx, s.Fact, true); err != nil {
			return err
		}
		c.emit(Instr{Op: OpDup, N: 0, Span: s.Span})
		for _, to := range s.To {
			if _, isBind := to.Expr.(*lang.BindExpr); isBind {
				return newCompileError(KindBadArgument, s.Span, "? is not allowed in update's to clause")
			}
			if err := c.lowerExpr(ctx, to.Expr); err != nil {
				return err
			}
			c.emit(Instr{Op: OpConst, Value: types.StringValue(to.Name), Span: s.Span})
			c.emit(Instr{Op: OpFactValueSet, Span: s.Span})
		}
		c.emit(Instr{Op: OpUpdate, Span: s.Span})
		return nil

	case *lang.DeleteStmt:
		if ctx.pure {
			return newCompileError(KindInvalidElement, s.Span, "delete is not allowed in a pure function")
		}
		if fd, ok := c.facts[s.Fact.Name]; ok && fd.Immutable {
			return newCompileError(KindBadArgument, s.Span, "fact %q is immutable", s.Fact.Name)
		}
		if err := c.buildFactLiteral(ctx, s.Fact, false); err != nil {
			return err
		}
		c.emit(Instr{Op: OpDelete, Span: s.Span})
		return nil

	case *lang.ExprStmt:
		call, ok := s.Expr.(*lang.CallExpr)
		if !ok {
			return newCompileError(KindInvalidElement, s.Span, "a bare expression statement must be a function call")
		}
		return c.lowerCall(ctx, call, s.Span, true)

	default:
		return newCompileError(KindUnknown, stmtSpan(stmt), "unhandled statement type %T", stmt)
	}
}

// stmtSpan and exprSpan extract a node's source span by concrete type.
// Stmt/Expr deliberately expose no exported Span accessor across package
// boundaries (their span() method is unexported to lang), so callers
// outside lang recover it by type switch instead.
func stmtSpan(stmt lang.Stmt) lang.Span {
	switch s := stmt.(type) {
	case *lang.LetStmt:
		return s.Span
	case *lang.CheckStmt:
		return s.Span
	case *lang.DebugAssertStmt:
		return s.Span
	case *lang.PublishStmt:
		return s.Span
	case *lang.ReturnStmt:
		return s.Span
	case *lang.EmitStmt:
		return s.Span
	case *lang.FinishBlockStmt:
		return s.Span
	case *lang.IfStmt:
		return s.Span
	case *lang.WhenStmt:
		return s.Span
	case *lang.MatchStmt:
		return s.Span
	case *lang.MapStmt:
		return s.Span
	case *lang.CreateStmt:
		return s.Span
	case *lang.UpdateStmt:
		return s.Span
	case *lang.DeleteStmt:
		return s.Span
	case *lang.ExprStmt:
		return s.Span
	default:
		return lang.Span{}
	}
}

func exprSpan(expr lang.Expr) lang.Span {
	switch e := expr.(type) {
	case *lang.IntLit:
		return e.Span
	case *lang.StringLit:
		return e.Span
	case *lang.BoolLit:
		return e.Span
	case *lang.NoneLit:
		return e.Span
	case *lang.Ident:
		return e.Span
	case *lang.EnumRef:
		return e.Span
	case *lang.StructLit:
		return e.Span
	case *lang.FactLit:
		return e.Span
	case *lang.BindExpr:
		return e.Span
	case *lang.QueryExpr:
		return e.Span
	case *lang.ExistsExpr:
		return e.Span
	case *lang.SomeExpr:
		return e.Span
	case *lang.SerializeExpr:
		return e.Span
	case *lang.DeserializeExpr:
		return e.Span
	case *lang.CallExpr:
		return e.Span
	case *lang.FieldAccessExpr:
		return e.Span
	case *lang.UnaryExpr:
		return e.Span
	case *lang.BinaryExpr:
		return e.Span
	case *lang.IsSomeExpr:
		return e.Span
	case *lang.IsNoneExpr:
		return e.Span
	default:
		return lang.Span{}
	}
}

func (c *compiler) lowerCheck(ctx lowerCtx, cond lang.Expr, span lang.Span, reason PanicReason) error {
	if err := c.lowerExpr(ctx, cond); err != nil {
		return err
	}
	ok := c.newTemp("check_ok")
	c.emit(Instr{Op: OpBranch, Target: Unresolved(ok), Span: span})
	c.emit(Instr{Op: OpPanic, N: int(reason), Span: span})
	return c.defineLabel(ok, LabelTemporary)
}

// lowerIfChain lowers `if c then t [else if ...]* [else e]`. Program order
// places the else-path first, then the then-path, with a Branch over the
// else-path taken when the condition holds (§4.C's if/else lowering rule,
// restructured with clearer label names).
func (c *compiler) lowerIfChain(ctx lowerCtx, cond lang.Expr, then []lang.Stmt, elseIfs []lang.ElseIfClause, elseBody []lang.Stmt, span lang.Span) error {
	if err := c.lowerExpr(ctx, cond); err != nil {
		return err
	}
	thenLbl := c.newTemp("then")
	endLbl := c.newTemp("endif")
	c.emit(Instr{Op: OpBranch, Target: Unresolved(thenLbl), Span: span})

	if len(elseIfs) > 0 {
		if err := c.lowerIfChain(ctx, elseIfs[0].Cond, elseIfs[0].Body, elseIfs[1:], elseBody, span); err != nil {
			return err
		}
	} else {
		for _, s := range elseBody {
			if err := c.lowerStmt(ctx, s); err != nil {
				return err
			}
		}
	}
	c.emit(Instr{Op: OpJump, Target: Unresolved(endLbl), Span: span})

	if err := c.defineLabel(thenLbl, LabelTemporary); err != nil {
		return err
	}
	for _, s := range then {
		if err := c.lowerStmt(ctx, s); err != nil {
			return err
		}
	}
	return c.defineLabel(endLbl, LabelTemporary)
}

// matchPatternValid reports whether e is one of the literal pattern forms
// §4.B restricts match arms to: Int, String, Bool, or an EnumReference.
func matchPatternValid(e lang.Expr) bool {
	switch e.(type) {
	case *lang.IntLit, *lang.StringLit, *lang.BoolLit, *lang.EnumRef:
		return true
	default:
		return false
	}
}

func (c *compiler) lowerMatch(ctx lowerCtx, m *lang.MatchStmt) error {
	subject := c.newTemp("match_subject")
	if err := c.lowerExpr(ctx, m.Expr); err != nil {
		return err
	}
	c.emit(Instr{Op: OpConst, Value: types.StringValue(subject), Span: m.Span})
	c.emit(Instr{Op: OpDef, Span: m.Span})

	endLbl := c.newTemp("match_end")

	type arm struct {
		label string
		body  []lang.Stmt
	}
	var arms []arm
	var defaultBody []lang.Stmt
	haveDefault := false

	for _, a := range m.Arms {
		if a.Pattern == nil {
			defaultBody = a.Body
			haveDefault = true
			continue
		}
		if !matchPatternValid(a.Pattern) {
			return newCompileError(KindInvalidType, exprSpan(a.Pattern),
				"match arm pattern must be an Int, String, Bool, or enum reference literal")
		}
		lbl := c.newTemp("arm")
		c.emit(Instr{Op: OpConst, Value: types.StringValue(subject), Span: m.Span})
		c.emit(Instr{Op: OpGet, Span: m.Span})
		if err := c.lowerExpr(ctx, a.Pattern); err != nil {
			return err
		}
		c.emit(Instr{Op: OpEq, Span: m.Span})
		c.emit(Instr{Op: OpBranch, Target: Unresolved(lbl), Span: m.Span})
		arms = append(arms, arm{label: lbl, body: a.Body})
	}

	if haveDefault {
		for _, s := range defaultBody {
			if err := c.lowerStmt(ctx, s); err != nil {
				return err
			}
		}
	}
	c.emit(Instr{Op: OpJump, Target: Unresolved(endLbl), Span: m.Span})

	for _, a := range arms {
		if err := c.defineLabel(a.label, LabelTemporary); err != nil {
			return err
		}
		for _, s := range a.body {
			if err := c.lowerStmt(ctx, s); err != nil {
				return err
			}
		}
		c.emit(Instr{Op: OpJump, Target: Unresolved(endLbl), Span: m.Span})
	}

	return c.defineLabel(endLbl, LabelTemporary)
}

// lowerMap lowers the supplemented `map` statement (SPEC_FULL.md §C.2) to
// the QueryStart/QueryNext/QueryEnd opcode trio: QueryNext binds the next
// matching fact's fields under the implicit `this` local and pushes
// whether a match was found.
func (c *compiler) lowerMap(ctx lowerCtx, m *lang.MapStmt) error {
	if ctx.pure {
		return newCompileError(KindInvalidElement, m.Span, "map is not allowed in a pure function")
	}
	if err := c.buildFactLiteral(ctx, m.Fact, true); err != nil {
		return err
	}
	c.emit(Instr{Op: OpQueryStart, Span: m.Span})

	top := c.newTemp("map_top")
	body := c.newTemp("map_body")
	done := c.newTemp("map_done")

	if err := c.defineLabel(top, LabelTemporary); err != nil {
		return err
	}
	c.emit(Instr{Op: OpQueryNext, Value: types.StringValue(m.BindName), Span: m.Span})
	c.emit(Instr{Op: OpBranch, Target: Unresolved(body), Span: m.Span})
	c.emit(Instr{Op: OpJump, Target: Unresolved(done), Span: m.Span})

	if err := c.defineLabel(body, LabelTemporary); err != nil {
		return err
	}
	inner := lowerCtx{inFinish: true}
	for _, s := range m.Body {
		if err := c.lowerStmt(inner, s); err != nil {
			return err
		}
	}
	c.emit(Instr{Op: OpJump, Target: Unresolved(top), Span: m.Span})

	if err := c.defineLabel(done, LabelTemporary); err != nil {
		return err
	}
	c.emit(Instr{Op: OpQueryEnd, Span: m.Span})
	return nil
}

// buildFactLiteral emits a fact value onto the stack. allowBindKey permits
// the `?` wildcard in key position (query/exists/map/update-selector);
// create and delete always forbid it. Bind is never permitted in value
// position.
func (c *compiler) buildFactLiteral(ctx lowerCtx, fact *lang.FactLit, allowBindKey bool) error {
	if _, ok := c.facts[fact.Name]; !ok {
		return newCompileError(KindNotDefined, fact.Span, "fact %q is not defined", fact.Name)
	}
	c.emit(Instr{Op: OpConst, Value: types.StringValue(fact.Name), Span: fact.Span})
	c.emit(Instr{Op: OpFactNew, Span: fact.Span})

	for _, k := range fact.Keys {
		if _, isBind := k.Expr.(*lang.BindExpr); isBind {
			if !allowBindKey {
				return newCompileError(KindBadArgument, fact.Span, "? is not allowed in this fact literal's key")
			}
			c.emit(Instr{Op: OpConst, Value: types.Bind, Span: fact.Span})
		} else if err := c.lowerExpr(ctx, k.Expr); err != nil {
			return err
		}
		c.emit(Instr{Op: OpConst, Value: types.StringValue(k.Name), Span: fact.Span})
		c.emit(Instr{Op: OpFactKeySet, Span: fact.Span})
	}

	for _, v := range fact.Values {
		if _, isBind := v.Expr.(*lang.BindExpr); isBind {
			return newCompileError(KindBadArgument, fact.Span, "? is not allowed in a fact literal's value fields")
		}
		if err := c.lowerExpr(ctx, v.Expr); err != nil {
			return err
		}
		c.emit(Instr{Op: OpConst, Value: types.StringValue(v.Name), Span: fact.Span})
		c.emit(Instr{Op: OpFactValueSet, Span: fact.Span})
	}
	return nil
}

// --- expressions ---

func (c *compiler) lowerExpr(ctx lowerCtx, expr lang.Expr) error {
	switch e := expr.(type) {
	case *lang.IntLit:
		c.emit(Instr{Op: OpConst, Value: types.Int64(e.Value), Span: e.Span})
	case *lang.StringLit:
		c.emit(Instr{Op: OpConst, Value: types.StringValue(e.Value), Span: e.Span})
	case *lang.BoolLit:
		c.emit(Instr{Op: OpConst, Value: types.BoolValue(e.Value), Span: e.Span})
	case *lang.NoneLit:
		c.emit(Instr{Op: OpConst, Value: types.None, Span: e.Span})
	case *lang.Ident:
		c.emit(Instr{Op: OpConst, Value: types.StringValue(e.Name), Span: e.Span})
		c.emit(Instr{Op: OpGet, Span: e.Span})
	case *lang.EnumRef:
		if ed, ok := c.enums[e.Type]; ok {
			if !containsString(ed.Variants, e.Variant) {
				return newCompileError(KindNotDefined, e.Span, "enum %q has no variant %q", e.Type, e.Variant)
			}
		} else {
			return newCompileError(KindNotDefined, e.Span, "enum %q is not defined", e.Type)
		}
		c.emit(Instr{Op: OpConst, Value: types.Value{Kind: types.KindEnum, Enum: &types.EnumValue{Type: e.Type, Variant: e.Variant}}, Span: e.Span})
	case *lang.StructLit:
		if _, ok := c.structs[e.Type]; !ok {
			return newCompileError(KindNotDefined, e.Span, "struct %q is not defined", e.Type)
		}
		c.emit(Instr{Op: OpConst, Value: types.StringValue(e.Type), Span: e.Span})
		c.emit(Instr{Op: OpStructNew, Span: e.Span})
		for _, f := range e.Fields {
			if err := c.lowerExpr(ctx, f.Expr); err != nil {
				return err
			}
			c.emit(Instr{Op: OpConst, Value: types.StringValue(f.Name), Span: e.Span})
			c.emit(Instr{Op: OpStructSet, Span: e.Span})
		}
	case *lang.BindExpr:
		return newCompileError(KindInvalidElement, e.Span, "? may only appear in a fact literal's key fields")
	case *lang.QueryExpr:
		if err := c.buildFactLiteral(ctx, e.Fact, true); err != nil {
			return err
		}
		c.emit(Instr{Op: OpQuery, Span: e.Span})
	case *lang.ExistsExpr:
		if err := c.buildFactLiteral(ctx, e.Fact, true); err != nil {
			return err
		}
		c.emit(Instr{Op: OpExists, Span: e.Span})
	case *lang.SomeExpr:
		if err := c.lowerExpr(ctx, e.Expr); err != nil {
			return err
		}
		c.emit(Instr{Op: OpSomeWrap, Span: e.Span})
	case *lang.SerializeExpr:
		if err := c.lowerExpr(ctx, e.Expr); err != nil {
			return err
		}
		c.emit(Instr{Op: OpSerialize, Span: e.Span})
	case *lang.DeserializeExpr:
		if err := c.lowerExpr(ctx, e.Expr); err != nil {
			return err
		}
		c.emit(Instr{Op: OpDeserialize, Span: e.Span})
	case *lang.CallExpr:
		return c.lowerCall(ctx, e, e.Span, false)
	case *lang.FieldAccessExpr:
		if err := c.lowerExpr(ctx, e.Recv); err != nil {
			return err
		}
		c.emit(Instr{Op: OpConst, Value: types.StringValue(e.Field), Span: e.Span})
		c.emit(Instr{Op: OpStructGet, Span: e.Span})
	case *lang.UnaryExpr:
		return c.lowerUnary(ctx, e)
	case *lang.BinaryExpr:
		return c.lowerBinary(ctx, e)
	case *lang.IsSomeExpr:
		if err := c.lowerExpr(ctx, e.Expr); err != nil {
			return err
		}
		c.emit(Instr{Op: OpConst, Value: types.None, Span: e.Span})
		c.emit(Instr{Op: OpEq, Span: e.Span})
		c.emit(Instr{Op: OpNot, Span: e.Span})
	case *lang.IsNoneExpr:
		if err := c.lowerExpr(ctx, e.Expr); err != nil {
			return err
		}
		c.emit(Instr{Op: OpConst, Value: types.None, Span: e.Span})
		c.emit(Instr{Op: OpEq, Span: e.Span})
	default:
		return newCompileError(KindUnknown, exprSpan(expr), "unhandled expression type %T", expr)
	}
	return nil
}

func (c *compiler) lowerUnary(ctx lowerCtx, e *lang.UnaryExpr) error {
	switch e.Op {
	case "-":
		c.emit(Instr{Op: OpConst, Value: types.Int64(0), Span: e.Span})
		if err := c.lowerExpr(ctx, e.Expr); err != nil {
			return err
		}
		c.emit(Instr{Op: OpSub, Span: e.Span})
		return nil
	case "!":
		if err := c.lowerExpr(ctx, e.Expr); err != nil {
			return err
		}
		c.emit(Instr{Op: OpNot, Span: e.Span})
		return nil
	case "unwrap", "check_unwrap":
		if err := c.lowerExpr(ctx, e.Expr); err != nil {
			return err
		}
		reason := ReasonPanic
		if e.Op == "check_unwrap" {
			reason = ReasonCheckFailed
		}
		c.emit(Instr{Op: OpDup, N: 0, Span: e.Span})
		c.emit(Instr{Op: OpConst, Value: types.None, Span: e.Span})
		c.emit(Instr{Op: OpEq, Span: e.Span})
		c.emit(Instr{Op: OpNot, Span: e.Span})
		ok := c.newTemp(e.Op + "_ok")
		c.emit(Instr{Op: OpBranch, Target: Unresolved(ok), Span: e.Span})
		c.emit(Instr{Op: OpPanic, N: int(reason), Span: e.Span})
		if err := c.defineLabel(ok, LabelTemporary); err != nil {
			return err
		}
		c.emit(Instr{Op: OpUnwrap, Span: e.Span})
		return nil
	default:
		return newCompileError(KindUnknown, e.Span, "unknown unary operator %q", e.Op)
	}
}

// lowerBinary lowers `a >= b`/`a <= b` via a duplicate-and-swap sequence
// computing (a==b)||(a>b) (resp. (a==b)||(a<b)) without re-evaluating
// either side — derivation recorded in DESIGN.md.
func (c *compiler) lowerBinary(ctx lowerCtx, e *lang.BinaryExpr) error {
	if e.Op == ">=" || e.Op == "<=" {
		if err := c.lowerExpr(ctx, e.Left); err != nil {
			return err
		}
		if err := c.lowerExpr(ctx, e.Right); err != nil {
			return err
		}
		// Stack (top-down) after compile(a);compile(b): [b, a].
		c.emit(Instr{Op: OpDup, N: 1, Span: e.Span}) // dup a:        [a, b, a]
		c.emit(Instr{Op: OpDup, N: 1, Span: e.Span}) // dup b:        [b, a, b, a]
		c.emit(Instr{Op: OpEq, Span: e.Span})        // pop b,a->eq:  [eq, b, a]
		c.emit(Instr{Op: OpSwap, N: 2, Span: e.Span}) // swap eq,a:   [a, b, eq]
		c.emit(Instr{Op: OpSwap, N: 1, Span: e.Span}) // swap a,b:    [b, a, eq]
		if e.Op == ">=" {
			c.emit(Instr{Op: OpGt, Span: e.Span})
		} else {
			c.emit(Instr{Op: OpLt, Span: e.Span})
		}
		c.emit(Instr{Op: OpOr, Span: e.Span})
		return nil
	}

	if err := c.lowerExpr(ctx, e.Left); err != nil {
		return err
	}
	if err := c.lowerExpr(ctx, e.Right); err != nil {
		return err
	}
	switch e.Op {
	case "&&":
		c.emit(Instr{Op: OpAnd, Span: e.Span})
	case "||":
		c.emit(Instr{Op: OpOr, Span: e.Span})
	case "==":
		c.emit(Instr{Op: OpEq, Span: e.Span})
	case "!=":
		c.emit(Instr{Op: OpEq, Span: e.Span})
		c.emit(Instr{Op: OpNot, Span: e.Span})
	case "<":
		c.emit(Instr{Op: OpLt, Span: e.Span})
	case ">":
		c.emit(Instr{Op: OpGt, Span: e.Span})
	case "+":
		c.emit(Instr{Op: OpAdd, Span: e.Span})
	case "-":
		c.emit(Instr{Op: OpSub, Span: e.Span})
	default:
		return newCompileError(KindUnknown, e.Span, "unknown binary operator %q", e.Op)
	}
	return nil
}

// lowerCall lowers a same-policy or FFI call. asStatement selects the
// color required of a same-policy target: a bare-statement call must be a
// finish function (nothing would consume a pushed return value otherwise);
// an expression-position call must be pure (§4.C/§8 color discipline).
func (c *compiler) lowerCall(ctx lowerCtx, call *lang.CallExpr, span lang.Span, asStatement bool) error {
	for _, a := range call.Args {
		if err := c.lowerExpr(ctx, a); err != nil {
			return err
		}
	}

	if call.Module != "" {
		c.emit(Instr{Op: OpFfiCall, Target: Target{Name: call.Module + "::" + call.Name}, Span: span})
		return nil
	}

	sig, ok := c.signatures[call.Name]
	if !ok {
		return newCompileError(KindNotDefined, span, "function %q is not defined", call.Name)
	}
	if len(call.Args) != len(sig.Args) {
		return newCompileError(KindBadArgument, span, "%q expects %d argument(s), got %d", call.Name, len(sig.Args), len(call.Args))
	}
	if asStatement {
		if sig.Color != ColorFinish {
			return newCompileError(KindInvalidElement, span, "%q is a pure function and cannot be called as a statement", call.Name)
		}
	} else {
		if sig.Color != ColorPure {
			return newCompileError(KindInvalidElement, span, "%q is a finish function and cannot be called in an expression", call.Name)
		}
	}
	if sig.Color == ColorFinish && !ctx.inFinish {
		return newCompileError(KindInvalidElement, span, "finish function %q may only be called inside a finish block", call.Name)
	}
	c.emit(Instr{Op: OpCall, Target: Unresolved(call.Name), Span: span})
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// terminatesAllPaths reports whether every control-flow path through stmts
// ends in a return (§4.C's NoReturn / §8's pure-function-totality check).
func terminatesAllPaths(stmts []lang.Stmt) bool {
	if len(stmts) == 0 {
		return false
	}
	last := stmts[len(stmts)-1]
	switch s := last.(type) {
	case *lang.ReturnStmt:
		return true
	case *lang.IfStmt:
		if s.Else == nil {
			return false
		}
		if !terminatesAllPaths(s.Then) || !terminatesAllPaths(s.Else) {
			return false
		}
		for _, ei := range s.ElseIfs {
			if !terminatesAllPaths(ei.Body) {
				return false
			}
		}
		return true
	case *lang.MatchStmt:
		haveDefault := false
		for _, a := range s.Arms {
			if !terminatesAllPaths(a.Body) {
				return false
			}
			if a.Pattern == nil {
				haveDefault = true
			}
		}
		return haveDefault
	default:
		return false
	}
}
