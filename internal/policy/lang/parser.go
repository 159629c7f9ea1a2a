// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package lang

import (
	"github.com/aranya-project/aranya/internal/policy/types"
)

// Parser is a hand-written Pratt/recursive-descent parser consuming the
// token stream produced by the participle-based lexer (lexer.go). Using
// participle only for tokenization, rather than its struct-tag parser
// generator, gives the parser direct control over byte spans, reserved-
// word rejection, and the integer-literal folding/overflow contract that
// §4.A demands.
type Parser struct {
	toks []rawToken
	pos  int
}

// NewParser tokenizes src and returns a Parser ready to produce a Program.
func NewParser(src string) (*Parser, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	return &Parser{toks: toks}, nil
}

// Parse runs a fresh parse of src and returns its Program.
func Parse(src string) (*Program, error) {
	p, err := NewParser(src)
	if err != nil {
		return nil, err
	}
	return p.parseProgram()
}

func (p *Parser) cur() rawToken  { return p.toks[p.pos] }
func (p *Parser) kind() tokKind  { return p.toks[p.pos].Kind }
func (p *Parser) span() Span     { return p.toks[p.pos].Span }
func (p *Parser) advance() rawToken {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) at(k tokKind) bool { return p.kind() == k }

func (p *Parser) atKeyword(word string) bool {
	return p.kind() == tokIdent && p.cur().Text == word
}

func (p *Parser) expect(k tokKind) (rawToken, error) {
	if !p.at(k) {
		return rawToken{}, newParseError(KindSyntax, p.span(), "expected %s, found %s %q", k, p.kind(), p.cur().Text)
	}
	return p.advance(), nil
}

func (p *Parser) expectKeyword(word string) error {
	if !p.atKeyword(word) {
		return newParseError(KindSyntax, p.span(), "expected keyword %q, found %q", word, p.cur().Text)
	}
	p.advance()
	return nil
}

// identifier consumes an Ident token that is not one of the 51 reserved
// words, per §4.A.
func (p *Parser) identifier() (string, Span, error) {
	tok, err := p.expect(tokIdent)
	if err != nil {
		return "", Span{}, err
	}
	if IsReservedWord(tok.Text) {
		return "", Span{}, newParseError(KindReservedIdentifier, tok.Span, "reserved identifier %q", tok.Text)
	}
	return tok.Text, tok.Span, nil
}

func (p *Parser) parseVType() (types.VType, error) {
	tok, err := p.expect(tokIdent)
	if err != nil {
		return types.VType{}, err
	}
	switch tok.Text {
	case "string":
		return types.VType{Kind: types.KindString}, nil
	case "bytes":
		return types.VType{Kind: types.KindBytes}, nil
	case "int":
		return types.VType{Kind: types.KindInt}, nil
	case "bool":
		return types.VType{Kind: types.KindBool}, nil
	case "id":
		return types.VType{Kind: types.KindID}, nil
	case "struct":
		name, _, err := p.identifier()
		if err != nil {
			return types.VType{}, err
		}
		return types.VType{Kind: types.KindStruct, Name: name}, nil
	case "enum":
		name, _, err := p.identifier()
		if err != nil {
			return types.VType{}, err
		}
		return types.VType{Kind: types.KindEnum, Name: name}, nil
	case "optional":
		inner, err := p.parseVType()
		if err != nil {
			return types.VType{}, err
		}
		if inner.Kind == types.KindOptional {
			return types.VType{}, newParseError(KindInvalidType, tok.Span, "nested optional types are not allowed")
		}
		return types.VType{Kind: types.KindOptional, Elem: &inner}, nil
	default:
		return types.VType{}, newParseError(KindInvalidType, tok.Span, "unknown type %q", tok.Text)
	}
}

// parseFieldDef parses `name Type` and, when allowDynamic is set, an
// optional trailing `dynamic` marker (effect fields only).
func (p *Parser) parseFieldDef(allowDynamic bool) (FieldDef, error) {
	start := p.span()
	name, _, err := p.identifier()
	if err != nil {
		return FieldDef{}, err
	}
	vt, err := p.parseVType()
	if err != nil {
		return FieldDef{}, err
	}
	fd := FieldDef{Node: Node{Span: Span{Start: start.Start, End: p.toks[p.pos-1].Span.End}}, Name: name, Type: vt}
	if allowDynamic && p.atKeyword("dynamic") {
		p.advance()
		fd.Dynamic = true
	}
	return fd, nil
}

// parseFieldDefList parses a comma-separated field-definition list up to
// (but not consuming) the closing token kind.
func (p *Parser) parseFieldDefList(closer tokKind, allowDynamic bool) ([]FieldDef, error) {
	var out []FieldDef
	for !p.at(closer) {
		fd, err := p.parseFieldDef(allowDynamic)
		if err != nil {
			return nil, err
		}
		out = append(out, fd)
		if p.at(tokComma) {
			p.advance()
			continue
		}
		break
	}
	return out, nil
}

func (p *Parser) parseProgram() (*Program, error) {
	prog := &Program{}
	for !p.at(tokEOF) {
		switch {
		case p.atKeyword("use"):
			u, err := p.parseUse()
			if err != nil {
				return nil, err
			}
			prog.Uses = append(prog.Uses, u)
		case p.atKeyword("immutable"), p.atKeyword("fact"):
			f, err := p.parseFact()
			if err != nil {
				return nil, err
			}
			prog.Facts = append(prog.Facts, f)
		case p.atKeyword("struct"):
			s, err := p.parseStruct()
			if err != nil {
				return nil, err
			}
			prog.Structs = append(prog.Structs, s)
		case p.atKeyword("enum"):
			e, err := p.parseEnum()
			if err != nil {
				return nil, err
			}
			prog.Enums = append(prog.Enums, e)
		case p.atKeyword("effect"):
			e, err := p.parseEffect()
			if err != nil {
				return nil, err
			}
			prog.Effects = append(prog.Effects, e)
		case p.atKeyword("action"):
			a, err := p.parseAction()
			if err != nil {
				return nil, err
			}
			prog.Actions = append(prog.Actions, a)
		case p.atKeyword("command"):
			c, err := p.parseCommand()
			if err != nil {
				return nil, err
			}
			prog.Commands = append(prog.Commands, c)
		case p.atKeyword("finish"):
			f, err := p.parseFinishFunction()
			if err != nil {
				return nil, err
			}
			prog.FinishFunctions = append(prog.FinishFunctions, f)
		case p.atKeyword("function"):
			f, err := p.parseFunction()
			if err != nil {
				return nil, err
			}
			prog.Functions = append(prog.Functions, f)
		case p.atKeyword("let"):
			l, err := p.parseGlobalLet()
			if err != nil {
				return nil, err
			}
			prog.Globals = append(prog.Globals, l)
		default:
			return nil, newParseError(KindSyntax, p.span(), "unexpected top-level token %q", p.cur().Text)
		}
	}
	return prog, nil
}

func (p *Parser) parseUse() (*UseImport, error) {
	start := p.span()
	p.advance() // 'use'
	name, _, err := p.identifier()
	if err != nil {
		return nil, err
	}
	return &UseImport{Node: Node{Span: Span{start.Start, p.toks[p.pos-1].Span.End}}, Module: name}, nil
}

func (p *Parser) parseFact() (*FactDef, error) {
	start := p.span()
	immutable := false
	if p.atKeyword("immutable") {
		p.advance()
		immutable = true
	}
	if err := p.expectKeyword("fact"); err != nil {
		return nil, err
	}
	name, _, err := p.identifier()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokLBracket); err != nil {
		return nil, err
	}
	key, err := p.parseFieldDefList(tokRBracket, false)
	if err != nil {
		return nil, err
	}
	if err := checkUniqueFields(key); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRBracket); err != nil {
		return nil, err
	}
	var value []FieldDef
	if p.at(tokArrow) {
		p.advance()
		if _, err := p.expect(tokLBrace); err != nil {
			return nil, err
		}
		value, err = p.parseFieldDefList(tokRBrace, false)
		if err != nil {
			return nil, err
		}
		if err := checkUniqueFields(value); err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRBrace); err != nil {
			return nil, err
		}
	}
	return &FactDef{
		Node:      Node{Span: Span{start.Start, p.toks[p.pos-1].Span.End}},
		Name:      name,
		Immutable: immutable,
		Key:       key,
		Value:     value,
	}, nil
}

func checkUniqueFields(fields []FieldDef) error {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if seen[f.Name] {
			return newParseError(KindInvalidType, f.Span, "duplicate field name %q", f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}

func (p *Parser) parseStruct() (*StructDef, error) {
	start := p.span()
	p.advance() // 'struct'
	name, _, err := p.identifier()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokLBrace); err != nil {
		return nil, err
	}
	fields, err := p.parseFieldDefList(tokRBrace, false)
	if err != nil {
		return nil, err
	}
	if err := checkUniqueFields(fields); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRBrace); err != nil {
		return nil, err
	}
	return &StructDef{Node: Node{Span: Span{start.Start, p.toks[p.pos-1].Span.End}}, Name: name, Fields: fields}, nil
}

func (p *Parser) parseEnum() (*EnumDef, error) {
	start := p.span()
	p.advance() // 'enum'
	name, _, err := p.identifier()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokLBrace); err != nil {
		return nil, err
	}
	var variants []string
	seen := map[string]bool{}
	for !p.at(tokRBrace) {
		v, sp, err := p.identifier()
		if err != nil {
			return nil, err
		}
		if seen[v] {
			return nil, newParseError(KindInvalidType, sp, "duplicate enum variant %q", v)
		}
		seen[v] = true
		variants = append(variants, v)
		if p.at(tokComma) {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(tokRBrace); err != nil {
		return nil, err
	}
	return &EnumDef{Node: Node{Span: Span{start.Start, p.toks[p.pos-1].Span.End}}, Name: name, Variants: variants}, nil
}

func (p *Parser) parseEffect() (*EffectDef, error) {
	start := p.span()
	p.advance() // 'effect'
	name, _, err := p.identifier()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokLBrace); err != nil {
		return nil, err
	}
	fields, err := p.parseFieldDefList(tokRBrace, true)
	if err != nil {
		return nil, err
	}
	if err := checkUniqueFields(fields); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRBrace); err != nil {
		return nil, err
	}
	return &EffectDef{Node: Node{Span: Span{start.Start, p.toks[p.pos-1].Span.End}}, Name: name, Fields: fields}, nil
}

func (p *Parser) parseArgList() ([]FieldDef, error) {
	if _, err := p.expect(tokLParen); err != nil {
		return nil, err
	}
	args, err := p.parseFieldDefList(tokRParen, false)
	if err != nil {
		return nil, err
	}
	if err := checkUniqueFields(args); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRParen); err != nil {
		return nil, err
	}
	return args, nil
}

func (p *Parser) parseAction() (*ActionDef, error) {
	start := p.span()
	p.advance() // 'action'
	name, _, err := p.identifier()
	if err != nil {
		return nil, err
	}
	args, err := p.parseArgList()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBracedBlock()
	if err != nil {
		return nil, err
	}
	return &ActionDef{Node: Node{Span: Span{start.Start, p.toks[p.pos-1].Span.End}}, Name: name, Args: args, Body: body}, nil
}

func (p *Parser) parseFunction() (*FunctionDef, error) {
	start := p.span()
	p.advance() // 'function'
	name, _, err := p.identifier()
	if err != nil {
		return nil, err
	}
	args, err := p.parseArgList()
	if err != nil {
		return nil, err
	}
	ret, err := p.parseVType()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBracedBlock()
	if err != nil {
		return nil, err
	}
	return &FunctionDef{Node: Node{Span: Span{start.Start, p.toks[p.pos-1].Span.End}}, Name: name, Args: args, Returns: ret, Body: body}, nil
}

func (p *Parser) parseFinishFunction() (*FinishFunctionDef, error) {
	start := p.span()
	p.advance() // 'finish'
	if err := p.expectKeyword("function"); err != nil {
		return nil, err
	}
	name, _, err := p.identifier()
	if err != nil {
		return nil, err
	}
	args, err := p.parseArgList()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBracedBlock()
	if err != nil {
		return nil, err
	}
	return &FinishFunctionDef{Node: Node{Span: Span{start.Start, p.toks[p.pos-1].Span.End}}, Name: name, Args: args, Body: body}, nil
}

func (p *Parser) parseGlobalLet() (*LetStmt, error) {
	stmt, err := p.parseLetStmt()
	return stmt, err
}

// parseCommand parses `command Name { attributes{...} fields{...}
// origin{...} policy{...} recall{...} seal{...} open{...} }`; sub-blocks
// may appear in any order and are all optional.
func (p *Parser) parseCommand() (*CommandDef, error) {
	start := p.span()
	p.advance() // 'command'
	name, _, err := p.identifier()
	if err != nil {
		return nil, err
	}
	cmd := &CommandDef{Name: name}
	if _, err := p.expect(tokLBrace); err != nil {
		return nil, err
	}
	for !p.at(tokRBrace) {
		switch {
		case p.atKeyword("attributes"):
			p.advance()
			if _, err := p.expect(tokLBrace); err != nil {
				return nil, err
			}
			attrs, err := p.parseFieldAssignList(tokRBrace)
			if err != nil {
				return nil, err
			}
			cmd.Attributes = attrs
			if _, err := p.expect(tokRBrace); err != nil {
				return nil, err
			}
		case p.atKeyword("fields"):
			p.advance()
			if _, err := p.expect(tokLBrace); err != nil {
				return nil, err
			}
			fields, err := p.parseFieldDefList(tokRBrace, false)
			if err != nil {
				return nil, err
			}
			if err := checkUniqueFields(fields); err != nil {
				return nil, err
			}
			cmd.Fields = fields
			if _, err := p.expect(tokRBrace); err != nil {
				return nil, err
			}
		case p.atKeyword("origin"):
			originStart := p.span()
			p.advance()
			if _, err := p.expect(tokLBrace); err != nil {
				return nil, err
			}
			fields, err := p.parseFieldDefList(tokRBrace, false)
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokRBrace); err != nil {
				return nil, err
			}
			cmd.Origin = &OriginBlock{Node: Node{Span: Span{originStart.Start, p.toks[p.pos-1].Span.End}}, Fields: fields}
		case p.atKeyword("policy"):
			p.advance()
			stmts, err := p.parseBracedBlock()
			if err != nil {
				return nil, err
			}
			cmd.Policy = stmts
		case p.atKeyword("recall"):
			p.advance()
			stmts, err := p.parseBracedBlock()
			if err != nil {
				return nil, err
			}
			cmd.Recall = stmts
		case p.atKeyword("seal"):
			p.advance()
			stmts, err := p.parseBracedBlock()
			if err != nil {
				return nil, err
			}
			cmd.Seal = stmts
		case p.atKeyword("open"):
			p.advance()
			stmts, err := p.parseBracedBlock()
			if err != nil {
				return nil, err
			}
			cmd.Open = stmts
		default:
			return nil, newParseError(KindInvalidStatement, p.span(), "unexpected token %q in command body", p.cur().Text)
		}
	}
	if _, err := p.expect(tokRBrace); err != nil {
		return nil, err
	}
	cmd.Span = Span{start.Start, p.toks[p.pos-1].Span.End}
	return cmd, nil
}

func (p *Parser) parseFieldAssignList(closer tokKind) ([]FieldAssign, error) {
	var out []FieldAssign
	for !p.at(closer) {
		name, _, err := p.identifier()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokColon); err != nil {
			return nil, err
		}
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		out = append(out, FieldAssign{Name: name, Expr: expr})
		if p.at(tokComma) {
			p.advance()
			continue
		}
		break
	}
	return out, nil
}

// parseBracedBlock parses `{ stmt* }`, consuming both braces.
func (p *Parser) parseBracedBlock() ([]Stmt, error) {
	if _, err := p.expect(tokLBrace); err != nil {
		return nil, err
	}
	var out []Stmt
	for !p.at(tokRBrace) {
		s, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if _, err := p.expect(tokRBrace); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Parser) parseStmt() (Stmt, error) {
	switch {
	case p.atKeyword("let"):
		return p.parseLetStmt()
	case p.atKeyword("check"):
		return p.parseCheckStmt()
	case p.atKeyword("debug_assert"):
		return p.parseDebugAssertStmt()
	case p.atKeyword("publish"):
		return p.parsePublishStmt()
	case p.atKeyword("return"):
		return p.parseReturnStmt()
	case p.atKeyword("emit"):
		return p.parseEmitStmt()
	case p.atKeyword("finish"):
		return p.parseFinishBlockStmt()
	case p.atKeyword("if"):
		return p.parseIfStmt()
	case p.atKeyword("when"):
		return p.parseWhenStmt()
	case p.atKeyword("match"):
		return p.parseMatchStmt()
	case p.atKeyword("map"):
		return p.parseMapStmt()
	case p.atKeyword("create"):
		return p.parseCreateStmt()
	case p.atKeyword("update"):
		return p.parseUpdateStmt()
	case p.atKeyword("delete"):
		return p.parseDeleteStmt()
	default:
		start := p.span()
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return &ExprStmt{Node: Node{Span: Span{start.Start, p.toks[p.pos-1].Span.End}}, Expr: expr}, nil
	}
}

func (p *Parser) parseLetStmt() (*LetStmt, error) {
	start := p.span()
	p.advance() // 'let'
	name, _, err := p.identifier()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokAssign); err != nil {
		return nil, err
	}
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &LetStmt{Node: Node{Span: Span{start.Start, p.toks[p.pos-1].Span.End}}, Name: name, Expr: expr}, nil
}

func (p *Parser) parseCheckStmt() (*CheckStmt, error) {
	start := p.span()
	p.advance()
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &CheckStmt{Node: Node{Span: Span{start.Start, p.toks[p.pos-1].Span.End}}, Expr: expr}, nil
}

func (p *Parser) parseDebugAssertStmt() (*DebugAssertStmt, error) {
	start := p.span()
	p.advance()
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &DebugAssertStmt{Node: Node{Span: Span{start.Start, p.toks[p.pos-1].Span.End}}, Expr: expr}, nil
}

func (p *Parser) parsePublishStmt() (*PublishStmt, error) {
	start := p.span()
	p.advance()
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &PublishStmt{Node: Node{Span: Span{start.Start, p.toks[p.pos-1].Span.End}}, Expr: expr}, nil
}

func (p *Parser) parseReturnStmt() (*ReturnStmt, error) {
	start := p.span()
	p.advance()
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &ReturnStmt{Node: Node{Span: Span{start.Start, p.toks[p.pos-1].Span.End}}, Expr: expr}, nil
}

func (p *Parser) parseEmitStmt() (*EmitStmt, error) {
	start := p.span()
	p.advance()
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &EmitStmt{Node: Node{Span: Span{start.Start, p.toks[p.pos-1].Span.End}}, Expr: expr}, nil
}

// parseFinishBlockStmt parses `finish { ... }`; the inner statement list
// is restricted to fact writes, finish-function calls, and emits by the
// compiler, not the parser (§4.C compiles finish bodies specially).
func (p *Parser) parseFinishBlockStmt() (*FinishBlockStmt, error) {
	start := p.span()
	p.advance() // 'finish'
	body, err := p.parseBracedBlock()
	if err != nil {
		return nil, err
	}
	return &FinishBlockStmt{Node: Node{Span: Span{start.Start, p.toks[p.pos-1].Span.End}}, Body: body}, nil
}

func (p *Parser) parseIfStmt() (*IfStmt, error) {
	start := p.span()
	p.advance() // 'if'
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("then"); err != nil {
		return nil, err
	}
	then, err := p.parseBracedBlock()
	if err != nil {
		return nil, err
	}
	stmt := &IfStmt{Cond: cond, Then: then}
	for p.atKeyword("else") {
		p.advance()
		if p.atKeyword("if") {
			p.advance()
			elCond, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectKeyword("then"); err != nil {
				return nil, err
			}
			elBody, err := p.parseBracedBlock()
			if err != nil {
				return nil, err
			}
			stmt.ElseIfs = append(stmt.ElseIfs, ElseIfClause{Cond: elCond, Body: elBody})
			continue
		}
		elseBody, err := p.parseBracedBlock()
		if err != nil {
			return nil, err
		}
		stmt.Else = elseBody
		break
	}
	stmt.Span = Span{start.Start, p.toks[p.pos-1].Span.End}
	return stmt, nil
}

// parseWhenStmt parses `when cond { body }`, sugar for an if with no else
// (see DESIGN.md's Open Question resolution for this reserved keyword).
func (p *Parser) parseWhenStmt() (*WhenStmt, error) {
	start := p.span()
	p.advance() // 'when'
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBracedBlock()
	if err != nil {
		return nil, err
	}
	return &WhenStmt{Node: Node{Span: Span{start.Start, p.toks[p.pos-1].Span.End}}, Cond: cond, Body: body}, nil
}

func (p *Parser) parseMatchStmt() (*MatchStmt, error) {
	start := p.span()
	p.advance() // 'match'
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokLBrace); err != nil {
		return nil, err
	}
	var arms []MatchArm
	for !p.at(tokRBrace) {
		var arm MatchArm
		if p.kind() == tokIdent && p.cur().Text == "_" {
			p.advance()
		} else {
			pat, err := p.parseMatchPattern()
			if err != nil {
				return nil, err
			}
			arm.Pattern = pat
		}
		if _, err := p.expect(tokArrow); err != nil {
			return nil, err
		}
		body, err := p.parseBracedBlock()
		if err != nil {
			return nil, err
		}
		arm.Body = body
		arms = append(arms, arm)
	}
	if _, err := p.expect(tokRBrace); err != nil {
		return nil, err
	}
	return &MatchStmt{Node: Node{Span: Span{start.Start, p.toks[p.pos-1].Span.End}}, Expr: expr, Arms: arms}, nil
}

// parseMatchPattern parses one literal match pattern: Int, String, Bool,
// or an EnumReference.
func (p *Parser) parseMatchPattern() (Expr, error) {
	return p.parsePrimary()
}

// parseMapStmt parses `map F[key: expr|?, ...] { body }` (supplemented
// feature). Inside body, the matched fact's fields are reached through
// the implicit `this` binding (e.g. `this.field`), consuming the
// reserved `this` keyword the same way a method receiver would.
func (p *Parser) parseMapStmt() (*MapStmt, error) {
	start := p.span()
	p.advance() // 'map'
	fact, err := p.parseFactLiteral()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBracedBlock()
	if err != nil {
		return nil, err
	}
	return &MapStmt{
		Node:     Node{Span: Span{start.Start, p.toks[p.pos-1].Span.End}},
		Fact:     fact,
		BindName: "this",
		Body:     body,
	}, nil
}

func (p *Parser) parseCreateStmt() (*CreateStmt, error) {
	start := p.span()
	p.advance() // 'create'
	fact, err := p.parseFactLiteral()
	if err != nil {
		return nil, err
	}
	return &CreateStmt{Node: Node{Span: Span{start.Start, p.toks[p.pos-1].Span.End}}, Fact: fact}, nil
}

func (p *Parser) parseUpdateStmt() (*UpdateStmt, error) {
	start := p.span()
	p.advance() // 'update'
	fact, err := p.parseFactLiteral()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("to"); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokLBrace); err != nil {
		return nil, err
	}
	to, err := p.parseFieldAssignList(tokRBrace)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRBrace); err != nil {
		return nil, err
	}
	return &UpdateStmt{Node: Node{Span: Span{start.Start, p.toks[p.pos-1].Span.End}}, Fact: fact, To: to}, nil
}

func (p *Parser) parseDeleteStmt() (*DeleteStmt, error) {
	start := p.span()
	p.advance() // 'delete'
	fact, err := p.parseFactLiteral()
	if err != nil {
		return nil, err
	}
	return &DeleteStmt{Node: Node{Span: Span{start.Start, p.toks[p.pos-1].Span.End}}, Fact: fact}, nil
}

// parseFactLiteral parses `Name[key: expr|?, ...] [=> {value: expr, ...}]`.
func (p *Parser) parseFactLiteral() (*FactLit, error) {
	start := p.span()
	name, _, err := p.identifier()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokLBracket); err != nil {
		return nil, err
	}
	var keys []FieldAssign
	for !p.at(tokRBracket) {
		fname, _, err := p.identifier()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokColon); err != nil {
			return nil, err
		}
		var expr Expr
		if p.at(tokQuestion) {
			qSpan := p.span()
			p.advance()
			expr = &BindExpr{Node{Span: qSpan}}
		} else {
			expr, err = p.parseExpr()
			if err != nil {
				return nil, err
			}
		}
		keys = append(keys, FieldAssign{Name: fname, Expr: expr})
		if p.at(tokComma) {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(tokRBracket); err != nil {
		return nil, err
	}
	var values []FieldAssign
	if p.at(tokArrow) {
		p.advance()
		if _, err := p.expect(tokLBrace); err != nil {
			return nil, err
		}
		values, err = p.parseFieldAssignList(tokRBrace)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRBrace); err != nil {
			return nil, err
		}
	}
	return &FactLit{
		Node:   Node{Span: Span{start.Start, p.toks[p.pos-1].Span.End}},
		Name:   name,
		Keys:   keys,
		Values: values,
	}, nil
}

// --- Expression precedence climbing (§4.A) ---

func (p *Parser) parseExpr() (Expr, error) { return p.parseLevel1() }

func (p *Parser) parseLevel1() (Expr, error) {
	left, err := p.parseLevel2()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch {
		case p.at(tokOpAnd):
			op = "&&"
		case p.at(tokOpOr):
			op = "||"
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseLevel2()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Node: Node{Span: Span{left.span().Start, right.span().End}}, Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseLevel2() (Expr, error) {
	left, err := p.parseLevel3()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch {
		case p.at(tokOpEq):
			op = "=="
		case p.at(tokOpNe):
			op = "!="
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseLevel3()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Node: Node{Span: Span{left.span().Start, right.span().End}}, Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseLevel3() (Expr, error) {
	left, err := p.parseLevel4()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.at(tokOpGe), p.at(tokOpLe), p.at(tokOpGt), p.at(tokOpLt):
			op := map[tokKind]string{tokOpGe: ">=", tokOpLe: "<=", tokOpGt: ">", tokOpLt: "<"}[p.kind()]
			p.advance()
			right, err := p.parseLevel4()
			if err != nil {
				return nil, err
			}
			left = &BinaryExpr{Node: Node{Span: Span{left.span().Start, right.span().End}}, Op: op, Left: left, Right: right}
		case p.atKeyword("is"):
			p.advance()
			if p.atKeyword("Some") {
				end := p.span()
				p.advance()
				left = &IsSomeExpr{Node: Node{Span: Span{left.span().Start, end.End}}, Expr: left}
			} else if p.atKeyword("None") {
				end := p.span()
				p.advance()
				left = &IsNoneExpr{Node: Node{Span: Span{left.span().Start, end.End}}, Expr: left}
			} else {
				return nil, newParseError(KindExpression, p.span(), "expected Some or None after 'is'")
			}
		default:
			return left, nil
		}
	}
}

func (p *Parser) parseLevel4() (Expr, error) {
	left, err := p.parseLevel5()
	if err != nil {
		return nil, err
	}
	for p.at(tokPlus) || p.at(tokMinus) {
		op := "+"
		if p.at(tokMinus) {
			op = "-"
		}
		p.advance()
		right, err := p.parseLevel5()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Node: Node{Span: Span{left.span().Start, right.span().End}}, Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseLevel5() (Expr, error) {
	switch {
	case p.at(tokMinus):
		start := p.span()
		p.advance()
		// §4.A: unary minus on an integer literal folds at parse time,
		// so the (sign, digits) pair must be combined before the raw
		// digit magnitude is range-checked — this is the one place a
		// magnitude of 2^63 (math.MinInt64) is representable.
		if p.at(tokInt) {
			tok := p.advance()
			mag, err := parseUnsignedDigits(tok.Text, tok.Span)
			if err != nil {
				return nil, err
			}
			val, err := foldIntLiteral(true, mag, Span{start.Start, tok.Span.End})
			if err != nil {
				return nil, err
			}
			return &IntLit{Node: Node{Span: Span{start.Start, tok.Span.End}}, Value: val}, nil
		}
		operand, err := p.parseLevel5()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Node: Node{Span: Span{start.Start, operand.span().End}}, Op: "-", Expr: operand}, nil
	case p.at(tokBang):
		start := p.span()
		p.advance()
		operand, err := p.parseLevel5()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Node: Node{Span: Span{start.Start, operand.span().End}}, Op: "!", Expr: operand}, nil
	case p.atKeyword("unwrap"):
		start := p.span()
		p.advance()
		operand, err := p.parseLevel5()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Node: Node{Span: Span{start.Start, operand.span().End}}, Op: "unwrap", Expr: operand}, nil
	case p.atKeyword("check_unwrap"):
		start := p.span()
		p.advance()
		operand, err := p.parseLevel5()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Node: Node{Span: Span{start.Start, operand.span().End}}, Op: "check_unwrap", Expr: operand}, nil
	default:
		return p.parseLevel6()
	}
}

func (p *Parser) parseLevel6() (Expr, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.at(tokDot) {
		p.advance()
		field, sp, err := p.identifier()
		if err != nil {
			return nil, err
		}
		left = &FieldAccessExpr{Node: Node{Span: Span{left.span().Start, sp.End}}, Recv: left, Field: field}
	}
	return left, nil
}

func (p *Parser) parseExprList(closer tokKind) ([]Expr, error) {
	var out []Expr
	for !p.at(closer) {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		if p.at(tokComma) {
			p.advance()
			continue
		}
		break
	}
	return out, nil
}

func (p *Parser) parsePrimary() (Expr, error) {
	start := p.span()
	switch {
	case p.at(tokInt):
		tok := p.advance()
		mag, err := parseUnsignedDigits(tok.Text, tok.Span)
		if err != nil {
			return nil, err
		}
		val, err := foldIntLiteral(false, mag, tok.Span)
		if err != nil {
			return nil, err
		}
		return &IntLit{Node: Node{Span: tok.Span}, Value: val}, nil
	case p.at(tokString):
		tok := p.advance()
		s, err := decodeString(tok.Text, tok.Span)
		if err != nil {
			return nil, err
		}
		return &StringLit{Node: Node{Span: tok.Span}, Value: s}, nil
	case p.at(tokLParen):
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		end, err := p.expect(tokRParen)
		if err != nil {
			return nil, err
		}
		return withSpan(e, Span{start.Start, end.Span.End}), nil
	case p.atKeyword("true"):
		p.advance()
		return &BoolLit{Node: Node{Span: start}, Value: true}, nil
	case p.atKeyword("false"):
		p.advance()
		return &BoolLit{Node: Node{Span: start}, Value: false}, nil
	case p.atKeyword("None"):
		p.advance()
		return &NoneLit{Node{Span: start}}, nil
	case p.atKeyword("Some"):
		p.advance()
		if _, err := p.expect(tokLParen); err != nil {
			return nil, err
		}
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		end, err := p.expect(tokRParen)
		if err != nil {
			return nil, err
		}
		return &SomeExpr{Node: Node{Span: Span{start.Start, end.Span.End}}, Expr: inner}, nil
	case p.atKeyword("serialize"):
		p.advance()
		if _, err := p.expect(tokLParen); err != nil {
			return nil, err
		}
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		end, err := p.expect(tokRParen)
		if err != nil {
			return nil, err
		}
		return &SerializeExpr{Node: Node{Span: Span{start.Start, end.Span.End}}, Expr: inner}, nil
	case p.atKeyword("deserialize"):
		p.advance()
		if _, err := p.expect(tokLParen); err != nil {
			return nil, err
		}
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		end, err := p.expect(tokRParen)
		if err != nil {
			return nil, err
		}
		return &DeserializeExpr{Node: Node{Span: Span{start.Start, end.Span.End}}, Expr: inner}, nil
	case p.atKeyword("query"):
		p.advance()
		fact, err := p.parseFactLiteral()
		if err != nil {
			return nil, err
		}
		return &QueryExpr{Node: Node{Span: Span{start.Start, fact.Span.End}}, Fact: fact}, nil
	case p.atKeyword("exists"):
		p.advance()
		fact, err := p.parseFactLiteral()
		if err != nil {
			return nil, err
		}
		return &ExistsExpr{Node: Node{Span: Span{start.Start, fact.Span.End}}, Fact: fact}, nil
	case p.atKeyword("this"):
		p.advance()
		return &Ident{Node: Node{Span: start}, Name: "this"}, nil
	case p.atKeyword("envelope"):
		p.advance()
		return &Ident{Node: Node{Span: start}, Name: "envelope"}, nil
	case p.kind() == tokIdent:
		return p.parseIdentLed()
	default:
		return nil, newParseError(KindExpression, start, "unexpected token %q in expression", p.cur().Text)
	}
}

// parseIdentLed handles every expression form that begins with a bare
// identifier: a local/global reference, a same-policy function call, an
// `module::func(...)` FFI call, an `Enum::Variant` reference, or a
// `StructName { ... }` literal.
func (p *Parser) parseIdentLed() (Expr, error) {
	start := p.span()
	name, _, err := p.identifier()
	if err != nil {
		return nil, err
	}
	switch {
	case p.at(tokLParen):
		p.advance()
		args, err := p.parseExprList(tokRParen)
		if err != nil {
			return nil, err
		}
		end, err := p.expect(tokRParen)
		if err != nil {
			return nil, err
		}
		return &CallExpr{Node: Node{Span: Span{start.Start, end.Span.End}}, Name: name, Args: args}, nil
	case p.at(tokDColon):
		p.advance()
		second, sp, err := p.identifier()
		if err != nil {
			return nil, err
		}
		if p.at(tokLParen) {
			p.advance()
			args, err := p.parseExprList(tokRParen)
			if err != nil {
				return nil, err
			}
			end, err := p.expect(tokRParen)
			if err != nil {
				return nil, err
			}
			return &CallExpr{Node: Node{Span: Span{start.Start, end.Span.End}}, Module: name, Name: second, Args: args}, nil
		}
		return &EnumRef{Node: Node{Span: Span{start.Start, sp.End}}, Type: name, Variant: second}, nil
	case p.at(tokLBrace):
		p.advance()
		fields, err := p.parseFieldAssignList(tokRBrace)
		if err != nil {
			return nil, err
		}
		end, err := p.expect(tokRBrace)
		if err != nil {
			return nil, err
		}
		return &StructLit{Node: Node{Span: Span{start.Start, end.Span.End}}, Type: name, Fields: fields}, nil
	default:
		return &Ident{Node: Node{Span: start}, Name: name}, nil
	}
}

// withSpan rewrites a parenthesized expression's recorded span to include
// the surrounding parens, without altering its structural content.
func withSpan(e Expr, sp Span) Expr {
	switch v := e.(type) {
	case *IntLit:
		v.Span = sp
		return v
	case *StringLit:
		v.Span = sp
		return v
	case *BoolLit:
		v.Span = sp
		return v
	case *NoneLit:
		v.Span = sp
		return v
	case *Ident:
		v.Span = sp
		return v
	case *EnumRef:
		v.Span = sp
		return v
	case *StructLit:
		v.Span = sp
		return v
	case *CallExpr:
		v.Span = sp
		return v
	case *FieldAccessExpr:
		v.Span = sp
		return v
	case *UnaryExpr:
		v.Span = sp
		return v
	case *BinaryExpr:
		v.Span = sp
		return v
	case *IsSomeExpr:
		v.Span = sp
		return v
	case *IsNoneExpr:
		v.Span = sp
		return v
	case *QueryExpr:
		v.Span = sp
		return v
	case *ExistsExpr:
		v.Span = sp
		return v
	case *SomeExpr:
		v.Span = sp
		return v
	case *SerializeExpr:
		v.Span = sp
		return v
	case *DeserializeExpr:
		v.Span = sp
		return v
	default:
		return e
	}
}
