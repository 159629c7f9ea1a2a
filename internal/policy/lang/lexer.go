// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package lang

import (
	"strconv"
	"strings"

	plexer "github.com/alecthomas/participle/v2/lexer"
)

// rawToken is one token surfaced by the participle Simple lexer, filtered
// of whitespace and comments, with a byte-offset span computed from the
// lexer's reported position and token length.
type rawToken struct {
	Kind tokKind
	Text string
	Span Span
}

// tokenize runs the participle lexer over src and returns the significant
// token stream (whitespace and comments dropped), each carrying a byte
// span relative to the start of src.
func tokenize(src string) ([]rawToken, error) {
	lx, err := policyLexer.Lex("policy", strings.NewReader(src))
	if err != nil {
		return nil, newParseError(KindSyntax, Span{}, "lexer init: %v", err)
	}
	names := invertSymbols(policyLexer.Symbols())
	var out []rawToken
	for {
		tok, err := lx.Next()
		if err != nil {
			return nil, newParseError(KindSyntax, Span{}, "lex error: %v", err)
		}
		if tok.EOF() {
			out = append(out, rawToken{Kind: tokEOF, Span: Span{Start: tok.Pos.Offset, End: tok.Pos.Offset}})
			return out, nil
		}
		kind := tokKind(names[tok.Type])
		if kind == tokWhitespace || kind == tokLineCmt || kind == tokBlockCmt {
			continue
		}
		start := tok.Pos.Offset
		out = append(out, rawToken{Kind: kind, Text: tok.Value, Span: Span{Start: start, End: start + len(tok.Value)}})
	}
}

// invertSymbols is required because participle's lexer.Token.Type is an
// integer id; Definition.Symbols() returns the name->id map we invert
// once here to recover the rule name for each token.
func invertSymbols(m map[string]plexer.TokenType) map[plexer.TokenType]string {
	out := make(map[plexer.TokenType]string, len(m))
	for name, id := range m {
		out[id] = name
	}
	return out
}

// decodeString decodes a double-quoted string literal's raw source text
// (including the surrounding quotes) applying the `\\`, `\n`, `\xNN`
// escapes; any other escape sequence is InvalidString.
func decodeString(raw string, span Span) (string, error) {
	if len(raw) < 2 || raw[0] != '"' || raw[len(raw)-1] != '"' {
		return "", newParseError(KindInvalidString, span, "malformed string literal")
	}
	body := raw[1 : len(raw)-1]
	var sb strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' {
			sb.WriteByte(c)
			continue
		}
		i++
		if i >= len(body) {
			return "", newParseError(KindInvalidString, span, "dangling escape at end of string")
		}
		switch body[i] {
		case '\\':
			sb.WriteByte('\\')
		case 'n':
			sb.WriteByte('\n')
		case 'x':
			if i+2 >= len(body) {
				return "", newParseError(KindInvalidString, span, "truncated \\xNN escape")
			}
			hex := body[i+1 : i+3]
			b, err := strconv.ParseUint(hex, 16, 8)
			if err != nil {
				return "", newParseError(KindInvalidString, span, "invalid \\x escape %q", hex)
			}
			sb.WriteByte(byte(b))
			i += 2
		default:
			return "", newParseError(KindInvalidString, span, "unknown escape \\%c", body[i])
		}
	}
	return sb.String(), nil
}

// maxUint63Plus1 is the magnitude of math.MinInt64, the one value whose
// unsigned digit sequence legitimately exceeds math.MaxInt64 but is still
// representable once folded under a preceding unary minus.
const maxUint63Plus1 = uint64(1) << 63

// parseUnsignedDigits parses a positive-only integer literal's digit
// sequence, returning its magnitude as a uint64 and reporting whether the
// sequence is even representable as a magnitude (i.e. fits in 64 bits).
func parseUnsignedDigits(digits string, span Span) (uint64, error) {
	v, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, newParseError(KindInvalidNumber, span, "integer literal %q overflows 64 bits", digits)
	}
	return v, nil
}

// foldIntLiteral folds an (optional leading minus, digit magnitude) pair
// into a signed i64, per §4.A's "unary - on an integer literal folds at
// parse time" rule. Overflow (magnitude too large, or positive magnitude
// equal to math.MinInt64's magnitude) is a parse error.
func foldIntLiteral(negative bool, magnitude uint64, span Span) (int64, error) {
	if negative {
		if magnitude > maxUint63Plus1 {
			return 0, newParseError(KindInvalidNumber, span, "integer literal magnitude %d overflows i64", magnitude)
		}
		if magnitude == maxUint63Plus1 {
			return -1 << 63, nil
		}
		return -int64(magnitude), nil
	}
	if magnitude >= maxUint63Plus1 {
		return 0, newParseError(KindInvalidNumber, span, "integer literal %d overflows i64", magnitude)
	}
	return int64(magnitude), nil
}
