// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package lang

import (
	"fmt"

	"github.com/samber/oops"
)

// ErrorKind tags the category of a parse error (§4.A).
type ErrorKind string

const (
	KindSyntax             ErrorKind = "Syntax"
	KindInvalidNumber       ErrorKind = "InvalidNumber"
	KindInvalidString       ErrorKind = "InvalidString"
	KindInvalidType         ErrorKind = "InvalidType"
	KindReservedIdentifier  ErrorKind = "ReservedIdentifier"
	KindExpression          ErrorKind = "Expression"
	KindInvalidMember       ErrorKind = "InvalidMember"
	KindInvalidFunctionCall ErrorKind = "InvalidFunctionCall"
	KindInvalidStatement    ErrorKind = "InvalidStatement"
	KindUnknown             ErrorKind = "Unknown"
)

// newParseError builds an oops-coded error carrying the parse error kind
// and offending span, matching the ambient error-handling contract (§7).
func newParseError(kind ErrorKind, span Span, format string, args ...any) error {
	return oops.
		Code(string(kind)).
		With("span_start", span.Start).
		With("span_end", span.End).
		Errorf("%s", fmt.Sprintf(format, args...))
}
