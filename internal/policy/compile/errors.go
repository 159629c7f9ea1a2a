// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package compile

import (
	"github.com/samber/oops"

	"github.com/aranya-project/aranya/internal/policy/lang"
)

// ErrorKind names one of the compile-error kinds from §4.C.
type ErrorKind string

const (
	KindInvalidElement ErrorKind = "InvalidElement"
	KindBadTarget      ErrorKind = "BadTarget"
	KindBadArgument    ErrorKind = "BadArgument"
	KindNotDefined     ErrorKind = "NotDefined"
	KindAlreadyDefined ErrorKind = "AlreadyDefined"
	KindNoReturn       ErrorKind = "NoReturn"
	KindUnknown        ErrorKind = "Unknown"

	// KindInvalidType is not in §4.C's canonical compile-error list, but
	// §8's testable properties require match-arm literal enforcement to
	// surface it by name ("Compiling a match whose arm expression is not
	// Int|String|Bool|EnumReference yields InvalidType"), so it is carried
	// here under the same code lang.KindInvalidType already uses.
	KindInvalidType ErrorKind = "InvalidType"
)

func newCompileError(kind ErrorKind, span lang.Span, format string, args ...any) error {
	return oops.
		Code(string(kind)).
		With("span_start", span.Start).
		With("span_end", span.End).
		Errorf(format, args...)
}
