// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package machine

import (
	"github.com/samber/oops"

	"github.com/aranya-project/aranya/internal/policy/compile"
	"github.com/aranya-project/aranya/internal/policy/lang"
)

// ErrorKind names one of the machine error kinds from §6.
type ErrorKind string

const (
	KindInvalidType          ErrorKind = "InvalidType"
	KindInvalidStructMember  ErrorKind = "InvalidStructMember"
	KindBadState             ErrorKind = "BadState"
	KindStackUnderflow       ErrorKind = "StackUnderflow"
	KindIntOverflow          ErrorKind = "IntOverflow"
	KindDivideByZero         ErrorKind = "DivideByZero"
	KindFactAlreadyExists    ErrorKind = "FactAlreadyExists"
	KindFactNotFound         ErrorKind = "FactNotFound"
	KindImmutableFactWrite   ErrorKind = "ImmutableFactWrite"
	KindFfiProcedureNotDefined ErrorKind = "FfiProcedureNotDefined"
	KindCheckFailed          ErrorKind = "CheckFailed"
	KindPanic                ErrorKind = "Panic"
)

// newMachineError wraps a failure with its kind, the instruction's source
// span, and the program counter at which it occurred — the "error kind +
// source span via the AST locator attached to the instruction" §4.E
// requires for host-surfaced rejections.
func newMachineError(kind ErrorKind, pc int, span lang.Span, format string, args ...any) error {
	return oops.
		Code(string(kind)).
		With("pc", pc).
		With("span_start", span.Start).
		With("span_end", span.End).
		Errorf(format, args...)
}

// panicReasonKind maps a compiled instruction's PanicReason to the machine
// error kind the VM reports for it.
func panicReasonKind(r compile.PanicReason) ErrorKind {
	if r == compile.ReasonCheckFailed {
		return KindCheckFailed
	}
	return KindPanic
}

// oopsFfiNotFound reports a call to an unregistered module, independent of
// any particular instruction (FFI linking happens at call time, not at
// compile-time, so there is no pc/span available at registry construction).
func oopsFfiNotFound(module, proc string) error {
	return oops.Code(string(KindFfiProcedureNotDefined)).
		With("module", module).
		With("proc", proc).
		Errorf("ffi module %q is not registered", module)
}
