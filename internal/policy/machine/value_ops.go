// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package machine

import (
	"math"

	"github.com/aranya-project/aranya/internal/policy/compile"
	"github.com/aranya-project/aranya/internal/policy/types"
)

// addInt64/subInt64 detect two's-complement overflow explicitly (§4.D:
// "overflow -> panic", never a silent wraparound).
func addInt64(pc int, instr compile.Instr, a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, newMachineError(KindIntOverflow, pc, instr.Span, "integer overflow in %d + %d", a, b)
	}
	return sum, nil
}

func subInt64(pc int, instr compile.Instr, a, b int64) (int64, error) {
	if b == math.MinInt64 {
		if a >= 0 {
			return 0, newMachineError(KindIntOverflow, pc, instr.Span, "integer overflow in %d - %d", a, b)
		}
		return a - b, nil
	}
	return addInt64(pc, instr, a, -b)
}

// requireInt/requireBool centralize the "wrong kind" InvalidType panic
// every typed opcode (Add, Sub, Gt, Lt, Not, And, Or) can raise (§4.D).
func requireInt(pc int, instr compile.Instr, v types.Value) (int64, error) {
	if v.Kind != types.KindInt {
		return 0, newMachineError(KindInvalidType, pc, instr.Span, "expected int, got %s", v.Kind)
	}
	return v.Int, nil
}

func requireBool(pc int, instr compile.Instr, v types.Value) (bool, error) {
	if v.Kind != types.KindBool {
		return false, newMachineError(KindInvalidType, pc, instr.Span, "expected bool, got %s", v.Kind)
	}
	return v.Bool, nil
}

func requireOptional(pc int, instr compile.Instr, v types.Value) (types.Value, error) {
	if v.Kind != types.KindOptional {
		return types.Value{}, newMachineError(KindInvalidType, pc, instr.Span, "expected optional, got %s", v.Kind)
	}
	return *v.Inner, nil
}

func requireStruct(pc int, instr compile.Instr, v types.Value) (*types.StructValue, error) {
	if v.Kind != types.KindStruct {
		return nil, newMachineError(KindInvalidType, pc, instr.Span, "expected struct, got %s", v.Kind)
	}
	return v.Struct, nil
}

func requireFact(pc int, instr compile.Instr, v types.Value) (*types.FactValue, error) {
	if v.Kind != types.KindFact {
		return nil, newMachineError(KindInvalidType, pc, instr.Span, "expected fact, got %s", v.Kind)
	}
	return v.Fact, nil
}

func requireString(pc int, instr compile.Instr, v types.Value) (string, error) {
	if v.Kind != types.KindString {
		return "", newMachineError(KindInvalidType, pc, instr.Span, "expected string, got %s", v.Kind)
	}
	return v.Str, nil
}
