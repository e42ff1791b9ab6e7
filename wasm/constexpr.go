package wasm

import (
	"fmt"
)

// EvalConstExpr evaluates a constant expression such as a global initializer
// or a segment offset. global.get is resolved through lookup, which may be nil
// when the expression is known not to reference globals.
func EvalConstExpr(expr []byte, lookup func(globalIdx uint32) (Value, bool)) (Value, error) {
	var stack []Value
	pop := func() (Value, error) {
		if len(stack) == 0 {
			return Value{}, fmt.Errorf("constant expression: stack underflow")
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v, nil
	}

	for pos := 0; pos < len(expr); {
		instr, err := ReadInstruction(expr, pos)
		if err != nil {
			return Value{}, err
		}
		pos += instr.Len

		switch instr.Opcode {
		case OpI32Const, OpI64Const, OpF32Const, OpF64Const:
			stack = append(stack, instr.Imm.(ConstImm).Value)
		case OpRefNull:
			t := ValFuncRef
			if instr.Imm.(RefNullImm).HeapType == HeapTypeExtern {
				t = ValExtern
			}
			stack = append(stack, NullRef(t))
		case OpRefFunc:
			stack = append(stack, FuncRef(instr.Imm.(IndexImm).Idx))
		case OpGlobalGet:
			idx := instr.Imm.(IndexImm).Idx
			if lookup == nil {
				return Value{}, fmt.Errorf("constant expression: global %d is not available", idx)
			}
			v, ok := lookup(idx)
			if !ok {
				return Value{}, fmt.Errorf("constant expression: global %d is not available", idx)
			}
			stack = append(stack, v)
		case OpI32Add, OpI32Sub, OpI32Mul, OpI64Add, OpI64Sub, OpI64Mul:
			b, err := pop()
			if err != nil {
				return Value{}, err
			}
			a, err := pop()
			if err != nil {
				return Value{}, err
			}
			stack = append(stack, arith(instr.Opcode, a, b))
		case OpEnd:
			if len(stack) != 1 {
				return Value{}, fmt.Errorf("constant expression: %d values left on stack", len(stack))
			}
			return stack[0], nil
		default:
			return Value{}, fmt.Errorf("constant expression: opcode 0x%02x is not constant", instr.Opcode)
		}
	}
	return Value{}, fmt.Errorf("constant expression: missing end")
}

func arith(op byte, a, b Value) Value {
	switch op {
	case OpI32Add:
		return I32(a.I32() + b.I32())
	case OpI32Sub:
		return I32(a.I32() - b.I32())
	case OpI32Mul:
		return I32(a.I32() * b.I32())
	case OpI64Add:
		return I64(a.I64() + b.I64())
	case OpI64Sub:
		return I64(a.I64() - b.I64())
	default:
		return I64(a.I64() * b.I64())
	}
}

// InitValue evaluates the global's initializer. Initializers that read
// imported globals cannot be evaluated statically and return an error.
func (g *Global) InitValue() (Value, error) {
	return EvalConstExpr(g.Init, nil)
}

// OffsetValue evaluates an active segment's offset expression to an i32.
func OffsetValue(expr []byte) (uint32, bool) {
	v, err := EvalConstExpr(expr, nil)
	if err != nil || v.Type != ValI32 {
		return 0, false
	}
	return v.U32(), true
}
